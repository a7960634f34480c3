package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/codewave-dev/codewave/internal/logging"
)

// Watcher accumulates the workspace-relative paths touched while a command
// runs, so reconciliation can scan only what changed. Any watcher error
// degrades to "everything dirty" and the reconciler falls back to a full
// rescan.
type Watcher struct {
	dir     string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu       sync.Mutex
	dirty    map[string]bool
	degraded bool
}

// NewWatcher starts watching dir and its subdirectories.
func NewWatcher(dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		dir:     dir,
		watcher: fsw,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		dirty:   make(map[string]bool),
	}

	// fsnotify is not recursive: register every existing directory and pick
	// up new ones from create events.
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	log := logging.Component("workspace")

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.record(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Debug().Err(err).Msg("workspace watcher degraded to full rescan")
			w.mu.Lock()
			w.degraded = true
			w.mu.Unlock()
		}
	}
}

func (w *Watcher) record(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.dir, ev.Name)
	if err != nil || rel == "." {
		return
	}

	w.mu.Lock()
	w.dirty[filepath.ToSlash(rel)] = true
	w.mu.Unlock()

	if ev.Op.Has(fsnotify.Create) {
		w.watchCreated(ev.Name)
	}
}

// watchCreated registers watches for a freshly created directory tree.
// fsnotify is not recursive, and files written inside a new directory before
// its watch lands never produce events, so the tree is walked: every
// subdirectory gets a watch and anything already inside is marked dirty.
func (w *Watcher) watchCreated(name string) {
	info, err := os.Lstat(name)
	if err != nil || !info.IsDir() {
		return
	}
	err = filepath.WalkDir(name, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, relErr := filepath.Rel(w.dir, path)
		if relErr == nil && rel != "." {
			w.mu.Lock()
			w.dirty[filepath.ToSlash(rel)] = true
			w.mu.Unlock()
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		w.mu.Lock()
		w.degraded = true
		w.mu.Unlock()
	}
}

// Dirty returns the touched paths since the watcher started, and whether
// the set is trustworthy. ok is false when the watcher degraded and a full
// rescan is required.
func (w *Watcher) Dirty() (paths []string, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.degraded {
		return nil, false
	}
	for p := range w.dirty {
		paths = append(paths, p)
	}
	return paths, true
}

// Stop closes the watcher and waits for its loop to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
	<-w.doneCh
}
