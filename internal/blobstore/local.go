package blobstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Local is a filesystem-backed Store. Writes go to a temp file first and are
// renamed into place so readers never observe partial blobs. The filesystem
// is abstracted behind afero so tests can run on an in-memory fs.
type Local struct {
	fs       afero.Fs
	basePath string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocal creates a Store rooted at basePath on the OS filesystem.
func NewLocal(basePath string) *Local {
	return NewLocalFs(afero.NewOsFs(), basePath)
}

// NewLocalFs creates a Store rooted at basePath on the given filesystem.
func NewLocalFs(fsys afero.Fs, basePath string) *Local {
	return &Local{
		fs:       fsys,
		basePath: basePath,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (l *Local) keyToPath(key string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(key))
}

// Put stores a blob, creating parent directories as needed.
func (l *Local) Put(ctx context.Context, key string, data []byte) error {
	path := l.keyToPath(key)

	if err := l.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock := l.getLock(path)
	lock.Lock()
	defer lock.Unlock()

	// Write to temp file first, then rename (atomic operation)
	tmpPath := path + ".tmp"
	if err := afero.WriteFile(l.fs, tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := l.fs.Rename(tmpPath, path); err != nil {
		l.fs.Remove(tmpPath) // Clean up temp file
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// Get retrieves a blob. Returns ErrNotFound for missing keys.
func (l *Local) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := afero.ReadFile(l.fs, l.keyToPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// List returns every key under the given prefix, in walk order.
func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	root := l.keyToPath(prefix)

	keys := []string{}
	err := afero.Walk(l.fs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, relErr := filepath.Rel(l.basePath, path)
		if relErr != nil {
			return relErr
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list prefix %q: %w", prefix, err)
	}
	return keys, nil
}

// Delete removes a blob. Deleting a missing key is not an error.
func (l *Local) Delete(ctx context.Context, key string) error {
	path := l.keyToPath(key)

	lock := l.getLock(path)
	lock.Lock()
	defer lock.Unlock()

	if err := l.fs.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// Exists checks whether a key is present.
func (l *Local) Exists(ctx context.Context, key string) bool {
	_, err := l.fs.Stat(l.keyToPath(key))
	return err == nil
}

// getLock returns the per-path write lock.
func (l *Local) getLock(path string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[path] = lock
	}
	return lock
}
