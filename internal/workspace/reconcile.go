package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/codewave-dev/codewave/internal/blobstore"
	"github.com/codewave-dev/codewave/internal/crdt"
	"github.com/codewave-dev/codewave/internal/logging"
)

// Reconciler writes workspace changes back to the object store after every
// command, so tools that mutate files outside the editor (package managers,
// compilers, generators) are reflected in storage.
type Reconciler struct {
	store    blobstore.Store
	excluded []string
	log      zerolog.Logger
}

// NewReconciler creates a Reconciler. excluded lists directory glob patterns
// that are never synced (version-control metadata, dependency trees).
func NewReconciler(store blobstore.Store, excluded []string) *Reconciler {
	return &Reconciler{
		store:    store,
		excluded: excluded,
		log:      logging.Component("workspace"),
	}
}

// Reconcile scans the workspace and re-serializes every file and directory
// to the durable store. File text is merged into the existing document
// snapshot through a diff, never written over it, so concurrent editor
// state survives. Files that disappeared from the workspace are removed
// from the store.
func (r *Reconciler) Reconcile(ctx context.Context, projectID, dir string) error {
	seenFiles := map[string]bool{}
	seenFolders := map[string]bool{}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if r.isExcluded(rel) {
				return filepath.SkipDir
			}
			empty, emptyErr := isEmptyDir(path)
			if emptyErr != nil {
				return emptyErr
			}
			if empty {
				seenFolders[rel] = true
				if putErr := r.store.Put(ctx, blobstore.FolderKey(projectID, rel), nil); putErr != nil {
					return putErr
				}
			}
			return nil
		}

		if r.isExcluded(rel) {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		seenFiles[rel] = true
		return r.syncFile(ctx, projectID, rel, data)
	})
	if err != nil {
		return fmt.Errorf("failed to reconcile workspace: %w", err)
	}

	return r.pruneDeleted(ctx, projectID, seenFiles, seenFolders)
}

// ReconcilePaths is the incremental variant: only the given
// workspace-relative paths are re-serialized. Deletions of listed paths are
// honored; nothing else is touched or pruned.
func (r *Reconciler) ReconcilePaths(ctx context.Context, projectID, dir string, paths []string) error {
	for _, rel := range paths {
		rel = filepath.ToSlash(rel)
		if rel == "" || rel == "." || r.isExcluded(rel) {
			continue
		}

		full := filepath.Join(dir, filepath.FromSlash(rel))
		info, err := os.Stat(full)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if err := r.store.Delete(ctx, blobstore.FileKey(projectID, rel)); err != nil {
				return err
			}
			if err := r.store.Delete(ctx, blobstore.SnapshotKey(projectID, rel)); err != nil {
				return err
			}
			// The path may have been an empty directory.
			if err := r.store.Delete(ctx, blobstore.FolderKey(projectID, rel)); err != nil {
				return err
			}
		case err != nil:
			return err
		case info.IsDir():
			empty, emptyErr := isEmptyDir(full)
			if emptyErr != nil {
				return emptyErr
			}
			if empty {
				if err := r.store.Put(ctx, blobstore.FolderKey(projectID, rel), nil); err != nil {
					return err
				}
			}
		default:
			data, readErr := os.ReadFile(full)
			if readErr != nil {
				return readErr
			}
			if err := r.syncFile(ctx, projectID, rel, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// syncFile stores the plain bytes and folds the text into the document
// snapshot.
func (r *Reconciler) syncFile(ctx context.Context, projectID, rel string, data []byte) error {
	if err := r.store.Put(ctx, blobstore.FileKey(projectID, rel), data); err != nil {
		return err
	}

	snapKey := blobstore.SnapshotKey(projectID, rel)
	var doc *crdt.Document
	snap, err := r.store.Get(ctx, snapKey)
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
		doc = crdt.New(crdt.NewReplicaID())
	case err != nil:
		return err
	default:
		doc, err = crdt.DecodeState(snap, crdt.NewReplicaID())
		if err != nil {
			r.log.Warn().Str("file", rel).Err(err).Msg("replacing unreadable snapshot")
			doc = crdt.New(crdt.NewReplicaID())
		}
	}

	if _, err := doc.ApplyText(string(data)); err != nil {
		return err
	}
	encoded, err := doc.EncodeState()
	if err != nil {
		return err
	}
	return r.store.Put(ctx, snapKey, encoded)
}

// pruneDeleted removes store keys whose workspace counterpart no longer
// exists.
func (r *Reconciler) pruneDeleted(ctx context.Context, projectID string, seenFiles, seenFolders map[string]bool) error {
	keys, err := r.store.List(ctx, blobstore.ProjectSnapshotPrefix(projectID))
	if err != nil {
		return err
	}
	for _, key := range keys {
		if folder, ok := blobstore.FolderKeyPath(projectID, key); ok {
			if !seenFolders[folder] {
				if err := r.store.Delete(ctx, key); err != nil {
					return err
				}
			}
			continue
		}
		path, ok := blobstore.SnapshotKeyPath(projectID, key)
		if !ok || seenFiles[path] || r.isExcluded(path) {
			continue
		}
		if err := r.store.Delete(ctx, key); err != nil {
			return err
		}
		if err := r.store.Delete(ctx, blobstore.FileKey(projectID, path)); err != nil {
			return err
		}
	}
	return nil
}

// isExcluded matches a workspace-relative path against the exclusion
// patterns. A pattern matches the path itself or any of its ancestors, so
// excluding "node_modules" covers everything beneath it.
func (r *Reconciler) isExcluded(rel string) bool {
	for _, pattern := range r.excluded {
		for _, segment := range strings.Split(rel, "/") {
			if ok, _ := doublestar.Match(pattern, segment); ok {
				return true
			}
		}
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func isEmptyDir(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
