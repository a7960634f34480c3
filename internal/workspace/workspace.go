// Package workspace materializes project workspaces from the object store
// and reconciles them back after command execution.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codewave-dev/codewave/internal/blobstore"
	"github.com/codewave-dev/codewave/internal/crdt"
	"github.com/codewave-dev/codewave/internal/logging"
)

// Materialize builds a local workspace directory from the project's stored
// document snapshots: every snapshot becomes a plain file (an empty snapshot
// becomes an empty file) and every folder marker becomes a directory. A
// failure aborts the whole attempt; callers must discard the directory.
func Materialize(ctx context.Context, store blobstore.Store, projectID, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	keys, err := store.List(ctx, blobstore.ProjectSnapshotPrefix(projectID))
	if err != nil {
		return fmt.Errorf("failed to list project %s: %w", projectID, err)
	}

	log := logging.Component("workspace")
	files := 0
	for _, key := range keys {
		if folder, ok := blobstore.FolderKeyPath(projectID, key); ok {
			if err := os.MkdirAll(filepath.Join(dir, filepath.FromSlash(folder)), 0755); err != nil {
				return fmt.Errorf("failed to create folder %s: %w", folder, err)
			}
			continue
		}

		path, ok := blobstore.SnapshotKeyPath(projectID, key)
		if !ok {
			continue
		}

		snap, err := store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to load snapshot %s: %w", key, err)
		}
		doc, err := crdt.DecodeState(snap, "workspace")
		if err != nil {
			// Unreadable state materializes as an empty file rather than
			// failing the whole workspace.
			log.Warn().Str("key", key).Err(err).Msg("materializing unreadable snapshot as empty file")
			doc = crdt.New("workspace")
		}

		target := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		if err := os.WriteFile(target, []byte(doc.Text()), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		files++
	}

	log.Debug().Str("project", projectID).Int("files", files).Str("dir", dir).Msg("workspace materialized")
	return nil
}
