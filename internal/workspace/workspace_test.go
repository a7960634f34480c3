package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewave-dev/codewave/internal/blobstore"
	"github.com/codewave-dev/codewave/internal/crdt"
	"github.com/codewave-dev/codewave/pkg/types"
)

func newStore() blobstore.Store {
	return blobstore.NewLocalFs(afero.NewMemMapFs(), "/store")
}

func seedSnapshot(t *testing.T, store blobstore.Store, projectID, path, content string) {
	t.Helper()
	doc := crdt.New("seed")
	if content != "" {
		_, err := doc.InsertAt(0, content)
		require.NoError(t, err)
	}
	snap, err := doc.EncodeState()
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), blobstore.SnapshotKey(projectID, path), snap))
}

func snapshotText(t *testing.T, store blobstore.Store, projectID, path string) string {
	t.Helper()
	snap, err := store.Get(context.Background(), blobstore.SnapshotKey(projectID, path))
	require.NoError(t, err)
	doc, err := crdt.DecodeState(snap, "reader")
	require.NoError(t, err)
	return doc.Text()
}

func TestMaterialize(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	dir := t.TempDir()

	seedSnapshot(t, store, "p1", "main.go", "package main\n")
	seedSnapshot(t, store, "p1", "docs/readme.md", "# readme\n")
	seedSnapshot(t, store, "p1", "empty.txt", "")
	require.NoError(t, store.Put(ctx, blobstore.FolderKey("p1", "assets"), nil))

	require.NoError(t, Materialize(ctx, store, "p1", dir))

	data, err := os.ReadFile(filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "docs", "readme.md"))
	require.NoError(t, err)
	assert.Equal(t, "# readme\n", string(data))

	// Empty snapshot becomes an empty file.
	data, err = os.ReadFile(filepath.Join(dir, "empty.txt"))
	require.NoError(t, err)
	assert.Empty(t, data)

	// Folder marker becomes a directory.
	info, err := os.Stat(filepath.Join(dir, "assets"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestMaterializeEmptyProject(t *testing.T) {
	store := newStore()
	dir := t.TempDir()

	require.NoError(t, Materialize(context.Background(), store, "fresh", dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMaterializeCorruptSnapshotBecomesEmptyFile(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, store.Put(ctx, blobstore.SnapshotKey("p1", "bad.txt"), []byte("{nope")))

	require.NoError(t, Materialize(ctx, store, "p1", dir))
	data, err := os.ReadFile(filepath.Join(dir, "bad.txt"))
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestReconcileWritesNewFiles(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.txt"), []byte("built\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "gen"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gen", "code.go"), []byte("package gen\n"), 0644))

	r := NewReconciler(store, types.DefaultExcludedDirs)
	require.NoError(t, r.Reconcile(ctx, "p1", dir))

	data, err := store.Get(ctx, blobstore.FileKey("p1", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "built\n", string(data))
	assert.Equal(t, "built\n", snapshotText(t, store, "p1", "out.txt"))
	assert.Equal(t, "package gen\n", snapshotText(t, store, "p1", "gen/code.go"))
}

func TestReconcileMergesIntoExistingSnapshot(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	dir := t.TempDir()

	seedSnapshot(t, store, "p1", "main.go", "package main\n")
	require.NoError(t, Materialize(ctx, store, "p1", dir))

	// A command appends a line.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"),
		[]byte("package main\n\nfunc main() {}\n"), 0644))

	r := NewReconciler(store, types.DefaultExcludedDirs)
	require.NoError(t, r.Reconcile(ctx, "p1", dir))

	assert.Equal(t, "package main\n\nfunc main() {}\n", snapshotText(t, store, "p1", "main.go"))
}

func TestReconcileSkipsExcludedDirs(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git", "objects"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref: main\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "left-pad"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "left-pad", "index.js"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("code\n"), 0644))

	r := NewReconciler(store, types.DefaultExcludedDirs)
	require.NoError(t, r.Reconcile(ctx, "p1", dir))

	keys, err := store.List(ctx, blobstore.ProjectFilePrefix("p1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"projects/p1/app.js"}, keys)
}

func TestReconcilePrunesDeletedFiles(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	dir := t.TempDir()

	seedSnapshot(t, store, "p1", "stays.txt", "keep\n")
	seedSnapshot(t, store, "p1", "goes.txt", "drop\n")
	require.NoError(t, Materialize(ctx, store, "p1", dir))

	require.NoError(t, os.Remove(filepath.Join(dir, "goes.txt")))

	r := NewReconciler(store, types.DefaultExcludedDirs)
	require.NoError(t, r.Reconcile(ctx, "p1", dir))

	assert.True(t, store.Exists(ctx, blobstore.SnapshotKey("p1", "stays.txt")))
	assert.False(t, store.Exists(ctx, blobstore.SnapshotKey("p1", "goes.txt")))
	assert.False(t, store.Exists(ctx, blobstore.FileKey("p1", "goes.txt")))
}

func TestReconcileEmptyDirectoryGetsMarker(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "blank"), 0755))

	r := NewReconciler(store, types.DefaultExcludedDirs)
	require.NoError(t, r.Reconcile(ctx, "p1", dir))

	assert.True(t, store.Exists(ctx, blobstore.FolderKey("p1", "blank")))
}

func TestReconcilePaths(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	dir := t.TempDir()

	seedSnapshot(t, store, "p1", "a.txt", "a\n")
	seedSnapshot(t, store, "p1", "b.txt", "b\n")
	require.NoError(t, Materialize(ctx, store, "p1", dir))

	// Touch a, delete b, but only report a and b as dirty.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a changed\n"), 0644))
	require.NoError(t, os.Remove(filepath.Join(dir, "b.txt")))

	r := NewReconciler(store, types.DefaultExcludedDirs)
	require.NoError(t, r.ReconcilePaths(ctx, "p1", dir, []string{"a.txt", "b.txt"}))

	assert.Equal(t, "a changed\n", snapshotText(t, store, "p1", "a.txt"))
	assert.False(t, store.Exists(ctx, blobstore.SnapshotKey("p1", "b.txt")))
}

func TestWatcherTracksDirtyPaths(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWatcher(dir)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "touched.txt"), []byte("x"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))

	require.Eventually(t, func() bool {
		paths, ok := w.Dirty()
		if !ok {
			return false
		}
		for _, p := range paths {
			if p == "touched.txt" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatcherPicksUpNewSubdirectories(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWatcher(dir)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "fresh"), 0755))
	// Give the watcher a beat to register the new directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fresh", "inner.txt"), []byte("y"), 0644))

	require.Eventually(t, func() bool {
		paths, ok := w.Dirty()
		if !ok {
			return false
		}
		for _, p := range paths {
			if p == "fresh/inner.txt" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestReconcilePathsRemovesDeletedEmptyDirMarker(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "blank"), 0755))
	r := NewReconciler(store, types.DefaultExcludedDirs)
	require.NoError(t, r.Reconcile(ctx, "p1", dir))
	require.True(t, store.Exists(ctx, blobstore.FolderKey("p1", "blank")))

	require.NoError(t, os.Remove(filepath.Join(dir, "blank")))
	require.NoError(t, r.ReconcilePaths(ctx, "p1", dir, []string{"blank"}))

	assert.False(t, store.Exists(ctx, blobstore.FolderKey("p1", "blank")),
		"a deleted empty directory must not be rematerialized")
}

func TestWatcherSeesFilesInsideMovedTree(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWatcher(dir)
	require.NoError(t, err)
	defer w.Stop()

	// A tree moved in whole (cp -r, build output rename) produces one create
	// event for its root; the files inside never get their own events.
	staging := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(staging, "pkg", "deep"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "pkg", "deep", "gen.txt"), []byte("z"), 0644))
	require.NoError(t, os.Rename(filepath.Join(staging, "pkg"), filepath.Join(dir, "pkg")))

	require.Eventually(t, func() bool {
		paths, ok := w.Dirty()
		if !ok {
			return false
		}
		for _, p := range paths {
			if p == "pkg/deep/gen.txt" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}
