package session

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackend(t *testing.T) {
	b, err := NewBackend("local", 0)
	require.NoError(t, err)
	assert.IsType(t, &LocalBackend{}, b)

	b, err = NewBackend("shell", 0)
	require.NoError(t, err)
	assert.IsType(t, &ShellBackend{}, b)

	_, err = NewBackend("docker", 0)
	assert.Error(t, err)
}

func TestLocalBackendExecute(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell semantics")
	}
	b := NewLocalBackend(0)
	dir := t.TempDir()

	var out bytes.Buffer
	require.NoError(t, b.Execute(context.Background(), dir, "echo hello", &out))
	assert.Contains(t, out.String(), "hello")
}

func TestLocalBackendNonZeroExitIsNormal(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell semantics")
	}
	b := NewLocalBackend(0)

	var out bytes.Buffer
	err := b.Execute(context.Background(), t.TempDir(), "exit 3", &out)
	assert.NoError(t, err)
}

func TestLocalBackendSpawnFailure(t *testing.T) {
	b := &LocalBackend{shell: "/nonexistent/shell"}

	var out bytes.Buffer
	err := b.Execute(context.Background(), t.TempDir(), "echo hi", &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSpawn))
}

func TestLocalBackendTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell semantics")
	}
	b := NewLocalBackend(200 * time.Millisecond)

	var out bytes.Buffer
	err := b.Execute(context.Background(), t.TempDir(), "sleep 5", &out)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSpawn))
	assert.Contains(t, out.String(), "timed out")
}

func TestLocalBackendRunsInWorkspaceDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell semantics")
	}
	b := NewLocalBackend(0)
	dir := t.TempDir()

	var out bytes.Buffer
	require.NoError(t, b.Execute(context.Background(), dir, "pwd", &out))
	assert.Contains(t, out.String(), dir)
}

func TestShellBackendExecute(t *testing.T) {
	b := NewShellBackend(0)

	var out bytes.Buffer
	require.NoError(t, b.Execute(context.Background(), t.TempDir(), "echo hello", &out))
	assert.Contains(t, out.String(), "hello")
}

func TestShellBackendParseErrorIsOutput(t *testing.T) {
	b := NewShellBackend(0)

	var out bytes.Buffer
	err := b.Execute(context.Background(), t.TempDir(), "if then fi (", &out)
	assert.NoError(t, err)
	assert.NotEmpty(t, out.String())
}

func TestShellBackendNonZeroExitIsNormal(t *testing.T) {
	b := NewShellBackend(0)

	var out bytes.Buffer
	err := b.Execute(context.Background(), t.TempDir(), "false", &out)
	assert.NoError(t, err)
}

func TestShellBackendWritesFiles(t *testing.T) {
	b := NewShellBackend(0)
	dir := t.TempDir()

	var out bytes.Buffer
	require.NoError(t, b.Execute(context.Background(), dir, "echo data > made.txt", &out))

	assert.FileExists(t, dir+"/made.txt")
}
