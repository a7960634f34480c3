// Package session tracks execution environments keyed by
// (projectID, terminalID) and drives commands through a pluggable backend.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrSpawn marks failures to start a command at all, as opposed to a
// command that ran and exited non-zero. The manager turns spawn failures
// into terminal output instead of tearing the session down.
var ErrSpawn = errors.New("failed to start command")

// Backend is one execution environment implementation. Provision is called
// once after the workspace has been materialized; Execute runs a single
// command rooted at the workspace directory, streaming combined output to
// out as it is produced. A non-nil Execute error other than ErrSpawn means
// the environment is unusable and the session must close. Terminate
// releases whatever the backend holds for the workspace.
type Backend interface {
	Provision(ctx context.Context, dir string) error
	Execute(ctx context.Context, dir, command string, out io.Writer) error
	Terminate(ctx context.Context, dir string) error
}

// NewBackend returns the backend selected by name. timeout bounds a single
// command; zero leaves commands unbounded.
func NewBackend(name string, timeout time.Duration) (Backend, error) {
	switch name {
	case "local":
		return NewLocalBackend(timeout), nil
	case "shell":
		return NewShellBackend(timeout), nil
	default:
		return nil, fmt.Errorf("unknown worker backend %q", name)
	}
}
