// Package app wires the Codewave services together. Construction is
// explicit: every service receives its dependencies here, nothing hangs
// off package globals.
package app

import (
	"context"
	"path/filepath"

	"github.com/codewave-dev/codewave/internal/blobstore"
	"github.com/codewave-dev/codewave/internal/config"
	"github.com/codewave-dev/codewave/internal/docsync"
	"github.com/codewave-dev/codewave/internal/logging"
	"github.com/codewave-dev/codewave/internal/pubsub"
	"github.com/codewave-dev/codewave/internal/queue"
	"github.com/codewave-dev/codewave/internal/session"
	"github.com/codewave-dev/codewave/pkg/types"
)

// App holds the constructed service graph.
type App struct {
	Config   *types.Config
	Store    blobstore.Store
	Bus      *pubsub.Bus
	Queue    *queue.Queue
	Docs     *docsync.Service
	Sessions *session.Manager
}

// New builds the service graph from configuration. The data directory
// holds both the object store and the queue, so a worker process and the
// gateway sharing one machine also share state.
func New(cfg *types.Config) (*App, error) {
	dataDir := cfg.DataDir
	if dataDir == "" {
		paths := config.GetPaths()
		if err := paths.EnsurePaths(); err != nil {
			return nil, err
		}
		dataDir = paths.Data
	}

	store := blobstore.WithRetry(blobstore.NewLocal(filepath.Join(dataDir, "store")))
	bus := pubsub.New()

	q := queue.New(filepath.Join(dataDir, "queue"), queue.Options{
		VisibilityTimeout: cfg.VisibilityTimeout(),
		LongPoll:          cfg.LongPoll(),
	})
	if err := q.Declare(context.Background()); err != nil {
		bus.Close()
		return nil, err
	}

	backend, err := session.NewBackend(cfg.Backend(), cfg.CommandTimeout())
	if err != nil {
		bus.Close()
		return nil, err
	}

	workspaceRoot := ""
	if cfg.Worker != nil {
		workspaceRoot = cfg.Worker.WorkspaceDir
	}

	a := &App{
		Config: cfg,
		Store:  store,
		Bus:    bus,
		Queue:  q,
		Docs:   docsync.New(store, bus, cfg.PersistDebounce()),
		Sessions: session.NewManager(store, bus, backend, session.Options{
			WorkspaceRoot: workspaceRoot,
			ExcludedDirs:  cfg.ExcludedDirs(),
			IdleTimeout:   cfg.IdleTimeout(),
		}),
	}

	logging.Info().Str("dataDir", dataDir).Str("backend", cfg.Backend()).Msg("Application initialized")
	return a, nil
}

// Close flushes pending document snapshots, terminates sessions and
// releases the bus.
func (a *App) Close(ctx context.Context) error {
	var firstErr error

	if err := a.Docs.Shutdown(ctx); err != nil {
		firstErr = err
	}
	a.Sessions.CloseAll(ctx)
	if err := a.Bus.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
