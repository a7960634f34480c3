// Package worker implements the queue-consumer loop: receive commands,
// drive them through the session manager, acknowledge on success.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/codewave-dev/codewave/internal/logging"
	"github.com/codewave-dev/codewave/internal/queue"
	"github.com/codewave-dev/codewave/internal/session"
)

// DefaultBatchSize is how many deliveries one receive call asks for.
const DefaultBatchSize = 1

// Options configures a worker loop.
type Options struct {
	// BatchSize is the maximum deliveries per receive. Default 1.
	BatchSize int
	// ExitAfterIdlePolls makes Run return after this many consecutive empty
	// long-polls, so surplus workers retire themselves. 0 runs forever.
	ExitAfterIdlePolls int
}

// Worker consumes the command queue and executes through the session
// manager. Delivery is at-least-once: a crash between execution and ack
// causes the command to run again after the visibility timeout.
type Worker struct {
	queue   *queue.Queue
	manager *session.Manager
	opts    Options
	log     zerolog.Logger
}

// New creates a worker.
func New(q *queue.Queue, m *session.Manager, opts Options) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Worker{
		queue:   q,
		manager: m,
		opts:    opts,
		log:     logging.Component("worker"),
	}
}

// Run consumes until ctx is cancelled or the idle-poll budget runs out.
// In-flight commands finish, reconcile and ack before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.queue.Declare(ctx); err != nil {
		return err
	}
	w.log.Info().Int("batch", w.opts.BatchSize).Msg("Worker loop started")

	idlePolls := 0
	for {
		if ctx.Err() != nil {
			w.log.Info().Msg("Worker loop stopped")
			return nil
		}

		deliveries, err := w.queue.Receive(ctx, w.opts.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info().Msg("Worker loop stopped")
				return nil
			}
			w.log.Error().Err(err).Msg("Receive failed")
			// Transient storage trouble; do not spin.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		if len(deliveries) == 0 {
			idlePolls++
			if w.opts.ExitAfterIdlePolls > 0 && idlePolls >= w.opts.ExitAfterIdlePolls {
				w.log.Info().Int("idlePolls", idlePolls).Msg("Worker retiring after idle polls")
				return nil
			}
			continue
		}
		idlePolls = 0

		for _, d := range deliveries {
			w.handle(d)
		}
	}
}

// handle executes one delivery. Execution and the post-command
// reconciliation run under context.Background so a shutdown signal drains
// the in-flight command instead of abandoning it mid-write.
func (w *Worker) handle(d queue.Delivery) {
	ctx := context.Background()
	log := w.log.With().
		Str("session", d.Command.SessionKey().String()).
		Str("command", d.Command.Command).
		Logger()

	if err := w.manager.Execute(ctx, d.Command); err != nil {
		// The session manager already surfaced the failure to the terminal
		// channel. Ack anyway: redelivering a command that broke its
		// environment would break the replacement too.
		log.Warn().Err(err).Msg("Command failed")
	}

	if err := w.queue.Ack(ctx, d.AckToken); err != nil {
		log.Warn().Err(err).Msg("Ack failed, command may be redelivered")
		return
	}
	log.Debug().Msg("Command acknowledged")
}
