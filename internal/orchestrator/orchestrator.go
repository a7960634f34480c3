// Package orchestrator scales the worker fleet against queue depth.
package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/codewave-dev/codewave/internal/logging"
	"github.com/codewave-dev/codewave/internal/queue"
)

// Options configures the autoscaler.
type Options struct {
	MinWorkers        int
	MaxWorkers        int
	MessagesPerWorker int
	Interval          time.Duration
}

// Launcher starts workers and reports how many are still running. Workers
// are never stopped from here; surplus workers retire themselves when the
// queue stays empty.
type Launcher interface {
	Launch(ctx context.Context) error
	Running(ctx context.Context) (int, error)
}

// Orchestrator periodically sizes the worker fleet:
// desired = clamp(ceil(depth / messagesPerWorker), min, max).
type Orchestrator struct {
	queue    *queue.Queue
	launcher Launcher
	opts     Options
	log      zerolog.Logger
}

// New creates an orchestrator.
func New(q *queue.Queue, l Launcher, opts Options) *Orchestrator {
	return &Orchestrator{
		queue:    q,
		launcher: l,
		opts:     opts,
		log:      logging.Component("orchestrator"),
	}
}

// Desired returns the target fleet size for a queue depth.
func (o *Orchestrator) Desired(depth int) int {
	perWorker := o.opts.MessagesPerWorker
	if perWorker <= 0 {
		perWorker = 1
	}
	desired := (depth + perWorker - 1) / perWorker
	if desired < o.opts.MinWorkers {
		desired = o.opts.MinWorkers
	}
	if desired > o.opts.MaxWorkers {
		desired = o.opts.MaxWorkers
	}
	return desired
}

// Tick runs one scaling decision. A depth query failure counts as depth
// zero so the loop keeps running; the minimum floor still applies.
func (o *Orchestrator) Tick(ctx context.Context) error {
	depth, err := o.queue.Depth(ctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("Depth query failed, assuming empty queue")
		depth = 0
	}

	running, err := o.launcher.Running(ctx)
	if err != nil {
		return err
	}

	desired := o.Desired(depth)
	if desired <= running {
		return nil
	}

	o.log.Info().
		Int("depth", depth).
		Int("running", running).
		Int("desired", desired).
		Msg("Scaling up workers")

	for i := running; i < desired; i++ {
		if err := o.launcher.Launch(ctx); err != nil {
			o.log.Error().Err(err).Msg("Worker launch failed")
			return err
		}
	}
	return nil
}

// Run ticks until ctx is cancelled. The first decision happens
// immediately, then every interval.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.queue.Declare(ctx); err != nil {
		return err
	}
	o.log.Info().
		Int("min", o.opts.MinWorkers).
		Int("max", o.opts.MaxWorkers).
		Dur("interval", o.opts.Interval).
		Msg("Orchestrator started")

	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()

	for {
		if err := o.Tick(ctx); err != nil {
			o.log.Error().Err(err).Msg("Scaling tick failed")
		}
		select {
		case <-ctx.Done():
			o.log.Info().Msg("Orchestrator stopped")
			return nil
		case <-ticker.C:
		}
	}
}
