package lifecycle

import (
	"context"
	"errors"
	"log/slog"
)

// Group starts and stops a set of workers together. Workers start in
// the order given and stop in reverse, so later workers may depend on
// earlier ones (the HTTP listener starts after the key refresher and
// stops before it).
type Group struct {
	workers []*Worker
	logger  *slog.Logger
}

// NewGroup builds a group over the given workers. A nil logger
// defaults to [slog.Default].
func NewGroup(logger *slog.Logger, workers ...*Worker) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{workers: workers, logger: logger}
}

// Start starts every worker in order. On the first failure the
// already-started workers are stopped in reverse and the start error is
// returned.
func (g *Group) Start(ctx context.Context) error {
	for i, w := range g.workers {
		if err := w.Start(ctx); err != nil {
			g.logger.Error("lifecycle: group start aborted",
				slog.String("worker", w.Name()),
				slog.String("error", err.Error()),
			)
			for j := i - 1; j >= 0; j-- {
				_ = g.workers[j].Stop(ctx)
			}
			return err
		}
	}
	return nil
}

// Stop stops every worker in reverse order, continuing past failures,
// and returns the joined errors.
func (g *Group) Stop(ctx context.Context) error {
	var errs []error
	for i := len(g.workers) - 1; i >= 0; i-- {
		if err := g.workers[i].Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Health reports nil when every worker is running, or the first
// worker's health error otherwise.
func (g *Group) Health(ctx context.Context) error {
	for _, w := range g.workers {
		if err := w.Health(ctx); err != nil {
			return err
		}
	}
	return nil
}
