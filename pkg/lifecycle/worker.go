package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-identity/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-identity/pkg/lifecycle"

// RunFunc is a worker's long-running body. It must block until ctx is
// done and then return; returning [context.Canceled] (or nil) after
// cancellation counts as a clean stop, any other error as a failure.
type RunFunc func(ctx context.Context) error

// Worker wraps one long-running function with lifecycle state, so the
// service can start it, health-check it, and shut it down in an
// orderly way.
//
// All methods are safe for concurrent use.
type Worker struct {
	name   string
	run    RunFunc
	logger *slog.Logger
	tracer trace.Tracer

	mu     sync.RWMutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

// NewWorker builds a worker around run. A nil logger defaults to
// [slog.Default].
func NewWorker(name string, run RunFunc, logger *slog.Logger) (*Worker, error) {
	if name == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "lifecycle: worker name must not be empty")
	}
	if run == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "lifecycle: worker run function must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		name:   name,
		run:    run,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		state:  StateUnknown,
	}, nil
}

// Name returns the worker's name.
func (w *Worker) Name() string {
	return w.name
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Err returns the error that moved the worker to [StateFailed], or nil.
func (w *Worker) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.runErr
}

// setState transitions to next if the state machine allows it,
// returning false otherwise. Callers decide whether a rejected
// transition is an error or a benign race.
func (w *Worker) setState(next State) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !ValidTransition(w.state, next) {
		return false
	}
	old := w.state
	w.state = next
	w.logger.Debug("lifecycle: worker state changed",
		slog.String("worker", w.name),
		slog.String("from", old.String()),
		slog.String("to", next.String()),
	)
	return true
}

// Start launches the run function in its own goroutine. The worker's
// context is detached from ctx's cancellation: the worker outlives the
// request that started it and stops only via [Worker.Stop].
//
// Starting a worker that is not in [StateUnknown] or a terminal state
// returns [sserr.CodeConflict].
func (w *Worker) Start(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "lifecycle.Start",
		trace.WithAttributes(attribute.String("worker.name", w.name)),
	)
	defer span.End()

	if !w.setState(StateStarting) {
		err := sserr.Newf(sserr.CodeConflict,
			"lifecycle: cannot start worker %q from state %q", w.name, w.State())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	w.mu.Lock()
	w.cancel = cancel
	w.done = done
	w.runErr = nil
	w.mu.Unlock()

	w.setState(StateRunning)
	w.logger.Info("lifecycle: worker started", slog.String("worker", w.name))

	go func() {
		err := w.run(runCtx)

		switch {
		case err == nil || errors.Is(err, context.Canceled):
			// Clean exit. Running→Stopping covers a run function that
			// returns on its own; when Stop drove the shutdown the
			// Stopping transition already happened and is skipped.
			w.setState(StateStopping)
			w.setState(StateStopped)
		default:
			w.mu.Lock()
			w.runErr = err
			w.mu.Unlock()
			w.setState(StateFailed)
			w.logger.Error("lifecycle: worker failed",
				slog.String("worker", w.name),
				slog.String("error", err.Error()),
			)
		}
		close(done)
	}()

	span.SetStatus(codes.Ok, "")
	return nil
}

// Stop cancels the worker's context and waits for the run function to
// return, or for ctx to expire. Stopping a worker already in a terminal
// state is a no-op that returns the worker's failure error, if any.
func (w *Worker) Stop(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "lifecycle.Stop",
		trace.WithAttributes(attribute.String("worker.name", w.name)),
	)
	defer span.End()

	w.mu.Lock()
	if w.state.IsTerminal() || w.state == StateUnknown {
		err := w.runErr
		w.mu.Unlock()
		span.SetStatus(codes.Ok, "")
		return err
	}
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	w.setState(StateStopping)
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		err := sserr.Wrapf(ctx.Err(), sserr.CodeTimeout,
			"lifecycle: worker %q did not stop in time", w.name)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	w.logger.Info("lifecycle: worker stopped", slog.String("worker", w.name))
	span.SetStatus(codes.Ok, "")
	return w.Err()
}

// Health reports nil while the worker is running and an
// [sserr.CodeUnavailable] error otherwise.
func (w *Worker) Health(ctx context.Context) error {
	if s := w.State(); s != StateRunning {
		return sserr.Newf(sserr.CodeUnavailable,
			"lifecycle: worker %q is %s", w.name, s)
	}
	return nil
}
