package session

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-identity/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-identity/pkg/clock"
	sserr "github.com/StricklySoft/stricklysoft-identity/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-identity/pkg/session"

// DefaultReapInterval is the pause between reap sweeps. Expired sessions
// are already inert (reads judge liveness from valid_until), so sweeping
// is housekeeping, not enforcement, and an hourly cadence suffices.
const DefaultReapInterval = time.Hour

// ReaperConfig configures the background session reaper.
type ReaperConfig struct {
	// Interval is the pause between reap sweeps.
	// Default: 1h
	// Environment variable: SESSION_REAP_INTERVAL
	Interval time.Duration `json:"interval,omitempty" yaml:"interval" env:"SESSION_REAP_INTERVAL" envDefault:"1h"`
}

// Validate applies defaults for zero-valued fields.
func (c *ReaperConfig) Validate() error {
	if c.Interval == 0 {
		c.Interval = DefaultReapInterval
	}
	if c.Interval < 0 {
		return sserr.New(sserr.CodeValidation, "session: reap interval must be positive")
	}
	return nil
}

// Reaper periodically deletes sessions whose valid_until has passed.
type Reaper struct {
	db     *postgres.Client
	cfg    ReaperConfig
	clock  clock.Clock
	logger *slog.Logger
	tracer trace.Tracer
}

// NewReaper builds a Reaper. A nil clk defaults to the system clock; a
// nil logger defaults to [slog.Default].
func NewReaper(db *postgres.Client, cfg ReaperConfig, clk clock.Clock, logger *slog.Logger) (*Reaper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		db:     db,
		cfg:    cfg,
		clock:  clk,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Run drives the reap loop until ctx is canceled. A failed sweep is
// logged and retried at the next interval; the loop never exits on a
// database error.
func (r *Reaper) Run(ctx context.Context) error {
	for {
		if err := r.clock.SleepUntil(ctx, r.clock.Mono()+r.cfg.Interval); err != nil {
			return err
		}

		if _, err := r.ReapOnce(ctx); err != nil {
			r.logger.ErrorContext(ctx, "session: reap sweep failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

// ReapOnce performs a single sweep and returns the number of sessions
// removed.
func (r *Reaper) ReapOnce(ctx context.Context) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "session.Reap")
	defer span.End()

	removed, err := Reap(ctx, r.db, r.clock.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	if removed > 0 {
		r.logger.InfoContext(ctx, "session: reaped expired sessions",
			slog.Int64("removed", removed),
		)
	}
	span.SetAttributes(attribute.Int64("session.reaped", removed))
	span.SetStatus(codes.Ok, "")
	return removed, nil
}
