package jwk

import (
	"context"
	"crypto/rsa"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-identity/pkg/clock"
	sserr "github.com/StricklySoft/stricklysoft-identity/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-identity/pkg/jwk"

const (
	// DefaultFetchTimeout bounds a single JWK document fetch.
	DefaultFetchTimeout = 10 * time.Second

	// DefaultRetryInterval is the pause between fetch attempts after a
	// failure. The interval is fixed rather than backed off; the provider
	// endpoint is a high-availability service and the document is tiny.
	DefaultRetryInterval = 5 * time.Second

	// MinMaxAge is the floor applied to the provider's advertised
	// Cache-Control max-age. A max-age of zero would expire the snapshot
	// the instant it is installed and turn the refresh loop into a tight
	// fetch spin against the provider.
	MinMaxAge = 5 * time.Second
)

// RefresherConfig configures the background key refresh task.
type RefresherConfig struct {
	// URL is the provider's JWK document endpoint.
	// Environment variable: JWK_URL
	URL string `json:"url" yaml:"url" env:"JWK_URL" required:"true"`

	// FetchTimeout bounds a single document fetch.
	// Default: 10s
	// Environment variable: JWK_FETCH_TIMEOUT
	FetchTimeout time.Duration `json:"fetch_timeout,omitempty" yaml:"fetch_timeout" env:"JWK_FETCH_TIMEOUT" envDefault:"10s"`

	// RetryInterval is the pause between attempts after a fetch failure.
	// Default: 5s
	// Environment variable: JWK_RETRY_INTERVAL
	RetryInterval time.Duration `json:"retry_interval,omitempty" yaml:"retry_interval" env:"JWK_RETRY_INTERVAL" envDefault:"5s"`
}

// Validate applies defaults for zero-valued fields and checks the URL is set.
func (c *RefresherConfig) Validate() error {
	if c.URL == "" {
		return sserr.New(sserr.CodeValidationRequired, "jwk: refresher URL must not be empty")
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	return nil
}

// ErrorSink receives fetch failures from the refresh loop for external
// reporting (error trackers, alerting). It must not block.
type ErrorSink func(error)

// Refresher is the single writer of a [Cache]. Run exactly one Refresher
// per cache; concurrent refreshers would race on snapshot installs.
type Refresher struct {
	cache  *Cache
	cfg    RefresherConfig
	client *http.Client
	clock  clock.Clock
	logger *slog.Logger
	sink   ErrorSink
	tracer trace.Tracer
}

// NewRefresher builds a Refresher for the given cache. httpClient, logger,
// and sink may be nil; defaults are http.DefaultClient, slog.Default, and
// a no-op sink.
func NewRefresher(cache *Cache, cfg RefresherConfig, httpClient *http.Client, logger *slog.Logger, sink ErrorSink) (*Refresher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = func(error) {}
	}
	return &Refresher{
		cache:  cache,
		cfg:    cfg,
		client: httpClient,
		clock:  cache.clock,
		logger: logger,
		sink:   sink,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Run drives the refresh loop until ctx is canceled. Each iteration
// fetches the JWK document, installs the parsed keys for the advertised
// max-age, and sleeps until the snapshot expires. On failure the error is
// logged, forwarded to the sink, and the loop retries after the
// configured interval.
func (r *Refresher) Run(ctx context.Context) error {
	for {
		maxAge, err := r.RefreshOnce(ctx)

		var wakeAt time.Duration
		if err != nil {
			r.logger.ErrorContext(ctx, "jwk: key refresh failed",
				slog.String("url", r.cfg.URL),
				slog.String("error", err.Error()),
			)
			r.sink(err)
			wakeAt = r.clock.Mono() + r.cfg.RetryInterval
		} else {
			r.logger.DebugContext(ctx, "jwk: key snapshot installed",
				slog.String("url", r.cfg.URL),
				slog.Duration("max_age", maxAge),
			)
			wakeAt = r.cache.ExpiresAt()
		}

		if sleepErr := r.clock.SleepUntil(ctx, wakeAt); sleepErr != nil {
			return sleepErr
		}
	}
}

// RefreshOnce performs a single fetch-parse-install cycle and returns the
// max-age the snapshot was installed with. Exposed so startup code can
// prime the cache synchronously before serving traffic.
func (r *Refresher) RefreshOnce(ctx context.Context) (time.Duration, error) {
	ctx, span := r.tracer.Start(ctx, "jwk.Refresh",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(attribute.String("url.full", r.cfg.URL))
	defer span.End()

	keys, maxAge, err := r.fetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	r.cache.Install(keys, maxAge)
	span.SetAttributes(attribute.Int("jwk.key_count", len(keys)))
	span.SetStatus(codes.Ok, "")
	return maxAge, nil
}

// fetch retrieves and parses the provider's JWK document, returning the
// keys and the snapshot lifetime from the Cache-Control header.
func (r *Refresher) fetch(ctx context.Context) (map[string]*rsa.PublicKey, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.URL, nil)
	if err != nil {
		return nil, 0, sserr.Wrap(err, sserr.CodeInternalConfiguration,
			"jwk: failed to build key document request")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, sserr.Wrap(err, sserr.CodeUnavailableTransport,
			"jwk: failed to reach key document endpoint")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, 0, sserr.Newf(sserr.CodeUnavailableProvider,
			"jwk: key document endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, sserr.Wrap(err, sserr.CodeUnavailableTransport,
			"jwk: failed to read key document response")
	}

	keys, err := parseDocument(body)
	if err != nil {
		return nil, 0, sserr.Wrap(err, sserr.CodeUnavailableProvider,
			"jwk: provider served an unparseable key document")
	}

	return keys, parseMaxAge(resp.Header.Get("Cache-Control")), nil
}

// parseMaxAge extracts the max-age directive from a Cache-Control header.
// A missing or malformed directive yields [FallbackMaxAge]; a directive
// below [MinMaxAge] is clamped up to it.
func parseMaxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		directive = strings.TrimSpace(directive)
		value, found := strings.CutPrefix(directive, "max-age=")
		if !found {
			continue
		}
		seconds, err := strconv.ParseInt(value, 10, 64)
		if err != nil || seconds < 0 {
			return FallbackMaxAge
		}
		if age := time.Duration(seconds) * time.Second; age > MinMaxAge {
			return age
		}
		return MinMaxAge
	}
	return FallbackMaxAge
}
