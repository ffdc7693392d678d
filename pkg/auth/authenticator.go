package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-identity/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-identity/pkg/clock"
	sserr "github.com/StricklySoft/stricklysoft-identity/pkg/errors"
	"github.com/StricklySoft/stricklysoft-identity/pkg/session"
	"github.com/StricklySoft/stricklysoft-identity/pkg/token"
)

// tracerName is the OpenTelemetry instrumentation scope for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-identity/pkg/auth"

const (
	// QueryParamToken is the query parameter a session token may ride
	// in, for clients that cannot set headers (e.g. EventSource).
	QueryParamToken = "access_token"

	// HeaderAuthorization is the bearer-token request header.
	HeaderAuthorization = "Authorization"

	// HeaderCSRF is the header a cookie-authenticated request must
	// carry, echoing the CSRF nonce embedded in the session token.
	HeaderCSRF = "X-CSRF"

	// bearerPrefix is the Authorization scheme prefix.
	bearerPrefix = "Bearer "
)

// credential is a session token extracted from a request, plus the CSRF
// proof when it arrived by cookie.
type credential struct {
	token      string
	fromCookie bool
	csrf       string
}

// extractCredential pulls the session token out of a request.
// Precedence: access_token query parameter, then Authorization bearer,
// then the session cookie. Only the cookie path demands a CSRF header,
// because only the cookie is attached by the browser without the page's
// cooperation.
func extractCredential(r *http.Request) (credential, bool) {
	if tok := r.URL.Query().Get(QueryParamToken); tok != "" {
		return credential{token: tok}, true
	}
	if h := r.Header.Get(HeaderAuthorization); strings.HasPrefix(h, bearerPrefix) {
		if tok := strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix)); tok != "" {
			return credential{token: tok}, true
		}
	}
	if c, err := r.Cookie(token.CookieName); err == nil && c.Value != "" {
		return credential{
			token:      c.Value,
			fromCookie: true,
			csrf:       r.Header.Get(HeaderCSRF),
		}, true
	}
	return credential{}, false
}

// Authenticator authenticates requests against the session store. Safe
// for concurrent use.
type Authenticator struct {
	codec  *token.Codec
	db     *postgres.Client
	clock  clock.Clock
	logger *slog.Logger
	tracer trace.Tracer
}

// NewAuthenticator builds an authenticator. A nil clk defaults to the
// system clock; a nil logger defaults to [slog.Default].
func NewAuthenticator(codec *token.Codec, db *postgres.Client, clk clock.Clock, logger *slog.Logger) *Authenticator {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		codec:  codec,
		db:     db,
		clock:  clk,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// Authenticate resolves the request's session token to a Principal.
//
// Every failure maps to an AUTH_xxx code and reads as a plain 401 at
// the boundary; the sub-cause is recorded here for logs only. A token
// that fails to decode never reaches the database.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	ctx, span := a.tracer.Start(ctx, "auth.Authenticate")
	defer span.End()

	cred, ok := extractCredential(r)
	if !ok {
		return nil, a.unauthenticated(ctx, span, sserr.New(sserr.CodeAuthentication,
			"auth: no credential on request"))
	}

	payload, err := a.codec.Decode(cred.token)
	if err != nil {
		return nil, a.unauthenticated(ctx, span, err)
	}

	if cred.fromCookie && cred.csrf != payload.CSRF {
		return nil, a.unauthenticated(ctx, span, sserr.New(sserr.CodeAuthentication,
			"auth: cookie request missing or mismatching CSRF header"))
	}

	rec, err := session.Get(ctx, a.db, payload.SessionID)
	if err != nil {
		if sserr.HasCode(err, sserr.CodeNotFoundSession) {
			return nil, a.unauthenticated(ctx, span, sserr.Wrap(err, sserr.CodeAuthentication,
				"auth: session no longer exists"))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if !rec.ActiveAt(a.clock.Now()) {
		return nil, a.unauthenticated(ctx, span, sserr.New(sserr.CodeAuthentication,
			"auth: session revoked or expired"))
	}

	span.SetStatus(codes.Ok, "")
	return &Principal{
		UserID:       rec.UserID,
		SessionID:    rec.ID,
		Mask:         rec.Mask,
		Impersonator: rec.ImpersonatorID,
	}, nil
}

// unauthenticated logs the authentication sub-cause and records it on
// the span. The returned error still carries the specific AUTH code for
// in-process callers; the HTTP boundary collapses them all to 401.
func (a *Authenticator) unauthenticated(ctx context.Context, span trace.Span, err error) error {
	a.logger.DebugContext(ctx, "auth: request not authenticated", "error", err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
