// Package login orchestrates OAuth sign-in: code exchange, identity
// verification, user lookup or registration, and session issuance,
// with the storage work bundled in one transaction so a failed
// registration leaves nothing behind.
package login

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/StricklySoft/stricklysoft-identity/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-identity/pkg/clock"
	sserr "github.com/StricklySoft/stricklysoft-identity/pkg/errors"
	"github.com/StricklySoft/stricklysoft-identity/pkg/jwk"
	"github.com/StricklySoft/stricklysoft-identity/pkg/oauth"
	"github.com/StricklySoft/stricklysoft-identity/pkg/session"
	"github.com/StricklySoft/stricklysoft-identity/pkg/token"
	"github.com/StricklySoft/stricklysoft-identity/pkg/user"
)

// tracerName is the OpenTelemetry instrumentation scope for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-identity/pkg/login"

const (
	// DefaultLoginTTL is the validity of a full login session when no
	// TTL is configured.
	DefaultLoginTTL = 14 * 24 * time.Hour

	// RegistrationValidity bounds a session issued before the user has
	// a profile. Registration either completes within the hour or the
	// user signs in again.
	RegistrationValidity = time.Hour

	// ImpersonationValidity bounds an impersonation session.
	ImpersonationValidity = time.Hour
)

// Config holds login flow settings.
type Config struct {
	// LoginTTL is the validity of a full login session.
	LoginTTL time.Duration `json:"login_ttl,omitempty" env:"SESSION_LOGIN_TTL" envDefault:"336h"`
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.LoginTTL <= 0 {
		return sserr.New(sserr.CodeValidation, "login: login TTL must be positive")
	}
	return nil
}

// CodeExchanger is the slice of [oauth.Exchanger] the flow depends on.
type CodeExchanger interface {
	Provider() string
	AuthorizeURL(kind oauth.RedirectKind) (string, error)
	Exchange(ctx context.Context, code string, kind oauth.RedirectKind) (string, error)
}

// IdentityVerifier is the slice of [jwk.Verifier] the flow depends on.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string, maxAttempts int) (*jwk.IdentityClaims, error)
}

var (
	_ CodeExchanger    = (*oauth.Exchanger)(nil)
	_ IdentityVerifier = (*jwk.Verifier)(nil)
)

// OAuthProfile is the provider profile surfaced to the client when a
// sign-in turns out to be a registration, so the registration form can
// be pre-filled.
type OAuthProfile struct {
	Email          string `json:"email"`
	Name           string `json:"name,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
	GivenName      string `json:"givenName,omitempty"`
	FamilyName     string `json:"familyName,omitempty"`
	Locale         string `json:"locale,omitempty"`
}

// Result is the outcome of a completed sign-in.
type Result struct {
	// UserID is the signed-in user.
	UserID uuid.UUID

	// SessionID is the freshly created session.
	SessionID uuid.UUID

	// Mask is the capability set the session carries.
	Mask session.Mask

	// CSRF is the nonce cookie-authenticated requests must echo.
	CSRF string

	// Registered is true when the sign-in created a new user.
	Registered bool

	// Profile carries the provider profile; set only when Registered.
	Profile *OAuthProfile

	// Token is the encoded session token.
	Token string

	// Cookie is the session cookie carrying Token.
	Cookie *http.Cookie
}

// Flow runs the login orchestration. Safe for concurrent use.
type Flow struct {
	cfg       Config
	exchanger CodeExchanger
	verifier  IdentityVerifier
	db        *postgres.Client
	codec     *token.Codec
	clock     clock.Clock
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewFlow builds a login flow. A nil clk defaults to the system clock;
// a nil logger defaults to [slog.Default].
func NewFlow(cfg Config, exchanger CodeExchanger, verifier IdentityVerifier, db *postgres.Client, codec *token.Codec, clk clock.Clock, logger *slog.Logger) (*Flow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration,
			"login: invalid flow configuration")
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		cfg:       cfg,
		exchanger: exchanger,
		verifier:  verifier,
		db:        db,
		codec:     codec,
		clock:     clk,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// LoginOrRegister redeems an authorization code and signs the subject
// in, registering them first when the provider identity is not yet
// linked to a user.
//
// Capability assignment:
//   - known user with a profile: General, configured login TTL
//   - known user without a profile: PutProfile|DeleteAccount, 1 h
//   - new user: PutProfile, 1 h
//
// Lookup, registration, and session creation run in one transaction;
// an email collision aborts the whole thing and maps to
// [sserr.CodeConflictEmail].
func (f *Flow) LoginOrRegister(ctx context.Context, code string, kind oauth.RedirectKind) (*Result, error) {
	ctx, span := f.tracer.Start(ctx, "login.LoginOrRegister")
	defer span.End()

	idToken, err := f.exchanger.Exchange(ctx, code, kind)
	if err != nil {
		return nil, finishFlowSpan(span, err)
	}

	claims, err := f.verifier.Verify(ctx, idToken, jwk.DefaultVerifyAttempts)
	if err != nil {
		return nil, finishFlowSpan(span, err)
	}

	now := f.clock.Now()

	tx, err := f.db.Begin(ctx)
	if err != nil {
		return nil, finishFlowSpan(span, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		userID     uuid.UUID
		mask       session.Mask
		registered bool
	)
	userID, err = user.FindByOAuthIdentity(ctx, tx, f.exchanger.Provider(), claims.Subject)
	switch {
	case err == nil:
		hasProfile, perr := user.HasProfile(ctx, tx, userID)
		if perr != nil {
			return nil, finishFlowSpan(span, perr)
		}
		if hasProfile {
			mask = session.General
		} else {
			mask = session.RegistrationMask
		}
	case sserr.HasCode(err, sserr.CodeNotFoundUser):
		userID, err = user.CreateWithIdentity(ctx, tx, user.CreateParams{
			Provider:  f.exchanger.Provider(),
			Subject:   claims.Subject,
			Email:     claims.Email,
			CreatedAt: now,
		})
		if err != nil {
			return nil, finishFlowSpan(span, err)
		}
		mask = session.PutProfile
		registered = true
	default:
		return nil, finishFlowSpan(span, err)
	}

	validity := f.cfg.LoginTTL
	if !mask.Contains(session.General) {
		validity = RegistrationValidity
	}
	validUntil := now.Add(validity)

	csrf, err := token.GenerateCSRF()
	if err != nil {
		return nil, finishFlowSpan(span, err)
	}

	sessionID, err := session.Create(ctx, tx, session.CreateParams{
		UserID:     userID,
		Mask:       mask,
		CreatedAt:  now,
		ValidUntil: &validUntil,
	})
	if err != nil {
		return nil, finishFlowSpan(span, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, finishFlowSpan(span, sserr.Wrap(err, sserr.CodeInternalDatabase,
			"login: failed to commit sign-in transaction"))
	}

	tok, cookie, err := f.codec.Encode(token.Payload{
		SessionID: sessionID,
		Mask:      mask,
		IssuedAt:  now,
		ExpiresAt: &validUntil,
		CSRF:      csrf,
	})
	if err != nil {
		return nil, finishFlowSpan(span, err)
	}

	f.logger.InfoContext(ctx, "login: session issued",
		"user_id", userID,
		"session_id", sessionID,
		"mask", mask.String(),
		"registered", registered,
	)

	res := &Result{
		UserID:     userID,
		SessionID:  sessionID,
		Mask:       mask,
		CSRF:       csrf,
		Registered: registered,
		Token:      tok,
		Cookie:     cookie,
	}
	if registered {
		res.Profile = &OAuthProfile{
			Email:          claims.Email,
			Name:           claims.Name,
			ProfilePicture: claims.Picture,
			GivenName:      claims.GivenName,
			FamilyName:     claims.FamilyName,
			Locale:         claims.Locale,
		}
	}
	span.SetStatus(codes.Ok, "")
	return res, nil
}

// Impersonate issues a General session for the target user on behalf of
// an administrator, recording the administrator on the session row. The
// session is short-lived and never outlives [ImpersonationValidity].
func (f *Flow) Impersonate(ctx context.Context, targetUserID, adminUserID uuid.UUID) (*Result, error) {
	ctx, span := f.tracer.Start(ctx, "login.Impersonate")
	defer span.End()

	now := f.clock.Now()
	validUntil := now.Add(ImpersonationValidity)

	csrf, err := token.GenerateCSRF()
	if err != nil {
		return nil, finishFlowSpan(span, err)
	}

	sessionID, err := session.Create(ctx, f.db, session.CreateParams{
		UserID:         targetUserID,
		Mask:           session.General,
		CreatedAt:      now,
		ValidUntil:     &validUntil,
		ImpersonatorID: &adminUserID,
	})
	if err != nil {
		return nil, finishFlowSpan(span, err)
	}

	tok, cookie, err := f.codec.Encode(token.Payload{
		SessionID: sessionID,
		Mask:      session.General,
		IssuedAt:  now,
		ExpiresAt: &validUntil,
		CSRF:      csrf,
	})
	if err != nil {
		return nil, finishFlowSpan(span, err)
	}

	f.logger.InfoContext(ctx, "login: impersonation session issued",
		"user_id", targetUserID,
		"impersonator_id", adminUserID,
		"session_id", sessionID,
	)

	span.SetStatus(codes.Ok, "")
	return &Result{
		UserID:    targetUserID,
		SessionID: sessionID,
		Mask:      session.General,
		CSRF:      csrf,
		Token:     tok,
		Cookie:    cookie,
	}, nil
}

// finishFlowSpan records the error on the span and passes it through.
func finishFlowSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
