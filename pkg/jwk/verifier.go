package jwk

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-identity/pkg/clock"
	sserr "github.com/StricklySoft/stricklysoft-identity/pkg/errors"
)

// IssuedAtSkew is the tolerance applied when checking that an identity
// token's iat claim is not in the future. The provider and this service
// are both NTP-disciplined, so the tolerance is zero; widen it here if a
// deployment's clocks drift.
const IssuedAtSkew = 0 * time.Second

// DefaultVerifyAttempts is the number of key-cache lookups Verify makes
// before giving up on an expired snapshot.
const DefaultVerifyAttempts = 3

// IdentityClaims is the validated payload of a third-party identity
// token. Profile fields beyond Email are present only when the provider
// includes them.
type IdentityClaims struct {
	Issuer          string `json:"iss"`
	AuthorizedParty string `json:"azp"`
	Audience        string `json:"-"`
	Subject         string `json:"sub"`
	Email           string `json:"email"`
	EmailVerified   bool   `json:"email_verified"`
	Name            string `json:"name,omitempty"`
	Picture         string `json:"picture,omitempty"`
	GivenName       string `json:"given_name,omitempty"`
	FamilyName      string `json:"family_name,omitempty"`
	Locale          string `json:"locale,omitempty"`

	IssuedAt  time.Time `json:"-"`
	ExpiresAt time.Time `json:"-"`
}

// wireClaims is the jwt/v5 claims type Verify parses into. It embeds
// RegisteredClaims so the library's issuer/audience/exp/iat validation
// applies, plus the provider's profile claims.
type wireClaims struct {
	jwt.RegisteredClaims
	AuthorizedParty string `json:"azp"`
	Email           string `json:"email"`
	EmailVerified   bool   `json:"email_verified"`
	Name            string `json:"name"`
	Picture         string `json:"picture"`
	GivenName       string `json:"given_name"`
	FamilyName      string `json:"family_name"`
	Locale          string `json:"locale"`
}

// VerifierConfig configures identity-token verification.
type VerifierConfig struct {
	// Issuer is the required iss claim value.
	// Environment variable: IDENTITY_ISSUER
	Issuer string `json:"issuer" yaml:"issuer" env:"IDENTITY_ISSUER" required:"true"`

	// Audience is the required aud claim value (the OAuth client id).
	// Environment variable: IDENTITY_AUDIENCE
	Audience string `json:"audience" yaml:"audience" env:"IDENTITY_AUDIENCE" required:"true"`
}

// Validate checks that issuer and audience are configured.
func (c *VerifierConfig) Validate() error {
	if c.Issuer == "" {
		return sserr.New(sserr.CodeValidationRequired, "jwk: verifier issuer must not be empty")
	}
	if c.Audience == "" {
		return sserr.New(sserr.CodeValidationRequired, "jwk: verifier audience must not be empty")
	}
	return nil
}

// Verifier validates third-party identity tokens against the key cache.
// It is safe for concurrent use.
type Verifier struct {
	cache  *Cache
	cfg    VerifierConfig
	clock  clock.Clock
	tracer trace.Tracer
}

// NewVerifier builds a Verifier over the given cache.
func NewVerifier(cache *Cache, cfg VerifierConfig) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Verifier{
		cache:  cache,
		cfg:    cfg,
		clock:  cache.clock,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Verify validates a raw identity token and returns its claims.
//
// maxAttempts bounds how many times an expired key snapshot is retried
// (sleeping until the snapshot's retry instant between attempts); pass
// [DefaultVerifyAttempts] unless the caller has its own budget.
//
// Error codes:
//   - [sserr.CodeAuthenticationInvalid]: malformed token, missing or
//     unknown key id, bad signature, issuer/audience mismatch, or a
//     future-dated iat
//   - [sserr.CodeAuthenticationExpired]: exp in the past
//   - [sserr.CodeAuthenticationUnverifiedEmail]: provider has not
//     verified the subject's email address
//   - [sserr.CodeUnavailableKeys]: no fresh key snapshot within the
//     retry budget
func (v *Verifier) Verify(ctx context.Context, token string, maxAttempts int) (*IdentityClaims, error) {
	ctx, span := v.tracer.Start(ctx, "jwk.Verify")
	defer span.End()

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(IssuedAtSkew),
		jwt.WithTimeFunc(v.clock.Now),
	)

	claims := &wireClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, sserr.New(sserr.CodeAuthenticationInvalid,
				"jwk: token header has no key id")
		}
		span.SetAttributes(attribute.String("jwk.kid", kid))
		return v.resolveKey(ctx, kid, maxAttempts)
	})
	if err != nil {
		classified := classifyTokenError(err)
		span.RecordError(classified)
		span.SetStatus(codes.Error, classified.Error())
		return nil, classified
	}
	if !parsed.Valid {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "jwk: token failed validation")
	}

	if !claims.EmailVerified {
		err := sserr.New(sserr.CodeAuthenticationUnverifiedEmail,
			"jwk: provider has not verified the subject's email address")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := &IdentityClaims{
		Issuer:          claims.Issuer,
		AuthorizedParty: claims.AuthorizedParty,
		Audience:        v.cfg.Audience,
		Subject:         claims.Subject,
		Email:           claims.Email,
		EmailVerified:   claims.EmailVerified,
		Name:            claims.Name,
		Picture:         claims.Picture,
		GivenName:       claims.GivenName,
		FamilyName:      claims.FamilyName,
		Locale:          claims.Locale,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}

	span.SetStatus(codes.Ok, "")
	return out, nil
}

// resolveKey looks the key id up in the cache, sleeping through expired
// snapshots until the attempt budget is spent.
func (v *Verifier) resolveKey(ctx context.Context, kid string, maxAttempts int) (any, error) {
	for attempt := 0; ; attempt++ {
		key, ok, err := v.cache.Lookup(kid)
		if err == nil {
			if !ok {
				// Fresh snapshot without this kid: the token references
				// a key the provider no longer serves.
				return nil, sserr.Newf(sserr.CodeAuthenticationInvalid,
					"jwk: token signed with unknown key %q", kid)
			}
			return key, nil
		}

		var notReady *NotReadyError
		if !errors.As(err, &notReady) {
			return nil, err
		}
		if attempt+1 >= maxAttempts {
			return nil, sserr.New(sserr.CodeUnavailableKeys,
				"jwk: no fresh signing keys available")
		}
		if sleepErr := v.clock.SleepUntil(ctx, notReady.RetryAt); sleepErr != nil {
			return nil, sserr.Wrap(sleepErr, sserr.CodeUnavailableKeys,
				"jwk: interrupted while waiting for fresh signing keys")
		}
	}
}

// classifyTokenError maps jwt/v5 parse errors and keyfunc errors onto the
// identity error codes. Structured errors surfaced from the keyfunc pass
// through unchanged.
func classifyTokenError(err error) *sserr.Error {
	if structured, ok := sserr.AsError(err); ok {
		return structured
	}

	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "jwk: token is malformed")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "jwk: token signature is invalid")
	case errors.Is(err, jwt.ErrTokenExpired):
		return sserr.Wrap(err, sserr.CodeAuthenticationExpired, "jwk: token has expired")
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "jwk: token issued in the future")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "jwk: token issuer mismatch")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "jwk: token audience mismatch")
	default:
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "jwk: token failed validation")
	}
}
