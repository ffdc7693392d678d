package jwk

import (
	"context"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-identity/pkg/clock"
	sserr "github.com/StricklySoft/stricklysoft-identity/pkg/errors"
)

const (
	testIssuer   = "https://accounts.example.com"
	testAudience = "client-id-123"
)

// identityTokenSpec describes a test identity token. Zero-valued fields
// get sensible defaults from jwkTestSignToken.
type identityTokenSpec struct {
	kid           string
	omitKid       bool
	issuer        string
	audience      string
	subject       string
	email         string
	emailVerified bool
	issuedAt      time.Time
	expiresAt     time.Time
	name          string
	picture       string
}

// jwkTestSignToken signs an RS256 identity token for tests.
func jwkTestSignToken(t *testing.T, priv *rsa.PrivateKey, spec identityTokenSpec) string {
	t.Helper()

	claims := jwt.MapClaims{
		"iss":            spec.issuer,
		"aud":            spec.audience,
		"sub":            spec.subject,
		"email":          spec.email,
		"email_verified": spec.emailVerified,
		"iat":            spec.issuedAt.Unix(),
		"exp":            spec.expiresAt.Unix(),
	}
	if spec.name != "" {
		claims["name"] = spec.name
	}
	if spec.picture != "" {
		claims["picture"] = spec.picture
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if !spec.omitKid {
		token.Header["kid"] = spec.kid
	}

	signed, err := token.SignedString(priv)
	require.NoError(t, err)
	return signed
}

// verifierTestSetup builds a fake clock, a cache holding the given key
// under kid "k1", and a verifier over it.
func verifierTestSetup(t *testing.T, priv *rsa.PrivateKey) (*clock.Fake, *Cache, *Verifier) {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	cache := NewCache(clk)
	cache.Install(map[string]*rsa.PublicKey{"k1": &priv.PublicKey}, time.Hour)

	v, err := NewVerifier(cache, VerifierConfig{Issuer: testIssuer, Audience: testAudience})
	require.NoError(t, err)
	return clk, cache, v
}

// validSpec returns a token spec that verifies successfully at the fake
// clock's start time.
func validSpec(now time.Time) identityTokenSpec {
	return identityTokenSpec{
		kid:           "k1",
		issuer:        testIssuer,
		audience:      testAudience,
		subject:       "subject-1",
		email:         "user@example.com",
		emailVerified: true,
		issuedAt:      now.Add(-time.Minute),
		expiresAt:     now.Add(time.Hour),
	}
}

func TestVerifier_Verify_Success(t *testing.T) {
	t.Parallel()
	priv := jwkTestGenerateKey(t)
	clk, _, v := verifierTestSetup(t, priv)

	spec := validSpec(clk.Now())
	spec.name = "Test User"
	spec.picture = "https://cdn.example.com/p.png"
	token := jwkTestSignToken(t, priv, spec)

	claims, err := v.Verify(context.Background(), token, DefaultVerifyAttempts)
	require.NoError(t, err)
	assert.Equal(t, "subject-1", claims.Subject)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.True(t, claims.EmailVerified)
	assert.Equal(t, testIssuer, claims.Issuer)
	assert.Equal(t, "Test User", claims.Name)
	assert.Equal(t, "https://cdn.example.com/p.png", claims.Picture)
	assert.Equal(t, spec.issuedAt.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, spec.expiresAt.Unix(), claims.ExpiresAt.Unix())
}

func TestVerifier_Verify_Rejections(t *testing.T) {
	t.Parallel()
	priv := jwkTestGenerateKey(t)
	otherKey := jwkTestGenerateKey(t)
	clk, _, v := verifierTestSetup(t, priv)
	now := clk.Now()

	tests := []struct {
		name     string
		token    func(t *testing.T) string
		wantCode sserr.Code
	}{
		{
			name: "garbage token",
			token: func(t *testing.T) string {
				return "not.a.token"
			},
			wantCode: sserr.CodeAuthenticationInvalid,
		},
		{
			name: "missing kid header",
			token: func(t *testing.T) string {
				spec := validSpec(now)
				spec.omitKid = true
				return jwkTestSignToken(t, priv, spec)
			},
			wantCode: sserr.CodeAuthenticationInvalid,
		},
		{
			name: "unknown kid in fresh snapshot",
			token: func(t *testing.T) string {
				spec := validSpec(now)
				spec.kid = "rotated-away"
				return jwkTestSignToken(t, priv, spec)
			},
			wantCode: sserr.CodeAuthenticationInvalid,
		},
		{
			name: "signed by a different key",
			token: func(t *testing.T) string {
				return jwkTestSignToken(t, otherKey, validSpec(now))
			},
			wantCode: sserr.CodeAuthenticationInvalid,
		},
		{
			name: "expired token",
			token: func(t *testing.T) string {
				spec := validSpec(now)
				spec.issuedAt = now.Add(-2 * time.Hour)
				spec.expiresAt = now.Add(-time.Minute)
				return jwkTestSignToken(t, priv, spec)
			},
			wantCode: sserr.CodeAuthenticationExpired,
		},
		{
			name: "issued in the future",
			token: func(t *testing.T) string {
				spec := validSpec(now)
				spec.issuedAt = now.Add(time.Minute)
				return jwkTestSignToken(t, priv, spec)
			},
			wantCode: sserr.CodeAuthenticationInvalid,
		},
		{
			name: "issuer mismatch",
			token: func(t *testing.T) string {
				spec := validSpec(now)
				spec.issuer = "https://evil.example.com"
				return jwkTestSignToken(t, priv, spec)
			},
			wantCode: sserr.CodeAuthenticationInvalid,
		},
		{
			name: "audience mismatch",
			token: func(t *testing.T) string {
				spec := validSpec(now)
				spec.audience = "someone-else"
				return jwkTestSignToken(t, priv, spec)
			},
			wantCode: sserr.CodeAuthenticationInvalid,
		},
		{
			name: "unverified email",
			token: func(t *testing.T) string {
				spec := validSpec(now)
				spec.emailVerified = false
				return jwkTestSignToken(t, priv, spec)
			},
			wantCode: sserr.CodeAuthenticationUnverifiedEmail,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := v.Verify(context.Background(), tt.token(t), DefaultVerifyAttempts)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, sserr.GetCode(err), "error = %v", err)
		})
	}
}

func TestVerifier_Verify_KeysUnavailable(t *testing.T) {
	t.Parallel()
	priv := jwkTestGenerateKey(t)
	clk := clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	cache := NewCache(clk) // initial snapshot: expired, no refresher running

	v, err := NewVerifier(cache, VerifierConfig{Issuer: testIssuer, Audience: testAudience})
	require.NoError(t, err)

	token := jwkTestSignToken(t, priv, validSpec(clk.Now()))

	// Drive the fake clock forward so the verifier's retry sleeps complete.
	done := make(chan error, 1)
	stop := make(chan struct{})
	go func() {
		_, verifyErr := v.Verify(context.Background(), token, 3)
		done <- verifyErr
	}()
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				clk.Advance(RetryAfter)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	select {
	case err := <-done:
		close(stop)
		require.Error(t, err)
		assert.Equal(t, sserr.CodeUnavailableKeys, sserr.GetCode(err), "error = %v", err)
	case <-time.After(2 * time.Second):
		close(stop)
		t.Fatal("Verify did not return")
	}
}

func TestVerifier_Verify_KeyRotation(t *testing.T) {
	t.Parallel()
	oldKey := jwkTestGenerateKey(t)
	newKey := jwkTestGenerateKey(t)

	clk, cache, v := verifierTestSetup(t, oldKey)
	now := clk.Now()

	oldToken := jwkTestSignToken(t, oldKey, validSpec(now))

	// Before rotation the old token verifies.
	_, err := v.Verify(context.Background(), oldToken, DefaultVerifyAttempts)
	require.NoError(t, err)

	// Provider rotates: a new snapshot replaces the old key entirely.
	cache.Install(map[string]*rsa.PublicKey{"k2": &newKey.PublicKey}, time.Hour)

	_, err = v.Verify(context.Background(), oldToken, DefaultVerifyAttempts)
	assert.Equal(t, sserr.CodeAuthenticationInvalid, sserr.GetCode(err),
		"token signed with a rotated-away key should be rejected, got %v", err)

	newSpec := validSpec(now)
	newSpec.kid = "k2"
	newToken := jwkTestSignToken(t, newKey, newSpec)
	_, err = v.Verify(context.Background(), newToken, DefaultVerifyAttempts)
	assert.NoError(t, err, "token signed with the current key should verify")
}

func TestVerifierConfig_Validate(t *testing.T) {
	t.Parallel()

	assert.Error(t, (&VerifierConfig{Audience: "a"}).Validate())
	assert.Error(t, (&VerifierConfig{Issuer: "i"}).Validate())
	assert.NoError(t, (&VerifierConfig{Issuer: "i", Audience: "a"}).Validate())
}
