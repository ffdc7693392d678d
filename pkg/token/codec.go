// Package token encodes and decodes the opaque session token the
// platform hands to browsers. The token is the JSON payload encrypted
// with XChaCha20-Poly1305 under a process-wide secret: the server can
// recover the session id, capability mask, and CSRF nonce from the
// token alone, and any modification of the ciphertext fails
// authentication outright.
//
// Wire format: "v1.local." followed by base64url(nonce ‖ ciphertext).
// The version prefix leaves room to rotate the construction without
// guessing at what an unprefixed blob is.
package token

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/StricklySoft/stricklysoft-identity/pkg/clock"
	sserr "github.com/StricklySoft/stricklysoft-identity/pkg/errors"
	"github.com/StricklySoft/stricklysoft-identity/pkg/session"
)

const (
	// Prefix identifies the current token construction.
	Prefix = "v1.local."

	// CookieName is the session cookie the codec issues and the request
	// authenticator reads.
	CookieName = "X-AUTH"

	// CSRFLength is the length of the CSRF nonce embedded in every
	// token.
	CSRFLength = 16
)

// Sentinel decode failures. All three carry authentication error codes:
// at the HTTP boundary they collapse to 401, the distinction exists for
// logs and tests.
var (
	// ErrMalformed means the token does not parse as a token at all:
	// wrong prefix, bad base64, or too short to contain a nonce.
	ErrMalformed = sserr.New(sserr.CodeAuthenticationInvalid, "token: malformed session token")

	// ErrTampered means the token parsed but failed AEAD
	// authentication. A flipped bit anywhere in nonce or ciphertext
	// lands here.
	ErrTampered = sserr.New(sserr.CodeAuthenticationInvalid, "token: session token failed authentication")

	// ErrExpired means the token is authentic but its embedded expiry
	// has passed.
	ErrExpired = sserr.New(sserr.CodeAuthenticationExpired, "token: session token expired")
)

// Payload is the plaintext the codec encrypts. Field names are short
// because the encoded payload rides in a cookie on every request.
type Payload struct {
	// SessionID is the persisted session row the token refers to.
	SessionID uuid.UUID `json:"sid"`

	// Mask is the capability set captured at session creation. The
	// authoritative mask lives on the session row; this copy lets
	// handlers reject obviously under-privileged requests before any
	// database work.
	Mask session.Mask `json:"mask"`

	// IssuedAt is the wall-clock encode instant.
	IssuedAt time.Time `json:"iat"`

	// ExpiresAt bounds the token lifetime. Nil tokens live until the
	// session is revoked.
	ExpiresAt *time.Time `json:"exp,omitempty"`

	// CSRF is the per-session nonce a cookie-authenticated request must
	// echo in the X-CSRF header.
	CSRF string `json:"csrf"`
}

// Codec encrypts and decrypts session tokens and builds the matching
// session cookie. Safe for concurrent use.
type Codec struct {
	aead         cipher.AEAD
	cookieDomain string
	insecure     bool
	clock        clock.Clock
}

// NewCodec builds a codec from the given configuration. A nil clk
// defaults to the system clock.
func NewCodec(cfg Config, clk clock.Clock) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration,
			"token: invalid codec configuration")
	}
	key, err := cfg.key()
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration,
			"token: invalid codec configuration")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration,
			"token: failed to initialize cipher")
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Codec{
		aead:         aead,
		cookieDomain: cfg.CookieDomain,
		insecure:     cfg.LocalInsecure,
		clock:        clk,
	}, nil
}

// Encode encrypts the payload and returns the token string together
// with the session cookie carrying it.
//
// The cookie is HttpOnly and SameSite=Lax, Secure unless the codec was
// configured local-insecure, and carries the configured domain only in
// secure mode. Max-Age is the payload's remaining lifetime; a payload
// with no expiry yields a browser-session cookie.
func (c *Codec) Encode(p Payload) (string, *http.Cookie, error) {
	plaintext, err := json.Marshal(p)
	if err != nil {
		return "", nil, sserr.Wrap(err, sserr.CodeInternal,
			"token: failed to marshal payload")
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", nil, sserr.Wrap(err, sserr.CodeInternal,
			"token: failed to generate nonce")
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	tok := Prefix + base64.RawURLEncoding.EncodeToString(sealed)

	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    tok,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !c.insecure,
	}
	if cookie.Secure {
		cookie.Domain = c.cookieDomain
	}
	if p.ExpiresAt != nil {
		remaining := p.ExpiresAt.Sub(c.clock.Now())
		if remaining < 0 {
			remaining = 0
		}
		cookie.MaxAge = int(remaining / time.Second)
	}
	return tok, cookie, nil
}

// Decode decrypts a token string back into its payload. Returns
// [ErrMalformed] when the string is not a token, [ErrTampered] when
// authentication fails, and [ErrExpired] when the embedded expiry has
// passed.
func (c *Codec) Decode(tok string) (*Payload, error) {
	raw, ok := strings.CutPrefix(tok, Prefix)
	if !ok {
		return nil, ErrMalformed
	}
	sealed, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, ErrMalformed
	}
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, ErrMalformed
	}

	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrTampered
	}

	var p Payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		// Authenticated but not our payload shape. Only possible across
		// an incompatible deploy; treat as malformed.
		return nil, ErrMalformed
	}

	if p.ExpiresAt != nil && c.clock.Now().After(*p.ExpiresAt) {
		return nil, ErrExpired
	}
	return &p, nil
}

// csrfAlphabet is the character set CSRF nonces draw from.
const csrfAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateCSRF returns a fresh 16-character alphanumeric CSRF nonce.
func GenerateCSRF() (string, error) {
	max := big.NewInt(int64(len(csrfAlphabet)))
	buf := make([]byte, CSRFLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", sserr.Wrap(err, sserr.CodeInternal,
				"token: failed to generate CSRF nonce")
		}
		buf[i] = csrfAlphabet[n.Int64()]
	}
	return string(buf), nil
}
