package token

import (
	"encoding/hex"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/StricklySoft/stricklysoft-identity/pkg/config"
	sserr "github.com/StricklySoft/stricklysoft-identity/pkg/errors"
)

// Config holds session-token codec settings.
type Config struct {
	// Secret is the hex-encoded 32-byte key the codec encrypts session
	// tokens with. Rotating it invalidates every outstanding session
	// token at once.
	Secret config.Secret `json:"-" env:"SESSION_TOKEN_SECRET"`

	// CookieDomain is the Domain attribute set on the session cookie.
	// Only applied when the cookie is Secure; a localhost cookie with an
	// explicit domain would be rejected by browsers.
	CookieDomain string `json:"cookie_domain,omitempty" env:"SESSION_COOKIE_DOMAIN"`

	// LocalInsecure drops the Secure attribute from the session cookie
	// so local development over plain HTTP works. Never enable this in a
	// deployed environment.
	LocalInsecure bool `json:"local_insecure,omitempty" env:"SESSION_COOKIE_INSECURE" envDefault:"false"`
}

// Validate checks that the configuration is complete and the secret
// decodes to a key of the required size.
func (c *Config) Validate() error {
	if c.Secret == "" {
		return sserr.New(sserr.CodeValidation, "token: token secret is required")
	}
	key, err := hex.DecodeString(c.Secret.Value())
	if err != nil {
		return sserr.New(sserr.CodeValidation, "token: token secret is not valid hex")
	}
	if len(key) != chacha20poly1305.KeySize {
		return sserr.Newf(sserr.CodeValidation,
			"token: token secret must decode to %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return nil
}

// key returns the decoded encryption key. Callers must Validate first.
func (c *Config) key() ([]byte, error) {
	return hex.DecodeString(c.Secret.Value())
}
