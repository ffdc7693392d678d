package oauth

import (
	"github.com/StricklySoft/stricklysoft-identity/pkg/config"
	sserr "github.com/StricklySoft/stricklysoft-identity/pkg/errors"
)

// RedirectKind selects which registered redirect URI an authorization
// flow uses. Providers reject a token exchange whose redirect_uri does
// not match the one the authorization request was issued with, so the
// kind chosen at URL-building time must be echoed at exchange time.
type RedirectKind string

const (
	// RedirectLogin is the redirect URI registered for the login page.
	RedirectLogin RedirectKind = "login"

	// RedirectRegister is the redirect URI registered for the
	// registration page.
	RedirectRegister RedirectKind = "register"
)

// Config holds the settings for one OAuth provider.
type Config struct {
	// Provider is the provider's short name, used as the identity
	// namespace in storage and in URL routing.
	Provider string `json:"provider" env:"OAUTH_PROVIDER" envDefault:"google"`

	// ClientID is the OAuth client id issued by the provider.
	ClientID string `json:"client_id" env:"OAUTH_CLIENT_ID"`

	// ClientSecret is the OAuth client secret issued by the provider.
	ClientSecret config.Secret `json:"-" env:"OAUTH_CLIENT_SECRET"`

	// AuthEndpoint is the provider's authorization endpoint.
	AuthEndpoint string `json:"auth_endpoint" env:"OAUTH_AUTH_ENDPOINT" envDefault:"https://accounts.google.com/o/oauth2/v2/auth"`

	// TokenEndpoint is the provider's token endpoint.
	TokenEndpoint string `json:"token_endpoint" env:"OAUTH_TOKEN_ENDPOINT" envDefault:"https://oauth2.googleapis.com/token"`

	// LoginRedirectURI is the redirect URI registered for login.
	LoginRedirectURI string `json:"login_redirect_uri" env:"OAUTH_LOGIN_REDIRECT_URI"`

	// RegisterRedirectURI is the redirect URI registered for
	// registration.
	RegisterRedirectURI string `json:"register_redirect_uri" env:"OAUTH_REGISTER_REDIRECT_URI"`
}

// Validate checks that the configuration is complete.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return sserr.New(sserr.CodeValidation, "oauth: provider is required")
	}
	if c.ClientID == "" {
		return sserr.New(sserr.CodeValidation, "oauth: client id is required")
	}
	if c.ClientSecret == "" {
		return sserr.New(sserr.CodeValidation, "oauth: client secret is required")
	}
	if c.AuthEndpoint == "" {
		return sserr.New(sserr.CodeValidation, "oauth: auth endpoint is required")
	}
	if c.TokenEndpoint == "" {
		return sserr.New(sserr.CodeValidation, "oauth: token endpoint is required")
	}
	if c.LoginRedirectURI == "" {
		return sserr.New(sserr.CodeValidation, "oauth: login redirect URI is required")
	}
	if c.RegisterRedirectURI == "" {
		return sserr.New(sserr.CodeValidation, "oauth: register redirect URI is required")
	}
	return nil
}

// redirectURI resolves a redirect kind to its registered URI.
func (c *Config) redirectURI(kind RedirectKind) (string, error) {
	switch kind {
	case RedirectLogin:
		return c.LoginRedirectURI, nil
	case RedirectRegister:
		return c.RegisterRedirectURI, nil
	default:
		return "", sserr.Newf(sserr.CodeValidation,
			"oauth: unknown redirect kind %q", kind)
	}
}
