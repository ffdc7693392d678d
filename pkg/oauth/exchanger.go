// Package oauth talks to the third-party OAuth 2.0 provider: it builds
// authorization URLs for the browser and exchanges authorization codes
// for identity tokens on the back channel, via golang.org/x/oauth2.
//
// Failures split by who is at fault: the provider answering with a
// non-2xx or an unusable body is [sserr.CodeUnavailableProvider]; not
// reaching the provider at all is [sserr.CodeUnavailableTransport].
// Neither is the caller's fault and both read as 503 at the boundary.
package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	sserr "github.com/StricklySoft/stricklysoft-identity/pkg/errors"
)

// DefaultExchangeTimeout bounds one token-endpoint round trip.
const DefaultExchangeTimeout = 10 * time.Second

// Scope is the scope requested on every authorization URL. Identity
// needs the subject and a verified email address, nothing more.
const Scope = "openid email"

// Exchanger performs the back-channel half of the OAuth flow against
// one provider. Safe for concurrent use.
//
// Providers reject a token exchange whose redirect_uri differs from
// the one the authorization request carried, so the exchanger holds
// one oauth2.Config per registered redirect URI and callers select it
// by [RedirectKind] on both legs of the flow.
type Exchanger struct {
	cfg    Config
	client *http.Client
	flows  map[RedirectKind]*oauth2.Config
}

// NewExchanger builds an exchanger for the configured provider. A nil
// client defaults to [http.DefaultClient].
func NewExchanger(cfg Config, client *http.Client) (*Exchanger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration,
			"oauth: invalid provider configuration")
	}
	if client == nil {
		client = http.DefaultClient
	}

	// AuthStyleInParams sends the client credentials in the request
	// body rather than a Basic auth header, which behaves consistently
	// across provider implementations.
	flows := make(map[RedirectKind]*oauth2.Config, 2)
	for _, kind := range []RedirectKind{RedirectLogin, RedirectRegister} {
		redirect, err := cfg.redirectURI(kind)
		if err != nil {
			return nil, err
		}
		flows[kind] = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret.Value(),
			RedirectURL:  redirect,
			Scopes:       strings.Fields(Scope),
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthEndpoint,
				TokenURL:  cfg.TokenEndpoint,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
	}

	return &Exchanger{cfg: cfg, client: client, flows: flows}, nil
}

// Provider returns the provider's short name.
func (e *Exchanger) Provider() string {
	return e.cfg.Provider
}

// flow resolves a redirect kind to its oauth2.Config.
func (e *Exchanger) flow(kind RedirectKind) (*oauth2.Config, error) {
	fc, ok := e.flows[kind]
	if !ok {
		return nil, sserr.Newf(sserr.CodeValidation,
			"oauth: unknown redirect kind %q", kind)
	}
	return fc, nil
}

// AuthorizeURL builds the provider authorization URL the browser is
// sent to, bound to the redirect URI registered for the given kind.
func (e *Exchanger) AuthorizeURL(kind RedirectKind) (string, error) {
	fc, err := e.flow(kind)
	if err != nil {
		return "", err
	}
	return fc.AuthCodeURL("",
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	), nil
}

// Exchange redeems an authorization code at the provider token endpoint
// and returns the raw identity token. The redirect kind must match the
// one the authorization URL was built with.
func (e *Exchanger) Exchange(ctx context.Context, code string, kind RedirectKind) (string, error) {
	fc, err := e.flow(kind)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultExchangeTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)

	tok, err := fc.Exchange(ctx, code)
	if err != nil {
		return "", mapExchangeError(err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return "", sserr.New(sserr.CodeUnavailableProvider,
			"oauth: provider token response missing id_token")
	}
	return idToken, nil
}

// mapExchangeError classifies a failed token exchange. A non-2xx
// answer surfaces as an *oauth2.RetrieveError; only its status code is
// kept, since the body may echo provider internals to clients. A
// *url.Error means the provider was never reached. Anything else is a
// 2xx with a body the library could not use.
func mapExchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return sserr.Newf(sserr.CodeUnavailableProvider,
			"oauth: provider token endpoint returned %d", retrieveErr.Response.StatusCode)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return sserr.Wrap(err, sserr.CodeUnavailableTransport,
			"oauth: failed to reach provider token endpoint")
	}
	return sserr.New(sserr.CodeUnavailableProvider,
		"oauth: unparseable provider token response")
}
