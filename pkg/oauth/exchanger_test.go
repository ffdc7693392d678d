package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-identity/pkg/errors"
)

func oauthTestConfig() Config {
	return Config{
		Provider:            "google",
		ClientID:            "client-id-123",
		ClientSecret:        "client-secret-456",
		AuthEndpoint:        "https://accounts.example.com/auth",
		TokenEndpoint:       "https://accounts.example.com/token",
		LoginRedirectURI:    "https://app.example.com/login",
		RegisterRedirectURI: "https://app.example.com/register",
	}
}

func TestExchanger_AuthorizeURL(t *testing.T) {
	t.Parallel()
	e, err := NewExchanger(oauthTestConfig(), nil)
	require.NoError(t, err)

	raw, err := e.AuthorizeURL(RedirectRegister)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "accounts.example.com", u.Host)
	assert.Equal(t, "/auth", u.Path)

	q := u.Query()
	assert.Equal(t, "client-id-123", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "true", q.Get("include_granted_scopes"))
	assert.Equal(t, "https://app.example.com/register", q.Get("redirect_uri"))
	assert.Equal(t, "openid email", q.Get("scope"))
	assert.Empty(t, q.Get("state"), "state is unused; browsers get a bare authorization URL")
}

func TestExchanger_AuthorizeURL_PerKindRedirect(t *testing.T) {
	t.Parallel()
	e, err := NewExchanger(oauthTestConfig(), nil)
	require.NoError(t, err)

	login, err := e.AuthorizeURL(RedirectLogin)
	require.NoError(t, err)
	register, err := e.AuthorizeURL(RedirectRegister)
	require.NoError(t, err)

	lu, err := url.Parse(login)
	require.NoError(t, err)
	ru, err := url.Parse(register)
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/login", lu.Query().Get("redirect_uri"))
	assert.Equal(t, "https://app.example.com/register", ru.Query().Get("redirect_uri"))
}

func TestExchanger_AuthorizeURL_UnknownKind(t *testing.T) {
	t.Parallel()
	e, err := NewExchanger(oauthTestConfig(), nil)
	require.NoError(t, err)

	_, err = e.AuthorizeURL(RedirectKind("reset-password"))
	assert.True(t, sserr.HasCode(err, sserr.CodeValidation), "error = %v", err)
}

func TestExchanger_Exchange(t *testing.T) {
	t.Parallel()

	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": "unused",
			"id_token":     "header.payload.signature",
		})
	}))
	t.Cleanup(srv.Close)

	cfg := oauthTestConfig()
	cfg.TokenEndpoint = srv.URL
	e, err := NewExchanger(cfg, srv.Client())
	require.NoError(t, err)

	idToken, err := e.Exchange(context.Background(), "auth-code-789", RedirectLogin)
	require.NoError(t, err)
	assert.Equal(t, "header.payload.signature", idToken)

	assert.Equal(t, "auth-code-789", gotForm.Get("code"))
	assert.Equal(t, "client-id-123", gotForm.Get("client_id"))
	assert.Equal(t, "client-secret-456", gotForm.Get("client_secret"))
	assert.Equal(t, "https://app.example.com/login", gotForm.Get("redirect_uri"))
	assert.Equal(t, "authorization_code", gotForm.Get("grant_type"))
}

func TestExchanger_Exchange_ProviderError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	cfg := oauthTestConfig()
	cfg.TokenEndpoint = srv.URL
	e, err := NewExchanger(cfg, srv.Client())
	require.NoError(t, err)

	_, err = e.Exchange(context.Background(), "stale-code", RedirectLogin)
	assert.True(t, sserr.HasCode(err, sserr.CodeUnavailableProvider), "error = %v", err)
	assert.NotContains(t, err.Error(), "invalid_grant", "provider body must not leak into the error")
}

func TestExchanger_Exchange_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	cfg := oauthTestConfig()
	cfg.TokenEndpoint = srv.URL
	e, err := NewExchanger(cfg, nil)
	require.NoError(t, err)

	_, err = e.Exchange(context.Background(), "code", RedirectLogin)
	assert.True(t, sserr.HasCode(err, sserr.CodeUnavailableTransport), "error = %v", err)
}

func TestExchanger_Exchange_UnparseableResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	t.Cleanup(srv.Close)

	cfg := oauthTestConfig()
	cfg.TokenEndpoint = srv.URL
	e, err := NewExchanger(cfg, srv.Client())
	require.NoError(t, err)

	_, err = e.Exchange(context.Background(), "code", RedirectLogin)
	assert.True(t, sserr.HasCode(err, sserr.CodeUnavailableProvider), "error = %v", err)
}

func TestExchanger_Exchange_MissingIDToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "only"})
	}))
	t.Cleanup(srv.Close)

	cfg := oauthTestConfig()
	cfg.TokenEndpoint = srv.URL
	e, err := NewExchanger(cfg, srv.Client())
	require.NoError(t, err)

	_, err = e.Exchange(context.Background(), "code", RedirectLogin)
	assert.True(t, sserr.HasCode(err, sserr.CodeUnavailableProvider), "error = %v", err)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, func() error { c := oauthTestConfig(); return c.Validate() }())

	mutations := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing provider", func(c *Config) { c.Provider = "" }},
		{"missing client id", func(c *Config) { c.ClientID = "" }},
		{"missing client secret", func(c *Config) { c.ClientSecret = "" }},
		{"missing auth endpoint", func(c *Config) { c.AuthEndpoint = "" }},
		{"missing token endpoint", func(c *Config) { c.TokenEndpoint = "" }},
		{"missing login redirect", func(c *Config) { c.LoginRedirectURI = "" }},
		{"missing register redirect", func(c *Config) { c.RegisterRedirectURI = "" }},
	}
	for _, tt := range mutations {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := oauthTestConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, sserr.HasCode(err, sserr.CodeValidation), "error = %v", err)
			assert.Contains(t, err.Error(), "oauth:")
		})
	}
}
