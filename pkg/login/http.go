package login

import (
	"encoding/json"
	"log/slog"
	"net/http"

	sserr "github.com/StricklySoft/stricklysoft-identity/pkg/errors"
	"github.com/StricklySoft/stricklysoft-identity/pkg/oauth"
)

// maxLoginBody caps the sign-in request body. An authorization code and
// a redirect kind fit in far less.
const maxLoginBody = 16 << 10

// Handler serves the session HTTP endpoints:
//
//	POST /v1/session/oauth                      sign in / register
//	GET  /v1/session/oauth/url/{service}/{kind} provider authorization URL
type Handler struct {
	flow   *Flow
	logger *slog.Logger
}

// NewHandler builds the session endpoint handler. A nil logger defaults
// to [slog.Default].
func NewHandler(flow *Flow, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{flow: flow, logger: logger}
}

// Register attaches the session routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/session/oauth", h.handleSignIn)
	mux.HandleFunc("GET /v1/session/oauth/url/{service}/{kind}", h.handleAuthorizeURL)
}

// signInRequest is the sign-in request body. State is accepted for
// compatibility with provider redirects that echo it, and dropped: no
// server-side state is established before the redirect, so there is
// nothing to compare it against.
type signInRequest struct {
	Code         string `json:"code"`
	RedirectKind string `json:"redirect_kind"`
	State        string `json:"state,omitempty"`
}

// loginResponse is the body returned for a sign-in by an existing user.
type loginResponse struct {
	CSRF string `json:"csrf"`
}

// registerResponse is the body returned when the sign-in registered a
// new user.
type registerResponse struct {
	CSRF         string        `json:"csrf"`
	OAuthProfile *OAuthProfile `json:"oauthProfile"`
}

// signInResponse wraps the two sign-in outcomes; exactly one field is
// set.
type signInResponse struct {
	Login    *loginResponse    `json:"login,omitempty"`
	Register *registerResponse `json:"register,omitempty"`
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req signInRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil {
		h.writeError(w, r, sserr.Wrap(err, sserr.CodeValidation,
			"login: unparseable request body"))
		return
	}
	if req.Code == "" {
		h.writeError(w, r, sserr.New(sserr.CodeValidationRequired,
			"login: code is required"))
		return
	}
	kind := oauth.RedirectKind(req.RedirectKind)
	if kind != oauth.RedirectLogin && kind != oauth.RedirectRegister {
		h.writeError(w, r, sserr.Newf(sserr.CodeValidation,
			"login: unknown redirect kind %q", req.RedirectKind))
		return
	}

	res, err := h.flow.LoginOrRegister(ctx, req.Code, kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	http.SetCookie(w, res.Cookie)

	body := signInResponse{}
	if res.Registered {
		body.Register = &registerResponse{CSRF: res.CSRF, OAuthProfile: res.Profile}
	} else {
		body.Login = &loginResponse{CSRF: res.CSRF}
	}
	h.writeJSON(w, r, http.StatusCreated, body)
}

// authorizeURLResponse is the body of the authorization URL endpoint.
type authorizeURLResponse struct {
	URL string `json:"url"`
}

func (h *Handler) handleAuthorizeURL(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	if service != h.flow.exchanger.Provider() {
		h.writeError(w, r, sserr.Newf(sserr.CodeNotFound,
			"login: unknown oauth service %q", service))
		return
	}

	kind := oauth.RedirectKind(r.PathValue("kind"))
	u, err := h.flow.exchanger.AuthorizeURL(kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, authorizeURLResponse{URL: u})
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps an error to its HTTP status and writes the JSON
// envelope. Authentication failures collapse to one generic 401 body;
// the sub-cause stays in the log line only, so a caller cannot probe
// which check a forged token failed.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := sserr.FromError(err)
	status := e.HTTPStatus()

	h.logger.WarnContext(r.Context(), "login: request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"code", string(e.Code),
		"error", err,
	)

	body := errorResponse{Error: errorBody{Code: string(e.Code), Message: e.Message}}
	if status == http.StatusUnauthorized {
		body.Error = errorBody{Code: string(sserr.CodeAuthentication), Message: "unauthenticated"}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeJSON writes a JSON response body with the given status.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.ErrorContext(r.Context(), "login: failed to encode response",
			"path", r.URL.Path,
			"error", err,
		)
	}
}
