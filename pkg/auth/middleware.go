package auth

import (
	"encoding/json"
	"net/http"

	sserr "github.com/StricklySoft/stricklysoft-identity/pkg/errors"
	"github.com/StricklySoft/stricklysoft-identity/pkg/session"
)

// RequireAuth returns an HTTP middleware that authenticates the request
// and checks its session grants every capability in required. On
// success the Principal is stored in the request context for handlers
// to read with [PrincipalFromContext].
//
// Authentication failures answer 401 with one generic body regardless
// of cause; an authenticated session lacking a capability answers 403.
//
// Example:
//
//	mux.Handle("PUT /v1/profile",
//	    authn.RequireAuth(session.PutProfile)(http.HandlerFunc(handlePutProfile)))
func (a *Authenticator) RequireAuth(required session.Mask) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			p, err := a.Authenticate(ctx, r)
			if err != nil {
				if sserr.FromError(err).HTTPStatus() == http.StatusUnauthorized {
					writeAuthError(w, http.StatusUnauthorized,
						sserr.CodeAuthentication, "unauthenticated")
					return
				}
				// Infrastructure failure, not a credential problem.
				e := sserr.FromError(err)
				writeAuthError(w, e.HTTPStatus(), e.Code, e.Message)
				return
			}

			if !p.Mask.Contains(required) {
				a.logger.DebugContext(ctx, "auth: insufficient capability mask",
					"session_id", p.SessionID,
					"have", p.Mask.String(),
					"need", required.String(),
				)
				writeAuthError(w, http.StatusForbidden,
					sserr.CodeAuthorizationMask, "insufficient capabilities")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(ctx, p)))
		})
	}
}

// writeAuthError writes the JSON error envelope shared with the session
// endpoints.
func writeAuthError(w http.ResponseWriter, status int, code sserr.Code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]map[string]string{
		"error": {
			"code":    string(code),
			"message": message,
		},
	})
}
