// Package auth authenticates incoming HTTP requests against the
// session store: it extracts the session token from the request,
// decodes it, loads the session row, and puts the resulting
// [Principal] in the request context for handlers to read.
package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/StricklySoft/stricklysoft-identity/pkg/session"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	// UserID is the user the session belongs to.
	UserID uuid.UUID

	// SessionID is the session that authenticated the request.
	SessionID uuid.UUID

	// Mask is the session's capability set, read from the session row
	// rather than the token so a capability change takes effect without
	// reissuing tokens.
	Mask session.Mask

	// Impersonator is set when the session was issued by an
	// administrator on the user's behalf.
	Impersonator *uuid.UUID
}

// contextKey is an unexported type used for context keys in this package.
// Using a distinct type prevents collisions with keys from other packages.
type contextKey int

// principalKey stores the authenticated Principal in the context.
const principalKey contextKey = iota

// ContextWithPrincipal returns a new context with the given Principal
// attached. The principal can later be retrieved with
// [PrincipalFromContext].
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext retrieves the Principal from the context.
// Returns the principal and true if present, or nil and false if the
// request was not authenticated.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

// MustPrincipalFromContext retrieves the Principal from the context,
// panicking if none is present. Use only behind [Authenticator.RequireAuth].
func MustPrincipalFromContext(ctx context.Context) *Principal {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		panic("auth: no principal in context; ensure authentication middleware is configured")
	}
	return p
}
