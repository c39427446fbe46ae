// Package ctxutil provides shared context key accessors.
//
// It holds the JWT-claims context key that server's auth middleware
// populates, outside package server, so other packages can read the claims
// without importing server. At present only server imports it.
package ctxutil

import (
	"context"

	"github.com/axiomguard/engine/internal/auth"
)

type contextKey string

const keyClaims contextKey = "claims"

// WithClaims returns a new context carrying the given claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, keyClaims, claims)
}

// ClaimsFromContext extracts the JWT claims from the context, or nil if none
// were set (should not happen on an authenticated request path).
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}
