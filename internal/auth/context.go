package auth

import "context"

type ctxKey struct{}

// WithContext returns a context carrying the given auth context.
func WithContext(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, auth)
}

// FromContext extracts the auth context stored by Middleware, if any.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(ctxKey{}).(*AuthContext)
	return auth
}
