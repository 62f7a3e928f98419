package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/HyphaGroup/mcpcore/internal/logger"
)

// Validator reports whether a bearer token is currently valid. A nil
// error means the token is accepted. Implementations may call out to
// an external authority (OAuth introspection, a database); the caller
// is expected to apply its own timeout via ctx.
type Validator func(ctx context.Context, token string) error

// StaticToken returns a Validator that accepts only the given token.
func StaticToken(expected string) Validator {
	return func(_ context.Context, token string) error {
		if token != expected {
			return fmt.Errorf("token mismatch")
		}
		return nil
	}
}

// Options configures Middleware.
type Options struct {
	// Validate checks a presented bearer token. If nil, authentication
	// is disabled and every request is accepted (dev mode).
	Validate Validator
	// ResourceMetadataURL, when set, is advertised in the
	// WWW-Authenticate header of 401 responses so an OAuth-aware
	// client can discover how to obtain a token.
	ResourceMetadataURL string
}

// Middleware creates HTTP middleware enforcing a bearer token per
// spec.md §4.6. Only static-token or async-validator bearer auth is
// supported at the transport boundary; the core does not implement
// richer authorization schemes.
func Middleware(opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if opts.Validate == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				unauthorized(w, opts.ResourceMetadataURL, "Authentication required (Bearer token)")
				return
			}

			token := strings.TrimPrefix(header, "Bearer ")
			if err := opts.Validate(r.Context(), token); err != nil {
				logger.Info("bearer token rejected: %v", err)
				unauthorized(w, opts.ResourceMetadataURL, "Invalid or expired token")
				return
			}

			authCtx := &AuthContext{Type: AuthTypeBearer, Token: token}
			logger.Info("authenticated request with token %s", maskToken(token))

			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), authCtx)))
		})
	}
}

func unauthorized(w http.ResponseWriter, resourceMetadataURL, message string) {
	if resourceMetadataURL != "" {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer resource_metadata=%q, error="invalid_token"`, resourceMetadataURL))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"error": map[string]any{
			"code":    -32001,
			"message": message,
		},
		"id": nil,
	})
}

func maskToken(token string) string {
	if len(token) <= 12 {
		return "***"
	}
	return token[:8] + "..." + token[len(token)-4:]
}
