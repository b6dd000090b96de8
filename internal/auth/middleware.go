package auth

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey struct{}

// TokenFromRequest pulls the bearer token from the Authorization header,
// falling back to the token query parameter for websocket dials, where
// browsers cannot set headers.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if raw, ok := strings.CutPrefix(h, "Bearer "); ok {
			return raw
		}
	}
	return r.URL.Query().Get("token")
}

// Middleware rejects unauthenticated requests and stashes the verified
// claims in the request context.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := TokenFromRequest(r)
			if raw == "" {
				http.Error(w, "missing token", http.StatusUnauthorized)
				return
			}
			claims, err := Verify(secret, raw)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the claims the middleware verified, if any.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ctxKey{}).(*Claims)
	return claims, ok
}
