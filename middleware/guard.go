// Package middleware exposes HTTP adapters over authcore.Engine
// verification.
//
// [Guard] reads the Authorization bearer header, calls Engine.Verify, and
// injects the resolved payload into the request context. Every failure mode
// presents as an indistinguishable 401 so the response never leaks whether a
// token was expired, tampered, or orphaned.
//
// # What this package must NOT do
//
//   - Parse or create tokens directly (delegates to Engine).
//   - Make authorization decisions beyond pass/reject from Engine.Verify.
package middleware

import (
	"context"
	"net/http"
	"strings"

	authcore "github.com/mailtrendz/authcore"
)

type payloadContextKey struct{}

// PayloadFromContext returns the verified token payload injected by [Guard].
func PayloadFromContext(ctx context.Context) (authcore.TokenPayload, bool) {
	payload, ok := ctx.Value(payloadContextKey{}).(authcore.TokenPayload)
	return payload, ok
}

// Guard wraps a handler with bearer-token verification.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			payload, err := engine.Verify(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), payloadContextKey{}, payload)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
