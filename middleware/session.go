package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/mindgate"
)

// Validator checks access tokens. *mindgate.Engine satisfies it.
type Validator interface {
	Validate(ctx context.Context, accessToken string) (*mindgate.AuthResult, error)
}

// TokenSource supplies an access token when the request carries none,
// typically from the device's stored session.
type TokenSource func(r *http.Request) (string, bool)

type authResultContextKey struct{}

// AuthResultFromContext returns the result stored by RequireSession.
func AuthResultFromContext(ctx context.Context) (*mindgate.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*mindgate.AuthResult)
	return res, ok
}

// WithAuthResult stores res in ctx.
func WithAuthResult(ctx context.Context, res *mindgate.AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// RequireSession rejects requests without a valid access token with 401.
// A backend outage yields 503 so clients do not discard their session.
func RequireSession(v Validator, fallback TokenSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok && fallback != nil {
				token, ok = fallback(r)
			}
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			res, err := v.Validate(r.Context(), token)
			if err != nil {
				if errors.Is(err, mindgate.ErrBackendUnavailable) {
					writeError(w, http.StatusServiceUnavailable, "auth backend unavailable")
					return
				}
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthResult(r.Context(), res)))
		})
	}
}

// RequireBearer is RequireSession without a fallback token source.
func RequireBearer(v Validator) func(http.Handler) http.Handler {
	return RequireSession(v, nil)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
