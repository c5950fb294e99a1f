package middleware

import (
	"crypto/subtle"
	"net/http"
)

// RequireInternalAuth middleware ensures the request carries the system secret.
// An empty secret disables the internal endpoints.
func RequireInternalAuth(systemSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if systemSecret == "" {
				writeError(w, "Internal endpoints are disabled", http.StatusServiceUnavailable)
				return
			}

			if r.Header.Get("Authorization") == "" {
				writeError(w, "Missing authorization header", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				writeError(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(token), []byte(systemSecret)) != 1 {
				writeError(w, "Invalid authorization token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
