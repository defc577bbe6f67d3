package middleware

import (
	"crypto/subtle"
	"net/http"
)

const DrainSecretHeader = "X-Drain-Secret"

// RequireDrainSecret guards the drain trigger. An empty secret leaves the
// endpoint open.
func RequireDrainSecret(secret string) func(http.Handler) http.Handler {
	if secret == "" {
		return passthrough
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(DrainSecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid drain secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
