package middleware

import (
	"context"
	"net/http"
	"strings"
)

// OwnerHeader carries the caller identity set by the upstream auth proxy.
const OwnerHeader = "X-Owner-ID"

const ownerIDKey contextKey = "owner_id"

const maxOwnerLength = 128

// Owner copies the owner header into the request context. Requests without
// it are anonymous.
func Owner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if owner == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(owner) > maxOwnerLength {
			writeError(w, http.StatusBadRequest, "bad_request", "owner id too long")
			return
		}
		ctx := context.WithValue(r.Context(), ownerIDKey, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OwnerFromContext returns the owner id, or nil for anonymous requests.
func OwnerFromContext(ctx context.Context) *string {
	if v, ok := ctx.Value(ownerIDKey).(string); ok && v != "" {
		return &v
	}
	return nil
}
