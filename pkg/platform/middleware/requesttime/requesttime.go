// Package requesttime pins a single "now" per request so expiry checks,
// request timestamps, and audit records within one call agree.
package requesttime

import (
	"net/http"
	"time"

	"custody/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
