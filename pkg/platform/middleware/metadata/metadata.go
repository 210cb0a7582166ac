package metadata

import (
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"custody/pkg/requestcontext"
)

// ClientMetadata records the client IP and a parsed client description for
// audit and log correlation. Apply early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientIP(r.Context(), ClientIPFromRequest(r))
		ctx = requestcontext.WithClientAgent(ctx, ClientAgent(r.UserAgent()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientAgent reduces a User-Agent header to "<browser> on <os>", or
// "bot <name>" for crawlers.
func ClientAgent(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "unknown"
	}
	ua := useragent.New(userAgent)
	name, _ := ua.Browser()
	if name == "" {
		name = "unknown"
	}
	if ua.Bot() {
		return "bot " + name
	}
	os := ua.OS()
	if os == "" {
		os = "unknown"
	}
	return name + " on " + os
}

// ClientIPFromRequest extracts the originating IP, honoring proxy headers.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
