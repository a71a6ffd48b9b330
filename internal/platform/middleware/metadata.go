package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"escorte/pkg/requestcontext"
)

// RequestMetadata assigns a request ID, pins one timestamp for the whole
// request, and captures client IP and a human-readable device description
// for audit records. This middleware should be applied early in the chain.
func RequestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		ctx = requestcontext.WithRequestID(ctx, requestID)
		ctx = requestcontext.WithClientMetadata(ctx,
			clientIPFromRequest(r),
			DescribeUserAgent(r.Header.Get("User-Agent")),
		)
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DescribeUserAgent renders a raw User-Agent header as "Browser on OS".
func DescribeUserAgent(raw string) string {
	if raw == "" {
		return "Unknown Device"
	}
	ua := useragent.New(raw)
	name, _ := ua.Browser()
	os := ua.OSInfo().Name
	if name == "" {
		name = "Unknown"
	}
	if os == "" {
		os = ua.Platform()
	}
	return strings.TrimSpace(name + " on " + os)
}

// clientIPFromRequest extracts the real client IP, handling proxies and load balancers.
func clientIPFromRequest(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs; the first is the original client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	// RemoteAddr is "ip:port" (IPv6: "[::1]:port")
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}
	return "unknown"
}
