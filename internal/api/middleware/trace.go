package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const maxTraceIDLength = 128

// TraceMiddleware propagates the caller's X-Trace-ID (or X-Request-ID) and mints one when
// absent or unusable. The id is echoed back and stamped on problem responses.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := inboundTraceID(r)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx := contextWithTraceID(r.Context(), traceID)
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func inboundTraceID(r *http.Request) string {
	for _, header := range []string{"X-Trace-ID", "X-Request-ID"} {
		id := strings.TrimSpace(r.Header.Get(header))
		if id == "" || len(id) > maxTraceIDLength {
			continue
		}
		if strings.ContainsFunc(id, func(c rune) bool { return c < 0x21 || c > 0x7e }) {
			continue
		}
		return id
	}
	return ""
}

func contextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}
