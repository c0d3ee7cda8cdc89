package middleware

import (
	"errors"
	"net/http"

	"github.com/ayo6706/transfer-core/internal/api/problem"
	"go.uber.org/zap"
)

// RecoverMiddleware turns a panicking handler into a 500 problem response. Aborted
// responses (http.ErrAbortHandler) are re-panicked for net/http to handle.
func RecoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("method", r.Method),
					zap.String("trace_id", TraceIDFromContext(r.Context())),
					zap.Stack("stack"),
				)
				problem.WriteWithCode(
					w,
					r,
					http.StatusInternalServerError,
					problem.Type("internal-server-error"),
					http.StatusText(http.StatusInternalServerError),
					"unexpected server error",
					"InternalError",
				)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
