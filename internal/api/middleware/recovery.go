package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/rbailey/tutorialforge/internal/api/response"
)

// Recovery converts a handler panic into a 500 response. The log line carries
// the request id so the panic can be matched to its access log entry.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered",
					"error", err,
					"request_id", RequestID(r),
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				response.Error(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "An unexpected error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
