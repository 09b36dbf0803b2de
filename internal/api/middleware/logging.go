package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// requestLog accumulates per-request fields for the access log line. Auth
// tags the user onto it once the token resolves; Logger reads it after the
// handler returns. Single goroutine per request, so no locking.
type requestLog struct {
	id     string
	userID string
}

type requestLogKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Logger assigns each request an id (echoed in X-Request-ID) and emits one
// access log line when the handler returns, including the authenticated user
// when auth has run.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		rlog := &requestLog{id: uuid.NewString()}
		w.Header().Set("X-Request-ID", rlog.id)

		next.ServeHTTP(rec, r.WithContext(
			context.WithValue(r.Context(), requestLogKey{}, rlog)))

		attrs := []any{
			"request_id", rlog.id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		}
		if rlog.userID != "" {
			attrs = append(attrs, "user_id", rlog.userID)
		}
		slog.Info("request", attrs...)
	})
}

// RequestID returns the id Logger assigned to this request, or "".
func RequestID(r *http.Request) string {
	if rlog, ok := r.Context().Value(requestLogKey{}).(*requestLog); ok {
		return rlog.id
	}
	return ""
}

func tagRequestUser(r *http.Request, userID string) {
	if rlog, ok := r.Context().Value(requestLogKey{}).(*requestLog); ok {
		rlog.userID = userID
	}
}
