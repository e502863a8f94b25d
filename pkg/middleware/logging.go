package middleware

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/isopen-io/meeshy-sub020/pkg/logging"
)

// RequestLogger tags every request with a fresh request id, injects a
// request-scoped child logger into the context, and logs the request at
// entry. Downstream code retrieves the logger with logging.FromContext.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := uuid.NewString()
			reqLog := log.With(
				logging.RequestID(reqID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)
			w.Header().Set("X-Request-ID", reqID)
			reqLog.Info("request started")
			next.ServeHTTP(w, r.WithContext(logging.WithContext(r.Context(), reqLog)))
		})
	}
}
