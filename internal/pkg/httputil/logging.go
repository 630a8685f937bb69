package httputil

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bissquit/mention-relay/internal/pkg/ctxlog"
	"github.com/go-chi/chi/v5/middleware"
)

// probePaths are logged at debug level so orchestrator probes do not flood the log.
var probePaths = map[string]bool{"/healthz": true, "/readyz": true}

// RequestLoggerMiddleware puts a request-scoped logger carrying request_id into
// the context and logs one line per request.
func RequestLoggerMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := middleware.GetReqID(r.Context())
			logger := base.With("request_id", reqID)
			ctx := ctxlog.WithLogger(r.Context(), logger)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			level := slog.LevelInfo
			if probePaths[r.URL.Path] && ww.Status() < http.StatusInternalServerError {
				level = slog.LevelDebug
			}
			logger.Log(ctx, level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}
