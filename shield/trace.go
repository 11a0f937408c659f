package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/domsig/idgen"
	"github.com/hazyhaar/domsig/kit"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// RequestID assigns a request ID to each request. A valid incoming
// X-Request-ID is kept. The ID is set with kit.WithRequestID and echoed in
// the response. Handlers get a logger carrying it through GetLogger.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := idgen.Parse(r.Header.Get("X-Request-ID"))
			if err != nil {
				id = idgen.New()
			}
			w.Header().Set("X-Request-ID", id)

			ctx := kit.WithTransport(kit.WithRequestID(r.Context(), id), "http")
			l := logger.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx = context.WithValue(ctx, LoggerKey, l)
			l.Debug("shield: request", "remote_addr", r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
