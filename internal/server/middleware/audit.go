package middleware

import (
	"net/http"
	"time"

	"github.com/audiogate/audiogate/internal/audit"
)

// RequestAudit returns the middleware implementing the audit pipeline's
// request lifecycle: it opens a request scope, records the request-received
// event (with the API key already masked), runs the handler, records the
// completion event, and finally synthesizes the request summary. OPTIONS
// preflights are skipped as CORS noise.
func RequestAudit(pipeline *audit.Pipeline) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			ctx, requestID := pipeline.StartRequest(r.Context())
			defer pipeline.EndRequest(ctx)

			start := time.Now()
			w.Header().Set("X-Request-ID", requestID)

			var sessionID string
			if c, err := r.Cookie(SessionCookieName); err == nil {
				sessionID = c.Value
			}

			fields := map[string]any{
				"event":      "request_received",
				"method":     r.Method,
				"path":       r.URL.Path,
				"ip":         r.RemoteAddr,
				"user_agent": r.UserAgent(),
			}
			if sessionID != "" {
				fields["session_id"] = sessionID
			}
			if masked := audit.MaskAPIKey(r.Header.Get(APIKeyHeader)); masked != "" {
				fields["api_key"] = masked
			}
			pipeline.Log(ctx, audit.CategoryAPI, fields)

			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r.WithContext(ctx))

			durationMs := float64(time.Since(start).Microseconds()) / 1000.0
			pipeline.Log(ctx, audit.CategoryAPI, map[string]any{
				"event":       "request_completed",
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.status,
				"ip":          r.RemoteAddr,
				"duration_ms": durationMs,
			})
		})
	}
}
