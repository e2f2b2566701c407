package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/audiogate/audiogate/internal/model"
)

// RateLimit returns an HTTP middleware that limits requests per IP address
// to the specified number per minute. Applied to the credential endpoints
// (login, register) to slow down guessing.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(rateLimited),
	)
}

// RateLimitByHeader returns an HTTP middleware that limits requests by a
// header value, typically X-API-Key for per-key limiting.
func RateLimitByHeader(headerName string, requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return r.Header.Get(headerName), nil
		}),
		httprate.WithLimitHandler(rateLimited),
	)
}

func rateLimited(w http.ResponseWriter, r *http.Request) {
	writeAuthError(w, http.StatusTooManyRequests, model.CodeRateLimited,
		"Too many requests, slow down")
}
