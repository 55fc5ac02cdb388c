package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit returns an HTTP middleware that limits requests per client IP
// using a sliding window. Applied globally as a blunt abuse guard in front
// of authentication.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// RateLimitByHeader returns an HTTP middleware that buckets requests by the
// value of a header. For the authenticated surface that header carries the
// API key, so every key gets its own allowance. Requests without the header
// (admin JWT sessions) fall back to per-IP buckets; they must never share a
// single empty-key bucket.
func RateLimitByHeader(headerName string, requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if key := r.Header.Get(headerName); key != "" {
				return key, nil
			}
			return httprate.KeyByIP(r)
		}),
	)
}
