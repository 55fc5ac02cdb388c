package middleware

import (
	"net/http"
	"time"

	"github.com/lacunahq/lacuna/internal/service"
)

// MeterUsage returns an HTTP middleware that records a usage event for every
// request made with an API key. It must run after Authenticate so the
// credential ID is available; admin sessions are not metered.
//
// Recording happens after the response is written and never influences it. A
// failed write is the usage service's problem to log.
func MeterUsage(usage *service.UsageService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || principal.Type != "api_key" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			usage.Record(r.Context(), principal.CredentialID,
				r.URL.Path, r.Method, ww.status,
				time.Since(start).Milliseconds())
		})
	}
}
