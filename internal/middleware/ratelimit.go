package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit limits REST requests per caller within the window, keyed by the
// authenticated user when present and falling back to client IP.
func RateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(
			func(r *http.Request) (string, error) {
				if userID := GetUserID(r.Context()); userID != "" {
					return userID, nil
				}
				return httprate.KeyByIP(r)
			},
		),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		}),
	)
}
