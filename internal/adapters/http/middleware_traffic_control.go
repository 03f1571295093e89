package httpadapter

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/akarpov/archivarius/internal/config"
)

const backpressureWait = 50 * time.Millisecond

func trafficControlMiddleware(next http.Handler, cfg config.Config) http.Handler {
	if cfg.APIMaxInFlight > 0 {
		next = backpressureMiddleware(next, cfg.APIMaxInFlight, backpressureWait)
	}
	if cfg.APIRateLimitRPS > 0 {
		next = rateLimitMiddleware(next, cfg.APIRateLimitRPS, cfg.APIRateLimitBurst)
	}
	return next
}

func rateLimitMiddleware(next http.Handler, rps, burst int) http.Handler {
	if burst < 1 {
		burst = rps
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded, retry later",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// backpressureMiddleware bounds in-flight requests. A request that cannot get
// a slot within wait is shed with 503 instead of queueing unboundedly.
func backpressureMiddleware(next http.Handler, maxInFlight int, wait time.Duration) http.Handler {
	gate := semaphore.NewWeighted(int64(maxInFlight))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()

		if err := gate.Acquire(ctx, 1); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "server overloaded, retry later",
			})
			return
		}
		defer gate.Release(1)

		next.ServeHTTP(w, r)
	})
}
