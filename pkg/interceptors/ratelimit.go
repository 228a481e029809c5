package interceptors

import (
	"errors"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/FACorreiaa/echo-ingest/internal/domain/common"
)

var errRateLimited = errors.New("rate limit exceeded")

// NewRateLimitInterceptor rejects requests with 429 once limiter is exhausted.
func NewRateLimitInterceptor(limiter *rate.Limiter) Interceptor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				_ = common.WriteError(w, http.StatusTooManyRequests, errRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
