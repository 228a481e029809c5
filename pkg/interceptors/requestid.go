package interceptors

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// NewRequestIDInterceptor propagates the incoming request id header, generating one when absent.
func NewRequestIDInterceptor(header string) Interceptor {
	if header == "" {
		header = "X-Request-ID"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(header)
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			w.Header().Set(header, id)
			ctx := context.WithValue(r.Context(), requestIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
