package interceptors

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/FACorreiaa/echo-ingest/internal/domain/common"
)

// NewRecoveryInterceptor turns handler panics into 500 responses.
func NewRecoveryInterceptor(logger *slog.Logger) Interceptor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("panic", fmt.Sprint(rec)),
					slog.String("stack", string(debug.Stack())),
				)
				_ = common.WriteError(w, http.StatusInternalServerError, nil)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
