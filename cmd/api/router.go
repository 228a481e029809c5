package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/echo-ingest/internal/domain/common"
	"github.com/FACorreiaa/echo-ingest/pkg/interceptors"
	"github.com/FACorreiaa/echo-ingest/pkg/observability"
)

// HealthChecker reports whether the database is reachable.
type HealthChecker interface {
	Health() error
}

// SetupRouter configures all routes and returns the HTTP service
func SetupRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	jwtSecret := []byte(deps.Config.Auth.JWTSecret)
	if len(jwtSecret) == 0 {
		deps.Logger.Warn("JWT secret is empty; authentication interceptor will reject requests")
	}

	publicPaths := []string{"/health", "/ready", "/metrics"}

	tracer := otel.GetTracerProvider().Tracer("echo/api")

	var rateLimiter interceptors.Interceptor
	if deps.Config.Server.RateLimitPerSecond > 0 && deps.Config.Server.RateLimitBurst > 0 {
		limiter := rate.NewLimiter(
			rate.Limit(float64(deps.Config.Server.RateLimitPerSecond)),
			deps.Config.Server.RateLimitBurst,
		)
		rateLimiter = interceptors.NewRateLimitInterceptor(limiter)
	}

	chain := []interceptors.Interceptor{
		interceptors.NewRequestIDInterceptor("X-Request-ID"),
		interceptors.NewTracingInterceptor(tracer),
		rateLimiter,
		interceptors.NewRecoveryInterceptor(deps.Logger),
		interceptors.NewLoggingInterceptor(deps.Logger),
		interceptors.NewAuthInterceptor(jwtSecret, publicPaths...),
	}

	wrap := func(route string, next http.Handler) http.Handler {
		h := interceptors.Chain(next, chain...)
		if deps.Config.Observability.MetricsEnabled {
			h = observability.Middleware(route, h)
		}
		return wrapAPIRoute(h)
	}

	deps.ImportHandler.Register(mux, wrap)
	deps.Logger.Info("registered import routes", "prefix", "/v1/imports")
	deps.RecurringHandler.Register(mux, wrap)
	deps.Logger.Info("registered recurring routes", "prefix", "/v1/recurring")

	registerUtilityRoutes(mux, deps.DB, deps.Config.Observability.MetricsEnabled, deps.Logger)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "Authorization"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           7200, // Cache preflights for 2 hours
	})

	return corsHandler.Handler(mux)
}

func wrapAPIRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

// registerUtilityRoutes mounts the unauthenticated probes and, when enabled,
// the Prometheus scrape endpoint.
func registerUtilityRoutes(mux *http.ServeMux, db HealthChecker, metricsEnabled bool, logger *slog.Logger) {
	plain := func(w http.ResponseWriter, code int, body string) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(code)
		if _, err := w.Write([]byte(body)); err != nil {
			logger.Error("failed to write probe response", slog.Any("error", err))
		}
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		if err := db.Health(); err != nil {
			plain(w, http.StatusServiceUnavailable, "database unhealthy")
			return
		}
		plain(w, http.StatusOK, "ok")
	})

	mux.HandleFunc("GET /health/details", func(w http.ResponseWriter, _ *http.Request) {
		type check struct {
			Status string `json:"status"`
			Detail string `json:"detail,omitempty"`
		}
		code := http.StatusOK
		checks := map[string]check{"db": {Status: "ok"}, "ready": {Status: "ok"}}
		if err := db.Health(); err != nil {
			code = http.StatusServiceUnavailable
			checks["db"] = check{Status: "fail", Detail: err.Error()}
			checks["ready"] = check{Status: "fail", Detail: "db unavailable"}
		}
		if err := common.WriteJSON(w, code, checks); err != nil {
			logger.Error("failed to encode health details", slog.Any("error", err))
		}
	})

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, _ *http.Request) {
		plain(w, http.StatusOK, "ready")
	})

	paths := []string{"/health", "/health/details", "/ready"}
	if metricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
		paths = append(paths, "/metrics")
	}
	logger.Info("registered utility routes", slog.Any("paths", paths))
}
