package http

import (
	"context"
	"net/http"
	"time"

	"fiction-server/internal/delivery/http/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// HealthCheck проверка зависимости для /healthz.
type HealthCheck func(ctx context.Context) error

// RouterConfig настройки маршрутизатора.
type RouterConfig struct {
	BasePath       string
	AllowedOrigins []string
	WebSocket      http.Handler
	HealthChecks   map[string]HealthCheck
}

// NewRouter собирает маршруты API, служебные эндпоинты и middleware.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(middleware.Recoverer(logger), middleware.RequestLogger(logger), middleware.PlayerIdentity)

	router.HandleFunc("/healthz", healthHandler(cfg.HealthChecks)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if cfg.WebSocket != nil {
		router.Handle("/ws", cfg.WebSocket).Methods(http.MethodGet)
	}

	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	h.RegisterRoutes(router.PathPrefix(basePath).Subrouter())

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RespondWithError(w, http.StatusNotFound, "маршрут не найден")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RespondWithError(w, http.StatusMethodNotAllowed, "метод не поддерживается")
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", middleware.HeaderPlayerID, middleware.HeaderRequestID},
		ExposedHeaders:   []string{middleware.HeaderRequestID},
		AllowCredentials: true,
	})
	return c.Handler(router)
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{}
		code := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		RespondWithJSON(w, code, map[string]any{"status": http.StatusText(code), "checks": status})
	}
}
