package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/traffic"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	RequestTimeout time.Duration
	// Limiter guards /api routes; nil disables rate limiting.
	Limiter *rate.Limiter
	// Denials records rate-limit denials; may be nil.
	Denials *traffic.Tracker
}

// NewRouter wires every route behind correlation-id, metrics and gzip middleware.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) http.Handler {
	router := mux.NewRouter()
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	// Subrouters report a method mismatch as 404 unless they carry their own handler.
	api.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	api.Use(RateLimitMiddleware(cfg.Limiter, cfg.Denials))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.HandleFunc("/dashboard", h.GetDashboard).Methods(http.MethodGet)
	api.HandleFunc("/cities", h.PostCity).Methods(http.MethodPost)
	api.HandleFunc("/search", h.GetSearch).Methods(http.MethodGet)
	api.HandleFunc("/forecast", h.DeleteForecast).Methods(http.MethodDelete)
	api.HandleFunc("/forecast/{location}", h.GetForecast).Methods(http.MethodGet)
	api.HandleFunc("/favorites/{name}", h.PutFavorite).Methods(http.MethodPut)
	api.HandleFunc("/favorites/{name}", h.DeleteFavorite).Methods(http.MethodDelete)
	api.HandleFunc("/favorites/{name}/toggle", h.PostToggleFavorite).Methods(http.MethodPost)
	api.HandleFunc("/unit", h.PutUnit).Methods(http.MethodPut)

	auth := router.PathPrefix("/auth").Subrouter()
	auth.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	auth.HandleFunc("/login", h.GetLogin).Methods(http.MethodGet)
	auth.HandleFunc("/callback", h.GetCallback).Methods(http.MethodGet)
	auth.HandleFunc("/logout", h.PostLogout).Methods(http.MethodPost)

	return gzhttp.GzipHandler(router)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", r.Method+" is not supported on "+r.URL.Path)
}
