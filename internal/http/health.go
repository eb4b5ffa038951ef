package http

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/lifecycle"
	"github.com/kjstillabower/weather-dashboard/internal/traffic"
)

// HealthConfig holds the inputs of the health handler.
type HealthConfig struct {
	Version string
	// APIKeyConfigured is false when the service started without a weather API key.
	APIKeyConfigured bool
	// Upstream records weather API outcomes; nil disables the error-rate check.
	Upstream         *traffic.Tracker
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// Checks are dependency pings by name (storage, cache, documents).
	Checks      map[string]func(ctx context.Context) error
	PingTimeout time.Duration

	mu   sync.Mutex
	prev string
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

type healthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
	Uptime    string            `json:"uptime"`
	Timestamp string            `json:"timestamp"`
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	version := "dev"
	if h.health != nil {
		if h.health.Version != "" {
			version = h.health.Version
		}
		h.health.mu.Lock()
		prev := h.health.prev
		if prev != "" && prev != result.status {
			h.logger.Info("health status transition",
				zap.String("previous_status", prev),
				zap.String("current_status", result.status),
				zap.String("reason", result.reason))
		}
		h.health.prev = result.status
		h.health.mu.Unlock()
	}

	writeJSON(w, result.statusCode, healthResponse{
		Status:    result.status,
		Service:   "weather-dashboard",
		Version:   version,
		Checks:    result.checks,
		Uptime:    lifecycle.Uptime().Truncate(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > dependency down > API key missing > error-rate breach > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	checks := map[string]string{}
	switch lifecycle.CurrentPhase() {
	case lifecycle.PhaseShuttingDown:
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", checks}
	case lifecycle.PhaseStarting:
		return healthResult{"starting", http.StatusServiceUnavailable, "not_ready", checks}
	}
	cfg := h.health
	if cfg == nil {
		return healthResult{"healthy", http.StatusOK, "", checks}
	}

	failed := h.runChecks(ctx, checks)
	if !cfg.APIKeyConfigured {
		checks["weatherApi"] = "unconfigured"
	} else if cfg.Upstream != nil && cfg.Upstream.Breached(cfg.DegradedWindow, cfg.DegradedErrorPct) {
		checks["weatherApi"] = "unhealthy"
	} else {
		checks["weatherApi"] = "healthy"
	}

	switch {
	case len(failed) > 0:
		return healthResult{"unhealthy", http.StatusServiceUnavailable, "dependency_down:" + failed[0], checks}
	case checks["weatherApi"] == "unconfigured":
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_missing", checks}
	case checks["weatherApi"] == "unhealthy":
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach", checks}
	}
	return healthResult{"healthy", http.StatusOK, "", checks}
}

// runChecks pings every dependency and returns the sorted names of those that failed.
func (h *Handler) runChecks(ctx context.Context, checks map[string]string) []string {
	timeout := h.health.PingTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	var failed []string
	for name, ping := range h.health.Checks {
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		err := ping(pingCtx)
		cancel()
		if err != nil {
			checks[name] = "unhealthy"
			failed = append(failed, name)
			h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		checks[name] = "healthy"
	}
	sort.Strings(failed)
	return failed
}
