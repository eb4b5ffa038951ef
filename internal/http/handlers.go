package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/dashboard"
	"github.com/kjstillabower/weather-dashboard/internal/identity"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/state"
	"github.com/kjstillabower/weather-dashboard/internal/validation"
)

const maxBodyBytes = 1 << 16

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	dash      *dashboard.Dashboard
	session   *identity.Session
	health    *HealthConfig
	logger    *zap.Logger
	validator *validation.Validator
}

// NewHandler returns a new Handler. health may be nil.
func NewHandler(dash *dashboard.Dashboard, session *identity.Session, health *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		dash:      dash,
		session:   session,
		health:    health,
		logger:    logger,
		validator: validation.New(),
	}
}

type addCityRequest struct {
	Q string `json:"q" validate:"required,location"`
}

type setUnitRequest struct {
	Unit string `json:"unit" validate:"required,oneof=C F c f"`
}

type favoritesResponse struct {
	Favorites []string `json:"favorites"`
}

// GetDashboard handles GET /api/dashboard.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dash.View())
}

// PostCity handles POST /api/cities.
func (h *Handler) PostCity(w http.ResponseWriter, r *http.Request) {
	var req addCityRequest
	if !h.decode(w, r, &req) {
		return
	}
	card, err := h.dash.AddCity(r.Context(), req.Q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// GetSearch handles GET /api/search?q=.
func (h *Handler) GetSearch(w http.ResponseWriter, r *http.Request) {
	results, err := h.dash.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// GetForecast handles GET /api/forecast/{location}?days=3|5|7.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	location, err := validation.ValidateLocation(mux.Vars(r)["location"], validation.LocationMinLength, validation.LocationMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_DAYS", dashboard.ErrInvalidDays.Error())
			return
		}
	}
	chart, err := h.dash.Forecast(r.Context(), location, days)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chart)
}

// DeleteForecast handles DELETE /api/forecast.
func (h *Handler) DeleteForecast(w http.ResponseWriter, r *http.Request) {
	h.dash.ClearForecast()
	w.WriteHeader(http.StatusNoContent)
}

// PostToggleFavorite handles POST /api/favorites/{name}/toggle.
func (h *Handler) PostToggleFavorite(w http.ResponseWriter, r *http.Request) {
	name, err := validation.ValidateLocation(mux.Vars(r)["name"], validation.LocationMinLength, validation.LocationMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_FAVORITE", err.Error())
		return
	}
	favorites := h.dash.ToggleFavorite(r.Context(), name)
	writeJSON(w, http.StatusOK, favoritesResponse{Favorites: favorites})
}

// PutFavorite handles PUT /api/favorites/{name}.
func (h *Handler) PutFavorite(w http.ResponseWriter, r *http.Request) {
	h.setFavorite(w, r, true)
}

// DeleteFavorite handles DELETE /api/favorites/{name}.
func (h *Handler) DeleteFavorite(w http.ResponseWriter, r *http.Request) {
	h.setFavorite(w, r, false)
}

func (h *Handler) setFavorite(w http.ResponseWriter, r *http.Request, favorite bool) {
	name, err := validation.ValidateLocation(mux.Vars(r)["name"], validation.LocationMinLength, validation.LocationMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_FAVORITE", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, favoritesResponse{Favorites: h.dash.SetFavorite(r.Context(), name, favorite)})
}

// PutUnit handles PUT /api/unit.
func (h *Handler) PutUnit(w http.ResponseWriter, r *http.Request) {
	var req setUnitRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := models.ParseUnit(req.Unit)
	if err == nil {
		err = h.dash.SetUnit(r.Context(), u)
	}
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_UNIT", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]models.Unit{"unit": u})
}

// GetLogin handles GET /auth/login by redirecting to the provider.
func (h *Handler) GetLogin(w http.ResponseWriter, r *http.Request) {
	loginURL, err := h.session.BeginSignIn()
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	http.Redirect(w, r, loginURL, http.StatusFound)
}

// GetCallback handles GET /auth/callback?state=&code=.
func (h *Handler) GetCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		observability.AuthEventsTotal.WithLabelValues("failure").Inc()
		writeError(w, r, http.StatusUnauthorized, "SIGN_IN_CANCELLED", "sign-in was not completed: "+providerErr)
		return
	}
	user, err := h.session.SignIn(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// PostLogout handles POST /auth/logout.
func (h *Handler) PostLogout(w http.ResponseWriter, r *http.Request) {
	h.session.SignOut()
	w.WriteHeader(http.StatusNoContent)
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return false
	}
	return true
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:      code,
		Message:   message,
		RequestID: observability.CorrelationID(r.Context()),
	}})
}

// serviceErrorStatus maps a dashboard or weather client error to a status and code.
func serviceErrorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, state.ErrEmptyQuery):
		return http.StatusBadRequest, "INVALID_LOCATION", "location is required"
	case errors.Is(err, dashboard.ErrInvalidDays):
		return http.StatusBadRequest, "INVALID_DAYS", err.Error()
	case errors.Is(err, client.ErrLocationNotFound):
		return http.StatusNotFound, "LOCATION_NOT_FOUND", "No matching location found"
	case errors.Is(err, client.ErrRateLimited):
		return http.StatusTooManyRequests, "UPSTREAM_RATE_LIMITED", "Weather provider rate limit reached"
	case errors.Is(err, client.ErrInvalidAPIKey):
		return http.StatusBadGateway, "UPSTREAM_AUTH_FAILED", "Weather provider rejected the API key"
	case errors.Is(err, circuitbreaker.ErrOpen):
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Weather provider temporarily unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "Weather provider did not respond in time"
	}
	return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data"
}

// writeServiceError writes the mapped error response and logs the underlying error at DEBUG.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := serviceErrorStatus(err)
	writeError(w, r, status, code, message)
	observability.LoggerFrom(r.Context(), zap.NewNop()).Debug("request failed",
		zap.String("code", code), zap.Error(err))
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFrom(r.Context(), zap.NewNop())
	switch {
	case errors.Is(err, identity.ErrNotConfigured):
		writeError(w, r, http.StatusServiceUnavailable, "AUTH_NOT_CONFIGURED", "sign-in is not configured")
	case errors.Is(err, identity.ErrInvalidState):
		logger.Warn("sign-in rejected", zap.Error(err))
		writeError(w, r, http.StatusBadRequest, "INVALID_STATE", "sign-in link expired; start again")
	case errors.Is(err, identity.ErrProviderUnavailable):
		logger.Error("identity provider unavailable", zap.Error(err))
		writeError(w, r, http.StatusBadGateway, "PROVIDER_UNAVAILABLE", "identity provider unavailable")
	default:
		logger.Warn("sign-in failed", zap.Error(err))
		writeError(w, r, http.StatusUnauthorized, "SIGN_IN_FAILED", "sign-in failed")
	}
}
