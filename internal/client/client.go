package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kjstillabower/weather-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/traffic"
)

// WeatherClient fetches data from the remote weather provider. Each call makes at
// most one outbound request unless retries are enabled.
type WeatherClient interface {
	Current(ctx context.Context, q string) (models.CityRecord, error)
	Forecast(ctx context.Context, q string, days int) (models.ForecastRecord, error)
	Search(ctx context.Context, q string) ([]models.LocationSuggestion, error)
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
	ErrTransport        = errors.New("transport failure")
)

const (
	OpCurrent  = "current"
	OpForecast = "forecast"
	OpSearch   = "search"
)

// DefaultForecastDays is used when Forecast is called with days <= 0.
const DefaultForecastDays = 7

// RemoteServiceError describes a failed call to the weather provider.
// Err wraps one of the package sentinels and can be tested with errors.Is.
type RemoteServiceError struct {
	Op         string
	Query      string
	StatusCode int    // 0 when no response was received
	Code       int    // provider error code, 0 when absent
	Message    string // provider or transport message
	Err        error
}

func (e *RemoteServiceError) Error() string {
	msg := fmt.Sprintf("weatherapi %s %q: %v", e.Op, e.Query, e.Err)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d", e.StatusCode)
		if e.Code != 0 {
			msg += fmt.Sprintf(", code %d", e.Code)
		}
		msg += ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *RemoteServiceError) Unwrap() error {
	return e.Err
}

// RetryPolicy controls retries of transient failures (rate limits, 5xx, transport).
// MaxAttempts <= 1 disables retries.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Option configures a WeatherAPIClient.
type Option func(*WeatherAPIClient)

// WithRetry enables retries with exponential backoff.
func WithRetry(p RetryPolicy) Option {
	return func(c *WeatherAPIClient) {
		c.retry = p
	}
}

// WithCircuitBreaker routes every outbound request through cb.
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *WeatherAPIClient) {
		c.breaker = cb
	}
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *WeatherAPIClient) {
		c.client = hc
	}
}

// WithTracker records every call outcome in t. Client errors such as an unknown
// location count as successes; only upstream faults count as errors.
func WithTracker(t *traffic.Tracker) Option {
	return func(c *WeatherAPIClient) {
		c.tracker = t
	}
}

// WeatherAPIClient talks to WeatherAPI.com (current.json, forecast.json, search.json).
type WeatherAPIClient struct {
	apiKey  string
	apiURL  string
	timeout time.Duration
	client  *http.Client
	retry   RetryPolicy
	breaker *circuitbreaker.CircuitBreaker
	tracker *traffic.Tracker
}

// NewWeatherAPIClient creates a client. An empty apiKey is accepted; every call
// then fails with ErrInvalidAPIKey without contacting the provider.
func NewWeatherAPIClient(apiKey, apiURL string, timeout time.Duration, opts ...Option) *WeatherAPIClient {
	c := &WeatherAPIClient{
		apiKey:  apiKey,
		apiURL:  apiURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		retry:   RetryPolicy{MaxAttempts: 1},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current fetches current conditions for q.
func (c *WeatherAPIClient) Current(ctx context.Context, q string) (models.CityRecord, error) {
	var out models.CityRecord
	err := c.get(ctx, OpCurrent, "current.json", q, nil, &out)
	return out, err
}

// Forecast fetches a days-long forecast with air quality for q. days <= 0 means 7.
func (c *WeatherAPIClient) Forecast(ctx context.Context, q string, days int) (models.ForecastRecord, error) {
	if days <= 0 {
		days = DefaultForecastDays
	}
	params := url.Values{}
	params.Set("days", strconv.Itoa(days))
	params.Set("aqi", "yes")
	params.Set("alerts", "no")

	var out models.ForecastRecord
	err := c.get(ctx, OpForecast, "forecast.json", q, params, &out)
	return out, err
}

// Search returns location suggestions matching q.
func (c *WeatherAPIClient) Search(ctx context.Context, q string) ([]models.LocationSuggestion, error) {
	var out []models.LocationSuggestion
	if err := c.get(ctx, OpSearch, "search.json", q, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.LocationSuggestion{}
	}
	return out, nil
}

func (c *WeatherAPIClient) get(ctx context.Context, op, endpoint, q string, params url.Values, out any) error {
	if c.apiKey == "" {
		err := &RemoteServiceError{Op: op, Query: q, Message: "API key is not configured", Err: ErrInvalidAPIKey}
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		return err
	}

	attempt := func() error {
		err := c.callThroughBreaker(ctx, op, endpoint, q, params, out)
		if err != nil && !isRetryable(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var err error
	if c.retry.MaxAttempts <= 1 {
		err = c.callThroughBreaker(ctx, op, endpoint, q, params, out)
	} else {
		err = backoff.RetryNotify(attempt, c.backoffPolicy(ctx), func(error, time.Duration) {
			observability.WeatherAPIRetriesTotal.WithLabelValues(op).Inc()
		})
	}
	c.recordOutcome(err)
	if err == nil {
		return nil
	}
	var rerr *RemoteServiceError
	if !errors.As(err, &rerr) {
		// Backoff returns the bare context error when cancelled between attempts.
		err = &RemoteServiceError{Op: op, Query: q, Message: err.Error(), Err: fmt.Errorf("%w: %w", ErrTransport, err)}
	}
	observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
	return err
}

func (c *WeatherAPIClient) recordOutcome(err error) {
	if c.tracker == nil || errors.Is(err, context.Canceled) {
		return
	}
	if IsUpstreamFault(err) {
		c.tracker.RecordError()
		return
	}
	c.tracker.RecordSuccess()
}

func (c *WeatherAPIClient) backoffPolicy(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	if c.retry.InitialDelay > 0 {
		bo.InitialInterval = c.retry.InitialDelay
	}
	if c.retry.MaxDelay > 0 {
		bo.MaxInterval = c.retry.MaxDelay
	}
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.retry.MaxAttempts-1)), ctx)
}

func (c *WeatherAPIClient) callThroughBreaker(ctx context.Context, op, endpoint, q string, params url.Values, out any) error {
	if c.breaker == nil {
		return c.callAPI(ctx, op, endpoint, q, params, out)
	}
	var callErr error
	err := c.breaker.Call(ctx, func() error {
		callErr = c.callAPI(ctx, op, endpoint, q, params, out)
		return callErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return &RemoteServiceError{
			Op:      op,
			Query:   q,
			Message: "circuit breaker open",
			Err:     fmt.Errorf("%w: %w", ErrUpstreamFailure, circuitbreaker.ErrOpen),
		}
	}
	if err != nil && callErr == nil {
		// Context was already done before the call.
		return &RemoteServiceError{Op: op, Query: q, Message: err.Error(), Err: fmt.Errorf("%w: %w", ErrTransport, err)}
	}
	return err
}

func (c *WeatherAPIClient) callAPI(ctx context.Context, op, endpoint, q string, params url.Values, out any) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, endpoint, q, params)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(op, "error").Inc()
		return &RemoteServiceError{Op: op, Query: q, Message: err.Error(), Err: fmt.Errorf("%w: %w", ErrTransport, err)}
	}

	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues(op, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(op, "error").Observe(duration)
		return &RemoteServiceError{Op: op, Query: q, Message: err.Error(), Err: fmt.Errorf("%w: %w", ErrTransport, err)}
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(op, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(op, status).Observe(duration)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RemoteServiceError{Op: op, Query: q, StatusCode: resp.StatusCode, Message: err.Error(), Err: fmt.Errorf("%w: %w", ErrTransport, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorFromResponse(op, q, resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &RemoteServiceError{
			Op:         op,
			Query:      q,
			StatusCode: resp.StatusCode,
			Message:    "parse response: " + err.Error(),
			Err:        ErrUpstreamFailure,
		}
	}
	return nil
}

func (c *WeatherAPIClient) buildRequest(ctx context.Context, endpoint, q string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	u = u.JoinPath(endpoint)

	query := url.Values{}
	for k, vs := range params {
		query[k] = vs
	}
	query.Set("key", c.apiKey)
	query.Set("q", q)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// apiErrorBody is WeatherAPI's error envelope.
type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorFromResponse(op, q string, statusCode int, body []byte) *RemoteServiceError {
	rerr := &RemoteServiceError{Op: op, Query: q, StatusCode: statusCode}
	var envelope apiErrorBody
	if json.Unmarshal(body, &envelope) == nil {
		rerr.Code = envelope.Error.Code
		rerr.Message = envelope.Error.Message
	}

	switch rerr.Code {
	case 1006:
		rerr.Err = ErrLocationNotFound
		return rerr
	case 1002, 2006, 2008, 2009:
		rerr.Err = ErrInvalidAPIKey
		return rerr
	case 2007:
		rerr.Err = ErrRateLimited
		return rerr
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		rerr.Err = ErrInvalidAPIKey
	case http.StatusNotFound:
		rerr.Err = ErrLocationNotFound
	case http.StatusTooManyRequests:
		rerr.Err = ErrRateLimited
	default:
		rerr.Err = ErrUpstreamFailure
	}
	return rerr
}

// isRetryable reports whether err is transient. Cancellation of the caller's
// context is never retried.
func isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransport) {
		return true
	}
	var rerr *RemoteServiceError
	if errors.As(err, &rerr) && errors.Is(err, ErrUpstreamFailure) {
		return rerr.StatusCode >= 500
	}
	return false
}

// IsUpstreamFault reports whether err reflects provider or network health rather
// than a bad request. Used to classify outcomes for the circuit breaker.
func IsUpstreamFault(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrUpstreamFailure) || errors.Is(err, ErrTransport) || errors.Is(err, ErrRateLimited)
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
