package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/weather-dashboard/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// WeatherAPI call rate by operation (current, forecast, search). Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// External API latency per request. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts for weather API. Only non-zero when retries are enabled.
	WeatherAPIRetriesTotal *prometheus.CounterVec

	// Weather API failures by category (see client.CategorizeError).
	WeatherAPIErrorsTotal *prometheus.CounterVec

	// Fresh cache entries served without a remote call.
	CacheHitsTotal prometheus.Counter

	// Lookups that went to the remote API (absent or stale entry).
	CacheMissesTotal prometheus.Counter

	// Swallowed local persistence failures by op (get, set, encode, decode).
	PersistenceFailuresTotal *prometheus.CounterVec

	// Fetch-current requests per location (allow-list; others go to "other").
	WeatherQueriesByLocationTotal *prometheus.CounterVec

	// Poll batches run. Watch for: flat line while users are signed in.
	PollRunsTotal prometheus.Counter

	// Per-location poll failures. Failures are swallowed so this is the only signal.
	PollFailuresTotal *prometheus.CounterVec

	// Circuit breaker state per breaker: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState *prometheus.GaugeVec

	// Sign-in, sign-out and failed auth events.
	AuthEventsTotal *prometheus.CounterVec

	// Failed writes of the remote favorites document.
	FavoritesSyncFailuresTotal prometheus.Counter

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	trackedLocationsMu sync.RWMutex
	trackedLocations   map[string]struct{}

	upstreamGaugesOnce sync.Once
	denialGaugeOnce    sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of WeatherAPI calls",
		},
		[]string{"operation", "status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "WeatherAPI latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather API calls",
		},
		[]string{"operation"},
	)
	WeatherAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiErrorsTotal",
			Help: "Weather API failures by error category",
		},
		[]string{"category"},
	)
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Fetch-current lookups served from a fresh cache entry",
		},
	)
	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Fetch-current lookups that required a remote call",
		},
	)
	PersistenceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persistenceFailuresTotal",
			Help: "Local persistence failures that were swallowed",
		},
		[]string{"op"},
	)
	WeatherQueriesByLocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherQueriesByLocationTotal",
			Help: "Fetch-current requests by location (allow-list; others use location=other)",
		},
		[]string{"location"},
	)
	PollRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pollRunsTotal",
			Help: "Total number of poll batches run",
		},
	)
	PollFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pollFailuresTotal",
			Help: "Per-location failures during poll batches",
		},
		[]string{"location"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"name"},
	)
	AuthEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authEventsTotal",
			Help: "Authentication events (sign_in, sign_out, failure)",
		},
		[]string{"event"},
	)
	FavoritesSyncFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "favoritesSyncFailuresTotal",
			Help: "Failed writes of the remote favorites document",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal, WeatherAPIErrorsTotal,
		CacheHitsTotal, CacheMissesTotal, PersistenceFailuresTotal,
		WeatherQueriesByLocationTotal,
		PollRunsTotal, PollFailuresTotal,
		CircuitBreakerState,
		AuthEventsTotal, FavoritesSyncFailuresTotal,
		RateLimitDeniedTotal,
	)
}

// RegisterUpstreamGauges registers sliding-window gauges over the upstream outcome tracker.
// Call from main after config load with the degraded window.
func RegisterUpstreamGauges(tracker *traffic.Tracker, window time.Duration) {
	upstreamGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "weatherApiErrorsInWindow",
					Help: "Weather API failures in the degraded window",
				},
				func() float64 {
					errs, _ := tracker.ErrorRate(window)
					return float64(errs)
				},
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "weatherApiCallsInWindow",
					Help: "Weather API outcomes in the degraded window",
				},
				func() float64 {
					_, total := tracker.ErrorRate(window)
					return float64(total)
				},
			),
		)
	})
}

// RegisterDenialGauge registers a gauge of rate-limit denials recorded by tracker in
// the last window. Only the first call registers.
func RegisterDenialGauge(tracker *traffic.Tracker, window time.Duration) {
	denialGaugeOnce.Do(func() {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "rateLimitDeniedInWindow",
				Help: "Requests rejected by the rate limiter in the degraded window",
			},
			func() float64 { return float64(tracker.DenialCount(window)) },
		))
	})
}

// SetTrackedLocations sets the allow-list for location metrics. Non-tracked locations increment "other".
func SetTrackedLocations(locations []string) {
	trackedLocationsMu.Lock()
	defer trackedLocationsMu.Unlock()
	trackedLocations = make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		trackedLocations[normalizeLocationForMetrics(loc)] = struct{}{}
	}
}

// RecordWeatherQuery records a fetch-current request for the given location.
func RecordWeatherQuery(location string) {
	WeatherQueriesByLocationTotal.WithLabelValues(LocationLabel(location)).Inc()
}

// LocationLabel returns the metric label for location: the normalised name if it is
// on the allow-list, otherwise "other".
func LocationLabel(location string) string {
	loc := normalizeLocationForMetrics(location)
	trackedLocationsMu.RLock()
	_, ok := trackedLocations[loc]
	trackedLocationsMu.RUnlock()
	if ok {
		return loc
	}
	return "other"
}

func normalizeLocationForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
