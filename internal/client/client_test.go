package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/weather-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/traffic"
)

const currentLondon = `{
  "location": {"name": "London", "region": "City of London, Greater London", "country": "United Kingdom", "lat": 51.52, "lon": -0.11},
  "current": {"last_updated": "2026-10-19 12:00", "temp_c": 14.0, "temp_f": 57.2,
    "condition": {"text": "Partly cloudy", "icon": "//cdn.weatherapi.com/weather/64x64/day/116.png", "code": 1003},
    "wind_kph": 15.1, "pressure_mb": 1012.0, "humidity": 77}
}`

const forecastMumbai = `{
  "location": {"name": "Mumbai", "country": "India"},
  "current": {"temp_c": 30.0, "temp_f": 86.0},
  "forecast": {"forecastday": [
    {"date": "2026-10-19", "day": {"avgtemp_c": 29.1, "avgtemp_f": 84.4, "totalprecip_mm": 2.3, "maxwind_kph": 18.0,
      "air_quality": {"pm2_5": 41.2, "us-epa-index": 2}},
     "hour": [{"time": "2026-10-19 00:00", "temp_c": 27.0, "temp_f": 80.6}]},
    {"date": "2026-10-20", "day": {"avgtemp_c": 28.7, "avgtemp_f": 83.7}}
  ]}
}`

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// TestWeatherAPIClient_Current_Success verifies the request shape and decoding
// of a current-conditions response.
func TestWeatherAPIClient_Current_Success(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/v1/current.json" {
			t.Errorf("path = %q, want /v1/current.json", r.URL.Path)
		}
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Errorf("key = %q, want test-key", got)
		}
		if got := r.URL.Query().Get("q"); got != "London" {
			t.Errorf("q = %q, want London", got)
		}
		if got := r.Header.Get("X-Correlation-ID"); got != "corr-1" {
			t.Errorf("X-Correlation-ID = %q, want corr-1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(currentLondon))
	})

	c := NewWeatherAPIClient("test-key", server.URL+"/v1", 2*time.Second)
	ctx := observability.WithCorrelationID(context.Background(), "corr-1")
	got, err := c.Current(ctx, "London")
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if got.Location.Name != "London" {
		t.Errorf("Location.Name = %q, want London", got.Location.Name)
	}
	if got.Current.TempC != 14.0 || got.Current.TempF != 57.2 {
		t.Errorf("temps = %v/%v, want 14/57.2", got.Current.TempC, got.Current.TempF)
	}
	if got.Current.Condition.Text != "Partly cloudy" {
		t.Errorf("Condition.Text = %q", got.Current.Condition.Text)
	}
	if got.Current.Humidity != 77 {
		t.Errorf("Humidity = %v, want 77", got.Current.Humidity)
	}
}

// TestWeatherAPIClient_Forecast verifies forecast query parameters and the
// default day count.
func TestWeatherAPIClient_Forecast(t *testing.T) {
	tests := []struct {
		name     string
		days     int
		wantDays string
	}{
		{"explicit days", 3, "3"},
		{"default days", 0, "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				if !strings.HasSuffix(r.URL.Path, "/forecast.json") {
					t.Errorf("path = %q", r.URL.Path)
				}
				if q.Get("days") != tt.wantDays {
					t.Errorf("days = %q, want %q", q.Get("days"), tt.wantDays)
				}
				if q.Get("aqi") != "yes" || q.Get("alerts") != "no" {
					t.Errorf("aqi/alerts = %q/%q, want yes/no", q.Get("aqi"), q.Get("alerts"))
				}
				_, _ = w.Write([]byte(forecastMumbai))
			})

			c := NewWeatherAPIClient("test-key", server.URL, 2*time.Second)
			got, err := c.Forecast(context.Background(), "Mumbai", tt.days)
			if err != nil {
				t.Fatalf("Forecast() error = %v", err)
			}
			if len(got.Forecast.Forecastday) != 2 {
				t.Fatalf("forecastday len = %d, want 2", len(got.Forecast.Forecastday))
			}
			day := got.Forecast.Forecastday[0]
			if day.Day.AirQuality == nil || day.Day.AirQuality.USEPAIndex != 2 {
				t.Errorf("AirQuality = %+v", day.Day.AirQuality)
			}
			if len(day.Hour) != 1 || day.Hour[0].Time != "2026-10-19 00:00" {
				t.Errorf("Hour = %+v", day.Hour)
			}
		})
	}
}

func TestWeatherAPIClient_Search(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/search.json") {
			t.Errorf("path = %q", r.URL.Path)
		}
		switch r.URL.Query().Get("q") {
		case "lond":
			_, _ = w.Write([]byte(`[{"id":2801268,"name":"London","region":"City of London, Greater London","country":"United Kingdom","lat":51.52,"lon":-0.11,"url":"london-city-of-london-greater-london-united-kingdom"},
				{"id":2796590,"name":"Holborn","region":"Camden, Greater London","country":"United Kingdom","lat":51.52,"lon":-0.12,"url":"holborn-camden-greater-london-united-kingdom"}]`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	})

	c := NewWeatherAPIClient("test-key", server.URL, 2*time.Second)
	got, err := c.Search(context.Background(), "lond")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "London" || got[0].ID != 2801268 {
		t.Errorf("Search() = %+v", got)
	}

	empty, err := c.Search(context.Background(), "zzzz")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("Search() = %#v, want empty non-nil slice", empty)
	}
}

// TestWeatherAPIClient_ErrorHandling verifies HTTP status and provider error
// codes map to the package sentinels.
func TestWeatherAPIClient_ErrorHandling(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantErr    error
		wantCode   int
	}{
		{"location not found", http.StatusBadRequest, `{"error":{"code":1006,"message":"No matching location found."}}`, ErrLocationNotFound, 1006},
		{"invalid key", http.StatusUnauthorized, `{"error":{"code":2006,"message":"API key is invalid."}}`, ErrInvalidAPIKey, 2006},
		{"key missing", http.StatusUnauthorized, `{"error":{"code":1002,"message":"API key is invalid or not provided."}}`, ErrInvalidAPIKey, 1002},
		{"quota exceeded", http.StatusForbidden, `{"error":{"code":2007,"message":"API key has exceeded calls per month quota."}}`, ErrRateLimited, 2007},
		{"key disabled", http.StatusForbidden, `{"error":{"code":2008,"message":"API key has been disabled."}}`, ErrInvalidAPIKey, 2008},
		{"bare 429", http.StatusTooManyRequests, ``, ErrRateLimited, 0},
		{"bare 404", http.StatusNotFound, ``, ErrLocationNotFound, 0},
		{"500", http.StatusInternalServerError, `{"error":{"code":9999,"message":"Internal application error."}}`, ErrUpstreamFailure, 9999},
		{"502 html", http.StatusBadGateway, `<html>bad gateway</html>`, ErrUpstreamFailure, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			})

			c := NewWeatherAPIClient("test-key", server.URL, 2*time.Second)
			_, err := c.Current(context.Background(), "Atlantis")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Current() error = %v, want %v", err, tt.wantErr)
			}
			var rerr *RemoteServiceError
			if !errors.As(err, &rerr) {
				t.Fatalf("error %T is not *RemoteServiceError", err)
			}
			if rerr.Op != OpCurrent || rerr.Query != "Atlantis" {
				t.Errorf("Op/Query = %q/%q", rerr.Op, rerr.Query)
			}
			if rerr.StatusCode != tt.statusCode {
				t.Errorf("StatusCode = %d, want %d", rerr.StatusCode, tt.statusCode)
			}
			if rerr.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", rerr.Code, tt.wantCode)
			}
		})
	}
}

func TestWeatherAPIClient_ParseError(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})
	c := NewWeatherAPIClient("test-key", server.URL, 2*time.Second)
	_, err := c.Current(context.Background(), "London")
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("Current() error = %v, want ErrUpstreamFailure", err)
	}
	if CategorizeError(err) != ErrorCategoryParsing {
		t.Errorf("CategorizeError() = %v, want parsing", CategorizeError(err))
	}
}

// TestWeatherAPIClient_MissingKey verifies that no request is made without a key.
func TestWeatherAPIClient_MissingKey(t *testing.T) {
	var calls atomic.Int32
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})
	c := NewWeatherAPIClient("", server.URL, 2*time.Second)
	_, err := c.Current(context.Background(), "London")
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("Current() error = %v, want ErrInvalidAPIKey", err)
	}
	if calls.Load() != 0 {
		t.Errorf("server calls = %d, want 0", calls.Load())
	}
}

// TestWeatherAPIClient_NoRetryByDefault verifies a single attempt on a transient
// failure when retries are not configured.
func TestWeatherAPIClient_NoRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := NewWeatherAPIClient("test-key", server.URL, 2*time.Second)
	if _, err := c.Current(context.Background(), "London"); !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("Current() error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("attempts = %d, want 1", calls.Load())
	}
}

func TestWeatherAPIClient_RetryLogic(t *testing.T) {
	var calls atomic.Int32
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(currentLondon))
	})

	c := NewWeatherAPIClient("test-key", server.URL, 2*time.Second,
		WithRetry(RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}))
	got, err := c.Current(context.Background(), "London")
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("attempts = %d, want 3", calls.Load())
	}
	if got.Location.Name != "London" {
		t.Errorf("Location.Name = %q", got.Location.Name)
	}
}

func TestWeatherAPIClient_RetryExhausted(t *testing.T) {
	var calls atomic.Int32
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	c := NewWeatherAPIClient("test-key", server.URL, 2*time.Second,
		WithRetry(RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}))
	_, err := c.Current(context.Background(), "London")
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("Current() error = %v, want ErrUpstreamFailure", err)
	}
	if calls.Load() != 2 {
		t.Errorf("attempts = %d, want 2", calls.Load())
	}
}

func TestWeatherAPIClient_NoRetryOnNonRetryableError(t *testing.T) {
	var calls atomic.Int32
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":1006,"message":"No matching location found."}}`))
	})

	c := NewWeatherAPIClient("test-key", server.URL, 2*time.Second,
		WithRetry(RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond}))
	_, err := c.Current(context.Background(), "Atlantis")
	if !errors.Is(err, ErrLocationNotFound) {
		t.Fatalf("Current() error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("attempts = %d, want 1 (no retry)", calls.Load())
	}
}

// TestWeatherAPIClient_CircuitBreaker verifies that upstream failures open the
// breaker and later calls fail fast without reaching the server.
func TestWeatherAPIClient_CircuitBreaker(t *testing.T) {
	var calls atomic.Int32
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	cb := circuitbreaker.New(circuitbreaker.Config{
		Name:             "weatherapi",
		FailureThreshold: 2,
		Timeout:          time.Minute,
		IsSuccessful:     func(err error) bool { return !IsUpstreamFault(err) },
	})
	c := NewWeatherAPIClient("test-key", server.URL, 2*time.Second, WithCircuitBreaker(cb))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = c.Current(ctx, "London")
	}
	_, err := c.Current(ctx, "London")
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatalf("Current() error = %v, want ErrOpen", err)
	}
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Errorf("open-circuit error should also match ErrUpstreamFailure")
	}
	if calls.Load() != 2 {
		t.Errorf("server calls = %d, want 2", calls.Load())
	}
}

// TestWeatherAPIClient_CircuitBreaker_IgnoresNotFound verifies that bad queries
// do not trip the breaker.
func TestWeatherAPIClient_CircuitBreaker_IgnoresNotFound(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":1006,"message":"No matching location found."}}`))
	})
	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 1,
		IsSuccessful:     func(err error) bool { return !IsUpstreamFault(err) },
	})
	c := NewWeatherAPIClient("test-key", server.URL, 2*time.Second, WithCircuitBreaker(cb))

	for i := 0; i < 3; i++ {
		if _, err := c.Current(context.Background(), "Atlantis"); !errors.Is(err, ErrLocationNotFound) {
			t.Fatalf("Current() error = %v", err)
		}
	}
	if cb.State() != circuitbreaker.StateClosed {
		t.Errorf("breaker state = %v, want closed", cb.State())
	}
}

func TestWeatherAPIClient_ContextCancelled(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	c := NewWeatherAPIClient("test-key", server.URL, 2*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Current(ctx, "London")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Current() error = %v, want ErrTransport", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Current() error = %v, want to wrap DeadlineExceeded", err)
	}
	if CategorizeError(err) != ErrorCategoryTimeout {
		t.Errorf("CategorizeError() = %v, want timeout", CategorizeError(err))
	}
}

func TestRemoteServiceError_Error(t *testing.T) {
	err := &RemoteServiceError{Op: OpForecast, Query: "Paris", StatusCode: 400, Code: 1006, Message: "No matching location found.", Err: ErrLocationNotFound}
	want := `weatherapi forecast "Paris": location not found (HTTP 400, code 1006): No matching location found.`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestIsUpstreamFault(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&RemoteServiceError{Err: ErrLocationNotFound}, false},
		{&RemoteServiceError{Err: ErrInvalidAPIKey}, false},
		{&RemoteServiceError{Err: ErrUpstreamFailure}, true},
		{&RemoteServiceError{Err: ErrRateLimited}, true},
		{context.Canceled, false},
	}
	for _, tt := range tests {
		if got := IsUpstreamFault(tt.err); got != tt.want {
			t.Errorf("IsUpstreamFault(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// TestWeatherAPIClient_Tracker verifies only upstream faults count as errors.
func TestWeatherAPIClient_Tracker(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		code := int(status.Load())
		w.WriteHeader(code)
		switch code {
		case http.StatusOK:
			_, _ = w.Write([]byte(currentLondon))
		case http.StatusBadRequest:
			_, _ = w.Write([]byte(`{"error":{"code":1006,"message":"No matching location found."}}`))
		}
	})

	tracker := traffic.NewTracker(time.Minute, nil)
	c := NewWeatherAPIClient("test-key", server.URL, 2*time.Second, WithTracker(tracker))

	_, _ = c.Current(context.Background(), "London")
	status.Store(http.StatusBadRequest)
	_, _ = c.Current(context.Background(), "Atlantis")
	status.Store(http.StatusServiceUnavailable)
	_, _ = c.Current(context.Background(), "London")

	errs, total := tracker.ErrorRate(time.Minute)
	if errs != 1 || total != 3 {
		t.Errorf("ErrorRate() = %d/%d, want 1/3", errs, total)
	}
}
