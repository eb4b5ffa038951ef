//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"testing"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/cache"
	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/state"
	"github.com/kjstillabower/weather-dashboard/internal/storage"
	"github.com/kjstillabower/weather-dashboard/internal/traffic"
)

// IntegrationTestConfig is read from the environment by GetIntegrationConfig.
type IntegrationTestConfig struct {
	APIKey        string `envconfig:"WEATHER_API_KEY"`
	APIURL        string `envconfig:"WEATHER_API_URL" default:"https://api.weatherapi.com/v1"`
	CacheBackend  string `envconfig:"INTEGRATION_CACHE_BACKEND" default:"storage"`
	MemcachedAddr string `envconfig:"MEMCACHED_ADDRS" default:"localhost:11211"`
}

// GetIntegrationConfig loads the integration settings and skips the test when
// no weather API key is available.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	var cfg IntegrationTestConfig
	if err := envconfig.Process("", &cfg); err != nil {
		t.Fatalf("integration config: %v", err)
	}
	if cfg.APIKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}
	return cfg
}

// IntegrationStack is a store wired to the real weather provider.
type IntegrationStack struct {
	Store    *state.Store
	Client   *client.WeatherAPIClient
	Upstream *traffic.Tracker
	Logger   *zap.Logger
}

// SetupIntegrationStack builds the store against the real provider. The cache
// uses Memcached when INTEGRATION_CACHE_BACKEND=memcached and it is reachable,
// and in-memory storage otherwise. Returns the stack and a cleanup function.
func SetupIntegrationStack(t *testing.T, cfg IntegrationTestConfig) (*IntegrationStack, func()) {
	logger, err := observability.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	upstream := traffic.NewTracker(traffic.DefaultRetention, nil)
	wc := SetupIntegrationClient(t, cfg, client.WithTracker(upstream))

	var cacheStore storage.Storage = storage.NewMemoryStorage(0)
	cleanup := func() {}
	if cfg.CacheBackend == "memcached" {
		mc, err := storage.NewMemcachedStorage(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil && mc.Ping() == nil {
			cacheStore = mc
			cleanup = func() { _ = mc.Close() }
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available (%v), using in-memory cache", err)
		}
	}

	store := state.NewStore(context.Background(), wc, cache.New(cacheStore, logger), storage.NewMemoryStorage(0), logger)
	return &IntegrationStack{Store: store, Client: wc, Upstream: upstream, Logger: logger}, cleanup
}

// SetupIntegrationClient creates a weather client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig, opts ...client.Option) *client.WeatherAPIClient {
	t.Helper()
	return client.NewWeatherAPIClient(cfg.APIKey, cfg.APIURL, 5*time.Second, opts...)
}
