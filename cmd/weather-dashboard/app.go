package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/cache"
	"github.com/kjstillabower/weather-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/config"
	"github.com/kjstillabower/weather-dashboard/internal/dashboard"
	"github.com/kjstillabower/weather-dashboard/internal/identity"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/poller"
	"github.com/kjstillabower/weather-dashboard/internal/state"
	"github.com/kjstillabower/weather-dashboard/internal/storage"
	"github.com/kjstillabower/weather-dashboard/internal/traffic"
	"github.com/kjstillabower/weather-dashboard/internal/userdocs"
)

const (
	breakerName         = "weather_api"
	identityBreakerName = "google_identity"
)

// app is the wired dashboard and everything that must be closed on exit.
type app struct {
	cfg      *config.Config
	client   *client.WeatherAPIClient
	store    *state.Store
	session  *identity.Session
	dash     *dashboard.Dashboard
	upstream *traffic.Tracker
	denials  *traffic.Tracker
	checks   map[string]func(ctx context.Context) error
	closers  []func() error
}

// buildApp wires storage, cache, client, store, poller, session and documents
// from cfg. ctx bounds the store's lifetime.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		upstream: traffic.NewTracker(traffic.DefaultRetention, nil),
		denials:  traffic.NewTracker(traffic.DefaultRetention, nil),
		checks:   map[string]func(ctx context.Context) error{},
	}

	if cfg.WeatherAPIKey == "" {
		logger.Warn("WEATHER_API_KEY is not set; weather requests will fail until it is configured")
	}

	opts := []client.Option{
		client.WithRetry(client.RetryPolicy{
			MaxAttempts:  cfg.RetryAttempts,
			InitialDelay: cfg.RetryBaseDelay,
			MaxDelay:     cfg.RetryMaxDelay,
		}),
		client.WithTracker(a.upstream),
	}
	if cfg.BreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			Name:             breakerName,
			FailureThreshold: cfg.BreakerFailureThreshold,
			SuccessThreshold: cfg.BreakerSuccessThreshold,
			Timeout:          cfg.BreakerTimeout,
			IsSuccessful: func(err error) bool {
				return err == nil || !client.IsUpstreamFault(err)
			},
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.CircuitBreakerState.WithLabelValues(breakerName).Set(float64(to))
				logger.Warn("circuit breaker state change",
					zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		observability.CircuitBreakerState.WithLabelValues(breakerName).Set(float64(circuitbreaker.StateClosed))
		opts = append(opts, client.WithCircuitBreaker(cb))
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.BreakerFailureThreshold),
			zap.Duration("timeout", cfg.BreakerTimeout))
	}
	a.client = client.NewWeatherAPIClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout, opts...)

	prefs, err := a.openStorage(logger)
	if err != nil {
		a.close(logger)
		return nil, err
	}
	cacheStore, err := a.openCache(prefs, logger)
	if err != nil {
		a.close(logger)
		return nil, err
	}

	a.store = state.NewStore(ctx, a.client, cache.New(cacheStore, logger), prefs, logger,
		state.WithTTL(cfg.CacheTTL),
		state.WithCachePrefix(cfg.CachePrefix),
	)

	var provider identity.Provider
	if cfg.AuthEnabled() {
		gcfg := identity.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}
		if cfg.BreakerEnabled {
			gcfg.Breaker = circuitbreaker.New(circuitbreaker.Config{
				Name:             identityBreakerName,
				FailureThreshold: cfg.BreakerFailureThreshold,
				SuccessThreshold: cfg.BreakerSuccessThreshold,
				Timeout:          cfg.BreakerTimeout,
				IsSuccessful: func(err error) bool {
					return err == nil || !identity.IsProviderOutage(err)
				},
				OnStateChange: func(from, to circuitbreaker.State) {
					observability.CircuitBreakerState.WithLabelValues(identityBreakerName).Set(float64(to))
					logger.Warn("circuit breaker state change", zap.String("breaker", identityBreakerName),
						zap.String("from", from.String()), zap.String("to", to.String()))
				},
			})
			observability.CircuitBreakerState.WithLabelValues(identityBreakerName).Set(float64(circuitbreaker.StateClosed))
		}
		provider = identity.NewGoogleProvider(&http.Client{Timeout: cfg.WeatherAPITimeout}, gcfg)
		logger.Info("google sign-in enabled")
	} else {
		logger.Info("google sign-in not configured")
	}
	a.session = identity.NewSession(provider, logger)

	docs, err := a.openDocuments(ctx, logger)
	if err != nil {
		a.close(logger)
		return nil, err
	}

	p := poller.New(a.store, cfg.PollLocations, cfg.PollInterval, logger)
	a.dash = dashboard.New(a.store, a.client, p, a.session, docs, dashboard.Config{
		RequireSignIn:       cfg.PollRequireSignIn,
		SearchMinChars:      cfg.SearchMinChars,
		SearchMaxResults:    cfg.SearchMaxResults,
		DefaultForecastDays: cfg.ForecastDefaultDays,
	}, logger)
	return a, nil
}

func (a *app) openStorage(logger *zap.Logger) (storage.Storage, error) {
	switch a.cfg.StorageBackend {
	case "sqlite":
		st, err := storage.OpenSQLite(a.cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		a.closers = append(a.closers, st.Close)
		a.checks["storage"] = func(context.Context) error { return st.Ping() }
		logger.Info("storage backend: sqlite", zap.String("path", a.cfg.SQLitePath))
		return st, nil
	default:
		logger.Info("storage backend: memory", zap.Int("quota_bytes", a.cfg.StorageQuotaBytes))
		return storage.NewMemoryStorage(a.cfg.StorageQuotaBytes), nil
	}
}

func (a *app) openCache(prefs storage.Storage, logger *zap.Logger) (storage.Storage, error) {
	if a.cfg.CacheBackend != "memcached" {
		logger.Info("cache backend: storage")
		return prefs, nil
	}
	mc, err := storage.NewMemcachedStorage(a.cfg.MemcachedAddrs, a.cfg.MemcachedTimeout, a.cfg.MemcachedMaxIdleConns)
	if err != nil {
		return nil, fmt.Errorf("memcached cache: %w", err)
	}
	a.closers = append(a.closers, mc.Close)
	a.checks["cache"] = func(context.Context) error { return mc.Ping() }
	logger.Info("cache backend: memcached", zap.String("addrs", a.cfg.MemcachedAddrs))
	return mc, nil
}

func (a *app) openDocuments(ctx context.Context, logger *zap.Logger) (userdocs.Store, error) {
	if a.cfg.DocumentsBackend != "postgres" {
		logger.Info("documents backend: memory")
		return userdocs.NewMemoryStore(), nil
	}
	poolCfg, err := pgxpool.ParseConfig(a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = a.cfg.DatabaseMaxConns
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	docs := userdocs.NewPostgresStore(pool)
	if err := docs.Migrate(ctx); err != nil {
		return nil, err
	}
	a.checks["documents"] = pool.Ping
	logger.Info("documents backend: postgres", zap.Int32("max_conns", a.cfg.DatabaseMaxConns))
	return docs, nil
}

// close stops the dashboard and closes backends in reverse order of opening.
func (a *app) close(logger *zap.Logger) {
	if a.dash != nil {
		a.dash.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Error("close backends", zap.Error(err))
	}
	a.closers = nil
}
