// Package config loads the dashboard configuration.
//
// Sources, later wins: config/{ENV_NAME}.yaml, .env (never overriding the real
// environment), environment variables, then config/secrets.yaml for secrets the
// environment left unset.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when config/{ENV_NAME}.yaml does not exist.
var ErrConfigNotFound = errors.New("config file not found")

// Config holds service configuration.
type Config struct {
	Env string

	ServerPort     string        `validate:"required,numeric"`
	RequestTimeout time.Duration `validate:"gt=0"`

	// WeatherAPIKey may be empty; calls then fail with an invalid-key error.
	WeatherAPIKey     string
	WeatherAPIURL     string        `validate:"required,url"`
	WeatherAPITimeout time.Duration `validate:"gt=0"`

	CacheBackend          string        `validate:"oneof=storage memcached"`
	CacheTTL              time.Duration `validate:"gt=0"`
	CachePrefix           string        `validate:"required"`
	MemcachedAddrs        string        `validate:"required_if=CacheBackend memcached"`
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	StorageBackend    string `validate:"oneof=memory sqlite"`
	SQLitePath        string `validate:"required_if=StorageBackend sqlite"`
	StorageQuotaBytes int    `validate:"gte=0"`

	DocumentsBackend string `validate:"oneof=memory postgres"`
	DatabaseURL      string `validate:"required_if=DocumentsBackend postgres"`
	DatabaseMaxConns int32  `validate:"gte=1"`

	PollInterval      time.Duration `validate:"gt=0"`
	PollLocations     []string      `validate:"min=1,dive,required"`
	PollRequireSignIn bool

	SearchMinChars      int `validate:"gte=1"`
	SearchMaxResults    int `validate:"gte=1"`
	ForecastDefaultDays int `validate:"oneof=3 5 7"`

	RetryAttempts           int `validate:"gte=1"`
	RetryBaseDelay          time.Duration
	RetryMaxDelay           time.Duration
	RateLimitRPS            int `validate:"gte=1"`
	RateLimitBurst          int `validate:"gte=1"`
	BreakerEnabled          bool
	BreakerFailureThreshold int `validate:"gte=1"`
	BreakerSuccessThreshold int `validate:"gte=1"`
	BreakerTimeout          time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string `validate:"omitempty,url"`

	ShutdownTimeout  time.Duration `validate:"gt=0"`
	DegradedWindow   time.Duration `validate:"gt=0"`
	DegradedErrorPct int           `validate:"gte=1,lte=100"`

	TrackedLocations []string
}

// AuthEnabled reports whether Google sign-in is configured.
func (c *Config) AuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Prefix    string `yaml:"prefix"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Storage struct {
		Backend    string `yaml:"backend"`
		SQLitePath string `yaml:"sqlite_path"`
		QuotaBytes int    `yaml:"quota_bytes"`
	} `yaml:"storage"`

	Documents struct {
		Backend  string `yaml:"backend"`
		MaxConns int32  `yaml:"max_conns"`
	} `yaml:"documents"`

	Poll struct {
		Interval      string   `yaml:"interval"`
		Locations     []string `yaml:"locations"`
		RequireSignIn *bool    `yaml:"require_sign_in"`
	} `yaml:"poll"`

	Search struct {
		MinChars   int `yaml:"min_chars"`
		MaxResults int `yaml:"max_results"`
	} `yaml:"search"`

	Forecast struct {
		DefaultDays int `yaml:"default_days"`
	} `yaml:"forecast"`

	Reliability struct {
		RetryMaxAttempts        int    `yaml:"retry_max_attempts"`
		RetryBaseDelay          string `yaml:"retry_base_delay"`
		RetryMaxDelay           string `yaml:"retry_max_delay"`
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
		BreakerEnabled          bool   `yaml:"breaker_enabled"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerSuccessThreshold int    `yaml:"breaker_success_threshold"`
		BreakerTimeout          string `yaml:"breaker_timeout"`
	} `yaml:"reliability"`

	Auth struct {
		Google struct {
			ClientID    string `yaml:"client_id"`
			RedirectURL string `yaml:"redirect_url"`
		} `yaml:"google"`
	} `yaml:"auth"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Metrics struct {
		TrackedLocations []string `yaml:"tracked_locations"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAPIKey      string `yaml:"weather_api_key"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	DatabaseURL        string `yaml:"database_url"`
}

// envOverrides are read with envconfig. Empty values leave the file settings alone.
type envOverrides struct {
	Port              string `envconfig:"PORT"`
	WeatherAPIKey     string `envconfig:"WEATHER_API_KEY"`
	WeatherAPIURL     string `envconfig:"WEATHER_API_URL"`
	CacheBackend      string `envconfig:"CACHE_BACKEND"`
	MemcachedAddrs    string `envconfig:"MEMCACHED_ADDRS"`
	StorageBackend    string `envconfig:"STORAGE_BACKEND"`
	SQLitePath        string `envconfig:"SQLITE_PATH"`
	DocumentsBackend  string `envconfig:"DOCUMENTS_BACKEND"`
	DatabaseURL       string `envconfig:"DATABASE_URL"`
	PollInterval      string `envconfig:"POLL_INTERVAL"`
	PollRequireSignIn string `envconfig:"POLL_REQUIRE_SIGN_IN"`
	GoogleClientID    string `envconfig:"GOOGLE_CLIENT_ID"`
	GoogleSecret      string `envconfig:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL string `envconfig:"GOOGLE_REDIRECT_URL"`
}

// Load reads configuration rooted at dir (the working directory when empty).
// The YAML file is chosen by ENV_NAME, default dev.
func Load(dir string) (*Config, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("config: get working directory: %w", err)
		}
		dir = cwd
	}

	// .env is optional and never overrides variables already set.
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := fromFile(fc)
	cfg.Env = env

	var ov envOverrides
	if err := envconfig.Process("", &ov); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if err := applyEnv(cfg, ov); err != nil {
		return nil, err
	}
	if err := applySecrets(cfg, filepath.Join(dir, "config", "secrets.yaml")); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc fileConfig) *Config {
	cfg := &Config{}

	cfg.ServerPort = strings.TrimSpace(fc.Server.Port)
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	cfg.WeatherAPIURL = strings.TrimSpace(fc.WeatherAPI.URL)
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.weatherapi.com/v1"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)

	cfg.CacheBackend = strings.ToLower(strings.TrimSpace(fc.Cache.Backend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "storage"
	}
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 55*time.Second)
	cfg.CachePrefix = fc.Cache.Prefix
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = "wa_cache:v1:"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(fc.Storage.Backend))
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "memory"
	}
	cfg.SQLitePath = strings.TrimSpace(fc.Storage.SQLitePath)
	cfg.StorageQuotaBytes = fc.Storage.QuotaBytes

	cfg.DocumentsBackend = strings.ToLower(strings.TrimSpace(fc.Documents.Backend))
	if cfg.DocumentsBackend == "" {
		cfg.DocumentsBackend = "memory"
	}
	cfg.DatabaseMaxConns = fc.Documents.MaxConns
	if cfg.DatabaseMaxConns <= 0 {
		cfg.DatabaseMaxConns = 4
	}

	cfg.PollInterval = parseDuration(fc.Poll.Interval, 60*time.Second)
	cfg.PollLocations = fc.Poll.Locations
	if len(cfg.PollLocations) == 0 {
		cfg.PollLocations = []string{"London", "New York", "Mumbai"}
	}
	cfg.PollRequireSignIn = true
	if fc.Poll.RequireSignIn != nil {
		cfg.PollRequireSignIn = *fc.Poll.RequireSignIn
	}

	cfg.SearchMinChars = positiveOr(fc.Search.MinChars, 3)
	cfg.SearchMaxResults = positiveOr(fc.Search.MaxResults, 6)
	cfg.ForecastDefaultDays = positiveOr(fc.Forecast.DefaultDays, 7)

	cfg.RetryAttempts = positiveOr(fc.Reliability.RetryMaxAttempts, 1)
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = positiveOr(fc.Reliability.RateLimitRPS, 20)
	cfg.RateLimitBurst = positiveOr(fc.Reliability.RateLimitBurst, 40)
	cfg.BreakerEnabled = fc.Reliability.BreakerEnabled
	cfg.BreakerFailureThreshold = positiveOr(fc.Reliability.BreakerFailureThreshold, 5)
	cfg.BreakerSuccessThreshold = positiveOr(fc.Reliability.BreakerSuccessThreshold, 1)
	cfg.BreakerTimeout = parseDuration(fc.Reliability.BreakerTimeout, 30*time.Second)

	cfg.GoogleClientID = strings.TrimSpace(fc.Auth.Google.ClientID)
	cfg.GoogleRedirectURL = strings.TrimSpace(fc.Auth.Google.RedirectURL)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = positiveOr(fc.Lifecycle.DegradedErrorPct, 50)

	cfg.TrackedLocations = fc.Metrics.TrackedLocations
	if len(cfg.TrackedLocations) == 0 {
		cfg.TrackedLocations = cfg.PollLocations
	}
	return cfg
}

func applyEnv(cfg *Config, ov envOverrides) error {
	setIf := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	setIf(&cfg.ServerPort, ov.Port)
	setIf(&cfg.WeatherAPIKey, ov.WeatherAPIKey)
	setIf(&cfg.WeatherAPIURL, ov.WeatherAPIURL)
	setIf(&cfg.CacheBackend, strings.ToLower(ov.CacheBackend))
	setIf(&cfg.MemcachedAddrs, ov.MemcachedAddrs)
	setIf(&cfg.StorageBackend, strings.ToLower(ov.StorageBackend))
	setIf(&cfg.SQLitePath, ov.SQLitePath)
	setIf(&cfg.DocumentsBackend, strings.ToLower(ov.DocumentsBackend))
	setIf(&cfg.DatabaseURL, ov.DatabaseURL)
	setIf(&cfg.GoogleClientID, ov.GoogleClientID)
	setIf(&cfg.GoogleClientSecret, ov.GoogleSecret)
	setIf(&cfg.GoogleRedirectURL, ov.GoogleRedirectURL)

	if ov.PollInterval != "" {
		cfg.PollInterval = parseDuration(ov.PollInterval, cfg.PollInterval)
	}
	switch strings.ToLower(strings.TrimSpace(ov.PollRequireSignIn)) {
	case "":
	case "true", "1", "yes":
		cfg.PollRequireSignIn = true
	case "false", "0", "no":
		cfg.PollRequireSignIn = false
	default:
		return fmt.Errorf("POLL_REQUIRE_SIGN_IN must be true or false, got %q", ov.PollRequireSignIn)
	}
	return nil
}

// applySecrets fills secrets the environment left unset from the secrets file.
// A missing file is not an error.
func applySecrets(cfg *Config, path string) error {
	if cfg.WeatherAPIKey != "" && cfg.GoogleClientSecret != "" && cfg.DatabaseURL != "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return fmt.Errorf("parse secrets file: %w", err)
	}
	if cfg.WeatherAPIKey == "" {
		cfg.WeatherAPIKey = sec.WeatherAPIKey
	}
	if cfg.GoogleClientSecret == "" {
		cfg.GoogleClientSecret = sec.GoogleClientSecret
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = sec.DatabaseURL
	}
	return nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations are returned as-is so validation can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func positiveOr(v, defaultVal int) int {
	if v <= 0 {
		return defaultVal
	}
	return v
}

// validate checks struct tags and then adjusts RequestTimeout so a request can
// always outlive the upstream call it makes.
func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	return nil
}
