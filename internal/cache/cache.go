// Package cache wraps durable storage with timestamped JSON entries.
// Freshness is decided by the reader; nothing is evicted here.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/storage"
)

// DefaultPrefix namespaces cached responses so a format change can bump the version.
const DefaultPrefix = "wa_cache:v1:"

// Entry is the persisted shape of a cached response.
type Entry[T any] struct {
	Data      T         `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Fresh reports whether the entry is younger than ttl at now.
func (e Entry[T]) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.Timestamp) < ttl
}

// Key builds the cache key for a free-text query. Queries differing only in case
// or surrounding whitespace share a key.
func Key(prefix, query string) string {
	return prefix + strings.ToLower(strings.TrimSpace(query))
}

// WriteResult reports the outcome of a write. Err is nil on success.
type WriteResult struct {
	Err *storage.PersistenceError
}

// OK reports whether the write was persisted.
func (r WriteResult) OK() bool {
	return r.Err == nil
}

// Cache reads and writes JSON values in a storage backend. Failures are swallowed:
// reads degrade to misses, writes report through WriteResult.
type Cache struct {
	store  storage.Storage
	logger *zap.Logger
}

// New creates a Cache over store. logger may be nil.
func New(store storage.Storage, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, logger: logger}
}

// Write encodes value as JSON and persists it under key.
func (c *Cache) Write(ctx context.Context, key string, value any) WriteResult {
	raw, err := json.Marshal(value)
	if err != nil {
		return c.failed("encode", key, err)
	}
	if err := c.store.Set(ctx, key, string(raw)); err != nil {
		return c.failed("set", key, err)
	}
	return WriteResult{}
}

// Read decodes the value under key into out. Returns false when the key is
// missing, the backend fails, or the stored value does not parse. A read cut
// short by a cancelled ctx is a miss but not a persistence failure.
func (c *Cache) Read(ctx context.Context, key string, out any) bool {
	raw, ok, err := c.store.Get(ctx, key)
	if errors.Is(err, context.Canceled) {
		c.logger.Debug("cache read abandoned", zap.String("key", key))
		return false
	}
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		observability.PersistenceFailuresTotal.WithLabelValues("get").Inc()
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		c.logger.Warn("cache entry unreadable", zap.String("key", key), zap.Error(err))
		observability.PersistenceFailuresTotal.WithLabelValues("decode").Inc()
		return false
	}
	return true
}

func (c *Cache) failed(op, key string, err error) WriteResult {
	perr := &storage.PersistenceError{Op: op, Key: key, Err: err}
	c.logger.Warn("cache write failed", zap.String("key", key), zap.String("op", op), zap.Error(err))
	observability.PersistenceFailuresTotal.WithLabelValues(op).Inc()
	return WriteResult{Err: perr}
}
