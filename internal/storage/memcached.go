package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "weather-dashboard:"

// MemcachedStorage implements Storage using memcached. Items are stored without
// expiration; freshness is decided by readers.
type MemcachedStorage struct {
	client *memcache.Client
}

// NewMemcachedStorage creates a MemcachedStorage. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedStorage(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedStorage, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStorage{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// key escapes k so that multi-word queries ("new york") are valid memcached keys.
func (s *MemcachedStorage) key(k string) string {
	return keyPrefix + url.QueryEscape(k)
}

// Get implements Storage.Get. Returns false, nil on cache miss; false, err on error.
func (s *MemcachedStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if ctx.Err() != nil {
		return "", false, ctx.Err()
	}
	item, err := s.client.Get(s.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(item.Value), true, nil
}

// Set implements Storage.Set.
func (s *MemcachedStorage) Set(ctx context.Context, key, value string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return s.client.Set(&memcache.Item{
		Key:   s.key(key),
		Value: []byte(value),
	})
}

// Delete implements Storage.Delete. Deleting a missing key is not an error.
func (s *MemcachedStorage) Delete(ctx context.Context, key string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := s.client.Delete(s.key(key)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return err
	}
	return nil
}

// Ping checks if memcached is reachable. Used for health checks.
func (s *MemcachedStorage) Ping() error {
	return s.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (s *MemcachedStorage) Close() error {
	return s.client.Close()
}
