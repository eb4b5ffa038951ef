// Package storage is the durable key/value layer behind preferences and cached responses.
// Values are opaque strings; callers decide the encoding.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrQuotaExceeded is returned when a write would exceed the configured quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Storage persists string values under string keys.
// Get returns ("", false, nil) on a missing key.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// PersistenceError reports a failed read, write or encode against local storage.
type PersistenceError struct {
	Op  string // "get", "set", "encode", "decode"
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// MemoryStorage keeps values in process memory. A positive quota caps the total
// size of keys plus values in bytes.
type MemoryStorage struct {
	mu    sync.RWMutex
	data  map[string]string
	quota int
	used  int
}

// NewMemoryStorage creates a MemoryStorage. quotaBytes <= 0 means unlimited.
func NewMemoryStorage(quotaBytes int) *MemoryStorage {
	return &MemoryStorage{
		data:  make(map[string]string),
		quota: quotaBytes,
	}
}

func (s *MemoryStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryStorage) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	used := s.used
	if old, ok := s.data[key]; ok {
		used -= len(key) + len(old)
	}
	used += len(key) + len(value)
	if s.quota > 0 && used > s.quota {
		return ErrQuotaExceeded
	}
	s.data[key] = value
	s.used = used
	return nil
}

func (s *MemoryStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.data[key]; ok {
		s.used -= len(key) + len(old)
		delete(s.data, key)
	}
	return nil
}
