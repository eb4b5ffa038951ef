// Package userdocs stores the per-user document that carries a user's favorite
// cities across devices.
package userdocs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrEmptyUserID is returned when a document is addressed without a user id.
var ErrEmptyUserID = errors.New("user id is required")

// DocumentError reports a failed read or write of a user document.
type DocumentError struct {
	Op     string // "get", "set", "migrate"
	UserID string
	Err    error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("userdocs %s %q: %v", e.Op, e.UserID, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// Store reads and writes user documents.
//
// GetFavorites reports found=false when the user has no document yet.
// SetFavorites merges: only the favorites field is replaced and any other
// fields of an existing document are left as they are.
type Store interface {
	GetFavorites(ctx context.Context, userID string) (favorites []string, found bool, err error)
	SetFavorites(ctx context.Context, userID string, favorites []string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]string)}
}

func (m *MemoryStore) GetFavorites(_ context.Context, userID string) ([]string, bool, error) {
	if userID == "" {
		return nil, false, &DocumentError{Op: "get", Err: ErrEmptyUserID}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	favs, ok := m.docs[userID]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(favs), true, nil
}

func (m *MemoryStore) SetFavorites(_ context.Context, userID string, favorites []string) error {
	if userID == "" {
		return &DocumentError{Op: "set", Err: ErrEmptyUserID}
	}
	if favorites == nil {
		favorites = []string{}
	}
	m.mu.Lock()
	m.docs[userID] = slices.Clone(favorites)
	m.mu.Unlock()
	return nil
}
