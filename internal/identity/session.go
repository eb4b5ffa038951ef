// Package identity handles sign-in through an OAuth provider and tracks the
// signed-in user for this process.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

var (
	ErrInvalidState        = errors.New("unknown or expired sign-in state")
	ErrExchangeFailed      = errors.New("authorization exchange failed")
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	ErrNotConfigured       = errors.New("identity provider not configured")
)

// DefaultStateTTL bounds how long a sign-in may take between login and callback.
const DefaultStateTTL = 10 * time.Minute

// AuthError reports a failed sign-in step.
type AuthError struct {
	Op  string // "state", "exchange", "userinfo"
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// User is a signed-in user. ID is stable per provider account.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	PhotoURL    string `json:"photoUrl,omitempty"`
}

// Provider is an OAuth identity provider.
type Provider interface {
	LoginURL(state string) string
	Exchange(ctx context.Context, code string) (User, error)
}

// Session tracks the signed-in user and notifies subscribers on every change.
type Session struct {
	provider Provider
	logger   *zap.Logger
	now      func() time.Time
	stateTTL time.Duration

	mu        sync.Mutex
	user      *User
	pending   map[string]time.Time
	listeners map[uint64]func(*User)
	nextID    uint64
}

// NewSession creates a signed-out Session. provider may be nil, in which case
// sign-in always fails with ErrNotConfigured.
func NewSession(provider Provider, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		provider:  provider,
		logger:    logger,
		now:       time.Now,
		stateTTL:  DefaultStateTTL,
		pending:   make(map[string]time.Time),
		listeners: make(map[uint64]func(*User)),
	}
}

// BeginSignIn issues a one-time state token and returns the provider login URL.
func (s *Session) BeginSignIn() (string, error) {
	if s.provider == nil {
		return "", &AuthError{Op: "state", Err: ErrNotConfigured}
	}
	state := uuid.NewString()
	s.mu.Lock()
	s.pruneLocked()
	s.pending[state] = s.now()
	s.mu.Unlock()
	return s.provider.LoginURL(state), nil
}

// SignIn completes the flow started by BeginSignIn. On failure the session is left
// as it was.
func (s *Session) SignIn(ctx context.Context, state, code string) (User, error) {
	if s.provider == nil {
		return User{}, &AuthError{Op: "state", Err: ErrNotConfigured}
	}
	s.mu.Lock()
	issued, ok := s.pending[state]
	delete(s.pending, state)
	s.mu.Unlock()
	if !ok || s.now().Sub(issued) > s.stateTTL {
		observability.AuthEventsTotal.WithLabelValues("failure").Inc()
		return User{}, &AuthError{Op: "state", Err: ErrInvalidState}
	}

	user, err := s.provider.Exchange(ctx, code)
	if err != nil {
		observability.AuthEventsTotal.WithLabelValues("failure").Inc()
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			err = &AuthError{Op: "exchange", Err: err}
		}
		return User{}, err
	}

	s.mu.Lock()
	u := user
	s.user = &u
	listeners := s.listenersLocked()
	s.mu.Unlock()

	observability.AuthEventsTotal.WithLabelValues("sign_in").Inc()
	s.logger.Info("user signed in", zap.String("user_id", user.ID))
	notify(listeners, &u)
	return user, nil
}

// SignOut clears the user. Subscribers are notified only if someone was signed in.
func (s *Session) SignOut() {
	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return
	}
	id := s.user.ID
	s.user = nil
	listeners := s.listenersLocked()
	s.mu.Unlock()

	observability.AuthEventsTotal.WithLabelValues("sign_out").Inc()
	s.logger.Info("user signed out", zap.String("user_id", id))
	notify(listeners, nil)
}

// CurrentUser returns the signed-in user, if any.
func (s *Session) CurrentUser() (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// OnAuthStateChanged calls fn with the current user (nil when signed out) right
// away and again after every sign-in and sign-out. The returned func unsubscribes.
func (s *Session) OnAuthStateChanged(fn func(*User)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	var current *User
	if s.user != nil {
		u := *s.user
		current = &u
	}
	s.mu.Unlock()

	fn(current)
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) listenersLocked() []func(*User) {
	out := make([]func(*User), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []func(*User), u *User) {
	for _, fn := range listeners {
		if u == nil {
			fn(nil)
			continue
		}
		cp := *u
		fn(&cp)
	}
}

func (s *Session) pruneLocked() {
	cutoff := s.now().Add(-s.stateTTL)
	for state, issued := range s.pending {
		if issued.Before(cutoff) {
			delete(s.pending, state)
		}
	}
}
