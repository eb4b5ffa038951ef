package http

import (
	"context"
	"sync"
)

// InFlightTracker counts requests being served so shutdown can drain them.
// The zero value is ready to use.
type InFlightTracker struct {
	mu    sync.Mutex
	count int64
	idle  chan struct{} // closed while count is zero; nil means not yet allocated
}

// Begin marks a request as started and returns the func that marks it finished.
// The returned func is safe to call more than once.
func (t *InFlightTracker) Begin() (done func()) {
	t.mu.Lock()
	if t.count == 0 {
		t.idle = make(chan struct{})
	}
	t.count++
	t.mu.Unlock()

	var once sync.Once
	return func() { once.Do(t.end) }
}

func (t *InFlightTracker) end() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count--
	if t.count == 0 {
		close(t.idle)
	}
}

// Count returns the number of requests in flight.
func (t *InFlightTracker) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Wait blocks until no request is in flight or ctx is done.
func (t *InFlightTracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	if t.count == 0 {
		t.mu.Unlock()
		return nil
	}
	idle := t.idle
	t.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// requests is fed by MetricsMiddleware.
var requests = &InFlightTracker{}

// InFlightCount returns the number of requests currently in flight.
func InFlightCount() int64 {
	return requests.Count()
}

// WaitForInFlight blocks until every in-flight request has finished or ctx is done.
func WaitForInFlight(ctx context.Context) error {
	return requests.Wait(ctx)
}
