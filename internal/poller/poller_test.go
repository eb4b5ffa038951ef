package poller

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

type mockFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
	block bool
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{calls: make(map[string]int), fail: make(map[string]error)}
}

func (m *mockFetcher) FetchCurrent(ctx context.Context, q string) (models.CityRecord, error) {
	m.mu.Lock()
	m.calls[q]++
	err := m.fail[q]
	block := m.block
	m.mu.Unlock()
	if block {
		<-ctx.Done()
		return models.CityRecord{}, ctx.Err()
	}
	if err != nil {
		return models.CityRecord{}, err
	}
	return models.CityRecord{Location: models.Location{Name: q}}, nil
}

func (m *mockFetcher) count(q string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[q]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestRunOnce_FailureDoesNotBlockSiblings verifies one failing location does not
// stop the others and is logged.
func TestRunOnce_FailureDoesNotBlockSiblings(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	f := newMockFetcher()
	f.fail["New York"] = errors.New("upstream down")
	p := New(f, nil, time.Minute, zap.New(core))

	res := p.RunOnce(context.Background())

	sort.Strings(res.Succeeded)
	if len(res.Succeeded) != 2 || res.Succeeded[0] != "London" || res.Succeeded[1] != "Mumbai" {
		t.Errorf("Succeeded = %v, want [London Mumbai]", res.Succeeded)
	}
	if len(res.Failed) != 1 || res.Failed[0] != "New York" {
		t.Errorf("Failed = %v, want [New York]", res.Failed)
	}
	if logs.FilterMessage("poll fetch failed").Len() != 1 {
		t.Errorf("warn logs = %d, want 1", logs.FilterMessage("poll fetch failed").Len())
	}
}

// TestStart_RunsImmediatelyAndRepeats verifies the first batch runs on Start and
// the loop keeps going after failures.
func TestStart_RunsImmediatelyAndRepeats(t *testing.T) {
	f := newMockFetcher()
	f.fail["London"] = errors.New("boom")
	p := New(f, []string{"London", "Paris"}, 50*time.Millisecond, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()

	waitFor(t, func() bool { return f.count("Paris") >= 1 })
	waitFor(t, func() bool { return f.count("London") >= 2 && f.count("Paris") >= 2 })
	if !p.Running() {
		t.Error("Running() = false while started")
	}
}

// TestStop_HaltsPolling verifies in-flight fetches are cancelled and no further
// batches run after Stop.
func TestStop_HaltsPolling(t *testing.T) {
	f := newMockFetcher()
	f.block = true
	p := New(f, []string{"London"}, 20*time.Millisecond, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, func() bool { return f.count("London") >= 1 })

	p.Stop()
	if p.Running() {
		t.Error("Running() = true after Stop")
	}
	time.Sleep(20 * time.Millisecond)
	after := f.count("London")
	time.Sleep(80 * time.Millisecond)
	if got := f.count("London"); got != after {
		t.Errorf("calls grew from %d to %d after Stop", after, got)
	}
	p.Stop()
}

func TestStart_Idempotent(t *testing.T) {
	f := newMockFetcher()
	p := New(f, []string{"Mumbai"}, time.Hour, nil)
	ctx := context.Background()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	defer p.Stop()

	waitFor(t, func() bool { return f.count("Mumbai") == 1 })
	time.Sleep(20 * time.Millisecond)
	if got := f.count("Mumbai"); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

// TestStart_Restart verifies a stopped poller can be started again.
func TestStart_Restart(t *testing.T) {
	f := newMockFetcher()
	p := New(f, []string{"Paris"}, time.Hour, nil)
	ctx := context.Background()

	_ = p.Start(ctx)
	waitFor(t, func() bool { return f.count("Paris") == 1 })
	p.Stop()

	_ = p.Start(ctx)
	defer p.Stop()
	waitFor(t, func() bool { return f.count("Paris") == 2 })
}

func TestNew_Defaults(t *testing.T) {
	p := New(newMockFetcher(), nil, 0, nil)
	if p.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", p.interval, DefaultInterval)
	}
	if len(p.locations) != 3 || p.locations[0] != "London" || p.locations[1] != "New York" || p.locations[2] != "Mumbai" {
		t.Errorf("locations = %v", p.locations)
	}
}
