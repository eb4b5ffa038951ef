package traffic

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

// TestRequestCount_Empty verifies that RequestCount returns 0 when nothing
// has been recorded.
func TestRequestCount_Empty(t *testing.T) {
	var tr Tracker
	if n := tr.RequestCount(time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
}

// TestRecordDenied_AndCounts verifies that denials count as requests but not
// towards the error rate.
func TestRecordDenied_AndCounts(t *testing.T) {
	var tr Tracker
	tr.RecordSuccess()
	tr.RecordDenied()
	tr.RecordDenied()
	if n := tr.DenialCount(time.Minute); n != 2 {
		t.Errorf("DenialCount() = %d, want 2", n)
	}
	if n := tr.RequestCount(time.Minute); n != 3 {
		t.Errorf("RequestCount() = %d, want 3", n)
	}
	errs, total := tr.ErrorRate(time.Minute)
	if errs != 0 || total != 1 {
		t.Errorf("ErrorRate() = (%d, %d), want (0, 1)", errs, total)
	}
}

// TestRecord_ClassifiesByError verifies Record maps nil to success and
// non-nil to error.
func TestRecord_ClassifiesByError(t *testing.T) {
	var tr Tracker
	tr.Record(nil)
	tr.Record(nil)
	tr.Record(errors.New("upstream"))
	errs, total := tr.ErrorRate(time.Minute)
	if errs != 1 || total != 3 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 3)", errs, total)
	}
}

// TestErrorRate_WindowExcludesOld verifies outcomes outside the window are not counted
// and outcomes older than retention are pruned.
func TestErrorRate_WindowExcludesOld(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(2*time.Minute, clock.now)

	tr.RecordError()
	clock.t = clock.t.Add(90 * time.Second)
	tr.RecordSuccess()

	errs, total := tr.ErrorRate(time.Minute)
	if errs != 0 || total != 1 {
		t.Errorf("ErrorRate(1m) = (%d, %d), want (0, 1)", errs, total)
	}
	errs, total = tr.ErrorRate(2 * time.Minute)
	if errs != 1 || total != 2 {
		t.Errorf("ErrorRate(2m) = (%d, %d), want (1, 2)", errs, total)
	}

	clock.t = clock.t.Add(time.Minute)
	tr.RecordSuccess()
	if n := len(tr.errorTimes); n != 0 {
		t.Errorf("errorTimes len = %d after retention, want 0", n)
	}
}

func TestBreached(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		errors    int
		pct       int
		want      bool
	}{
		{"empty window", 0, 0, 50, false},
		{"below threshold", 3, 1, 50, false},
		{"at threshold", 1, 1, 50, true},
		{"disabled", 0, 5, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tr Tracker
			for i := 0; i < tt.successes; i++ {
				tr.RecordSuccess()
			}
			for i := 0; i < tt.errors; i++ {
				tr.RecordError()
			}
			if got := tr.Breached(time.Minute, tt.pct); got != tt.want {
				t.Errorf("Breached() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReset(t *testing.T) {
	var tr Tracker
	tr.RecordError()
	tr.RecordDenied()
	tr.Reset()
	if n := tr.RequestCount(time.Minute); n != 0 {
		t.Errorf("RequestCount() after Reset = %d, want 0", n)
	}
}
