// Package lifecycle tracks the process phase for health reporting and shutdown.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// Phase is the process lifecycle phase.
type Phase int32

const (
	PhaseStarting Phase = iota
	PhaseServing
	PhaseShuttingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseServing:
		return "serving"
	case PhaseShuttingDown:
		return "shutting-down"
	}
	return "unknown"
}

var (
	phase     atomic.Int32
	startedAt atomic.Int64
)

// SetPhase records the current phase. Entering PhaseServing also stamps the
// start time used by Uptime.
func SetPhase(p Phase) {
	if p == PhaseServing {
		startedAt.CompareAndSwap(0, time.Now().UnixNano())
	}
	phase.Store(int32(p))
}

// CurrentPhase returns the current phase.
func CurrentPhase() Phase {
	return Phase(phase.Load())
}

// SetShuttingDown moves to PhaseShuttingDown, or back to PhaseServing when v is false.
// Call when SIGTERM/SIGINT received; health returns 503 while shutting down.
func SetShuttingDown(v bool) {
	if v {
		SetPhase(PhaseShuttingDown)
		return
	}
	SetPhase(PhaseServing)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return CurrentPhase() == PhaseShuttingDown
}

// Uptime is the time since the process first entered PhaseServing, or zero.
func Uptime() time.Duration {
	ns := startedAt.Load()
	if ns == 0 {
		return 0
	}
	return time.Since(time.Unix(0, ns))
}
