// Package poller refreshes a fixed set of locations on an interval while started.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// DefaultInterval is the refresh period when none is configured.
const DefaultInterval = 60 * time.Second

// DefaultLocations are polled when none are configured.
var DefaultLocations = []string{"London", "New York", "Mumbai"}

// Fetcher is implemented by the state store.
type Fetcher interface {
	FetchCurrent(ctx context.Context, query string) (models.CityRecord, error)
}

// BatchResult lists which locations refreshed and which failed in one run.
type BatchResult struct {
	Succeeded []string
	Failed    []string
}

// Poller runs a batch of fetches immediately on Start and then every interval,
// until Stop. Per-location failures are logged and never stop the loop.
type Poller struct {
	fetcher   Fetcher
	locations []string
	interval  time.Duration
	logger    *zap.Logger

	mu        sync.Mutex
	scheduler *gocron.Scheduler
	cancel    context.CancelFunc
}

// New creates a Poller. Empty locations or a non-positive interval use the defaults.
func New(fetcher Fetcher, locations []string, interval time.Duration, logger *zap.Logger) *Poller {
	if len(locations) == 0 {
		locations = DefaultLocations
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		fetcher:   fetcher,
		locations: append([]string(nil), locations...),
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the batch. It is a no-op if the poller is already running.
// Cancelling ctx has the same effect on in-flight fetches as Stop.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scheduler != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(p.interval).Do(func() {
		batchCtx, batchCancel := context.WithTimeout(runCtx, p.interval)
		defer batchCancel()
		p.RunOnce(batchCtx)
	})
	if err != nil {
		cancel()
		return err
	}
	s.StartAsync()

	p.scheduler = s
	p.cancel = cancel
	p.logger.Info("polling started", zap.Strings("locations", p.locations), zap.Duration("interval", p.interval))
	return nil
}

// Stop cancels in-flight fetches and stops scheduling. Safe to call when stopped.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scheduler == nil {
		return
	}
	p.cancel()
	p.scheduler.Stop()
	p.scheduler = nil
	p.cancel = nil
	p.logger.Info("polling stopped")
}

// Running reports whether the poller is started.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scheduler != nil
}

// RunOnce fetches every location concurrently and waits for all of them.
func (p *Poller) RunOnce(ctx context.Context) BatchResult {
	start := time.Now()
	observability.PollRunsTotal.Inc()

	var (
		mu     sync.Mutex
		result BatchResult
		g      errgroup.Group
	)
	for _, loc := range p.locations {
		loc := loc
		g.Go(func() error {
			_, err := p.fetcher.FetchCurrent(ctx, loc)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, loc)
				if !errors.Is(err, context.Canceled) {
					observability.PollFailuresTotal.WithLabelValues(observability.LocationLabel(loc)).Inc()
					p.logger.Warn("poll fetch failed", zap.String("location", loc), zap.Error(err))
				}
				return nil
			}
			result.Succeeded = append(result.Succeeded, loc)
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Debug("poll batch complete",
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("failed", len(result.Failed)),
		zap.Duration("duration", time.Since(start)))
	return result
}
