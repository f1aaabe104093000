package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pablocopete/IBM/internal/telemetry"
)

// DefaultSweepInterval is used when NewSweeper is given a non-positive interval.
const DefaultSweepInterval = time.Minute

// Sweeper periodically removes expired entries from a Store. It is an
// explicit task with a Start/Stop lifecycle owned by the server.
type Sweeper struct {
	store    Store
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewSweeper creates a sweeper for store.
func NewSweeper(store Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("rate limit sweeper started", "interval", s.interval)

	for {
		select {
		case <-ticker.C:
			s.sweepOnce(ctx)
		case <-s.stopChan:
			slog.Info("rate limit sweeper stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the sweep loop. It is safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	removed, err := s.store.Sweep(ctx, s.now())
	if err != nil {
		slog.Warn("rate limit sweep failed", "error", err)
		return
	}
	if m, ok := s.store.(*MemoryStore); ok {
		telemetry.RateLimitEntries.Set(float64(m.Len()))
	}
	if removed > 0 {
		slog.Debug("rate limit sweep", "removed", removed)
	}
}
