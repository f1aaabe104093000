// retention.go implements RetentionJob, which periodically deletes security
// events, auth attempts and access-log rows older than the retention period.
// The first purge runs immediately on Start so a long-stopped deployment
// catches up without waiting a full interval.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pablocopete/IBM/internal/telemetry"
)

const (
	defaultRetentionDays   = 90
	defaultCleanupInterval = 24 * time.Hour
)

// Purger deletes rows older than a cutoff from one table.
type Purger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionTarget names a table and the Purger that cleans it.
type RetentionTarget struct {
	Table  string
	Purger Purger
}

// RetentionJob purges expired monitoring data on a fixed interval.
type RetentionJob struct {
	targets   []RetentionTarget
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewRetentionJob creates a RetentionJob. Non-positive retentionDays and
// interval fall back to 90 days and 24 hours.
func NewRetentionJob(targets []RetentionTarget, retentionDays int, interval time.Duration) *RetentionJob {
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	return &RetentionJob{
		targets:   targets,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
}

// Start runs a purge immediately and then on every tick until Stop is
// called or ctx is cancelled.
func (j *RetentionJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	slog.Info("retention job started", "interval", j.interval, "retention", j.retention)

	j.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-j.stopChan:
			slog.Info("retention job stopped")
			return
		case <-ctx.Done():
			slog.Info("retention job context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (j *RetentionJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopChan) })
}

// RunOnce purges every target and returns the rows deleted per table. A
// failing table is logged and skipped.
func (j *RetentionJob) RunOnce(ctx context.Context) map[string]int64 {
	cutoff := j.now().Add(-j.retention)
	deleted := make(map[string]int64, len(j.targets))

	for _, t := range j.targets {
		if ctx.Err() != nil {
			break
		}
		n, err := t.Purger.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			slog.Error("retention purge failed", "table", t.Table, "error", err)
			continue
		}
		deleted[t.Table] = n
		if n > 0 {
			telemetry.RetentionDeletedRowsTotal.WithLabelValues(t.Table).Add(float64(n))
			slog.Info("retention purge", "table", t.Table, "deleted", n, "cutoff", cutoff)
		}
	}
	return deleted
}
