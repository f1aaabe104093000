package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pablocopete/IBM/internal/audit"
	"github.com/pablocopete/IBM/internal/db/models"
)

var errStore = errors.New("store unavailable")

type fakeEvents struct {
	mu      sync.Mutex
	events  []*models.SecurityEvent
	err     error
	listLim int
	listSev models.Severity
}

func (f *fakeEvents) InsertSecurityEvent(_ context.Context, e *models.SecurityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeEvents) ListSecurityEvents(_ context.Context, limit int, severity models.Severity) ([]*models.SecurityEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listLim, f.listSev = limit, severity
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func (f *fakeEvents) last() *models.SecurityEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return nil
	}
	return f.events[len(f.events)-1]
}

type fakeAttempts struct {
	recorded []*models.AuthAttempt
	failed   int
	since    time.Time
	err      error
	countErr error
}

func (f *fakeAttempts) RecordAuthAttempt(_ context.Context, a *models.AuthAttempt) error {
	if f.err != nil {
		return f.err
	}
	f.recorded = append(f.recorded, a)
	return nil
}

func (f *fakeAttempts) CountFailedAttemptsByIP(_ context.Context, _ string, since time.Time) (int, error) {
	f.since = since
	return f.failed, f.countErr
}

type fakeAccess struct {
	logged []*models.APIAccessLog
	count  int
	since  time.Time
	err    error
}

func (f *fakeAccess) LogAccess(_ context.Context, rec *models.APIAccessLog) error {
	if f.err != nil {
		return f.err
	}
	f.logged = append(f.logged, rec)
	return nil
}

func (f *fakeAccess) CountRecentAccess(_ context.Context, _, _ string, since time.Time) (int, error) {
	f.since = since
	return f.count, f.err
}

type fakeLockout struct {
	locked bool
	err    error
}

func (f *fakeLockout) IsLocked(context.Context, string) (bool, error) {
	return f.locked, f.err
}

type fakeAlerter struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (f *fakeAlerter) Ship(_ context.Context, e *audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

type fixture struct {
	m        *Monitor
	events   *fakeEvents
	attempts *fakeAttempts
	access   *fakeAccess
	lockout  *fakeLockout
	alerter  *fakeAlerter
	now      time.Time
}

func newFixture() *fixture {
	f := &fixture{
		events:   &fakeEvents{},
		attempts: &fakeAttempts{},
		access:   &fakeAccess{},
		lockout:  &fakeLockout{},
		alerter:  &fakeAlerter{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.m = New(Stores{
		Events:   f.events,
		Attempts: f.attempts,
		Access:   f.access,
		Lockout:  f.lockout,
	}, Config{}, WithAlerter(f.alerter), WithClock(func() time.Time { return f.now }))
	return f
}
