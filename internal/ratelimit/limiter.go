// Package ratelimit implements fixed-window request limiting keyed by
// endpoint and caller identity.
//
// Each key owns one counter and a reset instant. The first request after the
// reset instant opens a new window of length Config.Window; at most
// Config.MaxRequests requests are admitted inside it. A caller that spreads
// requests across a window boundary can therefore be admitted up to twice
// MaxRequests within one Window-long span; this is accepted for the sake of a
// single counter per key.
//
// Counters are charged before the protected handler runs and are never
// refunded when the handler later fails.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrInvalidConfig is returned by Check for a non-positive limit or window.
var ErrInvalidConfig = errors.New("rate limit config requires positive max requests and window")

// Config is a fixed-window policy.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// Entry is the stored state of one key.
type Entry struct {
	Count   int
	ResetAt time.Time
}

// Result is the outcome of one Check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfterSeconds is set only when Allowed is false.
	RetryAfterSeconds int
}

// Store persists entries. Implementations must make Increment atomic per key:
// two concurrent calls for the same key observe each other's effect.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
	// Sweep removes entries whose window ended at or before now and reports
	// how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
	// Increment applies one fixed-window step to key and returns the entry
	// after the step and whether the request was admitted.
	Increment(ctx context.Context, key string, cfg Config, now time.Time) (Entry, bool, error)
}

// step is the fixed-window transition shared by stores that hold entries in
// process memory.
func step(e Entry, exists bool, cfg Config, now time.Time) (Entry, bool) {
	if !exists || !now.Before(e.ResetAt) {
		e = Entry{Count: 0, ResetAt: now.Add(cfg.Window)}
	}
	if e.Count >= cfg.MaxRequests {
		return e, false
	}
	e.Count++
	return e, true
}

// Limiter evaluates requests against a Store.
type Limiter struct {
	store Store
	now   func() time.Time
}

// New returns a Limiter backed by store.
func New(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// WithClock replaces the limiter's time source. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Store returns the backing store.
func (l *Limiter) Store() Store {
	return l.store
}

// Check charges one request against key under cfg.
func (l *Limiter) Check(ctx context.Context, key string, cfg Config) (Result, error) {
	if cfg.MaxRequests < 1 || cfg.Window <= 0 {
		return Result{}, ErrInvalidConfig
	}

	now := l.now()
	e, allowed, err := l.store.Increment(ctx, key, cfg, now)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Allowed: allowed,
		Limit:   cfg.MaxRequests,
		ResetAt: e.ResetAt,
	}
	if allowed {
		res.Remaining = cfg.MaxRequests - e.Count
		return res, nil
	}
	res.RetryAfterSeconds = int(math.Ceil(e.ResetAt.Sub(now).Seconds()))
	if res.RetryAfterSeconds < 1 {
		res.RetryAfterSeconds = 1
	}
	return res, nil
}

// Key builds the storage key for an endpoint and caller identity.
func Key(endpoint, identity string) string {
	return endpoint + ":" + identity
}
