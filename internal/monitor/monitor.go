// Package monitor records security events, raises operator alerts for the
// severe ones and runs the burst-usage and failed-login detectors over the
// durable access and auth-attempt logs.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pablocopete/IBM/internal/audit"
	"github.com/pablocopete/IBM/internal/db/models"
	"github.com/pablocopete/IBM/internal/telemetry"
)

const (
	defaultEventsLimit = 50
	maxEventsLimit     = 500
)

// EventStore persists security events.
type EventStore interface {
	InsertSecurityEvent(ctx context.Context, e *models.SecurityEvent) error
	ListSecurityEvents(ctx context.Context, limit int, severity models.Severity) ([]*models.SecurityEvent, error)
}

// AuthAttemptStore persists sign-in attempts.
type AuthAttemptStore interface {
	RecordAuthAttempt(ctx context.Context, a *models.AuthAttempt) error
	CountFailedAttemptsByIP(ctx context.Context, ip string, since time.Time) (int, error)
}

// AccessLogStore persists handled API requests.
type AccessLogStore interface {
	LogAccess(ctx context.Context, rec *models.APIAccessLog) error
	CountRecentAccess(ctx context.Context, userID, endpoint string, since time.Time) (int, error)
}

// LockoutOracle decides whether an identity is currently locked out.
type LockoutOracle interface {
	IsLocked(ctx context.Context, identity string) (bool, error)
}

// Alerter delivers high and critical events to operators.
type Alerter interface {
	Ship(ctx context.Context, entry *audit.Entry) error
}

// Config holds detector thresholds. A count strictly greater than the
// threshold within the trailing window triggers the detector.
type Config struct {
	UnusualActivityThreshold int
	UnusualActivityWindow    time.Duration
	FailedLoginThreshold     int
	FailedLoginWindow        time.Duration
}

// DefaultConfig returns 100 requests per 5 minutes and 10 failed logins per
// 10 minutes.
func DefaultConfig() Config {
	return Config{
		UnusualActivityThreshold: 100,
		UnusualActivityWindow:    5 * time.Minute,
		FailedLoginThreshold:     10,
		FailedLoginWindow:        10 * time.Minute,
	}
}

// Stores groups the Monitor's persistence collaborators.
type Stores struct {
	Events   EventStore
	Attempts AuthAttemptStore
	Access   AccessLogStore
	Lockout  LockoutOracle
}

// Monitor is safe for concurrent use.
type Monitor struct {
	stores  Stores
	cfg     Config
	alerter Alerter
	now     func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithAlerter sets the operator alert channel.
func WithAlerter(a Alerter) Option {
	return func(m *Monitor) { m.alerter = a }
}

// WithClock overrides the time source used for detector windows.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor. Zero config fields fall back to DefaultConfig.
func New(stores Stores, cfg Config, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.UnusualActivityThreshold <= 0 {
		cfg.UnusualActivityThreshold = def.UnusualActivityThreshold
	}
	if cfg.UnusualActivityWindow <= 0 {
		cfg.UnusualActivityWindow = def.UnusualActivityWindow
	}
	if cfg.FailedLoginThreshold <= 0 {
		cfg.FailedLoginThreshold = def.FailedLoginThreshold
	}
	if cfg.FailedLoginWindow <= 0 {
		cfg.FailedLoginWindow = def.FailedLoginWindow
	}

	m := &Monitor{stores: stores, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// LogSecurityEvent redacts the event metadata and appends the event to the
// store. High and critical events are also logged at warn level and shipped
// to the alerter. A store failure is logged and returned.
func (m *Monitor) LogSecurityEvent(ctx context.Context, e *models.SecurityEvent) error {
	e.Metadata = sanitizeMetadata(e.Metadata)
	telemetry.SecurityEventsTotal.WithLabelValues(string(e.EventType), string(e.Severity)).Inc()

	err := m.stores.Events.InsertSecurityEvent(ctx, e)
	if err != nil {
		slog.Error("failed to log security event",
			"event_type", e.EventType, "severity", e.Severity, "error", err)
	}

	if e.Severity.IsAlert() {
		slog.Warn("SECURITY ALERT",
			"type", e.EventType,
			"severity", e.Severity,
			"description", e.Description,
			"timestamp", m.now().UTC().Format(time.RFC3339))
		m.alert(ctx, e)
	}
	return err
}

func (m *Monitor) alert(ctx context.Context, e *models.SecurityEvent) {
	if m.alerter == nil {
		return
	}
	entry := &audit.Entry{
		Timestamp: m.now().UTC(),
		EventType: string(e.EventType),
		Severity:  string(e.Severity),
		UserID:    deref(e.UserID),
		IPAddress: deref(e.IPAddress),
		Metadata:  e.Metadata,
	}
	if err := m.alerter.Ship(ctx, entry); err != nil {
		slog.Error("failed to ship security alert", "event_type", e.EventType, "error", err)
	}
}

// RecordAuthAttempt consults the lockout oracle before recording a sign-in
// attempt. For a locked identity it logs account_locked and returns false
// without recording anything. Otherwise the attempt is recorded, a failure
// is logged as failed_login, and true is returned. Store errors are logged
// and returned alongside the verdict; an oracle error counts as unlocked.
func (m *Monitor) RecordAuthAttempt(ctx context.Context, email string, success bool, ip, userAgent, failureReason string) (bool, error) {
	var errs []error

	locked, err := m.stores.Lockout.IsLocked(ctx, email)
	if err != nil {
		slog.Error("failed to check account lockout", "error", err)
		errs = append(errs, err)
	}
	if locked {
		err := m.LogSecurityEvent(ctx, &models.SecurityEvent{
			EventType:   models.EventAccountLocked,
			Severity:    models.SeverityHigh,
			Email:       optional(email),
			IPAddress:   optional(ip),
			Description: "Login attempt on locked account",
			Metadata:    map[string]any{"userAgent": userAgent},
		})
		return false, err
	}

	attempt := &models.AuthAttempt{
		Email:       email,
		Success:     success,
		IPAddress:   nullString(ip),
		UserAgent:   nullString(userAgent),
		AttemptedAt: m.now(),
	}
	if !success {
		attempt.FailureReason = nullString(failureReason)
	}
	if err := m.stores.Attempts.RecordAuthAttempt(ctx, attempt); err != nil {
		slog.Error("failed to record auth attempt", "error", err)
		errs = append(errs, err)
	}

	if !success {
		desc := failureReason
		if desc == "" {
			desc = "Failed login attempt"
		}
		if err := m.LogSecurityEvent(ctx, &models.SecurityEvent{
			EventType:   models.EventFailedLogin,
			Severity:    models.SeverityMedium,
			Email:       optional(email),
			IPAddress:   optional(ip),
			Description: desc,
			Metadata:    map[string]any{"userAgent": userAgent},
		}); err != nil {
			errs = append(errs, err)
		}
	}

	return true, errors.Join(errs...)
}

// LogAPIAccess appends one handled request to the access log.
func (m *Monitor) LogAPIAccess(ctx context.Context, rec *models.APIAccessLog) error {
	if rec.AccessedAt.IsZero() {
		rec.AccessedAt = m.now()
	}
	if err := m.stores.Access.LogAccess(ctx, rec); err != nil {
		slog.Error("failed to log API access", "endpoint", rec.Endpoint, "error", err)
		return err
	}
	return nil
}

// DetectUnusualActivity reports whether userID exceeded the burst threshold
// on endpoint within the trailing window, logging suspicious_api_usage when
// it did.
func (m *Monitor) DetectUnusualActivity(ctx context.Context, userID, endpoint string) (bool, error) {
	since := m.now().Add(-m.cfg.UnusualActivityWindow)
	count, err := m.stores.Access.CountRecentAccess(ctx, userID, endpoint, since)
	if err != nil {
		slog.Error("failed to check activity", "error", err)
		return false, err
	}
	if count <= m.cfg.UnusualActivityThreshold {
		return false, nil
	}

	err = m.LogSecurityEvent(ctx, &models.SecurityEvent{
		EventType: models.EventSuspiciousAPIUsage,
		Severity:  models.SeverityHigh,
		UserID:    optional(userID),
		Description: fmt.Sprintf("Unusual API activity detected: %d requests to %s in %s",
			count, endpoint, windowText(m.cfg.UnusualActivityWindow)),
		Metadata: map[string]any{"endpoint": endpoint, "requestCount": count},
	})
	return true, err
}

// MonitorFailedLogins reports whether ip exceeded the failed sign-in
// threshold within the trailing window, logging a critical
// unusual_activity event when it did.
func (m *Monitor) MonitorFailedLogins(ctx context.Context, ip string) (bool, error) {
	since := m.now().Add(-m.cfg.FailedLoginWindow)
	count, err := m.stores.Attempts.CountFailedAttemptsByIP(ctx, ip, since)
	if err != nil {
		slog.Error("failed to monitor logins", "error", err)
		return false, err
	}
	if count <= m.cfg.FailedLoginThreshold {
		return false, nil
	}

	err = m.LogSecurityEvent(ctx, &models.SecurityEvent{
		EventType: models.EventUnusualActivity,
		Severity:  models.SeverityCritical,
		IPAddress: optional(ip),
		Description: fmt.Sprintf("Multiple failed login attempts detected from IP: %d failures in %s",
			count, windowText(m.cfg.FailedLoginWindow)),
		Metadata: map[string]any{"failedAttempts": count},
	})
	return true, err
}

// LogBlockedRequest records a refused outbound call. Only the hostname is
// kept; the caller identity comes from ctx.
func (m *Monitor) LogBlockedRequest(ctx context.Context, host, reason string) {
	_ = m.LogSecurityEvent(ctx, &models.SecurityEvent{
		EventType:   models.EventBlockedRequest,
		Severity:    models.SeverityMedium,
		UserID:      optional(UserIDFromContext(ctx)),
		IPAddress:   optional(ClientIPFromContext(ctx)),
		Description: "Blocked external request to " + host,
		Metadata:    map[string]any{"host": host, "reason": reason},
	})
}

// LogRateLimitExceeded records a request refused by the rate limiter.
func (m *Monitor) LogRateLimitExceeded(ctx context.Context, userID, endpoint string) error {
	return m.LogSecurityEvent(ctx, &models.SecurityEvent{
		EventType:   models.EventRateLimitExceeded,
		Severity:    models.SeverityMedium,
		UserID:      optional(userID),
		IPAddress:   optional(ClientIPFromContext(ctx)),
		Description: "Rate limit exceeded for " + endpoint,
		Metadata:    map[string]any{"endpoint": endpoint},
	})
}

// RecentSecurityEvents returns the newest events, optionally filtered by
// severity. limit is clamped to [1, 500] and defaults to 50.
func (m *Monitor) RecentSecurityEvents(ctx context.Context, limit int, severity models.Severity) ([]*models.SecurityEvent, error) {
	if severity != "" && !severity.Valid() {
		return nil, fmt.Errorf("unknown severity %q", severity)
	}
	switch {
	case limit <= 0:
		limit = defaultEventsLimit
	case limit > maxEventsLimit:
		limit = maxEventsLimit
	}
	events, err := m.stores.Events.ListSecurityEvents(ctx, limit, severity)
	if err != nil {
		slog.Error("failed to fetch security events", "error", err)
		return nil, err
	}
	return events, nil
}

func windowText(d time.Duration) string {
	if d%time.Minute == 0 {
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
	return d.String()
}
