// Package models - security_event.go defines the append-only SecurityEvent record
// together with its event-type and severity vocabularies.
package models

import "time"

// SecurityEventType classifies a SecurityEvent.
type SecurityEventType string

const (
	EventFailedLogin        SecurityEventType = "failed_login"
	EventAccountLocked      SecurityEventType = "account_locked"
	EventUnusualActivity    SecurityEventType = "unusual_activity"
	EventRateLimitExceeded  SecurityEventType = "rate_limit_exceeded"
	EventBlockedRequest     SecurityEventType = "blocked_request"
	EventSuspiciousAPIUsage SecurityEventType = "suspicious_api_usage"
	EventDataAccessAnomaly  SecurityEventType = "data_access_anomaly"
)

// Valid reports whether t is a known event type.
func (t SecurityEventType) Valid() bool {
	switch t {
	case EventFailedLogin, EventAccountLocked, EventUnusualActivity, EventRateLimitExceeded,
		EventBlockedRequest, EventSuspiciousAPIUsage, EventDataAccessAnomaly:
		return true
	}
	return false
}

// Severity ranks a SecurityEvent.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// IsAlert reports whether events of this severity go to the operator alert
// channel as well as the store.
func (s Severity) IsAlert() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// SecurityEvent is a security-relevant occurrence. Rows are never updated.
type SecurityEvent struct {
	ID          string            `json:"id"`
	EventType   SecurityEventType `json:"event_type"`
	Severity    Severity          `json:"severity"`
	UserID      *string           `json:"user_id,omitempty"`
	Email       *string           `json:"email,omitempty"`
	IPAddress   *string           `json:"ip_address,omitempty"`
	Description string            `json:"description"`
	Metadata    map[string]any    `json:"metadata,omitempty"` // JSONB, redacted before insert
	CreatedAt   time.Time         `json:"created_at"`
}
