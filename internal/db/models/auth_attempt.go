package models

import (
	"database/sql"
	"time"
)

// AuthAttempt records one sign-in attempt for lockout and flood detection.
type AuthAttempt struct {
	ID            string         `db:"id" json:"id"`
	Email         string         `db:"email" json:"email"`
	Success       bool           `db:"success" json:"success"`
	IPAddress     sql.NullString `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent     sql.NullString `db:"user_agent" json:"user_agent,omitempty"`
	FailureReason sql.NullString `db:"failure_reason" json:"failure_reason,omitempty"`
	AttemptedAt   time.Time      `db:"attempted_at" json:"attempted_at"`
}
