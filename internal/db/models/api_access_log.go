package models

import (
	"database/sql"
	"time"
)

// APIAccessLog is one handled API request, used by burst-usage detection.
type APIAccessLog struct {
	ID             string         `db:"id" json:"id"`
	UserID         sql.NullString `db:"user_id" json:"user_id,omitempty"`
	Endpoint       string         `db:"endpoint" json:"endpoint"`
	Method         string         `db:"method" json:"method"`
	IPAddress      sql.NullString `db:"ip_address" json:"ip_address,omitempty"`
	StatusCode     sql.NullInt32  `db:"status_code" json:"status_code,omitempty"`
	ResponseTimeMs sql.NullInt64  `db:"response_time_ms" json:"response_time_ms,omitempty"`
	AccessedAt     time.Time      `db:"accessed_at" json:"accessed_at"`
}
