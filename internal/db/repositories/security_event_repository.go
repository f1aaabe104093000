// security_event_repository.go implements SecurityEventRepository, the append-only
// store behind the security monitor, plus the age-based purge used by retention.
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pablocopete/IBM/internal/db/models"
)

// SecurityEventRepository handles security_events database operations
type SecurityEventRepository struct {
	db DBTX
}

// NewSecurityEventRepository creates a new SecurityEventRepository
func NewSecurityEventRepository(db DBTX) *SecurityEventRepository {
	return &SecurityEventRepository{db: db}
}

// InsertSecurityEvent appends an event, assigning its ID and timestamp.
func (r *SecurityEventRepository) InsertSecurityEvent(ctx context.Context, e *models.SecurityEvent) error {
	e.ID = uuid.New().String()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	// NULL rather than an empty byte slice when there is no metadata.
	var metadata interface{}
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = b
	}

	query := `
		INSERT INTO security_events (id, event_type, severity, user_id, email, ip_address, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		e.ID,
		e.EventType,
		e.Severity,
		e.UserID,
		e.Email,
		e.IPAddress,
		e.Description,
		metadata,
		e.CreatedAt,
	)
	return err
}

// ListSecurityEvents returns the newest events first. An empty severity
// matches every severity.
func (r *SecurityEventRepository) ListSecurityEvents(ctx context.Context, limit int, severity models.Severity) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, event_type, severity, user_id, email, ip_address, description, metadata, created_at
		FROM security_events
	`
	args := make([]interface{}, 0, 2)
	if severity != "" {
		query += ` WHERE severity = $1`
		args = append(args, severity)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		e := &models.SecurityEvent{}
		var metadataJSON []byte
		if err := rows.Scan(
			&e.ID,
			&e.EventType,
			&e.Severity,
			&e.UserID,
			&e.Email,
			&e.IPAddress,
			&e.Description,
			&metadataJSON,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, err
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteOlderThan removes events created before cutoff.
func (r *SecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM security_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
