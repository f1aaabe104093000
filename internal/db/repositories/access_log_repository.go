// access_log_repository.go implements AccessLogRepository for the per-request
// api_access_log used by burst-usage detection.
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pablocopete/IBM/internal/db/models"
)

// AccessLogRepository handles api_access_log database operations
type AccessLogRepository struct {
	db *sqlx.DB
}

// NewAccessLogRepository creates a new AccessLogRepository
func NewAccessLogRepository(db *sqlx.DB) *AccessLogRepository {
	return &AccessLogRepository{db: db}
}

// LogAccess inserts one access record.
func (r *AccessLogRepository) LogAccess(ctx context.Context, rec *models.APIAccessLog) error {
	rec.ID = uuid.New().String()
	if rec.AccessedAt.IsZero() {
		rec.AccessedAt = time.Now()
	}
	query := `
		INSERT INTO api_access_log (id, user_id, endpoint, method, ip_address, status_code, response_time_ms, accessed_at)
		VALUES (:id, :user_id, :endpoint, :method, :ip_address, :status_code, :response_time_ms, :accessed_at)`
	_, err := r.db.NamedExecContext(ctx, query, rec)
	return err
}

// CountRecentAccess counts requests by userID to endpoint at or after since.
func (r *AccessLogRepository) CountRecentAccess(ctx context.Context, userID, endpoint string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM api_access_log WHERE user_id = $1 AND endpoint = $2 AND accessed_at >= $3`
	err := r.db.GetContext(ctx, &count, query, userID, endpoint, since)
	return count, err
}

// DeleteOlderThan removes records accessed before cutoff.
func (r *AccessLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_access_log WHERE accessed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
