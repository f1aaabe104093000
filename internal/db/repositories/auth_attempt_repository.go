// auth_attempt_repository.go implements AuthAttemptRepository: sign-in attempt
// recording, failed-attempt counts per IP, and the account lockout oracle.
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pablocopete/IBM/internal/db/models"
)

// LockoutPolicy locks an account after Threshold failed attempts within
// Window.
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
}

// DefaultLockoutPolicy is 5 failures in 15 minutes.
var DefaultLockoutPolicy = LockoutPolicy{Threshold: 5, Window: 15 * time.Minute}

// AuthAttemptRepository handles auth_attempts database operations
type AuthAttemptRepository struct {
	db     *sqlx.DB
	policy LockoutPolicy
	now    func() time.Time
}

// NewAuthAttemptRepository creates a new AuthAttemptRepository. A zero
// policy uses DefaultLockoutPolicy.
func NewAuthAttemptRepository(db *sqlx.DB, policy LockoutPolicy) *AuthAttemptRepository {
	if policy.Threshold <= 0 {
		policy.Threshold = DefaultLockoutPolicy.Threshold
	}
	if policy.Window <= 0 {
		policy.Window = DefaultLockoutPolicy.Window
	}
	return &AuthAttemptRepository{db: db, policy: policy, now: time.Now}
}

// RecordAuthAttempt inserts an attempt, assigning its ID.
func (r *AuthAttemptRepository) RecordAuthAttempt(ctx context.Context, a *models.AuthAttempt) error {
	a.ID = uuid.New().String()
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = r.now()
	}
	query := `
		INSERT INTO auth_attempts (id, email, success, ip_address, user_agent, failure_reason, attempted_at)
		VALUES (:id, :email, :success, :ip_address, :user_agent, :failure_reason, :attempted_at)`
	_, err := r.db.NamedExecContext(ctx, query, a)
	return err
}

// CountFailedAttemptsByIP counts failures from ip at or after since.
func (r *AuthAttemptRepository) CountFailedAttemptsByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM auth_attempts WHERE ip_address = $1 AND success = false AND attempted_at >= $2`
	err := r.db.GetContext(ctx, &count, query, ip, since)
	return count, err
}

// CountFailedAttemptsByEmail counts failures for email at or after since.
func (r *AuthAttemptRepository) CountFailedAttemptsByEmail(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM auth_attempts WHERE email = $1 AND success = false AND attempted_at >= $2`
	err := r.db.GetContext(ctx, &count, query, email, since)
	return count, err
}

// IsLocked reports whether email has reached the policy's failure threshold
// within the trailing window.
func (r *AuthAttemptRepository) IsLocked(ctx context.Context, email string) (bool, error) {
	count, err := r.CountFailedAttemptsByEmail(ctx, email, r.now().Add(-r.policy.Window))
	if err != nil {
		return false, err
	}
	return count >= r.policy.Threshold, nil
}

// ListRecentAttempts returns the newest attempts for email.
func (r *AuthAttemptRepository) ListRecentAttempts(ctx context.Context, email string, limit int) ([]models.AuthAttempt, error) {
	var attempts []models.AuthAttempt
	query := `
		SELECT id, email, success, ip_address, user_agent, failure_reason, attempted_at
		FROM auth_attempts WHERE email = $1
		ORDER BY attempted_at DESC LIMIT $2`
	err := r.db.SelectContext(ctx, &attempts, query, email, limit)
	return attempts, err
}

// DeleteOlderThan removes attempts made before cutoff.
func (r *AuthAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM auth_attempts WHERE attempted_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
