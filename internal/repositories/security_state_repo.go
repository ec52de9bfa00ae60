package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/loanguard/internal/database"
	"github.com/BradenHooton/loanguard/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// SecurityStateRepository handles the per-user protection aggregate
type SecurityStateRepository struct {
	pool *pgxpool.Pool
}

// NewSecurityStateRepository creates a new SecurityStateRepository
func NewSecurityStateRepository(db *database.DB) *SecurityStateRepository {
	return &SecurityStateRepository{pool: db.Pool}
}

// Get returns ErrNotFound for users that never had protection state recorded
func (r *SecurityStateRepository) Get(ctx context.Context, userID string) (*models.AccountSecurityState, error) {
	query := `
		SELECT user_id, failed_login_count, last_failed_login_at, requires_password_change,
		       email_verified, trusted_device_classes, active_lock_id, updated_at
		FROM account_security_states
		WHERE user_id = $1
	`

	var state models.AccountSecurityState
	var trusted []string

	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&state.UserID, &state.FailedLoginCount, &state.LastFailedLoginAt, &state.RequiresPasswordChange,
		&state.EmailVerified, pq.Array(&trusted), &state.ActiveLockID, &state.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	for _, class := range trusted {
		state.TrustedDeviceClasses = append(state.TrustedDeviceClasses, models.DeviceClass(class))
	}

	return &state, nil
}

// Save upserts the aggregate
func (r *SecurityStateRepository) Save(ctx context.Context, state *models.AccountSecurityState) error {
	query := `
		INSERT INTO account_security_states (
			user_id, failed_login_count, last_failed_login_at, requires_password_change,
			email_verified, trusted_device_classes, active_lock_id, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			failed_login_count = EXCLUDED.failed_login_count,
			last_failed_login_at = EXCLUDED.last_failed_login_at,
			requires_password_change = EXCLUDED.requires_password_change,
			email_verified = EXCLUDED.email_verified,
			trusted_device_classes = EXCLUDED.trusted_device_classes,
			active_lock_id = EXCLUDED.active_lock_id,
			updated_at = EXCLUDED.updated_at
	`

	trusted := make([]string, 0, len(state.TrustedDeviceClasses))
	for _, class := range state.TrustedDeviceClasses {
		trusted = append(trusted, string(class))
	}

	_, err := r.pool.Exec(ctx, query,
		state.UserID, state.FailedLoginCount, state.LastFailedLoginAt, state.RequiresPasswordChange,
		state.EmailVerified, pq.Array(trusted), state.ActiveLockID, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save security state: %w", database.MapPostgresError(err))
	}

	return nil
}
