package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/loanguard/internal/database"
	"github.com/BradenHooton/loanguard/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountLockRepository handles lock record data access.
// A partial unique index keeps at most one active lock per user.
type AccountLockRepository struct {
	pool *pgxpool.Pool
}

// NewAccountLockRepository creates a new AccountLockRepository
func NewAccountLockRepository(db *database.DB) *AccountLockRepository {
	return &AccountLockRepository{pool: db.Pool}
}

const accountLockColumns = `id, user_id, reason, is_active, created_at, expires_at,
		       locked_by, unlock_code_id, attempts, unlocked_at, unlocked_by`

func scanAccountLockRow(row rowScanner) (*models.AccountLockRecord, error) {
	var lock models.AccountLockRecord

	err := row.Scan(
		&lock.ID, &lock.UserID, &lock.Reason, &lock.IsActive, &lock.CreatedAt, &lock.ExpiresAt,
		&lock.LockedBy, &lock.UnlockCodeID, &lock.Attempts, &lock.UnlockedAt, &lock.UnlockedBy,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &lock, nil
}

// GetActive returns the user's open lock, whether or not it has expired
func (r *AccountLockRepository) GetActive(ctx context.Context, userID string) (*models.AccountLockRecord, error) {
	query := `
		SELECT ` + accountLockColumns + `
		FROM account_locks
		WHERE user_id = $1 AND is_active
	`

	return scanAccountLockRow(r.pool.QueryRow(ctx, query, userID))
}

// Create inserts a new lock; ErrConflict when the user already has an active one
func (r *AccountLockRepository) Create(ctx context.Context, lock *models.AccountLockRecord) error {
	query := `
		INSERT INTO account_locks (
			id, user_id, reason, is_active, created_at, expires_at,
			locked_by, unlock_code_id, attempts, unlocked_at, unlocked_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.pool.Exec(ctx, query,
		lock.ID, lock.UserID, lock.Reason, lock.IsActive, lock.CreatedAt, lock.ExpiresAt,
		lock.LockedBy, lock.UnlockCodeID, lock.Attempts, lock.UnlockedAt, lock.UnlockedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create account lock: %w", database.MapPostgresError(err))
	}

	return nil
}

// Update persists attempts, the attached unlock code and closure
func (r *AccountLockRepository) Update(ctx context.Context, lock *models.AccountLockRecord) error {
	query := `
		UPDATE account_locks
		SET is_active = $2, unlock_code_id = $3, attempts = $4,
		    unlocked_at = $5, unlocked_by = $6
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query,
		lock.ID, lock.IsActive, lock.UnlockCodeID, lock.Attempts, lock.UnlockedAt, lock.UnlockedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to update account lock: %w", database.MapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
