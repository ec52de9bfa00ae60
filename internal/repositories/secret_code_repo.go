package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/loanguard/internal/database"
	"github.com/BradenHooton/loanguard/internal/models"
	"github.com/jackc/pgx/v5"
)

// SecretCodeRepository handles secret code data access
type SecretCodeRepository struct {
	db *database.DB
}

// NewSecretCodeRepository creates a new SecretCodeRepository
func NewSecretCodeRepository(db *database.DB) *SecretCodeRepository {
	return &SecretCodeRepository{db: db}
}

const secretCodeColumns = `id, subject_key, purpose, code_hash, issued_at, expires_at,
		       max_attempts, remaining_attempts, cooldown_seconds, cooldown_until,
		       single_use, consumed, consumed_at, superseded_at`

func scanSecretCodeRow(row rowScanner) (*models.SecretCode, error) {
	var code models.SecretCode
	var cooldownSeconds int64

	err := row.Scan(
		&code.ID, &code.SubjectKey, &code.Purpose, &code.CodeHash, &code.IssuedAt, &code.ExpiresAt,
		&code.MaxAttempts, &code.RemainingAttempts, &cooldownSeconds, &code.CooldownUntil,
		&code.SingleUse, &code.Consumed, &code.ConsumedAt, &code.SupersededAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	code.Cooldown = time.Duration(cooldownSeconds) * time.Second
	return &code, nil
}

// GetCurrent returns the newest non-superseded code for a subject
func (r *SecretCodeRepository) GetCurrent(ctx context.Context, subjectKey string) (*models.SecretCode, error) {
	query := `
		SELECT ` + secretCodeColumns + `
		FROM secret_codes
		WHERE subject_key = $1 AND superseded_at IS NULL
		ORDER BY issued_at DESC
		LIMIT 1
	`

	return scanSecretCodeRow(r.db.Pool.QueryRow(ctx, query, subjectKey))
}

// Create supersedes the subject's current code and inserts the new one atomically
func (r *SecretCodeRepository) Create(ctx context.Context, code *models.SecretCode) error {
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		supersede := `
			UPDATE secret_codes
			SET superseded_at = $2
			WHERE subject_key = $1 AND superseded_at IS NULL
		`
		if _, err := tx.Exec(ctx, supersede, code.SubjectKey, code.IssuedAt); err != nil {
			return err
		}

		insert := `
			INSERT INTO secret_codes (
				id, subject_key, purpose, code_hash, issued_at, expires_at,
				max_attempts, remaining_attempts, cooldown_seconds, cooldown_until,
				single_use, consumed, consumed_at, superseded_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`
		_, err := tx.Exec(ctx, insert,
			code.ID, code.SubjectKey, code.Purpose, code.CodeHash, code.IssuedAt, code.ExpiresAt,
			code.MaxAttempts, code.RemainingAttempts, int64(code.Cooldown/time.Second), code.CooldownUntil,
			code.SingleUse, code.Consumed, code.ConsumedAt, code.SupersededAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create secret code: %w", database.MapPostgresError(err))
	}

	return nil
}

// Update persists the mutable validation state of a code
func (r *SecretCodeRepository) Update(ctx context.Context, code *models.SecretCode) error {
	query := `
		UPDATE secret_codes
		SET remaining_attempts = $2, cooldown_until = $3, consumed = $4,
		    consumed_at = $5, superseded_at = $6
		WHERE id = $1
	`

	result, err := r.db.Pool.Exec(ctx, query,
		code.ID, code.RemainingAttempts, code.CooldownUntil, code.Consumed,
		code.ConsumedAt, code.SupersededAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update secret code: %w", database.MapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// DeleteExpired removes codes that expired before cutoff
func (r *SecretCodeRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM secret_codes WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired secret codes: %w", err)
	}

	return result.RowsAffected(), nil
}
