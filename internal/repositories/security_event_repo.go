package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BradenHooton/loanguard/internal/database"
	"github.com/BradenHooton/loanguard/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// SecurityEventRepository is the append-only security event log
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

// NewSecurityEventRepository creates a new SecurityEventRepository
func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

// Append records an event
func (r *SecurityEventRepository) Append(ctx context.Context, event *models.SecurityEvent) error {
	query := `
		INSERT INTO security_events (
			id, user_id, event_type, occurred_at, ip_address, user_agent,
			device_class, geo_location, risk_score, risk_level
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	var geo []byte
	if event.GeoLocation != nil {
		encoded, err := json.Marshal(event.GeoLocation)
		if err != nil {
			return fmt.Errorf("failed to encode geo location: %w", err)
		}
		geo = encoded
	}

	riskLevel := event.RiskLevel
	if riskLevel == "" {
		riskLevel = models.RiskLow
	}

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.UserID, event.EventType, event.Timestamp, event.IPAddress, event.UserAgent,
		event.DeviceClass, geo, event.RiskScore, riskLevel,
	)
	if err != nil {
		return fmt.Errorf("failed to append security event: %w", database.MapPostgresError(err))
	}

	return nil
}

// Recent returns up to limit events for a user, newest first, optionally filtered by type
func (r *SecurityEventRepository) Recent(ctx context.Context, userID string, limit int, types ...models.SecurityEventType) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, user_id, event_type, occurred_at, COALESCE(ip_address, ''), COALESCE(user_agent, ''),
		       COALESCE(device_class, ''), geo_location, risk_score, risk_level
		FROM security_events
		WHERE user_id = $1 AND (cardinality($3::text[]) = 0 OR event_type = ANY($3::text[]))
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	filter := make([]string, 0, len(types))
	for _, t := range types {
		filter = append(filter, string(t))
	}

	rows, err := r.pool.Query(ctx, query, userID, limit, pq.Array(filter))
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0, limit)
	for rows.Next() {
		var event models.SecurityEvent
		var geo []byte

		if err := rows.Scan(
			&event.ID, &event.UserID, &event.EventType, &event.Timestamp, &event.IPAddress, &event.UserAgent,
			&event.DeviceClass, &geo, &event.RiskScore, &event.RiskLevel,
		); err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}

		if len(geo) > 0 {
			var location models.GeoLocation
			if err := json.Unmarshal(geo, &location); err != nil {
				return nil, fmt.Errorf("failed to decode geo location: %w", err)
			}
			event.GeoLocation = &location
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}

	return events, nil
}
