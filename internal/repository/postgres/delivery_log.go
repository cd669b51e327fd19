package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/mailing-api/internal/model"
	"github.com/jwalitptl/mailing-api/internal/repository"
)

type deliveryLogRepository struct {
	BaseRepository
}

func NewDeliveryLogRepository(base BaseRepository) repository.DeliveryLogRepository {
	return &deliveryLogRepository{base}
}

// Create appends one entry. The attempt time is taken from the database clock.
func (r *deliveryLogRepository) Create(ctx context.Context, entry *model.DeliveryLogEntry) error {
	query := `
		INSERT INTO delivery_logs (
			id, mailing_id, status, error_message, server_response, owner_id, attempt_time
		) VALUES (
			$1, $2, $3, $4, $5, $6, NOW()
		)
		RETURNING attempt_time
	`
	entry.ID = uuid.New()

	err := r.db.QueryRowxContext(ctx, query,
		entry.ID,
		entry.MailingID,
		entry.Status,
		entry.ErrorMessage,
		entry.ServerResponse,
		entry.OwnerID,
	).Scan(&entry.AttemptTime)
	if err != nil {
		return fmt.Errorf("failed to create delivery log: %w", mapError(err))
	}
	return nil
}

func (r *deliveryLogRepository) ListByMailing(ctx context.Context, mailingID uuid.UUID) ([]model.DeliveryLogEntry, error) {
	query := `
		SELECT id, mailing_id, status, error_message, server_response, attempt_time, owner_id
		FROM delivery_logs
		WHERE mailing_id = $1
		ORDER BY attempt_time, id
	`
	entries := make([]model.DeliveryLogEntry, 0)
	if err := r.db.SelectContext(ctx, &entries, query, mailingID); err != nil {
		return nil, fmt.Errorf("failed to list delivery logs: %w", err)
	}
	return entries, nil
}

func (r *deliveryLogRepository) Stats(ctx context.Context, ownerID uuid.UUID) (*model.DeliveryStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'success') AS successful,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed
		FROM delivery_logs
		WHERE owner_id = $1
	`
	var stats model.DeliveryStats
	if err := r.db.GetContext(ctx, &stats, query, ownerID); err != nil {
		return nil, fmt.Errorf("failed to get delivery stats: %w", err)
	}
	return &stats, nil
}
