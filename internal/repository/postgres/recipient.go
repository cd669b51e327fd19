package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/mailing-api/internal/model"
	"github.com/jwalitptl/mailing-api/internal/repository"
)

const recipientColumns = `id, email, full_name, comment, owner_id, created_at, updated_at`

type recipientRepository struct {
	BaseRepository
}

func NewRecipientRepository(base BaseRepository) repository.RecipientRepository {
	return &recipientRepository{base}
}

func (r *recipientRepository) Create(ctx context.Context, recipient *model.Recipient) error {
	query := `
		INSERT INTO recipients (
			id, email, full_name, comment, owner_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`
	now := time.Now().UTC()
	recipient.ID = uuid.New()
	recipient.CreatedAt = now
	recipient.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		recipient.ID,
		recipient.Email,
		recipient.FullName,
		recipient.Comment,
		recipient.OwnerID,
		recipient.CreatedAt,
		recipient.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create recipient: %w", mapError(err))
	}
	return nil
}

func (r *recipientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id = $1`

	var rec model.Recipient
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		return nil, fmt.Errorf("failed to get recipient: %w", mapError(err))
	}
	return &rec, nil
}

func (r *recipientRepository) GetMany(ctx context.Context, ids []uuid.UUID) ([]model.Recipient, error) {
	recs := make([]model.Recipient, 0, len(ids))
	if len(ids) == 0 {
		return recs, nil
	}
	query := `
		SELECT ` + recipientColumns + `
		FROM recipients
		WHERE id = ANY($1::uuid[])
		ORDER BY full_name
	`
	if err := r.db.SelectContext(ctx, &recs, query, uuidArray(ids)); err != nil {
		return nil, fmt.Errorf("failed to get recipients: %w", err)
	}
	return recs, nil
}

func (r *recipientRepository) Update(ctx context.Context, recipient *model.Recipient) error {
	query := `
		UPDATE recipients
		SET email = $1, full_name = $2, comment = $3, updated_at = $4
		WHERE id = $5
	`
	recipient.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, query,
		recipient.Email,
		recipient.FullName,
		recipient.Comment,
		recipient.UpdatedAt,
		recipient.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update recipient: %w", mapError(err))
	}
	return requireAffected(result)
}

// Delete removes the recipient. Mailing links go with it through the FK.
func (r *recipientRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM recipients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete recipient: %w", err)
	}
	return requireAffected(result)
}

func (r *recipientRepository) List(ctx context.Context, filter model.OwnerFilter) ([]model.Recipient, error) {
	where, args := ownerWhere(filter, "owner_id")
	query := `SELECT ` + recipientColumns + ` FROM recipients ` + where + ` ORDER BY full_name`

	recs := make([]model.Recipient, 0)
	if err := r.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	return recs, nil
}

func (r *recipientRepository) CountDistinct(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(DISTINCT id) FROM recipients`); err != nil {
		return 0, fmt.Errorf("failed to count recipients: %w", err)
	}
	return n, nil
}
