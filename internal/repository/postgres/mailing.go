package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/mailing-api/internal/model"
	"github.com/jwalitptl/mailing-api/internal/repository"
)

const mailingColumns = `id, start_time, end_time, status, message_id, owner_id,
	manually_controlled, created_at, updated_at`

type mailingRepository struct {
	BaseRepository
}

func NewMailingRepository(base BaseRepository) repository.MailingRepository {
	return &mailingRepository{base}
}

// linkedRecipient is a recipient row joined through mailing_recipients.
type linkedRecipient struct {
	MailingID uuid.UUID `db:"mailing_id"`
	model.Recipient
}

func (r *mailingRepository) Create(ctx context.Context, mailing *model.Mailing) error {
	query := `
		INSERT INTO mailings (
			id, start_time, end_time, status, message_id, owner_id,
			manually_controlled, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`
	now := time.Now().UTC()
	mailing.ID = uuid.New()
	mailing.CreatedAt = now
	mailing.UpdatedAt = now
	if mailing.Status == "" {
		mailing.Status = model.MailingStatusCreated
	}

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			mailing.ID,
			mailing.StartTime,
			mailing.EndTime,
			mailing.Status,
			mailing.MessageID,
			mailing.OwnerID,
			mailing.ManuallyControlled,
			mailing.CreatedAt,
			mailing.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create mailing: %w", mapError(err))
		}
		return r.linkRecipients(ctx, tx, mailing.ID, mailing.RecipientIDs())
	})
}

func (r *mailingRepository) linkRecipients(ctx context.Context, tx *sqlx.Tx, mailingID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		INSERT INTO mailing_recipients (mailing_id, recipient_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, query, mailingID, uuidArray(ids)); err != nil {
		return fmt.Errorf("failed to link recipients: %w", mapError(err))
	}
	return nil
}

func (r *mailingRepository) Get(ctx context.Context, id uuid.UUID) (*model.Mailing, error) {
	query := `SELECT ` + mailingColumns + ` FROM mailings WHERE id = $1`

	var m model.Mailing
	if err := r.db.GetContext(ctx, &m, query, id); err != nil {
		return nil, fmt.Errorf("failed to get mailing: %w", mapError(err))
	}

	mailings := []model.Mailing{m}
	if err := r.hydrate(ctx, mailings); err != nil {
		return nil, err
	}
	return &mailings[0], nil
}

// hydrate attaches messages and recipients with one query each.
func (r *mailingRepository) hydrate(ctx context.Context, mailings []model.Mailing) error {
	if len(mailings) == 0 {
		return nil
	}
	mailingIDs := make([]uuid.UUID, 0, len(mailings))
	messageIDs := make([]uuid.UUID, 0, len(mailings))
	for _, m := range mailings {
		mailingIDs = append(mailingIDs, m.ID)
		messageIDs = append(messageIDs, m.MessageID)
	}

	var messages []model.Message
	messageQuery := `SELECT ` + messageColumns + ` FROM messages WHERE id = ANY($1::uuid[])`
	if err := r.db.SelectContext(ctx, &messages, messageQuery, uuidArray(messageIDs)); err != nil {
		return fmt.Errorf("failed to load mailing messages: %w", err)
	}
	byMessage := make(map[uuid.UUID]*model.Message, len(messages))
	for i := range messages {
		byMessage[messages[i].ID] = &messages[i]
	}

	var linked []linkedRecipient
	recipientQuery := `
		SELECT mr.mailing_id, r.id, r.email, r.full_name, r.comment, r.owner_id,
			r.created_at, r.updated_at
		FROM mailing_recipients mr
		JOIN recipients r ON r.id = mr.recipient_id
		WHERE mr.mailing_id = ANY($1::uuid[])
		ORDER BY r.full_name
	`
	if err := r.db.SelectContext(ctx, &linked, recipientQuery, uuidArray(mailingIDs)); err != nil {
		return fmt.Errorf("failed to load mailing recipients: %w", err)
	}
	byMailing := make(map[uuid.UUID][]model.Recipient, len(mailings))
	for _, l := range linked {
		byMailing[l.MailingID] = append(byMailing[l.MailingID], l.Recipient)
	}

	for i := range mailings {
		if msg, ok := byMessage[mailings[i].MessageID]; ok {
			cp := *msg
			mailings[i].Message = &cp
		}
		mailings[i].Recipients = byMailing[mailings[i].ID]
		if mailings[i].Recipients == nil {
			mailings[i].Recipients = []model.Recipient{}
		}
	}
	return nil
}

// Update rewrites schedule, message and recipient links. Status and the
// manual flag are read back, never written here.
func (r *mailingRepository) Update(ctx context.Context, mailing *model.Mailing) error {
	query := `
		UPDATE mailings
		SET start_time = $1, end_time = $2, message_id = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING status, manually_controlled, created_at, updated_at
	`

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		row := tx.QueryRowxContext(ctx, query,
			mailing.StartTime,
			mailing.EndTime,
			mailing.MessageID,
			mailing.ID,
		)
		err := row.Scan(&mailing.Status, &mailing.ManuallyControlled, &mailing.CreatedAt, &mailing.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update mailing: %w", mapError(err))
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM mailing_recipients WHERE mailing_id = $1`, mailing.ID); err != nil {
			return fmt.Errorf("failed to unlink recipients: %w", err)
		}
		return r.linkRecipients(ctx, tx, mailing.ID, mailing.RecipientIDs())
	})
}

// Delete removes the mailing. Links and delivery logs cascade.
func (r *mailingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM mailings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete mailing: %w", err)
	}
	return requireAffected(result)
}

func (r *mailingRepository) List(ctx context.Context, filter model.OwnerFilter) ([]model.Mailing, error) {
	where, args := ownerWhere(filter, "owner_id")
	query := `SELECT ` + mailingColumns + ` FROM mailings ` + where + ` ORDER BY start_time`

	mailings := make([]model.Mailing, 0)
	if err := r.db.SelectContext(ctx, &mailings, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list mailings: %w", err)
	}
	if err := r.hydrate(ctx, mailings); err != nil {
		return nil, err
	}
	return mailings, nil
}

// UpdateStatus is a no-op for manually controlled rows.
func (r *mailingRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.MailingStatus) error {
	query := `
		UPDATE mailings
		SET status = $1
		WHERE id = $2 AND manually_controlled = FALSE
	`
	if _, err := r.db.ExecContext(ctx, query, status, id); err != nil {
		return fmt.Errorf("failed to update mailing status: %w", err)
	}
	return nil
}

func (r *mailingRepository) SetManualStatus(ctx context.Context, id uuid.UUID, status model.MailingStatus) error {
	query := `
		UPDATE mailings
		SET status = $1, manually_controlled = TRUE, updated_at = NOW()
		WHERE id = $2
	`
	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to set manual status: %w", err)
	}
	return requireAffected(result)
}

func (r *mailingRepository) Counts(ctx context.Context, filter model.OwnerFilter) (*model.MailingCounts, error) {
	where, args := ownerWhere(filter, "owner_id")
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'started') AS started,
			COUNT(*) FILTER (WHERE status = 'finished') AS finished
		FROM mailings ` + where

	var counts model.MailingCounts
	if err := r.db.GetContext(ctx, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to count mailings: %w", err)
	}
	return &counts, nil
}

func (r *mailingRepository) CountActive(ctx context.Context, now time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM mailings
		WHERE status = 'started' AND start_time <= $1 AND end_time >= $1
	`
	var n int
	if err := r.db.GetContext(ctx, &n, query, now); err != nil {
		return 0, fmt.Errorf("failed to count active mailings: %w", err)
	}
	return n, nil
}
