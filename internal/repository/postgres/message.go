package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/mailing-api/internal/model"
	"github.com/jwalitptl/mailing-api/internal/repository"
)

const messageColumns = `id, topic, content, owner_id, created_at, updated_at`

type messageRepository struct {
	BaseRepository
}

func NewMessageRepository(base BaseRepository) repository.MessageRepository {
	return &messageRepository{base}
}

func (r *messageRepository) Create(ctx context.Context, message *model.Message) error {
	query := `
		INSERT INTO messages (
			id, topic, content, owner_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`
	now := time.Now().UTC()
	message.ID = uuid.New()
	message.CreatedAt = now
	message.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		message.ID,
		message.Topic,
		message.Content,
		message.OwnerID,
		message.CreatedAt,
		message.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", mapError(err))
	}
	return nil
}

func (r *messageRepository) Get(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	var msg model.Message
	if err := r.db.GetContext(ctx, &msg, query, id); err != nil {
		return nil, fmt.Errorf("failed to get message: %w", mapError(err))
	}
	return &msg, nil
}

func (r *messageRepository) Update(ctx context.Context, message *model.Message) error {
	query := `
		UPDATE messages
		SET topic = $1, content = $2, updated_at = $3
		WHERE id = $4
	`
	message.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, query,
		message.Topic,
		message.Content,
		message.UpdatedAt,
		message.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", mapError(err))
	}
	return requireAffected(result)
}

// Delete removes the message and, through ON DELETE CASCADE, its mailings.
func (r *messageRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return requireAffected(result)
}

func (r *messageRepository) List(ctx context.Context, filter model.OwnerFilter) ([]model.Message, error) {
	where, args := ownerWhere(filter, "owner_id")
	query := `SELECT ` + messageColumns + ` FROM messages ` + where + ` ORDER BY topic`

	msgs := make([]model.Message, 0)
	if err := r.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}
