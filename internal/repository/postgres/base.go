package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/mailing-api/internal/model"
	"github.com/jwalitptl/mailing-api/internal/repository"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db *sqlx.DB
}

// NewBaseRepository creates a new base repository
func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}

// GetDB returns the database instance
func (r *BaseRepository) GetDB() *sqlx.DB {
	return r.db
}

// WithTx executes a function within a transaction
func (r *BaseRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// mapError translates driver errors into repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return fmt.Errorf("%w: %s", repository.ErrDuplicate, pqErr.Constraint)
		case pqForeignKeyViolation:
			return fmt.Errorf("%w: %s", repository.ErrNotFound, pqErr.Constraint)
		}
	}
	return err
}

// ownerWhere renders the WHERE clause for filter, binding the owner as $1.
func ownerWhere(filter model.OwnerFilter, column string) (string, []interface{}) {
	if filter.All() {
		return "", nil
	}
	return "WHERE " + column + " = $1", []interface{}{*filter.OwnerID}
}

func uuidArray(ids []uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Repositories groups the postgres implementations over one pool.
type Repositories struct {
	BaseRepository
}

func NewRepositories(db *sqlx.DB) *Repositories {
	return &Repositories{NewBaseRepository(db)}
}

func (r *Repositories) Recipients() repository.RecipientRepository {
	return NewRecipientRepository(r.BaseRepository)
}

func (r *Repositories) Messages() repository.MessageRepository {
	return NewMessageRepository(r.BaseRepository)
}

func (r *Repositories) Mailings() repository.MailingRepository {
	return NewMailingRepository(r.BaseRepository)
}

func (r *Repositories) DeliveryLogs() repository.DeliveryLogRepository {
	return NewDeliveryLogRepository(r.BaseRepository)
}

func (r *Repositories) Users() repository.UserRepository {
	return NewUserRepository(r.BaseRepository)
}

func (r *Repositories) Outbox() repository.OutboxRepository {
	return NewOutboxRepository(r.BaseRepository)
}
