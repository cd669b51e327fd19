package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/mailing-api/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("duplicate record")
)

// All repository interfaces in one file
type (
	RecipientRepository interface {
		Create(ctx context.Context, recipient *model.Recipient) error
		Get(ctx context.Context, id uuid.UUID) (*model.Recipient, error)
		GetMany(ctx context.Context, ids []uuid.UUID) ([]model.Recipient, error)
		Update(ctx context.Context, recipient *model.Recipient) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filter model.OwnerFilter) ([]model.Recipient, error)
		CountDistinct(ctx context.Context) (int, error)
	}

	MessageRepository interface {
		Create(ctx context.Context, message *model.Message) error
		Get(ctx context.Context, id uuid.UUID) (*model.Message, error)
		Update(ctx context.Context, message *model.Message) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filter model.OwnerFilter) ([]model.Message, error)
	}

	// MailingStatusWriter is the narrow write surface the lifecycle needs.
	MailingStatusWriter interface {
		// UpdateStatus writes only the status column, and only while the
		// mailing is not manually controlled.
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.MailingStatus) error
		// SetManualStatus freezes the mailing at status.
		SetManualStatus(ctx context.Context, id uuid.UUID, status model.MailingStatus) error
	}

	MailingRepository interface {
		MailingStatusWriter
		Create(ctx context.Context, mailing *model.Mailing) error
		// Get loads the mailing with its message and recipients.
		Get(ctx context.Context, id uuid.UUID) (*model.Mailing, error)
		Update(ctx context.Context, mailing *model.Mailing) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filter model.OwnerFilter) ([]model.Mailing, error)
		Counts(ctx context.Context, filter model.OwnerFilter) (*model.MailingCounts, error)
		CountActive(ctx context.Context, now time.Time) (int, error)
	}

	// DeliveryLogRepository is the append-only log store.
	DeliveryLogRepository interface {
		Create(ctx context.Context, entry *model.DeliveryLogEntry) error
		ListByMailing(ctx context.Context, mailingID uuid.UUID) ([]model.DeliveryLogEntry, error)
		Stats(ctx context.Context, ownerID uuid.UUID) (*model.DeliveryStats, error)
	}

	UserRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
		// ListNonStaff returns non-staff users, newest first.
		ListNonStaff(ctx context.Context) ([]model.User, error)
		SetActive(ctx context.Context, id uuid.UUID, active bool) error
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
