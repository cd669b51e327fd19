package model

import (
	"time"

	"github.com/google/uuid"
)

type MailingStatus string

const (
	MailingStatusCreated  MailingStatus = "created"
	MailingStatusStarted  MailingStatus = "started"
	MailingStatusFinished MailingStatus = "finished"
)

func (s MailingStatus) Valid() bool {
	switch s {
	case MailingStatusCreated, MailingStatusStarted, MailingStatusFinished:
		return true
	}
	return false
}

// Mailing is a scheduled send of one Message to a set of Recipients.
//
// Status is derived from the time window unless ManuallyControlled is set,
// in which case it holds whatever a manager last chose.
type Mailing struct {
	Base
	StartTime          time.Time     `db:"start_time" json:"start_time"`
	EndTime            time.Time     `db:"end_time" json:"end_time"`
	Status             MailingStatus `db:"status" json:"status"`
	MessageID          uuid.UUID     `db:"message_id" json:"message_id"`
	OwnerID            uuid.UUID     `db:"owner_id" json:"owner_id"`
	ManuallyControlled bool          `db:"manually_controlled" json:"manually_controlled"`

	Message    *Message    `db:"-" json:"message,omitempty"`
	Recipients []Recipient `db:"-" json:"recipients"`
}

// InWindow reports whether now falls inside [StartTime, EndTime].
func (m *Mailing) InWindow(now time.Time) bool {
	return !now.Before(m.StartTime) && !now.After(m.EndTime)
}

func (m *Mailing) RecipientIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m.Recipients))
	for _, r := range m.Recipients {
		ids = append(ids, r.ID)
	}
	return ids
}

type MailingInput struct {
	StartTime    *time.Time  `json:"start_time"`
	EndTime      *time.Time  `json:"end_time"`
	MessageID    uuid.UUID   `json:"message_id" validate:"required"`
	RecipientIDs []uuid.UUID `json:"recipient_ids"`
}
