package model

import "github.com/google/uuid"

// Message is the subject/body template a mailing sends.
type Message struct {
	Base
	Topic   string    `db:"topic" json:"topic"`
	Content string    `db:"content" json:"content"`
	OwnerID uuid.UUID `db:"owner_id" json:"owner_id"`
}

type MessageInput struct {
	Topic   string `json:"topic" validate:"required,max=200"`
	Content string `json:"content" validate:"required"`
}
