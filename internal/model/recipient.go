package model

import "github.com/google/uuid"

type Recipient struct {
	Base
	Email    string    `db:"email" json:"email"`
	FullName string    `db:"full_name" json:"full_name"`
	Comment  string    `db:"comment" json:"comment"`
	OwnerID  uuid.UUID `db:"owner_id" json:"owner_id"`
}

type RecipientInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	FullName string `json:"full_name" validate:"required,max=200"`
	Comment  string `json:"comment"`
}
