package model

import "github.com/google/uuid"

// Actor is the identity a request is executed as.
type Actor struct {
	ID      uuid.UUID `json:"id"`
	Email   string    `json:"email"`
	Manager bool      `json:"manager"`
}
