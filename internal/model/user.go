package model

import (
	"time"

	"github.com/google/uuid"
)

// User mirrors the account row owned by the auth subsystem. Only the
// fields this service reads or toggles are mapped.
type User struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Email      string    `json:"email" db:"email"`
	Username   string    `json:"username" db:"username"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	IsStaff    bool      `json:"is_staff" db:"is_staff"`
	IsManager  bool      `json:"is_manager" db:"is_manager"`
	DateJoined time.Time `json:"date_joined" db:"date_joined"`
}

func (u *User) Actor() Actor {
	return Actor{ID: u.ID, Email: u.Email, Manager: u.IsManager}
}
