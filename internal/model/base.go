package model

import (
	"time"

	"github.com/google/uuid"
)

// Base contains common fields for all models
type Base struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// OwnerFilter scopes a listing. A nil OwnerID means every owner.
type OwnerFilter struct {
	OwnerID *uuid.UUID
}

// All reports whether the filter is unrestricted.
func (f OwnerFilter) All() bool {
	return f.OwnerID == nil
}

// Matches reports whether a record owned by ownerID passes the filter.
func (f OwnerFilter) Matches(ownerID uuid.UUID) bool {
	return f.OwnerID == nil || *f.OwnerID == ownerID
}
