package model

import (
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	DeliveryStatusSuccess DeliveryStatus = "success"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

// DeliveryLogEntry records one delivery attempt. Entries are never updated.
type DeliveryLogEntry struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	MailingID      uuid.UUID      `db:"mailing_id" json:"mailing_id"`
	Status         DeliveryStatus `db:"status" json:"status"`
	ErrorMessage   *string        `db:"error_message" json:"error_message,omitempty"`
	ServerResponse *string        `db:"server_response" json:"server_response,omitempty"`
	AttemptTime    time.Time      `db:"attempt_time" json:"attempt_time"`
	OwnerID        uuid.UUID      `db:"owner_id" json:"owner_id"`
}

// DeliveryStats aggregates delivery log entries.
type DeliveryStats struct {
	Total      int `db:"total" json:"total"`
	Successful int `db:"successful" json:"successful"`
	Failed     int `db:"failed" json:"failed"`
}
