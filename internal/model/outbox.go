package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// Event types published to subscribed clients.
const (
	EventAppointmentCreated = "appointment.created"
	EventAppointmentUpdated = "appointment.updated"
	EventAppointmentDeleted = "appointment.deleted"
	EventPaymentCompleted   = "payment.completed"
	EventDebtUpdated        = "debt.updated"
)

// Header keys used to scope fan-out channels.
const (
	HeaderProviderID = "provider_id"
	HeaderClientID   = "client_id"
)

type OutboxEvent struct {
	ID           uuid.UUID         `db:"id" json:"id"`
	EventType    string            `db:"event_type" json:"event_type"`
	Payload      json.RawMessage   `db:"payload" json:"payload"`
	Headers      map[string]string `db:"-" json:"headers"`
	Status       OutboxStatus      `db:"status" json:"status"`
	ErrorMessage *string           `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int               `db:"retry_count" json:"retry_count"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time        `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
}
