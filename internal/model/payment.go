package model

import (
	"time"

	"github.com/google/uuid"
)

// Payment is one settlement attempt on an appointment. Attempts are
// append-only history; an appointment has at most one active attempt (a
// failed card charge followed by a cash selection leaves two rows).
type Payment struct {
	Base
	AppointmentID uuid.UUID     `db:"appointment_id" json:"appointment_id"`
	Amount        int64         `db:"amount" json:"amount"`
	Currency      string        `db:"currency" json:"currency"`
	Method        PaymentMethod `db:"method" json:"method"`
	Status        PaymentStatus `db:"status" json:"status"`
	SessionRef    string        `db:"session_ref" json:"session_ref,omitempty"`
	ConfirmedAt   *time.Time    `db:"confirmed_at" json:"confirmed_at,omitempty"`
}

// Active reports whether the attempt is still the one being settled.
func (p *Payment) Active() bool {
	return p.Status != PaymentStatusFailed && p.Status != PaymentStatusRefunded
}
