package model

import (
	"time"

	"github.com/google/uuid"
)

type DebtStatus string

const (
	DebtStatusPending     DebtStatus = "pending"
	DebtStatusOverdue     DebtStatus = "overdue"
	DebtStatusUnderReview DebtStatus = "under_review"
	DebtStatusRejected    DebtStatus = "rejected"
	DebtStatusPaid        DebtStatus = "paid"
)

// Outstanding reports whether the debt still counts toward the provider's
// balance. Only paid debts drop out; rejected submissions fall back into the
// balance until a valid one lands.
func (s DebtStatus) Outstanding() bool {
	return s != DebtStatusPaid
}

// CashCommissionDebt is what a provider owes the platform after collecting a
// cash payment directly from the client. One debt per cash-settled
// appointment, sized commission_rate x price.
type CashCommissionDebt struct {
	Base
	ProviderID    uuid.UUID  `db:"provider_id" json:"provider_id"`
	AppointmentID uuid.UUID  `db:"appointment_id" json:"appointment_id"`
	Amount        int64      `db:"amount" json:"amount"`
	Currency      string     `db:"currency" json:"currency"`
	Status        DebtStatus `db:"status" json:"status"`
	DueDate       time.Time  `db:"due_date" json:"due_date"`

	// Manual-payment reconciliation fields, set on submission.
	Reference  string `db:"reference" json:"reference,omitempty"`
	ReceiptRef string `db:"receipt_ref" json:"receipt_ref,omitempty"`
	Difference int64  `db:"difference" json:"difference,omitempty"`
}

// ManualCashPayment is a provider's declaration that they transferred their
// outstanding commission balance out of band.
type ManualCashPayment struct {
	ProviderID uuid.UUID `json:"provider_id"`
	Amount     int64     `json:"amount"`
	ReceiptRef string    `json:"receipt_ref"`
	Reference  string    `json:"reference,omitempty"`
	// Difference = amount - outstanding total at submission time; recorded
	// for back-office reconciliation.
	Difference int64 `json:"difference"`
}
