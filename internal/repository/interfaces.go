package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/reservalo/booking-api/internal/model"
)

// Mutating methods accept the outbox events to record: the row change and
// the event insert commit in one transaction, so an emitted event always
// reflects persisted state.

type AppointmentRepository interface {
	Create(ctx context.Context, apt *model.Appointment, evt *model.OutboxEvent) error
	Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	Update(ctx context.Context, apt *model.Appointment, evts ...*model.OutboxEvent) error
	// UpdateWithDebt applies the appointment mutation and creates the debt
	// atomically; used by cash code verification.
	UpdateWithDebt(ctx context.Context, apt *model.Appointment, debt *model.CashCommissionDebt, evts ...*model.OutboxEvent) error
	List(ctx context.Context, f *model.AppointmentFilters) ([]*model.Appointment, error)
	// ListPendingClosures returns appointments awaiting post-service
	// confirmation, for the dashboard query surface.
	ListPendingClosures(ctx context.Context) ([]*model.Appointment, error)
	// ListClosureDue returns pending_close appointments whose closure_due_at
	// has elapsed.
	ListClosureDue(ctx context.Context, before time.Time) ([]*model.Appointment, error)
	// ListClosureCandidates returns confirmed, settled appointments whose
	// service end time has passed and whose closure has not opened yet.
	ListClosureCandidates(ctx context.Context, endedBefore time.Time) ([]*model.Appointment, error)
	// ListExpiryCandidates returns scheduled/confirmed appointments whose
	// start time has passed without payment progression.
	ListExpiryCandidates(ctx context.Context, startedBefore time.Time) ([]*model.Appointment, error)
	// HasConflict reports whether a live appointment for the provider
	// overlaps the given slot.
	HasConflict(ctx context.Context, providerID uuid.UUID, date, start, end string, excludeID *uuid.UUID) (bool, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *model.Payment) error
	Update(ctx context.Context, p *model.Payment) error
	// GetActive returns the latest non-failed, non-refunded attempt, or
	// (nil, nil) when there is none.
	GetActive(ctx context.Context, appointmentID uuid.UUID) (*model.Payment, error)
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.Payment, error)
}

type DebtRepository interface {
	ListByProvider(ctx context.Context, providerID uuid.UUID) ([]*model.CashCommissionDebt, error)
	// OutstandingTotal sums the provider's non-paid debts.
	OutstandingTotal(ctx context.Context, providerID uuid.UUID) (int64, error)
	// SubmitManualPayment moves the provider's pending/overdue debts to
	// under_review, recording the submission details; returns how many debts
	// moved.
	SubmitManualPayment(ctx context.Context, providerID uuid.UUID, reference, receiptRef string, difference int64, evt *model.OutboxEvent) (int64, error)
	// ResolveReview applies the back-office decision (paid or rejected) to a
	// debt under review.
	ResolveReview(ctx context.Context, debtID uuid.UUID, status model.DebtStatus, evt *model.OutboxEvent) error
	// MarkOverdue flips pending debts past their due date to overdue.
	MarkOverdue(ctx context.Context, asOf time.Time) (int64, error)
}

type OutboxRepository interface {
	Create(ctx context.Context, evt *model.OutboxEvent) error
	GetPending(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}
