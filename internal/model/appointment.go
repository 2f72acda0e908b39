package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reservalo/booking-api/pkg/validator"
)

type AppointmentStatus string

const (
	AppointmentStatusScheduled         AppointmentStatus = "scheduled"
	AppointmentStatusConfirmed         AppointmentStatus = "confirmed"
	AppointmentStatusCompleted         AppointmentStatus = "completed"
	AppointmentStatusCancelled         AppointmentStatus = "cancelled"
	AppointmentStatusExpired           AppointmentStatus = "expired"
	AppointmentStatusPendingReschedule AppointmentStatus = "pending_reschedule"
)

// Terminal reports whether no further transitions are allowed.
func (s AppointmentStatus) Terminal() bool {
	switch s {
	case AppointmentStatusCompleted, AppointmentStatusCancelled, AppointmentStatusExpired:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Settled reports whether money has been collected for the appointment.
func (s PaymentStatus) Settled() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusSucceeded, PaymentStatusCompleted:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodCash PaymentMethod = "cash"
)

type ClosureState string

const (
	ClosureStateNone         ClosureState = "none"
	ClosureStatePendingClose ClosureState = "pending_close"
	ClosureStateInReview     ClosureState = "in_review"
	ClosureStateResolved     ClosureState = "resolved"
)

type ClosureAction string

const (
	ClosureActionNone        ClosureAction = "none"
	ClosureActionCodeEntered ClosureAction = "code_entered"
	ClosureActionOK          ClosureAction = "ok"
	ClosureActionNoShow      ClosureAction = "no_show"
	ClosureActionIssue       ClosureAction = "issue"
)

// Wall-clock layouts, service-local. Dates and times are stored as the user
// sees them; the deployment's timezone anchors them to instants.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// RescheduleState is the negotiation sub-state embedded on the appointment
// row. Owned exclusively by the reschedule service.
type RescheduleState struct {
	RequestedBy    Actor             `db:"reschedule_requested_by" json:"requested_by,omitempty"`
	TargetDate     string            `db:"reschedule_target_date" json:"target_date,omitempty"`
	TargetStart    string            `db:"reschedule_target_start" json:"target_start,omitempty"`
	TargetEnd      string            `db:"reschedule_target_end" json:"target_end,omitempty"`
	Reason         string            `db:"reschedule_reason" json:"reason,omitempty"`
	DeclineReason  string            `db:"reschedule_decline_reason" json:"decline_reason,omitempty"`
	PreviousStatus AppointmentStatus `db:"reschedule_previous_status" json:"previous_status,omitempty"`
	ClientCount    int               `db:"client_reschedule_count" json:"client_count"`
	ProviderCount  int               `db:"provider_reschedule_count" json:"provider_count"`
}

// Clear drops the pending proposal but keeps the per-party counters, which a
// policy layer may use for rate limiting.
func (r *RescheduleState) Clear() {
	r.RequestedBy = ""
	r.TargetDate = ""
	r.TargetStart = ""
	r.TargetEnd = ""
	r.Reason = ""
	r.PreviousStatus = ""
}

// Closure is the post-service confirmation sub-state embedded on the
// appointment row. Owned exclusively by the closure service.
type Closure struct {
	State          ClosureState  `db:"closure_state" json:"state"`
	DueAt          *time.Time    `db:"closure_due_at" json:"due_at,omitempty"`
	ProviderAction ClosureAction `db:"closure_provider_action" json:"provider_action"`
	ClientAction   ClosureAction `db:"closure_client_action" json:"client_action"`
	Note           string        `db:"closure_note" json:"note,omitempty"`
	AutoResolved   bool          `db:"closure_auto_resolved" json:"auto_resolved,omitempty"`
}

// Verification is the shared-secret code gating payment finalization.
// Bound to the appointment's active payment attempt.
type Verification struct {
	Code         *string `db:"verification_code" json:"-"`
	AttemptsLeft int     `db:"verification_attempts_left" json:"-"`
}

// Exhausted reports whether the code can no longer be tried. Terminal for
// this code; requires manual support escalation.
func (v *Verification) Exhausted() bool {
	return v.Code != nil && v.AttemptsLeft <= 0
}

type Appointment struct {
	Base
	ProviderID uuid.UUID `db:"provider_id" json:"provider_id"`
	ClientID   uuid.UUID `db:"client_id" json:"client_id"`
	ServiceID  uuid.UUID `db:"service_id" json:"service_id"`

	Date      string `db:"date" json:"date"`
	StartTime string `db:"start_time" json:"start_time"`
	EndTime   string `db:"end_time" json:"end_time"`
	Location  string `db:"location" json:"location,omitempty"`

	Status        AppointmentStatus `db:"status" json:"status"`
	PaymentStatus PaymentStatus     `db:"payment_status" json:"payment_status"`
	PaymentMethod PaymentMethod     `db:"payment_method" json:"payment_method,omitempty"`

	// Price in minor currency units (CLP has none, so whole pesos).
	Price    int64  `db:"price" json:"price"`
	Currency string `db:"currency" json:"currency"`

	Verification
	Reschedule RescheduleState `json:"reschedule"`
	Closure    Closure         `json:"closure"`

	CancelledBy        Actor  `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancellationReason string `db:"cancellation_reason" json:"cancellation_reason,omitempty"`

	// Version increases on every mutation; reconciling clients drop stale
	// snapshots by comparing it.
	Version int64 `db:"version" json:"version"`
}

// StartAt anchors the wall-clock start to an instant in loc.
func (a *Appointment) StartAt(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout+" "+TimeLayout, a.Date+" "+a.StartTime, loc)
}

// EndAt anchors the wall-clock end to an instant in loc.
func (a *Appointment) EndAt(loc *time.Location) (time.Time, error) {
	end, err := time.ParseInLocation(DateLayout+" "+TimeLayout, a.Date+" "+a.EndTime, loc)
	if err != nil {
		return time.Time{}, err
	}
	start, err := a.StartAt(loc)
	if err != nil {
		return time.Time{}, err
	}
	// Services crossing midnight end on the next day.
	if end.Before(start) {
		end = end.Add(24 * time.Hour)
	}
	return end, nil
}

func (a *Appointment) Touch(now time.Time) {
	a.UpdatedAt = now
	a.Version++
}

// BookAppointmentRequest is the creation payload.
type BookAppointmentRequest struct {
	ProviderID uuid.UUID `json:"provider_id" binding:"required"`
	ClientID   uuid.UUID `json:"client_id" binding:"required"`
	ServiceID  uuid.UUID `json:"service_id" binding:"required"`
	Date       string    `json:"date" binding:"required" validate:"wallclock_date"`
	StartTime  string    `json:"start_time" binding:"required" validate:"wallclock_time"`
	EndTime    string    `json:"end_time" binding:"required" validate:"wallclock_time"`
	Location   string    `json:"location"`
	Price      int64     `json:"price" binding:"min=0" validate:"min=0"`
	Currency   string    `json:"currency" binding:"required,len=3" validate:"len=3"`
}

// Validate checks the wall-clock fields beyond what binding tags cover.
func (r *BookAppointmentRequest) Validate() error {
	if err := validator.Struct(r); err != nil {
		return fmt.Errorf("invalid booking request: %w", err)
	}
	return nil
}

type AppointmentFilters struct {
	ProviderID uuid.UUID
	ClientID   uuid.UUID
	Status     AppointmentStatus
}
