package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/reservalo/booking-api/internal/model"
	"github.com/reservalo/booking-api/internal/repository"
	apperrors "github.com/reservalo/booking-api/pkg/errors"
)

type appointmentRepository struct {
	BaseRepository
}

func NewAppointmentRepository(base BaseRepository) repository.AppointmentRepository {
	return &appointmentRepository{base}
}

// appointmentRow flattens the embedded sub-states onto the single
// appointments row.
type appointmentRow struct {
	ID         uuid.UUID `db:"id"`
	ProviderID uuid.UUID `db:"provider_id"`
	ClientID   uuid.UUID `db:"client_id"`
	ServiceID  uuid.UUID `db:"service_id"`

	Date      string `db:"date"`
	StartTime string `db:"start_time"`
	EndTime   string `db:"end_time"`
	Location  string `db:"location"`

	Status        string `db:"status"`
	PaymentStatus string `db:"payment_status"`
	PaymentMethod string `db:"payment_method"`

	Price    int64  `db:"price"`
	Currency string `db:"currency"`

	VerificationCode         *string `db:"verification_code"`
	VerificationAttemptsLeft int     `db:"verification_attempts_left"`

	RescheduleRequestedBy    string `db:"reschedule_requested_by"`
	RescheduleTargetDate     string `db:"reschedule_target_date"`
	RescheduleTargetStart    string `db:"reschedule_target_start"`
	RescheduleTargetEnd      string `db:"reschedule_target_end"`
	RescheduleReason         string `db:"reschedule_reason"`
	RescheduleDeclineReason  string `db:"reschedule_decline_reason"`
	ReschedulePreviousStatus string `db:"reschedule_previous_status"`
	ClientRescheduleCount    int    `db:"client_reschedule_count"`
	ProviderRescheduleCount  int    `db:"provider_reschedule_count"`

	ClosureState          string     `db:"closure_state"`
	ClosureDueAt          *time.Time `db:"closure_due_at"`
	ClosureProviderAction string     `db:"closure_provider_action"`
	ClosureClientAction   string     `db:"closure_client_action"`
	ClosureNote           string     `db:"closure_note"`
	ClosureAutoResolved   bool       `db:"closure_auto_resolved"`

	CancelledBy        string `db:"cancelled_by"`
	CancellationReason string `db:"cancellation_reason"`

	Version   int64     `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func toRow(a *model.Appointment) *appointmentRow {
	return &appointmentRow{
		ID:         a.ID,
		ProviderID: a.ProviderID,
		ClientID:   a.ClientID,
		ServiceID:  a.ServiceID,
		Date:       a.Date,
		StartTime:  a.StartTime,
		EndTime:    a.EndTime,
		Location:   a.Location,

		Status:        string(a.Status),
		PaymentStatus: string(a.PaymentStatus),
		PaymentMethod: string(a.PaymentMethod),

		Price:    a.Price,
		Currency: a.Currency,

		VerificationCode:         a.Verification.Code,
		VerificationAttemptsLeft: a.Verification.AttemptsLeft,

		RescheduleRequestedBy:    string(a.Reschedule.RequestedBy),
		RescheduleTargetDate:     a.Reschedule.TargetDate,
		RescheduleTargetStart:    a.Reschedule.TargetStart,
		RescheduleTargetEnd:      a.Reschedule.TargetEnd,
		RescheduleReason:         a.Reschedule.Reason,
		RescheduleDeclineReason:  a.Reschedule.DeclineReason,
		ReschedulePreviousStatus: string(a.Reschedule.PreviousStatus),
		ClientRescheduleCount:    a.Reschedule.ClientCount,
		ProviderRescheduleCount:  a.Reschedule.ProviderCount,

		ClosureState:          string(a.Closure.State),
		ClosureDueAt:          a.Closure.DueAt,
		ClosureProviderAction: string(a.Closure.ProviderAction),
		ClosureClientAction:   string(a.Closure.ClientAction),
		ClosureNote:           a.Closure.Note,
		ClosureAutoResolved:   a.Closure.AutoResolved,

		CancelledBy:        string(a.CancelledBy),
		CancellationReason: a.CancellationReason,

		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func (r *appointmentRow) toModel() *model.Appointment {
	a := &model.Appointment{
		ProviderID: r.ProviderID,
		ClientID:   r.ClientID,
		ServiceID:  r.ServiceID,
		Date:       r.Date,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		Location:   r.Location,

		Status:        model.AppointmentStatus(r.Status),
		PaymentStatus: model.PaymentStatus(r.PaymentStatus),
		PaymentMethod: model.PaymentMethod(r.PaymentMethod),

		Price:    r.Price,
		Currency: r.Currency,

		Verification: model.Verification{
			Code:         r.VerificationCode,
			AttemptsLeft: r.VerificationAttemptsLeft,
		},
		Reschedule: model.RescheduleState{
			RequestedBy:    model.Actor(r.RescheduleRequestedBy),
			TargetDate:     r.RescheduleTargetDate,
			TargetStart:    r.RescheduleTargetStart,
			TargetEnd:      r.RescheduleTargetEnd,
			Reason:         r.RescheduleReason,
			DeclineReason:  r.RescheduleDeclineReason,
			PreviousStatus: model.AppointmentStatus(r.ReschedulePreviousStatus),
			ClientCount:    r.ClientRescheduleCount,
			ProviderCount:  r.ProviderRescheduleCount,
		},
		Closure: model.Closure{
			State:          model.ClosureState(r.ClosureState),
			DueAt:          r.ClosureDueAt,
			ProviderAction: model.ClosureAction(r.ClosureProviderAction),
			ClientAction:   model.ClosureAction(r.ClosureClientAction),
			Note:           r.ClosureNote,
			AutoResolved:   r.ClosureAutoResolved,
		},

		CancelledBy:        model.Actor(r.CancelledBy),
		CancellationReason: r.CancellationReason,
		Version:            r.Version,
	}
	a.ID = r.ID
	a.CreatedAt = r.CreatedAt
	a.UpdatedAt = r.UpdatedAt
	return a
}

const appointmentColumns = `
	id, provider_id, client_id, service_id, date, start_time, end_time,
	location, status, payment_status, payment_method, price, currency,
	verification_code, verification_attempts_left,
	reschedule_requested_by, reschedule_target_date, reschedule_target_start,
	reschedule_target_end, reschedule_reason, reschedule_decline_reason,
	reschedule_previous_status, client_reschedule_count, provider_reschedule_count,
	closure_state, closure_due_at, closure_provider_action, closure_client_action,
	closure_note, closure_auto_resolved, cancelled_by, cancellation_reason,
	version, created_at, updated_at`

const appointmentInsert = `
	INSERT INTO appointments (` + appointmentColumns + `
	) VALUES (
		:id, :provider_id, :client_id, :service_id, :date, :start_time, :end_time,
		:location, :status, :payment_status, :payment_method, :price, :currency,
		:verification_code, :verification_attempts_left,
		:reschedule_requested_by, :reschedule_target_date, :reschedule_target_start,
		:reschedule_target_end, :reschedule_reason, :reschedule_decline_reason,
		:reschedule_previous_status, :client_reschedule_count, :provider_reschedule_count,
		:closure_state, :closure_due_at, :closure_provider_action, :closure_client_action,
		:closure_note, :closure_auto_resolved, :cancelled_by, :cancellation_reason,
		:version, :created_at, :updated_at
	)`

const appointmentUpdate = `
	UPDATE appointments SET
		date = :date, start_time = :start_time, end_time = :end_time,
		location = :location, status = :status,
		payment_status = :payment_status, payment_method = :payment_method,
		verification_code = :verification_code,
		verification_attempts_left = :verification_attempts_left,
		reschedule_requested_by = :reschedule_requested_by,
		reschedule_target_date = :reschedule_target_date,
		reschedule_target_start = :reschedule_target_start,
		reschedule_target_end = :reschedule_target_end,
		reschedule_reason = :reschedule_reason,
		reschedule_decline_reason = :reschedule_decline_reason,
		reschedule_previous_status = :reschedule_previous_status,
		client_reschedule_count = :client_reschedule_count,
		provider_reschedule_count = :provider_reschedule_count,
		closure_state = :closure_state, closure_due_at = :closure_due_at,
		closure_provider_action = :closure_provider_action,
		closure_client_action = :closure_client_action,
		closure_note = :closure_note, closure_auto_resolved = :closure_auto_resolved,
		cancelled_by = :cancelled_by, cancellation_reason = :cancellation_reason,
		version = :version, updated_at = :updated_at
	WHERE id = :id`

func (r *appointmentRepository) Create(ctx context.Context, apt *model.Appointment, evt *model.OutboxEvent) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, appointmentInsert, toRow(apt)); err != nil {
			return fmt.Errorf("failed to create appointment: %w", err)
		}
		if evt != nil {
			if err := insertOutboxTx(ctx, tx, evt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	var row appointmentRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("appointment", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return row.toModel(), nil
}

func (r *appointmentRepository) Update(ctx context.Context, apt *model.Appointment, evts ...*model.OutboxEvent) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := updateAppointmentTx(ctx, tx, apt); err != nil {
			return err
		}
		for _, evt := range evts {
			if err := insertOutboxTx(ctx, tx, evt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *appointmentRepository) UpdateWithDebt(ctx context.Context, apt *model.Appointment, debt *model.CashCommissionDebt, evts ...*model.OutboxEvent) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := updateAppointmentTx(ctx, tx, apt); err != nil {
			return err
		}
		if err := insertDebtTx(ctx, tx, debt); err != nil {
			return err
		}
		for _, evt := range evts {
			if err := insertOutboxTx(ctx, tx, evt); err != nil {
				return err
			}
		}
		return nil
	})
}

func updateAppointmentTx(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment) error {
	result, err := tx.NamedExecContext(ctx, appointmentUpdate, toRow(apt))
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NewNotFound("appointment", nil)
	}
	return nil
}

func (r *appointmentRepository) List(ctx context.Context, f *model.AppointmentFilters) ([]*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if f.ProviderID != uuid.Nil {
		query += fmt.Sprintf(" AND provider_id = $%d", argCount)
		args = append(args, f.ProviderID)
		argCount++
	}
	if f.ClientID != uuid.Nil {
		query += fmt.Sprintf(" AND client_id = $%d", argCount)
		args = append(args, f.ClientID)
		argCount++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(f.Status))
		argCount++
	}

	query += " ORDER BY date ASC, start_time ASC"

	return r.selectAppointments(ctx, query, args...)
}

func (r *appointmentRepository) ListPendingClosures(ctx context.Context) ([]*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE closure_state = $1
		ORDER BY closure_due_at ASC`
	return r.selectAppointments(ctx, query, string(model.ClosureStatePendingClose))
}

func (r *appointmentRepository) ListClosureDue(ctx context.Context, before time.Time) ([]*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE closure_state = $1 AND closure_due_at <= $2
		ORDER BY closure_due_at ASC`
	return r.selectAppointments(ctx, query, string(model.ClosureStatePendingClose), before)
}

func (r *appointmentRepository) ListClosureCandidates(ctx context.Context, endedBefore time.Time) ([]*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE status = $1
		AND payment_status IN ('paid', 'succeeded', 'completed')
		AND closure_state = $2
		AND (date || ' ' || end_time)::timestamp <= $3
		ORDER BY date ASC, end_time ASC`
	return r.selectAppointments(ctx, query,
		string(model.AppointmentStatusConfirmed),
		string(model.ClosureStateNone),
		endedBefore,
	)
}

func (r *appointmentRepository) ListExpiryCandidates(ctx context.Context, startedBefore time.Time) ([]*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed')
		AND payment_status = 'pending'
		AND closure_state = 'none'
		AND (date || ' ' || start_time)::timestamp <= $1
		ORDER BY date ASC, start_time ASC`
	return r.selectAppointments(ctx, query, startedBefore)
}

func (r *appointmentRepository) HasConflict(ctx context.Context, providerID uuid.UUID, date, start, end string, excludeID *uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE provider_id = $1
			AND date = $2
			AND status NOT IN ('cancelled', 'completed', 'expired')
			AND start_time < $4
			AND end_time > $3
	`
	args := []interface{}{providerID, date, start, end}

	if excludeID != nil {
		query += " AND id != $5"
		args = append(args, *excludeID)
	}

	query += ")"

	var hasConflict bool
	if err := r.db.GetContext(ctx, &hasConflict, query, args...); err != nil {
		return false, fmt.Errorf("failed to check conflicts: %w", err)
	}
	return hasConflict, nil
}

func (r *appointmentRepository) selectAppointments(ctx context.Context, query string, args ...interface{}) ([]*model.Appointment, error) {
	var rows []appointmentRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	appointments := make([]*model.Appointment, 0, len(rows))
	for i := range rows {
		appointments = append(appointments, rows[i].toModel())
	}
	return appointments, nil
}
