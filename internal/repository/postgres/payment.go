package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reservalo/booking-api/internal/model"
	"github.com/reservalo/booking-api/internal/repository"
)

type paymentRepository struct {
	BaseRepository
}

func NewPaymentRepository(base BaseRepository) repository.PaymentRepository {
	return &paymentRepository{base}
}

func (r *paymentRepository) Create(ctx context.Context, p *model.Payment) error {
	query := `
		INSERT INTO payments (
			id, appointment_id, amount, currency, method, status,
			session_ref, confirmed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.AppointmentID, p.Amount, p.Currency, p.Method, p.Status,
		p.SessionRef, p.ConfirmedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) Update(ctx context.Context, p *model.Payment) error {
	query := `
		UPDATE payments
		SET status = $1, session_ref = $2, confirmed_at = $3, updated_at = $4
		WHERE id = $5
	`
	p.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query, p.Status, p.SessionRef, p.ConfirmedAt, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("payment not found")
	}
	return nil
}

func (r *paymentRepository) GetActive(ctx context.Context, appointmentID uuid.UUID) (*model.Payment, error) {
	query := `
		SELECT id, appointment_id, amount, currency, method, status,
			   session_ref, confirmed_at, created_at, updated_at
		FROM payments
		WHERE appointment_id = $1
		AND status NOT IN ('failed', 'refunded')
		ORDER BY created_at DESC
		LIMIT 1
	`
	var p model.Payment
	err := r.db.GetContext(ctx, &p, query, appointmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active payment: %w", err)
	}
	return &p, nil
}

func (r *paymentRepository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.Payment, error) {
	query := `
		SELECT id, appointment_id, amount, currency, method, status,
			   session_ref, confirmed_at, created_at, updated_at
		FROM payments
		WHERE appointment_id = $1
		ORDER BY created_at ASC
	`
	var payments []*model.Payment
	if err := r.db.SelectContext(ctx, &payments, query, appointmentID); err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}
