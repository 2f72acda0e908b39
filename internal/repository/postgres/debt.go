package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/reservalo/booking-api/internal/model"
	"github.com/reservalo/booking-api/internal/repository"
	apperrors "github.com/reservalo/booking-api/pkg/errors"
)

type debtRepository struct {
	BaseRepository
}

func NewDebtRepository(base BaseRepository) repository.DebtRepository {
	return &debtRepository{base}
}

func insertDebtTx(ctx context.Context, tx *sqlx.Tx, debt *model.CashCommissionDebt) error {
	query := `
		INSERT INTO cash_commission_debts (
			id, provider_id, appointment_id, amount, currency, status,
			due_date, reference, receipt_ref, difference, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	if debt.ID == uuid.Nil {
		debt.ID = uuid.New()
	}
	_, err := tx.ExecContext(ctx, query,
		debt.ID, debt.ProviderID, debt.AppointmentID, debt.Amount, debt.Currency,
		debt.Status, debt.DueDate, debt.Reference, debt.ReceiptRef, debt.Difference,
		debt.CreatedAt, debt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create debt: %w", err)
	}
	return nil
}

func (r *debtRepository) ListByProvider(ctx context.Context, providerID uuid.UUID) ([]*model.CashCommissionDebt, error) {
	query := `
		SELECT id, provider_id, appointment_id, amount, currency, status,
			   due_date, reference, receipt_ref, difference, created_at, updated_at
		FROM cash_commission_debts
		WHERE provider_id = $1
		ORDER BY due_date ASC
	`
	var debts []*model.CashCommissionDebt
	if err := r.db.SelectContext(ctx, &debts, query, providerID); err != nil {
		return nil, fmt.Errorf("failed to list debts: %w", err)
	}
	return debts, nil
}

func (r *debtRepository) OutstandingTotal(ctx context.Context, providerID uuid.UUID) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM cash_commission_debts
		WHERE provider_id = $1
		AND status != 'paid'
	`
	var total int64
	if err := r.db.GetContext(ctx, &total, query, providerID); err != nil {
		return 0, fmt.Errorf("failed to sum outstanding debts: %w", err)
	}
	return total, nil
}

func (r *debtRepository) SubmitManualPayment(ctx context.Context, providerID uuid.UUID, reference, receiptRef string, difference int64, evt *model.OutboxEvent) (int64, error) {
	var moved int64
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE cash_commission_debts
			SET status = $1, reference = $2, receipt_ref = $3,
				difference = $4, updated_at = NOW()
			WHERE provider_id = $5
			AND status IN ('pending', 'overdue', 'rejected')
		`
		result, err := tx.ExecContext(ctx, query,
			model.DebtStatusUnderReview, reference, receiptRef, difference, providerID,
		)
		if err != nil {
			return fmt.Errorf("failed to submit manual payment: %w", err)
		}
		moved, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if evt != nil {
			if err := insertOutboxTx(ctx, tx, evt); err != nil {
				return err
			}
		}
		return nil
	})
	return moved, err
}

func (r *debtRepository) ResolveReview(ctx context.Context, debtID uuid.UUID, status model.DebtStatus, evt *model.OutboxEvent) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE cash_commission_debts
			SET status = $1, updated_at = NOW()
			WHERE id = $2 AND status = 'under_review'
		`
		result, err := tx.ExecContext(ctx, query, status, debtID)
		if err != nil {
			return fmt.Errorf("failed to resolve debt review: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return apperrors.NewNotFound("debt under review", nil)
		}
		if evt != nil {
			if err := insertOutboxTx(ctx, tx, evt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *debtRepository) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	query := `
		UPDATE cash_commission_debts
		SET status = 'overdue', updated_at = NOW()
		WHERE status = 'pending' AND due_date < $1
	`
	result, err := r.db.ExecContext(ctx, query, asOf)
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue debts: %w", err)
	}
	return result.RowsAffected()
}
