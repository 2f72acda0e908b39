// Package settlement owns payment attempts, completion-code verification and
// cash commission debts. Card money moves through the external processor;
// cash moves hand to hand and leaves a commission debt behind.
package settlement

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/reservalo/booking-api/internal/config"
	"github.com/reservalo/booking-api/internal/gateway/payments"
	"github.com/reservalo/booking-api/internal/model"
	"github.com/reservalo/booking-api/internal/repository"
	"github.com/reservalo/booking-api/internal/service/closure"
	"github.com/reservalo/booking-api/internal/service/event"
	"github.com/reservalo/booking-api/internal/service/lifecycle"
	"github.com/reservalo/booking-api/pkg/clock"
	apperrors "github.com/reservalo/booking-api/pkg/errors"
	"github.com/reservalo/booking-api/pkg/keylock"
	"github.com/reservalo/booking-api/pkg/logger"
	"github.com/reservalo/booking-api/pkg/metrics"
)

const balanceCacheTTL = 30 * time.Second

type Service struct {
	apts      repository.AppointmentRepository
	payments  repository.PaymentRepository
	debts     repository.DebtRepository
	processor payments.Processor
	lifecycle *lifecycle.Service
	locks     *keylock.KeyLock
	clk       clock.Clock
	cache     *gocache.Cache
	cfg       config.SettlementConfig
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewService(
	apts repository.AppointmentRepository,
	pays repository.PaymentRepository,
	debts repository.DebtRepository,
	processor payments.Processor,
	lc *lifecycle.Service,
	locks *keylock.KeyLock,
	clk clock.Clock,
	cfg config.SettlementConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		apts:      apts,
		payments:  pays,
		debts:     debts,
		processor: processor,
		lifecycle: lc,
		locks:     locks,
		clk:       clk,
		cache:     gocache.New(balanceCacheTTL, 2*balanceCacheTTL),
		cfg:       cfg,
		logger:    log,
		metrics:   m,
	}
}

// InitiateCardPayment opens a card checkout session with the processor. The
// appointment lock is never held across the processor round trip; the slow
// external call happens between two short critical sections.
func (s *Service) InitiateCardPayment(ctx context.Context, id uuid.UUID, returnURL string) (*payments.Session, error) {
	apt, err := s.apts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkPayable(apt, model.PaymentMethodCard); err != nil {
		return nil, err
	}

	start := s.clk.Now()
	session, err := s.processor.CreateSession(ctx, apt.Price, apt.Currency, returnURL)
	s.observeProcessor(start, err)
	if err != nil {
		return nil, err
	}

	err = s.locks.Do(id.String(), func() error {
		apt, err = s.apts.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := s.checkPayable(apt, model.PaymentMethodCard); err != nil {
			return err
		}

		active, err := s.payments.GetActive(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load active payment: %w", err)
		}
		now := s.clk.Now()
		if active != nil && active.Method == model.PaymentMethodCard && active.Status == model.PaymentStatusPending {
			// A retried checkout supersedes the previous session.
			active.SessionRef = session.Ref
			active.UpdatedAt = now
			return s.payments.Update(ctx, active)
		}

		attempt := &model.Payment{
			AppointmentID: id,
			Amount:        apt.Price,
			Currency:      apt.Currency,
			Method:        model.PaymentMethodCard,
			Status:        model.PaymentStatusPending,
			SessionRef:    session.Ref,
		}
		attempt.ID = uuid.New()
		attempt.CreatedAt = now
		attempt.UpdatedAt = now
		return s.payments.Create(ctx, attempt)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("card payment initiated",
		"appointment_id", id.String(),
		"session_ref", session.Ref)
	return session, nil
}

// ConfirmPayment checks the session's outcome with the processor and, if
// approved, marks the appointment paid and issues the completion code.
// Confirming an already-paid session again is a no-op returning success.
func (s *Service) ConfirmPayment(ctx context.Context, id uuid.UUID, sessionRef string) (*model.Appointment, error) {
	apt, err := s.apts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if apt.PaymentStatus.Settled() {
		return apt, nil
	}

	attempt, err := s.payments.GetActive(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load active payment: %w", err)
	}
	if attempt == nil || attempt.Method != model.PaymentMethodCard || attempt.SessionRef != sessionRef {
		return nil, apperrors.NewPaymentNotConfirmed("unknown payment session")
	}

	start := s.clk.Now()
	conf, err := s.processor.ConfirmSession(ctx, sessionRef)
	s.observeProcessor(start, err)
	if err != nil {
		return nil, err
	}
	if conf.Status != payments.SessionStatusApproved {
		return nil, apperrors.NewPaymentNotConfirmed(
			fmt.Sprintf("processor reported session %s as %s", sessionRef, conf.Status))
	}

	err = s.locks.Do(id.String(), func() error {
		apt, err = s.apts.Get(ctx, id)
		if err != nil {
			return err
		}
		if apt.PaymentStatus.Settled() {
			return nil
		}
		if apt.Status.Terminal() {
			return apperrors.NewValidation(
				fmt.Sprintf("appointment is %s and cannot be paid", apt.Status))
		}

		now := s.clk.Now()
		attempt.Status = model.PaymentStatusSucceeded
		attempt.ConfirmedAt = &now
		attempt.UpdatedAt = now
		if err := s.payments.Update(ctx, attempt); err != nil {
			return fmt.Errorf("failed to update payment attempt: %w", err)
		}

		apt.PaymentStatus = model.PaymentStatusPaid
		apt.PaymentMethod = model.PaymentMethodCard
		if err := s.issueCode(apt); err != nil {
			return err
		}
		apt.Touch(now)

		evt, err := event.PaymentCompleted(apt, now)
		if err != nil {
			return err
		}
		return s.apts.Update(ctx, apt, evt)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("card payment confirmed",
		"appointment_id", id.String(),
		"session_ref", sessionRef)
	return apt, nil
}

// SelectCash switches the appointment to in-person cash settlement and
// issues the completion code. Refused while a live card session exists.
func (s *Service) SelectCash(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	var apt *model.Appointment
	err := s.locks.Do(id.String(), func() error {
		var err error
		apt, err = s.apts.Get(ctx, id)
		if err != nil {
			return err
		}
		if apt.PaymentMethod == model.PaymentMethodCash {
			return nil
		}
		if err := s.checkPayable(apt, model.PaymentMethodCash); err != nil {
			return err
		}

		active, err := s.payments.GetActive(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load active payment: %w", err)
		}
		if active != nil && active.Method == model.PaymentMethodCard && active.SessionRef != "" {
			return apperrors.NewMethodConflict("a card payment session is already open for this appointment")
		}

		now := s.clk.Now()
		attempt := &model.Payment{
			AppointmentID: id,
			Amount:        apt.Price,
			Currency:      apt.Currency,
			Method:        model.PaymentMethodCash,
			Status:        model.PaymentStatusPending,
		}
		attempt.ID = uuid.New()
		attempt.CreatedAt = now
		attempt.UpdatedAt = now
		if err := s.payments.Create(ctx, attempt); err != nil {
			return fmt.Errorf("failed to create cash payment attempt: %w", err)
		}

		apt.PaymentMethod = model.PaymentMethodCash
		if err := s.issueCode(apt); err != nil {
			return err
		}
		apt.Touch(now)

		evt, err := event.AppointmentUpdated(apt, now)
		if err != nil {
			return err
		}
		return s.apts.Update(ctx, apt, evt)
	})
	if err != nil {
		return nil, err
	}
	return apt, nil
}

// CollectCash records that the provider received the cash in hand. Money is
// considered collected but settlement still waits for code verification.
func (s *Service) CollectCash(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	var apt *model.Appointment
	err := s.locks.Do(id.String(), func() error {
		var err error
		apt, err = s.apts.Get(ctx, id)
		if err != nil {
			return err
		}
		if apt.PaymentMethod != model.PaymentMethodCash {
			return apperrors.NewMethodConflict("appointment is not set to cash payment")
		}
		if apt.PaymentStatus.Settled() {
			return nil
		}

		now := s.clk.Now()
		if attempt, err := s.payments.GetActive(ctx, id); err != nil {
			return fmt.Errorf("failed to load active payment: %w", err)
		} else if attempt != nil {
			attempt.Status = model.PaymentStatusPaid
			attempt.UpdatedAt = now
			if err := s.payments.Update(ctx, attempt); err != nil {
				return fmt.Errorf("failed to update payment attempt: %w", err)
			}
		}

		apt.PaymentStatus = model.PaymentStatusPaid
		apt.Touch(now)

		evt, err := event.AppointmentUpdated(apt, now)
		if err != nil {
			return err
		}
		return s.apts.Update(ctx, apt, evt)
	})
	if err != nil {
		return nil, err
	}
	return apt, nil
}

// VerifyCompletionCode finalizes a card-settled appointment when the client's
// code matches. Attempts decrement on every miss; an exhausted code rejects
// even the correct value until support intervenes.
func (s *Service) VerifyCompletionCode(ctx context.Context, id uuid.UUID, code string) (*model.Appointment, error) {
	return s.verify(ctx, id, code, model.PaymentMethodCard)
}

// VerifyCashCode is the cash variant: a match additionally creates the
// provider's commission debt, atomically with the payment finalization.
func (s *Service) VerifyCashCode(ctx context.Context, id uuid.UUID, code string) (*model.Appointment, error) {
	return s.verify(ctx, id, code, model.PaymentMethodCash)
}

// VerifyCode dispatches to the card or cash path based on the appointment's
// selected method.
func (s *Service) VerifyCode(ctx context.Context, id uuid.UUID, code string) (*model.Appointment, error) {
	apt, err := s.apts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if apt.PaymentMethod == "" {
		return nil, apperrors.NewValidation("no payment method selected")
	}
	return s.verify(ctx, id, code, apt.PaymentMethod)
}

func (s *Service) verify(ctx context.Context, id uuid.UUID, code string, method model.PaymentMethod) (*model.Appointment, error) {
	var apt *model.Appointment
	err := s.locks.Do(id.String(), func() error {
		var err error
		apt, err = s.apts.Get(ctx, id)
		if err != nil {
			return err
		}

		// Re-verifying an already finalized appointment succeeds without
		// side effects; retried requests must not mint a second debt.
		if apt.PaymentStatus == model.PaymentStatusCompleted &&
			apt.Closure.ProviderAction == model.ClosureActionCodeEntered {
			return nil
		}

		if apt.PaymentMethod != method {
			return apperrors.NewMethodConflict(
				fmt.Sprintf("appointment is settled by %s, not %s", apt.PaymentMethod, method))
		}
		if apt.Verification.Code == nil {
			return apperrors.NewValidation("no completion code has been issued")
		}
		if apt.PaymentStatus != model.PaymentStatusPaid && apt.PaymentStatus != model.PaymentStatusSucceeded {
			return apperrors.NewPaymentNotConfirmed("payment has not been collected yet")
		}
		if apt.Status != model.AppointmentStatusConfirmed {
			return apperrors.NewInvalidTransition(string(apt.Status), string(model.AppointmentStatusCompleted))
		}

		if apt.Verification.Exhausted() {
			s.countVerification("exhausted")
			return apperrors.NewCodeExhausted()
		}

		now := s.clk.Now()
		if code != *apt.Verification.Code {
			apt.AttemptsLeft--
			apt.Touch(now)
			evt, err := event.AppointmentUpdated(apt, now)
			if err != nil {
				return err
			}
			if err := s.apts.Update(ctx, apt, evt); err != nil {
				return fmt.Errorf("failed to record failed attempt: %w", err)
			}
			s.countVerification("wrong")
			return apperrors.NewWrongCode(apt.AttemptsLeft)
		}

		if attempt, err := s.payments.GetActive(ctx, id); err != nil {
			return fmt.Errorf("failed to load active payment: %w", err)
		} else if attempt != nil {
			attempt.Status = model.PaymentStatusCompleted
			if attempt.ConfirmedAt == nil {
				attempt.ConfirmedAt = &now
			}
			attempt.UpdatedAt = now
			if err := s.payments.Update(ctx, attempt); err != nil {
				return fmt.Errorf("failed to update payment attempt: %w", err)
			}
		}

		apt.PaymentStatus = model.PaymentStatusCompleted
		apt.AttemptsLeft = s.cfg.CodeAttempts
		closure.ResolveWithCode(apt)
		if err := s.lifecycle.CompleteViaClosure(apt); err != nil {
			return err
		}
		apt.Touch(now)

		evt, err := event.PaymentCompleted(apt, now)
		if err != nil {
			return err
		}

		if method == model.PaymentMethodCash {
			debt := s.buildDebt(apt, now)
			debtEvt, err := event.DebtUpdated(debt, now)
			if err != nil {
				return err
			}
			if err := s.apts.UpdateWithDebt(ctx, apt, debt, evt, debtEvt); err != nil {
				return fmt.Errorf("failed to finalize cash settlement: %w", err)
			}
			s.invalidateBalance(apt.ProviderID)
			s.countDebtCreated()
			s.logger.Info("cash commission debt created",
				"appointment_id", apt.ID.String(),
				"provider_id", apt.ProviderID.String(),
				"amount", debt.Amount)
		} else {
			if err := s.apts.Update(ctx, apt, evt); err != nil {
				return fmt.Errorf("failed to finalize settlement: %w", err)
			}
		}
		s.countVerification("match")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return apt, nil
}

// SubmitManualCashPayment records a provider's out-of-band transfer of their
// commission balance and moves the covered debts under review.
func (s *Service) SubmitManualCashPayment(ctx context.Context, providerID uuid.UUID, amount int64, receiptRef, reference string) (*model.ManualCashPayment, error) {
	if amount <= 0 {
		return nil, apperrors.NewValidation("amount must be positive")
	}
	if receiptRef == "" {
		return nil, apperrors.NewValidation("receipt_ref is required")
	}

	var submission *model.ManualCashPayment
	err := s.locks.Do(providerKey(providerID), func() error {
		outstanding, err := s.debts.OutstandingTotal(ctx, providerID)
		if err != nil {
			return fmt.Errorf("failed to compute outstanding balance: %w", err)
		}
		if outstanding == 0 {
			return apperrors.NewValidation("provider has no outstanding debts")
		}

		now := s.clk.Now()
		difference := amount - outstanding
		evt, err := event.DebtBalanceChanged(providerID, 0, now)
		if err != nil {
			return err
		}
		moved, err := s.debts.SubmitManualPayment(ctx, providerID, reference, receiptRef, difference, evt)
		if err != nil {
			return fmt.Errorf("failed to submit manual payment: %w", err)
		}

		s.invalidateBalance(providerID)
		submission = &model.ManualCashPayment{
			ProviderID: providerID,
			Amount:     amount,
			ReceiptRef: receiptRef,
			Reference:  reference,
			Difference: difference,
		}
		s.logger.Info("manual cash payment submitted",
			"provider_id", providerID.String(),
			"amount", amount,
			"debts_moved", moved,
			"difference", difference)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return submission, nil
}

// ResolveDebtReview applies the back-office decision on a submitted payment.
// Approval marks the debt paid; rejection puts it back into the balance.
func (s *Service) ResolveDebtReview(ctx context.Context, providerID, debtID uuid.UUID, approve bool) error {
	return s.locks.Do(providerKey(providerID), func() error {
		status := model.DebtStatusRejected
		if approve {
			status = model.DebtStatusPaid
		}
		now := s.clk.Now()
		evt, err := event.DebtBalanceChanged(providerID, 0, now)
		if err != nil {
			return err
		}
		if err := s.debts.ResolveReview(ctx, debtID, status, evt); err != nil {
			return err
		}
		s.invalidateBalance(providerID)
		return nil
	})
}

// ListProviderDebts returns the provider's debts, newest first.
func (s *Service) ListProviderDebts(ctx context.Context, providerID uuid.UUID) ([]*model.CashCommissionDebt, error) {
	return s.debts.ListByProvider(ctx, providerID)
}

// OutstandingBalance returns the provider's non-paid debt total. Cached
// briefly; every mutation path invalidates the entry.
func (s *Service) OutstandingBalance(ctx context.Context, providerID uuid.UUID) (int64, error) {
	key := providerKey(providerID)
	if v, ok := s.cache.Get(key); ok {
		return v.(int64), nil
	}
	total, err := s.debts.OutstandingTotal(ctx, providerID)
	if err != nil {
		return 0, fmt.Errorf("failed to compute outstanding balance: %w", err)
	}
	s.cache.Set(key, total, gocache.DefaultExpiration)
	if s.metrics != nil {
		s.metrics.DebtOutstanding.WithLabelValues(providerID.String()).Set(float64(total))
	}
	return total, nil
}

// ListPayments returns the appointment's settlement attempt history.
func (s *Service) ListPayments(ctx context.Context, appointmentID uuid.UUID) ([]*model.Payment, error) {
	return s.payments.ListByAppointment(ctx, appointmentID)
}

func (s *Service) buildDebt(apt *model.Appointment, now time.Time) *model.CashCommissionDebt {
	debt := &model.CashCommissionDebt{
		ProviderID:    apt.ProviderID,
		AppointmentID: apt.ID,
		Amount:        int64(math.Round(float64(apt.Price) * s.cfg.CommissionRate)),
		Currency:      apt.Currency,
		Status:        model.DebtStatusPending,
		DueDate:       now.Add(s.cfg.DebtDueAfter),
	}
	debt.ID = uuid.New()
	debt.CreatedAt = now
	debt.UpdatedAt = now
	return debt
}

// checkPayable rejects settlement attempts on appointments that cannot take
// money anymore or that already committed to the other method. Initiation
// requires payment_status=pending; failed card attempts keep the appointment
// pending, so retries pass without a dedicated status.
func (s *Service) checkPayable(apt *model.Appointment, method model.PaymentMethod) error {
	if apt.Status.Terminal() {
		return apperrors.NewValidation(
			fmt.Sprintf("appointment is %s and cannot be paid", apt.Status))
	}
	if apt.PaymentStatus.Settled() {
		return apperrors.NewValidation("appointment is already paid")
	}
	if apt.PaymentStatus != model.PaymentStatusPending {
		return apperrors.NewValidation(
			fmt.Sprintf("appointment payment is %s and cannot be initiated", apt.PaymentStatus))
	}
	if apt.Price <= 0 {
		return apperrors.NewValidation("appointment has no payable amount")
	}
	if apt.PaymentMethod != "" && apt.PaymentMethod != method {
		return apperrors.NewMethodConflict(
			fmt.Sprintf("appointment is already set to %s payment", apt.PaymentMethod))
	}
	return nil
}

// issueCode mints the completion code once; later settlement steps reuse it.
func (s *Service) issueCode(apt *model.Appointment) error {
	if apt.Verification.Code != nil {
		return nil
	}
	code, err := generateCode()
	if err != nil {
		return err
	}
	apt.Verification.Code = &code
	apt.AttemptsLeft = s.cfg.CodeAttempts
	return nil
}

func (s *Service) observeProcessor(start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ProcessorLatency.Observe(s.clk.Now().Sub(start).Seconds())
	if err != nil {
		s.metrics.ProcessorFailures.Inc()
	}
}

func (s *Service) countVerification(outcome string) {
	if s.metrics != nil {
		s.metrics.CodeVerifications.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) countDebtCreated() {
	if s.metrics != nil {
		s.metrics.DebtsCreated.Inc()
	}
}

func (s *Service) invalidateBalance(providerID uuid.UUID) {
	s.cache.Delete(providerKey(providerID))
}

func providerKey(providerID uuid.UUID) string {
	return "provider:" + providerID.String()
}
