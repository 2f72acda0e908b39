package settlement

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reservalo/booking-api/internal/config"
	"github.com/reservalo/booking-api/internal/gateway/payments"
	"github.com/reservalo/booking-api/internal/model"
	"github.com/reservalo/booking-api/internal/repository/memory"
	lifecycleService "github.com/reservalo/booking-api/internal/service/lifecycle"
	"github.com/reservalo/booking-api/pkg/clock"
	apperrors "github.com/reservalo/booking-api/pkg/errors"
	"github.com/reservalo/booking-api/pkg/keylock"
	"github.com/reservalo/booking-api/pkg/logger"
)

// fakeProcessor approves everything unless told otherwise.
type fakeProcessor struct {
	sessions int
	status   string
	failWith error
}

func (f *fakeProcessor) CreateSession(ctx context.Context, amount int64, currency, returnURL string) (*payments.Session, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.sessions++
	return &payments.Session{
		Ref:         fmt.Sprintf("sess-%d", f.sessions),
		RedirectURL: "https://processor.test/checkout",
	}, nil
}

func (f *fakeProcessor) ConfirmSession(ctx context.Context, sessionRef string) (*payments.Confirmation, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	status := f.status
	if status == "" {
		status = payments.SessionStatusApproved
	}
	return &payments.Confirmation{Status: status}, nil
}

type fixture struct {
	svc       *Service
	lifecycle *lifecycleService.Service
	store     *memory.Store
	clk       *clock.Fixed
	processor *fakeProcessor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	clk := &clock.Fixed{T: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	locks := keylock.New()
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	processor := &fakeProcessor{}

	lc := lifecycleService.NewService(store, locks, clk, time.UTC, log, nil)
	cfg := config.SettlementConfig{
		CommissionRate: 0.10,
		CodeAttempts:   3,
		DebtDueAfter:   7 * 24 * time.Hour,
	}
	svc := NewService(store, store.Payments(), store, processor, lc, locks, clk, cfg, log, nil)
	return &fixture{svc: svc, lifecycle: lc, store: store, clk: clk, processor: processor}
}

// confirmed appointment earlier today, already ended
func (f *fixture) bookConfirmed(t *testing.T) *model.Appointment {
	t.Helper()
	ctx := context.Background()
	apt, err := f.lifecycle.Book(ctx, &model.BookAppointmentRequest{
		ProviderID: uuid.New(),
		ClientID:   uuid.New(),
		ServiceID:  uuid.New(),
		Date:       "2026-03-10",
		StartTime:  "09:00",
		EndTime:    "10:00",
		Price:      10000,
		Currency:   "CLP",
	})
	require.NoError(t, err)
	apt, err = f.lifecycle.Confirm(ctx, apt.ID, "Av. Italia 850")
	require.NoError(t, err)
	return apt
}

func (f *fixture) code(t *testing.T, id uuid.UUID) string {
	t.Helper()
	apt, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, apt.Verification.Code)
	return *apt.Verification.Code
}

func TestCardFlowEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.bookConfirmed(t)

	session, err := f.svc.InitiateCardPayment(ctx, apt.ID, "https://app.test/return")
	require.NoError(t, err)
	require.NotEmpty(t, session.Ref)

	got, err := f.svc.ConfirmPayment(ctx, apt.ID, session.Ref)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, model.PaymentMethodCard, got.PaymentMethod)

	got, err = f.svc.VerifyCode(ctx, apt.ID, f.code(t, apt.ID))
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, got.PaymentStatus)
	assert.Equal(t, model.AppointmentStatusCompleted, got.Status)
	assert.Equal(t, model.ClosureStateResolved, got.Closure.State)
	assert.Equal(t, model.ClosureActionCodeEntered, got.Closure.ProviderAction)

	// card settlement leaves no commission debt
	total, err := f.svc.OutstandingBalance(ctx, got.ProviderID)
	require.NoError(t, err)
	assert.Zero(t, total)

	events := f.store.EventsOfType(model.EventPaymentCompleted)
	assert.Len(t, events, 2) // one on paid, one on finalization
}

func TestConfirmPaymentIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.bookConfirmed(t)

	session, err := f.svc.InitiateCardPayment(ctx, apt.ID, "https://app.test/return")
	require.NoError(t, err)

	first, err := f.svc.ConfirmPayment(ctx, apt.ID, session.Ref)
	require.NoError(t, err)
	second, err := f.svc.ConfirmPayment(ctx, apt.ID, session.Ref)
	require.NoError(t, err)

	assert.Equal(t, first.Version, second.Version, "retry must not mutate")
	assert.Len(t, f.store.EventsOfType(model.EventPaymentCompleted), 1)
}

func TestConfirmRejectedSessionLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.bookConfirmed(t)

	session, err := f.svc.InitiateCardPayment(ctx, apt.ID, "https://app.test/return")
	require.NoError(t, err)

	f.processor.status = payments.SessionStatusRejected
	_, err = f.svc.ConfirmPayment(ctx, apt.ID, session.Ref)
	assert.True(t, apperrors.HasCode(err, apperrors.CodePaymentNotConfirmed))

	got, err := f.store.Get(ctx, apt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, got.PaymentStatus)
}

func TestZeroPriceCannotInitiateSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt, err := f.lifecycle.Book(ctx, &model.BookAppointmentRequest{
		ProviderID: uuid.New(),
		ClientID:   uuid.New(),
		ServiceID:  uuid.New(),
		Date:       "2026-03-10",
		StartTime:  "09:00",
		EndTime:    "10:00",
		Price:      0,
		Currency:   "CLP",
	})
	require.NoError(t, err)
	apt, err = f.lifecycle.Confirm(ctx, apt.ID, "Av. Italia 850")
	require.NoError(t, err)

	_, err = f.svc.InitiateCardPayment(ctx, apt.ID, "https://app.test/return")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	assert.Zero(t, f.processor.sessions, "no processor session for a free appointment")

	_, err = f.svc.SelectCash(ctx, apt.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestInitiateRequiresPendingPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.bookConfirmed(t)

	apt.PaymentStatus = model.PaymentStatusRefunded
	require.NoError(t, f.store.Update(ctx, apt))

	_, err := f.svc.InitiateCardPayment(ctx, apt.ID, "https://app.test/return")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	assert.Zero(t, f.processor.sessions)
}

func TestSelectCashAfterCardSessionConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.bookConfirmed(t)

	_, err := f.svc.InitiateCardPayment(ctx, apt.ID, "https://app.test/return")
	require.NoError(t, err)

	_, err = f.svc.SelectCash(ctx, apt.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeMethodConflict))
}

func TestCardAfterCashConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.bookConfirmed(t)

	_, err := f.svc.SelectCash(ctx, apt.ID)
	require.NoError(t, err)

	_, err = f.svc.InitiateCardPayment(ctx, apt.ID, "https://app.test/return")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeMethodConflict))
}

func TestCashFlowCreatesSingleDebt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.bookConfirmed(t)

	_, err := f.svc.SelectCash(ctx, apt.ID)
	require.NoError(t, err)
	_, err = f.svc.CollectCash(ctx, apt.ID)
	require.NoError(t, err)

	code := f.code(t, apt.ID)
	got, err := f.svc.VerifyCode(ctx, apt.ID, code)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, got.PaymentStatus)
	assert.Equal(t, model.AppointmentStatusCompleted, got.Status)

	debts, err := f.svc.ListProviderDebts(ctx, got.ProviderID)
	require.NoError(t, err)
	require.Len(t, debts, 1)
	assert.EqualValues(t, 1000, debts[0].Amount, "10% of 10000")
	assert.Equal(t, model.DebtStatusPending, debts[0].Status)

	// retried verification must not mint a second debt
	_, err = f.svc.VerifyCode(ctx, apt.ID, code)
	require.NoError(t, err)
	debts, err = f.svc.ListProviderDebts(ctx, got.ProviderID)
	require.NoError(t, err)
	assert.Len(t, debts, 1)
}

func TestCashVerifyRequiresCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.bookConfirmed(t)

	_, err := f.svc.SelectCash(ctx, apt.ID)
	require.NoError(t, err)

	_, err = f.svc.VerifyCode(ctx, apt.ID, f.code(t, apt.ID))
	assert.True(t, apperrors.HasCode(err, apperrors.CodePaymentNotConfirmed))
}

func TestCodeAttemptsExhaust(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.bookConfirmed(t)

	session, err := f.svc.InitiateCardPayment(ctx, apt.ID, "https://app.test/return")
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, apt.ID, session.Ref)
	require.NoError(t, err)

	right := f.code(t, apt.ID)
	wrong := "9999"
	if wrong == right {
		wrong = "0000"
	}

	for want := 2; want >= 0; want-- {
		_, err = f.svc.VerifyCode(ctx, apt.ID, wrong)
		require.True(t, apperrors.HasCode(err, apperrors.CodeWrongCode))
		ae, _ := apperrors.AsAppError(err)
		assert.EqualValues(t, want, ae.Meta["remaining_attempts"])
	}

	// exhausted: even the correct code is refused
	_, err = f.svc.VerifyCode(ctx, apt.ID, right)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeCodeExhausted))

	got, err := f.store.Get(ctx, apt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, got.PaymentStatus, "exhaustion never finalizes")
}

func TestManualCashPaymentMovesDebtsUnderReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.bookConfirmed(t)

	_, err := f.svc.SelectCash(ctx, apt.ID)
	require.NoError(t, err)
	_, err = f.svc.CollectCash(ctx, apt.ID)
	require.NoError(t, err)
	got, err := f.svc.VerifyCode(ctx, apt.ID, f.code(t, apt.ID))
	require.NoError(t, err)

	total, err := f.svc.OutstandingBalance(ctx, got.ProviderID)
	require.NoError(t, err)
	require.EqualValues(t, 1000, total)

	submission, err := f.svc.SubmitManualCashPayment(ctx, got.ProviderID, 1200, "receipt-77", "bank-ref")
	require.NoError(t, err)
	assert.EqualValues(t, 200, submission.Difference)

	debts, err := f.svc.ListProviderDebts(ctx, got.ProviderID)
	require.NoError(t, err)
	require.Len(t, debts, 1)
	assert.Equal(t, model.DebtStatusUnderReview, debts[0].Status)

	// under_review still counts toward the balance until approved
	total, err = f.svc.OutstandingBalance(ctx, got.ProviderID)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, total)

	require.NoError(t, f.svc.ResolveDebtReview(ctx, got.ProviderID, debts[0].ID, true))
	total, err = f.svc.OutstandingBalance(ctx, got.ProviderID)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestManualPaymentWithoutDebtsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SubmitManualCashPayment(context.Background(), uuid.New(), 1000, "receipt-1", "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestRejectedReviewFallsBackIntoBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.bookConfirmed(t)

	_, err := f.svc.SelectCash(ctx, apt.ID)
	require.NoError(t, err)
	_, err = f.svc.CollectCash(ctx, apt.ID)
	require.NoError(t, err)
	got, err := f.svc.VerifyCode(ctx, apt.ID, f.code(t, apt.ID))
	require.NoError(t, err)

	_, err = f.svc.SubmitManualCashPayment(ctx, got.ProviderID, 1000, "receipt-2", "")
	require.NoError(t, err)
	debts, err := f.svc.ListProviderDebts(ctx, got.ProviderID)
	require.NoError(t, err)
	require.NoError(t, f.svc.ResolveDebtReview(ctx, got.ProviderID, debts[0].ID, false))

	total, err := f.svc.OutstandingBalance(ctx, got.ProviderID)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, total)
}

func TestGenerateCodeFormat(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		assert.Len(t, code, 4)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9')
		}
	}
}
