package closure

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reservalo/booking-api/internal/model"
	"github.com/reservalo/booking-api/internal/repository/memory"
	lifecycleService "github.com/reservalo/booking-api/internal/service/lifecycle"
	"github.com/reservalo/booking-api/pkg/clock"
	apperrors "github.com/reservalo/booking-api/pkg/errors"
	"github.com/reservalo/booking-api/pkg/keylock"
	"github.com/reservalo/booking-api/pkg/logger"
)

const graceWindow = 48 * time.Hour

type fixture struct {
	svc   *Service
	store *memory.Store
	clk   *clock.Fixed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	clk := &clock.Fixed{T: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	locks := keylock.New()
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})

	lc := lifecycleService.NewService(store, locks, clk, time.UTC, log, nil)
	svc := NewService(store, lc, locks, clk, time.UTC, Config{GraceWindow: graceWindow}, log)
	return &fixture{svc: svc, store: store, clk: clk}
}

// settledAppointment builds a confirmed, paid appointment whose service
// window has already passed.
func (f *fixture) settledAppointment(t *testing.T) *model.Appointment {
	t.Helper()
	ctx := context.Background()
	apt := &model.Appointment{
		Base: model.Base{
			ID:        uuid.New(),
			CreatedAt: f.clk.Now().Add(-24 * time.Hour),
			UpdatedAt: f.clk.Now().Add(-24 * time.Hour),
		},
		ProviderID:    uuid.New(),
		ClientID:      uuid.New(),
		ServiceID:     uuid.New(),
		Date:          "2026-03-10",
		StartTime:     "09:00",
		EndTime:       "10:00",
		Price:         10000,
		Currency:      "CLP",
		Status:        model.AppointmentStatusConfirmed,
		PaymentMethod: model.PaymentMethodCard,
		PaymentStatus: model.PaymentStatusPaid,
		Location:      "Av. Matta 10",
		Version:       1,
	}
	require.NoError(t, f.store.Create(ctx, apt, nil))
	return apt
}

func TestOpenStartsConfirmationWindow(t *testing.T) {
	f := newFixture(t)
	apt := f.settledAppointment(t)

	got, err := f.svc.Open(context.Background(), apt.ID)
	require.NoError(t, err)

	assert.Equal(t, model.ClosureStatePendingClose, got.Closure.State)
	require.NotNil(t, got.Closure.DueAt)
	assert.Equal(t, f.clk.Now().Add(graceWindow), *got.Closure.DueAt)
}

func TestOpenIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.settledAppointment(t)

	first, err := f.svc.Open(ctx, apt.ID)
	require.NoError(t, err)

	f.clk.Advance(time.Hour)
	second, err := f.svc.Open(ctx, apt.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.Closure.DueAt, *second.Closure.DueAt, "deadline not extended")
	assert.Equal(t, first.Version, second.Version)
}

func TestOpenRequiresEndedService(t *testing.T) {
	f := newFixture(t)
	apt := f.settledAppointment(t)
	apt.Date = "2026-03-11" // tomorrow
	require.NoError(t, f.store.Update(context.Background(), apt))

	_, err := f.svc.Open(context.Background(), apt.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestOpenRequiresSettledPayment(t *testing.T) {
	f := newFixture(t)
	apt := f.settledAppointment(t)
	apt.PaymentStatus = model.PaymentStatusPending
	require.NoError(t, f.store.Update(context.Background(), apt))

	_, err := f.svc.Open(context.Background(), apt.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestClientOKCompletesAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.settledAppointment(t)
	_, err := f.svc.Open(ctx, apt.ID)
	require.NoError(t, err)

	got, err := f.svc.ClientAct(ctx, apt.ID, model.ClosureActionOK, "")
	require.NoError(t, err)

	assert.Equal(t, model.ClosureStateResolved, got.Closure.State)
	assert.Equal(t, model.ClosureActionOK, got.Closure.ClientAction)
	assert.Equal(t, model.AppointmentStatusCompleted, got.Status)
	assert.False(t, got.Closure.AutoResolved)
}

func TestDisputeMovesToReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.settledAppointment(t)
	_, err := f.svc.Open(ctx, apt.ID)
	require.NoError(t, err)

	got, err := f.svc.ProviderAct(ctx, apt.ID, model.ClosureActionNoShow, "")
	require.NoError(t, err)

	assert.Equal(t, model.ClosureStateInReview, got.Closure.State)
	assert.Equal(t, model.ClosureActionNoShow, got.Closure.ProviderAction)
	assert.Equal(t, model.AppointmentStatusConfirmed, got.Status, "dispute does not complete")
}

func TestIssueRequiresNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.settledAppointment(t)
	_, err := f.svc.Open(ctx, apt.ID)
	require.NoError(t, err)

	_, err = f.svc.ClientAct(ctx, apt.ID, model.ClosureActionIssue, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	got, err := f.svc.ClientAct(ctx, apt.ID, model.ClosureActionIssue, "provider left early")
	require.NoError(t, err)
	assert.Equal(t, model.ClosureStateInReview, got.Closure.State)
	assert.Equal(t, "provider left early", got.Closure.Note)
}

func TestProviderCannotReportOK(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.settledAppointment(t)
	_, err := f.svc.Open(ctx, apt.ID)
	require.NoError(t, err)

	_, err = f.svc.ProviderAct(ctx, apt.ID, model.ClosureActionOK, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestActAfterResolveRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.settledAppointment(t)
	_, err := f.svc.Open(ctx, apt.ID)
	require.NoError(t, err)
	_, err = f.svc.ClientAct(ctx, apt.ID, model.ClosureActionOK, "")
	require.NoError(t, err)

	_, err = f.svc.ClientAct(ctx, apt.ID, model.ClosureActionNoShow, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))
}

func TestSweepOpenPicksEndedSettled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ended := f.settledAppointment(t)

	future := f.settledAppointment(t)
	future.Date = "2026-03-11"
	require.NoError(t, f.store.Update(ctx, future))

	unpaid := f.settledAppointment(t)
	unpaid.PaymentStatus = model.PaymentStatusPending
	require.NoError(t, f.store.Update(ctx, unpaid))

	opened, err := f.svc.SweepOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, opened)

	got, err := f.store.Get(ctx, ended.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClosureStatePendingClose, got.Closure.State)
}

func TestSweepDueResolvesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.settledAppointment(t)
	_, err := f.svc.Open(ctx, apt.ID)
	require.NoError(t, err)

	// Not yet due.
	resolved, err := f.svc.SweepDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)

	f.clk.Advance(graceWindow + time.Minute)

	resolved, err = f.svc.SweepDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	got, err := f.store.Get(ctx, apt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClosureStateResolved, got.Closure.State)
	assert.True(t, got.Closure.AutoResolved)
	assert.Equal(t, model.AppointmentStatusCompleted, got.Status)

	// Second tick is a no-op.
	resolved, err = f.svc.SweepDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)
}

func TestSweepDueSkipsActedClosures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.settledAppointment(t)
	_, err := f.svc.Open(ctx, apt.ID)
	require.NoError(t, err)
	_, err = f.svc.ProviderAct(ctx, apt.ID, model.ClosureActionIssue, "client never showed")
	require.NoError(t, err)

	f.clk.Advance(graceWindow + time.Minute)
	resolved, err := f.svc.SweepDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)

	got, err := f.store.Get(ctx, apt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClosureStateInReview, got.Closure.State)
	assert.False(t, got.Closure.AutoResolved)
}
