package reschedule

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reservalo/booking-api/internal/gateway/calendar"
	"github.com/reservalo/booking-api/internal/model"
	"github.com/reservalo/booking-api/internal/repository/memory"
	lifecycleService "github.com/reservalo/booking-api/internal/service/lifecycle"
	"github.com/reservalo/booking-api/pkg/clock"
	apperrors "github.com/reservalo/booking-api/pkg/errors"
	"github.com/reservalo/booking-api/pkg/keylock"
	"github.com/reservalo/booking-api/pkg/logger"
)

type fixture struct {
	svc       *Service
	lifecycle *lifecycleService.Service
	store     *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	clk := &clock.Fixed{T: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	locks := keylock.New()
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})

	lc := lifecycleService.NewService(store, locks, clk, time.UTC, log, nil)
	svc := NewService(store, calendar.NewRepoAvailability(store), locks, clk, time.UTC, log)
	return &fixture{svc: svc, lifecycle: lc, store: store}
}

func (f *fixture) book(t *testing.T, provider uuid.UUID) *model.Appointment {
	t.Helper()
	apt, err := f.lifecycle.Book(context.Background(), &model.BookAppointmentRequest{
		ProviderID: provider,
		ClientID:   uuid.New(),
		ServiceID:  uuid.New(),
		Date:       "2026-03-12",
		StartTime:  "09:00",
		EndTime:    "10:00",
		Price:      8000,
		Currency:   "CLP",
	})
	require.NoError(t, err)
	return apt
}

func proposal() *Proposal {
	return &Proposal{
		RequestedBy: model.ActorClient,
		TargetDate:  "2026-03-14",
		TargetStart: "15:00",
		TargetEnd:   "16:00",
		Reason:      "work trip",
	}
}

func TestRequestMovesToPendingReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.book(t, uuid.New())

	got, err := f.svc.Request(ctx, apt.ID, proposal())
	require.NoError(t, err)

	assert.Equal(t, model.AppointmentStatusPendingReschedule, got.Status)
	assert.Equal(t, model.AppointmentStatusScheduled, got.Reschedule.PreviousStatus)
	assert.Equal(t, model.ActorClient, got.Reschedule.RequestedBy)
	assert.Equal(t, 1, got.Reschedule.ClientCount)
	assert.Equal(t, 0, got.Reschedule.ProviderCount)

	// original slot untouched while the proposal is live
	assert.Equal(t, "2026-03-12", got.Date)
	assert.Equal(t, "09:00", got.StartTime)
}

func TestRequestWhilePendingRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.book(t, uuid.New())

	_, err := f.svc.Request(ctx, apt.ID, proposal())
	require.NoError(t, err)
	_, err = f.svc.Request(ctx, apt.ID, proposal())
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))
}

func TestAcceptAppliesTargetSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.book(t, uuid.New())

	_, err := f.svc.Request(ctx, apt.ID, proposal())
	require.NoError(t, err)

	got, err := f.svc.Respond(ctx, apt.ID, true, "")
	require.NoError(t, err)

	assert.Equal(t, model.AppointmentStatusConfirmed, got.Status)
	assert.Equal(t, "2026-03-14", got.Date)
	assert.Equal(t, "15:00", got.StartTime)
	assert.Equal(t, "16:00", got.EndTime)
	assert.Empty(t, got.Reschedule.TargetDate)
	assert.Empty(t, got.Reschedule.RequestedBy)
	assert.Equal(t, 1, got.Reschedule.ClientCount, "counter survives")
}

func TestAcceptRechecksAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := uuid.New()
	apt := f.book(t, provider)

	_, err := f.svc.Request(ctx, apt.ID, proposal())
	require.NoError(t, err)

	// the target slot gets taken between proposal and decision
	_, err = f.lifecycle.Book(ctx, &model.BookAppointmentRequest{
		ProviderID: provider,
		ClientID:   uuid.New(),
		ServiceID:  uuid.New(),
		Date:       "2026-03-14",
		StartTime:  "15:30",
		EndTime:    "16:30",
		Price:      8000,
		Currency:   "CLP",
	})
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, apt.ID, true, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeSlotTaken))

	// the proposal stays live after a failed acceptance
	got, err := f.store.Get(ctx, apt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusPendingReschedule, got.Status)
	assert.Equal(t, "2026-03-14", got.Reschedule.TargetDate)
}

func TestRejectRestoresPreviousState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.book(t, uuid.New())
	confirmed, err := f.lifecycle.Confirm(ctx, apt.ID, "Av. Matta 10")
	require.NoError(t, err)

	_, err = f.svc.Request(ctx, apt.ID, proposal())
	require.NoError(t, err)

	got, err := f.svc.Respond(ctx, apt.ID, false, "cannot make it")
	require.NoError(t, err)

	assert.Equal(t, model.AppointmentStatusConfirmed, got.Status)
	assert.Equal(t, confirmed.Date, got.Date)
	assert.Equal(t, confirmed.StartTime, got.StartTime)
	assert.Equal(t, confirmed.EndTime, got.EndTime)
	assert.Empty(t, got.Reschedule.TargetDate)
	assert.Equal(t, "cannot make it", got.Reschedule.DeclineReason)
}

func TestRespondWithoutProposalRejected(t *testing.T) {
	f := newFixture(t)
	apt := f.book(t, uuid.New())

	_, err := f.svc.Respond(context.Background(), apt.ID, true, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestProposalValidation(t *testing.T) {
	f := newFixture(t)
	apt := f.book(t, uuid.New())

	bad := proposal()
	bad.TargetEnd = "14:00" // before start
	_, err := f.svc.Request(context.Background(), apt.ID, bad)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	bad = proposal()
	bad.TargetDate = "14-03-2026"
	_, err = f.svc.Request(context.Background(), apt.ID, bad)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	bad = proposal()
	bad.RequestedBy = model.ActorSystem
	_, err = f.svc.Request(context.Background(), apt.ID, bad)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}
