package worker

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
	closureService "github.com/reservalo/booking-api/internal/service/closure"
	lifecycleService "github.com/reservalo/booking-api/internal/service/lifecycle"
	"github.com/reservalo/booking-api/pkg/clock"
	"github.com/reservalo/booking-api/pkg/keylock"
	"github.com/reservalo/booking-api/pkg/logger"
)

const graceWindow = 48 * time.Hour

type fixture struct {
	sweeper *Sweeper
	store   *memory.Store
	clk     *clock.Fixed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	clk := &clock.Fixed{T: time.Date(2027, 3, 10, 12, 0, 0, 0, time.UTC)}
	locks := keylock.New()
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})

	lc := lifecycleService.NewService(store, locks, clk, time.UTC, log, nil)
	cl := closureService.NewService(store, lc, locks, clk, time.UTC,
		closureService.Config{GraceWindow: graceWindow}, log)
	sweeper := NewSweeper(lc, cl, store, store.Outbox(), clk, SweeperConfig{
		Interval:        time.Minute,
		RetainOutboxFor: 24 * time.Hour,
	}, log)
	return &fixture{sweeper: sweeper, store: store, clk: clk}
}

func (f *fixture) seed(t *testing.T, status model.AppointmentStatus, payment model.PaymentStatus) *model.Appointment {
	t.Helper()
	apt := &model.Appointment{
		Base:          model.Base{ID: uuid.New()},
		ProviderID:    uuid.New(),
		ClientID:      uuid.New(),
		ServiceID:     uuid.New(),
		Date:          "2027-03-10",
		StartTime:     "09:00",
		EndTime:       "10:00",
		Price:         10000,
		Currency:      "CLP",
		Status:        status,
		PaymentStatus: payment,
		Version:       1,
	}
	require.NoError(t, f.store.Create(context.Background(), apt, nil))
	return apt
}

func TestSweepRunsEveryTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unpaid := f.seed(t, model.AppointmentStatusScheduled, model.PaymentStatusPending)
	settled := f.seed(t, model.AppointmentStatusConfirmed, model.PaymentStatusPaid)

	overdue := &model.CashCommissionDebt{
		ProviderID:    settled.ProviderID,
		AppointmentID: settled.ID,
		Amount:        1000,
		Currency:      "CLP",
		Status:        model.DebtStatusPending,
		DueDate:       f.clk.Now().Add(-time.Hour),
	}
	require.NoError(t, f.store.UpdateWithDebt(ctx, settled, overdue))

	f.sweeper.Sweep(ctx)

	got, err := f.store.Get(ctx, unpaid.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusExpired, got.Status)

	got, err = f.store.Get(ctx, settled.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClosureStatePendingClose, got.Closure.State)

	debts, err := f.store.ListByProvider(ctx, settled.ProviderID)
	require.NoError(t, err)
	require.Len(t, debts, 1)
	assert.Equal(t, model.DebtStatusOverdue, debts[0].Status)
}

func TestSweepResolvesDueClosureOnLaterPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	settled := f.seed(t, model.AppointmentStatusConfirmed, model.PaymentStatusPaid)

	f.sweeper.Sweep(ctx) // opens the closure
	f.clk.Advance(graceWindow + time.Minute)
	f.sweeper.Sweep(ctx) // deadline passed, auto-resolves

	got, err := f.store.Get(ctx, settled.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClosureStateResolved, got.Closure.State)
	assert.True(t, got.Closure.AutoResolved)
	assert.Equal(t, model.AppointmentStatusCompleted, got.Status)
}

func TestSweepPrunesProcessedOutbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := &model.OutboxEvent{EventType: model.EventAppointmentUpdated, Payload: []byte(`{}`)}
	require.NoError(t, f.store.Outbox().Create(ctx, evt))
	require.NoError(t, f.store.Outbox().MarkProcessed(ctx, f.store.Events()[0].ID))

	// Fixed clock sits well past the real processed-at timestamp.
	f.sweeper.Sweep(ctx)

	assert.Empty(t, f.store.Events())
}

func TestNewSweeperValidatesConfig(t *testing.T) {
	assert.Panics(t, func() {
		NewSweeper(nil, nil, nil, nil, clock.New(), SweeperConfig{}, logger.NewLogger(nil))
	})
}
