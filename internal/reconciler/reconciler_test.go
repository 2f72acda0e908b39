package reconciler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reservalo/booking-api/internal/model"
	"github.com/reservalo/booking-api/internal/service/event"
	"github.com/reservalo/booking-api/pkg/logger"
)

func newStore() *Store {
	return NewStore(logger.NewLogger(nil))
}

func snapshot(id uuid.UUID, version int64, status model.AppointmentStatus) *model.Appointment {
	return &model.Appointment{
		Base:       model.Base{ID: id},
		ProviderID: uuid.New(),
		ClientID:   uuid.New(),
		Date:       "2026-03-12",
		StartTime:  "09:00",
		EndTime:    "10:00",
		Status:     status,
		Version:    version,
	}
}

func payload(t *testing.T, eventType string, apt *model.Appointment) []byte {
	t.Helper()
	raw, err := json.Marshal(event.Envelope{
		Type:        eventType,
		Appointment: apt,
		EmittedAt:   time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return raw
}

func TestApplyKeepsNewestVersion(t *testing.T) {
	s := newStore()
	id := uuid.New()

	require.NoError(t, s.Apply(payload(t, model.EventAppointmentUpdated, snapshot(id, 3, model.AppointmentStatusConfirmed))))
	require.NoError(t, s.Apply(payload(t, model.EventAppointmentUpdated, snapshot(id, 2, model.AppointmentStatusScheduled))))

	got, ok := s.Get(id)
	require.True(t, ok)
	assert.EqualValues(t, 3, got.Version)
	assert.Equal(t, model.AppointmentStatusConfirmed, got.Status)
}

func TestApplyOutOfOrderConverges(t *testing.T) {
	s1, s2 := newStore(), newStore()
	id := uuid.New()

	a := payload(t, model.EventAppointmentCreated, snapshot(id, 1, model.AppointmentStatusScheduled))
	b := payload(t, model.EventAppointmentUpdated, snapshot(id, 2, model.AppointmentStatusConfirmed))
	c := payload(t, model.EventAppointmentUpdated, snapshot(id, 3, model.AppointmentStatusCompleted))

	for _, p := range [][]byte{a, b, c} {
		require.NoError(t, s1.Apply(p))
	}
	for _, p := range [][]byte{c, a, b} {
		require.NoError(t, s2.Apply(p))
	}

	g1, _ := s1.Get(id)
	g2, _ := s2.Get(id)
	assert.Equal(t, g1.Version, g2.Version)
	assert.Equal(t, g1.Status, g2.Status)
}

func TestApplyEqualVersionDropped(t *testing.T) {
	s := newStore()
	id := uuid.New()

	require.NoError(t, s.Apply(payload(t, model.EventAppointmentUpdated, snapshot(id, 2, model.AppointmentStatusConfirmed))))
	require.NoError(t, s.Apply(payload(t, model.EventAppointmentUpdated, snapshot(id, 2, model.AppointmentStatusCancelled))))

	got, _ := s.Get(id)
	assert.Equal(t, model.AppointmentStatusConfirmed, got.Status, "first writer wins at equal version")
}

func TestApplyDeleteRemoves(t *testing.T) {
	s := newStore()
	id := uuid.New()

	require.NoError(t, s.Apply(payload(t, model.EventAppointmentCreated, snapshot(id, 5, model.AppointmentStatusScheduled))))
	// Deletion wins even with an older version.
	require.NoError(t, s.Apply(payload(t, model.EventAppointmentDeleted, snapshot(id, 1, model.AppointmentStatusScheduled))))

	_, ok := s.Get(id)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestApplyIgnoresDebtEvents(t *testing.T) {
	s := newStore()
	raw, err := json.Marshal(event.Envelope{
		Type:       model.EventDebtUpdated,
		ProviderID: uuid.New(),
	})
	require.NoError(t, err)

	require.NoError(t, s.Apply(raw))
	assert.Equal(t, 0, s.Len())
}

func TestApplyGarbageRejected(t *testing.T) {
	s := newStore()
	assert.Error(t, s.Apply([]byte("{not json")))
}

func TestOptimisticRollback(t *testing.T) {
	s := newStore()
	id := uuid.New()
	require.NoError(t, s.Apply(payload(t, model.EventAppointmentCreated, snapshot(id, 1, model.AppointmentStatusScheduled))))

	rollback := s.ApplyOptimistic(snapshot(id, 2, model.AppointmentStatusConfirmed))
	got, _ := s.Get(id)
	assert.Equal(t, model.AppointmentStatusConfirmed, got.Status)

	rollback()
	got, _ = s.Get(id)
	assert.Equal(t, model.AppointmentStatusScheduled, got.Status)
	assert.EqualValues(t, 1, got.Version)
}

func TestOptimisticRollbackSkippedWhenNewerLanded(t *testing.T) {
	s := newStore()
	id := uuid.New()
	require.NoError(t, s.Apply(payload(t, model.EventAppointmentCreated, snapshot(id, 1, model.AppointmentStatusScheduled))))

	rollback := s.ApplyOptimistic(snapshot(id, 2, model.AppointmentStatusConfirmed))

	// The confirming event lands before the rollback fires.
	require.NoError(t, s.Apply(payload(t, model.EventAppointmentUpdated, snapshot(id, 3, model.AppointmentStatusCompleted))))
	rollback()

	got, _ := s.Get(id)
	assert.EqualValues(t, 3, got.Version)
	assert.Equal(t, model.AppointmentStatusCompleted, got.Status)
}

func TestOptimisticRollbackRemovesUnknown(t *testing.T) {
	s := newStore()
	apt := snapshot(uuid.New(), 1, model.AppointmentStatusScheduled)

	rollback := s.ApplyOptimistic(apt)
	assert.Equal(t, 1, s.Len())

	rollback()
	assert.Equal(t, 0, s.Len())
}
