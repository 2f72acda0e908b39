// Package reconciler maintains a client-side view of appointments fed by the
// event stream. Events carry full snapshots; the store keeps whichever
// version is newest and drops everything stale, so out-of-order delivery
// converges to the same state.
package reconciler

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/reservalo/booking-api/internal/model"
	"github.com/reservalo/booking-api/internal/service/event"
	"github.com/reservalo/booking-api/pkg/logger"
)

// Store is the reconciled appointment view. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*model.Appointment
	logger *logger.Logger
}

func NewStore(log *logger.Logger) *Store {
	return &Store{
		byID:   make(map[uuid.UUID]*model.Appointment),
		logger: log,
	}
}

// Apply ingests one raw event payload. Snapshots older than what the store
// already holds are dropped; deletions remove the record regardless.
func (s *Store) Apply(payload []byte) error {
	var env event.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}

	if env.Appointment == nil {
		// Debt events carry no appointment snapshot; nothing to reconcile.
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	apt := env.Appointment
	if env.Type == model.EventAppointmentDeleted {
		delete(s.byID, apt.ID)
		return nil
	}

	if cur, ok := s.byID[apt.ID]; ok && cur.Version >= apt.Version {
		s.logger.Debug("dropped stale snapshot",
			"appointment_id", apt.ID.String(),
			"have", cur.Version,
			"got", apt.Version)
		return nil
	}
	s.byID[apt.ID] = apt
	return nil
}

// ApplyOptimistic stages a local mutation before the confirming event
// arrives. It returns a rollback func; call it if the server rejects the
// mutation, and the store restores the previous snapshot.
func (s *Store) ApplyOptimistic(apt *model.Appointment) (rollback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.byID[apt.ID]
	s.byID[apt.ID] = apt
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// Only roll back if nothing newer landed in the meantime.
		if cur, ok := s.byID[apt.ID]; !ok || cur != apt {
			return
		}
		if had {
			s.byID[apt.ID] = prev
		} else {
			delete(s.byID, apt.ID)
		}
	}
}

// Get returns the reconciled snapshot for one appointment.
func (s *Store) Get(id uuid.UUID) (*model.Appointment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	apt, ok := s.byID[id]
	return apt, ok
}

// List returns all reconciled snapshots in no particular order.
func (s *Store) List() []*model.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Appointment, 0, len(s.byID))
	for _, apt := range s.byID {
		out = append(out, apt)
	}
	return out
}

// Len returns the number of tracked appointments.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
