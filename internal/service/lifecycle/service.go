// Package lifecycle validates and applies appointment status transitions.
// Every mutation runs under the appointment's key lock and is persisted
// together with the event it emits.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reservalo/booking-api/internal/model"
	"github.com/reservalo/booking-api/internal/repository"
	"github.com/reservalo/booking-api/internal/service/event"
	"github.com/reservalo/booking-api/pkg/clock"
	apperrors "github.com/reservalo/booking-api/pkg/errors"
	"github.com/reservalo/booking-api/pkg/keylock"
	"github.com/reservalo/booking-api/pkg/logger"
	"github.com/reservalo/booking-api/pkg/metrics"
)

type Service struct {
	repo    repository.AppointmentRepository
	locks   *keylock.KeyLock
	clk     clock.Clock
	loc     *time.Location
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewService(repo repository.AppointmentRepository, locks *keylock.KeyLock, clk clock.Clock, loc *time.Location, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		locks:   locks,
		clk:     clk,
		loc:     loc,
		logger:  log,
		metrics: m,
	}
}

// Book creates a scheduled appointment after checking the slot is free.
func (s *Service) Book(ctx context.Context, req *model.BookAppointmentRequest) (*model.Appointment, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.NewValidation(err.Error())
	}

	conflict, err := s.repo.HasConflict(ctx, req.ProviderID, req.Date, req.StartTime, req.EndTime, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to check conflicts: %w", err)
	}
	if conflict {
		return nil, apperrors.NewSlotTaken()
	}

	now := s.clk.Now()
	apt := &model.Appointment{
		ProviderID:    req.ProviderID,
		ClientID:      req.ClientID,
		ServiceID:     req.ServiceID,
		Date:          req.Date,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Location:      req.Location,
		Status:        model.AppointmentStatusScheduled,
		PaymentStatus: model.PaymentStatusPending,
		Price:         req.Price,
		Currency:      req.Currency,
		Reschedule: model.RescheduleState{
			RequestedBy: "",
		},
		Closure: model.Closure{
			State:          model.ClosureStateNone,
			ProviderAction: model.ClosureActionNone,
			ClientAction:   model.ClosureActionNone,
		},
		Version: 1,
	}
	apt.ID = uuid.New()
	apt.CreatedAt = now
	apt.UpdatedAt = now

	evt, err := event.AppointmentCreated(apt, now)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, apt, evt); err != nil {
		return nil, fmt.Errorf("failed to create appointment: %w", err)
	}

	s.logger.Info("appointment booked",
		"appointment_id", apt.ID.String(),
		"provider_id", apt.ProviderID.String())
	return apt, nil
}

// Confirm moves a scheduled appointment to confirmed. A service location
// must exist; the caller may supply one atomically with confirmation.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, location string) (*model.Appointment, error) {
	var apt *model.Appointment
	err := s.locks.Do(id.String(), func() error {
		var err error
		apt, err = s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if apt.Status != model.AppointmentStatusScheduled {
			return apperrors.NewInvalidTransition(string(apt.Status), string(model.AppointmentStatusConfirmed))
		}
		if apt.Location == "" && location == "" {
			return apperrors.NewLocationRequired()
		}
		if location != "" {
			apt.Location = location
		}
		return s.applyTransition(ctx, apt, model.AppointmentStatusConfirmed)
	})
	if err != nil {
		return nil, err
	}
	return apt, nil
}

// Cancel terminates a non-terminal appointment. No reversal.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor model.Actor, reason string) (*model.Appointment, error) {
	if !actor.Valid() {
		return nil, apperrors.NewValidation(fmt.Sprintf("unknown actor %q", actor))
	}

	var apt *model.Appointment
	err := s.locks.Do(id.String(), func() error {
		var err error
		apt, err = s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !model.CanTransition(apt.Status, model.AppointmentStatusCancelled) {
			return apperrors.NewInvalidTransition(string(apt.Status), string(model.AppointmentStatusCancelled))
		}
		apt.CancelledBy = actor
		apt.CancellationReason = reason
		apt.Reschedule.Clear()
		return s.applyTransition(ctx, apt, model.AppointmentStatusCancelled)
	})
	if err != nil {
		return nil, err
	}
	return apt, nil
}

// Expire decays a scheduled or confirmed appointment whose start time has
// passed without progression. System-only; idempotent.
func (s *Service) Expire(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	var apt *model.Appointment
	err := s.locks.Do(id.String(), func() error {
		var err error
		apt, err = s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if apt.Status == model.AppointmentStatusExpired {
			return nil
		}
		if !model.CanTransition(apt.Status, model.AppointmentStatusExpired) {
			return apperrors.NewInvalidTransition(string(apt.Status), string(model.AppointmentStatusExpired))
		}
		start, err := apt.StartAt(s.loc)
		if err != nil {
			return fmt.Errorf("failed to parse appointment start: %w", err)
		}
		if start.After(s.clk.Now()) {
			return apperrors.NewValidation("appointment has not started yet")
		}
		return s.applyTransition(ctx, apt, model.AppointmentStatusExpired)
	})
	if err != nil {
		return nil, err
	}
	return apt, nil
}

// CompleteViaClosure finishes an appointment once its closure resolved. The
// caller (the closure service) already holds the appointment's lock and
// persists the result; this only applies the status change in memory.
func (s *Service) CompleteViaClosure(apt *model.Appointment) error {
	if !model.CanTransition(apt.Status, model.AppointmentStatusCompleted) {
		return apperrors.NewInvalidTransition(string(apt.Status), string(model.AppointmentStatusCompleted))
	}
	s.countTransition(apt.Status, model.AppointmentStatusCompleted)
	apt.Status = model.AppointmentStatusCompleted
	return nil
}

// Get returns one appointment.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return s.repo.Get(ctx, id)
}

// List returns appointments matching the filters.
func (s *Service) List(ctx context.Context, f *model.AppointmentFilters) ([]*model.Appointment, error) {
	return s.repo.List(ctx, f)
}

// SweepExpired expires every overdue scheduled/confirmed appointment.
// Invoked periodically by the worker.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	candidates, err := s.repo.ListExpiryCandidates(ctx, s.clk.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to list expiry candidates: %w", err)
	}
	expired := 0
	for _, apt := range candidates {
		if _, err := s.Expire(ctx, apt.ID); err != nil {
			// Another writer may have progressed it since the listing;
			// that is expected, skip.
			if _, ok := apperrors.AsAppError(err); ok {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (s *Service) applyTransition(ctx context.Context, apt *model.Appointment, to model.AppointmentStatus) error {
	from := apt.Status
	apt.Status = to
	apt.Touch(s.clk.Now())

	evt, err := event.AppointmentUpdated(apt, s.clk.Now())
	if err != nil {
		return err
	}
	if err := s.repo.Update(ctx, apt, evt); err != nil {
		return fmt.Errorf("failed to persist transition: %w", err)
	}

	s.countTransition(from, to)
	s.logger.Info("appointment transitioned",
		"appointment_id", apt.ID.String(),
		"from", string(from),
		"to", string(to))
	return nil
}

func (s *Service) countTransition(from, to model.AppointmentStatus) {
	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(from), string(to)).Inc()
	}
}
