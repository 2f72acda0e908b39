// Package closure drives the post-service confirmation step: it decides
// whether an appointment completed successfully or needs dispute handling,
// and it is the only component allowed to finish an appointment.
package closure

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reservalo/booking-api/internal/model"
	"github.com/reservalo/booking-api/internal/repository"
	"github.com/reservalo/booking-api/internal/service/event"
	"github.com/reservalo/booking-api/internal/service/lifecycle"
	"github.com/reservalo/booking-api/pkg/clock"
	apperrors "github.com/reservalo/booking-api/pkg/errors"
	"github.com/reservalo/booking-api/pkg/keylock"
	"github.com/reservalo/booking-api/pkg/logger"
)

type Config struct {
	GraceWindow time.Duration
}

type Service struct {
	repo      repository.AppointmentRepository
	lifecycle *lifecycle.Service
	locks     *keylock.KeyLock
	clk       clock.Clock
	loc       *time.Location
	cfg       Config
	logger    *logger.Logger
}

func NewService(repo repository.AppointmentRepository, lc *lifecycle.Service, locks *keylock.KeyLock, clk clock.Clock, loc *time.Location, cfg Config, log *logger.Logger) *Service {
	return &Service{
		repo:      repo,
		lifecycle: lc,
		locks:     locks,
		clk:       clk,
		loc:       loc,
		cfg:       cfg,
		logger:    log,
	}
}

// ResolveWithCode marks the closure resolved because the provider entered
// the verification code. Pure mutation; the settlement coordinator persists
// it atomically with the payment finalization.
func ResolveWithCode(apt *model.Appointment) {
	apt.Closure.ProviderAction = model.ClosureActionCodeEntered
	apt.Closure.State = model.ClosureStateResolved
}

// Open starts the confirmation window for a confirmed, settled appointment
// whose service end has passed.
func (s *Service) Open(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	var apt *model.Appointment
	err := s.locks.Do(id.String(), func() error {
		var err error
		apt, err = s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if apt.Closure.State != model.ClosureStateNone {
			return nil // already opened; idempotent
		}
		if apt.Status != model.AppointmentStatusConfirmed || !apt.PaymentStatus.Settled() {
			return apperrors.NewValidation("closure requires a confirmed, paid appointment")
		}
		end, err := apt.EndAt(s.loc)
		if err != nil {
			return fmt.Errorf("failed to parse appointment end: %w", err)
		}
		now := s.clk.Now()
		if end.After(now) {
			return apperrors.NewValidation("service has not ended yet")
		}

		due := now.Add(s.cfg.GraceWindow)
		apt.Closure.State = model.ClosureStatePendingClose
		apt.Closure.DueAt = &due
		apt.Touch(now)

		evt, err := event.AppointmentUpdated(apt, now)
		if err != nil {
			return err
		}
		return s.repo.Update(ctx, apt, evt)
	})
	if err != nil {
		return nil, err
	}
	return apt, nil
}

// ProviderAct records the provider's closure decision. code_entered arrives
// through the settlement coordinator, never here.
func (s *Service) ProviderAct(ctx context.Context, id uuid.UUID, action model.ClosureAction, note string) (*model.Appointment, error) {
	if action != model.ClosureActionNoShow && action != model.ClosureActionIssue {
		return nil, apperrors.NewValidation(fmt.Sprintf("provider closure action %q not allowed", action))
	}
	return s.act(ctx, id, action, note, true)
}

// ClientAct records the client's closure decision.
func (s *Service) ClientAct(ctx context.Context, id uuid.UUID, action model.ClosureAction, note string) (*model.Appointment, error) {
	switch action {
	case model.ClosureActionOK, model.ClosureActionNoShow, model.ClosureActionIssue:
	default:
		return nil, apperrors.NewValidation(fmt.Sprintf("client closure action %q not allowed", action))
	}
	return s.act(ctx, id, action, note, false)
}

func (s *Service) act(ctx context.Context, id uuid.UUID, action model.ClosureAction, note string, byProvider bool) (*model.Appointment, error) {
	if action == model.ClosureActionIssue && note == "" {
		return nil, apperrors.NewValidation("an issue report requires a note")
	}

	var apt *model.Appointment
	err := s.locks.Do(id.String(), func() error {
		var err error
		apt, err = s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if apt.Closure.State != model.ClosureStatePendingClose {
			return apperrors.NewInvalidTransition(string(apt.Closure.State), string(action))
		}

		if byProvider {
			apt.Closure.ProviderAction = action
		} else {
			apt.Closure.ClientAction = action
		}
		if note != "" {
			apt.Closure.Note = note
		}

		now := s.clk.Now()
		switch action {
		case model.ClosureActionOK:
			apt.Closure.State = model.ClosureStateResolved
			if err := s.lifecycle.CompleteViaClosure(apt); err != nil {
				return err
			}
		case model.ClosureActionNoShow, model.ClosureActionIssue:
			// Disputes block fund release until manually resolved.
			apt.Closure.State = model.ClosureStateInReview
		}
		apt.Touch(now)

		evt, err := event.AppointmentUpdated(apt, now)
		if err != nil {
			return err
		}
		return s.repo.Update(ctx, apt, evt)
	})
	if err != nil {
		return nil, err
	}
	return apt, nil
}

// ListPending returns appointments awaiting closure, for the dashboard.
func (s *Service) ListPending(ctx context.Context) ([]*model.Appointment, error) {
	return s.repo.ListPendingClosures(ctx)
}

// SweepOpen opens the confirmation window for every settled appointment
// whose service end has passed.
func (s *Service) SweepOpen(ctx context.Context) (int, error) {
	candidates, err := s.repo.ListClosureCandidates(ctx, s.clk.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to list closure candidates: %w", err)
	}
	opened := 0
	for _, apt := range candidates {
		if _, err := s.Open(ctx, apt.ID); err != nil {
			if _, ok := apperrors.AsAppError(err); ok {
				continue
			}
			return opened, err
		}
		opened++
	}
	return opened, nil
}

// SweepDue auto-resolves every closure whose deadline elapsed with no action
// from either party. Silence is treated as implicit confirmation; the
// resolution is recorded as auto-resolved and logged so the default-to-release
// decision stays auditable. Re-ticks are no-ops: the state check under the
// lock guarantees each appointment resolves exactly once.
func (s *Service) SweepDue(ctx context.Context) (int, error) {
	due, err := s.repo.ListClosureDue(ctx, s.clk.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to list due closures: %w", err)
	}

	resolved := 0
	for _, candidate := range due {
		id := candidate.ID
		err := s.locks.Do(id.String(), func() error {
			apt, err := s.repo.Get(ctx, id)
			if err != nil {
				return err
			}
			// Re-check under the lock: a party may have acted, or a
			// previous tick may have resolved it already.
			if apt.Closure.State != model.ClosureStatePendingClose {
				return nil
			}
			if apt.Closure.ProviderAction != model.ClosureActionNone ||
				apt.Closure.ClientAction != model.ClosureActionNone {
				return nil
			}

			now := s.clk.Now()
			apt.Closure.State = model.ClosureStateResolved
			apt.Closure.AutoResolved = true
			if err := s.lifecycle.CompleteViaClosure(apt); err != nil {
				return err
			}
			apt.Touch(now)

			evt, err := event.AppointmentUpdated(apt, now)
			if err != nil {
				return err
			}
			if err := s.repo.Update(ctx, apt, evt); err != nil {
				return err
			}

			s.logger.Info("closure auto-resolved on deadline",
				"appointment_id", apt.ID.String(),
				"due_at", apt.Closure.DueAt)
			resolved++
			return nil
		})
		if err != nil {
			if _, ok := apperrors.AsAppError(err); ok {
				continue
			}
			return resolved, err
		}
	}
	return resolved, nil
}
