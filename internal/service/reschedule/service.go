// Package reschedule runs the two-party slot renegotiation. One proposal is
// live at a time; the counterparty accepts or rejects, and rejection restores
// the appointment exactly as it was.
package reschedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reservalo/booking-api/internal/gateway/calendar"
	"github.com/reservalo/booking-api/internal/model"
	"github.com/reservalo/booking-api/internal/repository"
	"github.com/reservalo/booking-api/internal/service/event"
	"github.com/reservalo/booking-api/pkg/clock"
	apperrors "github.com/reservalo/booking-api/pkg/errors"
	"github.com/reservalo/booking-api/pkg/keylock"
	"github.com/reservalo/booking-api/pkg/logger"
	"github.com/reservalo/booking-api/pkg/validator"
)

type Service struct {
	repo     repository.AppointmentRepository
	calendar calendar.Availability
	locks    *keylock.KeyLock
	clk      clock.Clock
	loc      *time.Location
	logger   *logger.Logger
}

func NewService(repo repository.AppointmentRepository, cal calendar.Availability, locks *keylock.KeyLock, clk clock.Clock, loc *time.Location, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		calendar: cal,
		locks:    locks,
		clk:      clk,
		loc:      loc,
		logger:   log,
	}
}

// Proposal is a request to move an appointment to a new slot.
type Proposal struct {
	RequestedBy model.Actor `json:"requested_by" binding:"required"`
	TargetDate  string      `json:"target_date" binding:"required" validate:"wallclock_date"`
	TargetStart string      `json:"target_start" binding:"required" validate:"wallclock_time"`
	TargetEnd   string      `json:"target_end" binding:"required" validate:"wallclock_time"`
	Reason      string      `json:"reason,omitempty"`
}

func (p *Proposal) validate() error {
	if !p.RequestedBy.Valid() || p.RequestedBy == model.ActorSystem {
		return apperrors.NewValidation("requested_by must be client or provider")
	}
	if err := validator.Struct(p); err != nil {
		return apperrors.NewValidation(err.Error())
	}
	start, _ := time.Parse(model.TimeLayout, p.TargetStart)
	end, _ := time.Parse(model.TimeLayout, p.TargetEnd)
	if !end.After(start) {
		return apperrors.NewValidation("target_end must be after target_start")
	}
	return nil
}

// Request opens a reschedule negotiation. Only scheduled and confirmed
// appointments can enter one; the pre-negotiation status is kept so a
// rejection can restore it.
func (s *Service) Request(ctx context.Context, id uuid.UUID, p *Proposal) (*model.Appointment, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	var apt *model.Appointment
	err := s.locks.Do(id.String(), func() error {
		var err error
		apt, err = s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !model.CanTransition(apt.Status, model.AppointmentStatusPendingReschedule) {
			return apperrors.NewInvalidTransition(string(apt.Status), string(model.AppointmentStatusPendingReschedule))
		}

		apt.Reschedule.PreviousStatus = apt.Status
		apt.Reschedule.RequestedBy = p.RequestedBy
		apt.Reschedule.TargetDate = p.TargetDate
		apt.Reschedule.TargetStart = p.TargetStart
		apt.Reschedule.TargetEnd = p.TargetEnd
		apt.Reschedule.Reason = p.Reason
		apt.Reschedule.DeclineReason = ""
		switch p.RequestedBy {
		case model.ActorClient:
			apt.Reschedule.ClientCount++
		case model.ActorProvider:
			apt.Reschedule.ProviderCount++
		}
		apt.Status = model.AppointmentStatusPendingReschedule

		now := s.clk.Now()
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

	s.logger.Info("reschedule requested",
		"appointment_id", id.String(),
		"requested_by", string(p.RequestedBy),
		"target_date", p.TargetDate)
	return apt, nil
}

// Respond settles the live proposal. Acceptance re-checks availability at
// decision time and moves the appointment to the new slot as confirmed.
// Rejection restores the pre-negotiation status and clears the proposal; only
// the decline reason and the counters survive.
func (s *Service) Respond(ctx context.Context, id uuid.UUID, accept bool, declineReason string) (*model.Appointment, error) {
	var apt *model.Appointment
	err := s.locks.Do(id.String(), func() error {
		var err error
		apt, err = s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if apt.Status != model.AppointmentStatusPendingReschedule {
			return apperrors.NewValidation("appointment has no pending reschedule proposal")
		}

		now := s.clk.Now()
		if accept {
			free, err := s.calendar.IsSlotFree(ctx, apt.ProviderID,
				apt.Reschedule.TargetDate, apt.Reschedule.TargetStart, apt.Reschedule.TargetEnd, &apt.ID)
			if err != nil {
				return fmt.Errorf("failed to check availability: %w", err)
			}
			if !free {
				// Proposal stays live; the counterparty can reject it or the
				// requester can cancel outright.
				return apperrors.NewSlotTaken()
			}
			apt.Date = apt.Reschedule.TargetDate
			apt.StartTime = apt.Reschedule.TargetStart
			apt.EndTime = apt.Reschedule.TargetEnd
			apt.Status = model.AppointmentStatusConfirmed
			apt.Reschedule.Clear()
		} else {
			prev := apt.Reschedule.PreviousStatus
			if !model.CanRevert(apt.Status, prev) {
				return apperrors.NewInvalidTransition(string(apt.Status), string(prev))
			}
			apt.Status = prev
			apt.Reschedule.Clear()
			apt.Reschedule.DeclineReason = declineReason
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

	outcome := "rejected"
	if accept {
		outcome = "accepted"
	}
	s.logger.Info("reschedule "+outcome, "appointment_id", id.String())
	return apt, nil
}
