// Package calendar exposes provider availability to the reschedule protocol.
package calendar

import (
	"context"

	"github.com/google/uuid"

	"github.com/reservalo/booking-api/internal/repository"
)

// Availability answers whether a provider can take a slot. Accept-time
// decisions always re-check; a slot that was free at proposal time may have
// been taken since.
type Availability interface {
	IsSlotFree(ctx context.Context, providerID uuid.UUID, date, start, end string, excludeAppointment *uuid.UUID) (bool, error)
}

type repoAvailability struct {
	apts repository.AppointmentRepository
}

// NewRepoAvailability derives availability from the appointment store
// itself: a slot is free when no live appointment overlaps it.
func NewRepoAvailability(apts repository.AppointmentRepository) Availability {
	return &repoAvailability{apts: apts}
}

func (a *repoAvailability) IsSlotFree(ctx context.Context, providerID uuid.UUID, date, start, end string, excludeAppointment *uuid.UUID) (bool, error) {
	conflict, err := a.apts.HasConflict(ctx, providerID, date, start, end, excludeAppointment)
	if err != nil {
		return false, err
	}
	return !conflict, nil
}
