package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	legal := []struct {
		from, to AppointmentStatus
	}{
		{AppointmentStatusScheduled, AppointmentStatusConfirmed},
		{AppointmentStatusScheduled, AppointmentStatusCancelled},
		{AppointmentStatusScheduled, AppointmentStatusPendingReschedule},
		{AppointmentStatusScheduled, AppointmentStatusExpired},
		{AppointmentStatusConfirmed, AppointmentStatusCompleted},
		{AppointmentStatusConfirmed, AppointmentStatusCancelled},
		{AppointmentStatusConfirmed, AppointmentStatusPendingReschedule},
		{AppointmentStatusConfirmed, AppointmentStatusExpired},
		{AppointmentStatusPendingReschedule, AppointmentStatusConfirmed},
		{AppointmentStatusPendingReschedule, AppointmentStatusCancelled},
	}
	isLegal := func(from, to AppointmentStatus) bool {
		for _, e := range legal {
			if e.from == from && e.to == to {
				return true
			}
		}
		return false
	}

	all := []AppointmentStatus{
		AppointmentStatusScheduled,
		AppointmentStatusConfirmed,
		AppointmentStatusCompleted,
		AppointmentStatusCancelled,
		AppointmentStatusExpired,
		AppointmentStatusPendingReschedule,
	}
	// every (from, to) pair outside the legal set must be rejected
	for _, from := range all {
		for _, to := range all {
			got := CanTransition(from, to)
			assert.Equalf(t, isLegal(from, to), got, "transition %s -> %s", from, to)
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	all := []AppointmentStatus{
		AppointmentStatusScheduled,
		AppointmentStatusConfirmed,
		AppointmentStatusCompleted,
		AppointmentStatusCancelled,
		AppointmentStatusExpired,
		AppointmentStatusPendingReschedule,
	}
	for _, from := range []AppointmentStatus{
		AppointmentStatusCompleted,
		AppointmentStatusCancelled,
		AppointmentStatusExpired,
	} {
		assert.True(t, from.Terminal())
		for _, to := range all {
			assert.Falsef(t, CanTransition(from, to), "terminal %s must not exit to %s", from, to)
		}
	}
}

func TestCanRevert(t *testing.T) {
	assert.True(t, CanRevert(AppointmentStatusPendingReschedule, AppointmentStatusScheduled))
	assert.True(t, CanRevert(AppointmentStatusPendingReschedule, AppointmentStatusConfirmed))
	assert.False(t, CanRevert(AppointmentStatusPendingReschedule, AppointmentStatusCompleted))
	assert.False(t, CanRevert(AppointmentStatusScheduled, AppointmentStatusScheduled))
}

func TestVerificationExhausted(t *testing.T) {
	code := "0417"
	v := Verification{Code: &code, AttemptsLeft: 1}
	assert.False(t, v.Exhausted())
	v.AttemptsLeft = 0
	assert.True(t, v.Exhausted())

	// no code issued yet means nothing to exhaust
	assert.False(t, (&Verification{}).Exhausted())
}
