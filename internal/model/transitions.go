package model

// legalTransitions is the single source of truth for appointment status
// edges. Expiry of a confirmed appointment is allowed: a confirmed booking
// whose start time passes without any payment progression decays the same
// way a scheduled one does.
var legalTransitions = map[AppointmentStatus]map[AppointmentStatus]bool{
	AppointmentStatusScheduled: {
		AppointmentStatusConfirmed:         true,
		AppointmentStatusCancelled:         true,
		AppointmentStatusPendingReschedule: true,
		AppointmentStatusExpired:           true,
	},
	AppointmentStatusConfirmed: {
		AppointmentStatusCompleted:         true,
		AppointmentStatusCancelled:         true,
		AppointmentStatusPendingReschedule: true,
		AppointmentStatusExpired:           true,
	},
	AppointmentStatusPendingReschedule: {
		AppointmentStatusConfirmed: true,
		AppointmentStatusCancelled: true,
		// Rejecting a proposal reverts to the remembered previous status;
		// CanRevert covers that edge.
	},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to AppointmentStatus) bool {
	return legalTransitions[from][to]
}

// CanRevert reports whether an appointment in pending_reschedule may revert
// to prev after a rejected proposal.
func CanRevert(current, prev AppointmentStatus) bool {
	if current != AppointmentStatusPendingReschedule {
		return false
	}
	return prev == AppointmentStatusScheduled || prev == AppointmentStatusConfirmed
}
