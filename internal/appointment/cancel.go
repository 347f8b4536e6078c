package appointment

// GuardFor builds the write-time condition under which actor may cancel an appointment.
//
//	admin:   any non-terminal appointment
//	doctor:  own non-terminal appointments
//	patient: own non-terminal appointments starting at least MinAdvanceNotice from now
func GuardFor(actor Actor) (CancelGuard, error) {
	g := CancelGuard{Statuses: CancellableStatuses}

	switch actor.Role {
	case RoleAdmin:
	case RoleDoctor:
		id := actor.UserID
		g.DoctorID = &id
	case RolePatient:
		id := actor.UserID
		g.PatientID = &id
		g.MinLead = MinAdvanceNotice
	default:
		return CancelGuard{}, ErrNotYourAppointment
	}

	return g, nil
}

// explainCancelMiss tells why a guarded cancel matched no row, given the appointment as
// re-read after the write. a is nil when the appointment does not exist.
func explainCancelMiss(a *Appointment, actor Actor) error {
	if a == nil || a.Deleted {
		return ErrAppointmentNotFound
	}

	switch actor.Role {
	case RolePatient:
		if a.PatientID != actor.UserID {
			return ErrNotYourAppointment
		}
	case RoleDoctor:
		if a.DoctorID != actor.UserID {
			return ErrNotYourAppointment
		}
	}

	switch a.Status {
	case StatusCancelled:
		return ErrAlreadyCancelled
	case StatusCompleted:
		return ErrCompletedNoCancel
	}

	if actor.Role == RolePatient {
		return ErrCancelTooLate
	}

	// Status was cancellable on re-read, so it changed under us between the two statements.
	return ErrInvalidTransition
}
