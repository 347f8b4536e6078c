package appointment

import (
	"errors"
)

// Error kinds. Business-rule failures wrap one of these in a *RuleError so callers can
// match with errors.Is and still render the specific reason.
var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrScheduleViolation  = errors.New("schedule violation")
	ErrSchedulingConflict = errors.New("scheduling conflict")
	ErrAlreadyTerminal    = errors.New("appointment is in a terminal state")
	ErrAdvanceNotice      = errors.New("advance notice violation")
	ErrForbidden          = errors.New("forbidden")
)

var (
	ErrAppointmentNotFound = &RuleError{Kind: ErrNotFound, Reason: "appointment not found"}
	ErrServiceNotOffered   = &RuleError{Kind: ErrNotFound, Reason: "doctor does not offer this service"}
	ErrSlotTaken           = &RuleError{Kind: ErrSchedulingConflict, Reason: "the requested time overlaps an existing appointment"}
	ErrDoctorBusy          = &RuleError{Kind: ErrSchedulingConflict, Reason: "another booking for this doctor is in progress, please retry"}
	ErrBookingTooLate      = &RuleError{Kind: ErrScheduleViolation, Reason: "appointments must be booked at least 24 hours in advance"}
	ErrCancelTooLate       = &RuleError{Kind: ErrAdvanceNotice, Reason: "Appointments can only be cancelled at least 24 hours in advance"}
	ErrAlreadyCancelled    = &RuleError{Kind: ErrAlreadyTerminal, Reason: "appointment is already cancelled"}
	ErrCompletedNoCancel   = &RuleError{Kind: ErrAlreadyTerminal, Reason: "cannot cancel a completed appointment"}
	ErrNotYourAppointment  = &RuleError{Kind: ErrForbidden, Reason: "you are not allowed to act on this appointment"}
	ErrInvalidTransition   = &RuleError{Kind: ErrAlreadyTerminal, Reason: "appointment status no longer allows this transition"}
	ErrPageOutOfRange      = &RuleError{Kind: ErrValidation, Reason: "page or limit is out of range"}
)

// errGuardNotMet is returned by conditional writes that matched no row.
var errGuardNotMet = errors.New("conditional write matched no rows")

// RuleError is an expected business-rule failure carrying a human-readable reason.
type RuleError struct {
	Kind   error
	Reason string
}

func (e *RuleError) Error() string { return e.Reason }

func (e *RuleError) Unwrap() error { return e.Kind }

func newRuleError(kind error, reason string) *RuleError {
	return &RuleError{Kind: kind, Reason: reason}
}

// Reason returns the user-facing message for err when it is a business-rule failure.
func Reason(err error) (string, bool) {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}
