package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the scheduling core.
type Repository interface {
	// Read-only scheduling inputs
	FindAvailability(ctx context.Context, doctorID uuid.UUID, day DayOfWeek) ([]WeeklyAvailability, error)
	FindServiceOffering(ctx context.Context, doctorID, serviceID uuid.UUID) (*ServiceOffering, error)

	// For conflict checks: non-deleted appointments in BlockingStatuses intersecting [start,end)
	FindOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) ([]Appointment, error)
	FindAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// InsertAppointment stores a scheduled appointment only if its start is at least
	// minLead after the store's clock; otherwise it returns ErrBookingTooLate.
	InsertAppointment(ctx context.Context, in NewAppointment, minLead time.Duration) (*Appointment, error)

	// ConditionalCancel applies the cancel in one write guarded by guard. It returns
	// errGuardNotMet when no row satisfied the guard.
	ConditionalCancel(ctx context.Context, id uuid.UUID, reason string, cancelledBy uuid.UUID, guard CancelGuard) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error)

	ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, int, error)
	FindEndedActive(ctx context.Context, now time.Time, limit int) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Store is a Repository that can also run work serialized per doctor.
type Store interface {
	Repository

	// InDoctorTx runs fn in a transaction that no other InDoctorTx call for the same
	// doctor can interleave with. fn's Repository is bound to that transaction.
	InDoctorTx(ctx context.Context, doctorID uuid.UUID, fn func(tx Repository) error) error
}
