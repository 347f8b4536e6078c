package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type OverlapReader interface {
	FindOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) ([]Appointment, error)
}

// CheckOverlap fails with ErrSlotTaken when [start,end) intersects any blocking appointment
// of the doctor other than excludeID.
func CheckOverlap(ctx context.Context, r OverlapReader, doctorID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) error {
	existing, err := r.FindOverlapping(ctx, doctorID, start, end, excludeID)
	if err != nil {
		return fmt.Errorf("find overlapping appointments: %w", err)
	}

	for _, a := range existing {
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.Deleted || !blocks(a.Status) {
			continue
		}
		if Overlaps(start, end, a.StartTime, a.EndTime) {
			return ErrSlotTaken
		}
	}
	return nil
}

func blocks(s AppointmentStatus) bool {
	for _, b := range BlockingStatuses {
		if s == b {
			return true
		}
	}
	return false
}
