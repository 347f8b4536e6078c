package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MinAdvanceNotice is the minimum lead time for booking and for patient cancellation.
const MinAdvanceNotice = 24 * time.Hour

// SlotReader is the subset of Repository the slot validator reads from.
type SlotReader interface {
	AvailabilityReader
	OverlapReader
	FindServiceOffering(ctx context.Context, doctorID, serviceID uuid.UUID) (*ServiceOffering, error)
}

// ValidateSlot decides whether a booking of serviceID with doctorID starting at start is legal
// at now. It returns the computed end time. Checks run in order and stop at the first failure:
// advance notice, service offering, weekly availability, overlap.
func ValidateSlot(ctx context.Context, r SlotReader, now time.Time, doctorID, serviceID uuid.UUID, start time.Time) (time.Time, error) {
	start = start.UTC()

	if start.Sub(now) < MinAdvanceNotice {
		return time.Time{}, ErrBookingTooLate
	}

	offering, err := r.FindServiceOffering(ctx, doctorID, serviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return time.Time{}, err
		}
		return time.Time{}, fmt.Errorf("load service offering: %w", err)
	}
	if offering.DurationMinutes <= 0 {
		return time.Time{}, fmt.Errorf("service offering %s/%s has non-positive duration %d",
			doctorID, serviceID, offering.DurationMinutes)
	}
	end := start.Add(offering.Duration())

	if err := CheckAvailability(ctx, r, doctorID, start); err != nil {
		return time.Time{}, err
	}

	if err := CheckOverlap(ctx, r, doctorID, start, end, nil); err != nil {
		return time.Time{}, err
	}

	return end, nil
}
