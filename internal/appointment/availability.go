package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AvailabilityReader interface {
	FindAvailability(ctx context.Context, doctorID uuid.UUID, day DayOfWeek) ([]WeeklyAvailability, error)
}

// CheckAvailability verifies that start falls inside one of the doctor's weekly windows
// for the UTC day of start. Any covering window is enough.
func CheckAvailability(ctx context.Context, r AvailabilityReader, doctorID uuid.UUID, start time.Time) error {
	day := DayOf(start)

	windows, err := r.FindAvailability(ctx, doctorID, day)
	if err != nil {
		return fmt.Errorf("load availability: %w", err)
	}
	if len(windows) == 0 {
		return newRuleError(ErrScheduleViolation, fmt.Sprintf("doctor not available on %s", day))
	}

	tod := ClockOf(start)
	for _, w := range windows {
		if w.Covers(tod) {
			return nil
		}
	}

	hours := make([]string, 0, len(windows))
	for _, w := range windows {
		hours = append(hours, w.Start.String()+"-"+w.End.String())
	}
	return newRuleError(ErrScheduleViolation,
		"doctor not available at this time; available hours: "+strings.Join(hours, ", "))
}
