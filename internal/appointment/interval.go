package appointment

import "time"

// Overlaps reports whether the half-open intervals [aStart,aEnd) and [bStart,bEnd) share an instant.
// Back-to-back intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
