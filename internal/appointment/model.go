package appointment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// BlockingStatuses are the statuses that occupy a doctor's time.
var BlockingStatuses = []AppointmentStatus{StatusScheduled, StatusConfirmed, StatusCompleted}

// CancellableStatuses are the statuses a cancel may start from.
var CancellableStatuses = []AppointmentStatus{StatusScheduled, StatusConfirmed}

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Actor is the authenticated principal on whose behalf an operation runs.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

type DayOfWeek string

const (
	Monday    DayOfWeek = "monday"
	Tuesday   DayOfWeek = "tuesday"
	Wednesday DayOfWeek = "wednesday"
	Thursday  DayOfWeek = "thursday"
	Friday    DayOfWeek = "friday"
	Saturday  DayOfWeek = "saturday"
	Sunday    DayOfWeek = "sunday"
)

var weekdays = [...]DayOfWeek{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

// DayOf returns the UTC day of week of t.
func DayOf(t time.Time) DayOfWeek {
	return weekdays[t.UTC().Weekday()]
}

func (d DayOfWeek) Valid() bool {
	for _, w := range weekdays {
		if w == d {
			return true
		}
	}
	return false
}

// TimeOfDay is a wall-clock time without a date, stored as seconds since midnight.
type TimeOfDay int

const secondsPerDay = 24 * 60 * 60

// ClockOf returns the UTC time-of-day component of t.
func ClockOf(t time.Time) TimeOfDay {
	h, m, s := t.UTC().Clock()
	return TimeOfDay(h*3600 + m*60 + s)
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(v string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", v)
	}

	limits := []int{23, 59, 59}
	var total int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] || len(p) != 2 {
			return 0, fmt.Errorf("invalid time of day %q", v)
		}
		total = total*60 + n
	}
	if len(parts) == 2 {
		total *= 60
	}

	return TimeOfDay(total), nil
}

func MustTimeOfDay(v string) TimeOfDay {
	t, err := ParseTimeOfDay(v)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	s := int(t)
	if s%60 != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
	}
	return fmt.Sprintf("%02d:%02d", s/3600, s/60%60)
}

// Duration converts t to an offset from midnight.
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t) * time.Second
}

// TimeOfDayFromDuration is the inverse of Duration; used when scanning postgres time columns.
func TimeOfDayFromDuration(d time.Duration) TimeOfDay {
	return TimeOfDay(int(d/time.Second) % secondsPerDay)
}

type WeeklyAvailability struct {
	ID       uuid.UUID
	DoctorID uuid.UUID
	Day      DayOfWeek
	Start    TimeOfDay
	End      TimeOfDay
}

// Covers reports whether tod lies within [Start, End).
func (w WeeklyAvailability) Covers(tod TimeOfDay) bool {
	return tod >= w.Start && tod < w.End
}

type ServiceOffering struct {
	DoctorID        uuid.UUID
	ServiceID       uuid.UUID
	ServiceName     string
	DurationMinutes int
	PriceCents      int64
	Currency        string
}

func (o ServiceOffering) Duration() time.Duration {
	return time.Duration(o.DurationMinutes) * time.Minute
}

type Appointment struct {
	ID                 uuid.UUID
	DoctorID           uuid.UUID
	PatientID          uuid.UUID
	ServiceID          uuid.UUID
	StartTime          time.Time
	EndTime            time.Time
	Status             AppointmentStatus
	CancellationReason *string
	CancelledBy        *uuid.UUID
	Deleted            bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewAppointment carries the fields needed to insert a booking.
type NewAppointment struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	ServiceID uuid.UUID
	StartTime time.Time
	EndTime   time.Time
}

// CancelGuard is the declarative condition a cancel must satisfy at write time.
// Nil owner fields are not checked; a zero MinLead disables the lead-time check.
type CancelGuard struct {
	Statuses  []AppointmentStatus
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	MinLead   time.Duration
}

type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    *AppointmentStatus
	Limit     int
	Offset    int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100

	maxListOffset = 1_000_000
)

// PageFilter positions a ListFilter at the 1-based page. A non-positive limit means
// DefaultPageLimit and anything above MaxPageLimit is cut down to it.
func PageFilter(page, limit int) (ListFilter, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if page < 1 || page-1 > maxListOffset/limit {
		return ListFilter{}, ErrPageOutOfRange
	}
	return ListFilter{Limit: limit, Offset: (page - 1) * limit}, nil
}

func (f ListFilter) validPage() bool {
	return f.Limit >= 1 && f.Limit <= MaxPageLimit && f.Offset >= 0 && f.Offset <= maxListOffset
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
