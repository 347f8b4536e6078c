package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store. InDoctorTx serializes callers the way the advisory lock
// does, and InsertAppointment enforces the same non-overlap rule as the exclusion constraint.
type memStore struct {
	txMu sync.Mutex

	mu           sync.Mutex
	now          func() time.Time
	availability []WeeklyAvailability
	offerings    map[[2]uuid.UUID]ServiceOffering
	appts        map[uuid.UUID]*Appointment
	events       []EventLog

	// insertHook runs before every insert; used to widen race windows in tests.
	insertHook func()
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		now:       now,
		offerings: make(map[[2]uuid.UUID]ServiceOffering),
		appts:     make(map[uuid.UUID]*Appointment),
	}
}

func (m *memStore) addWindow(doctorID uuid.UUID, day DayOfWeek, start, end string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.availability = append(m.availability, WeeklyAvailability{
		ID:       uuid.New(),
		DoctorID: doctorID,
		Day:      day,
		Start:    MustTimeOfDay(start),
		End:      MustTimeOfDay(end),
	})
}

func (m *memStore) addOffering(doctorID, serviceID uuid.UUID, name string, minutes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offerings[[2]uuid.UUID{doctorID, serviceID}] = ServiceOffering{
		DoctorID:        doctorID,
		ServiceID:       serviceID,
		ServiceName:     name,
		DurationMinutes: minutes,
		PriceCents:      9000,
		Currency:        "usd",
	}
}

// put stores a copy of a as-is, bypassing every rule.
func (m *memStore) put(a Appointment) *Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	cp := a
	m.appts[a.ID] = &cp
	return &cp
}

func (m *memStore) get(id uuid.UUID) Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.appts[id]
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, ev := range m.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (m *memStore) InDoctorTx(ctx context.Context, _ uuid.UUID, fn func(tx Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(m)
}

func (m *memStore) FindAvailability(_ context.Context, doctorID uuid.UUID, day DayOfWeek) ([]WeeklyAvailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []WeeklyAvailability
	for _, w := range m.availability {
		if w.DoctorID == doctorID && w.Day == day {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *memStore) FindServiceOffering(_ context.Context, doctorID, serviceID uuid.UUID) (*ServiceOffering, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offerings[[2]uuid.UUID{doctorID, serviceID}]
	if !ok {
		return nil, ErrServiceNotOffered
	}
	return &o, nil
}

func (m *memStore) overlapping(doctorID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) []Appointment {
	var out []Appointment
	for _, a := range m.appts {
		if a.DoctorID != doctorID || a.Deleted || !blocks(a.Status) {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if Overlaps(start, end, a.StartTime, a.EndTime) {
			out = append(out, *a)
		}
	}
	return out
}

func (m *memStore) FindOverlapping(_ context.Context, doctorID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overlapping(doctorID, start, end, excludeID), nil
}

func (m *memStore) FindAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) InsertAppointment(_ context.Context, in NewAppointment, minLead time.Duration) (*Appointment, error) {
	if m.insertHook != nil {
		m.insertHook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if in.StartTime.Before(m.now().Add(minLead)) {
		return nil, ErrBookingTooLate
	}
	if len(m.overlapping(in.DoctorID, in.StartTime, in.EndTime, nil)) > 0 {
		return nil, ErrSlotTaken
	}

	now := m.now()
	a := &Appointment{
		ID:        uuid.New(),
		DoctorID:  in.DoctorID,
		PatientID: in.PatientID,
		ServiceID: in.ServiceID,
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
		Status:    StatusScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.appts[a.ID] = a
	cp := *a
	return &cp, nil
}

func statusIn(s AppointmentStatus, set []AppointmentStatus) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}

func (m *memStore) ConditionalCancel(_ context.Context, id uuid.UUID, reason string, cancelledBy uuid.UUID, g CancelGuard) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appts[id]
	if !ok || a.Deleted || !statusIn(a.Status, g.Statuses) {
		return nil, errGuardNotMet
	}
	if g.PatientID != nil && a.PatientID != *g.PatientID {
		return nil, errGuardNotMet
	}
	if g.DoctorID != nil && a.DoctorID != *g.DoctorID {
		return nil, errGuardNotMet
	}
	if g.MinLead > 0 && a.StartTime.Before(m.now().Add(g.MinLead)) {
		return nil, errGuardNotMet
	}

	a.Status = StatusCancelled
	a.CancellationReason = &reason
	a.CancelledBy = &cancelledBy
	a.UpdatedAt = m.now()
	cp := *a
	return &cp, nil
}

func (m *memStore) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appts[id]
	if !ok || a.Deleted || !statusIn(a.Status, from) {
		return nil, errGuardNotMet
	}
	a.Status = to
	a.UpdatedAt = m.now()
	cp := *a
	return &cp, nil
}

func (m *memStore) ListAppointments(_ context.Context, f ListFilter) ([]Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []Appointment
	for _, a := range m.appts {
		if a.Deleted {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		all = append(all, *a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartTime.After(all[j].StartTime) })

	total := len(all)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return all[f.Offset:end], total, nil
}

func (m *memStore) FindEndedActive(_ context.Context, now time.Time, limit int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Appointment
	for _, a := range m.appts {
		if a.Deleted || !statusIn(a.Status, CancellableStatuses) {
			continue
		}
		if !a.EndTime.After(now) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}
