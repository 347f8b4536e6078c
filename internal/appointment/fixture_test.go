package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// fixedNow is a Tuesday; mondayAt refers to the following Monday, six days later.
var fixedNow = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

func mondayAt(h, m int) time.Time {
	return time.Date(2030, 1, 7, h, m, 0, 0, time.UTC)
}

type fixture struct {
	store   *memStore
	svc     *Service
	clock   time.Time
	doctor  uuid.UUID
	patient uuid.UUID
	service uuid.UUID
}

// newFixture builds a doctor with Monday 09:00-17:00 availability offering a 60 minute service.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:   fixedNow,
		doctor:  uuid.New(),
		patient: uuid.New(),
		service: uuid.New(),
	}
	f.store = newMemStore(f.now)
	f.store.addWindow(f.doctor, Monday, "09:00", "17:00")
	f.store.addOffering(f.doctor, f.service, "Talk Therapy", 60)

	f.svc = NewService(f.store, nil, zap.NewNop())
	f.svc.now = f.now
	return f
}

func (f *fixture) now() time.Time { return f.clock }

func (f *fixture) book(start time.Time) (*Appointment, error) {
	return f.svc.Book(bg(), BookingRequest{
		DoctorID:  f.doctor,
		ServiceID: f.service,
		PatientID: f.patient,
		StartTime: start,
	})
}

func (f *fixture) patientActor() Actor { return Actor{UserID: f.patient, Role: RolePatient} }
func (f *fixture) doctorActor() Actor  { return Actor{UserID: f.doctor, Role: RoleDoctor} }

var adminActor = Actor{UserID: uuid.MustParse("00000000-0000-0000-0000-0000000000ad"), Role: RoleAdmin}
