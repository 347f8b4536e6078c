package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardFor(t *testing.T) {
	id := uuid.New()

	g, err := GuardFor(Actor{UserID: id, Role: RoleAdmin})
	require.NoError(t, err)
	assert.Nil(t, g.PatientID)
	assert.Nil(t, g.DoctorID)
	assert.Zero(t, g.MinLead)
	assert.ElementsMatch(t, CancellableStatuses, g.Statuses)

	g, err = GuardFor(Actor{UserID: id, Role: RoleDoctor})
	require.NoError(t, err)
	require.NotNil(t, g.DoctorID)
	assert.Equal(t, id, *g.DoctorID)
	assert.Zero(t, g.MinLead)

	g, err = GuardFor(Actor{UserID: id, Role: RolePatient})
	require.NoError(t, err)
	require.NotNil(t, g.PatientID)
	assert.Equal(t, id, *g.PatientID)
	assert.Equal(t, MinAdvanceNotice, g.MinLead)

	_, err = GuardFor(Actor{UserID: id, Role: "receptionist"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestExplainCancelMiss(t *testing.T) {
	patient, doctor := uuid.New(), uuid.New()
	appt := func(s AppointmentStatus) *Appointment {
		return &Appointment{ID: uuid.New(), PatientID: patient, DoctorID: doctor, Status: s}
	}
	asPatient := Actor{UserID: patient, Role: RolePatient}
	asDoctor := Actor{UserID: doctor, Role: RoleDoctor}
	stranger := Actor{UserID: uuid.New(), Role: RolePatient}

	assert.ErrorIs(t, explainCancelMiss(nil, asPatient), ErrAppointmentNotFound)
	assert.ErrorIs(t, explainCancelMiss(&Appointment{Deleted: true, PatientID: patient}, asPatient), ErrNotFound)

	// ownership wins over terminal status
	assert.ErrorIs(t, explainCancelMiss(appt(StatusCancelled), stranger), ErrNotYourAppointment)
	assert.ErrorIs(t, explainCancelMiss(appt(StatusScheduled), Actor{UserID: uuid.New(), Role: RoleDoctor}), ErrForbidden)

	assert.ErrorIs(t, explainCancelMiss(appt(StatusCancelled), asPatient), ErrAlreadyCancelled)
	assert.ErrorIs(t, explainCancelMiss(appt(StatusCompleted), asDoctor), ErrCompletedNoCancel)
	assert.ErrorIs(t, explainCancelMiss(appt(StatusCompleted), adminActor), ErrAlreadyTerminal)

	assert.ErrorIs(t, explainCancelMiss(appt(StatusScheduled), asPatient), ErrCancelTooLate)
	assert.ErrorIs(t, explainCancelMiss(appt(StatusConfirmed), asDoctor), ErrInvalidTransition)
}

func TestCancelLeadTime(t *testing.T) {
	f := newFixture(t)
	start := mondayAt(10, 0)

	tests := []struct {
		name    string
		lead    time.Duration
		wantErr error
	}{
		{"23h59m before start", 23*time.Hour + 59*time.Minute, ErrCancelTooLate},
		{"one hour before start", time.Hour, ErrCancelTooLate},
		{"after start", -time.Hour, ErrCancelTooLate},
		{"exactly 24h before start", 24 * time.Hour, nil},
		{"two days before start", 48 * time.Hour, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := f.store.put(Appointment{DoctorID: f.doctor, PatientID: f.patient, StartTime: start, EndTime: start.Add(time.Hour)})
			f.clock = start.Add(-tc.lead)

			got, err := f.svc.Cancel(bg(), a.ID, "schedule clash", f.patientActor())
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.ErrorIs(t, err, ErrAdvanceNotice)
				assert.Equal(t, StatusScheduled, f.store.get(a.ID).Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusCancelled, got.Status)
		})
	}
}

func TestCancelLeadTimeDoesNotBindDoctorOrAdmin(t *testing.T) {
	f := newFixture(t)
	start := mondayAt(10, 0)
	f.clock = start.Add(-time.Hour)

	a := f.store.put(Appointment{DoctorID: f.doctor, PatientID: f.patient, StartTime: start, EndTime: start.Add(time.Hour)})
	got, err := f.svc.Cancel(bg(), a.ID, "doctor unwell", f.doctorActor())
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.CancelledBy)
	assert.Equal(t, f.doctor, *got.CancelledBy)

	b := f.store.put(Appointment{DoctorID: f.doctor, PatientID: f.patient, StartTime: start.Add(2 * time.Hour), EndTime: start.Add(3 * time.Hour)})
	_, err = f.svc.Cancel(bg(), b.ID, "clinic closed", adminActor)
	assert.NoError(t, err)
}

func TestCancelTerminalStates(t *testing.T) {
	f := newFixture(t)

	cancelled := f.store.put(Appointment{DoctorID: f.doctor, PatientID: f.patient, StartTime: mondayAt(10, 0), EndTime: mondayAt(11, 0), Status: StatusCancelled})
	completed := f.store.put(Appointment{DoctorID: f.doctor, PatientID: f.patient, StartTime: mondayAt(12, 0), EndTime: mondayAt(13, 0), Status: StatusCompleted})

	for _, actor := range []Actor{f.patientActor(), f.doctorActor(), adminActor} {
		_, err := f.svc.Cancel(bg(), cancelled.ID, "again", actor)
		assert.ErrorIs(t, err, ErrAlreadyCancelled, string(actor.Role))

		_, err = f.svc.Cancel(bg(), completed.ID, "too late", actor)
		assert.ErrorIs(t, err, ErrCompletedNoCancel, string(actor.Role))
	}

	assert.Equal(t, StatusCompleted, f.store.get(completed.ID).Status)
	assert.Nil(t, f.store.get(completed.ID).CancellationReason)
}

func TestCancelUnknownAndForeign(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Cancel(bg(), uuid.New(), "whatever", adminActor)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	a := f.store.put(Appointment{DoctorID: f.doctor, PatientID: f.patient, StartTime: mondayAt(10, 0), EndTime: mondayAt(11, 0)})
	_, err = f.svc.Cancel(bg(), a.ID, "not mine", Actor{UserID: uuid.New(), Role: RolePatient})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, StatusScheduled, f.store.get(a.ID).Status)
}
