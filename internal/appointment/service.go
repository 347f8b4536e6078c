package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/hackgods/therapy-booking/internal/redis"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
)

const completionBatchSize = 500

// Observer receives the outcome of every booking and cancellation attempt.
type Observer interface {
	ObserveBooking(outcome string)
	ObserveCancellation(outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveBooking(string)      {}
func (nopObserver) ObserveCancellation(string) {}

type Service struct {
	store    Store
	locker   redisclient.Locker
	log      *zap.Logger
	observer Observer
	now      func() time.Time
}

func NewService(store Store, locker redisclient.Locker, log *zap.Logger) *Service {
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:    store,
		locker:   locker,
		log:      log,
		observer: nopObserver{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithObserver sets the outcome observer and returns s.
func (s *Service) WithObserver(o Observer) *Service {
	if o != nil {
		s.observer = o
	}
	return s
}

type BookingRequest struct {
	DoctorID  uuid.UUID
	ServiceID uuid.UUID
	PatientID uuid.UUID
	StartTime time.Time
}

// CheckSlot runs the slot validator without booking anything.
func (s *Service) CheckSlot(ctx context.Context, doctorID, serviceID uuid.UUID, start time.Time) (time.Time, error) {
	return ValidateSlot(ctx, s.store, s.now(), doctorID, serviceID, start)
}

// Offering returns the doctor's price and duration for serviceID.
func (s *Service) Offering(ctx context.Context, doctorID, serviceID uuid.UUID) (*ServiceOffering, error) {
	return s.store.FindServiceOffering(ctx, doctorID, serviceID)
}

// Book validates the requested slot and inserts a scheduled appointment.
// Validation and insert run inside one transaction serialized per doctor, so two concurrent
// bookings of overlapping slots for the same doctor cannot both succeed.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	start := req.StartTime.UTC()

	var created *Appointment

	err := s.locker.WithDoctorLock(ctx, req.DoctorID, func(lockCtx context.Context) error {
		return s.store.InDoctorTx(lockCtx, req.DoctorID, func(tx Repository) error {
			end, err := ValidateSlot(lockCtx, tx, s.now(), req.DoctorID, req.ServiceID, start)
			if err != nil {
				return err
			}

			appt, err := tx.InsertAppointment(lockCtx, NewAppointment{
				DoctorID:  req.DoctorID,
				PatientID: req.PatientID,
				ServiceID: req.ServiceID,
				StartTime: start,
				EndTime:   end,
			}, MinAdvanceNotice)
			if err != nil {
				return err
			}

			if err := s.logEvent(lockCtx, tx, appt.ID, EventAppointmentBooked, map[string]any{
				"doctor_id":  appt.DoctorID.String(),
				"patient_id": appt.PatientID.String(),
				"service_id": appt.ServiceID.String(),
				"start_time": appt.StartTime,
				"end_time":   appt.EndTime,
			}); err != nil {
				return err
			}

			created = appt
			return nil
		})
	})

	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		err = ErrDoctorBusy
	}
	s.observer.ObserveBooking(Outcome(err))
	if err != nil {
		if _, ok := Reason(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("book appointment: %w", err)
	}

	s.log.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("doctor_id", created.DoctorID.String()),
		zap.Time("start_time", created.StartTime),
	)
	return created, nil
}

// Cancel moves an appointment to cancelled in a single guarded write. When the guard
// rejects the write, the appointment is re-read only to explain the failure.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string, actor Actor) (*Appointment, error) {
	appt, err := s.cancel(ctx, id, reason, actor)
	s.observer.ObserveCancellation(Outcome(err))
	return appt, err
}

func (s *Service) cancel(ctx context.Context, id uuid.UUID, reason string, actor Actor) (*Appointment, error) {
	guard, err := GuardFor(actor)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.ConditionalCancel(ctx, id, reason, actor.UserID, guard)
	if err == nil {
		if evErr := s.logEvent(ctx, s.store, updated.ID, EventAppointmentCancelled, map[string]any{
			"reason":     reason,
			"actor_id":   actor.UserID.String(),
			"actor_role": string(actor.Role),
		}); evErr != nil {
			s.log.Warn("failed to record cancellation event", zap.String("appointment_id", id.String()), zap.Error(evErr))
		}
		return updated, nil
	}
	if !errors.Is(err, errGuardNotMet) {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	current, err := s.store.FindAppointment(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load appointment after rejected cancel: %w", err)
	}
	return nil, explainCancelMiss(current, actor)
}

// ConfirmAppointment moves a scheduled appointment to confirmed.
func (s *Service) ConfirmAppointment(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	appt, err := s.store.FindAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Deleted {
		return nil, ErrAppointmentNotFound
	}

	switch actor.Role {
	case RoleAdmin:
	case RoleDoctor:
		if appt.DoctorID != actor.UserID {
			return nil, ErrNotYourAppointment
		}
	default:
		return nil, ErrNotYourAppointment
	}

	updated, err := s.store.UpdateAppointmentStatus(ctx, id, []AppointmentStatus{StatusScheduled}, StatusConfirmed)
	if err != nil {
		if errors.Is(err, errGuardNotMet) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	if err := s.logEvent(ctx, s.store, updated.ID, EventAppointmentConfirmed, map[string]any{
		"actor_id": actor.UserID.String(),
	}); err != nil {
		s.log.Warn("failed to record confirmation event", zap.String("appointment_id", id.String()), zap.Error(err))
	}

	return updated, nil
}

// GetAppointment returns the appointment if actor may see it.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	appt, err := s.store.FindAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Deleted {
		return nil, ErrAppointmentNotFound
	}

	switch actor.Role {
	case RoleAdmin:
	case RoleDoctor:
		if appt.DoctorID != actor.UserID {
			return nil, ErrNotYourAppointment
		}
	case RolePatient:
		if appt.PatientID != actor.UserID {
			return nil, ErrNotYourAppointment
		}
	default:
		return nil, ErrNotYourAppointment
	}

	return appt, nil
}

// ListAppointments lists appointments visible to actor. Patients and doctors only ever
// see their own, whatever the filter says. f must come from PageFilter or carry an
// equally bounded Limit and Offset.
func (s *Service) ListAppointments(ctx context.Context, actor Actor, f ListFilter) ([]Appointment, int, error) {
	if !f.validPage() {
		return nil, 0, ErrPageOutOfRange
	}

	id := actor.UserID
	switch actor.Role {
	case RoleAdmin:
	case RoleDoctor:
		f.DoctorID = &id
	case RolePatient:
		f.PatientID = &id
	default:
		return nil, 0, ErrNotYourAppointment
	}

	appts, total, err := s.store.ListAppointments(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	return appts, total, nil
}

// CompleteEndedAppointments is intended to be called by the worker periodically. It marks
// scheduled and confirmed appointments whose end time has passed as completed.
func (s *Service) CompleteEndedAppointments(ctx context.Context) (int, error) {
	ended, err := s.store.FindEndedActive(ctx, s.now(), completionBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find ended appointments: %w", err)
	}

	completed := 0
	for _, appt := range ended {
		_, err := s.store.UpdateAppointmentStatus(ctx, appt.ID, CancellableStatuses, StatusCompleted)
		if err != nil {
			if !errors.Is(err, errGuardNotMet) {
				s.log.Error("failed to complete appointment", zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			}
			continue
		}
		completed++
		if err := s.logEvent(ctx, s.store, appt.ID, EventAppointmentCompleted, map[string]any{
			"reason": "worker",
		}); err != nil {
			s.log.Warn("failed to record completion event", zap.String("appointment_id", appt.ID.String()), zap.Error(err))
		}
	}

	return completed, nil
}

func (s *Service) logEvent(ctx context.Context, repo Repository, appointmentID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := repo.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("insert event %s: %w", eventType, err)
	}
	return nil
}

// Outcome classifies err into a short label for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSchedulingConflict):
		return "conflict"
	case errors.Is(err, ErrScheduleViolation):
		return "schedule_violation"
	case errors.Is(err, ErrAdvanceNotice):
		return "advance_notice"
	case errors.Is(err, ErrAlreadyTerminal):
		return "already_terminal"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
