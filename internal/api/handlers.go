package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/therapy-booking/internal/appointment"
	"github.com/hackgods/therapy-booking/internal/notify"
	"github.com/hackgods/therapy-booking/internal/payment"
)

const (
	maxReasonLength = 500

	sideEffectTimeout = 5 * time.Second
)

type AppointmentService interface {
	Book(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
	CheckSlot(ctx context.Context, doctorID, serviceID uuid.UUID, start time.Time) (time.Time, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string, actor appointment.Actor) (*appointment.Appointment, error)
	ConfirmAppointment(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, actor appointment.Actor, f appointment.ListFilter) ([]appointment.Appointment, int, error)
	Offering(ctx context.Context, doctorID, serviceID uuid.UUID) (*appointment.ServiceOffering, error)
}

type Handler struct {
	svc      AppointmentService
	payments payment.Gateway
	notifier notify.Notifier
	log      *zap.Logger
}

func NewHandler(svc AppointmentService, payments payment.Gateway, notifier notify.Notifier, log *zap.Logger) *Handler {
	if payments == nil {
		payments = payment.Disabled{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, payments: payments, notifier: notifier, log: log}
}

func (h *Handler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())

	var req BookAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
		return
	}
	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
		return
	}
	if req.StartTime.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time is required")
		return
	}

	var patientID uuid.UUID
	switch actor.Role {
	case appointment.RolePatient:
		patientID = actor.UserID
		if req.PatientID != "" && req.PatientID != actor.UserID.String() {
			writeError(w, http.StatusForbidden, "forbidden", "patients can only book for themselves")
			return
		}
	case appointment.RoleAdmin:
		patientID, err = uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
	default:
		writeError(w, http.StatusForbidden, "forbidden", "only patients and admins can book appointments")
		return
	}

	appt, err := h.svc.Book(r.Context(), appointment.BookingRequest{
		DoctorID:  doctorID,
		ServiceID: serviceID,
		PatientID: patientID,
		StartTime: req.StartTime,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := BookingResponse{Appointment: toResponse(appt)}
	resp.Checkout = h.afterBooking(r.Context(), appt)

	writeJSON(w, http.StatusCreated, resp)
}

// afterBooking opens a checkout session and queues the confirmation email. Neither can
// undo a booking that already committed, so failures are only logged.
func (h *Handler) afterBooking(reqCtx context.Context, appt *appointment.Appointment) *payment.Checkout {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(reqCtx), sideEffectTimeout)
	defer cancel()

	log := h.log.With(zap.String("appointment_id", appt.ID.String()))

	var checkout *payment.Checkout
	offering, err := h.svc.Offering(ctx, appt.DoctorID, appt.ServiceID)
	if err != nil {
		log.Warn("load offering for checkout failed", zap.Error(err))
	} else {
		checkout, err = h.payments.CreateCheckout(ctx, appt, offering)
		if err != nil && !errors.Is(err, payment.ErrNotConfigured) {
			log.Error("checkout session failed", zap.Error(err))
		}
	}

	checkoutURL := ""
	if checkout != nil {
		checkoutURL = checkout.URL
	}
	if err := h.notifier.AppointmentBooked(ctx, appt, checkoutURL); err != nil {
		log.Error("queue booking email failed", zap.Error(err))
	}
	return checkout
}

func (h *Handler) ValidateSlot(w http.ResponseWriter, r *http.Request) {
	var req ValidateSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
		return
	}
	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
		return
	}
	if req.StartTime.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time is required")
		return
	}

	end, err := h.svc.CheckSlot(r.Context(), doctorID, serviceID, req.StartTime)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SlotResponse{
		Available: true,
		StartTime: req.StartTime.UTC(),
		EndTime:   end,
	})
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	q := r.URL.Query()

	page, err := intParam(q.Get("page"), 1)
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "invalid_page", "page must be a positive integer")
		return
	}
	limit, err := intParam(q.Get("limit"), appointment.DefaultPageLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
		return
	}

	f, err := appointment.PageFilter(page, limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_page", "page is out of range")
		return
	}

	if s := q.Get("status"); s != "" {
		status := appointment.AppointmentStatus(s)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_status", "status must be one of scheduled, confirmed, completed, cancelled")
			return
		}
		f.Status = &status
	}
	if s := q.Get("doctor_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		f.DoctorID = &id
	}
	if s := q.Get("patient_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		f.PatientID = &id
	}

	appts, total, err := h.svc.ListAppointments(r.Context(), actor, f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	data := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		data = append(data, toResponse(&appts[i]))
	}

	writePage(w, data, Pagination{
		Page:       page,
		Limit:      f.Limit,
		Total:      total,
		TotalPages: (total + f.Limit - 1) / f.Limit,
	})
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id, ActorFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	var req CancelAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		writeError(w, http.StatusBadRequest, "invalid_reason", "cancellation reason is required")
		return
	}
	if len(reason) > maxReasonLength {
		writeError(w, http.StatusBadRequest, "invalid_reason", "cancellation reason must be at most 500 characters")
		return
	}

	appt, err := h.svc.Cancel(r.Context(), id, reason, ActorFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), sideEffectTimeout)
	defer cancel()
	if err := h.notifier.AppointmentCancelled(ctx, appt); err != nil {
		h.log.Error("queue cancellation email failed", zap.String("appointment_id", appt.ID.String()), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *Handler) ConfirmAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.ConfirmAppointment(r.Context(), id, ActorFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// writeServiceError maps appointment errors to status codes. Anything that is not a
// business rule failure is logged and reported as a 500 without details.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	msg, isRule := appointment.Reason(err)

	switch {
	case isRule && errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", msg)
	case isRule && errors.Is(err, appointment.ErrScheduleViolation):
		writeError(w, http.StatusBadRequest, "schedule_violation", msg)
	case isRule && errors.Is(err, appointment.ErrAdvanceNotice):
		writeError(w, http.StatusBadRequest, "advance_notice_violation", msg)
	case isRule && errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", msg)
	case isRule && errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", msg)
	case isRule && errors.Is(err, appointment.ErrSchedulingConflict):
		writeError(w, http.StatusConflict, "scheduling_conflict", msg)
	case isRule && errors.Is(err, appointment.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, "already_terminal", msg)
	default:
		h.log.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, envelope{Success: true, Data: data})
}

func writePage(w http.ResponseWriter, data any, p Pagination) {
	writeEnvelope(w, http.StatusOK, envelope{Success: true, Data: data, Pagination: &p})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, envelope{Error: &ErrorBody{Message: message, Code: code}})
}

func writeEnvelope(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
