package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/therapy-booking/internal/appointment"
	"github.com/hackgods/therapy-booking/internal/payment"
)

type BookAppointmentRequest struct {
	DoctorID  string    `json:"doctor_id"`
	ServiceID string    `json:"service_id"`
	PatientID string    `json:"patient_id,omitempty"` // admins book on behalf of a patient
	StartTime time.Time `json:"start_time"`
}

type ValidateSlotRequest struct {
	DoctorID  string    `json:"doctor_id"`
	ServiceID string    `json:"service_id"`
	StartTime time.Time `json:"start_time"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	DoctorID           uuid.UUID  `json:"doctor_id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	ServiceID          uuid.UUID  `json:"service_id"`
	StartTime          time.Time  `json:"start_time"`
	EndTime            time.Time  `json:"end_time"`
	Status             string     `json:"status"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CancelledBy        *uuid.UUID `json:"cancelled_by,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type BookingResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Checkout    *payment.Checkout   `json:"checkout,omitempty"`
}

type SlotResponse struct {
	Available bool      `json:"available"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type envelope struct {
	Success    bool        `json:"success"`
	Data       any         `json:"data,omitempty"`
	Error      *ErrorBody  `json:"error,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func toResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		DoctorID:           a.DoctorID,
		PatientID:          a.PatientID,
		ServiceID:          a.ServiceID,
		StartTime:          a.StartTime,
		EndTime:            a.EndTime,
		Status:             string(a.Status),
		CancellationReason: a.CancellationReason,
		CancelledBy:        a.CancelledBy,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}
