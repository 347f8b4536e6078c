package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/hackgods/therapy-booking/internal/appointment"
)

const (
	TemplateBooked    = "appointment_booked"
	TemplateCancelled = "appointment_cancelled"
)

// EmailJob is the message a mail worker consumes. Addresses are resolved by the
// worker from the patient and doctor ids.
type EmailJob struct {
	Template      string    `json:"template"`
	AppointmentID string    `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	DoctorID      string    `json:"doctor_id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Reason        string    `json:"reason,omitempty"`
	CheckoutURL   string    `json:"checkout_url,omitempty"`
}

type Notifier interface {
	AppointmentBooked(ctx context.Context, appt *appointment.Appointment, checkoutURL string) error
	AppointmentCancelled(ctx context.Context, appt *appointment.Appointment) error
}

// Nop drops every job. Used when RABBITMQ_URL is unset.
type Nop struct{}

func (Nop) AppointmentBooked(context.Context, *appointment.Appointment, string) error { return nil }
func (Nop) AppointmentCancelled(context.Context, *appointment.Appointment) error      { return nil }

// publisher is the part of *amqp091.Channel the notifier uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

type RabbitNotifier struct {
	ch    publisher
	queue string
}

func NewRabbitNotifier(ch publisher, queue string) *RabbitNotifier {
	return &RabbitNotifier{ch: ch, queue: queue}
}

// Dial connects to RabbitMQ, declares the durable job queue and returns a notifier
// plus a func that closes the channel and connection.
func Dial(url, queue string) (*RabbitNotifier, func() error, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	closeFn := func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return NewRabbitNotifier(ch, queue), closeFn, nil
}

func (n *RabbitNotifier) AppointmentBooked(ctx context.Context, appt *appointment.Appointment, checkoutURL string) error {
	job := jobFor(TemplateBooked, appt)
	job.CheckoutURL = checkoutURL
	return n.publish(ctx, job)
}

func (n *RabbitNotifier) AppointmentCancelled(ctx context.Context, appt *appointment.Appointment) error {
	job := jobFor(TemplateCancelled, appt)
	if appt.CancellationReason != nil {
		job.Reason = *appt.CancellationReason
	}
	return n.publish(ctx, job)
}

func jobFor(template string, appt *appointment.Appointment) EmailJob {
	return EmailJob{
		Template:      template,
		AppointmentID: appt.ID.String(),
		PatientID:     appt.PatientID.String(),
		DoctorID:      appt.DoctorID.String(),
		StartTime:     appt.StartTime,
		EndTime:       appt.EndTime,
	}
}

func (n *RabbitNotifier) publish(ctx context.Context, job EmailJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		MessageId:    job.Template + ":" + job.AppointmentID,
		Timestamp:    time.Now().UTC(),
		Headers: amqp091.Table{
			"message_type":     "JSON",
			"requeue_strategy": "DROP",
		},
	}

	if err := n.ch.PublishWithContext(ctx, "", n.queue, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}
