package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"

	"github.com/hackgods/therapy-booking/internal/appointment"
)

var ErrNotConfigured = errors.New("stripe checkout not configured")

type Checkout struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type Gateway interface {
	CreateCheckout(ctx context.Context, appt *appointment.Appointment, offering *appointment.ServiceOffering) (*Checkout, error)
}

// Disabled is used when STRIPE_SECRET_KEY is unset.
type Disabled struct{}

func (Disabled) CreateCheckout(context.Context, *appointment.Appointment, *appointment.ServiceOffering) (*Checkout, error) {
	return nil, ErrNotConfigured
}

type StripeGateway struct {
	successURL string
	cancelURL  string
	create     func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func NewStripeGateway(secretKey, successURL, cancelURL string) *StripeGateway {
	client := checkoutsession.Client{
		B:   stripe.GetBackend(stripe.APIBackend),
		Key: strings.TrimSpace(secretKey),
	}
	return &StripeGateway{
		successURL: successURL,
		cancelURL:  cancelURL,
		create:     client.New,
	}
}

// CreateCheckout opens a one-off payment session for the booked appointment.
// The appointment id is the idempotency key, so retries return the same session.
func (g *StripeGateway) CreateCheckout(ctx context.Context, appt *appointment.Appointment, offering *appointment.ServiceOffering) (*Checkout, error) {
	params, err := g.sessionParams(appt, offering)
	if err != nil {
		return nil, err
	}
	params.Context = ctx

	sess, err := g.create(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &Checkout{SessionID: sess.ID, URL: sess.URL}, nil
}

func (g *StripeGateway) sessionParams(appt *appointment.Appointment, offering *appointment.ServiceOffering) (*stripe.CheckoutSessionParams, error) {
	if offering.PriceCents <= 0 {
		return nil, fmt.Errorf("service %s has no price", offering.ServiceID)
	}
	currency := strings.ToLower(offering.Currency)
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(appt.ID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(offering.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(offering.ServiceName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.AddMetadata("appointment_id", appt.ID.String())
	params.AddMetadata("patient_id", appt.PatientID.String())
	params.AddMetadata("doctor_id", appt.DoctorID.String())
	params.IdempotencyKey = stripe.String("checkout-" + appt.ID.String())

	return params, nil
}
