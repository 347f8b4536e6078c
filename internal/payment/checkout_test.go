package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"

	"github.com/hackgods/therapy-booking/internal/appointment"
)

func fixtures() (*appointment.Appointment, *appointment.ServiceOffering) {
	start := time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC)
	appt := &appointment.Appointment{
		ID:        uuid.New(),
		DoctorID:  uuid.New(),
		PatientID: uuid.New(),
		StartTime: start,
		EndTime:   start.Add(time.Hour),
	}
	offering := &appointment.ServiceOffering{
		DoctorID:        appt.DoctorID,
		ServiceID:       uuid.New(),
		ServiceName:     "Talk Therapy",
		DurationMinutes: 60,
		PriceCents:      12000,
		Currency:        "USD",
	}
	return appt, offering
}

func TestCreateCheckoutBuildsPaymentSession(t *testing.T) {
	appt, offering := fixtures()

	var got *stripe.CheckoutSessionParams
	g := NewStripeGateway("sk_test_123", "https://app/success", "https://app/cancel")
	g.create = func(p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		got = p
		return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1"}, nil
	}

	ctx := context.Background()
	co, err := g.CreateCheckout(ctx, appt, offering)
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", co.SessionID)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_test_1", co.URL)

	require.NotNil(t, got)
	assert.Equal(t, "payment", *got.Mode)
	assert.Equal(t, appt.ID.String(), *got.ClientReferenceID)
	assert.Equal(t, "checkout-"+appt.ID.String(), *got.IdempotencyKey)
	assert.Equal(t, appt.ID.String(), got.Metadata["appointment_id"])
	require.Len(t, got.LineItems, 1)
	item := got.LineItems[0]
	assert.Equal(t, int64(12000), *item.PriceData.UnitAmount)
	assert.Equal(t, "usd", *item.PriceData.Currency)
	assert.Equal(t, "Talk Therapy", *item.PriceData.ProductData.Name)
	assert.Equal(t, ctx, got.Context)
}

func TestCreateCheckoutRejectsFreeService(t *testing.T) {
	appt, offering := fixtures()
	offering.PriceCents = 0

	g := NewStripeGateway("sk_test_123", "s", "c")
	g.create = func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		t.Fatal("stripe must not be called")
		return nil, nil
	}

	_, err := g.CreateCheckout(context.Background(), appt, offering)
	assert.Error(t, err)
}

func TestCreateCheckoutWrapsStripeError(t *testing.T) {
	appt, offering := fixtures()
	g := NewStripeGateway("sk_test_123", "s", "c")
	g.create = func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return nil, errors.New("card_declined")
	}

	_, err := g.CreateCheckout(context.Background(), appt, offering)
	assert.ErrorContains(t, err, "create checkout session")
}

func TestDisabled(t *testing.T) {
	appt, offering := fixtures()
	_, err := Disabled{}.CreateCheckout(context.Background(), appt, offering)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
