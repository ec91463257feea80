package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Intents   stripePaymentIntentAPI
}

// StripeGateway implements the Gateway interface over Stripe Payment Intents.
type StripeGateway struct {
	intents stripePaymentIntentAPI
	account string
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeGateway constructs a Stripe Gateway using the given configuration.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Intents == nil {
		return nil, errors.New("stripe: api key is required")
	}

	intents := cfg.Intents
	if intents == nil {
		sc := client.New(apiKey, cfg.Backends)
		intents = sc.PaymentIntents
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		intents: intents,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// LookupPayment retrieves a Stripe Payment Intent by its identifier.
func (g *StripeGateway) LookupPayment(ctx context.Context, reference string) (PaymentRecord, error) {
	if g == nil {
		return PaymentRecord{}, errors.New("stripe: gateway is nil")
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return PaymentRecord{}, errors.New("stripe: payment reference is required")
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	// Without the expansion the API returns latest_charge as an ID-only
	// stub, which carries no billing details.
	params.AddExpand("latest_charge")
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}

	intent, err := g.intents.Get(reference, params)
	if err != nil {
		if isStripeMissing(err) {
			g.logger(ctx, "gateway.stripe.intent.missing", map[string]any{
				"paymentReference": reference,
			})
			return PaymentRecord{}, ErrPaymentRecordNotFound
		}
		return PaymentRecord{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	return stripePaymentRecord(intent), nil
}

func isStripeMissing(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	if stripeErr.Code == stripe.ErrorCodeResourceMissing {
		return true
	}
	return stripeErr.HTTPStatusCode == 404
}

func stripePaymentRecord(intent *stripe.PaymentIntent) PaymentRecord {
	if intent == nil {
		return PaymentRecord{}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	}

	var capturedAt *time.Time
	amountCaptured := intent.AmountReceived

	charge := intent.LatestCharge
	if charge != nil {
		if charge.Paid || charge.Captured {
			t := time.Unix(charge.Created, 0).UTC()
			capturedAt = &t
		}
		if charge.Refunded || charge.AmountRefunded >= charge.Amount && charge.Amount > 0 {
			status = StatusRefunded
		}
		if amountCaptured == 0 {
			amountCaptured = charge.AmountCaptured
		}
	}

	if intent.Status == stripe.PaymentIntentStatusSucceeded && status != StatusRefunded {
		status = StatusSucceeded
	}

	currency := strings.ToLower(string(intent.Currency))
	if currency == "" && charge != nil {
		currency = strings.ToLower(string(charge.Currency))
	}

	metadata := make(map[string]string, len(intent.Metadata))
	for k, v := range intent.Metadata {
		metadata[k] = v
	}

	record := PaymentRecord{
		Reference:      intent.ID,
		Status:         status,
		AmountCaptured: amountCaptured,
		Currency:       currency,
		Metadata:       metadata,
		CapturedAt:     capturedAt,
	}

	if charge != nil && charge.BillingDetails != nil {
		record.Billing = BillingDetails{
			Email:   strings.ToLower(strings.TrimSpace(charge.BillingDetails.Email)),
			Name:    strings.TrimSpace(charge.BillingDetails.Name),
			Address: stripeAddress(charge.BillingDetails.Address),
		}
	}
	if record.Billing.Email == "" && intent.ReceiptEmail != "" {
		record.Billing.Email = strings.ToLower(strings.TrimSpace(intent.ReceiptEmail))
	}

	if intent.Shipping != nil {
		addr := stripeAddress(intent.Shipping.Address)
		record.Shipping = &addr
		if record.Billing.Name == "" {
			record.Billing.Name = strings.TrimSpace(intent.Shipping.Name)
		}
	}

	return record
}

func stripeAddress(addr *stripe.Address) Address {
	if addr == nil {
		return Address{}
	}
	street := strings.TrimSpace(addr.Line1)
	if line2 := strings.TrimSpace(addr.Line2); line2 != "" {
		street = strings.TrimSpace(street + " " + line2)
	}
	return Address{
		Street:     street,
		City:       strings.TrimSpace(addr.City),
		Region:     strings.TrimSpace(addr.State),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.TrimSpace(addr.Country),
	}
}
