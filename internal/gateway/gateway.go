package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrPaymentRecordNotFound is returned when the gateway has no payment for
// the supplied reference.
var ErrPaymentRecordNotFound = errors.New("gateway: payment record not found")

// PaymentStatus captures the gateway-side state of a payment.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusSucceeded PaymentStatus = "succeeded"
	StatusFailed    PaymentStatus = "failed"
	StatusRefunded  PaymentStatus = "refunded"
)

// PaymentRecord is the authoritative view of a captured payment as the
// gateway reports it. AmountCaptured is the charged amount in minor units
// and is never recomputed locally. Metadata carries the order shape attached
// at charge time (items, subtotal, shipping).
type PaymentRecord struct {
	Reference      string
	Status         PaymentStatus
	AmountCaptured int64
	Currency       string
	Metadata       map[string]string
	Billing        BillingDetails
	Shipping       *Address
	CapturedAt     *time.Time
}

// BillingDetails holds the purchaser identity attached to the charge.
type BillingDetails struct {
	Email   string
	Name    string
	Address Address
}

// Address is the gateway's address shape.
type Address struct {
	Street     string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// Gateway fetches authoritative payment records for reconciliation.
type Gateway interface {
	// LookupPayment returns the payment record for the reference, or
	// ErrPaymentRecordNotFound when the gateway does not know it.
	LookupPayment(ctx context.Context, reference string) (PaymentRecord, error)
}
