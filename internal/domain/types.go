package domain

import (
	"strings"
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates an order whose payment capture is still in flight.
	// The public creation surface never materialises this state; it exists for
	// stores populated by legacy checkout flows.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates payment succeeded and the order is awaiting fulfilment.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped indicates the order has been handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the carrier reported delivery to the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order has been cancelled. Terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ValidOrderStatus reports whether the value names a known lifecycle state.
func ValidOrderStatus(value string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(value)))
	switch status {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return status, true
	default:
		return "", false
	}
}

// Order is the durable aggregate owned by the lifecycle engine. At most one
// order exists per PaymentReference once creation succeeds.
type Order struct {
	ID               string
	OrderNumber      string
	PaymentReference string
	Status           OrderStatus
	Customer         CustomerInfo
	Items            []OrderItem
	Totals           OrderTotals
	Currency         string
	TrackingNumber   *string
	Carrier          *string
	Locale           string
	EmailHistory     []EmailLogEntry
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PaidAt           *time.Time
	ShippedAt        *time.Time
	DeliveredAt      *time.Time
	CancelledAt      *time.Time
}

// CustomerInfo captures the purchaser identity and shipping destination.
// Immutable after creation within this engine's scope.
type CustomerInfo struct {
	Email   string
	Name    string
	Address Address
}

// Address is a shipping/billing address snapshot.
type Address struct {
	Street     string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// OrderItem is a line item with display fields copied at order time so later
// catalog edits do not alter historical orders.
type OrderItem struct {
	ProductID string
	Title     string
	Brand     string
	Era       string
	Size      string
	UnitPrice int64
}

// OrderTotals holds monetary amounts in minor units of the settlement
// currency. Total reflects the amount the gateway actually captured and is
// never recomputed after creation.
type OrderTotals struct {
	Subtotal int64
	Shipping int64
	Tax      int64
	Total    int64
}

// EmailLogEntry records one notification attempt against an order. The email
// history is an append-only observability trail, never consulted for control
// flow.
type EmailLogEntry struct {
	Kind        NotificationKind
	Recipient   string
	SentAt      time.Time
	Success     bool
	ErrorDetail string
}

// NotificationKind enumerates the transactional emails the engine can request.
type NotificationKind string

const (
	// NotificationOrderConfirmed is sent once after successful creation.
	NotificationOrderConfirmed NotificationKind = "order_confirmed"
	// NotificationOrderShipped is sent on the edge into shipped.
	NotificationOrderShipped NotificationKind = "order_shipped"
	// NotificationOrderDelivered is sent on the edge into delivered.
	NotificationOrderDelivered NotificationKind = "order_delivered"
	// NotificationOrderCancelled is sent on the edge into cancelled.
	NotificationOrderCancelled NotificationKind = "order_cancelled"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage wraps a page of results with the token for the following page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
