package notify

import (
	"context"
	"time"

	"github.com/threadline/orders-api/internal/domain"
)

// OrderNotification is the message handed to the storefront's email renderer.
// It carries a denormalised order summary so the renderer never reads the
// order store directly.
type OrderNotification struct {
	Kind           domain.NotificationKind `json:"kind"`
	OrderID        string                  `json:"orderId"`
	OrderNumber    string                  `json:"orderNumber"`
	Recipient      string                  `json:"recipient"`
	CustomerName   string                  `json:"customerName,omitempty"`
	Locale         string                  `json:"locale,omitempty"`
	Total          int64                   `json:"total"`
	Currency       string                  `json:"currency,omitempty"`
	TrackingNumber string                  `json:"trackingNumber,omitempty"`
	Carrier        string                  `json:"carrier,omitempty"`
	QueuedAt       time.Time               `json:"queuedAt"`
}

// Publisher enqueues order notifications for asynchronous delivery.
type Publisher interface {
	// PublishOrderNotification enqueues the message and returns the broker's
	// message identifier.
	PublishOrderNotification(ctx context.Context, message OrderNotification) (string, error)
}
