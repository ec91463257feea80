package services

import (
	"context"

	domain "github.com/threadline/orders-api/internal/domain"
	"github.com/threadline/orders-api/internal/repositories"
)

// CreateOrderCommand carries the completed-payment signal that creates an
// order. Totals.Total is the amount the gateway actually captured and is
// never recomputed from the items.
type CreateOrderCommand struct {
	PaymentReference string
	Customer         domain.CustomerInfo
	Items            []domain.OrderItem
	Totals           domain.OrderTotals
	Currency         string
	Locale           string
}

// CreateOrderResult reports the order belonging to the payment reference.
// Created is false when the reference already had an order and the call was
// an idempotent replay.
type CreateOrderResult struct {
	Order   domain.Order
	Created bool
}

// UpdateStatusCommand requests a status transition. TrackingNumber and
// Carrier are required when the target is shipped and ignored otherwise.
type UpdateStatusCommand struct {
	OrderID        string
	TargetStatus   string
	TrackingNumber string
	Carrier        string
}

// OrderService owns order creation, lookup and lifecycle transitions.
type OrderService interface {
	// Create persists at most one order per payment reference. Replays and
	// losing racers receive the existing order with Created=false.
	Create(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	GetByID(ctx context.Context, orderID string) (domain.Order, error)
	GetByPaymentReference(ctx context.Context, paymentRef string) (domain.Order, error)
	// UpdateStatus applies a transition and hands the edge's side effects to
	// the dispatcher. A same-status request is a no-op, not an error.
	UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (domain.Order, error)
	List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ReconcileService rebuilds a missing order from the gateway's authoritative
// payment record.
type ReconcileService interface {
	Reconcile(ctx context.Context, paymentReference string) (domain.Order, error)
}

// SideEffectDispatcher executes transition side effects detached from the
// request that triggered them. Failures never surface to the caller.
type SideEffectDispatcher interface {
	// DispatchConfirmation sends the order-confirmation notification after a
	// successful creation.
	DispatchConfirmation(ctx context.Context, order domain.Order)
	// Dispatch executes the side effects authorised by a taken edge.
	Dispatch(ctx context.Context, order domain.Order, effects []domain.SideEffect)
	// Wait blocks until all in-flight jobs finish. Used during shutdown.
	Wait()
}
