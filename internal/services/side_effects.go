package services

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/threadline/orders-api/internal/domain"
	"github.com/threadline/orders-api/internal/notify"
	"github.com/threadline/orders-api/internal/repositories"
)

const defaultSideEffectTimeout = 30 * time.Second

// SideEffectDispatcherDeps enumerates collaborators required to construct the dispatcher.
type SideEffectDispatcherDeps struct {
	Orders    repositories.OrderRepository
	Catalog   repositories.CatalogRepository
	Publisher notify.Publisher
	Timeout   time.Duration
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type sideEffectDispatcher struct {
	orders    repositories.OrderRepository
	catalog   repositories.CatalogRepository
	publisher notify.Publisher
	timeout   time.Duration
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
	wg        sync.WaitGroup
}

// NewSideEffectDispatcher wires dependencies into a SideEffectDispatcher implementation.
func NewSideEffectDispatcher(deps SideEffectDispatcherDeps) (SideEffectDispatcher, error) {
	if deps.Orders == nil {
		return nil, errors.New("side effect dispatcher: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("side effect dispatcher: catalog repository is required")
	}
	if deps.Publisher == nil {
		return nil, errors.New("side effect dispatcher: publisher is required")
	}

	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultSideEffectTimeout
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &sideEffectDispatcher{
		orders:    deps.Orders,
		catalog:   deps.Catalog,
		publisher: deps.Publisher,
		timeout:   timeout,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (d *sideEffectDispatcher) DispatchConfirmation(ctx context.Context, order domain.Order) {
	d.spawn(ctx, func(jobCtx context.Context) {
		d.sendNotification(jobCtx, order, domain.NotificationOrderConfirmed)
	})
}

func (d *sideEffectDispatcher) Dispatch(ctx context.Context, order domain.Order, effects []domain.SideEffect) {
	if len(effects) == 0 {
		return
	}
	jobs := make([]domain.SideEffect, len(effects))
	copy(jobs, effects)

	d.spawn(ctx, func(jobCtx context.Context) {
		for _, effect := range jobs {
			switch effect {
			case domain.SideEffectNotifyShipped:
				d.sendNotification(jobCtx, order, domain.NotificationOrderShipped)
			case domain.SideEffectNotifyDelivered:
				d.sendNotification(jobCtx, order, domain.NotificationOrderDelivered)
			case domain.SideEffectNotifyCancelled:
				d.sendNotification(jobCtx, order, domain.NotificationOrderCancelled)
			case domain.SideEffectReleaseStock:
				d.releaseStock(jobCtx, order)
			default:
				d.logger(jobCtx, "order.effect.unknown", map[string]any{
					"orderId": order.ID,
					"effect":  string(effect),
				})
			}
		}
	})
}

func (d *sideEffectDispatcher) Wait() {
	d.wg.Wait()
}

// spawn runs the job detached from the triggering request: the request's
// cancellation must not abort a side effect already authorised by a
// committed transition.
func (d *sideEffectDispatcher) spawn(ctx context.Context, job func(context.Context)) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		job(jobCtx)
	}()
}

func (d *sideEffectDispatcher) sendNotification(ctx context.Context, order domain.Order, kind domain.NotificationKind) {
	message := notify.OrderNotification{
		Kind:         kind,
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		Recipient:    order.Customer.Email,
		CustomerName: order.Customer.Name,
		Locale:       order.Locale,
		Total:        order.Totals.Total,
		Currency:     order.Currency,
		QueuedAt:     d.clock(),
	}
	if order.TrackingNumber != nil {
		message.TrackingNumber = *order.TrackingNumber
	}
	if order.Carrier != nil {
		message.Carrier = *order.Carrier
	}

	entry := domain.EmailLogEntry{
		Kind:      kind,
		Recipient: order.Customer.Email,
		SentAt:    d.clock(),
		Success:   true,
	}

	if _, err := d.publisher.PublishOrderNotification(ctx, message); err != nil {
		entry.Success = false
		entry.ErrorDetail = err.Error()
		d.logger(ctx, "order.notification.failed", map[string]any{
			"orderId": order.ID,
			"kind":    string(kind),
			"error":   err.Error(),
		})
	}

	if err := d.orders.AppendEmailLog(ctx, order.ID, entry); err != nil {
		d.logger(ctx, "order.email_log.append.failed", map[string]any{
			"orderId": order.ID,
			"kind":    string(kind),
			"error":   err.Error(),
		})
	}
}

// releaseStock restores availability for every item. Per-item failures are
// logged and do not block the remaining items; partial success is reconciled
// by out-of-band inventory audits.
func (d *sideEffectDispatcher) releaseStock(ctx context.Context, order domain.Order) {
	for _, item := range order.Items {
		if err := d.catalog.SetAvailability(ctx, item.ProductID, true); err != nil {
			d.logger(ctx, "order.stock.release.failed", map[string]any{
				"orderId":   order.ID,
				"productId": item.ProductID,
				"error":     err.Error(),
			})
		}
	}
}
