package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/language"

	domain "github.com/threadline/orders-api/internal/domain"
	"github.com/threadline/orders-api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	defaultNumberPrefix = "TL"
	defaultLocale       = "en-NZ"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderAlreadyExists indicates the payment reference already has an
	// order. Callers treat it as a replay signal, not a failure.
	ErrOrderAlreadyExists = errors.New("order: already exists for payment reference")
	// ErrOrderInvalidTransition indicates the state machine rejected the
	// requested status change.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderPersistence indicates the durable store rejected or could not
	// complete a write. Callers retry the fetch-or-create sequence.
	ErrOrderPersistence = errors.New("order: persistence failed")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Catalog       repositories.CatalogRepository
	Effects       SideEffectDispatcher
	NumberPrefix  string
	DefaultLocale string
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	catalog       repositories.CatalogRepository
	effects       SideEffectDispatcher
	numberPrefix  string
	defaultLocale string
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog repository is required")
	}

	prefix := strings.TrimSpace(deps.NumberPrefix)
	if prefix == "" {
		prefix = defaultNumberPrefix
	}

	locale := strings.TrimSpace(deps.DefaultLocale)
	if locale == "" {
		locale = defaultLocale
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:        deps.Orders,
		catalog:       deps.Catalog,
		effects:       deps.Effects,
		numberPrefix:  prefix,
		defaultLocale: locale,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	paymentRef := strings.TrimSpace(cmd.PaymentReference)
	if paymentRef == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: payment reference is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return CreateOrderResult{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	email := strings.ToLower(strings.TrimSpace(cmd.Customer.Email))
	if email == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: customer email is required", ErrOrderInvalidInput)
	}
	if cmd.Totals.Total <= 0 {
		return CreateOrderResult{}, fmt.Errorf("%w: captured total must be positive", ErrOrderInvalidInput)
	}
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return CreateOrderResult{}, fmt.Errorf("%w: items[%d] product id is required", ErrOrderInvalidInput, i)
		}
	}

	// The store-level uniqueness guarantee is what makes creation safe under
	// concurrent callers; this read only short-circuits the common replay.
	if existing, err := s.findExisting(ctx, paymentRef); err == nil {
		return CreateOrderResult{Order: existing, Created: false}, nil
	} else if !errors.Is(err, ErrOrderNotFound) {
		return CreateOrderResult{}, err
	}

	now := s.now()

	order := domain.Order{
		ID:               s.nextOrderID(),
		OrderNumber:      s.generateOrderNumber(now),
		PaymentReference: paymentRef,
		Status:           domain.OrderStatusPaid,
		Customer:         cmd.Customer,
		Items:            cloneItems(cmd.Items),
		Totals:           cmd.Totals,
		Currency:         strings.ToLower(strings.TrimSpace(cmd.Currency)),
		Locale:           s.canonicalLocale(cmd.Locale),
		CreatedAt:        now,
		UpdatedAt:        now,
		PaidAt:           &now,
	}
	order.Customer.Email = email

	if err := s.orders.Insert(ctx, order); err != nil {
		if isRepoConflict(err) {
			// A concurrent creator won the payment-ref claim. Return its order.
			winner, readErr := s.findExisting(ctx, paymentRef)
			if readErr != nil {
				return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrOrderPersistence, readErr)
			}
			return CreateOrderResult{Order: winner, Created: false}, nil
		}
		return CreateOrderResult{}, s.mapWriteError(err)
	}

	s.reserveStock(ctx, order)

	if s.effects != nil {
		s.effects.DispatchConfirmation(ctx, order)
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":          order.ID,
		"orderNumber":      order.OrderNumber,
		"paymentReference": order.PaymentReference,
		"total":            order.Totals.Total,
	})

	return CreateOrderResult{Order: order, Created: true}, nil
}

func (s *orderService) GetByID(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapReadError(err)
	}
	return order, nil
}

func (s *orderService) GetByPaymentReference(ctx context.Context, paymentRef string) (domain.Order, error) {
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return domain.Order{}, fmt.Errorf("%w: payment reference is required", ErrOrderInvalidInput)
	}
	return s.findExisting(ctx, paymentRef)
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, ok := domain.ValidOrderStatus(cmd.TargetStatus)
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapReadError(err)
	}

	// Duplicate webhook-style deliveries land here. The order is returned
	// unchanged and no side effect re-fires.
	if order.Status == target {
		return order, nil
	}

	if !domain.CanTransition(order.Status, target) {
		return domain.Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidTransition, order.Status, target)
	}

	now := s.now()
	prev := order.Status

	if target == domain.OrderStatusShipped {
		tracking := strings.TrimSpace(cmd.TrackingNumber)
		carrier := strings.TrimSpace(cmd.Carrier)
		if tracking == "" || carrier == "" {
			return domain.Order{}, fmt.Errorf("%w: tracking number and carrier are required for shipped", ErrOrderInvalidInput)
		}
		order.TrackingNumber = &tracking
		order.Carrier = &carrier
	}

	order.Status = target
	order.UpdatedAt = now
	s.stampTransition(&order, target, now)

	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, s.mapWriteError(err)
	}

	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId":        order.ID,
		"previousStatus": string(prev),
		"currentStatus":  string(target),
	})

	if s.effects != nil {
		if effects := domain.TransitionEffects(prev, target); len(effects) > 0 {
			s.effects.Dispatch(ctx, order, effects)
		}
	}

	return order, nil
}

func (s *orderService) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, s.mapReadError(err)
	}
	return page, nil
}

func (s *orderService) findExisting(ctx context.Context, paymentRef string) (domain.Order, error) {
	order, err := s.orders.FindByPaymentReference(ctx, paymentRef)
	if err != nil {
		return domain.Order{}, s.mapReadError(err)
	}
	return order, nil
}

// reserveStock flips every line item's product to unavailable. Best effort:
// the order is the source of truth for "this was sold" and a failed flag
// write never rolls it back.
func (s *orderService) reserveStock(ctx context.Context, order domain.Order) {
	for _, item := range order.Items {
		if err := s.catalog.SetAvailability(ctx, item.ProductID, false); err != nil {
			s.logger(ctx, "order.stock.reserve.failed", map[string]any{
				"orderId":   order.ID,
				"productId": item.ProductID,
				"error":     err.Error(),
			})
		}
	}
}

func (s *orderService) stampTransition(order *domain.Order, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusPaid:
		order.PaidAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	}
}

func (s *orderService) mapReadError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderPersistence, err)
		}
	}
	return err
}

func (s *orderService) mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderAlreadyExists, err)
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrOrderPersistence, err)
}

// generateOrderNumber produces PREFIX-YYYYMMDD-NNN with a random suffix.
// Unique enough for display and search, not guaranteed unique under
// concurrent creation; the payment reference remains the real identity.
func (s *orderService) generateOrderNumber(now time.Time) string {
	suffix := int64(now.UnixNano() % 1000)
	if n, err := rand.Int(rand.Reader, big.NewInt(1000)); err == nil {
		suffix = n.Int64()
	}
	return fmt.Sprintf("%s-%s-%03d", s.numberPrefix, now.Format("20060102"), suffix)
}

func (s *orderService) canonicalLocale(tag string) string {
	tag = strings.ReplaceAll(strings.TrimSpace(tag), "_", "-")
	if tag == "" {
		return s.defaultLocale
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return s.defaultLocale
	}
	return parsed.String()
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func cloneItems(items []domain.OrderItem) []domain.OrderItem {
	cloned := make([]domain.OrderItem, len(items))
	copy(cloned, items)
	for i := range cloned {
		cloned[i].ProductID = strings.TrimSpace(cloned[i].ProductID)
	}
	return cloned
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
