package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	domain "github.com/threadline/orders-api/internal/domain"
	"github.com/threadline/orders-api/internal/gateway"
	"github.com/threadline/orders-api/internal/platform/textutil"
)

var (
	// ErrReconcileRecordMissing indicates the gateway has no captured payment
	// for the reference. Terminal: surfaced as "order truly not found".
	ErrReconcileRecordMissing = errors.New("reconcile: payment record missing")
	// ErrReconcileMetadataIncomplete indicates the gateway record lacks the
	// order-shape metadata needed to rebuild the order safely.
	ErrReconcileMetadataIncomplete = errors.New("reconcile: payment metadata incomplete")
)

// Metadata keys attached to the payment at charge time.
const (
	metadataKeyItems    = "items"
	metadataKeySubtotal = "subtotal"
	metadataKeyShipping = "shipping"
	metadataKeyLocale   = "locale"
)

// ReconcileServiceDeps bundles collaborators required to construct the reconcile service.
type ReconcileServiceDeps struct {
	Orders  OrderService
	Gateway gateway.Gateway
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type reconcileService struct {
	orders  OrderService
	gateway gateway.Gateway
	logger  func(context.Context, string, map[string]any)
}

// NewReconcileService wires dependencies into a ReconcileService implementation.
func NewReconcileService(deps ReconcileServiceDeps) (ReconcileService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconcile service: order service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("reconcile service: gateway is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reconcileService{
		orders:  deps.Orders,
		gateway: deps.Gateway,
		logger:  logger,
	}, nil
}

// Reconcile heals the gap between "payment captured at the gateway" and
// "order exists in the store". The creation pipeline re-runs its own
// idempotency check, so two reconciliation attempts racing converge on one
// order.
func (s *reconcileService) Reconcile(ctx context.Context, paymentReference string) (domain.Order, error) {
	paymentReference = strings.TrimSpace(paymentReference)
	if paymentReference == "" {
		return domain.Order{}, fmt.Errorf("%w: payment reference is required", ErrOrderInvalidInput)
	}

	if existing, err := s.orders.GetByPaymentReference(ctx, paymentReference); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrOrderNotFound) {
		return domain.Order{}, err
	}

	record, err := s.gateway.LookupPayment(ctx, paymentReference)
	if err != nil {
		if errors.Is(err, gateway.ErrPaymentRecordNotFound) {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrReconcileRecordMissing, paymentReference)
		}
		return domain.Order{}, fmt.Errorf("reconcile: gateway lookup: %w", err)
	}
	if record.Status != gateway.StatusSucceeded {
		return domain.Order{}, fmt.Errorf("%w: payment %s not captured (status %s)", ErrReconcileRecordMissing, paymentReference, record.Status)
	}

	cmd, err := buildCreateCommand(paymentReference, record)
	if err != nil {
		return domain.Order{}, err
	}

	result, err := s.orders.Create(ctx, cmd)
	if err != nil {
		return domain.Order{}, err
	}

	if result.Created {
		s.logger(ctx, "order.reconciled", map[string]any{
			"orderId":          result.Order.ID,
			"paymentReference": paymentReference,
			"total":            result.Order.Totals.Total,
		})
	}

	return result.Order, nil
}

// paymentItem is the line-item shape embedded in the payment metadata at
// charge time.
type paymentItem struct {
	ProductID string `json:"productId"`
	Title     string `json:"title"`
	Brand     string `json:"brand"`
	Era       string `json:"era"`
	Size      string `json:"size"`
	UnitPrice int64  `json:"unitPrice"`
}

func buildCreateCommand(paymentReference string, record gateway.PaymentRecord) (CreateOrderCommand, error) {
	metadata := textutil.NormalizeStringMap(record.Metadata)

	rawItems := metadata[metadataKeyItems]
	if rawItems == "" {
		return CreateOrderCommand{}, fmt.Errorf("%w: items metadata is missing", ErrReconcileMetadataIncomplete)
	}
	var parsed []paymentItem
	if err := json.Unmarshal([]byte(rawItems), &parsed); err != nil {
		return CreateOrderCommand{}, fmt.Errorf("%w: items metadata is malformed: %v", ErrReconcileMetadataIncomplete, err)
	}
	if len(parsed) == 0 {
		return CreateOrderCommand{}, fmt.Errorf("%w: items metadata is empty", ErrReconcileMetadataIncomplete)
	}

	items := make([]domain.OrderItem, 0, len(parsed))
	for i, item := range parsed {
		if strings.TrimSpace(item.ProductID) == "" {
			return CreateOrderCommand{}, fmt.Errorf("%w: items[%d] product id is missing", ErrReconcileMetadataIncomplete, i)
		}
		items = append(items, domain.OrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Title:     item.Title,
			Brand:     item.Brand,
			Era:       item.Era,
			Size:      item.Size,
			UnitPrice: item.UnitPrice,
		})
	}

	email := strings.TrimSpace(record.Billing.Email)
	if email == "" {
		return CreateOrderCommand{}, fmt.Errorf("%w: billing email is missing", ErrReconcileMetadataIncomplete)
	}
	if record.AmountCaptured <= 0 {
		return CreateOrderCommand{}, fmt.Errorf("%w: captured amount is missing", ErrReconcileMetadataIncomplete)
	}

	subtotal := parseAmount(metadata[metadataKeySubtotal])
	shipping := parseAmount(metadata[metadataKeyShipping])
	tax := record.AmountCaptured - subtotal - shipping
	if tax < 0 {
		tax = 0
	}

	address := record.Billing.Address
	if record.Shipping != nil {
		address = *record.Shipping
	}

	return CreateOrderCommand{
		PaymentReference: paymentReference,
		Customer: domain.CustomerInfo{
			Email: email,
			Name:  record.Billing.Name,
			Address: domain.Address{
				Street:     address.Street,
				City:       address.City,
				Region:     address.Region,
				PostalCode: address.PostalCode,
				Country:    address.Country,
			},
		},
		Items: items,
		Totals: domain.OrderTotals{
			Subtotal: subtotal,
			Shipping: shipping,
			Tax:      tax,
			Total:    record.AmountCaptured,
		},
		Currency: record.Currency,
		Locale:   metadata[metadataKeyLocale],
	}, nil
}

func parseAmount(value string) int64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	amount, err := strconv.ParseInt(value, 10, 64)
	if err != nil || amount < 0 {
		return 0
	}
	return amount
}
