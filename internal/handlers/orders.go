package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/threadline/orders-api/internal/domain"
	"github.com/threadline/orders-api/internal/platform/httpx"
	"github.com/threadline/orders-api/internal/platform/pagination"
	"github.com/threadline/orders-api/internal/repositories"
	"github.com/threadline/orders-api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
)

type addressPayload struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

type customerPayload struct {
	Email   string         `json:"email"`
	Name    string         `json:"name,omitempty"`
	Address addressPayload `json:"address"`
}

type orderItemPayload struct {
	ProductID string `json:"productId"`
	Title     string `json:"title,omitempty"`
	Brand     string `json:"brand,omitempty"`
	Era       string `json:"era,omitempty"`
	Size      string `json:"size,omitempty"`
	UnitPrice int64  `json:"unitPrice"`
}

type emailLogPayload struct {
	Kind        string `json:"kind"`
	Recipient   string `json:"recipient"`
	SentAt      string `json:"sentAt"`
	Success     bool   `json:"success"`
	ErrorDetail string `json:"errorDetail,omitempty"`
}

type orderPayload struct {
	ID               string             `json:"id"`
	OrderNumber      string             `json:"orderNumber"`
	PaymentReference string             `json:"paymentReference"`
	Status           string             `json:"status"`
	Customer         customerPayload    `json:"customer"`
	Items            []orderItemPayload `json:"items"`
	Subtotal         int64              `json:"subtotal"`
	Shipping         int64              `json:"shipping"`
	Tax              int64              `json:"tax"`
	Total            int64              `json:"total"`
	Currency         string             `json:"currency,omitempty"`
	TrackingNumber   *string            `json:"trackingNumber,omitempty"`
	Carrier          *string            `json:"carrier,omitempty"`
	Locale           string             `json:"locale,omitempty"`
	EmailHistory     []emailLogPayload  `json:"emailHistory,omitempty"`
	CreatedAt        string             `json:"createdAt"`
	UpdatedAt        string             `json:"updatedAt"`
	PaidAt           *string            `json:"paidAt,omitempty"`
	ShippedAt        *string            `json:"shippedAt,omitempty"`
	DeliveredAt      *string            `json:"deliveredAt,omitempty"`
	CancelledAt      *string            `json:"cancelledAt,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type createOrderRequest struct {
	PaymentReference string             `json:"paymentReference"`
	Customer         customerPayload    `json:"customer"`
	Items            []orderItemPayload `json:"items"`
	Subtotal         int64              `json:"subtotal"`
	Shipping         int64              `json:"shipping"`
	Tax              int64              `json:"tax"`
	Total            int64              `json:"total"`
	Currency         string             `json:"currency"`
	Locale           string             `json:"locale"`
}

type updateStatusRequest struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"trackingNumber"`
	Carrier        string `json:"carrier"`
}

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	orders    services.OrderService
	reconcile services.ReconcileService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, reconcile services.ReconcileService) *OrderHandlers {
	return &OrderHandlers{
		orders:    orders,
		reconcile: reconcile,
	}
}

// Routes registers the storefront-facing /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/payments/{paymentRef}", h.getOrderByPaymentRef)
	r.Post("/payments/{paymentRef}/reconcile", h.reconcileOrder)
}

// AdminRoutes registers the operator endpoints. The caller mounts them behind
// request-signature middleware.
func (h *OrderHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders", h.listOrders)
	r.Post("/orders/{orderID}/status", h.updateStatus)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	result, err := h.orders.Create(ctx, buildCreateCommand(req))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, orderResponse{Order: buildOrderPayload(result.Order)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetByID(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrderByPaymentRef(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	paymentRef := strings.TrimSpace(chi.URLParam(r, "paymentRef"))
	if paymentRef == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment reference is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetByPaymentReference(ctx, paymentRef)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) reconcileOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconcile == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "reconcile service unavailable", http.StatusServiceUnavailable))
		return
	}

	paymentRef := strings.TrimSpace(chi.URLParam(r, "paymentRef"))
	if paymentRef == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment reference is required", http.StatusBadRequest))
		return
	}

	order, err := h.reconcile.Reconcile(ctx, paymentRef)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateStatusRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateStatusCommand{
		OrderID:        orderID,
		TargetStatus:   req.Status,
		TrackingNumber: req.TrackingNumber,
		Carrier:        req.Carrier,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("createdAfter")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "createdAfter must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("createdBefore")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "createdBefore must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := repositories.OrderListFilter{
		Status:    parseFilterValues(query["status"]),
		Email:     strings.ToLower(strings.TrimSpace(query.Get("email"))),
		DateRange: dateRange,
		Pagination: domain.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}

	page, err := h.orders.List(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func buildCreateCommand(req createOrderRequest) services.CreateOrderCommand {
	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Title:     item.Title,
			Brand:     item.Brand,
			Era:       item.Era,
			Size:      item.Size,
			UnitPrice: item.UnitPrice,
		})
	}
	return services.CreateOrderCommand{
		PaymentReference: req.PaymentReference,
		Customer: domain.CustomerInfo{
			Email: req.Customer.Email,
			Name:  req.Customer.Name,
			Address: domain.Address{
				Street:     req.Customer.Address.Street,
				City:       req.Customer.Address.City,
				Region:     req.Customer.Address.Region,
				PostalCode: req.Customer.Address.PostalCode,
				Country:    req.Customer.Address.Country,
			},
		},
		Items: items,
		Totals: domain.OrderTotals{
			Subtotal: req.Subtotal,
			Shipping: req.Shipping,
			Tax:      req.Tax,
			Total:    req.Total,
		},
		Currency: req.Currency,
		Locale:   req.Locale,
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID: item.ProductID,
			Title:     item.Title,
			Brand:     item.Brand,
			Era:       item.Era,
			Size:      item.Size,
			UnitPrice: item.UnitPrice,
		})
	}

	history := make([]emailLogPayload, 0, len(order.EmailHistory))
	for _, entry := range order.EmailHistory {
		history = append(history, emailLogPayload{
			Kind:        string(entry.Kind),
			Recipient:   entry.Recipient,
			SentAt:      formatTimestamp(entry.SentAt),
			Success:     entry.Success,
			ErrorDetail: entry.ErrorDetail,
		})
	}
	if len(history) == 0 {
		history = nil
	}

	return orderPayload{
		ID:               order.ID,
		OrderNumber:      order.OrderNumber,
		PaymentReference: order.PaymentReference,
		Status:           string(order.Status),
		Customer: customerPayload{
			Email: order.Customer.Email,
			Name:  order.Customer.Name,
			Address: addressPayload{
				Street:     order.Customer.Address.Street,
				City:       order.Customer.Address.City,
				Region:     order.Customer.Address.Region,
				PostalCode: order.Customer.Address.PostalCode,
				Country:    order.Customer.Address.Country,
			},
		},
		Items:          items,
		Subtotal:       order.Totals.Subtotal,
		Shipping:       order.Totals.Shipping,
		Tax:            order.Totals.Tax,
		Total:          order.Totals.Total,
		Currency:       order.Currency,
		TrackingNumber: order.TrackingNumber,
		Carrier:        order.Carrier,
		Locale:         order.Locale,
		EmailHistory:   history,
		CreatedAt:      formatTimestamp(order.CreatedAt),
		UpdatedAt:      formatTimestamp(order.UpdatedAt),
		PaidAt:         formatOptionalTimestamp(order.PaidAt),
		ShippedAt:      formatOptionalTimestamp(order.ShippedAt),
		DeliveredAt:    formatOptionalTimestamp(order.DeliveredAt),
		CancelledAt:    formatOptionalTimestamp(order.CancelledAt),
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrReconcileRecordMissing):
		httpx.WriteError(ctx, w, httpx.NewError("payment_record_missing", "no captured payment found for reference", http.StatusNotFound))
	case errors.Is(err, services.ErrReconcileMetadataIncomplete):
		httpx.WriteError(ctx, w, httpx.NewError("payment_metadata_incomplete", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderPersistence):
		httpx.WriteError(ctx, w, httpx.NewError("persistence_failed", "order store unavailable, retry with the same payment reference", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
