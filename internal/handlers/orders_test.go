package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/threadline/orders-api/internal/domain"
	"github.com/threadline/orders-api/internal/repositories"
	"github.com/threadline/orders-api/internal/services"
)

type stubOrderService struct {
	createFn   func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error)
	getFn      func(context.Context, string) (domain.Order, error)
	getByRefFn func(context.Context, string) (domain.Order, error)
	updateFn   func(context.Context, services.UpdateStatusCommand) (domain.Order, error)
	listFn     func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.CreateOrderResult{}, services.ErrOrderPersistence
}

func (s *stubOrderService) GetByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return domain.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) GetByPaymentReference(ctx context.Context, paymentRef string) (domain.Order, error) {
	if s.getByRefFn != nil {
		return s.getByRefFn(ctx, paymentRef)
	}
	return domain.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateStatusCommand) (domain.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return domain.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type stubReconcileService struct {
	reconcileFn func(context.Context, string) (domain.Order, error)
}

func (s *stubReconcileService) Reconcile(ctx context.Context, paymentReference string) (domain.Order, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, paymentReference)
	}
	return domain.Order{}, services.ErrReconcileRecordMissing
}

func sampleOrder() domain.Order {
	created := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	return domain.Order{
		ID:               "ord_01TEST",
		OrderNumber:      "TL-20260302-041",
		PaymentReference: "pi_123",
		Status:           domain.OrderStatusPaid,
		Customer: domain.CustomerInfo{
			Email:   "a@b.com",
			Name:    "Alex Buyer",
			Address: domain.Address{Street: "1 Queen St", City: "Auckland", Country: "NZ"},
		},
		Items: []domain.OrderItem{
			{ProductID: "p1", Title: "Harrington jacket", UnitPrice: 4000},
		},
		Totals:    domain.OrderTotals{Subtotal: 4000, Shipping: 1000, Total: 5000},
		Currency:  "nzd",
		Locale:    "en-NZ",
		CreatedAt: created,
		UpdatedAt: created,
		PaidAt:    &created,
	}
}

func newTestServer(orders services.OrderService, reconcile services.ReconcileService) *httptest.Server {
	h := NewOrderHandlers(orders, reconcile)
	router := NewRouter(
		WithOrderRoutes(h.Routes),
		WithAdminRoutes(h.AdminRoutes),
	)
	return httptest.NewServer(router)
}

func decodeOrderResponse(t *testing.T, res *http.Response) orderResponse {
	t.Helper()
	defer res.Body.Close()
	var payload orderResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestCreateOrderReturns201(t *testing.T) {
	var captured services.CreateOrderCommand
	orders := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
			captured = cmd
			return services.CreateOrderResult{Order: sampleOrder(), Created: true}, nil
		},
	}
	srv := newTestServer(orders, &stubReconcileService{})
	defer srv.Close()

	body := `{
		"paymentReference": "pi_123",
		"customer": {"email": "a@b.com", "name": "Alex Buyer", "address": {"street": "1 Queen St", "city": "Auckland", "country": "NZ"}},
		"items": [{"productId": "p1", "title": "Harrington jacket", "unitPrice": 4000}],
		"subtotal": 4000, "shipping": 1000, "tax": 0, "total": 5000,
		"currency": "NZD", "locale": "en-NZ"
	}`

	res, err := http.Post(srv.URL+"/api/v1/orders", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", res.StatusCode)
	}

	payload := decodeOrderResponse(t, res)
	if payload.Order.ID != "ord_01TEST" {
		t.Fatalf("unexpected order id %s", payload.Order.ID)
	}
	if captured.PaymentReference != "pi_123" || captured.Totals.Total != 5000 {
		t.Fatalf("unexpected command %+v", captured)
	}
	if len(captured.Items) != 1 || captured.Items[0].ProductID != "p1" {
		t.Fatalf("unexpected items %+v", captured.Items)
	}
}

func TestCreateOrderReplayReturns200(t *testing.T) {
	orders := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error) {
			return services.CreateOrderResult{Order: sampleOrder(), Created: false}, nil
		},
	}
	srv := newTestServer(orders, &stubReconcileService{})
	defer srv.Close()

	res, err := http.Post(srv.URL+"/api/v1/orders", "application/json", strings.NewReader(`{"paymentReference":"pi_123"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for replay, got %d", res.StatusCode)
	}
}

func TestCreateOrderValidationFailure(t *testing.T) {
	orders := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error) {
			return services.CreateOrderResult{}, services.ErrOrderInvalidInput
		},
	}
	srv := newTestServer(orders, &stubReconcileService{})
	defer srv.Close()

	res, err := http.Post(srv.URL+"/api/v1/orders", "application/json", strings.NewReader(`{"paymentReference":""}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error != "invalid_request" {
		t.Fatalf("expected invalid_request, got %q", body.Error)
	}
}

func TestGetOrderByID(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(_ context.Context, orderID string) (domain.Order, error) {
			if orderID != "ord_01TEST" {
				return domain.Order{}, services.ErrOrderNotFound
			}
			return sampleOrder(), nil
		},
	}
	srv := newTestServer(orders, &stubReconcileService{})
	defer srv.Close()

	res, err := http.Get(srv.URL + "/api/v1/orders/ord_01TEST")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	payload := decodeOrderResponse(t, res)
	if payload.Order.PaymentReference != "pi_123" {
		t.Fatalf("unexpected payment reference %s", payload.Order.PaymentReference)
	}

	res, err = http.Get(srv.URL + "/api/v1/orders/ord_missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestGetOrderByPaymentReference(t *testing.T) {
	orders := &stubOrderService{
		getByRefFn: func(_ context.Context, ref string) (domain.Order, error) {
			if ref != "pi_123" {
				return domain.Order{}, services.ErrOrderNotFound
			}
			return sampleOrder(), nil
		},
	}
	srv := newTestServer(orders, &stubReconcileService{})
	defer srv.Close()

	res, err := http.Get(srv.URL + "/api/v1/orders/payments/pi_123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	payload := decodeOrderResponse(t, res)
	if payload.Order.ID != "ord_01TEST" {
		t.Fatalf("unexpected order id %s", payload.Order.ID)
	}
}

func TestReconcileOrder(t *testing.T) {
	reconcile := &stubReconcileService{
		reconcileFn: func(_ context.Context, ref string) (domain.Order, error) {
			if ref != "pi_123" {
				return domain.Order{}, services.ErrReconcileRecordMissing
			}
			return sampleOrder(), nil
		},
	}
	srv := newTestServer(&stubOrderService{}, reconcile)
	defer srv.Close()

	res, err := http.Post(srv.URL+"/api/v1/orders/payments/pi_123/reconcile", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	payload := decodeOrderResponse(t, res)
	if payload.Order.Total != 5000 {
		t.Fatalf("unexpected total %d", payload.Order.Total)
	}

	res, err = http.Post(srv.URL+"/api/v1/orders/payments/pi_unknown/reconcile", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error != "payment_record_missing" {
		t.Fatalf("expected payment_record_missing, got %q", body.Error)
	}
}

func TestReconcileMetadataIncompleteReturns422(t *testing.T) {
	reconcile := &stubReconcileService{
		reconcileFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, services.ErrReconcileMetadataIncomplete
		},
	}
	srv := newTestServer(&stubOrderService{}, reconcile)
	defer srv.Close()

	res, err := http.Post(srv.URL+"/api/v1/orders/payments/pi_123/reconcile", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.StatusCode)
	}
}

func TestUpdateStatus(t *testing.T) {
	var captured services.UpdateStatusCommand
	orders := &stubOrderService{
		updateFn: func(_ context.Context, cmd services.UpdateStatusCommand) (domain.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusShipped
			tracking := cmd.TrackingNumber
			carrier := cmd.Carrier
			order.TrackingNumber = &tracking
			order.Carrier = &carrier
			return order, nil
		},
	}
	srv := newTestServer(orders, &stubReconcileService{})
	defer srv.Close()

	body := `{"status": "shipped", "trackingNumber": "1Z999", "carrier": "UPS"}`
	res, err := http.Post(srv.URL+"/api/v1/admin/orders/ord_01TEST/status", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	payload := decodeOrderResponse(t, res)
	if payload.Order.Status != "shipped" {
		t.Fatalf("unexpected status %s", payload.Order.Status)
	}
	if payload.Order.TrackingNumber == nil || *payload.Order.TrackingNumber != "1Z999" {
		t.Fatalf("unexpected tracking %v", payload.Order.TrackingNumber)
	}
	if captured.OrderID != "ord_01TEST" || captured.TargetStatus != "shipped" {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestUpdateStatusInvalidTransitionReturns409(t *testing.T) {
	orders := &stubOrderService{
		updateFn: func(context.Context, services.UpdateStatusCommand) (domain.Order, error) {
			return domain.Order{}, services.ErrOrderInvalidTransition
		},
	}
	srv := newTestServer(orders, &stubReconcileService{})
	defer srv.Close()

	res, err := http.Post(srv.URL+"/api/v1/admin/orders/ord_01TEST/status", "application/json", strings.NewReader(`{"status":"shipped"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.StatusCode)
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %q", body.Error)
	}
}

func TestListOrdersFilters(t *testing.T) {
	var captured repositories.OrderListFilter
	orders := &stubOrderService{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			captured = filter
			return domain.CursorPage[domain.Order]{
				Items:         []domain.Order{sampleOrder()},
				NextPageToken: "next123",
			}, nil
		},
	}
	srv := newTestServer(orders, &stubReconcileService{})
	defer srv.Close()

	res, err := http.Get(srv.URL + "/api/v1/admin/orders?status=paid,shipped&email=A@B.com&pageSize=5&createdAfter=2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	var payload orderListResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.NextPageToken != "next123" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(captured.Status) != 2 || captured.Status[0] != "paid" || captured.Status[1] != "shipped" {
		t.Fatalf("unexpected status filter %v", captured.Status)
	}
	if captured.Email != "a@b.com" {
		t.Fatalf("expected lowercased email, got %q", captured.Email)
	}
	if captured.Pagination.PageSize != 5 {
		t.Fatalf("unexpected page size %d", captured.Pagination.PageSize)
	}
	if captured.DateRange.From == nil {
		t.Fatal("expected created_after filter")
	}
}

func TestPersistenceFailureReturns503(t *testing.T) {
	orders := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error) {
			return services.CreateOrderResult{}, services.ErrOrderPersistence
		},
	}
	srv := newTestServer(orders, &stubReconcileService{})
	defer srv.Close()

	res, err := http.Post(srv.URL+"/api/v1/orders", "application/json", strings.NewReader(`{"paymentReference":"pi_123"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.StatusCode)
	}
}
