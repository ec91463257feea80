package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/threadline/orders-api/internal/domain"
	"github.com/threadline/orders-api/internal/notify"
)

type stubPublisher struct {
	mu       sync.Mutex
	messages []notify.OrderNotification
	err      error
}

func (s *stubPublisher) PublishOrderNotification(_ context.Context, message notify.OrderNotification) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	if s.err != nil {
		return "", s.err
	}
	return "msg_1", nil
}

func (s *stubPublisher) snapshot() []notify.OrderNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := make([]notify.OrderNotification, len(s.messages))
	copy(cloned, s.messages)
	return cloned
}

func newTestDispatcher(t *testing.T, orders *stubOrderRepo, catalog *stubCatalogRepo, publisher *stubPublisher, now time.Time) SideEffectDispatcher {
	t.Helper()
	dispatcher, err := NewSideEffectDispatcher(SideEffectDispatcherDeps{
		Orders:    orders,
		Catalog:   catalog,
		Publisher: publisher,
		Clock:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return dispatcher
}

func shippedOrder() domain.Order {
	tracking := "1Z999"
	carrier := "UPS"
	return domain.Order{
		ID:          "ord_1",
		OrderNumber: "TL-20260302-041",
		Status:      domain.OrderStatusShipped,
		Customer:    domain.CustomerInfo{Email: "a@b.com", Name: "Alex Buyer"},
		Items: []domain.OrderItem{
			{ProductID: "pA"},
			{ProductID: "pB"},
		},
		Totals:         domain.OrderTotals{Total: 5000},
		Currency:       "nzd",
		Locale:         "en-NZ",
		TrackingNumber: &tracking,
		Carrier:        &carrier,
	}
}

func TestDispatcherShippedNotificationRecordsSuccess(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	var mu sync.Mutex
	var logged []domain.EmailLogEntry
	orders := &stubOrderRepo{
		appendFn: func(_ context.Context, orderID string, entry domain.EmailLogEntry) error {
			mu.Lock()
			defer mu.Unlock()
			if orderID != "ord_1" {
				t.Errorf("unexpected order id %s", orderID)
			}
			logged = append(logged, entry)
			return nil
		},
	}
	publisher := &stubPublisher{}
	dispatcher := newTestDispatcher(t, orders, &stubCatalogRepo{}, publisher, now)

	dispatcher.Dispatch(ctx, shippedOrder(), []domain.SideEffect{domain.SideEffectNotifyShipped})
	dispatcher.Wait()

	messages := publisher.snapshot()
	if len(messages) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(messages))
	}
	msg := messages[0]
	if msg.Kind != domain.NotificationOrderShipped {
		t.Fatalf("unexpected kind %s", msg.Kind)
	}
	if msg.TrackingNumber != "1Z999" || msg.Carrier != "UPS" {
		t.Fatalf("expected tracking details, got %+v", msg)
	}
	if msg.Recipient != "a@b.com" {
		t.Fatalf("unexpected recipient %s", msg.Recipient)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(logged) != 1 {
		t.Fatalf("expected 1 email log entry, got %d", len(logged))
	}
	if !logged[0].Success || logged[0].Kind != domain.NotificationOrderShipped {
		t.Fatalf("unexpected log entry %+v", logged[0])
	}
}

func TestDispatcherPublishFailureIsRecordedNotPropagated(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	var mu sync.Mutex
	var logged []domain.EmailLogEntry
	orders := &stubOrderRepo{
		appendFn: func(_ context.Context, _ string, entry domain.EmailLogEntry) error {
			mu.Lock()
			defer mu.Unlock()
			logged = append(logged, entry)
			return nil
		},
	}
	publisher := &stubPublisher{err: errors.New("broker down")}
	dispatcher := newTestDispatcher(t, orders, &stubCatalogRepo{}, publisher, now)

	dispatcher.Dispatch(ctx, shippedOrder(), []domain.SideEffect{domain.SideEffectNotifyShipped})
	dispatcher.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(logged) != 1 {
		t.Fatalf("expected 1 email log entry, got %d", len(logged))
	}
	if logged[0].Success {
		t.Fatal("expected failure recorded")
	}
	if logged[0].ErrorDetail == "" {
		t.Fatal("expected error detail recorded")
	}
}

func TestDispatcherCancellationReleasesAllStockDespiteFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	catalog := &stubCatalogRepo{
		errFn: func(productID string, _ bool) error {
			if productID == "pA" {
				return errors.New("catalog down")
			}
			return nil
		},
	}
	publisher := &stubPublisher{}
	dispatcher := newTestDispatcher(t, &stubOrderRepo{}, catalog, publisher, now)

	order := shippedOrder()
	order.Status = domain.OrderStatusCancelled

	dispatcher.Dispatch(ctx, order, []domain.SideEffect{
		domain.SideEffectNotifyCancelled,
		domain.SideEffectReleaseStock,
	})
	dispatcher.Wait()

	calls := catalog.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected both releases attempted, got %d", len(calls))
	}
	for _, call := range calls {
		if !call.available {
			t.Fatalf("expected availability restored, got %+v", call)
		}
	}

	messages := publisher.snapshot()
	if len(messages) != 1 || messages[0].Kind != domain.NotificationOrderCancelled {
		t.Fatalf("expected one cancellation notification, got %+v", messages)
	}
}

func TestDispatcherConfirmation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	publisher := &stubPublisher{}
	dispatcher := newTestDispatcher(t, &stubOrderRepo{}, &stubCatalogRepo{}, publisher, now)

	dispatcher.DispatchConfirmation(ctx, shippedOrder())
	dispatcher.Wait()

	messages := publisher.snapshot()
	if len(messages) != 1 || messages[0].Kind != domain.NotificationOrderConfirmed {
		t.Fatalf("expected one confirmation, got %+v", messages)
	}
	if !messages[0].QueuedAt.Equal(now) {
		t.Fatalf("expected queuedAt %v got %v", now, messages[0].QueuedAt)
	}
}

func TestDispatcherSurvivesCallerCancellation(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	publisher := &stubPublisher{}
	dispatcher := newTestDispatcher(t, &stubOrderRepo{}, &stubCatalogRepo{}, publisher, now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dispatcher.Dispatch(ctx, shippedOrder(), []domain.SideEffect{domain.SideEffectNotifyShipped})
	dispatcher.Wait()

	if len(publisher.snapshot()) != 1 {
		t.Fatal("side effect must run despite the caller's cancelled context")
	}
}
