package repositories

import (
	"context"
	"time"

	domain "github.com/threadline/orders-api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists order documents keyed by order ID with a uniqueness
// guarantee on the payment reference.
type OrderRepository interface {
	// Insert stores a new order and claims its payment reference atomically.
	// A RepositoryError with IsConflict reports that the payment reference is
	// already bound to another order.
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByPaymentReference(ctx context.Context, paymentRef string) (domain.Order, error)
	AppendEmailLog(ctx context.Context, orderID string, entry domain.EmailLogEntry) error
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status     []string
	Email      string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CatalogRepository updates product availability alongside order lifecycle changes.
type CatalogRepository interface {
	// SetAvailability marks the product as available or sold. Missing products
	// surface a RepositoryError with IsNotFound.
	SetAvailability(ctx context.Context, productID string, available bool) error
}

// CounterRepository provides transaction-safe windowed counters used for
// distributed rate limiting.
type CounterRepository interface {
	// Increment bumps the counter for the given key and window start, returning
	// the value after the increment.
	Increment(ctx context.Context, key string, windowStart time.Time) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
