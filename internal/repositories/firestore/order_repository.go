package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"

	domain "github.com/threadline/orders-api/internal/domain"
	pfirestore "github.com/threadline/orders-api/internal/platform/firestore"
	"github.com/threadline/orders-api/internal/platform/pagination"
	"github.com/threadline/orders-api/internal/repositories"
)

const (
	ordersCollection      = "orders"
	paymentRefsCollection = "order_payment_refs"
)

// OrderRepository persists order documents and the payment-reference index that
// backs idempotent creation.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	refs     *pfirestore.BaseRepository[paymentRefDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		refs:     pfirestore.NewBaseRepository[paymentRefDocument](provider, paymentRefsCollection, nil, nil),
	}, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// Insert stores the order and claims its payment reference in a single
// transaction. Creating the index document fails with AlreadyExists when the
// reference is already bound, which surfaces as a conflict to callers.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	paymentRef := strings.TrimSpace(order.PaymentReference)
	if paymentRef == "" {
		return errors.New("order repository: payment reference is required")
	}

	doc := encodeOrderDocument(order)

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		refDoc, err := r.refs.DocumentRef(ctx, paymentRefDocID(paymentRef))
		if err != nil {
			return err
		}
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}

		if err := tx.Create(refDoc, paymentRefDocument{
			OrderID:          orderID,
			PaymentReference: paymentRef,
			CreatedAt:        doc.CreatedAt,
		}); err != nil {
			return err
		}
		return tx.Create(orderRef, doc)
	})
	if err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the persisted order state with the provided snapshot.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.orders.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := docRef.Set(ctx, encodeOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(orderID, doc.Data), nil
}

// FindByPaymentReference resolves the index document and loads the bound order.
func (r *OrderRepository) FindByPaymentReference(ctx context.Context, paymentRef string) (domain.Order, error) {
	if r == nil || r.refs == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return domain.Order{}, errors.New("order repository: payment reference is required")
	}
	refDoc, err := r.refs.Get(ctx, paymentRefDocID(paymentRef))
	if err != nil {
		return domain.Order{}, err
	}
	orderID := strings.TrimSpace(refDoc.Data.OrderID)
	if orderID == "" {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_payment_reference",
			fmt.Errorf("payment reference index %s has no order id", paymentRef))
	}
	return r.FindByID(ctx, orderID)
}

// AppendEmailLog records a notification attempt on the order's email history.
func (r *OrderRepository) AppendEmailLog(ctx context.Context, orderID string, entry domain.EmailLogEntry) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.orders.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	updates := []firestore.Update{
		{Path: "emailHistory", Value: firestore.ArrayUnion(encodeEmailLogEntry(entry))},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}
	if _, err := docRef.Update(ctx, updates); err != nil {
		return pfirestore.WrapError("orders.append_email_log", err)
	}
	return nil
}

// List returns orders sorted by most recent creation, supporting status,
// email, and date range filters with cursor pagination.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statusFilters := normaliseStatuses(filter.Status)
	email := strings.ToLower(strings.TrimSpace(filter.Email))

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statusFilters) > 10 {
				statusFilters = statusFilters[:10]
			}
			q = q.Where("status", "in", statusFilters)
		}

		if email != "" {
			q = q.Where("customer.email", "==", email)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeOrderListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type paymentRefDocument struct {
	OrderID          string    `firestore:"orderId"`
	PaymentReference string    `firestore:"paymentReference"`
	CreatedAt        time.Time `firestore:"createdAt"`
}

type orderDocument struct {
	OrderNumber      string                  `firestore:"orderNumber"`
	PaymentReference string                  `firestore:"paymentReference"`
	Status           string                  `firestore:"status"`
	Customer         customerDocument        `firestore:"customer"`
	Items            []orderItemDocument     `firestore:"items"`
	Totals           orderTotalsDocument     `firestore:"totals"`
	Currency         string                  `firestore:"currency"`
	TrackingNumber   *string                 `firestore:"trackingNumber,omitempty"`
	Carrier          *string                 `firestore:"carrier,omitempty"`
	Locale           string                  `firestore:"locale"`
	EmailHistory     []emailLogEntryDocument `firestore:"emailHistory"`
	CreatedAt        time.Time               `firestore:"createdAt"`
	UpdatedAt        time.Time               `firestore:"updatedAt"`
	PaidAt           *time.Time              `firestore:"paidAt,omitempty"`
	ShippedAt        *time.Time              `firestore:"shippedAt,omitempty"`
	DeliveredAt      *time.Time              `firestore:"deliveredAt,omitempty"`
	CancelledAt      *time.Time              `firestore:"cancelledAt,omitempty"`
}

type customerDocument struct {
	Email   string          `firestore:"email"`
	Name    string          `firestore:"name"`
	Address addressDocument `firestore:"address"`
}

type addressDocument struct {
	Street     string `firestore:"street"`
	City       string `firestore:"city"`
	Region     string `firestore:"region"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Title     string `firestore:"title"`
	Brand     string `firestore:"brand"`
	Era       string `firestore:"era"`
	Size      string `firestore:"size"`
	UnitPrice int64  `firestore:"unitPrice"`
}

type orderTotalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Shipping int64 `firestore:"shipping"`
	Tax      int64 `firestore:"tax"`
	Total    int64 `firestore:"total"`
}

type emailLogEntryDocument struct {
	AttemptID   string    `firestore:"attemptId"`
	Kind        string    `firestore:"kind"`
	Recipient   string    `firestore:"recipient"`
	SentAt      time.Time `firestore:"sentAt"`
	Success     bool      `firestore:"success"`
	ErrorDetail string    `firestore:"errorDetail,omitempty"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:      strings.TrimSpace(order.OrderNumber),
		PaymentReference: strings.TrimSpace(order.PaymentReference),
		Status:           string(order.Status),
		Customer: customerDocument{
			Email: strings.ToLower(strings.TrimSpace(order.Customer.Email)),
			Name:  strings.TrimSpace(order.Customer.Name),
			Address: addressDocument{
				Street:     strings.TrimSpace(order.Customer.Address.Street),
				City:       strings.TrimSpace(order.Customer.Address.City),
				Region:     strings.TrimSpace(order.Customer.Address.Region),
				PostalCode: strings.TrimSpace(order.Customer.Address.PostalCode),
				Country:    strings.TrimSpace(order.Customer.Address.Country),
			},
		},
		Totals: orderTotalsDocument{
			Subtotal: order.Totals.Subtotal,
			Shipping: order.Totals.Shipping,
			Tax:      order.Totals.Tax,
			Total:    order.Totals.Total,
		},
		Currency:       strings.ToLower(strings.TrimSpace(order.Currency)),
		TrackingNumber: normalizeStringPointer(order.TrackingNumber),
		Carrier:        normalizeStringPointer(order.Carrier),
		Locale:         strings.TrimSpace(order.Locale),
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
		PaidAt:         normalizeTimePointer(order.PaidAt),
		ShippedAt:      normalizeTimePointer(order.ShippedAt),
		DeliveredAt:    normalizeTimePointer(order.DeliveredAt),
		CancelledAt:    normalizeTimePointer(order.CancelledAt),
	}

	doc.Items = make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID: strings.TrimSpace(item.ProductID),
			Title:     item.Title,
			Brand:     item.Brand,
			Era:       item.Era,
			Size:      item.Size,
			UnitPrice: item.UnitPrice,
		})
	}

	doc.EmailHistory = make([]emailLogEntryDocument, 0, len(order.EmailHistory))
	for _, entry := range order.EmailHistory {
		doc.EmailHistory = append(doc.EmailHistory, encodeEmailLogEntry(entry))
	}

	return doc
}

func decodeOrderDocument(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:               id,
		OrderNumber:      doc.OrderNumber,
		PaymentReference: doc.PaymentReference,
		Status:           domain.OrderStatus(doc.Status),
		Customer: domain.CustomerInfo{
			Email: doc.Customer.Email,
			Name:  doc.Customer.Name,
			Address: domain.Address{
				Street:     doc.Customer.Address.Street,
				City:       doc.Customer.Address.City,
				Region:     doc.Customer.Address.Region,
				PostalCode: doc.Customer.Address.PostalCode,
				Country:    doc.Customer.Address.Country,
			},
		},
		Totals: domain.OrderTotals{
			Subtotal: doc.Totals.Subtotal,
			Shipping: doc.Totals.Shipping,
			Tax:      doc.Totals.Tax,
			Total:    doc.Totals.Total,
		},
		Currency:       doc.Currency,
		TrackingNumber: doc.TrackingNumber,
		Carrier:        doc.Carrier,
		Locale:         doc.Locale,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
		PaidAt:         doc.PaidAt,
		ShippedAt:      doc.ShippedAt,
		DeliveredAt:    doc.DeliveredAt,
		CancelledAt:    doc.CancelledAt,
	}

	order.Items = make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: item.ProductID,
			Title:     item.Title,
			Brand:     item.Brand,
			Era:       item.Era,
			Size:      item.Size,
			UnitPrice: item.UnitPrice,
		})
	}

	order.EmailHistory = make([]domain.EmailLogEntry, 0, len(doc.EmailHistory))
	for _, entry := range doc.EmailHistory {
		order.EmailHistory = append(order.EmailHistory, domain.EmailLogEntry{
			Kind:        domain.NotificationKind(entry.Kind),
			Recipient:   entry.Recipient,
			SentAt:      entry.SentAt,
			Success:     entry.Success,
			ErrorDetail: entry.ErrorDetail,
		})
	}

	return order
}

// encodeEmailLogEntry stamps every attempt with a fresh ULID. ArrayUnion
// drops elements equal to one already stored, so without the unique ID a
// retried notification to the same recipient would vanish from the trail.
func encodeEmailLogEntry(entry domain.EmailLogEntry) emailLogEntryDocument {
	return emailLogEntryDocument{
		AttemptID:   ulid.Make().String(),
		Kind:        string(entry.Kind),
		Recipient:   strings.TrimSpace(entry.Recipient),
		SentAt:      entry.SentAt.UTC(),
		Success:     entry.Success,
		ErrorDetail: entry.ErrorDetail,
	}
}

// paymentRefDocID escapes the reference so gateway identifiers with slashes
// stay valid document IDs.
func paymentRefDocID(paymentRef string) string {
	return strings.ReplaceAll(strings.TrimSpace(paymentRef), "/", "__")
}

func encodeOrderListToken(createdAt time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	rawTime, timeOK := cursor.StartAfter[0].(string)
	docID, idOK := cursor.StartAfter[1].(string)
	if !timeOK || !idOK {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, docID, nil
}
