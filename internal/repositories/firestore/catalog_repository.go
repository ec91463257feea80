package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/threadline/orders-api/internal/platform/firestore"
	"github.com/threadline/orders-api/internal/repositories"
)

const productsCollection = "products"

// CatalogRepository flips product availability flags as orders are created and
// cancelled. Each product is one-of-a-kind, so availability is a boolean
// rather than a stock count.
type CatalogRepository struct {
	base *pfirestore.BaseRepository[productAvailabilityDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository: firestore provider is required")
	}
	return &CatalogRepository{
		base: pfirestore.NewBaseRepository[productAvailabilityDocument](provider, productsCollection, nil, nil),
	}, nil
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

type productAvailabilityDocument struct {
	Available bool      `firestore:"available"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// SetAvailability marks the product as available or sold.
func (r *CatalogRepository) SetAvailability(ctx context.Context, productID string, available bool) error {
	if r == nil || r.base == nil {
		return errors.New("catalog repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("catalog repository: product id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, productID)
	if err != nil {
		return err
	}
	updates := []firestore.Update{
		{Path: "available", Value: available},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}
	if _, err := docRef.Update(ctx, updates); err != nil {
		return pfirestore.WrapError("products.set_availability", err)
	}
	return nil
}
