package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/threadline/orders-api/internal/platform/firestore"
	"github.com/threadline/orders-api/internal/repositories"
)

const countersCollection = "rate_counters"

type counterDocument struct {
	Count       int64     `firestore:"count"`
	WindowStart time.Time `firestore:"windowStart"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository backed by
// Firestore transactions. Counters are scoped to a time window so every API
// instance observes the same request totals.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[counterDocument]
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[counterDocument](provider, countersCollection, nil, nil)
	return &CounterRepository{
		provider: provider,
		counters: base,
	}, nil
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// Increment atomically bumps the counter for the key and window, returning the
// value after the increment. A fresh document is created when the window has
// rolled over.
func (r *CounterRepository) Increment(ctx context.Context, key string, windowStart time.Time) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, errors.New("counter repository: key is required")
	}

	windowStart = windowStart.UTC()
	id := counterDocID(key, windowStart)
	now := time.Now().UTC()
	var value int64

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.NotFound:
			doc := counterDocument{
				Count:       1,
				WindowStart: windowStart,
				UpdatedAt:   now,
			}
			if err := tx.Create(ref, doc); err != nil {
				return err
			}
			value = doc.Count
			return nil
		case codes.OK:
			// proceed
		default:
			return err
		}

		var doc counterDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore counters decode %s: %w", id, err)
		}

		doc.Count++
		doc.WindowStart = windowStart
		doc.UpdatedAt = now

		if err := tx.Set(ref, doc, firestore.MergeAll); err != nil {
			return err
		}
		value = doc.Count
		return nil
	})
	if err != nil {
		return 0, pfirestore.WrapError("counters.increment", err)
	}
	return value, nil
}

func counterDocID(key string, windowStart time.Time) string {
	safeKey := strings.ReplaceAll(key, "/", "__")
	return fmt.Sprintf("%s_%d", safeKey, windowStart.Unix())
}
