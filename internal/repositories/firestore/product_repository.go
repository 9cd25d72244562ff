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

	"github.com/fernwell/api/internal/domain"
	pfirestore "github.com/fernwell/api/internal/platform/firestore"
)

const productsCollection = "products"

// ProductRepository reads the catalog projection and applies stock decrements.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a ProductRepository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil),
	}, nil
}

// Get fetches a product by ID.
func (r *ProductRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, errors.New("product get: id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// GetMany fetches the products for the given IDs. Missing products are
// omitted rather than treated as an error; callers decide how to react.
func (r *ProductRepository) GetMany(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := products[id]; ok {
			continue
		}
		product, err := r.Get(ctx, id)
		if err != nil {
			var repoErr *pfirestore.Error
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		products[id] = product
	}
	return products, nil
}

// DecrementStock reduces on-hand counts for the purchased quantities inside
// one transaction, clamping at zero. Missing products are skipped: the order
// already exists and inventory bookkeeping must not undo it.
func (r *ProductRepository) DecrementStock(ctx context.Context, items []domain.LineItem) error {
	if len(items) == 0 {
		return nil
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pending struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		updates := make([]pending, 0, len(items))

		for _, item := range items {
			if item.Quantity <= 0 {
				continue
			}
			ref, err := r.base.DocumentRef(ctx, item.ProductID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					continue
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", item.ProductID, err)
			}
			doc.StockOnHand -= item.Quantity
			if doc.StockOnHand < 0 {
				doc.StockOnHand = 0
			}
			doc.UpdatedAt = time.Now().UTC()
			updates = append(updates, pending{ref: ref, doc: doc})
		}

		for _, update := range updates {
			if err := tx.Set(update.ref, update.doc); err != nil {
				return err
			}
		}
		return nil
	})
}

type productDocument struct {
	Name           string    `firestore:"name"`
	UnitPriceCents int64     `firestore:"unitPriceCents"`
	WeightGrams    float64   `firestore:"weightGrams"`
	StockOnHand    int       `firestore:"stockOnHand"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:             id,
		Name:           d.Name,
		UnitPriceCents: d.UnitPriceCents,
		WeightGrams:    d.WeightGrams,
		StockOnHand:    d.StockOnHand,
	}
}
