// Package repositories defines the persistence contracts the order pipeline
// depends on. Implementations live in the firestore subpackage.
package repositories

import (
	"context"

	"github.com/fernwell/api/internal/domain"
)

// RepositoryError lets callers branch on persistence failure classes without
// importing a concrete backend.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// IsNotFound reports whether err represents a missing record.
func IsNotFound(err error) bool {
	repoErr, ok := err.(RepositoryError)
	return ok && repoErr.IsNotFound()
}

// IsConflict reports whether err represents a uniqueness or precondition conflict.
func IsConflict(err error) bool {
	repoErr, ok := err.(RepositoryError)
	return ok && repoErr.IsConflict()
}

// CustomerRepository persists customer identities referenced by orders.
type CustomerRepository interface {
	Get(ctx context.Context, id string) (domain.Customer, error)
	// FindByEmailOrPhone returns the first customer matching either contact
	// field. A not-found error means no collision exists.
	FindByEmailOrPhone(ctx context.Context, email, phone string) (domain.Customer, error)
	Create(ctx context.Context, customer domain.Customer) error
}

// OrderRepository persists the order aggregate. Line items and the shipping
// detail are embedded in the order record and written atomically with it.
type OrderRepository interface {
	Get(ctx context.Context, id string) (domain.Order, error)
	// FindByPaymentRef locates an existing order for a payment reference,
	// the dedupe check that makes finalize re-entrant.
	FindByPaymentRef(ctx context.Context, paymentRef string) (domain.Order, error)
	// CreateAggregate writes the full aggregate in one atomic operation and
	// fails with a conflict if an order for the same payment reference
	// already exists.
	CreateAggregate(ctx context.Context, order domain.Order) error
	// UpdateStatuses loads the order inside a transaction, applies the
	// mutation, and persists the three status axes. The mutation must only
	// change statuses via the domain transition methods.
	UpdateStatuses(ctx context.Context, orderID string, apply func(order *domain.Order) error) (domain.Order, error)
}

// ShipmentRepository persists label history. Rows are append-mostly: voiding
// and tracking corrections update fields but never delete rows.
type ShipmentRepository interface {
	Get(ctx context.Context, id string) (domain.Shipment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Shipment, error)
	// FindByOrderAndKey returns the shipment previously purchased with this
	// idempotency key, or a not-found error.
	FindByOrderAndKey(ctx context.Context, orderID, idempotencyKey string) (domain.Shipment, error)
	Create(ctx context.Context, shipment domain.Shipment) error
	Update(ctx context.Context, shipment domain.Shipment) error
	// ClearTracking nulls tracking and label fields while preserving the row.
	ClearTracking(ctx context.Context, id string) (domain.Shipment, error)
}

// ProductRepository reads the catalog projection and applies the best-effort
// stock decrement after finalization.
type ProductRepository interface {
	Get(ctx context.Context, id string) (domain.Product, error)
	GetMany(ctx context.Context, ids []string) (map[string]domain.Product, error)
	// DecrementStock reduces on-hand counts for the purchased quantities.
	// Counts are clamped at zero; the caller logs failures rather than
	// rolling back the order.
	DecrementStock(ctx context.Context, items []domain.LineItem) error
}

// HealthRepository verifies the datastore is reachable for readiness checks.
type HealthRepository interface {
	Check(ctx context.Context) error
}
