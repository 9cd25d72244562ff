package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/fernwell/api/internal/domain"
	pfirestore "github.com/fernwell/api/internal/platform/firestore"
)

const shipmentsCollection = "shipments"

// ShipmentRepository persists label history rows.
type ShipmentRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[shipmentDocument]
}

// NewShipmentRepository constructs a ShipmentRepository.
func NewShipmentRepository(provider *pfirestore.Provider) (*ShipmentRepository, error) {
	if provider == nil {
		return nil, errors.New("shipment repository requires firestore provider")
	}
	return &ShipmentRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[shipmentDocument](provider, shipmentsCollection, nil),
	}, nil
}

// Get fetches a shipment by ID.
func (r *ShipmentRepository) Get(ctx context.Context, id string) (domain.Shipment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Shipment{}, errors.New("shipment get: id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Shipment{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListByOrder returns the shipment history for an order, newest first.
func (r *ShipmentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Shipment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("shipment list: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	shipments := make([]domain.Shipment, len(docs))
	for i, doc := range docs {
		shipments[i] = doc.Data.toDomain(doc.ID)
	}
	return shipments, nil
}

// FindByOrderAndKey returns the shipment purchased under this idempotency key.
func (r *ShipmentRepository) FindByOrderAndKey(ctx context.Context, orderID, idempotencyKey string) (domain.Shipment, error) {
	orderID = strings.TrimSpace(orderID)
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if orderID == "" || idempotencyKey == "" {
		return domain.Shipment{}, errors.New("shipment lookup: order id and idempotency key are required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).
			Where("idempotencyKey", "==", idempotencyKey).
			Limit(1)
	})
	if err != nil {
		return domain.Shipment{}, err
	}
	if len(docs) == 0 {
		return domain.Shipment{}, pfirestore.NewNotFound("shipments.lookup", fmt.Errorf("no shipment for order %s key %s", orderID, idempotencyKey))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// Create writes a new shipment row.
func (r *ShipmentRepository) Create(ctx context.Context, shipment domain.Shipment) error {
	if strings.TrimSpace(shipment.ID) == "" {
		return errors.New("shipment create: id is required")
	}
	if strings.TrimSpace(shipment.OrderID) == "" {
		return errors.New("shipment create: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, shipment.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newShipmentDocument(shipment)); err != nil {
		return pfirestore.WrapError("shipments.create", err)
	}
	return nil
}

// Update rewrites an existing shipment row.
func (r *ShipmentRepository) Update(ctx context.Context, shipment domain.Shipment) error {
	if strings.TrimSpace(shipment.ID) == "" {
		return errors.New("shipment update: id is required")
	}
	_, err := r.base.Set(ctx, shipment.ID, newShipmentDocument(shipment))
	return err
}

// ClearTracking nulls the tracking and label fields without deleting the row.
func (r *ShipmentRepository) ClearTracking(ctx context.Context, id string) (domain.Shipment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Shipment{}, errors.New("shipment clear tracking: id is required")
	}

	now := time.Now().UTC()
	if _, err := r.base.Update(ctx, id, []firestore.Update{
		{Path: "trackingNumber", Value: ""},
		{Path: "trackingUrl", Value: ""},
		{Path: "labelUrl", Value: ""},
		{Path: "updatedAt", Value: now},
	}); err != nil {
		return domain.Shipment{}, err
	}
	return r.Get(ctx, id)
}

type shipmentDocument struct {
	OrderID        string    `firestore:"orderId"`
	Carrier        string    `firestore:"carrier"`
	Service        string    `firestore:"service,omitempty"`
	TrackingNumber string    `firestore:"trackingNumber"`
	TrackingURL    string    `firestore:"trackingUrl"`
	LabelURL       string    `firestore:"labelUrl"`
	TransactionID  string    `firestore:"transactionId,omitempty"`
	IdempotencyKey string    `firestore:"idempotencyKey,omitempty"`
	AmountCents    int64     `firestore:"amountCents"`
	Currency       string    `firestore:"currency,omitempty"`
	Status         string    `firestore:"status"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func newShipmentDocument(shipment domain.Shipment) shipmentDocument {
	return shipmentDocument{
		OrderID:        shipment.OrderID,
		Carrier:        shipment.Carrier,
		Service:        shipment.Service,
		TrackingNumber: shipment.TrackingNumber,
		TrackingURL:    shipment.TrackingURL,
		LabelURL:       shipment.LabelURL,
		TransactionID:  shipment.TransactionID,
		IdempotencyKey: shipment.IdempotencyKey,
		AmountCents:    shipment.AmountCents,
		Currency:       shipment.Currency,
		Status:         string(shipment.Status),
		CreatedAt:      shipment.CreatedAt.UTC(),
		UpdatedAt:      shipment.UpdatedAt.UTC(),
	}
}

func (d shipmentDocument) toDomain(id string) domain.Shipment {
	return domain.Shipment{
		ID:             id,
		OrderID:        d.OrderID,
		Carrier:        d.Carrier,
		Service:        d.Service,
		TrackingNumber: d.TrackingNumber,
		TrackingURL:    d.TrackingURL,
		LabelURL:       d.LabelURL,
		TransactionID:  d.TransactionID,
		IdempotencyKey: d.IdempotencyKey,
		AmountCents:    d.AmountCents,
		Currency:       d.Currency,
		Status:         domain.ShipmentStatus(d.Status),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}
