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

const (
	ordersCollection      = "orders"
	paymentRefsCollection = "paymentRefs"
)

// OrderRepository persists the order aggregate as a single document with
// line items and the shipping detail embedded, so creation is atomic.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs an OrderRepository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil),
	}, nil
}

// Get fetches an order by ID.
func (r *OrderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Order{}, errors.New("order get: id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByPaymentRef locates the order created for a payment reference.
func (r *OrderRepository) FindByPaymentRef(ctx context.Context, paymentRef string) (domain.Order, error) {
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return domain.Order{}, errors.New("order lookup: payment ref is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("paymentRef", "==", paymentRef).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NewNotFound("orders.lookup", fmt.Errorf("no order for payment ref %q", paymentRef))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// CreateAggregate writes the full aggregate in one transaction, reserving a
// paymentRefs/{ref} marker alongside it. Order IDs are freshly generated, so
// the marker is what makes a second create for the same payment reference
// fail with a conflict instead of producing a duplicate order.
func (r *OrderRepository) CreateAggregate(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order create: id is required")
	}
	if strings.TrimSpace(order.PaymentRef) == "" {
		return errors.New("order create: payment ref is required")
	}
	if err := order.Totals.Validate(); err != nil {
		return fmt.Errorf("order create: %w", err)
	}
	if len(order.Items) == 0 {
		return errors.New("order create: at least one line item is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	orderRef, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	markerRef := client.Collection(paymentRefsCollection).Doc(order.PaymentRef)

	err = r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(markerRef, map[string]any{
			"orderId":   order.ID,
			"createdAt": order.CreatedAt.UTC(),
		}); err != nil {
			return err
		}
		return tx.Create(orderRef, newOrderDocument(order))
	})
	if err != nil {
		return pfirestore.WrapError("orders.create", err)
	}
	return nil
}

// UpdateStatuses applies the mutation inside a transaction and persists the
// three status axes plus the updated timestamp. Everything else on the
// aggregate stays immutable.
func (r *OrderRepository) UpdateStatuses(ctx context.Context, orderID string, apply func(order *domain.Order) error) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order update: id is required")
	}
	if apply == nil {
		return domain.Order{}, errors.New("order update: mutation is required")
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NewNotFound("orders.update", fmt.Errorf("order %s not found", orderID))
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		order := doc.toDomain(orderID)
		if err := apply(&order); err != nil {
			return err
		}
		order.UpdatedAt = time.Now().UTC()

		if err := tx.Update(ref, []firestore.Update{
			{Path: "paymentStatus", Value: string(order.PaymentStatus)},
			{Path: "orderStatus", Value: string(order.OrderStatus)},
			{Path: "shippingStatus", Value: string(order.ShippingStatus)},
			{Path: "updatedAt", Value: order.UpdatedAt},
		}); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.update", err)
	}
	return updated, nil
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var repoErr *pfirestore.Error
	if errors.As(err, &repoErr) {
		return repoErr
	}
	if errors.Is(err, domain.ErrInvalidTransition) {
		return err
	}
	return pfirestore.WrapError(op, err)
}

type orderDocument struct {
	CustomerID     string             `firestore:"customerId"`
	PaymentStatus  string             `firestore:"paymentStatus"`
	OrderStatus    string             `firestore:"orderStatus"`
	ShippingStatus string             `firestore:"shippingStatus"`
	Subtotal       int64              `firestore:"subtotalCents"`
	Discount       int64              `firestore:"discountCents"`
	Tax            int64              `firestore:"taxCents"`
	ShippingCost   int64              `firestore:"shippingCostCents"`
	Total          int64              `firestore:"totalCents"`
	Currency       string             `firestore:"currency"`
	PaymentRef     string             `firestore:"paymentRef"`
	IsTraining     bool               `firestore:"isTraining"`
	BillingAddress addressDocument    `firestore:"billingAddress"`
	Items          []lineItemDocument `firestore:"items"`
	Shipping       shippingDocument   `firestore:"shipping"`
	CreatedAt      time.Time          `firestore:"createdAt"`
	UpdatedAt      time.Time          `firestore:"updatedAt"`
}

type addressDocument struct {
	Name       string `firestore:"name,omitempty"`
	Street1    string `firestore:"street1"`
	Street2    string `firestore:"street2,omitempty"`
	City       string `firestore:"city"`
	Region     string `firestore:"region"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
	Email      string `firestore:"email,omitempty"`
}

type lineItemDocument struct {
	ProductID      string `firestore:"productId"`
	Name           string `firestore:"name"`
	Quantity       int    `firestore:"qty"`
	UnitPriceCents int64  `firestore:"unitPriceCents"`
}

type shippingDocument struct {
	RecipientName string          `firestore:"recipientName"`
	Address       addressDocument `firestore:"address"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]lineItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = lineItemDocument{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		}
	}
	return orderDocument{
		CustomerID:     order.CustomerID,
		PaymentStatus:  string(order.PaymentStatus),
		OrderStatus:    string(order.OrderStatus),
		ShippingStatus: string(order.ShippingStatus),
		Subtotal:       order.Totals.SubtotalCents,
		Discount:       order.Totals.DiscountCents,
		Tax:            order.Totals.TaxCents,
		ShippingCost:   order.Totals.ShippingCostCents,
		Total:          order.Totals.TotalCents,
		Currency:       order.Currency,
		PaymentRef:     order.PaymentRef,
		IsTraining:     order.IsTraining,
		BillingAddress: newAddressDocument(order.BillingAddress),
		Items:          items,
		Shipping: shippingDocument{
			RecipientName: order.Shipping.RecipientName,
			Address:       newAddressDocument(order.Shipping.Address),
		},
		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.LineItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.LineItem{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		}
	}
	return domain.Order{
		ID:             id,
		CustomerID:     d.CustomerID,
		PaymentStatus:  domain.PaymentStatus(d.PaymentStatus),
		OrderStatus:    domain.OrderStatus(d.OrderStatus),
		ShippingStatus: domain.ShippingStatus(d.ShippingStatus),
		Totals: domain.OrderTotals{
			SubtotalCents:     d.Subtotal,
			DiscountCents:     d.Discount,
			TaxCents:          d.Tax,
			ShippingCostCents: d.ShippingCost,
			TotalCents:        d.Total,
		},
		Currency:       d.Currency,
		PaymentRef:     d.PaymentRef,
		IsTraining:     d.IsTraining,
		BillingAddress: d.BillingAddress.toDomain(),
		Items:          items,
		Shipping: domain.ShippingDetail{
			RecipientName: d.Shipping.RecipientName,
			Address:       d.Shipping.Address.toDomain(),
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func newAddressDocument(addr domain.Address) addressDocument {
	return addressDocument{
		Name:       addr.Name,
		Street1:    addr.Street1,
		Street2:    addr.Street2,
		City:       addr.City,
		Region:     addr.Region,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
		Email:      addr.Email,
	}
}

func (d addressDocument) toDomain() domain.Address {
	return domain.Address{
		Name:       d.Name,
		Street1:    d.Street1,
		Street2:    d.Street2,
		City:       d.City,
		Region:     d.Region,
		PostalCode: d.PostalCode,
		Country:    d.Country,
		Phone:      d.Phone,
		Email:      d.Email,
	}
}
