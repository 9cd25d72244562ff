package domain

import (
	"errors"
	"strings"
	"time"
)

// PaymentStatus tracks how much of the order total has been settled or returned.
type PaymentStatus string

const (
	// PaymentPending indicates no terminal charge outcome has been recorded yet.
	PaymentPending PaymentStatus = "pending"
	// PaymentPaid indicates the payment intent reached a terminal success state.
	PaymentPaid PaymentStatus = "paid"
	// PaymentRefunded indicates the full captured amount has been returned.
	PaymentRefunded PaymentStatus = "refunded"
	// PaymentPartiallyRefunded indicates part of the captured amount has been returned.
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// OrderStatus tracks fulfillment progress independently of payment and shipping.
type OrderStatus string

const (
	// OrderPendingPayment indicates the order awaits a settled payment.
	OrderPendingPayment OrderStatus = "pending_payment"
	// OrderPendingFulfillment indicates payment settled and the order awaits packing.
	OrderPendingFulfillment OrderStatus = "pending_fulfillment"
	// OrderFulfilled indicates the order left fulfillment; terminal outside returns handling.
	OrderFulfilled OrderStatus = "fulfilled"
	// OrderCancelled indicates the order was cancelled before fulfillment.
	OrderCancelled OrderStatus = "cancelled"
)

// ShippingStatus tracks parcel movement from label purchase onwards.
type ShippingStatus string

const (
	// ShippingNotShipped indicates no label has been purchased for the order.
	ShippingNotShipped ShippingStatus = "not_shipped"
	// ShippingShipped indicates a label exists; set by the first label purchase.
	ShippingShipped ShippingStatus = "shipped"
	// ShippingInTransit indicates the carrier has scanned the parcel.
	ShippingInTransit ShippingStatus = "in_transit"
	// ShippingDelivered indicates the carrier reports delivery.
	ShippingDelivered ShippingStatus = "delivered"
	// ShippingLost indicates the carrier reports the parcel as lost.
	ShippingLost ShippingStatus = "lost"
	// ShippingReturned indicates the parcel came back to the warehouse.
	ShippingReturned ShippingStatus = "returned"
)

// Address is a normalised postal address snapshot.
type Address struct {
	Name       string
	Street1    string
	Street2    string
	City       string
	Region     string
	PostalCode string
	Country    string
	Phone      string
	Email      string
}

// Equal reports whether two addresses match on the fields carriers normalise.
// Name, phone and email are ignored; comparison is case-insensitive.
func (a Address) Equal(b Address) bool {
	eq := func(x, y string) bool {
		return strings.EqualFold(strings.TrimSpace(x), strings.TrimSpace(y))
	}
	return eq(a.Street1, b.Street1) &&
		eq(a.Street2, b.Street2) &&
		eq(a.City, b.City) &&
		eq(a.Region, b.Region) &&
		eq(a.PostalCode, b.PostalCode) &&
		eq(a.Country, b.Country)
}

// Customer is the identity record an order references. Immutable once referenced.
type Customer struct {
	ID        string
	Email     string
	Phone     string
	Name      string
	AccountID string
	Guest     bool
	CreatedAt time.Time
}

// CartItem is the client-held snapshot of a product at checkout time.
// The unit price is captured here and never re-read from the catalog.
type CartItem struct {
	ProductID      string
	Name           string
	UnitPriceCents int64
	Quantity       int
}

// OrderTotals holds the monetary breakdown in integer cents, fixed at creation.
type OrderTotals struct {
	SubtotalCents     int64
	DiscountCents     int64
	TaxCents          int64
	ShippingCostCents int64
	TotalCents        int64
}

// ErrTotalsMismatch is returned when an order total does not equal its components.
var ErrTotalsMismatch = errors.New("domain: total does not equal subtotal - discount + tax + shipping")

// Validate checks the order total invariant. It is enforced once at creation
// and never recomputed afterwards.
func (t OrderTotals) Validate() error {
	if t.SubtotalCents < 0 || t.DiscountCents < 0 || t.TaxCents < 0 || t.ShippingCostCents < 0 {
		return errors.New("domain: negative amount in order totals")
	}
	if t.TotalCents != t.SubtotalCents-t.DiscountCents+t.TaxCents+t.ShippingCostCents {
		return ErrTotalsMismatch
	}
	return nil
}

// LineItem records one purchased product at its checkout-time price.
// Created with the order, immutable afterwards.
type LineItem struct {
	ProductID      string
	Name           string
	Quantity       int
	UnitPriceCents int64
}

// ShippingDetail is the validated destination snapshot stored with the order.
type ShippingDetail struct {
	RecipientName string
	Address       Address
}

// Order is the aggregate root. Line items and the shipping detail are written
// atomically with the order and never mutated afterwards; only the three status
// axes change, and only through the transition tables in this package.
type Order struct {
	ID             string
	CustomerID     string
	PaymentStatus  PaymentStatus
	OrderStatus    OrderStatus
	ShippingStatus ShippingStatus
	Totals         OrderTotals
	Currency       string
	PaymentRef     string
	// IsTraining marks synthetic orders so reporting can exclude them from
	// revenue and operational aggregates.
	IsTraining     bool
	BillingAddress Address
	Items          []LineItem
	Shipping       ShippingDetail
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ShipmentStatus tracks the lifecycle of a purchased (or recorded) label.
type ShipmentStatus string

const (
	// ShipmentCreated indicates a shipment row exists without a purchased label.
	ShipmentCreated ShipmentStatus = "created"
	// ShipmentPurchased indicates a label was bought and tracking assigned.
	ShipmentPurchased ShipmentStatus = "purchased"
	// ShipmentVoided indicates the label was voided at the carrier.
	ShipmentVoided ShipmentStatus = "voided"
)

// Shipment is one label purchase (or manual tracking record) for an order.
// Re-labeling creates additional rows instead of overwriting; the newest row
// with a label URL is the active label for display.
type Shipment struct {
	ID             string
	OrderID        string
	Carrier        string
	Service        string
	TrackingNumber string
	TrackingURL    string
	LabelURL       string
	TransactionID  string
	IdempotencyKey string
	AmountCents    int64
	Currency       string
	Status         ShipmentStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Rate is an ephemeral carrier quote. Rates are never persisted; a stale
// RateID fails at the carrier and is surfaced as an error, not retried.
// Provider is the adapter that issued the quote and the value a purchase
// must route by; Carrier is the underlying carrier the adapter quoted
// (for example "USPS" via the easypost provider).
type Rate struct {
	RateID       string
	Provider     string
	Carrier      string
	Service      string
	AmountCents  int64
	Currency     string
	TransitDays  int
	DeliveryDate *time.Time
}

// Parcel describes the physical package submitted for rate shopping.
// Weight is always grams; dimensions always centimetres. Carrier adapters
// convert to their own units internally.
type Parcel struct {
	WeightGrams float64
	LengthCM    float64
	WidthCM     float64
	HeightCM    float64
}

// PackagePreset is a configured box size selectable at rate-shopping time.
type PackagePreset struct {
	ID       string
	Name     string
	LengthCM float64
	WidthCM  float64
	HeightCM float64
	// TareGrams is the empty-box weight added to the product weight sum.
	TareGrams float64
}

// Product is the read-only catalog projection this pipeline consumes.
type Product struct {
	ID             string
	Name           string
	UnitPriceCents int64
	WeightGrams    float64
	StockOnHand    int
}
