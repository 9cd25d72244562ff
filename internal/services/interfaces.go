// Package services implements the checkout, finalization and shipment flows
// on top of the repositories, payment gateway and carrier adapters.
package services

import (
	"context"
	"time"

	"github.com/fernwell/api/internal/address"
	"github.com/fernwell/api/internal/domain"
	"github.com/fernwell/api/internal/payments"
	"github.com/fernwell/api/internal/platform/pagination"
)

// Logger receives structured service events. A nil logger is replaced with a
// no-op so services never guard call sites.
type Logger func(ctx context.Context, event string, fields map[string]any)

const (
	// NotificationOrderConfirmation is sent once after an order is finalized.
	NotificationOrderConfirmation = "order.confirmation"
	// NotificationShipmentTracking is sent when tracking becomes available.
	NotificationShipmentTracking = "shipment.tracking"
)

// Notification carries the payload for a customer-facing email job. Delivery
// is handled by a downstream worker; publishing is best effort.
type Notification struct {
	Type           string            `json:"type"`
	OrderID        string            `json:"orderId"`
	CustomerEmail  string            `json:"customerEmail,omitempty"`
	Carrier        string            `json:"carrier,omitempty"`
	TrackingNumber string            `json:"trackingNumber,omitempty"`
	TrackingURL    string            `json:"trackingUrl,omitempty"`
	OccurredAt     time.Time         `json:"occurredAt"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// NotificationPublisher enqueues notification jobs for async delivery.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, notification Notification) (string, error)
}

// AddressValidator checks deliverability of a postal address.
type AddressValidator interface {
	Validate(ctx context.Context, addr domain.Address) (address.Validation, error)
}

// CheckoutService covers the pre-payment surface: address checks, quoting
// and payment intent creation.
type CheckoutService interface {
	ValidateAddress(ctx context.Context, addr domain.Address) (address.Validation, error)
	Quote(ctx context.Context, cmd QuoteCommand) (domain.OrderTotals, error)
	CreateIntent(ctx context.Context, cmd CreateIntentCommand) (payments.Intent, error)
}

// OrderService finalizes paid checkouts into persisted orders.
type OrderService interface {
	Finalize(ctx context.Context, cmd FinalizeCommand) (FinalizeResult, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ApplyPaymentEvent(ctx context.Context, event payments.WebhookEvent) (domain.Order, error)
}

// ShipmentPage is one page of an order's shipments, newest first. An empty
// NextPageToken means the listing is exhausted.
type ShipmentPage struct {
	Shipments     []domain.Shipment
	NextPageToken string
}

// ShipmentService manages label purchases and tracking state for orders.
type ShipmentService interface {
	GetRates(ctx context.Context, orderID, presetID string) ([]domain.Rate, error)
	ListShipments(ctx context.Context, orderID string, page pagination.Params) (ShipmentPage, error)
	Purchase(ctx context.Context, orderID string, cmd PurchaseCommand) (domain.Shipment, error)
	RecordManual(ctx context.Context, orderID string, cmd ManualShipmentCommand) (domain.Shipment, error)
	Void(ctx context.Context, shipmentID string) (domain.Shipment, error)
	ClearTracking(ctx context.Context, shipmentID string) (domain.Shipment, error)
	ApplyTrackingEvent(ctx context.Context, orderID string, status domain.ShippingStatus) (domain.Order, error)
}
