package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fernwell/api/internal/domain"
	"github.com/fernwell/api/internal/platform/pagination"
	"github.com/fernwell/api/internal/platform/textutil"
	"github.com/fernwell/api/internal/repositories"
	"github.com/fernwell/api/internal/shipping"
)

const shipmentIDPrefix = "shp_"

var (
	// ErrShipmentInvalidInput signals the caller provided invalid data.
	ErrShipmentInvalidInput = errors.New("shipment: invalid input")
	// ErrShipmentNotFound indicates the shipment could not be located.
	ErrShipmentNotFound = errors.New("shipment: not found")
	// ErrShipmentNotVoidable indicates a void was attempted on a shipment
	// that holds no purchased label.
	ErrShipmentNotVoidable = errors.New("shipment: only purchased shipments can be voided")
	// ErrNoRatesAvailable indicates every enabled carrier failed to quote.
	ErrNoRatesAvailable = errors.New("shipment: no carrier returned rates")
)

// PurchaseCommand buys a label for a previously quoted rate. Provider is the
// quoting adapter from the rate, not the underlying carrier. The idempotency
// key makes retried purchases return the original shipment.
type PurchaseCommand struct {
	Provider       string
	RateID         string
	IdempotencyKey string
}

// ManualShipmentCommand records tracking bought outside the carrier
// integrations, for drop-offs paid at the counter.
type ManualShipmentCommand struct {
	Carrier        string
	Service        string
	TrackingNumber string
	TrackingURL    string
}

// ShipmentServiceDeps bundles collaborators for NewShipmentService.
type ShipmentServiceDeps struct {
	Orders          repositories.OrderRepository
	Shipments       repositories.ShipmentRepository
	Products        repositories.ProductRepository
	Adapters        []shipping.CarrierAdapter
	Presets         []domain.PackagePreset
	DefaultPresetID string
	Warehouse       domain.Address
	Notifications   NotificationPublisher
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          Logger
}

type shipmentService struct {
	orders        repositories.OrderRepository
	shipments     repositories.ShipmentRepository
	products      repositories.ProductRepository
	adapters      map[string]shipping.CarrierAdapter
	adapterOrder  []string
	presets       map[string]domain.PackagePreset
	defaultPreset string
	warehouse     domain.Address
	notifications NotificationPublisher
	clock         func() time.Time
	newID         func() string
	logger        Logger
}

// NewShipmentService wires dependencies into a ShipmentService.
func NewShipmentService(deps ShipmentServiceDeps) (ShipmentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("shipment service: order repository is required")
	}
	if deps.Shipments == nil {
		return nil, errors.New("shipment service: shipment repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("shipment service: product repository is required")
	}
	if len(deps.Adapters) == 0 {
		return nil, errors.New("shipment service: at least one carrier adapter is required")
	}

	adapters := make(map[string]shipping.CarrierAdapter, len(deps.Adapters))
	order := make([]string, 0, len(deps.Adapters))
	for _, adapter := range deps.Adapters {
		name := strings.TrimSpace(adapter.Name())
		if name == "" {
			return nil, errors.New("shipment service: adapter with empty name")
		}
		if _, exists := adapters[name]; exists {
			return nil, fmt.Errorf("shipment service: duplicate adapter %q", name)
		}
		adapters[name] = adapter
		order = append(order, name)
	}

	presets := make(map[string]domain.PackagePreset, len(deps.Presets))
	for _, preset := range deps.Presets {
		presets[preset.ID] = preset
	}
	defaultPreset := strings.TrimSpace(deps.DefaultPresetID)
	if defaultPreset == "" && len(deps.Presets) > 0 {
		defaultPreset = deps.Presets[0].ID
	}
	if _, ok := presets[defaultPreset]; !ok {
		return nil, fmt.Errorf("shipment service: default preset %q is not configured", defaultPreset)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &shipmentService{
		orders:        deps.Orders,
		shipments:     deps.Shipments,
		products:      deps.Products,
		adapters:      adapters,
		adapterOrder:  order,
		presets:       presets,
		defaultPreset: defaultPreset,
		warehouse:     deps.Warehouse,
		notifications: deps.Notifications,
		clock:         func() time.Time { return clock().UTC() },
		newID:         idGen,
		logger:        logger,
	}, nil
}

// GetRates rebuilds the parcel from the persisted line items and merges live
// quotes from every adapter. Rates are ephemeral; nothing is stored.
func (s *shipmentService) GetRates(ctx context.Context, orderID, presetID string) ([]domain.Rate, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	preset, err := s.resolvePreset(presetID)
	if err != nil {
		return nil, err
	}

	productIDs := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		productIDs = append(productIDs, item.ProductID)
	}
	products, err := s.products.GetMany(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	parcel, err := shipping.BuildParcel(order.Items, products, preset)
	if err != nil {
		return nil, err
	}

	req := shipping.RateRequest{
		To:     order.Shipping.Address,
		From:   s.warehouse,
		Parcel: parcel,
	}

	var merged []domain.Rate
	var failures int
	for _, name := range s.adapterOrder {
		rates, err := s.adapters[name].GetRates(ctx, req)
		if err != nil {
			failures++
			s.logger(ctx, "shipment.rates.carrier_failed", map[string]any{
				"orderId": order.ID,
				"carrier": name,
				"error":   err.Error(),
			})
			continue
		}
		// The purchase call routes by this name, whatever carrier the
		// adapter quoted underneath.
		for i := range rates {
			rates[i].Provider = name
		}
		merged = append(merged, rates...)
	}
	if len(merged) == 0 && failures > 0 {
		return nil, ErrNoRatesAvailable
	}

	shipping.SortRates(merged)
	return merged, nil
}

// ListShipments returns one page of the order's shipments, newest first. The
// page cursor is the id of the last shipment on the previous page; a cursor
// pointing at a shipment no longer in the listing is rejected.
func (s *shipmentService) ListShipments(ctx context.Context, orderID string, page pagination.Params) (ShipmentPage, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return ShipmentPage{}, err
	}

	shipments, err := s.shipments.ListByOrder(ctx, order.ID)
	if err != nil {
		return ShipmentPage{}, err
	}

	start := 0
	if after := strings.TrimSpace(page.AfterID); after != "" {
		found := false
		for i, shipment := range shipments {
			if shipment.ID == after {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return ShipmentPage{}, fmt.Errorf("%w: unknown page cursor", ErrShipmentInvalidInput)
		}
	}

	size := page.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}

	end := start + size
	if end > len(shipments) {
		end = len(shipments)
	}
	result := ShipmentPage{Shipments: shipments[start:end]}
	if end < len(shipments) {
		result.NextPageToken = pagination.EncodeToken(shipments[end-1].ID)
	}
	return result, nil
}

// Purchase buys the selected rate. Retries with the same idempotency key
// return the shipment created by the first successful purchase; adapter
// failures leave no row and no status change.
func (s *shipmentService) Purchase(ctx context.Context, orderID string, cmd PurchaseCommand) (domain.Shipment, error) {
	provider := strings.TrimSpace(cmd.Provider)
	rateID := strings.TrimSpace(cmd.RateID)
	key := strings.TrimSpace(cmd.IdempotencyKey)
	if provider == "" || rateID == "" {
		return domain.Shipment{}, fmt.Errorf("%w: provider and rate id are required", ErrShipmentInvalidInput)
	}
	if key == "" {
		return domain.Shipment{}, fmt.Errorf("%w: idempotency key is required", ErrShipmentInvalidInput)
	}

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return domain.Shipment{}, err
	}

	if existing, err := s.shipments.FindByOrderAndKey(ctx, order.ID, key); err == nil {
		return existing, nil
	} else if !repositories.IsNotFound(err) {
		return domain.Shipment{}, err
	}

	adapter, ok := s.adapters[provider]
	if !ok {
		return domain.Shipment{}, fmt.Errorf("%w: unknown rate provider %q", ErrShipmentInvalidInput, provider)
	}

	label, err := adapter.PurchaseLabel(ctx, rateID)
	if err != nil {
		return domain.Shipment{}, err
	}

	now := s.clock()
	shipment := domain.Shipment{
		ID:             shipmentIDPrefix + s.newID(),
		OrderID:        order.ID,
		Carrier:        label.Carrier,
		Service:        label.Service,
		TrackingNumber: label.TrackingNumber,
		TrackingURL:    label.TrackingURL,
		LabelURL:       label.LabelURL,
		TransactionID:  label.TransactionID,
		IdempotencyKey: key,
		AmountCents:    label.AmountCents,
		Currency:       label.Currency,
		Status:         domain.ShipmentPurchased,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.shipments.Create(ctx, shipment); err != nil {
		s.logger(ctx, "shipment.purchase.persist_failed", map[string]any{
			"severity":      "error",
			"orderId":       order.ID,
			"provider":      provider,
			"transactionId": label.TransactionID,
			"error":         err.Error(),
		})
		return domain.Shipment{}, err
	}

	s.markShipped(ctx, order, shipment)
	return shipment, nil
}

// RecordManual stores tracking entered by an operator, with the same status
// and notification behaviour as a purchased label.
func (s *shipmentService) RecordManual(ctx context.Context, orderID string, cmd ManualShipmentCommand) (domain.Shipment, error) {
	carrier := strings.TrimSpace(cmd.Carrier)
	tracking := strings.TrimSpace(cmd.TrackingNumber)
	if carrier == "" || tracking == "" {
		return domain.Shipment{}, fmt.Errorf("%w: carrier and tracking number are required", ErrShipmentInvalidInput)
	}

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return domain.Shipment{}, err
	}

	now := s.clock()
	shipment := domain.Shipment{
		ID:             shipmentIDPrefix + s.newID(),
		OrderID:        order.ID,
		Carrier:        carrier,
		Service:        strings.TrimSpace(cmd.Service),
		TrackingNumber: tracking,
		TrackingURL:    strings.TrimSpace(cmd.TrackingURL),
		Status:         domain.ShipmentPurchased,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.shipments.Create(ctx, shipment); err != nil {
		return domain.Shipment{}, err
	}

	s.markShipped(ctx, order, shipment)
	return shipment, nil
}

// Void cancels the label at the carrier. Non-purchased shipments are
// rejected; carrier failures leave the row untouched.
func (s *shipmentService) Void(ctx context.Context, shipmentID string) (domain.Shipment, error) {
	shipment, err := s.getShipment(ctx, shipmentID)
	if err != nil {
		return domain.Shipment{}, err
	}
	if shipment.Status != domain.ShipmentPurchased {
		return domain.Shipment{}, fmt.Errorf("%w: status is %s", ErrShipmentNotVoidable, shipment.Status)
	}

	// Manual records have no carrier transaction to cancel.
	if shipment.TransactionID != "" {
		adapter, ok := s.adapters[shipment.Carrier]
		if !ok {
			return domain.Shipment{}, fmt.Errorf("%w: carrier %q is not configured", ErrShipmentInvalidInput, shipment.Carrier)
		}
		if _, err := adapter.VoidLabel(ctx, shipment.TransactionID); err != nil {
			return domain.Shipment{}, err
		}
	}

	shipment.Status = domain.ShipmentVoided
	shipment.UpdatedAt = s.clock()
	if err := s.shipments.Update(ctx, shipment); err != nil {
		return domain.Shipment{}, err
	}

	s.logger(ctx, "shipment.voided", map[string]any{
		"shipmentId": shipment.ID,
		"orderId":    shipment.OrderID,
		"carrier":    shipment.Carrier,
	})
	return shipment, nil
}

// ClearTracking blanks the tracking and label fields while keeping the row
// as purchase history.
func (s *shipmentService) ClearTracking(ctx context.Context, shipmentID string) (domain.Shipment, error) {
	shipmentID = strings.TrimSpace(shipmentID)
	if shipmentID == "" {
		return domain.Shipment{}, fmt.Errorf("%w: shipment id is required", ErrShipmentInvalidInput)
	}
	shipment, err := s.shipments.ClearTracking(ctx, shipmentID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Shipment{}, ErrShipmentNotFound
		}
		return domain.Shipment{}, err
	}
	return shipment, nil
}

// ApplyTrackingEvent records a carrier status callback on the order's
// shipping axis through the state machine.
func (s *shipmentService) ApplyTrackingEvent(ctx context.Context, orderID string, status domain.ShippingStatus) (domain.Order, error) {
	switch status {
	case domain.ShippingInTransit, domain.ShippingDelivered, domain.ShippingLost, domain.ShippingReturned:
	default:
		return domain.Order{}, fmt.Errorf("%w: unsupported tracking status %q", ErrShipmentInvalidInput, status)
	}

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	updated, err := s.orders.UpdateStatuses(ctx, order.ID, func(order *domain.Order) error {
		return order.TransitionShipping(status)
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger(ctx, "shipment.tracking.updated", map[string]any{
		"orderId":        updated.ID,
		"shippingStatus": string(updated.ShippingStatus),
	})
	return updated, nil
}

// markShipped applies the first-label transition and notifies the customer.
// Later labels for an already shipped order skip the transition.
func (s *shipmentService) markShipped(ctx context.Context, order domain.Order, shipment domain.Shipment) {
	if order.ShippingStatus == domain.ShippingNotShipped {
		if _, err := s.orders.UpdateStatuses(ctx, order.ID, func(order *domain.Order) error {
			return order.TransitionShipping(domain.ShippingShipped)
		}); err != nil {
			s.logger(ctx, "shipment.transition_failed", map[string]any{
				"severity": "error",
				"orderId":  order.ID,
				"error":    err.Error(),
			})
		}
	}

	if s.notifications == nil {
		return
	}
	notification := Notification{
		Type:           NotificationShipmentTracking,
		OrderID:        order.ID,
		CustomerEmail:  orderContactEmail(order),
		Carrier:        shipment.Carrier,
		TrackingNumber: shipment.TrackingNumber,
		TrackingURL:    shipment.TrackingURL,
		OccurredAt:     shipment.CreatedAt,
		Metadata: textutil.NormalizeStringMap(map[string]string{
			"shipmentId": shipment.ID,
			"service":    shipment.Service,
		}),
	}
	if _, err := s.notifications.PublishNotification(ctx, notification); err != nil {
		s.logger(ctx, "shipment.notification.publish_failed", map[string]any{
			"orderId":    order.ID,
			"shipmentId": shipment.ID,
			"error":      err.Error(),
		})
	}
}

func (s *shipmentService) getOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrShipmentInvalidInput)
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Order{}, ErrOrderNotFound
		}
		return domain.Order{}, err
	}
	return order, nil
}

func (s *shipmentService) getShipment(ctx context.Context, shipmentID string) (domain.Shipment, error) {
	shipmentID = strings.TrimSpace(shipmentID)
	if shipmentID == "" {
		return domain.Shipment{}, fmt.Errorf("%w: shipment id is required", ErrShipmentInvalidInput)
	}
	shipment, err := s.shipments.Get(ctx, shipmentID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Shipment{}, ErrShipmentNotFound
		}
		return domain.Shipment{}, err
	}
	return shipment, nil
}

func (s *shipmentService) resolvePreset(presetID string) (domain.PackagePreset, error) {
	id := strings.TrimSpace(presetID)
	if id == "" {
		id = s.defaultPreset
	}
	preset, ok := s.presets[id]
	if !ok {
		return domain.PackagePreset{}, fmt.Errorf("%w: unknown package preset %q", ErrShipmentInvalidInput, id)
	}
	return preset, nil
}

func orderContactEmail(order domain.Order) string {
	if email := strings.TrimSpace(order.Shipping.Address.Email); email != "" {
		return email
	}
	return strings.TrimSpace(order.BillingAddress.Email)
}
