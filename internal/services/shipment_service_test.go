package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fernwell/api/internal/domain"
	"github.com/fernwell/api/internal/platform/pagination"
	"github.com/fernwell/api/internal/shipping"
)

type stubShipmentRepo struct {
	getFn           func(context.Context, string) (domain.Shipment, error)
	listFn          func(context.Context, string) ([]domain.Shipment, error)
	findByKeyFn     func(context.Context, string, string) (domain.Shipment, error)
	createFn        func(context.Context, domain.Shipment) error
	updateFn        func(context.Context, domain.Shipment) error
	clearTrackingFn func(context.Context, string) (domain.Shipment, error)
}

func (s *stubShipmentRepo) Get(ctx context.Context, id string) (domain.Shipment, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return domain.Shipment{}, repoNotFound{}
}

func (s *stubShipmentRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.Shipment, error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID)
	}
	return nil, nil
}

func (s *stubShipmentRepo) FindByOrderAndKey(ctx context.Context, orderID, key string) (domain.Shipment, error) {
	if s.findByKeyFn != nil {
		return s.findByKeyFn(ctx, orderID, key)
	}
	return domain.Shipment{}, repoNotFound{}
}

func (s *stubShipmentRepo) Create(ctx context.Context, shipment domain.Shipment) error {
	if s.createFn != nil {
		return s.createFn(ctx, shipment)
	}
	return nil
}

func (s *stubShipmentRepo) Update(ctx context.Context, shipment domain.Shipment) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, shipment)
	}
	return nil
}

func (s *stubShipmentRepo) ClearTracking(ctx context.Context, id string) (domain.Shipment, error) {
	if s.clearTrackingFn != nil {
		return s.clearTrackingFn(ctx, id)
	}
	return domain.Shipment{}, repoNotFound{}
}

type stubAdapter struct {
	name       string
	ratesFn    func(context.Context, shipping.RateRequest) ([]domain.Rate, error)
	purchaseFn func(context.Context, string) (shipping.Label, error)
	voidFn     func(context.Context, string) (shipping.VoidResult, error)
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) GetRates(ctx context.Context, req shipping.RateRequest) ([]domain.Rate, error) {
	if s.ratesFn != nil {
		return s.ratesFn(ctx, req)
	}
	return nil, nil
}

func (s *stubAdapter) PurchaseLabel(ctx context.Context, rateID string) (shipping.Label, error) {
	if s.purchaseFn != nil {
		return s.purchaseFn(ctx, rateID)
	}
	return shipping.Label{}, errors.New("not implemented")
}

func (s *stubAdapter) VoidLabel(ctx context.Context, transactionID string) (shipping.VoidResult, error) {
	if s.voidFn != nil {
		return s.voidFn(ctx, transactionID)
	}
	return shipping.VoidResult{}, errors.New("not implemented")
}

type shipmentFixture struct {
	orders    *stubOrderRepo
	shipments *stubShipmentRepo
	products  *stubProductRepo
	primary   *stubAdapter
	secondary *stubAdapter
	adapters  []shipping.CarrierAdapter
	publisher *stubPublisher
	events    []string
}

func pendingOrder() domain.Order {
	return domain.Order{
		ID:             "ord_1",
		PaymentStatus:  domain.PaymentPaid,
		OrderStatus:    domain.OrderPendingFulfillment,
		ShippingStatus: domain.ShippingNotShipped,
		Items: []domain.LineItem{
			{ProductID: "prod-mug", Name: "Stoneware Mug", Quantity: 2, UnitPriceCents: 1800},
		},
		Shipping: domain.ShippingDetail{
			RecipientName: "Fern Wells",
			Address: domain.Address{
				Street1:    "1100 Congress Ave",
				City:       "Austin",
				Region:     "TX",
				PostalCode: "78701",
				Country:    "US",
				Email:      "fern@example.com",
			},
		},
	}
}

func newShipmentFixture() *shipmentFixture {
	f := &shipmentFixture{
		orders:    &stubOrderRepo{},
		shipments: &stubShipmentRepo{},
		products: &stubProductRepo{
			getManyFn: func(_ context.Context, ids []string) (map[string]domain.Product, error) {
				return map[string]domain.Product{
					"prod-mug": {ID: "prod-mug", Name: "Stoneware Mug", WeightGrams: 400},
				}, nil
			},
		},
		primary:   &stubAdapter{name: "easypost"},
		secondary: &stubAdapter{name: "shippo"},
		publisher: &stubPublisher{},
	}
	f.orders.getFn = func(_ context.Context, id string) (domain.Order, error) {
		if id != "ord_1" {
			return domain.Order{}, repoNotFound{}
		}
		return pendingOrder(), nil
	}
	f.orders.updateFn = func(_ context.Context, orderID string, apply func(*domain.Order) error) (domain.Order, error) {
		order := pendingOrder()
		order.ID = orderID
		if err := apply(&order); err != nil {
			return domain.Order{}, err
		}
		return order, nil
	}
	return f
}

func (f *shipmentFixture) service(t *testing.T) ShipmentService {
	t.Helper()
	counter := 0
	adapters := f.adapters
	if adapters == nil {
		adapters = []shipping.CarrierAdapter{f.primary, f.secondary}
	}
	svc, err := NewShipmentService(ShipmentServiceDeps{
		Orders:    f.orders,
		Shipments: f.shipments,
		Products:  f.products,
		Adapters:  adapters,
		Presets: []domain.PackagePreset{
			{ID: "small-box", Name: "Small Box", LengthCM: 30, WidthCM: 23, HeightCM: 15, TareGrams: 50},
		},
		Warehouse: domain.Address{
			Street1:    "400 Industrial Blvd",
			City:       "Fort Worth",
			Region:     "TX",
			PostalCode: "76102",
			Country:    "US",
		},
		Notifications: f.publisher,
		Clock:         func() time.Time { return time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC) },
		IDGenerator: func() string {
			counter++
			return "FIXED" + string(rune('0'+counter))
		},
		Logger: func(_ context.Context, event string, _ map[string]any) {
			f.events = append(f.events, event)
		},
	})
	if err != nil {
		t.Fatalf("NewShipmentService: %v", err)
	}
	return svc
}

func TestGetRatesMergesAndSorts(t *testing.T) {
	f := newShipmentFixture()
	f.primary.ratesFn = func(_ context.Context, req shipping.RateRequest) ([]domain.Rate, error) {
		// 2 mugs plus box tare
		if req.Parcel.WeightGrams != 850 {
			t.Fatalf("parcel weight = %v, want 850", req.Parcel.WeightGrams)
		}
		return []domain.Rate{
			{RateID: "ep-1", Carrier: "FedEx", Service: "Express", AmountCents: 1500, Currency: "USD"},
			{RateID: "ep-2", Carrier: "USPS", Service: "Ground", AmountCents: 700, Currency: "USD"},
		}, nil
	}
	f.secondary.ratesFn = func(context.Context, shipping.RateRequest) ([]domain.Rate, error) {
		return []domain.Rate{
			{RateID: "sh-1", Carrier: "USPS", Service: "Standard", AmountCents: 650, Currency: "USD"},
		}, nil
	}

	rates, err := f.service(t).GetRates(context.Background(), "ord_1", "")
	if err != nil {
		t.Fatalf("GetRates: %v", err)
	}
	if len(rates) != 3 {
		t.Fatalf("got %d rates", len(rates))
	}
	if rates[0].RateID != "sh-1" || rates[1].RateID != "ep-2" || rates[2].RateID != "ep-1" {
		t.Fatalf("rates out of order: %+v", rates)
	}
	if rates[0].Provider != "shippo" || rates[1].Provider != "easypost" || rates[2].Provider != "easypost" {
		t.Fatalf("rates missing provider stamp: %+v", rates)
	}
}

func TestGetRatesSkipsFailingCarrier(t *testing.T) {
	f := newShipmentFixture()
	f.primary.ratesFn = func(context.Context, shipping.RateRequest) ([]domain.Rate, error) {
		return nil, &shipping.CarrierError{Carrier: "easypost", Kind: shipping.KindUnavailable, Message: "timeout"}
	}
	f.secondary.ratesFn = func(context.Context, shipping.RateRequest) ([]domain.Rate, error) {
		return []domain.Rate{
			{RateID: "sh-1", Carrier: "USPS", Service: "Standard", AmountCents: 650, Currency: "USD"},
		}, nil
	}

	rates, err := f.service(t).GetRates(context.Background(), "ord_1", "")
	if err != nil {
		t.Fatalf("GetRates: %v", err)
	}
	if len(rates) != 1 || rates[0].RateID != "sh-1" || rates[0].Provider != "shippo" {
		t.Fatalf("rates = %+v", rates)
	}
}

func TestGetRatesAllCarriersDown(t *testing.T) {
	f := newShipmentFixture()
	carrierDown := func(context.Context, shipping.RateRequest) ([]domain.Rate, error) {
		return nil, &shipping.CarrierError{Kind: shipping.KindUnavailable, Message: "down"}
	}
	f.primary.ratesFn = carrierDown
	f.secondary.ratesFn = carrierDown

	if _, err := f.service(t).GetRates(context.Background(), "ord_1", ""); !errors.Is(err, ErrNoRatesAvailable) {
		t.Fatalf("err = %v, want ErrNoRatesAvailable", err)
	}
}

func TestGetRatesUnknownPreset(t *testing.T) {
	f := newShipmentFixture()

	if _, err := f.service(t).GetRates(context.Background(), "ord_1", "pallet"); !errors.Is(err, ErrShipmentInvalidInput) {
		t.Fatalf("err = %v, want ErrShipmentInvalidInput", err)
	}
}

func TestListShipmentsPagesNewestFirst(t *testing.T) {
	f := newShipmentFixture()
	f.shipments.listFn = func(_ context.Context, orderID string) ([]domain.Shipment, error) {
		if orderID != "ord_1" {
			t.Fatalf("order id = %q", orderID)
		}
		return []domain.Shipment{
			{ID: "shp_3", OrderID: "ord_1"},
			{ID: "shp_2", OrderID: "ord_1"},
			{ID: "shp_1", OrderID: "ord_1"},
		}, nil
	}
	svc := f.service(t)

	first, err := svc.ListShipments(context.Background(), "ord_1", pagination.Params{PageSize: 2})
	if err != nil {
		t.Fatalf("ListShipments: %v", err)
	}
	if len(first.Shipments) != 2 || first.Shipments[0].ID != "shp_3" || first.Shipments[1].ID != "shp_2" {
		t.Fatalf("unexpected first page: %+v", first.Shipments)
	}
	if first.NextPageToken == "" {
		t.Fatal("expected a next page token")
	}

	afterID, err := pagination.DecodeToken(first.NextPageToken)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	second, err := svc.ListShipments(context.Background(), "ord_1", pagination.Params{PageSize: 2, AfterID: afterID})
	if err != nil {
		t.Fatalf("ListShipments second page: %v", err)
	}
	if len(second.Shipments) != 1 || second.Shipments[0].ID != "shp_1" {
		t.Fatalf("unexpected second page: %+v", second.Shipments)
	}
	if second.NextPageToken != "" {
		t.Fatalf("expected exhausted listing, got token %q", second.NextPageToken)
	}
}

func TestListShipmentsRejectsUnknownCursor(t *testing.T) {
	f := newShipmentFixture()
	f.shipments.listFn = func(context.Context, string) ([]domain.Shipment, error) {
		return []domain.Shipment{{ID: "shp_1", OrderID: "ord_1"}}, nil
	}
	svc := f.service(t)

	_, err := svc.ListShipments(context.Background(), "ord_1", pagination.Params{PageSize: 2, AfterID: "shp_gone"})
	if !errors.Is(err, ErrShipmentInvalidInput) {
		t.Fatalf("expected ErrShipmentInvalidInput, got %v", err)
	}
}

func TestListShipmentsUnknownOrder(t *testing.T) {
	f := newShipmentFixture()
	svc := f.service(t)

	_, err := svc.ListShipments(context.Background(), "ord_missing", pagination.Params{})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestPurchaseCreatesShipmentAndTransitions(t *testing.T) {
	f := newShipmentFixture()
	f.primary.purchaseFn = func(_ context.Context, rateID string) (shipping.Label, error) {
		if rateID != "shp_abc|rate_1" {
			t.Fatalf("rate id = %q", rateID)
		}
		return shipping.Label{
			Carrier:        "easypost",
			Service:        "Ground",
			LabelURL:       "https://labels.example.com/1.pdf",
			TrackingNumber: "EZ1000000001",
			TrackingURL:    "https://track.example.com/EZ1000000001",
			AmountCents:    700,
			Currency:       "USD",
			TransactionID:  "shp_abc",
		}, nil
	}
	var created domain.Shipment
	f.shipments.createFn = func(_ context.Context, shipment domain.Shipment) error {
		created = shipment
		return nil
	}
	transitioned := false
	f.orders.updateFn = func(_ context.Context, orderID string, apply func(*domain.Order) error) (domain.Order, error) {
		transitioned = true
		order := pendingOrder()
		if err := apply(&order); err != nil {
			return domain.Order{}, err
		}
		if order.ShippingStatus != domain.ShippingShipped {
			t.Fatalf("transition target = %s", order.ShippingStatus)
		}
		return order, nil
	}

	shipment, err := f.service(t).Purchase(context.Background(), "ord_1", PurchaseCommand{
		Provider:       "easypost",
		RateID:         "shp_abc|rate_1",
		IdempotencyKey: "label-key-1",
	})
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if shipment.Status != domain.ShipmentPurchased {
		t.Fatalf("status = %s", shipment.Status)
	}
	if created.TrackingNumber != "EZ1000000001" || created.IdempotencyKey != "label-key-1" {
		t.Fatalf("created = %+v", created)
	}
	if !transitioned {
		t.Fatal("shipping status transition missing")
	}
	if len(f.publisher.published) != 1 || f.publisher.published[0].Type != NotificationShipmentTracking {
		t.Fatalf("published = %+v", f.publisher.published)
	}
	if f.publisher.published[0].CustomerEmail != "fern@example.com" {
		t.Fatalf("notification email = %q", f.publisher.published[0].CustomerEmail)
	}
}

func TestPurchaseDedupesByIdempotencyKey(t *testing.T) {
	f := newShipmentFixture()
	f.shipments.findByKeyFn = func(_ context.Context, orderID, key string) (domain.Shipment, error) {
		if orderID != "ord_1" || key != "label-key-1" {
			t.Fatalf("lookup = %q %q", orderID, key)
		}
		return domain.Shipment{ID: "shp_existing", Status: domain.ShipmentPurchased}, nil
	}
	f.primary.purchaseFn = func(context.Context, string) (shipping.Label, error) {
		t.Fatal("adapter must not be called on replay")
		return shipping.Label{}, nil
	}

	shipment, err := f.service(t).Purchase(context.Background(), "ord_1", PurchaseCommand{
		Provider:       "easypost",
		RateID:         "shp_abc|rate_1",
		IdempotencyKey: "label-key-1",
	})
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if shipment.ID != "shp_existing" {
		t.Fatalf("shipment id = %q", shipment.ID)
	}
	if len(f.publisher.published) != 0 {
		t.Fatal("replay must not notify again")
	}
}

func TestPurchaseAdapterFailureLeavesNoRow(t *testing.T) {
	f := newShipmentFixture()
	f.primary.purchaseFn = func(context.Context, string) (shipping.Label, error) {
		return shipping.Label{}, &shipping.CarrierError{Carrier: "easypost", Kind: shipping.KindRejected, Message: "rate expired"}
	}
	rowCreated := false
	f.shipments.createFn = func(context.Context, domain.Shipment) error {
		rowCreated = true
		return nil
	}
	transitioned := false
	f.orders.updateFn = func(_ context.Context, orderID string, apply func(*domain.Order) error) (domain.Order, error) {
		transitioned = true
		return domain.Order{}, nil
	}

	_, err := f.service(t).Purchase(context.Background(), "ord_1", PurchaseCommand{
		Provider:       "easypost",
		RateID:         "shp_abc|stale",
		IdempotencyKey: "label-key-2",
	})
	if !shipping.IsRejected(err) {
		t.Fatalf("err = %v, want rejected carrier error", err)
	}
	if rowCreated || transitioned {
		t.Fatal("failed purchase must leave no row and no transition")
	}
}

func TestPurchaseRequiresIdempotencyKey(t *testing.T) {
	f := newShipmentFixture()

	_, err := f.service(t).Purchase(context.Background(), "ord_1", PurchaseCommand{
		Provider: "easypost",
		RateID:   "shp_abc|rate_1",
	})
	if !errors.Is(err, ErrShipmentInvalidInput) {
		t.Fatalf("err = %v, want ErrShipmentInvalidInput", err)
	}
}

func TestPurchaseSkipsTransitionWhenAlreadyShipped(t *testing.T) {
	f := newShipmentFixture()
	f.orders.getFn = func(context.Context, string) (domain.Order, error) {
		order := pendingOrder()
		order.ShippingStatus = domain.ShippingShipped
		return order, nil
	}
	f.primary.purchaseFn = func(context.Context, string) (shipping.Label, error) {
		return shipping.Label{Carrier: "easypost", Service: "Ground", TrackingNumber: "EZ2", TransactionID: "shp_2"}, nil
	}
	f.orders.updateFn = func(context.Context, string, func(*domain.Order) error) (domain.Order, error) {
		t.Fatal("re-label must not transition an already shipped order")
		return domain.Order{}, nil
	}

	if _, err := f.service(t).Purchase(context.Background(), "ord_1", PurchaseCommand{
		Provider:       "easypost",
		RateID:         "shp_2|rate_1",
		IdempotencyKey: "relabel-key",
	}); err != nil {
		t.Fatalf("Purchase: %v", err)
	}
}

// A quoted rate must be purchasable as returned, even when the underlying
// carrier name differs from the adapter that quoted it.
func TestPurchaseAcceptsQuotedRate(t *testing.T) {
	f := newShipmentFixture()
	f.adapters = []shipping.CarrierAdapter{shipping.NewMockAdapter()}
	svc := f.service(t)

	rates, err := svc.GetRates(context.Background(), "ord_1", "")
	if err != nil {
		t.Fatalf("GetRates: %v", err)
	}
	if len(rates) == 0 {
		t.Fatal("no rates quoted")
	}
	if rates[0].Provider != "mock" || rates[0].Carrier == "mock" {
		t.Fatalf("rate = %+v, want provider mock with distinct carrier", rates[0])
	}

	shipment, err := svc.Purchase(context.Background(), "ord_1", PurchaseCommand{
		Provider:       rates[0].Provider,
		RateID:         rates[0].RateID,
		IdempotencyKey: "quoted-rate-key",
	})
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if shipment.TrackingNumber == "" {
		t.Fatal("purchased shipment missing tracking number")
	}
}

func TestRecordManualCreatesPurchasedRow(t *testing.T) {
	f := newShipmentFixture()
	var created domain.Shipment
	f.shipments.createFn = func(_ context.Context, shipment domain.Shipment) error {
		created = shipment
		return nil
	}

	shipment, err := f.service(t).RecordManual(context.Background(), "ord_1", ManualShipmentCommand{
		Carrier:        "usps",
		Service:        "Priority",
		TrackingNumber: "9400100000000000000001",
	})
	if err != nil {
		t.Fatalf("RecordManual: %v", err)
	}
	if shipment.Status != domain.ShipmentPurchased {
		t.Fatalf("status = %s", shipment.Status)
	}
	if created.TransactionID != "" {
		t.Fatalf("manual shipment has transaction id %q", created.TransactionID)
	}
	if len(f.publisher.published) != 1 {
		t.Fatalf("published = %+v", f.publisher.published)
	}
}

func TestVoidRejectsNonPurchased(t *testing.T) {
	f := newShipmentFixture()
	f.shipments.getFn = func(context.Context, string) (domain.Shipment, error) {
		return domain.Shipment{ID: "shp_1", Status: domain.ShipmentVoided}, nil
	}
	updated := false
	f.shipments.updateFn = func(context.Context, domain.Shipment) error {
		updated = true
		return nil
	}

	_, err := f.service(t).Void(context.Background(), "shp_1")
	if !errors.Is(err, ErrShipmentNotVoidable) {
		t.Fatalf("err = %v, want ErrShipmentNotVoidable", err)
	}
	if updated {
		t.Fatal("row must stay unchanged")
	}
}

func TestVoidPurchasedLabel(t *testing.T) {
	f := newShipmentFixture()
	f.shipments.getFn = func(context.Context, string) (domain.Shipment, error) {
		return domain.Shipment{ID: "shp_1", OrderID: "ord_1", Carrier: "easypost", TransactionID: "txn_1", Status: domain.ShipmentPurchased}, nil
	}
	voided := ""
	f.primary.voidFn = func(_ context.Context, transactionID string) (shipping.VoidResult, error) {
		voided = transactionID
		return shipping.VoidResult{Status: "refunded"}, nil
	}
	var saved domain.Shipment
	f.shipments.updateFn = func(_ context.Context, shipment domain.Shipment) error {
		saved = shipment
		return nil
	}

	shipment, err := f.service(t).Void(context.Background(), "shp_1")
	if err != nil {
		t.Fatalf("Void: %v", err)
	}
	if voided != "txn_1" {
		t.Fatalf("voided transaction = %q", voided)
	}
	if shipment.Status != domain.ShipmentVoided || saved.Status != domain.ShipmentVoided {
		t.Fatalf("status = %s saved = %s", shipment.Status, saved.Status)
	}
}

func TestVoidCarrierFailureKeepsRow(t *testing.T) {
	f := newShipmentFixture()
	f.shipments.getFn = func(context.Context, string) (domain.Shipment, error) {
		return domain.Shipment{ID: "shp_1", Carrier: "easypost", TransactionID: "txn_1", Status: domain.ShipmentPurchased}, nil
	}
	f.primary.voidFn = func(context.Context, string) (shipping.VoidResult, error) {
		return shipping.VoidResult{}, &shipping.CarrierError{Carrier: "easypost", Kind: shipping.KindRejected, Message: "already in transit"}
	}
	updated := false
	f.shipments.updateFn = func(context.Context, domain.Shipment) error {
		updated = true
		return nil
	}

	if _, err := f.service(t).Void(context.Background(), "shp_1"); !shipping.IsRejected(err) {
		t.Fatalf("err = %v, want rejected carrier error", err)
	}
	if updated {
		t.Fatal("row must stay unchanged on carrier failure")
	}
}

func TestVoidManualShipmentSkipsCarrier(t *testing.T) {
	f := newShipmentFixture()
	f.shipments.getFn = func(context.Context, string) (domain.Shipment, error) {
		return domain.Shipment{ID: "shp_1", Carrier: "usps", Status: domain.ShipmentPurchased}, nil
	}

	shipment, err := f.service(t).Void(context.Background(), "shp_1")
	if err != nil {
		t.Fatalf("Void: %v", err)
	}
	if shipment.Status != domain.ShipmentVoided {
		t.Fatalf("status = %s", shipment.Status)
	}
}

func TestClearTrackingKeepsRow(t *testing.T) {
	f := newShipmentFixture()
	f.shipments.clearTrackingFn = func(_ context.Context, id string) (domain.Shipment, error) {
		return domain.Shipment{ID: id, Status: domain.ShipmentPurchased}, nil
	}

	shipment, err := f.service(t).ClearTracking(context.Background(), "shp_1")
	if err != nil {
		t.Fatalf("ClearTracking: %v", err)
	}
	if shipment.TrackingNumber != "" || shipment.LabelURL != "" {
		t.Fatalf("tracking not cleared: %+v", shipment)
	}
}

func TestApplyTrackingEvent(t *testing.T) {
	f := newShipmentFixture()
	f.orders.getFn = func(context.Context, string) (domain.Order, error) {
		order := pendingOrder()
		order.ShippingStatus = domain.ShippingShipped
		return order, nil
	}
	f.orders.updateFn = func(_ context.Context, orderID string, apply func(*domain.Order) error) (domain.Order, error) {
		order := pendingOrder()
		order.ShippingStatus = domain.ShippingShipped
		if err := apply(&order); err != nil {
			return domain.Order{}, err
		}
		return order, nil
	}

	updated, err := f.service(t).ApplyTrackingEvent(context.Background(), "ord_1", domain.ShippingInTransit)
	if err != nil {
		t.Fatalf("ApplyTrackingEvent: %v", err)
	}
	if updated.ShippingStatus != domain.ShippingInTransit {
		t.Fatalf("shipping status = %s", updated.ShippingStatus)
	}
}

func TestApplyTrackingEventRejectsUnknownStatus(t *testing.T) {
	f := newShipmentFixture()

	if _, err := f.service(t).ApplyTrackingEvent(context.Background(), "ord_1", domain.ShippingStatus("teleported")); !errors.Is(err, ErrShipmentInvalidInput) {
		t.Fatalf("err = %v, want ErrShipmentInvalidInput", err)
	}
}
