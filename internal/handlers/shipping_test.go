package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fernwell/api/internal/domain"
	"github.com/fernwell/api/internal/platform/pagination"
	"github.com/fernwell/api/internal/services"
)

type stubShipmentService struct {
	ratesFn    func(context.Context, string, string) ([]domain.Rate, error)
	listFn     func(context.Context, string, pagination.Params) (services.ShipmentPage, error)
	purchaseFn func(context.Context, string, services.PurchaseCommand) (domain.Shipment, error)
	manualFn   func(context.Context, string, services.ManualShipmentCommand) (domain.Shipment, error)
	voidFn     func(context.Context, string) (domain.Shipment, error)
	clearFn    func(context.Context, string) (domain.Shipment, error)
	trackingFn func(context.Context, string, domain.ShippingStatus) (domain.Order, error)
}

func (s *stubShipmentService) GetRates(ctx context.Context, orderID, presetID string) ([]domain.Rate, error) {
	if s.ratesFn != nil {
		return s.ratesFn(ctx, orderID, presetID)
	}
	return nil, errors.New("not implemented")
}

func (s *stubShipmentService) ListShipments(ctx context.Context, orderID string, page pagination.Params) (services.ShipmentPage, error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID, page)
	}
	return services.ShipmentPage{}, errors.New("not implemented")
}

func (s *stubShipmentService) Purchase(ctx context.Context, orderID string, cmd services.PurchaseCommand) (domain.Shipment, error) {
	if s.purchaseFn != nil {
		return s.purchaseFn(ctx, orderID, cmd)
	}
	return domain.Shipment{}, errors.New("not implemented")
}

func (s *stubShipmentService) RecordManual(ctx context.Context, orderID string, cmd services.ManualShipmentCommand) (domain.Shipment, error) {
	if s.manualFn != nil {
		return s.manualFn(ctx, orderID, cmd)
	}
	return domain.Shipment{}, errors.New("not implemented")
}

func (s *stubShipmentService) Void(ctx context.Context, shipmentID string) (domain.Shipment, error) {
	if s.voidFn != nil {
		return s.voidFn(ctx, shipmentID)
	}
	return domain.Shipment{}, errors.New("not implemented")
}

func (s *stubShipmentService) ClearTracking(ctx context.Context, shipmentID string) (domain.Shipment, error) {
	if s.clearFn != nil {
		return s.clearFn(ctx, shipmentID)
	}
	return domain.Shipment{}, errors.New("not implemented")
}

func (s *stubShipmentService) ApplyTrackingEvent(ctx context.Context, orderID string, status domain.ShippingStatus) (domain.Order, error) {
	if s.trackingFn != nil {
		return s.trackingFn(ctx, orderID, status)
	}
	return domain.Order{}, errors.New("not implemented")
}

func newShippingRouter(shipments services.ShipmentService, orders services.OrderService) http.Handler {
	handlers := NewShippingHandlers(shipments, orders)
	return NewRouter(
		WithOrderRoutes(handlers.OrderRoutes),
		WithShipmentRoutes(handlers.ShipmentRoutes),
	)
}

func TestGetRatesEndpoint(t *testing.T) {
	shipments := &stubShipmentService{
		ratesFn: func(_ context.Context, orderID, presetID string) ([]domain.Rate, error) {
			if orderID != "ord_1" || presetID != "small-box" {
				t.Fatalf("args = %q %q", orderID, presetID)
			}
			return []domain.Rate{
				{RateID: "sh-1", Provider: "shippo", Carrier: "USPS", Service: "Standard", AmountCents: 650, Currency: "USD", TransitDays: 4},
				{RateID: "ep-2", Provider: "easypost", Carrier: "USPS", Service: "Ground", AmountCents: 700, Currency: "USD"},
			}, nil
		},
	}
	router := newShippingRouter(shipments, &stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1/rates?preset=small-box", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Rates []ratePayload `json:"rates"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Rates) != 2 || resp.Rates[0].RateID != "sh-1" || resp.Rates[0].Provider != "shippo" {
		t.Fatalf("rates = %+v", resp.Rates)
	}
}

func TestGetRatesEndpointUnknownOrder(t *testing.T) {
	shipments := &stubShipmentService{
		ratesFn: func(context.Context, string, string) ([]domain.Rate, error) {
			return nil, services.ErrOrderNotFound
		},
	}
	router := newShippingRouter(shipments, &stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_missing/rates", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "order_not_found" {
		t.Fatalf("error code = %q", code)
	}
}

func TestListShipmentsEndpoint(t *testing.T) {
	shipments := &stubShipmentService{
		listFn: func(_ context.Context, orderID string, page pagination.Params) (services.ShipmentPage, error) {
			if orderID != "ord_1" {
				t.Fatalf("order id = %q", orderID)
			}
			if page.PageSize != 1 {
				t.Fatalf("page size = %d", page.PageSize)
			}
			return services.ShipmentPage{
				Shipments:     []domain.Shipment{{ID: "shp_2", OrderID: "ord_1", Status: domain.ShipmentPurchased}},
				NextPageToken: pagination.EncodeToken("shp_2"),
			}, nil
		},
	}
	router := newShippingRouter(shipments, &stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1/shipments?pageSize=1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Shipments     []shipmentResponse `json:"shipments"`
		NextPageToken string             `json:"nextPageToken"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Shipments) != 1 || resp.Shipments[0].ShipmentID != "shp_2" {
		t.Fatalf("unexpected shipments: %+v", resp.Shipments)
	}
	if resp.NextPageToken == "" {
		t.Fatal("expected next page token")
	}
}

func TestListShipmentsEndpointInvalidPageToken(t *testing.T) {
	router := newShippingRouter(&stubShipmentService{}, &stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1/shipments?pageToken=%25%25", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "invalid_request" {
		t.Fatalf("error code = %q", code)
	}
}

func TestPurchaseEndpointRequiresIdempotencyKey(t *testing.T) {
	router := newShippingRouter(&stubShipmentService{}, &stubOrderService{})

	body := `{"provider":"easypost","rateId":"shp_1|rate_1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/shipments", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "idempotency_key_required" {
		t.Fatalf("error code = %q", code)
	}
}

func TestPurchaseEndpointCreatesShipment(t *testing.T) {
	shipments := &stubShipmentService{
		purchaseFn: func(_ context.Context, orderID string, cmd services.PurchaseCommand) (domain.Shipment, error) {
			if orderID != "ord_1" || cmd.Provider != "easypost" || cmd.IdempotencyKey != "label-key-1" {
				t.Fatalf("args = %q %+v", orderID, cmd)
			}
			return domain.Shipment{
				ID:             "shp_1",
				OrderID:        orderID,
				Carrier:        "USPS",
				Service:        "Ground",
				TrackingNumber: "EZ1000000001",
				Status:         domain.ShipmentPurchased,
			}, nil
		},
	}
	router := newShippingRouter(shipments, &stubOrderService{})

	body := `{"provider":"easypost","rateId":"shp_1|rate_1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/shipments", strings.NewReader(body))
	req.Header.Set(idempotencyKeyHeader, "label-key-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	var resp shipmentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ShipmentID != "shp_1" || resp.Status != "purchased" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestManualShipmentEndpoint(t *testing.T) {
	shipments := &stubShipmentService{
		manualFn: func(_ context.Context, orderID string, cmd services.ManualShipmentCommand) (domain.Shipment, error) {
			if cmd.TrackingNumber != "9400100000000000000001" {
				t.Fatalf("cmd = %+v", cmd)
			}
			return domain.Shipment{ID: "shp_manual", OrderID: orderID, Carrier: cmd.Carrier, Status: domain.ShipmentPurchased}, nil
		},
	}
	router := newShippingRouter(shipments, &stubOrderService{})

	body := `{"carrier":"usps","service":"Priority","trackingNumber":"9400100000000000000001"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/shipments/manual", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
}

func TestVoidEndpointStateConflict(t *testing.T) {
	shipments := &stubShipmentService{
		voidFn: func(context.Context, string) (domain.Shipment, error) {
			return domain.Shipment{}, services.ErrShipmentNotVoidable
		},
	}
	router := newShippingRouter(shipments, &stubOrderService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/shipments/shp_1/void", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "shipment_not_voidable" {
		t.Fatalf("error code = %q", code)
	}
}

func TestClearTrackingEndpoint(t *testing.T) {
	shipments := &stubShipmentService{
		clearFn: func(_ context.Context, shipmentID string) (domain.Shipment, error) {
			return domain.Shipment{ID: shipmentID, Status: domain.ShipmentPurchased}, nil
		},
	}
	router := newShippingRouter(shipments, &stubOrderService{})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/shipments/shp_1/tracking", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	var resp shipmentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TrackingNumber != "" {
		t.Fatalf("tracking not cleared: %+v", resp)
	}
}
