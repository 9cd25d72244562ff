package shipping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestShippoGetRatesUsesMetricUnits(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shipments/" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "ShippoToken shippo_test" {
			t.Fatalf("unexpected authorization header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object_id": "shipment_1",
			"status": "SUCCESS",
			"rates": [
				{"object_id": "rate_2", "provider": "FedEx", "servicelevel": {"name": "2 Day"}, "amount": "14.85", "currency": "usd", "estimated_days": 2},
				{"object_id": "rate_1", "provider": "USPS", "servicelevel": {"name": "Ground Advantage"}, "amount": "6.10", "currency": "usd", "estimated_days": 4}
			]
		}`))
	}))
	defer server.Close()

	adapter, err := NewShippoAdapter("shippo_test", WithShippoBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewShippoAdapter: %v", err)
	}

	rates, err := adapter.GetRates(context.Background(), RateRequest{
		To:     austinAddress(),
		From:   warehouseAddress(),
		Parcel: testParcel(),
	})
	if err != nil {
		t.Fatalf("GetRates: %v", err)
	}

	if len(rates) != 2 {
		t.Fatalf("expected two rates, got %d", len(rates))
	}
	if rates[0].AmountCents != 610 || rates[0].Carrier != "USPS" {
		t.Fatalf("expected cheapest rate first, got %+v", rates[0])
	}
	if rates[0].RateID != "rate_1" {
		t.Fatalf("unexpected rate id %q", rates[0].RateID)
	}

	parcels := captured["parcels"].([]any)
	parcel := parcels[0].(map[string]any)
	if parcel["mass_unit"] != "g" || parcel["distance_unit"] != "cm" {
		t.Fatalf("expected metric units, got %+v", parcel)
	}
	if parcel["weight"] != "850" {
		t.Fatalf("expected weight in grams, got %v", parcel["weight"])
	}
}

func TestShippoGetRatesSurfacesProviderMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object_id": "shipment_2", "status": "ERROR", "rates": [], "messages": [{"text": "destination postal code invalid"}]}`))
	}))
	defer server.Close()

	adapter, err := NewShippoAdapter("shippo_test", WithShippoBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewShippoAdapter: %v", err)
	}

	_, err = adapter.GetRates(context.Background(), RateRequest{
		To:     austinAddress(),
		From:   warehouseAddress(),
		Parcel: testParcel(),
	})
	if !IsRejected(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestShippoPurchaseLabel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transactions/" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload["rate"] != "rate_1" {
			t.Fatalf("unexpected rate %v", payload["rate"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object_id": "txn_1",
			"status": "SUCCESS",
			"label_url": "https://labels.example/txn_1.pdf",
			"tracking_number": "SHIPPO123",
			"tracking_url_provider": "https://track.example/SHIPPO123",
			"rate": {"object_id": "rate_1", "provider": "USPS", "servicelevel": {"name": "Ground Advantage"}, "amount": "6.10", "currency": "usd"}
		}`))
	}))
	defer server.Close()

	adapter, err := NewShippoAdapter("shippo_test", WithShippoBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewShippoAdapter: %v", err)
	}

	label, err := adapter.PurchaseLabel(context.Background(), "rate_1")
	if err != nil {
		t.Fatalf("PurchaseLabel: %v", err)
	}
	if label.TrackingNumber != "SHIPPO123" || label.TransactionID != "txn_1" {
		t.Fatalf("unexpected label: %+v", label)
	}
	if label.AmountCents != 610 || label.Service != "Ground Advantage" {
		t.Fatalf("unexpected label pricing: %+v", label)
	}
}

func TestShippoPurchaseLabelFailureSurfacesMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object_id": "txn_2", "status": "ERROR", "messages": [{"text": "rate has expired"}]}`))
	}))
	defer server.Close()

	adapter, err := NewShippoAdapter("shippo_test", WithShippoBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewShippoAdapter: %v", err)
	}

	_, err = adapter.PurchaseLabel(context.Background(), "rate_expired")
	if !IsRejected(err) {
		t.Fatalf("expected rejection for failed transaction, got %v", err)
	}
}

func TestShippoVoidLabel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/refunds/" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object_id": "refund_1", "status": "QUEUED"}`))
	}))
	defer server.Close()

	adapter, err := NewShippoAdapter("shippo_test", WithShippoBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewShippoAdapter: %v", err)
	}

	result, err := adapter.VoidLabel(context.Background(), "txn_1")
	if err != nil {
		t.Fatalf("VoidLabel: %v", err)
	}
	if result.Status != "queued" {
		t.Fatalf("unexpected void status %q", result.Status)
	}
}
