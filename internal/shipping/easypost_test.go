package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fernwell/api/internal/domain"
)

func austinAddress() domain.Address {
	return domain.Address{
		Name:       "Jordan Reyes",
		Street1:    "123 Main St",
		City:       "Austin",
		Region:     "TX",
		PostalCode: "78701",
		Country:    "US",
	}
}

func warehouseAddress() domain.Address {
	return domain.Address{
		Name:       "Fernwell Fulfillment",
		Street1:    "900 Commerce Dr",
		City:       "Portland",
		Region:     "OR",
		PostalCode: "97201",
		Country:    "US",
	}
}

func testParcel() domain.Parcel {
	return domain.Parcel{WeightGrams: 850, LengthCM: 30, WidthCM: 23, HeightCM: 15}
}

func TestEasyPostGetRatesConvertsUnitsAndSorts(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shipments" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if user, _, _ := r.BasicAuth(); user != "ek_test" {
			t.Fatalf("unexpected api key %q", user)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "shp_1",
			"rates": [
				{"id": "rate_b", "carrier": "UPS", "service": "Ground", "rate": "11.40", "currency": "usd", "delivery_days": 4},
				{"id": "rate_a", "carrier": "USPS", "service": "Priority", "rate": "7.33", "currency": "usd", "delivery_days": 2}
			]
		}`))
	}))
	defer server.Close()

	adapter, err := NewEasyPostAdapter("ek_test", WithEasyPostBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewEasyPostAdapter: %v", err)
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
	if rates[0].AmountCents != 733 || rates[0].Carrier != "USPS" {
		t.Fatalf("expected cheapest rate first, got %+v", rates[0])
	}
	if rates[0].RateID != "shp_1|rate_a" {
		t.Fatalf("expected composite rate id, got %q", rates[0].RateID)
	}
	if rates[0].Currency != "USD" {
		t.Fatalf("expected uppercase currency, got %s", rates[0].Currency)
	}

	shipment := captured["shipment"].(map[string]any)
	parcel := shipment["parcel"].(map[string]any)
	// 850g is just under 30oz; 30cm is about 11.81in.
	if oz := parcel["weight"].(float64); oz < 29.9 || oz > 30.1 {
		t.Fatalf("expected weight in ounces, got %v", oz)
	}
	if length := parcel["length"].(float64); length < 11.7 || length > 11.9 {
		t.Fatalf("expected length in inches, got %v", length)
	}
}

func TestEasyPostPurchaseLabelSplitsCompositeRateID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shipments/shp_1/buy" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var payload struct {
			Rate struct {
				ID string `json:"id"`
			} `json:"rate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload.Rate.ID != "rate_a" {
			t.Fatalf("unexpected rate id %q", payload.Rate.ID)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "shp_1",
			"selected_rate": {"id": "rate_a", "carrier": "USPS", "service": "Priority", "rate": "7.33", "currency": "usd"},
			"postage_label": {"label_url": "https://labels.example/shp_1.pdf"},
			"tracking_code": "9400100000000000000000",
			"tracker": {"public_url": "https://track.example/9400100000000000000000"}
		}`))
	}))
	defer server.Close()

	adapter, err := NewEasyPostAdapter("ek_test", WithEasyPostBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewEasyPostAdapter: %v", err)
	}

	label, err := adapter.PurchaseLabel(context.Background(), "shp_1|rate_a")
	if err != nil {
		t.Fatalf("PurchaseLabel: %v", err)
	}
	if label.TrackingNumber != "9400100000000000000000" {
		t.Fatalf("unexpected tracking number %q", label.TrackingNumber)
	}
	if label.LabelURL != "https://labels.example/shp_1.pdf" {
		t.Fatalf("unexpected label url %q", label.LabelURL)
	}
	if label.TransactionID != "shp_1" {
		t.Fatalf("unexpected transaction id %q", label.TransactionID)
	}
	if label.AmountCents != 733 || label.Carrier != "USPS" || label.Service != "Priority" {
		t.Fatalf("unexpected label details: %+v", label)
	}
}

func TestEasyPostPurchaseLabelRejectsMalformedRateID(t *testing.T) {
	adapter, err := NewEasyPostAdapter("ek_test")
	if err != nil {
		t.Fatalf("NewEasyPostAdapter: %v", err)
	}
	_, err = adapter.PurchaseLabel(context.Background(), "rate_without_shipment")
	if !IsRejected(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestEasyPostNormalisesFailureModes(t *testing.T) {
	cases := []struct {
		name        string
		status      int
		body        string
		unavailable bool
	}{
		{"server error", http.StatusBadGateway, `{}`, true},
		{"stale rate", http.StatusUnprocessableEntity, `{"error":{"message":"rate expired"}}`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			adapter, err := NewEasyPostAdapter("ek_test", WithEasyPostBaseURL(server.URL))
			if err != nil {
				t.Fatalf("NewEasyPostAdapter: %v", err)
			}

			_, err = adapter.PurchaseLabel(context.Background(), "shp_1|rate_a")
			if tc.unavailable && !IsUnavailable(err) {
				t.Fatalf("expected unavailable, got %v", err)
			}
			if !tc.unavailable {
				if !IsRejected(err) {
					t.Fatalf("expected rejection, got %v", err)
				}
				var carrierErr *CarrierError
				if !errors.As(err, &carrierErr) || carrierErr.Message != "rate expired" {
					t.Fatalf("expected provider message to surface, got %v", err)
				}
			}
		})
	}
}

func TestEasyPostVoidLabel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shipments/shp_1/refund" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "shp_1", "refund_status": "submitted"}`))
	}))
	defer server.Close()

	adapter, err := NewEasyPostAdapter("ek_test", WithEasyPostBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewEasyPostAdapter: %v", err)
	}

	result, err := adapter.VoidLabel(context.Background(), "shp_1")
	if err != nil {
		t.Fatalf("VoidLabel: %v", err)
	}
	if result.Status != "submitted" {
		t.Fatalf("unexpected void status %q", result.Status)
	}
}

func TestParseAmountCents(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"7.33", 733, false},
		{"11.4", 1140, false},
		{"5", 500, false},
		{"0.05", 5, false},
		{"12.999", 1299, false},
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := parseAmountCents(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseAmountCents(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseAmountCents(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parseAmountCents(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
