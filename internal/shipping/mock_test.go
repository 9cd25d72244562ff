package shipping

import (
	"context"
	"reflect"
	"testing"

	"github.com/fernwell/api/internal/domain"
)

func TestMockAdapterRatesAreDeterministic(t *testing.T) {
	adapter := NewMockAdapter()
	req := RateRequest{To: austinAddress(), From: warehouseAddress(), Parcel: testParcel()}

	first, err := adapter.GetRates(context.Background(), req)
	if err != nil {
		t.Fatalf("GetRates: %v", err)
	}
	second, err := adapter.GetRates(context.Background(), req)
	if err != nil {
		t.Fatalf("GetRates: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical rates on repeat call:\n%+v\n%+v", first, second)
	}
	if len(first) != 2 {
		t.Fatalf("expected two synthetic rates, got %d", len(first))
	}
	if first[0].AmountCents > first[1].AmountCents {
		t.Fatal("expected rates sorted cheapest first")
	}
}

func TestMockAdapterPurchaseIsIdempotentPerRate(t *testing.T) {
	adapter := NewMockAdapter()
	rates, err := adapter.GetRates(context.Background(), RateRequest{
		To: austinAddress(), From: warehouseAddress(), Parcel: testParcel(),
	})
	if err != nil {
		t.Fatalf("GetRates: %v", err)
	}

	first, err := adapter.PurchaseLabel(context.Background(), rates[0].RateID)
	if err != nil {
		t.Fatalf("PurchaseLabel: %v", err)
	}
	if first.TrackingNumber == "" || first.LabelURL == "" {
		t.Fatalf("expected populated label, got %+v", first)
	}

	second, err := adapter.PurchaseLabel(context.Background(), rates[0].RateID)
	if err != nil {
		t.Fatalf("PurchaseLabel retry: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("expected retried purchase to return the original label")
	}
}

func TestMockAdapterRejectsUnknownIdentifiers(t *testing.T) {
	adapter := NewMockAdapter()

	if _, err := adapter.PurchaseLabel(context.Background(), "rate_foreign"); !IsRejected(err) {
		t.Fatalf("expected rejection for unknown rate, got %v", err)
	}
	if _, err := adapter.VoidLabel(context.Background(), "txn_foreign"); !IsRejected(err) {
		t.Fatalf("expected rejection for unknown transaction, got %v", err)
	}
}

func TestBuildParcelSumsWeightsAndAddsTare(t *testing.T) {
	preset := domain.PackagePreset{ID: "standard", LengthCM: 30, WidthCM: 23, HeightCM: 15, TareGrams: 120}
	items := []domain.LineItem{
		{ProductID: "prod_candle", Quantity: 2},
		{ProductID: "prod_soap", Quantity: 1},
		{ProductID: "prod_unknown", Quantity: 3},
	}
	products := map[string]domain.Product{
		"prod_candle": {ID: "prod_candle", WeightGrams: 310},
		"prod_soap":   {ID: "prod_soap", WeightGrams: 95},
	}

	parcel, err := BuildParcel(items, products, preset)
	if err != nil {
		t.Fatalf("BuildParcel: %v", err)
	}

	want := 2*310.0 + 95 + 120
	if parcel.WeightGrams != want {
		t.Fatalf("expected weight %v, got %v", want, parcel.WeightGrams)
	}
	if parcel.LengthCM != 30 || parcel.WidthCM != 23 || parcel.HeightCM != 15 {
		t.Fatalf("expected preset dimensions, got %+v", parcel)
	}
}

func TestBuildParcelRejectsWeightlessOrders(t *testing.T) {
	preset := domain.PackagePreset{ID: "standard", TareGrams: 120}
	_, err := BuildParcel(nil, nil, preset)
	if err != ErrEmptyParcel {
		t.Fatalf("expected ErrEmptyParcel, got %v", err)
	}
}
