package shipping

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/fernwell/api/internal/domain"
)

const mockName = "mock"

// MockAdapter produces deterministic synthetic rates and labels so the full
// rate-shop and purchase flow can run without live carrier credentials. It is
// only wired in when explicitly enabled in configuration.
type MockAdapter struct {
	mu        sync.Mutex
	purchased map[string]Label
	sequence  int
}

// NewMockAdapter constructs the mock carrier.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{purchased: make(map[string]Label)}
}

// Name implements CarrierAdapter.
func (a *MockAdapter) Name() string { return mockName }

// GetRates implements CarrierAdapter. Amounts derive from the parcel weight
// so identical inputs always quote identically.
func (a *MockAdapter) GetRates(_ context.Context, req RateRequest) ([]domain.Rate, error) {
	if req.Parcel.WeightGrams <= 0 {
		return nil, &CarrierError{Carrier: mockName, Kind: KindRejected, Message: "parcel weight must be positive"}
	}

	base := int64(req.Parcel.WeightGrams) // one cent per gram
	seed := rateSeed(req)
	rates := []domain.Rate{
		{
			RateID:      fmt.Sprintf("mockrate_%s_ground", seed),
			Carrier:     "MockCarrier",
			Service:     "Ground",
			AmountCents: 500 + base,
			Currency:    "USD",
			TransitDays: 5,
		},
		{
			RateID:      fmt.Sprintf("mockrate_%s_express", seed),
			Carrier:     "MockCarrier",
			Service:     "Express",
			AmountCents: 1500 + 2*base,
			Currency:    "USD",
			TransitDays: 1,
		},
	}
	SortRates(rates)
	return rates, nil
}

// PurchaseLabel implements CarrierAdapter. A repeated purchase of the same
// rate ID returns the original label.
func (a *MockAdapter) PurchaseLabel(_ context.Context, rateID string) (Label, error) {
	rateID = strings.TrimSpace(rateID)
	if !strings.HasPrefix(rateID, "mockrate_") {
		return Label{}, &CarrierError{Carrier: mockName, Kind: KindRejected, Message: fmt.Sprintf("unknown rate id %q", rateID)}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if label, ok := a.purchased[rateID]; ok {
		return label, nil
	}

	a.sequence++
	service := "Ground"
	amount := int64(500)
	if strings.HasSuffix(rateID, "_express") {
		service = "Express"
		amount = 1500
	}
	label := Label{
		Carrier:        "MockCarrier",
		Service:        service,
		LabelURL:       fmt.Sprintf("https://labels.invalid/mock/%d.pdf", a.sequence),
		TrackingNumber: fmt.Sprintf("MOCK%08d", a.sequence),
		TrackingURL:    fmt.Sprintf("https://tracking.invalid/mock/MOCK%08d", a.sequence),
		AmountCents:    amount,
		Currency:       "USD",
		TransactionID:  fmt.Sprintf("mocktxn_%d", a.sequence),
	}
	a.purchased[rateID] = label
	return label, nil
}

// VoidLabel implements CarrierAdapter.
func (a *MockAdapter) VoidLabel(_ context.Context, transactionID string) (VoidResult, error) {
	if !strings.HasPrefix(strings.TrimSpace(transactionID), "mocktxn_") {
		return VoidResult{}, &CarrierError{Carrier: mockName, Kind: KindRejected, Message: fmt.Sprintf("unknown transaction id %q", transactionID)}
	}
	return VoidResult{Status: "voided"}, nil
}

func rateSeed(req RateRequest) string {
	sum := sha256.New()
	sum.Write([]byte(req.To.PostalCode))
	sum.Write([]byte(req.From.PostalCode))
	var weight [8]byte
	binary.BigEndian.PutUint64(weight[:], uint64(req.Parcel.WeightGrams))
	sum.Write(weight[:])
	return fmt.Sprintf("%x", sum.Sum(nil)[:8])
}
