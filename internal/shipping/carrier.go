package shipping

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fernwell/api/internal/domain"
)

// ErrorKind classifies carrier failures so callers can decide between
// surfacing the error and retrying with a fresh quote.
type ErrorKind string

const (
	// KindUnavailable covers transport failures and carrier 5xx responses.
	KindUnavailable ErrorKind = "unavailable"
	// KindRejected covers carrier-side validation failures, including stale
	// rate identifiers whose quote has expired.
	KindRejected ErrorKind = "rejected"
)

// CarrierError is the single error shape all adapters normalise into.
// Adapter-specific payloads never cross this boundary.
type CarrierError struct {
	Carrier string
	Kind    ErrorKind
	Message string
}

func (e *CarrierError) Error() string {
	return fmt.Sprintf("carrier %s: %s: %s", e.Carrier, e.Kind, e.Message)
}

// IsUnavailable reports whether err is a CarrierError of kind unavailable.
func IsUnavailable(err error) bool {
	var carrierErr *CarrierError
	return errors.As(err, &carrierErr) && carrierErr.Kind == KindUnavailable
}

// IsRejected reports whether err is a CarrierError of kind rejected.
func IsRejected(err error) bool {
	var carrierErr *CarrierError
	return errors.As(err, &carrierErr) && carrierErr.Kind == KindRejected
}

// RateRequest carries everything an adapter needs to quote a parcel.
type RateRequest struct {
	To     domain.Address
	From   domain.Address
	Parcel domain.Parcel
}

// Label is the result of a successful label purchase.
type Label struct {
	Carrier        string
	Service        string
	LabelURL       string
	TrackingNumber string
	TrackingURL    string
	AmountCents    int64
	Currency       string
	// TransactionID identifies the purchase at the carrier for voiding.
	TransactionID string
}

// VoidResult reports the carrier's disposition of a void request.
type VoidResult struct {
	Status string
}

// CarrierAdapter is the uniform contract over carrier aggregator APIs.
// RateID values are opaque and only meaningful to the adapter that issued
// them.
type CarrierAdapter interface {
	Name() string
	GetRates(ctx context.Context, req RateRequest) ([]domain.Rate, error)
	PurchaseLabel(ctx context.Context, rateID string) (Label, error)
	VoidLabel(ctx context.Context, transactionID string) (VoidResult, error)
}

// SortRates orders rates cheapest-first with a stable tie break on carrier
// and service, so identical inputs always produce the same ordering.
func SortRates(rates []domain.Rate) {
	sort.SliceStable(rates, func(i, j int) bool {
		if rates[i].AmountCents != rates[j].AmountCents {
			return rates[i].AmountCents < rates[j].AmountCents
		}
		if rates[i].Carrier != rates[j].Carrier {
			return rates[i].Carrier < rates[j].Carrier
		}
		return rates[i].Service < rates[j].Service
	})
}

// parseAmountCents converts a carrier decimal amount string such as "7.33"
// into integer cents without going through floating point.
func parseAmountCents(amount string) (int64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return 0, fmt.Errorf("empty amount")
	}

	negative := false
	if strings.HasPrefix(amount, "-") {
		negative = true
		amount = amount[1:]
	}

	whole := amount
	frac := ""
	if idx := strings.IndexByte(amount, '.'); idx >= 0 {
		whole = amount[:idx]
		frac = amount[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	switch {
	case len(frac) == 0:
		frac = "00"
	case len(frac) == 1:
		frac += "0"
	case len(frac) > 2:
		frac = frac[:2]
	}

	wholeVal, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	fracVal, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", amount, err)
	}

	cents := wholeVal*100 + fracVal
	if negative {
		cents = -cents
	}
	return cents, nil
}
