package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fernwell/api/internal/address"
	"github.com/fernwell/api/internal/domain"
	"github.com/fernwell/api/internal/payments"
)

// taxRateBasisPoints is the flat sales tax applied to (subtotal - discount).
const taxRateBasisPoints = 800

var (
	// ErrCheckoutInvalidInput signals the caller provided invalid data.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrAmountMismatch indicates the client-claimed total does not match the
	// server-side computation. The intent is never created in that case.
	ErrAmountMismatch = errors.New("checkout: amount does not match computed total")
)

// CheckoutSession is the client-held resumable state for one checkout. It is
// round-tripped as JSON; the server trusts nothing in it except the price
// snapshots, which are re-totalled on every call.
type CheckoutSession struct {
	IdempotencyKey    string            `json:"idempotencyKey,omitempty"`
	Items             []domain.CartItem `json:"items"`
	DiscountCents     int64             `json:"discountCents"`
	ShippingCostCents int64             `json:"shippingCostCents"`
	Currency          string            `json:"currency"`
	IntentID          string            `json:"intentId,omitempty"`
	ShippingAddress   domain.Address    `json:"shippingAddress"`
	BillingAddress    domain.Address    `json:"billingAddress"`
}

// QuoteCommand carries the cart snapshot to be totalled.
type QuoteCommand struct {
	Items             []domain.CartItem
	DiscountCents     int64
	ShippingCostCents int64
}

// CreateIntentCommand requests a payment intent for a checkout session.
// AmountCents is the total the client displayed; it must equal the
// server-side recomputation.
type CreateIntentCommand struct {
	Session       CheckoutSession
	AmountCents   int64
	CustomerEmail string
}

// CheckoutServiceDeps bundles collaborators for NewCheckoutService.
type CheckoutServiceDeps struct {
	Validator AddressValidator
	Gateway   payments.Gateway
	Clock     func() time.Time
	NewKey    func() string
	Logger    Logger
}

type checkoutService struct {
	validator AddressValidator
	gateway   payments.Gateway
	clock     func() time.Time
	newKey    func() string
	logger    Logger
}

// NewCheckoutService wires dependencies into a CheckoutService.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Validator == nil {
		return nil, errors.New("checkout service: address validator is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newKey := deps.NewKey
	if newKey == nil {
		newKey = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		validator: deps.Validator,
		gateway:   deps.Gateway,
		clock:     func() time.Time { return clock().UTC() },
		newKey:    newKey,
		logger:    logger,
	}, nil
}

func (s *checkoutService) ValidateAddress(ctx context.Context, addr domain.Address) (address.Validation, error) {
	return s.validator.Validate(ctx, addr)
}

func (s *checkoutService) Quote(ctx context.Context, cmd QuoteCommand) (domain.OrderTotals, error) {
	return computeTotals(cmd.Items, cmd.DiscountCents, cmd.ShippingCostCents)
}

func (s *checkoutService) CreateIntent(ctx context.Context, cmd CreateIntentCommand) (payments.Intent, error) {
	session := cmd.Session
	currency := strings.TrimSpace(strings.ToLower(session.Currency))
	if currency == "" {
		return payments.Intent{}, fmt.Errorf("%w: currency is required", ErrCheckoutInvalidInput)
	}

	totals, err := computeTotals(session.Items, session.DiscountCents, session.ShippingCostCents)
	if err != nil {
		return payments.Intent{}, err
	}
	if cmd.AmountCents != totals.TotalCents {
		s.logger(ctx, "checkout.intent.amount_mismatch", map[string]any{
			"claimedCents":  cmd.AmountCents,
			"computedCents": totals.TotalCents,
		})
		return payments.Intent{}, ErrAmountMismatch
	}

	key := strings.TrimSpace(session.IdempotencyKey)
	if key == "" {
		key = s.newKey()
	}

	intent, err := s.gateway.CreateIntent(ctx, payments.IntentRequest{
		Amount:         totals.TotalCents,
		Currency:       currency,
		CustomerEmail:  strings.TrimSpace(cmd.CustomerEmail),
		Description:    "Fernwell order",
		IdempotencyKey: key,
	})
	if err != nil {
		return payments.Intent{}, err
	}

	s.logger(ctx, "checkout.intent.created", map[string]any{
		"intentId":    intent.ID,
		"amountCents": intent.Amount,
		"currency":    intent.Currency,
	})
	return intent, nil
}

// computeTotals rebuilds the cost breakdown from price snapshots. Tax is a
// flat rate on the discounted subtotal; shipping is passed through.
func computeTotals(items []domain.CartItem, discountCents, shippingCents int64) (domain.OrderTotals, error) {
	if len(items) == 0 {
		return domain.OrderTotals{}, fmt.Errorf("%w: at least one item is required", ErrCheckoutInvalidInput)
	}
	if discountCents < 0 || shippingCents < 0 {
		return domain.OrderTotals{}, fmt.Errorf("%w: discount and shipping must be non-negative", ErrCheckoutInvalidInput)
	}

	var subtotal int64
	for _, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			return domain.OrderTotals{}, fmt.Errorf("%w: item product id is required", ErrCheckoutInvalidInput)
		}
		if item.Quantity <= 0 {
			return domain.OrderTotals{}, fmt.Errorf("%w: item quantity must be positive", ErrCheckoutInvalidInput)
		}
		if item.UnitPriceCents < 0 {
			return domain.OrderTotals{}, fmt.Errorf("%w: item price must be non-negative", ErrCheckoutInvalidInput)
		}
		subtotal += item.UnitPriceCents * int64(item.Quantity)
	}
	if discountCents > subtotal {
		return domain.OrderTotals{}, fmt.Errorf("%w: discount exceeds subtotal", ErrCheckoutInvalidInput)
	}

	taxable := subtotal - discountCents
	tax := (taxable*taxRateBasisPoints + 5000) / 10000

	totals := domain.OrderTotals{
		SubtotalCents:     subtotal,
		DiscountCents:     discountCents,
		TaxCents:          tax,
		ShippingCostCents: shippingCents,
		TotalCents:        subtotal - discountCents + tax + shippingCents,
	}
	if err := totals.Validate(); err != nil {
		return domain.OrderTotals{}, err
	}
	return totals, nil
}
