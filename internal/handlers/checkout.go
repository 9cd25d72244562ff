package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fernwell/api/internal/address"
	"github.com/fernwell/api/internal/domain"
	"github.com/fernwell/api/internal/platform/httpx"
	"github.com/fernwell/api/internal/services"
)

const maxRequestBody = 32 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

// CheckoutHandlers exposes the pre-payment and finalize endpoints.
type CheckoutHandlers struct {
	checkout services.CheckoutService
	orders   services.OrderService
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService, orders services.OrderService) *CheckoutHandlers {
	return &CheckoutHandlers{
		checkout: checkout,
		orders:   orders,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/address/validate", h.validateAddress)
	r.Post("/quote", h.quote)
	r.Post("/intent", h.createIntent)
	r.Post("/finalize", h.finalize)
}

type addressPayload struct {
	Name       string `json:"name,omitempty"`
	Street1    string `json:"street1"`
	Street2    string `json:"street2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
}

func (p addressPayload) toDomain() domain.Address {
	return domain.Address{
		Name:       p.Name,
		Street1:    p.Street1,
		Street2:    p.Street2,
		City:       p.City,
		Region:     p.Region,
		PostalCode: p.PostalCode,
		Country:    p.Country,
		Phone:      p.Phone,
		Email:      p.Email,
	}
}

func addressFromDomain(a domain.Address) addressPayload {
	return addressPayload{
		Name:       a.Name,
		Street1:    a.Street1,
		Street2:    a.Street2,
		City:       a.City,
		Region:     a.Region,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
		Email:      a.Email,
	}
}

type validateAddressRequest struct {
	Address addressPayload `json:"address"`
}

type validateAddressResponse struct {
	IsValid    bool            `json:"isValid"`
	IsComplete bool            `json:"isComplete"`
	Messages   []string        `json:"messages,omitempty"`
	Suggested  *addressPayload `json:"suggested,omitempty"`
	Normalized *addressPayload `json:"normalized,omitempty"`
}

func (h *CheckoutHandlers) validateAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req validateAddressRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	validation, err := h.checkout.ValidateAddress(ctx, req.Address.toDomain())
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, validationResponse(validation))
}

func validationResponse(v address.Validation) validateAddressResponse {
	resp := validateAddressResponse{
		IsValid:    v.IsValid,
		IsComplete: v.IsComplete,
		Messages:   v.Messages,
	}
	if v.Suggested != nil {
		suggested := addressFromDomain(*v.Suggested)
		resp.Suggested = &suggested
	}
	if v.Normalized != nil {
		normalized := addressFromDomain(*v.Normalized)
		resp.Normalized = &normalized
	}
	return resp
}

type cartItemPayload struct {
	ProductID      string `json:"productId"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	Quantity       int    `json:"quantity"`
}

func cartItemsToDomain(items []cartItemPayload) []domain.CartItem {
	converted := make([]domain.CartItem, 0, len(items))
	for _, item := range items {
		converted = append(converted, domain.CartItem{
			ProductID:      item.ProductID,
			Name:           item.Name,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
		})
	}
	return converted
}

type quoteRequest struct {
	Items             []cartItemPayload `json:"items"`
	DiscountCents     int64             `json:"discountCents"`
	ShippingCostCents int64             `json:"shippingCostCents"`
}

type totalsPayload struct {
	SubtotalCents     int64 `json:"subtotalCents"`
	DiscountCents     int64 `json:"discountCents"`
	TaxCents          int64 `json:"taxCents"`
	ShippingCostCents int64 `json:"shippingCostCents"`
	TotalCents        int64 `json:"totalCents"`
}

func (h *CheckoutHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req quoteRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	totals, err := h.checkout.Quote(ctx, services.QuoteCommand{
		Items:             cartItemsToDomain(req.Items),
		DiscountCents:     req.DiscountCents,
		ShippingCostCents: req.ShippingCostCents,
	})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	httpx.WriteJSON(ctx, w, http.StatusOK, totalsPayload{
		SubtotalCents:     totals.SubtotalCents,
		DiscountCents:     totals.DiscountCents,
		TaxCents:          totals.TaxCents,
		ShippingCostCents: totals.ShippingCostCents,
		TotalCents:        totals.TotalCents,
	})
}

type sessionPayload struct {
	IdempotencyKey    string            `json:"idempotencyKey,omitempty"`
	Items             []cartItemPayload `json:"items"`
	DiscountCents     int64             `json:"discountCents"`
	ShippingCostCents int64             `json:"shippingCostCents"`
	Currency          string            `json:"currency"`
	IntentID          string            `json:"intentId,omitempty"`
	ShippingAddress   addressPayload    `json:"shippingAddress"`
	BillingAddress    addressPayload    `json:"billingAddress"`
}

func (p sessionPayload) toSession() services.CheckoutSession {
	return services.CheckoutSession{
		IdempotencyKey:    p.IdempotencyKey,
		Items:             cartItemsToDomain(p.Items),
		DiscountCents:     p.DiscountCents,
		ShippingCostCents: p.ShippingCostCents,
		Currency:          p.Currency,
		IntentID:          p.IntentID,
		ShippingAddress:   p.ShippingAddress.toDomain(),
		BillingAddress:    p.BillingAddress.toDomain(),
	}
}

type createIntentRequest struct {
	Session       sessionPayload `json:"session"`
	AmountCents   int64          `json:"amountCents"`
	CustomerEmail string         `json:"customerEmail"`
}

type createIntentResponse struct {
	IntentID     string `json:"intentId"`
	ClientSecret string `json:"clientSecret,omitempty"`
	Status       string `json:"status"`
	AmountCents  int64  `json:"amountCents"`
	Currency     string `json:"currency"`
}

func (h *CheckoutHandlers) createIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createIntentRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	intent, err := h.checkout.CreateIntent(ctx, services.CreateIntentCommand{
		Session:       req.Session.toSession(),
		AmountCents:   req.AmountCents,
		CustomerEmail: req.CustomerEmail,
	})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	httpx.WriteJSON(ctx, w, http.StatusCreated, createIntentResponse{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       string(intent.Status),
		AmountCents:  intent.Amount,
		Currency:     intent.Currency,
	})
}

type finalizeRequest struct {
	Session                sessionPayload  `json:"session"`
	IntentID               string          `json:"intentId"`
	Customer               customerPayload `json:"customer"`
	AcceptAddressAsEntered bool            `json:"acceptAddressAsEntered"`
	IsTraining             bool            `json:"isTraining"`
}

type customerPayload struct {
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Name      string `json:"name,omitempty"`
	AccountID string `json:"accountId,omitempty"`
}

type finalizeResponse struct {
	OrderID          string `json:"orderId"`
	AlreadyFinalized bool   `json:"alreadyFinalized"`
}

func (h *CheckoutHandlers) finalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req finalizeRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	result, err := h.orders.Finalize(ctx, services.FinalizeCommand{
		Session:  req.Session.toSession(),
		IntentID: req.IntentID,
		Customer: services.CustomerDetails{
			Email:     req.Customer.Email,
			Phone:     req.Customer.Phone,
			Name:      req.Customer.Name,
			AccountID: req.Customer.AccountID,
		},
		AcceptAddressAsEntered: req.AcceptAddressAsEntered,
		IsTraining:             req.IsTraining,
	})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if result.AlreadyFinalized {
		status = http.StatusOK
	}
	httpx.WriteJSON(ctx, w, status, finalizeResponse{
		OrderID:          result.OrderID,
		AlreadyFinalized: result.AlreadyFinalized,
	})
}

func (h *CheckoutHandlers) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput), errors.Is(err, services.ErrFinalizeInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("amount_mismatch", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentNotSettled):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_settled", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrAddressNotDeliverable):
		httpx.WriteError(ctx, w, httpx.NewError("address_not_deliverable", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCustomerExists):
		httpx.WriteError(ctx, w, httpx.NewError("customer_exists", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderPersistFailed):
		httpx.WriteError(ctx, w, httpx.NewError("order_persist_failed", err.Error(), http.StatusInternalServerError))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

// decodeBody reads and unmarshals the JSON request body, writing the error
// response itself when the body is missing or malformed.
func decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}
