package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fernwell/api/internal/domain"
	"github.com/fernwell/api/internal/platform/httpx"
	"github.com/fernwell/api/internal/platform/pagination"
	"github.com/fernwell/api/internal/services"
	"github.com/fernwell/api/internal/shipping"
)

const idempotencyKeyHeader = "Idempotency-Key"

// ShippingHandlers exposes rate shopping, label purchase and shipment
// management endpoints.
type ShippingHandlers struct {
	shipments services.ShipmentService
	orders    services.OrderService
}

// NewShippingHandlers constructs shipping handlers.
func NewShippingHandlers(shipments services.ShipmentService, orders services.OrderService) *ShippingHandlers {
	return &ShippingHandlers{
		shipments: shipments,
		orders:    orders,
	}
}

// OrderRoutes registers the order-scoped endpoints.
func (h *ShippingHandlers) OrderRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/rates", h.getRates)
	r.Get("/{orderID}/shipments", h.listShipments)
	r.Post("/{orderID}/shipments", h.purchase)
	r.Post("/{orderID}/shipments/manual", h.recordManual)
}

// ShipmentRoutes registers the shipment-scoped endpoints.
func (h *ShippingHandlers) ShipmentRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/{shipmentID}/void", h.void)
	r.Delete("/{shipmentID}/tracking", h.clearTracking)
}

type orderResponse struct {
	OrderID        string         `json:"orderId"`
	CustomerID     string         `json:"customerId"`
	PaymentStatus  string         `json:"paymentStatus"`
	OrderStatus    string         `json:"orderStatus"`
	ShippingStatus string         `json:"shippingStatus"`
	Currency       string         `json:"currency"`
	IsTraining     bool           `json:"isTraining"`
	Totals         totalsPayload  `json:"totals"`
	Items          []itemPayload  `json:"items"`
	Shipping       shippingDetail `json:"shipping"`
	CreatedAt      string         `json:"createdAt"`
}

type itemPayload struct {
	ProductID      string `json:"productId"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
}

type shippingDetail struct {
	RecipientName string         `json:"recipientName"`
	Address       addressPayload `json:"address"`
}

func (h *ShippingHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	items := make([]itemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, itemPayload{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}

	httpx.WriteJSON(ctx, w, http.StatusOK, orderResponse{
		OrderID:        order.ID,
		CustomerID:     order.CustomerID,
		PaymentStatus:  string(order.PaymentStatus),
		OrderStatus:    string(order.OrderStatus),
		ShippingStatus: string(order.ShippingStatus),
		Currency:       order.Currency,
		IsTraining:     order.IsTraining,
		Totals: totalsPayload{
			SubtotalCents:     order.Totals.SubtotalCents,
			DiscountCents:     order.Totals.DiscountCents,
			TaxCents:          order.Totals.TaxCents,
			ShippingCostCents: order.Totals.ShippingCostCents,
			TotalCents:        order.Totals.TotalCents,
		},
		Items: items,
		Shipping: shippingDetail{
			RecipientName: order.Shipping.RecipientName,
			Address:       addressFromDomain(order.Shipping.Address),
		},
		CreatedAt: order.CreatedAt.Format(time.RFC3339),
	})
}

type ratePayload struct {
	RateID       string  `json:"rateId"`
	Provider     string  `json:"provider"`
	Carrier      string  `json:"carrier"`
	Service      string  `json:"service"`
	AmountCents  int64   `json:"amountCents"`
	Currency     string  `json:"currency"`
	TransitDays  int     `json:"transitDays,omitempty"`
	DeliveryDate *string `json:"deliveryDate,omitempty"`
}

func (h *ShippingHandlers) getRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rates, err := h.shipments.GetRates(ctx, chi.URLParam(r, "orderID"), r.URL.Query().Get("preset"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	payload := make([]ratePayload, 0, len(rates))
	for _, rate := range rates {
		entry := ratePayload{
			RateID:      rate.RateID,
			Provider:    rate.Provider,
			Carrier:     rate.Carrier,
			Service:     rate.Service,
			AmountCents: rate.AmountCents,
			Currency:    rate.Currency,
			TransitDays: rate.TransitDays,
		}
		if rate.DeliveryDate != nil {
			formatted := rate.DeliveryDate.Format(time.RFC3339)
			entry.DeliveryDate = &formatted
		}
		payload = append(payload, entry)
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, map[string]any{"rates": payload})
}

func (h *ShippingHandlers) listShipments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.shipments.ListShipments(ctx, chi.URLParam(r, "orderID"), page)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	payload := make([]shipmentResponse, 0, len(result.Shipments))
	for _, shipment := range result.Shipments {
		payload = append(payload, shipmentToResponse(shipment))
	}
	response := map[string]any{"shipments": payload}
	if result.NextPageToken != "" {
		response["nextPageToken"] = result.NextPageToken
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, response)
}

type purchaseRequest struct {
	Provider string `json:"provider"`
	RateID   string `json:"rateId"`
}

type shipmentResponse struct {
	ShipmentID     string `json:"shipmentId"`
	OrderID        string `json:"orderId"`
	Carrier        string `json:"carrier"`
	Service        string `json:"service,omitempty"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
	TrackingURL    string `json:"trackingUrl,omitempty"`
	LabelURL       string `json:"labelUrl,omitempty"`
	AmountCents    int64  `json:"amountCents,omitempty"`
	Currency       string `json:"currency,omitempty"`
	Status         string `json:"status"`
}

func shipmentToResponse(shipment domain.Shipment) shipmentResponse {
	return shipmentResponse{
		ShipmentID:     shipment.ID,
		OrderID:        shipment.OrderID,
		Carrier:        shipment.Carrier,
		Service:        shipment.Service,
		TrackingNumber: shipment.TrackingNumber,
		TrackingURL:    shipment.TrackingURL,
		LabelURL:       shipment.LabelURL,
		AmountCents:    shipment.AmountCents,
		Currency:       shipment.Currency,
		Status:         string(shipment.Status),
	}
}

func (h *ShippingHandlers) purchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if key == "" {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "Idempotency-Key header is required", http.StatusBadRequest))
		return
	}

	var req purchaseRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	shipment, err := h.shipments.Purchase(ctx, chi.URLParam(r, "orderID"), services.PurchaseCommand{
		Provider:       req.Provider,
		RateID:         req.RateID,
		IdempotencyKey: key,
	})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusCreated, shipmentToResponse(shipment))
}

type manualShipmentRequest struct {
	Carrier        string `json:"carrier"`
	Service        string `json:"service,omitempty"`
	TrackingNumber string `json:"trackingNumber"`
	TrackingURL    string `json:"trackingUrl,omitempty"`
}

func (h *ShippingHandlers) recordManual(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req manualShipmentRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	shipment, err := h.shipments.RecordManual(ctx, chi.URLParam(r, "orderID"), services.ManualShipmentCommand{
		Carrier:        req.Carrier,
		Service:        req.Service,
		TrackingNumber: req.TrackingNumber,
		TrackingURL:    req.TrackingURL,
	})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusCreated, shipmentToResponse(shipment))
}

func (h *ShippingHandlers) void(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	shipment, err := h.shipments.Void(ctx, chi.URLParam(r, "shipmentID"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, shipmentToResponse(shipment))
}

func (h *ShippingHandlers) clearTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	shipment, err := h.shipments.ClearTracking(ctx, chi.URLParam(r, "shipmentID"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, shipmentToResponse(shipment))
}

func (h *ShippingHandlers) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrShipmentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("shipment_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrShipmentNotVoidable):
		httpx.WriteError(ctx, w, httpx.NewError("shipment_not_voidable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrShipmentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrNoRatesAvailable), shipping.IsUnavailable(err):
		httpx.WriteError(ctx, w, httpx.NewError("carrier_unavailable", err.Error(), http.StatusBadGateway))
	case shipping.IsRejected(err):
		httpx.WriteError(ctx, w, httpx.NewError("carrier_rejected", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, domain.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
