package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fernwell/api/internal/domain"
	"github.com/fernwell/api/internal/payments"
	"github.com/fernwell/api/internal/platform/httpx"
	"github.com/fernwell/api/internal/services"
)

const (
	maxWebhookBody        = 256 * 1024
	stripeSignatureHeader = "Stripe-Signature"
	trackingSecretHeader  = "X-Webhook-Secret"
)

// WebhookHandlers receives callbacks from the payment provider and the
// tracking aggregator.
type WebhookHandlers struct {
	verifier       *payments.WebhookVerifier
	orders         services.OrderService
	shipments      services.ShipmentService
	trackingSecret string
	logger         services.Logger
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(verifier *payments.WebhookVerifier, orders services.OrderService, shipments services.ShipmentService, trackingSecret string, logger services.Logger) *WebhookHandlers {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &WebhookHandlers{
		verifier:       verifier,
		orders:         orders,
		shipments:      shipments,
		trackingSecret: trackingSecret,
		logger:         logger,
	}
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripe)
	r.Post("/tracking", h.tracking)
}

func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := readLimitedBody(r, maxWebhookBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	event, err := h.verifier.ParseEvent(payload, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	if event.Type == payments.EventIgnored {
		httpx.WriteJSON(ctx, w, http.StatusOK, map[string]any{"received": true})
		return
	}

	if _, err := h.orders.ApplyPaymentEvent(ctx, event); err != nil {
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			// Events can arrive before finalize or for foreign accounts;
			// acknowledge so the provider stops retrying.
			h.logger(ctx, "webhook.stripe.order_missing", map[string]any{
				"eventType": event.RawType,
				"intentId":  event.IntentID,
			})
		case errors.Is(err, domain.ErrInvalidTransition):
			h.logger(ctx, "webhook.stripe.transition_rejected", map[string]any{
				"eventType": event.RawType,
				"intentId":  event.IntentID,
				"error":     err.Error(),
			})
		default:
			httpx.WriteError(ctx, w, httpx.NewError("internal_error", "event processing failed", http.StatusInternalServerError))
			return
		}
	}

	httpx.WriteJSON(ctx, w, http.StatusOK, map[string]any{"received": true})
}

type trackingWebhookRequest struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

var trackingStatuses = map[string]domain.ShippingStatus{
	"in_transit": domain.ShippingInTransit,
	"delivered":  domain.ShippingDelivered,
	"lost":       domain.ShippingLost,
	"returned":   domain.ShippingReturned,
}

func (h *WebhookHandlers) tracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	secret := strings.TrimSpace(r.Header.Get(trackingSecretHeader))
	if h.trackingSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.trackingSecret)) != 1 {
		httpx.WriteError(ctx, w, httpx.NewError("unauthorized", "invalid webhook secret", http.StatusUnauthorized))
		return
	}

	var req trackingWebhookRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	status, ok := trackingStatuses[strings.TrimSpace(strings.ToLower(req.Status))]
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unsupported tracking status", http.StatusBadRequest))
		return
	}

	order, err := h.shipments.ApplyTrackingEvent(ctx, req.OrderID, status)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			httpx.WriteError(ctx, w, httpx.NewError("order_not_found", err.Error(), http.StatusNotFound))
		case errors.Is(err, domain.ErrInvalidTransition):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
		case errors.Is(err, services.ErrShipmentInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("internal_error", "event processing failed", http.StatusInternalServerError))
		}
		return
	}

	httpx.WriteJSON(ctx, w, http.StatusOK, map[string]any{
		"orderId":        order.ID,
		"shippingStatus": string(order.ShippingStatus),
	})
}
