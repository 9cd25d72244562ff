package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// WebhookEventType enumerates the PSP events the pipeline reacts to.
type WebhookEventType string

const (
	// EventPaymentSucceeded reports a captured payment intent.
	EventPaymentSucceeded WebhookEventType = "payment_succeeded"
	// EventPaymentFailed reports a payment intent that will not complete.
	EventPaymentFailed WebhookEventType = "payment_failed"
	// EventChargeRefunded reports a full or partial refund on a charge.
	EventChargeRefunded WebhookEventType = "charge_refunded"
	// EventIgnored marks event types the pipeline does not act on.
	EventIgnored WebhookEventType = "ignored"
)

// ErrInvalidSignature is returned when the webhook payload fails signature verification.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// WebhookEvent is the verified, normalised form of a PSP webhook delivery.
type WebhookEvent struct {
	Type           WebhookEventType
	RawType        string
	IntentID       string
	Amount         int64
	AmountRefunded int64
	FullyRefunded  bool
}

// WebhookVerifier validates Stripe webhook signatures and normalises the
// event payloads the order pipeline consumes.
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier constructs a verifier with the endpoint signing secret.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("payments: webhook signing secret is required")
	}
	return &WebhookVerifier{secret: secret}, nil
}

// ParseEvent verifies the Stripe-Signature header and extracts the fields the
// pipeline needs. Unknown event types are returned as EventIgnored rather
// than an error so the endpoint can acknowledge them.
func (v *WebhookVerifier) ParseEvent(payload []byte, signatureHeader string) (WebhookEvent, error) {
	if v == nil {
		return WebhookEvent{}, errors.New("payments: webhook verifier is nil")
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("payments: decode payment intent event: %w", err)
		}
		kind := EventPaymentSucceeded
		if event.Type == "payment_intent.payment_failed" {
			kind = EventPaymentFailed
		}
		return WebhookEvent{
			Type:     kind,
			RawType:  string(event.Type),
			IntentID: intent.ID,
			Amount:   intent.Amount,
		}, nil

	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return WebhookEvent{}, fmt.Errorf("payments: decode charge event: %w", err)
		}
		intentID := ""
		if charge.PaymentIntent != nil {
			intentID = charge.PaymentIntent.ID
		}
		return WebhookEvent{
			Type:           EventChargeRefunded,
			RawType:        string(event.Type),
			IntentID:       intentID,
			Amount:         charge.Amount,
			AmountRefunded: charge.AmountRefunded,
			FullyRefunded:  charge.Amount > 0 && charge.AmountRefunded >= charge.Amount,
		}, nil
	}

	return WebhookEvent{Type: EventIgnored, RawType: string(event.Type)}, nil
}
