package payments

import (
	"context"
	"errors"
	"time"
)

// Status enumerates the normalised intent states reported by the PSP.
type Status string

const (
	// StatusRequiresPaymentMethod indicates the customer has not yet supplied a payment method.
	StatusRequiresPaymentMethod Status = "requires_payment_method"
	// StatusRequiresAction indicates the customer must complete an additional step such as 3DS.
	StatusRequiresAction Status = "requires_action"
	// StatusProcessing indicates the PSP accepted the payment and settlement is in flight.
	StatusProcessing Status = "processing"
	// StatusRequiresCapture indicates the payment is authorised and awaiting capture.
	StatusRequiresCapture Status = "requires_capture"
	// StatusSucceeded indicates the payment is captured.
	StatusSucceeded Status = "succeeded"
	// StatusCanceled indicates the intent was cancelled and cannot complete.
	StatusCanceled Status = "canceled"
)

// IsTerminal reports whether the status counts as a completed payment for
// order finalisation. Processing and authorised-but-uncaptured intents are
// accepted because the PSP guarantees eventual settlement or a webhook
// reversal.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusProcessing, StatusRequiresCapture:
		return true
	default:
		return false
	}
}

// ErrIntentNotFound is returned when the PSP has no record of the intent ID.
var ErrIntentNotFound = errors.New("payments: intent not found")

// IntentRequest carries the amounts and correlation metadata for a new intent.
type IntentRequest struct {
	Amount         int64
	Currency       string
	CustomerEmail  string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// Intent is the normalised view of a PSP payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	Status       Status
	Amount       int64
	Currency     string
	CreatedAt    time.Time
}

// RefundRequest asks the PSP to refund an intent, optionally partially.
type RefundRequest struct {
	IntentID       string
	Amount         *int64
	Reason         string
	IdempotencyKey string
}

// Refund is the normalised view of a PSP refund.
type Refund struct {
	ID       string
	IntentID string
	Amount   int64
	Currency string
	Status   string
}

// Gateway is the PSP contract the checkout and webhook flows depend on.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	GetIntent(ctx context.Context, intentID string) (Intent, error)
	CreateRefund(ctx context.Context, req RefundRequest) (Refund, error)
}
