package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned for any status change outside the
// transition tables below. Callers must not write status fields directly.
var ErrInvalidTransition = errors.New("domain: invalid status transition")

// TransitionError describes a rejected status change on one axis.
type TransitionError struct {
	Axis string
	From string
	To   string
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("domain: %s transition %s -> %s not allowed", e.Axis, e.From, e.To)
}

// Unwrap allows errors.Is checks against ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// The three axes vary independently, so each gets its own table instead of
// one combined machine with a combinatorial state set.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:           {PaymentPaid},
	PaymentPaid:              {PaymentRefunded, PaymentPartiallyRefunded},
	PaymentPartiallyRefunded: {PaymentRefunded, PaymentPartiallyRefunded},
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPendingPayment:     {OrderPendingFulfillment, OrderCancelled},
	OrderPendingFulfillment: {OrderFulfilled, OrderCancelled},
}

var shippingTransitions = map[ShippingStatus][]ShippingStatus{
	ShippingNotShipped: {ShippingShipped},
	ShippingShipped:    {ShippingInTransit, ShippingDelivered, ShippingLost, ShippingReturned},
	ShippingInTransit:  {ShippingDelivered, ShippingLost, ShippingReturned},
}

// CanTransitionPayment reports whether the payment axis allows from -> to.
func CanTransitionPayment(from, to PaymentStatus) bool {
	return containsStatus(paymentTransitions[from], to)
}

// CanTransitionOrder reports whether the fulfillment axis allows from -> to.
func CanTransitionOrder(from, to OrderStatus) bool {
	return containsStatus(orderTransitions[from], to)
}

// CanTransitionShipping reports whether the shipping axis allows from -> to.
func CanTransitionShipping(from, to ShippingStatus) bool {
	return containsStatus(shippingTransitions[from], to)
}

// TransitionPayment validates and applies a payment status change.
func (o *Order) TransitionPayment(to PaymentStatus) error {
	if !CanTransitionPayment(o.PaymentStatus, to) {
		return &TransitionError{Axis: "payment_status", From: string(o.PaymentStatus), To: string(to)}
	}
	o.PaymentStatus = to
	return nil
}

// TransitionOrder validates and applies a fulfillment status change.
func (o *Order) TransitionOrder(to OrderStatus) error {
	if !CanTransitionOrder(o.OrderStatus, to) {
		return &TransitionError{Axis: "order_status", From: string(o.OrderStatus), To: string(to)}
	}
	o.OrderStatus = to
	return nil
}

// TransitionShipping validates and applies a shipping status change.
func (o *Order) TransitionShipping(to ShippingStatus) error {
	if !CanTransitionShipping(o.ShippingStatus, to) {
		return &TransitionError{Axis: "shipping_status", From: string(o.ShippingStatus), To: string(to)}
	}
	o.ShippingStatus = to
	return nil
}

func containsStatus[T comparable](values []T, target T) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
