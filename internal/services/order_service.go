package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fernwell/api/internal/domain"
	"github.com/fernwell/api/internal/payments"
	"github.com/fernwell/api/internal/platform/textutil"
	"github.com/fernwell/api/internal/repositories"
)

const (
	orderIDPrefix    = "ord_"
	customerIDPrefix = "cus_"
)

var (
	// ErrFinalizeInvalidInput signals the caller provided invalid data.
	ErrFinalizeInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrPaymentNotSettled indicates the payment intent has no terminal
	// success status. No order is created.
	ErrPaymentNotSettled = errors.New("order: payment not settled")
	// ErrAddressNotDeliverable indicates the shipping address failed
	// validation and the caller did not override.
	ErrAddressNotDeliverable = errors.New("order: shipping address not deliverable")
	// ErrCustomerExists indicates a guest checkout collides with a
	// registered account holding the same email or phone.
	ErrCustomerExists = errors.New("order: contact belongs to an existing account")
	// ErrOrderPersistFailed indicates the payment was captured but the order
	// record could not be written. Requires manual reconciliation.
	ErrOrderPersistFailed = errors.New("order: payment captured but order creation failed")
)

// CustomerDetails is the contact block submitted at finalize time.
type CustomerDetails struct {
	Email     string
	Phone     string
	Name      string
	AccountID string
}

// FinalizeCommand resumes a checkout session after the client confirms
// payment. AcceptAddressAsEntered skips the deliverability gate when the
// customer rejected a suggested correction.
type FinalizeCommand struct {
	Session                CheckoutSession
	IntentID               string
	Customer               CustomerDetails
	AcceptAddressAsEntered bool
	// IsTraining flags the order as synthetic so downstream reporting can
	// leave it out of revenue aggregates.
	IsTraining bool
}

// FinalizeResult reports the order for the payment. AlreadyFinalized is set
// when a prior finalize for the same intent already created it.
type FinalizeResult struct {
	OrderID          string
	AlreadyFinalized bool
}

// OrderServiceDeps bundles collaborators for NewOrderService.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Customers     repositories.CustomerRepository
	Products      repositories.ProductRepository
	Gateway       payments.Gateway
	Validator     AddressValidator
	Notifications NotificationPublisher
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        Logger
}

type orderService struct {
	orders        repositories.OrderRepository
	customers     repositories.CustomerRepository
	products      repositories.ProductRepository
	gateway       payments.Gateway
	validator     AddressValidator
	notifications NotificationPublisher
	clock         func() time.Time
	newID         func() string
	logger        Logger
}

// NewOrderService wires dependencies into an OrderService.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Customers == nil {
		return nil, errors.New("order service: customer repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:        deps.Orders,
		customers:     deps.Customers,
		products:      deps.Products,
		gateway:       deps.Gateway,
		validator:     deps.Validator,
		notifications: deps.Notifications,
		clock:         func() time.Time { return clock().UTC() },
		newID:         idGen,
		logger:        logger,
	}, nil
}

func (s *orderService) Finalize(ctx context.Context, cmd FinalizeCommand) (FinalizeResult, error) {
	intentID := strings.TrimSpace(cmd.IntentID)
	if intentID == "" {
		intentID = strings.TrimSpace(cmd.Session.IntentID)
	}
	if intentID == "" {
		return FinalizeResult{}, fmt.Errorf("%w: payment intent id is required", ErrFinalizeInvalidInput)
	}
	if len(cmd.Session.Items) == 0 {
		return FinalizeResult{}, fmt.Errorf("%w: session has no items", ErrFinalizeInvalidInput)
	}
	email := strings.TrimSpace(strings.ToLower(cmd.Customer.Email))
	if email == "" {
		return FinalizeResult{}, fmt.Errorf("%w: customer email is required", ErrFinalizeInvalidInput)
	}

	// The client's claim that payment succeeded is never trusted; the intent
	// status is re-read from the gateway.
	intent, err := s.gateway.GetIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, payments.ErrIntentNotFound) {
			return FinalizeResult{}, fmt.Errorf("%w: unknown payment intent", ErrFinalizeInvalidInput)
		}
		return FinalizeResult{}, err
	}
	if !intent.Status.IsTerminal() {
		return FinalizeResult{}, fmt.Errorf("%w: intent status is %s", ErrPaymentNotSettled, intent.Status)
	}

	if existing, err := s.orders.FindByPaymentRef(ctx, intentID); err == nil {
		return FinalizeResult{OrderID: existing.ID, AlreadyFinalized: true}, nil
	} else if !repositories.IsNotFound(err) {
		return FinalizeResult{}, err
	}

	shippingAddr, err := s.resolveShippingAddress(ctx, cmd)
	if err != nil {
		return FinalizeResult{}, err
	}

	totals, err := computeTotals(cmd.Session.Items, cmd.Session.DiscountCents, cmd.Session.ShippingCostCents)
	if err != nil {
		return FinalizeResult{}, err
	}
	if intent.Amount != totals.TotalCents {
		return FinalizeResult{}, fmt.Errorf("%w: intent amount %d does not match order total %d",
			ErrFinalizeInvalidInput, intent.Amount, totals.TotalCents)
	}

	customerID, err := s.resolveCustomer(ctx, cmd.Customer, email)
	if err != nil {
		return FinalizeResult{}, err
	}

	now := s.clock()
	order := domain.Order{
		ID:             orderIDPrefix + s.newID(),
		CustomerID:     customerID,
		PaymentStatus:  domain.PaymentPaid,
		OrderStatus:    domain.OrderPendingFulfillment,
		ShippingStatus: domain.ShippingNotShipped,
		Totals:         totals,
		Currency:       intent.Currency,
		PaymentRef:     intentID,
		IsTraining:     cmd.IsTraining,
		BillingAddress: cmd.Session.BillingAddress,
		Items:          buildLineItems(cmd.Session.Items),
		Shipping: domain.ShippingDetail{
			RecipientName: recipientName(shippingAddr, cmd.Customer),
			Address:       shippingAddr,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.orders.CreateAggregate(ctx, order); err != nil {
		if repositories.IsConflict(err) {
			// Concurrent finalize for the same intent; the other writer won.
			if existing, findErr := s.orders.FindByPaymentRef(ctx, intentID); findErr == nil {
				return FinalizeResult{OrderID: existing.ID, AlreadyFinalized: true}, nil
			}
		}
		s.logger(ctx, "order.finalize.persist_failed", map[string]any{
			"severity":   "critical",
			"paymentRef": intentID,
			"error":      err.Error(),
		})
		return FinalizeResult{}, fmt.Errorf("%w: %v", ErrOrderPersistFailed, err)
	}

	s.decrementStock(ctx, order)
	s.publish(ctx, Notification{
		Type:          NotificationOrderConfirmation,
		OrderID:       order.ID,
		CustomerEmail: email,
		OccurredAt:    now,
		Metadata: textutil.NormalizeStringMap(map[string]string{
			"currency":   order.Currency,
			"totalCents": strconv.FormatInt(totals.TotalCents, 10),
		}),
	})

	s.logger(ctx, "order.finalized", map[string]any{
		"orderId":    order.ID,
		"paymentRef": intentID,
		"totalCents": totals.TotalCents,
	})
	return FinalizeResult{OrderID: order.ID}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrFinalizeInvalidInput)
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Order{}, ErrOrderNotFound
		}
		return domain.Order{}, err
	}
	return order, nil
}

// ApplyPaymentEvent records a verified gateway webhook against the order's
// payment axis. Refunds move paid to refunded or partially_refunded; other
// event types are acknowledged without changes.
func (s *orderService) ApplyPaymentEvent(ctx context.Context, event payments.WebhookEvent) (domain.Order, error) {
	intentID := strings.TrimSpace(event.IntentID)
	if intentID == "" {
		return domain.Order{}, fmt.Errorf("%w: event has no intent id", ErrFinalizeInvalidInput)
	}

	order, err := s.orders.FindByPaymentRef(ctx, intentID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Order{}, ErrOrderNotFound
		}
		return domain.Order{}, err
	}

	if event.Type != payments.EventChargeRefunded {
		return order, nil
	}

	target := domain.PaymentPartiallyRefunded
	if event.FullyRefunded {
		target = domain.PaymentRefunded
	}
	updated, err := s.orders.UpdateStatuses(ctx, order.ID, func(order *domain.Order) error {
		return order.TransitionPayment(target)
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger(ctx, "order.payment.refunded", map[string]any{
		"orderId":       updated.ID,
		"paymentStatus": string(updated.PaymentStatus),
		"fullyRefunded": event.FullyRefunded,
	})
	return updated, nil
}

// resolveShippingAddress enforces the deliverability gate. Validation
// failures block finalize unless the caller explicitly accepted the address
// as entered; the validator's normalized form is preferred when present.
func (s *orderService) resolveShippingAddress(ctx context.Context, cmd FinalizeCommand) (domain.Address, error) {
	addr := cmd.Session.ShippingAddress
	if strings.TrimSpace(addr.Street1) == "" || strings.TrimSpace(addr.Country) == "" {
		return domain.Address{}, fmt.Errorf("%w: shipping address is required", ErrFinalizeInvalidInput)
	}
	if cmd.AcceptAddressAsEntered || s.validator == nil {
		return addr, nil
	}

	validation, err := s.validator.Validate(ctx, addr)
	if err != nil {
		return domain.Address{}, err
	}
	if !validation.IsValid || !validation.IsComplete {
		return domain.Address{}, fmt.Errorf("%w: %s", ErrAddressNotDeliverable, strings.Join(validation.Messages, "; "))
	}
	if validation.Normalized != nil {
		normalized := *validation.Normalized
		normalized.Name = addr.Name
		normalized.Phone = addr.Phone
		normalized.Email = addr.Email
		return normalized, nil
	}
	return addr, nil
}

// resolveCustomer reuses an existing customer when the contact matches, and
// rejects guest checkouts whose contact belongs to a registered account.
func (s *orderService) resolveCustomer(ctx context.Context, details CustomerDetails, email string) (string, error) {
	phone := strings.TrimSpace(details.Phone)
	accountID := strings.TrimSpace(details.AccountID)

	existing, err := s.customers.FindByEmailOrPhone(ctx, email, phone)
	switch {
	case err == nil:
		if accountID == "" && !existing.Guest {
			return "", ErrCustomerExists
		}
		return existing.ID, nil
	case !repositories.IsNotFound(err):
		return "", err
	}

	customer := domain.Customer{
		ID:        customerIDPrefix + s.newID(),
		Email:     email,
		Phone:     phone,
		Name:      strings.TrimSpace(details.Name),
		AccountID: accountID,
		Guest:     accountID == "",
		CreatedAt: s.clock(),
	}
	if err := s.customers.Create(ctx, customer); err != nil {
		return "", err
	}
	return customer.ID, nil
}

// decrementStock applies the inventory decrement after the order exists.
// Failures are logged for reconciliation and never undo the order.
func (s *orderService) decrementStock(ctx context.Context, order domain.Order) {
	if s.products == nil {
		return
	}
	if err := s.products.DecrementStock(ctx, order.Items); err != nil {
		s.logger(ctx, "order.finalize.stock_decrement_failed", map[string]any{
			"severity":   "error",
			"orderId":    order.ID,
			"paymentRef": order.PaymentRef,
			"error":      err.Error(),
		})
	}
}

func (s *orderService) publish(ctx context.Context, notification Notification) {
	if s.notifications == nil {
		return
	}
	if _, err := s.notifications.PublishNotification(ctx, notification); err != nil {
		s.logger(ctx, "order.notification.publish_failed", map[string]any{
			"type":    notification.Type,
			"orderId": notification.OrderID,
			"error":   err.Error(),
		})
	}
}

func buildLineItems(items []domain.CartItem) []domain.LineItem {
	lineItems := make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		lineItems = append(lineItems, domain.LineItem{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	return lineItems
}

func recipientName(addr domain.Address, details CustomerDetails) string {
	if name := strings.TrimSpace(addr.Name); name != "" {
		return name
	}
	return strings.TrimSpace(details.Name)
}
