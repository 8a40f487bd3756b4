package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
)

// Orders is the slice of the order service payments drive.
type Orders interface {
	Checkout(ctx context.Context, input order.CheckoutInput) (*order.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID, viewer order.Viewer) (*order.Order, error)
	UpdateStatus(ctx context.Context, change order.StatusChange) (*order.Transition, error)
}

type CheckoutResult struct {
	Order       *order.Order `json:"order"`
	Payment     *Payment     `json:"payment"`
	RedirectURL string       `json:"redirect_url"`
}

type Service interface {
	StartCheckout(ctx context.Context, input order.CheckoutInput) (*CheckoutResult, error)
	RetryCheckout(ctx context.Context, orderID, userID uuid.UUID) (*CheckoutResult, error)
	Refund(ctx context.Context, orderID uuid.UUID) (*order.Order, error)
}

type service struct {
	repo    Repository
	gateway Gateway
	orders  Orders
	closer  *SessionCloser
}

func NewService(repo Repository, gateway Gateway, orders Orders) Service {
	return &service{repo: repo, gateway: gateway, orders: orders, closer: NewSessionCloser(repo, gateway)}
}

func sessionRequest(o *order.Order) SessionRequest {
	req := SessionRequest{
		OrderID:  o.ID,
		UserID:   o.UserID,
		Email:    o.CustomerEmail,
		Currency: o.Currency,
		Items:    make([]LineItem, 0, len(o.Items)),
		Shipping: MinorUnits(o.ShippingCost),
	}
	for _, item := range o.Items {
		req.Items = append(req.Items, LineItem{
			Name:       item.ProductName,
			UnitAmount: MinorUnits(item.UnitPrice),
			Quantity:   int64(item.Quantity),
		})
	}
	return req
}

func (s *service) StartCheckout(ctx context.Context, input order.CheckoutInput) (*CheckoutResult, error) {
	o, err := s.orders.Checkout(ctx, input)
	if err != nil {
		return nil, err
	}
	return s.openSession(ctx, o)
}

// openSession asks the provider for a hosted checkout page for a pending
// order. A provider failure leaves the order failed so it can be retried.
func (s *service) openSession(ctx context.Context, o *order.Order) (*CheckoutResult, error) {
	sess, err := s.gateway.CreateCheckoutSession(ctx, sessionRequest(o))
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: checkout session failed, marking order failed")
		s.markFailed(ctx, o)
		return nil, ErrProviderUnavailable
	}

	p := &Payment{
		OrderID:   o.ID,
		Provider:  ProviderStripe,
		SessionID: sess.ID,
		Amount:    o.Total,
		Currency:  o.Currency,
		Status:    StatusPending,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Str("session_id", sess.ID).Msg("service: failed to record payment")
		return nil, fmt.Errorf("service: failed to record payment: %w", err)
	}

	log.Info().Stringer("order_id", o.ID).Str("session_id", sess.ID).Msg("service: checkout session created")
	return &CheckoutResult{Order: o, Payment: p, RedirectURL: sess.URL}, nil
}

func (s *service) markFailed(ctx context.Context, o *order.Order) {
	tr, err := s.orders.UpdateStatus(ctx, order.StatusChange{
		OrderID:  o.ID,
		To:       order.StatusFailed,
		OnlyFrom: []order.OrderStatus{order.StatusPending},
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to mark order failed")
		return
	}
	o.Status = tr.Order.Status
}

func (s *service) RetryCheckout(ctx context.Context, orderID, userID uuid.UUID) (*CheckoutResult, error) {
	o, err := s.orders.GetOrder(ctx, orderID, order.Viewer{UserID: userID})
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusFailed {
		return nil, fmt.Errorf("%w: order is %s", ErrNotRetryable, o.Status)
	}

	// The previous page must not stay payable next to the new one.
	if err := s.closer.Close(ctx, orderID); err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to expire previous checkout session")
		return nil, ErrProviderUnavailable
	}

	tr, err := s.orders.UpdateStatus(ctx, order.StatusChange{
		OrderID:  orderID,
		To:       order.StatusPending,
		OnlyFrom: []order.OrderStatus{order.StatusFailed},
	})
	if err != nil {
		return nil, err
	}
	if !tr.Changed {
		return nil, fmt.Errorf("%w: order is %s", ErrNotRetryable, tr.Order.Status)
	}

	return s.openSession(ctx, tr.Order)
}

func (s *service) Refund(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	o, err := s.orders.GetOrder(ctx, orderID, order.Viewer{IsAdmin: true})
	if err != nil {
		return nil, err
	}
	if !order.CanTransition(o.Status, order.StatusRefunded) {
		return nil, fmt.Errorf("%w: from %s to %s", order.ErrInvalidStatusTransition, o.Status, order.StatusRefunded)
	}

	p, err := s.repo.GetLatestByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, ErrNothingToRefund
		}
		return nil, fmt.Errorf("service: failed to load payment: %w", err)
	}
	if p.Status != StatusSucceeded || p.PaymentIntentID == "" {
		return nil, ErrNothingToRefund
	}

	if err := s.gateway.Refund(ctx, p.PaymentIntentID); err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Str("payment_intent_id", p.PaymentIntentID).Msg("service: provider refund failed")
		return nil, ErrProviderUnavailable
	}

	if err := s.repo.UpdateStatus(ctx, p.ID, StatusRefunded, ""); err != nil {
		log.Error().Err(err).Stringer("payment_id", p.ID).Msg("service: refund issued but payment row not updated")
		return nil, fmt.Errorf("service: failed to update payment: %w", err)
	}

	tr, err := s.orders.UpdateStatus(ctx, order.StatusChange{OrderID: orderID, To: order.StatusRefunded})
	if err != nil {
		return nil, err
	}

	log.Info().Stringer("order_id", orderID).Str("payment_intent_id", p.PaymentIntentID).Msg("service: order refunded")
	return tr.Order, nil
}
