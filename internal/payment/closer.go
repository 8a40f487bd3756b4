package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
)

// SessionCloser expires the hosted checkout page still attached to an order,
// so a customer cannot pay for an order that gave up on it.
type SessionCloser struct {
	repo    Repository
	gateway Gateway
}

func NewSessionCloser(repo Repository, gateway Gateway) *SessionCloser {
	return &SessionCloser{repo: repo, gateway: gateway}
}

// Close expires the latest session of the order if it may still take money.
// A pending payment whose session was expired becomes cancelled.
func (c *SessionCloser) Close(ctx context.Context, orderID uuid.UUID) error {
	p, err := c.repo.GetLatestByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil
		}
		return fmt.Errorf("service: failed to load payment of order %s: %w", orderID, err)
	}
	if p.SessionID == "" || (p.Status != StatusPending && p.Status != StatusFailed) {
		return nil
	}

	if err := c.gateway.ExpireCheckoutSession(ctx, p.SessionID); err != nil {
		if errors.Is(err, ErrSessionNotOpen) {
			return nil
		}
		return err
	}
	log.Info().Stringer("order_id", orderID).Str("session_id", p.SessionID).Msg("service: checkout session expired")

	if p.Status == StatusPending {
		if err := c.repo.UpdateStatus(ctx, p.ID, StatusCancelled, ""); err != nil {
			return fmt.Errorf("service: failed to cancel payment %s: %w", p.ID, err)
		}
	}
	return nil
}

// OrderStatusChanged closes the session once an order is cancelled or failed.
func (c *SessionCloser) OrderStatusChanged(ctx context.Context, o order.Order, from order.OrderStatus) {
	if o.Status != order.StatusCancelled && o.Status != order.StatusFailed {
		return
	}
	if err := c.Close(ctx, o.ID); err != nil {
		// A late capture is still refunded when its webhook arrives.
		log.Error().Err(err).Stringer("order_id", o.ID).Stringer("status", o.Status).Msg("service: failed to expire checkout session")
	}
}
