package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/payment"
)

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"

	// OutcomeRefunded means captured funds could not be applied to their
	// order and were sent back to the customer.
	OutcomeRefunded Outcome = "refunded"
)

type Orders interface {
	UpdateStatus(ctx context.Context, change order.StatusChange) (*order.Transition, error)
}

type Carts interface {
	RemoveProducts(ctx context.Context, userID uuid.UUID, productIDs []uuid.UUID) error
}

type Refunder interface {
	Refund(ctx context.Context, paymentIntentID string) error
}

type Processor struct {
	seen     *EventSet
	events   Repository
	payments payment.Repository
	orders   Orders
	carts    Carts
	refunds  Refunder
}

func NewProcessor(seen *EventSet, events Repository, payments payment.Repository, orders Orders, carts Carts, refunds Refunder) *Processor {
	return &Processor{
		seen:     seen,
		events:   events,
		payments: payments,
		orders:   orders,
		carts:    carts,
		refunds:  refunds,
	}
}

// Process applies a verified event at most once. A returned error means the
// event was not recorded and the provider should deliver it again.
func (p *Processor) Process(ctx context.Context, evt *payment.Event) (Outcome, error) {
	logger := log.With().Str("event_id", evt.ID).Str("event_type", evt.Type).Logger()

	if p.seen.Contains(evt.ID) {
		logger.Info().Msg("webhook: duplicate event skipped")
		return OutcomeDuplicate, nil
	}

	done, err := p.events.Exists(ctx, evt.ID)
	if err != nil {
		logger.Error().Err(err).Msg("webhook: failed to check processed events")
		return "", fmt.Errorf("webhook: failed to check event %s: %w", evt.ID, err)
	}
	if done {
		p.seen.Add(evt.ID)
		logger.Info().Msg("webhook: event already processed by another instance")
		return OutcomeDuplicate, nil
	}

	outcome, err := p.dispatch(ctx, evt)
	if err != nil {
		logger.Error().Err(err).Msg("webhook: event handling failed, leaving it for redelivery")
		return "", err
	}

	if err := p.events.Record(ctx, evt.ID, evt.Type); err != nil {
		logger.Error().Err(err).Msg("webhook: failed to record processed event")
		return "", err
	}
	p.seen.Add(evt.ID)

	logger.Info().Str("outcome", string(outcome)).Msg("webhook: event handled")
	return outcome, nil
}

func (p *Processor) dispatch(ctx context.Context, evt *payment.Event) (Outcome, error) {
	switch evt.Type {
	case payment.EventCheckoutCompleted, payment.EventCheckoutAsyncSucceeded:
		if evt.PaymentStatus != payment.SessionPaid {
			log.Info().Str("event_id", evt.ID).Str("session_id", evt.SessionID).Str("payment_status", evt.PaymentStatus).
				Msg("webhook: checkout completed without captured funds, waiting for async result")
			return OutcomeProcessed, nil
		}
		return p.settle(ctx, evt, payment.StatusSucceeded, order.StatusPaid, order.StatusPending)

	case payment.EventCheckoutAsyncFailed, payment.EventPaymentIntentPaymentFailed:
		return p.settle(ctx, evt, payment.StatusFailed, order.StatusFailed, order.StatusPending)

	case payment.EventCheckoutExpired:
		return p.settle(ctx, evt, payment.StatusCancelled, order.StatusCancelled, order.StatusPending)

	case payment.EventChargeRefunded:
		return p.settle(ctx, evt, payment.StatusRefunded, order.StatusRefunded)

	default:
		return OutcomeIgnored, nil
	}
}

// settle moves the payment row and its order to the statuses an event implies.
// onlyFrom limits which order statuses the event may move. Events about a
// session the order has since replaced only touch their own payment row.
func (p *Processor) settle(ctx context.Context, evt *payment.Event, ps payment.Status, to order.OrderStatus, onlyFrom ...order.OrderStatus) (Outcome, error) {
	pay, err := p.lookupPayment(ctx, evt)
	if err != nil {
		return "", err
	}

	orderID := evt.OrderID
	if pay != nil {
		orderID = pay.OrderID
	}
	if orderID == uuid.Nil {
		log.Warn().Str("event_id", evt.ID).Str("session_id", evt.SessionID).Str("payment_intent_id", evt.PaymentIntentID).
			Msg("webhook: event does not reference a known order")
		return OutcomeIgnored, nil
	}

	if pay != nil {
		if pay.Status == payment.StatusRefunded && ps != payment.StatusRefunded {
			log.Info().Str("event_id", evt.ID).Stringer("payment_id", pay.ID).Str("wanted", string(ps)).
				Msg("webhook: payment already refunded, event ignored")
			return OutcomeIgnored, nil
		}

		superseded, err := p.superseded(ctx, pay)
		if err != nil {
			return "", err
		}
		if superseded {
			return p.settleSuperseded(ctx, evt, pay, ps)
		}

		if pay.Status != ps {
			if err := p.payments.UpdateStatus(ctx, pay.ID, ps, evt.PaymentIntentID); err != nil {
				return "", fmt.Errorf("webhook: failed to update payment %s: %w", pay.ID, err)
			}
		}
	}

	tr, err := p.orders.UpdateStatus(ctx, order.StatusChange{OrderID: orderID, To: to, OnlyFrom: onlyFrom})
	if err != nil {
		switch {
		case errors.Is(err, order.ErrOrderNotFound):
			log.Warn().Str("event_id", evt.ID).Stringer("order_id", orderID).Msg("webhook: order referenced by event not found")
			return OutcomeIgnored, nil
		case errors.Is(err, order.ErrInvalidStatusTransition):
			log.Warn().Err(err).Str("event_id", evt.ID).Stringer("order_id", orderID).Msg("webhook: event does not fit the order lifecycle")
			return OutcomeIgnored, nil
		}
		return "", fmt.Errorf("webhook: failed to move order %s to %s: %w", orderID, to, err)
	}

	// A cancelled or failed order no longer wants the money it was just sent.
	if ps == payment.StatusSucceeded && (tr.Order.Status == order.StatusCancelled || tr.Order.Status == order.StatusFailed) {
		log.Error().Str("event_id", evt.ID).Stringer("order_id", orderID).Stringer("status", tr.Order.Status).
			Msg("webhook: payment captured for an order that can no longer be paid")
		return p.refundCapture(ctx, evt, pay, orderID)
	}

	if !tr.Changed {
		if tr.Order.Status != to {
			log.Warn().Str("event_id", evt.ID).Stringer("order_id", orderID).Stringer("status", tr.Order.Status).Stringer("wanted", to).
				Msg("webhook: order left untouched by event")
		}
		return OutcomeProcessed, nil
	}

	if to == order.StatusPaid {
		bought := make([]uuid.UUID, 0, len(tr.Order.Items))
		for _, item := range tr.Order.Items {
			bought = append(bought, item.ProductID)
		}
		if err := p.carts.RemoveProducts(ctx, tr.Order.UserID, bought); err != nil {
			// The order is paid already; a stale cart is not worth a redelivery.
			log.Error().Err(err).Stringer("order_id", orderID).Msg("webhook: failed to remove purchased products from cart")
		}
	}

	return OutcomeProcessed, nil
}

// superseded reports whether the order has opened a newer payment since pay.
func (p *Processor) superseded(ctx context.Context, pay *payment.Payment) (bool, error) {
	latest, err := p.payments.GetLatestByOrderID(ctx, pay.OrderID)
	if err != nil {
		return false, fmt.Errorf("webhook: failed to load latest payment of order %s: %w", pay.OrderID, err)
	}
	return latest.ID != pay.ID, nil
}

// settleSuperseded records what happened to a replaced session without
// touching the order, which now belongs to a newer one.
func (p *Processor) settleSuperseded(ctx context.Context, evt *payment.Event, pay *payment.Payment, ps payment.Status) (Outcome, error) {
	if ps == payment.StatusSucceeded {
		log.Error().Str("event_id", evt.ID).Stringer("order_id", pay.OrderID).Str("session_id", pay.SessionID).
			Msg("webhook: payment captured on a replaced checkout session")
		return p.refundCapture(ctx, evt, pay, pay.OrderID)
	}

	if pay.Status != ps {
		if err := p.payments.UpdateStatus(ctx, pay.ID, ps, evt.PaymentIntentID); err != nil {
			return "", fmt.Errorf("webhook: failed to update payment %s: %w", pay.ID, err)
		}
	}
	log.Info().Str("event_id", evt.ID).Stringer("order_id", pay.OrderID).Str("session_id", pay.SessionID).
		Msg("webhook: event for a replaced checkout session left the order untouched")
	return OutcomeIgnored, nil
}

// refundCapture sends captured funds back. A failed refund is returned so the
// provider redelivers the event and the refund is tried again.
func (p *Processor) refundCapture(ctx context.Context, evt *payment.Event, pay *payment.Payment, orderID uuid.UUID) (Outcome, error) {
	intentID := evt.PaymentIntentID
	if intentID == "" && pay != nil {
		intentID = pay.PaymentIntentID
	}
	if intentID == "" {
		if pay != nil && pay.Status != payment.StatusSucceeded {
			if err := p.payments.UpdateStatus(ctx, pay.ID, payment.StatusSucceeded, ""); err != nil {
				return "", fmt.Errorf("webhook: failed to update payment %s: %w", pay.ID, err)
			}
		}
		log.Error().Str("event_id", evt.ID).Stringer("order_id", orderID).
			Msg("webhook: captured payment has no intent to refund, refund it manually")
		return OutcomeIgnored, nil
	}

	if err := p.refunds.Refund(ctx, intentID); err != nil {
		return "", fmt.Errorf("webhook: failed to refund payment %s of order %s: %w", intentID, orderID, err)
	}

	if pay != nil {
		if err := p.payments.UpdateStatus(ctx, pay.ID, payment.StatusRefunded, intentID); err != nil {
			return "", fmt.Errorf("webhook: failed to mark payment %s refunded: %w", pay.ID, err)
		}
	}
	log.Warn().Str("event_id", evt.ID).Stringer("order_id", orderID).Str("payment_intent_id", intentID).
		Msg("webhook: captured payment refunded")
	return OutcomeRefunded, nil
}

func (p *Processor) lookupPayment(ctx context.Context, evt *payment.Event) (*payment.Payment, error) {
	var (
		pay *payment.Payment
		err error
	)
	switch {
	case evt.SessionID != "":
		pay, err = p.payments.GetBySessionID(ctx, evt.SessionID)
	case evt.PaymentIntentID != "":
		pay, err = p.payments.GetByPaymentIntentID(ctx, evt.PaymentIntentID)
	default:
		return nil, nil
	}

	if errors.Is(err, payment.ErrPaymentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("webhook: failed to load payment for event %s: %w", evt.ID, err)
	}
	return pay, nil
}
