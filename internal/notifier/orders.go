package notifier

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
)

const sendTimeout = 15 * time.Second

// OrderNotifier mails the customer when an order reaches a status they care
// about. Delivery runs in the background; call Wait before exiting.
type OrderNotifier struct {
	sender Sender
	wg     sync.WaitGroup
}

func NewOrderNotifier(sender Sender) *OrderNotifier {
	return &OrderNotifier{sender: sender}
}

func (n *OrderNotifier) OrderStatusChanged(_ context.Context, o order.Order, from order.OrderStatus) {
	msg, ok := composeOrderMessage(o)
	if !ok {
		return
	}
	if msg.To == "" {
		log.Warn().Stringer("order_id", o.ID).Msg("notifier: order has no customer email, skipping")
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if err := n.sender.Send(ctx, msg); err != nil {
			log.Error().Err(err).Stringer("order_id", o.ID).Str("status", string(o.Status)).Msg("notifier: failed to send order email")
			return
		}
		log.Info().Stringer("order_id", o.ID).Str("from", string(from)).Str("status", string(o.Status)).Msg("notifier: order email sent")
	}()
}

// Wait blocks until every queued email has been attempted.
func (n *OrderNotifier) Wait() {
	n.wg.Wait()
}

func shortID(o order.Order) string {
	return strings.ToUpper(o.ID.String()[:8])
}

func money(o order.Order) string {
	return fmt.Sprintf("%s %s", o.Total.StringFixed(2), strings.ToUpper(o.Currency))
}

func composeOrderMessage(o order.Order) (Message, bool) {
	ref := shortID(o)
	var subject, line string

	switch o.Status {
	case order.StatusPaid:
		subject = fmt.Sprintf("Order #%s confirmed", ref)
		line = fmt.Sprintf("Thank you for your order! We received your payment of %s.", money(o))
	case order.StatusShipped:
		subject = fmt.Sprintf("Order #%s has shipped", ref)
		line = "Your order is on its way."
		if o.Shipping != nil && o.Shipping.TrackingNumber != nil {
			carrier := "the carrier"
			if o.Shipping.Carrier != nil && *o.Shipping.Carrier != "" {
				carrier = *o.Shipping.Carrier
			}
			line += fmt.Sprintf(" Track it with %s using number %s.", carrier, *o.Shipping.TrackingNumber)
		}
	case order.StatusDelivered:
		subject = fmt.Sprintf("Order #%s delivered", ref)
		line = "Your order was delivered. We would love to hear what you think in a review."
	case order.StatusRefunded:
		subject = fmt.Sprintf("Order #%s refunded", ref)
		line = fmt.Sprintf("We refunded %s to your original payment method.", money(o))
	default:
		return Message{}, false
	}

	text := fmt.Sprintf("Hello,\n\n%s\n\nOrder reference: %s\n\nThe Storefront Team", line, o.ID)
	body := fmt.Sprintf(`<html><body><p>Hello,</p><p>%s</p><p>Order reference: %s</p><p>The Storefront Team</p></body></html>`,
		html.EscapeString(line), o.ID)

	return Message{To: o.CustomerEmail, Subject: subject, HTML: body, Text: text}, true
}
