package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/webhook"
)

type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error)
	// ExpireCheckoutSession closes a hosted checkout page so it can no longer
	// take money. ErrSessionNotOpen means the provider already closed it.
	ExpireCheckoutSession(ctx context.Context, sessionID string) error
	Refund(ctx context.Context, paymentIntentID string) error
	ParseEvent(payload []byte, signature string) (*Event, error)
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

type stripeGateway struct {
	cfg      StripeConfig
	sessions *session.Client
	refunds  *refund.Client
}

func NewStripeGateway(cfg StripeConfig) Gateway {
	return newStripeGateway(cfg, stripe.GetBackend(stripe.APIBackend))
}

func newStripeGateway(cfg StripeConfig, backend stripe.Backend) *stripeGateway {
	return &stripeGateway{
		cfg:      cfg,
		sessions: &session.Client{B: backend, Key: cfg.SecretKey},
		refunds:  &refund.Client{B: backend, Key: cfg.SecretKey},
	}
}

func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error) {
	orderID := req.OrderID.String()

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.cfg.SuccessURL),
		CancelURL:         stripe.String(g.cfg.CancelURL),
		ClientReferenceID: stripe.String(orderID),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"order_id": orderID},
		},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	lines := req.Items
	if req.Shipping > 0 {
		lines = append(lines[:len(lines):len(lines)], LineItem{Name: "Shipping", UnitAmount: req.Shipping, Quantity: 1})
	}
	for _, item := range lines {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(req.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
				UnitAmount: stripe.Int64(item.UnitAmount),
			},
			Quantity: stripe.Int64(item.Quantity),
		})
	}

	params.AddMetadata("order_id", orderID)
	params.AddMetadata("user_id", req.UserID.String())
	params.Context = ctx

	s, err := g.sessions.New(params)
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("gateway: stripe checkout session creation failed")
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	return &Session{ID: s.ID, URL: s.URL, AmountTotal: s.AmountTotal}, nil
}

func (g *stripeGateway) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx

	if _, err := g.sessions.Expire(sessionID, params); err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeInvalidRequest && stripeErr.HTTPStatusCode == http.StatusBadRequest {
			log.Info().Str("session_id", sessionID).Str("reason", stripeErr.Msg).Msg("gateway: checkout session already closed")
			return fmt.Errorf("%w: %s", ErrSessionNotOpen, stripeErr.Msg)
		}
		log.Error().Err(err).Str("session_id", sessionID).Msg("gateway: stripe checkout session expiry failed")
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return nil
}

// Refund returns the full captured amount. Repeated calls for the same intent
// reuse one idempotency key, so a retried webhook cannot refund twice.
func (g *stripeGateway) Refund(ctx context.Context, paymentIntentID string) error {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentIntentID)}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + paymentIntentID)

	if _, err := g.refunds.New(params); err != nil {
		log.Error().Err(err).Str("payment_intent_id", paymentIntentID).Msg("gateway: stripe refund failed")
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return nil
}

func (g *stripeGateway) ParseEvent(payload []byte, signature string) (*Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, g.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return decodeEvent(evt)
}

func decodeEvent(evt stripe.Event) (*Event, error) {
	out := &Event{ID: evt.ID, Type: string(evt.Type)}
	if evt.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncSucceeded, EventCheckoutAsyncFailed, EventCheckoutExpired:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("gateway: failed to decode checkout session of event %s: %w", evt.ID, err)
		}
		out.SessionID = cs.ID
		out.OrderID = orderIDFrom(cs.ClientReferenceID, cs.Metadata)
		if cs.PaymentIntent != nil {
			out.PaymentIntentID = cs.PaymentIntent.ID
		}
		out.PaymentStatus = string(cs.PaymentStatus)
		out.AmountTotal = cs.AmountTotal
		out.Currency = string(cs.Currency)

	case EventPaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("gateway: failed to decode payment intent of event %s: %w", evt.ID, err)
		}
		out.PaymentIntentID = pi.ID
		out.OrderID = orderIDFrom("", pi.Metadata)
		out.AmountTotal = pi.Amount
		out.Currency = string(pi.Currency)

	case EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(evt.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("gateway: failed to decode charge of event %s: %w", evt.ID, err)
		}
		if ch.PaymentIntent != nil {
			out.PaymentIntentID = ch.PaymentIntent.ID
		}
		out.OrderID = orderIDFrom("", ch.Metadata)
		out.AmountTotal = ch.AmountRefunded
		out.Currency = string(ch.Currency)
	}

	return out, nil
}

// orderIDFrom prefers the client reference and falls back to metadata.
func orderIDFrom(reference string, metadata map[string]string) uuid.UUID {
	for _, candidate := range []string{reference, metadata["order_id"]} {
		if candidate == "" {
			continue
		}
		id, err := uuid.FromString(candidate)
		if err == nil {
			return id
		}
		log.Warn().Err(err).Str("value", candidate).Msg("gateway: ignoring malformed order id on event")
	}
	return uuid.Nil
}
