package http

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/payment"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/webhook"
)

const maxWebhookBytes = 65536

type EventParser interface {
	ParseEvent(payload []byte, signature string) (*payment.Event, error)
}

type EventProcessor interface {
	Process(ctx context.Context, evt *payment.Event) (webhook.Outcome, error)
}

type WebhookResponse struct {
	EventID string          `json:"event_id"`
	Outcome webhook.Outcome `json:"outcome"`
}

type WebhookHandler struct {
	parser    EventParser
	processor EventProcessor
}

func NewWebhookHandler(parser EventParser, processor EventProcessor) *WebhookHandler {
	return &WebhookHandler{parser: parser, processor: processor}
}

func (h *WebhookHandler) RegisterRoutes(router chi.Router) {
	router.Post("/webhooks/stripe", h.handleStripeWebhook)
}

func (h *WebhookHandler) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read webhook body")
		respondWithError(w, r, errInvalidPayload)
		return
	}

	evt, err := h.parser.ParseEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		log.Warn().Err(err).Msg("Rejected webhook")
		respondWithError(w, r, payment.ErrInvalidSignature)
		return
	}

	outcome, err := h.processor.Process(r.Context(), evt)
	if err != nil {
		// A non-2xx response makes the provider deliver the event again.
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusOK, WebhookResponse{EventID: evt.ID, Outcome: outcome})
}
