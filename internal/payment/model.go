package payment

import (
	"errors"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrNothingToRefund     = errors.New("order has no captured payment")
	ErrNotRetryable        = errors.New("only failed orders can be paid again")
	ErrSessionNotOpen      = errors.New("checkout session is no longer open")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

const ProviderStripe = "stripe"

type Payment struct {
	ID              uuid.UUID       `json:"id"`
	OrderID         uuid.UUID       `json:"order_id"`
	Provider        string          `json:"provider"`
	SessionID       string          `json:"session_id"`
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          Status          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Event types the storefront reacts to.
const (
	EventCheckoutCompleted          = "checkout.session.completed"
	EventCheckoutAsyncSucceeded     = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncFailed        = "checkout.session.async_payment_failed"
	EventCheckoutExpired            = "checkout.session.expired"
	EventPaymentIntentPaymentFailed = "payment_intent.payment_failed"
	EventChargeRefunded             = "charge.refunded"
)

// Session payment_status value meaning funds are captured.
const SessionPaid = "paid"

// Event is a verified provider notification reduced to what reconciliation needs.
type Event struct {
	ID              string
	Type            string
	OrderID         uuid.UUID
	SessionID       string
	PaymentIntentID string
	PaymentStatus   string
	AmountTotal     int64
	Currency        string
}

type LineItem struct {
	Name       string
	UnitAmount int64
	Quantity   int64
}

type SessionRequest struct {
	OrderID  uuid.UUID
	UserID   uuid.UUID
	Email    string
	Currency string
	Items    []LineItem
	// Shipping is charged as its own line when non-zero.
	Shipping int64
}

type Session struct {
	ID          string
	URL         string
	AmountTotal int64
}

// MinorUnits converts a decimal amount to the smallest currency unit.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
