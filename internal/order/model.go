package order

import (
	"fmt"
	"sort"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusPaid       OrderStatus = "paid"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
	StatusRefunded   OrderStatus = "refunded"
	StatusFailed     OrderStatus = "failed"
)

func (os OrderStatus) String() string {
	return string(os)
}

// allowedTransitions is the single source of truth for the order lifecycle.
var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusPending: {
		StatusPaid:      true,
		StatusCancelled: true,
		StatusFailed:    true,
	},
	StatusPaid: {
		StatusProcessing: true,
		StatusCancelled:  true,
		StatusRefunded:   true,
	},
	StatusProcessing: {
		StatusShipped:   true,
		StatusCancelled: true,
		StatusRefunded:  true,
	},
	StatusShipped: {
		StatusDelivered: true,
	},
	StatusDelivered: {
		StatusRefunded: true,
	},
	StatusFailed: {
		StatusPending:   true,
		StatusCancelled: true,
	},
	StatusCancelled: {},
	StatusRefunded:  {},
}

// Valid reports whether s is a known order status.
func (os OrderStatus) Valid() bool {
	_, ok := allowedTransitions[os]
	return ok
}

// IsTerminal reports whether no transition leaves s.
func (os OrderStatus) IsTerminal() bool {
	return os.Valid() && len(allowedTransitions[os]) == 0
}

func ParseStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return status, nil
}

// CanTransition reports whether the table allows moving from one status to another.
func CanTransition(from, to OrderStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// NextStatuses lists the statuses reachable from s in a stable order.
func NextStatuses(s OrderStatus) []OrderStatus {
	next := make([]OrderStatus, 0, len(allowedTransitions[s]))
	for status := range allowedTransitions[s] {
		next = append(next, status)
	}
	sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
	return next
}

// stockEffect tells the repository how a transition moves product stock:
// -1 takes the ordered quantities out, +1 puts them back, 0 leaves stock alone.
// Only paid and processing orders hold stock.
func stockEffect(from, to OrderStatus) int {
	holdsStock := func(s OrderStatus) bool {
		return s == StatusPaid || s == StatusProcessing
	}
	switch {
	case !holdsStock(from) && to == StatusPaid:
		return -1
	case holdsStock(from) && (to == StatusCancelled || to == StatusRefunded):
		return 1
	default:
		return 0
	}
}

type OrderItem struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	OrderID     uuid.UUID       `json:"order_id" db:"order_id"`
	ProductID   uuid.UUID       `json:"product_id" db:"product_id"`
	ProductName string          `json:"product_name" db:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	Quantity    int             `json:"quantity" db:"quantity"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type ShippingInfo struct {
	Recipient      string     `json:"recipient"`
	Line1          string     `json:"line1"`
	Line2          string     `json:"line2,omitempty"`
	City           string     `json:"city"`
	Region         string     `json:"region,omitempty"`
	PostalCode     string     `json:"postal_code"`
	Country        string     `json:"country"`
	Carrier        *string    `json:"carrier,omitempty"`
	TrackingNumber *string    `json:"tracking_number,omitempty"`
	ShippedAt      *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
}

type Order struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	Status        OrderStatus     `json:"status"`
	Items         []OrderItem     `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	ShippingCost  decimal.Decimal `json:"shipping_cost"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	CustomerEmail string          `json:"customer_email"`
	Shipping      *ShippingInfo   `json:"shipping,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// StatusChange is a requested move to another status.
type StatusChange struct {
	OrderID uuid.UUID
	To      OrderStatus
	// OnlyFrom, when non-empty, turns the change into a no-op unless the
	// order currently sits in one of these statuses.
	OnlyFrom       []OrderStatus
	Carrier        string
	TrackingNumber string
}

// StatusUpdate is what the repository writes: a compare-and-set from From to To.
type StatusUpdate struct {
	OrderID        uuid.UUID
	From           OrderStatus
	To             OrderStatus
	Carrier        string
	TrackingNumber string
	At             time.Time
}

// Transition describes the outcome of a StatusChange.
type Transition struct {
	Order   *Order
	From    OrderStatus
	Changed bool
}

type ListFilter struct {
	Status  OrderStatus
	Page    int
	PerPage int
}

func (f ListFilter) normalized() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}
	return f
}

func (f ListFilter) offset() int {
	return (f.Page - 1) * f.PerPage
}

// Viewer is the caller an order is read on behalf of.
type Viewer struct {
	UserID  uuid.UUID
	IsAdmin bool
}

func (v Viewer) canSee(o *Order) bool {
	return v.IsAdmin || o.UserID == v.UserID
}
