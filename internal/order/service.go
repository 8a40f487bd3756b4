package order

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/cart"
)

// CartSource yields the cart an order is built from, with products freshly loaded.
type CartSource interface {
	GetCart(ctx context.Context, userID uuid.UUID) (*cart.Cart, error)
}

// StatusListener is told about every committed status change.
type StatusListener interface {
	OrderStatusChanged(ctx context.Context, order Order, from OrderStatus)
}

// Pricing holds the shipping rule applied at checkout.
type Pricing struct {
	FlatRate      decimal.Decimal
	FreeThreshold decimal.Decimal
	Currency      string
}

// ShippingFor returns the shipping cost for a given subtotal.
func (p Pricing) ShippingFor(subtotal decimal.Decimal) decimal.Decimal {
	if !p.FreeThreshold.IsZero() && subtotal.GreaterThanOrEqual(p.FreeThreshold) {
		return decimal.Zero
	}
	return p.FlatRate
}

type CheckoutInput struct {
	UserID   uuid.UUID
	Email    string
	Shipping ShippingInfo
}

type Service interface {
	Checkout(ctx context.Context, input CheckoutInput) (*Order, error)
	GetOrder(ctx context.Context, id uuid.UUID, viewer Viewer) (*Order, error)
	ListUserOrders(ctx context.Context, userID uuid.UUID) ([]Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, int, error)
	UpdateStatus(ctx context.Context, change StatusChange) (*Transition, error)
	Cancel(ctx context.Context, id, userID uuid.UUID) (*Order, error)
	HasPurchased(ctx context.Context, userID, productID uuid.UUID) (bool, error)
}

type service struct {
	orderRepo Repository
	carts     CartSource
	pricing   Pricing
	listeners []StatusListener
	now       func() time.Time
}

func NewService(orderRepo Repository, carts CartSource, pricing Pricing, listeners ...StatusListener) Service {
	if pricing.Currency == "" {
		pricing.Currency = "usd"
	}
	return &service{
		orderRepo: orderRepo,
		carts:     carts,
		pricing:   pricing,
		listeners: listeners,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func validateShipping(s ShippingInfo) error {
	missing := []string{}
	for field, value := range map[string]string{
		"recipient":   s.Recipient,
		"line1":       s.Line1,
		"city":        s.City,
		"postal_code": s.PostalCode,
		"country":     s.Country,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("%w: missing %s", ErrInvalidShipping, strings.Join(missing, ", "))
	}
	return nil
}

func (s *service) Checkout(ctx context.Context, input CheckoutInput) (*Order, error) {
	if err := validateShipping(input.Shipping); err != nil {
		return nil, err
	}

	c, err := s.carts.GetCart(ctx, input.UserID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", input.UserID).Msg("service: failed to load cart for checkout")
		return nil, fmt.Errorf("service: failed to load cart: %w", err)
	}
	if len(c.Items) == 0 {
		log.Warn().Stringer("user_id", input.UserID).Msg("service: checkout attempted with empty cart")
		return nil, ErrEmptyCart
	}

	order := &Order{
		UserID:        input.UserID,
		Status:        StatusPending,
		Items:         make([]OrderItem, 0, len(c.Items)),
		Currency:      s.pricing.Currency,
		CustomerEmail: input.Email,
	}

	subtotal := decimal.Zero
	for _, ci := range c.Items {
		p := ci.Product
		if p == nil || !p.IsActive {
			return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, ci.ProductID)
		}
		if ci.Quantity > p.Stock {
			return nil, fmt.Errorf("%w: %s has %d left", ErrInsufficientStock, p.Name, p.Stock)
		}

		item := OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			UnitPrice:   p.Price,
			Quantity:    ci.Quantity,
		}
		order.Items = append(order.Items, item)
		subtotal = subtotal.Add(item.LineTotal())
	}

	shipping := input.Shipping
	order.Shipping = &ShippingInfo{
		Recipient:  shipping.Recipient,
		Line1:      shipping.Line1,
		Line2:      shipping.Line2,
		City:       shipping.City,
		Region:     shipping.Region,
		PostalCode: shipping.PostalCode,
		Country:    strings.ToUpper(shipping.Country),
	}
	order.Subtotal = subtotal
	order.ShippingCost = s.pricing.ShippingFor(subtotal)
	order.Total = subtotal.Add(order.ShippingCost)

	if err := s.orderRepo.CreateOrder(ctx, order); err != nil {
		log.Error().Err(err).Stringer("user_id", input.UserID).Msg("service: failed to create order in repository")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	log.Info().
		Stringer("order_id", order.ID).
		Stringer("user_id", order.UserID).
		Str("total", order.Total.StringFixed(2)).
		Msg("service: order created")

	return order, nil
}

func (s *service) GetOrder(ctx context.Context, id uuid.UUID, viewer Viewer) (*Order, error) {
	order, err := s.orderRepo.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id in repository")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}

	// Someone else's order looks exactly like a missing one.
	if !viewer.canSee(order) {
		log.Warn().Stringer("order_id", id).Stringer("user_id", viewer.UserID).Msg("service: order requested by non-owner")
		return nil, ErrOrderNotFound
	}

	return order, nil
}

func (s *service) ListUserOrders(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	orders, err := s.orderRepo.GetOrdersByUserID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to fetch user orders in repository")
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}
	return orders, nil
}

func (s *service) ListOrders(ctx context.Context, filter ListFilter) ([]Order, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownStatus, filter.Status)
	}

	orders, total, err := s.orderRepo.ListOrders(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list orders in repository")
		return nil, 0, fmt.Errorf("service: failed to list orders: %w", err)
	}
	return orders, total, nil
}

func (s *service) UpdateStatus(ctx context.Context, change StatusChange) (*Transition, error) {
	if !change.To.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, change.To)
	}

	current, err := s.orderRepo.GetOrderByID(ctx, change.OrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", change.OrderID).Stringer("new_status", change.To).Msg("service: order not found, cannot update status")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", change.OrderID).Msg("service: failed to get order for status update")
		return nil, fmt.Errorf("service: failed to get order for status update: %w", err)
	}

	from := current.Status
	unchanged := &Transition{Order: current, From: from, Changed: false}

	if len(change.OnlyFrom) > 0 && !slices.Contains(change.OnlyFrom, from) {
		log.Info().Stringer("order_id", current.ID).Stringer("status", from).Stringer("new_status", change.To).
			Msg("service: order not in an expected status, skipping update")
		return unchanged, nil
	}

	if from == change.To {
		log.Info().Stringer("order_id", current.ID).Stringer("status", from).Msg("service: order status is already the same, no update needed")
		return unchanged, nil
	}

	if !CanTransition(from, change.To) {
		log.Warn().
			Stringer("order_id", current.ID).
			Stringer("current_status", from).
			Stringer("new_status", change.To).
			Msg("service: invalid status transition attempt")
		return nil, fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, from, change.To)
	}

	update := StatusUpdate{
		OrderID:        current.ID,
		From:           from,
		To:             change.To,
		Carrier:        change.Carrier,
		TrackingNumber: change.TrackingNumber,
		At:             s.now(),
	}
	if err := s.orderRepo.UpdateOrderStatus(ctx, update); err != nil {
		switch {
		case errors.Is(err, ErrOrderNotFound):
			return nil, ErrOrderNotFound
		case errors.Is(err, ErrStatusConflict):
			log.Warn().Stringer("order_id", current.ID).Stringer("expected_status", from).Stringer("new_status", change.To).
				Msg("service: order status changed concurrently")
			return nil, ErrStatusConflict
		}
		log.Error().Err(err).Stringer("order_id", current.ID).Stringer("new_status", change.To).Msg("service: failed to update order status in repository")
		return nil, fmt.Errorf("service: failed to update order status: %w", err)
	}

	current.Status = change.To
	current.UpdatedAt = update.At
	if current.Shipping != nil {
		switch change.To {
		case StatusShipped:
			current.Shipping.ShippedAt = &update.At
			if update.Carrier != "" {
				current.Shipping.Carrier = &update.Carrier
			}
			if update.TrackingNumber != "" {
				current.Shipping.TrackingNumber = &update.TrackingNumber
			}
		case StatusDelivered:
			current.Shipping.DeliveredAt = &update.At
		}
	}

	log.Info().Stringer("order_id", current.ID).Stringer("old_status", from).Stringer("new_status", change.To).Msg("service: order status updated successfully")

	for _, l := range s.listeners {
		l.OrderStatusChanged(ctx, *current, from)
	}

	return &Transition{Order: current, From: from, Changed: true}, nil
}

func (s *service) Cancel(ctx context.Context, id, userID uuid.UUID) (*Order, error) {
	order, err := s.GetOrder(ctx, id, Viewer{UserID: userID})
	if err != nil {
		return nil, err
	}
	if order.Status != StatusPending {
		return nil, fmt.Errorf("%w: order is %s", ErrNotCancellable, order.Status)
	}

	tr, err := s.UpdateStatus(ctx, StatusChange{
		OrderID:  id,
		To:       StatusCancelled,
		OnlyFrom: []OrderStatus{StatusPending},
	})
	if err != nil {
		return nil, err
	}
	if !tr.Changed {
		return nil, fmt.Errorf("%w: order is %s", ErrNotCancellable, tr.Order.Status)
	}
	return tr.Order, nil
}

func (s *service) HasPurchased(ctx context.Context, userID, productID uuid.UUID) (bool, error) {
	ok, err := s.orderRepo.HasDeliveredProduct(ctx, userID, productID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Stringer("product_id", productID).Msg("service: failed to check purchase")
		return false, fmt.Errorf("service: failed to check purchase: %w", err)
	}
	return ok, nil
}
