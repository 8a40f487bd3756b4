package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/catalog"
)

// Products is the part of the catalog the cart reads from.
type Products interface {
	GetProductByID(ctx context.Context, id uuid.UUID) (*catalog.Product, error)
	GetProductsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error)
}

type Service interface {
	GetCart(ctx context.Context, userID uuid.UUID) (*Cart, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*Cart, error)
	UpdateItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*Cart, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*Cart, error)
	Clear(ctx context.Context, userID uuid.UUID) error
	// RemoveProducts drops the given products from the cart and keeps the rest.
	RemoveProducts(ctx context.Context, userID uuid.UUID, productIDs []uuid.UUID) error
}

type service struct {
	repo     Repository
	products Products
}

func NewService(repo Repository, products Products) Service {
	return &service{repo: repo, products: products}
}

func (s *service) GetCart(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	c, err := s.repo.GetOrCreateCart(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to load cart")
		return nil, fmt.Errorf("service: failed to load cart: %w", err)
	}

	if len(c.Items) == 0 {
		return c, nil
	}

	ids := make([]uuid.UUID, len(c.Items))
	for i, item := range c.Items {
		ids[i] = item.ProductID
	}
	products, err := s.products.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("service: failed to load cart products: %w", err)
	}

	for i := range c.Items {
		if p, ok := products[c.Items[i].ProductID]; ok {
			c.Items[i].Product = &p
		}
	}
	return c, nil
}

func (s *service) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*Cart, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	c, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	total := quantity
	if existing, ok := c.find(productID); ok {
		total += existing.Quantity
	}

	if err := s.setQuantity(ctx, c, productID, total); err != nil {
		return nil, err
	}
	return s.GetCart(ctx, userID)
}

func (s *service) UpdateItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*Cart, error) {
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, userID, productID)
	}

	c, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, ok := c.find(productID); !ok {
		return nil, ErrItemNotFound
	}

	if err := s.setQuantity(ctx, c, productID, quantity); err != nil {
		return nil, err
	}
	return s.GetCart(ctx, userID)
}

func (s *service) setQuantity(ctx context.Context, c *Cart, productID uuid.UUID, quantity int) error {
	product, err := s.products.GetProductByID(ctx, productID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return catalog.ErrProductNotFound
		}
		return fmt.Errorf("service: failed to load product %s: %w", productID, err)
	}
	if !product.IsActive {
		return catalog.ErrProductNotFound
	}
	if !product.Purchasable(quantity) {
		log.Warn().Stringer("product_id", productID).Int("requested", quantity).Int("stock", product.Stock).
			Msg("service: cart quantity exceeds stock")
		return ErrInsufficientStock
	}

	if err := s.repo.SetItemQuantity(ctx, c.ID, productID, quantity); err != nil {
		log.Error().Err(err).Stringer("cart_id", c.ID).Stringer("product_id", productID).Msg("service: failed to set cart item quantity")
		return fmt.Errorf("service: failed to update cart: %w", err)
	}
	return nil
}

func (s *service) RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*Cart, error) {
	c, err := s.repo.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to load cart: %w", err)
	}

	if err := s.repo.DeleteItem(ctx, c.ID, productID); err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return nil, ErrItemNotFound
		}
		log.Error().Err(err).Stringer("cart_id", c.ID).Stringer("product_id", productID).Msg("service: failed to remove cart item")
		return nil, fmt.Errorf("service: failed to remove cart item: %w", err)
	}
	return s.GetCart(ctx, userID)
}

func (s *service) Clear(ctx context.Context, userID uuid.UUID) error {
	if err := s.repo.ClearByUserID(ctx, userID); err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to clear cart")
		return fmt.Errorf("service: failed to clear cart: %w", err)
	}
	log.Info().Stringer("user_id", userID).Msg("service: cart cleared")
	return nil
}

func (s *service) RemoveProducts(ctx context.Context, userID uuid.UUID, productIDs []uuid.UUID) error {
	if len(productIDs) == 0 {
		return nil
	}
	if err := s.repo.DeleteProducts(ctx, userID, productIDs); err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to remove purchased products from cart")
		return fmt.Errorf("service: failed to remove purchased products from cart: %w", err)
	}
	log.Info().Stringer("user_id", userID).Int("products", len(productIDs)).Msg("service: purchased products removed from cart")
	return nil
}
