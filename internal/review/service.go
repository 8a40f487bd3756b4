package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/catalog"
)

// Purchases answers whether a user has received a product.
type Purchases interface {
	HasPurchased(ctx context.Context, userID, productID uuid.UUID) (bool, error)
}

type Products interface {
	GetProductByID(ctx context.Context, id uuid.UUID) (*catalog.Product, error)
}

type Service interface {
	Create(ctx context.Context, in CreateInput) (*Review, error)
	ListByProduct(ctx context.Context, productID uuid.UUID) ([]Review, Summary, error)
	Delete(ctx context.Context, id, userID uuid.UUID, isAdmin bool) error
}

type service struct {
	repo      Repository
	purchases Purchases
	products  Products
}

func NewService(repo Repository, purchases Purchases, products Products) Service {
	return &service{repo: repo, purchases: purchases, products: products}
}

func (s *service) Create(ctx context.Context, in CreateInput) (*Review, error) {
	if in.Rating < MinRating || in.Rating > MaxRating {
		return nil, ErrInvalidRating
	}

	title := strings.TrimSpace(in.Title)
	if utf8.RuneCountInString(title) > maxTitleLength {
		title = string([]rune(title)[:maxTitleLength])
	}

	product, err := s.products.GetProductByID(ctx, in.ProductID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return nil, catalog.ErrProductNotFound
		}
		return nil, fmt.Errorf("service: failed to load product: %w", err)
	}

	purchased, err := s.purchases.HasPurchased(ctx, in.UserID, product.ID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to check purchase: %w", err)
	}
	if !purchased {
		return nil, ErrNotPurchased
	}

	review := &Review{
		ProductID: product.ID,
		UserID:    in.UserID,
		Rating:    in.Rating,
		Title:     title,
		Body:      strings.TrimSpace(in.Body),
	}
	if err := s.repo.Create(ctx, review); err != nil {
		if errors.Is(err, ErrAlreadyReviewed) {
			return nil, ErrAlreadyReviewed
		}
		log.Error().Err(err).Stringer("product_id", product.ID).Stringer("user_id", in.UserID).Msg("service: failed to create review")
		return nil, fmt.Errorf("service: failed to create review: %w", err)
	}

	log.Info().Stringer("review_id", review.ID).Stringer("product_id", product.ID).Int("rating", review.Rating).Msg("service: review created")
	return review, nil
}

func (s *service) ListByProduct(ctx context.Context, productID uuid.UUID) ([]Review, Summary, error) {
	reviews, err := s.repo.ListByProduct(ctx, productID)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("service: failed to list reviews: %w", err)
	}
	summary, err := s.repo.Summarize(ctx, productID)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("service: failed to summarize reviews: %w", err)
	}
	return reviews, summary, nil
}

func (s *service) Delete(ctx context.Context, id, userID uuid.UUID, isAdmin bool) error {
	review, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrReviewNotFound) {
			return ErrReviewNotFound
		}
		return fmt.Errorf("service: failed to load review: %w", err)
	}
	if !isAdmin && review.UserID != userID {
		return ErrNotAuthor
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrReviewNotFound) {
			return ErrReviewNotFound
		}
		return fmt.Errorf("service: failed to delete review: %w", err)
	}
	log.Info().Stringer("review_id", id).Bool("by_admin", isAdmin).Msg("service: review deleted")
	return nil
}
