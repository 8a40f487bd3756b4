package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

type Service interface {
	ListCategories(ctx context.Context) ([]Category, error)
	CreateCategory(ctx context.Context, category *Category) (*Category, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error)
	GetProductBySlug(ctx context.Context, slug string) (*Product, error)
	GetProductByID(ctx context.Context, id uuid.UUID) (*Product, error)
	GetProductsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error)
	CreateProduct(ctx context.Context, product *Product) (*Product, error)
	UpdateProduct(ctx context.Context, id uuid.UUID, update ProductUpdate) (*Product, error)
	DeactivateProduct(ctx context.Context, id uuid.UUID) error
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) ListCategories(ctx context.Context) ([]Category, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list categories")
		return nil, fmt.Errorf("service: failed to list categories: %w", err)
	}
	return categories, nil
}

func (s *service) CreateCategory(ctx context.Context, category *Category) (*Category, error) {
	if err := s.repo.CreateCategory(ctx, category); err != nil {
		if errors.Is(err, ErrSlugExists) {
			return nil, ErrSlugExists
		}
		log.Error().Err(err).Str("slug", category.Slug).Msg("service: failed to create category")
		return nil, fmt.Errorf("service: failed to create category: %w", err)
	}

	log.Info().Stringer("category_id", category.ID).Str("slug", category.Slug).Msg("service: category created")
	return category, nil
}

func (s *service) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error) {
	products, total, err := s.repo.ListProducts(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list products")
		return nil, 0, fmt.Errorf("service: failed to list products: %w", err)
	}
	return products, total, nil
}

func (s *service) GetProductBySlug(ctx context.Context, slug string) (*Product, error) {
	product, err := s.repo.GetProductBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		log.Error().Err(err).Str("slug", slug).Msg("service: failed to get product by slug")
		return nil, fmt.Errorf("service: failed to get product %q: %w", slug, err)
	}

	// Inactive products stay hidden from the public catalog.
	if !product.IsActive {
		return nil, ErrProductNotFound
	}
	return product, nil
}

func (s *service) GetProductByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		log.Error().Err(err).Stringer("product_id", id).Msg("service: failed to get product by id")
		return nil, fmt.Errorf("service: failed to get product %s: %w", id, err)
	}
	return product, nil
}

func (s *service) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		log.Error().Err(err).Int("count", len(ids)).Msg("service: failed to load products by ids")
		return nil, fmt.Errorf("service: failed to load products: %w", err)
	}

	byID := make(map[uuid.UUID]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return byID, nil
}

func (s *service) CreateProduct(ctx context.Context, product *Product) (*Product, error) {
	if product.Price.IsNegative() {
		return nil, fmt.Errorf("%w: price cannot be negative", ErrInvalidProduct)
	}
	if product.Stock < 0 {
		return nil, fmt.Errorf("%w: stock cannot be negative", ErrInvalidProduct)
	}

	if _, err := s.repo.GetCategoryByID(ctx, product.CategoryID); err != nil {
		if errors.Is(err, ErrCategoryNotFound) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("service: failed to check category: %w", err)
	}

	if err := s.repo.CreateProduct(ctx, product); err != nil {
		if errors.Is(err, ErrSlugExists) {
			return nil, ErrSlugExists
		}
		log.Error().Err(err).Str("slug", product.Slug).Msg("service: failed to create product")
		return nil, fmt.Errorf("service: failed to create product: %w", err)
	}

	log.Info().Stringer("product_id", product.ID).Str("slug", product.Slug).Msg("service: product created")
	return product, nil
}

func (s *service) UpdateProduct(ctx context.Context, id uuid.UUID, update ProductUpdate) (*Product, error) {
	product, err := s.GetProductByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		product.Name = *update.Name
	}
	if update.Description != nil {
		product.Description = *update.Description
	}
	if update.Price != nil {
		if update.Price.IsNegative() {
			return nil, fmt.Errorf("%w: price cannot be negative", ErrInvalidProduct)
		}
		product.Price = *update.Price
	}
	if update.Stock != nil {
		if *update.Stock < 0 {
			return nil, fmt.Errorf("%w: stock cannot be negative", ErrInvalidProduct)
		}
		product.Stock = *update.Stock
	}
	if update.IsActive != nil {
		product.IsActive = *update.IsActive
	}

	if err := s.repo.UpdateProduct(ctx, product); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		log.Error().Err(err).Stringer("product_id", id).Msg("service: failed to update product")
		return nil, fmt.Errorf("service: failed to update product %s: %w", id, err)
	}

	return product, nil
}

func (s *service) DeactivateProduct(ctx context.Context, id uuid.UUID) error {
	inactive := false
	_, err := s.UpdateProduct(ctx, id, ProductUpdate{IsActive: &inactive})
	if err != nil {
		return err
	}
	log.Info().Stringer("product_id", id).Msg("service: product deactivated")
	return nil
}
