package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type Repository interface {
	ListCategories(ctx context.Context) ([]Category, error)
	CreateCategory(ctx context.Context, category *Category) error
	GetCategoryByID(ctx context.Context, id uuid.UUID) (*Category, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error)
	GetProductBySlug(ctx context.Context, slug string) (*Product, error)
	GetProductByID(ctx context.Context, id uuid.UUID) (*Product, error)
	GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error)
	CreateProduct(ctx context.Context, product *Product) error
	UpdateProduct(ctx context.Context, product *Product) error
}

type sqlxRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &sqlxRepository{db: db}
}

const productColumns = `p.id, p.category_id, p.subcategory_id, p.name, p.slug, p.description, p.price, p.stock, p.is_active, p.created_at, p.updated_at`

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func (r *sqlxRepository) ListCategories(ctx context.Context) ([]Category, error) {
	categories := []Category{}
	if err := r.db.SelectContext(ctx, &categories, `SELECT id, name, slug, description FROM categories ORDER BY name`); err != nil {
		return nil, fmt.Errorf("repository: failed to list categories: %w", err)
	}

	var subs []Subcategory
	if err := r.db.SelectContext(ctx, &subs, `SELECT id, category_id, name, slug FROM subcategories ORDER BY name`); err != nil {
		return nil, fmt.Errorf("repository: failed to list subcategories: %w", err)
	}

	byID := make(map[uuid.UUID]*Category, len(categories))
	for i := range categories {
		categories[i].Subcategories = []Subcategory{}
		byID[categories[i].ID] = &categories[i]
	}
	for _, sub := range subs {
		if c, ok := byID[sub.CategoryID]; ok {
			c.Subcategories = append(c.Subcategories, sub)
		}
	}

	return categories, nil
}

func (r *sqlxRepository) CreateCategory(ctx context.Context, category *Category) (err error) {
	if category.ID, err = uuid.NewV4(); err != nil {
		return fmt.Errorf("repository: failed to generate category ID: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Str("slug", category.Slug).Msg("Failed to rollback category transaction")
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit category: %w", commitErr)
		}
	}()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO categories (id, name, slug, description)
		VALUES (:id, :name, :slug, :description)`, category)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlugExists
		}
		return fmt.Errorf("repository: failed to insert category: %w", err)
	}

	for i := range category.Subcategories {
		sub := &category.Subcategories[i]
		if sub.ID, err = uuid.NewV4(); err != nil {
			return fmt.Errorf("repository: failed to generate subcategory ID: %w", err)
		}
		sub.CategoryID = category.ID
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO subcategories (id, category_id, name, slug)
			VALUES (:id, :category_id, :name, :slug)`, sub)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrSlugExists
			}
			return fmt.Errorf("repository: failed to insert subcategory: %w", err)
		}
	}

	return nil
}

func (r *sqlxRepository) GetCategoryByID(ctx context.Context, id uuid.UUID) (*Category, error) {
	var category Category
	err := r.db.GetContext(ctx, &category, `SELECT id, name, slug, description FROM categories WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("repository: failed to select category %s: %w", id, err)
	}
	return &category, nil
}

func (r *sqlxRepository) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error) {
	filter = filter.normalized()

	conds := []string{"p.is_active"}
	args := []any{}
	if filter.CategorySlug != "" {
		args = append(args, filter.CategorySlug)
		conds = append(conds, "c.slug = $"+strconv.Itoa(len(args)))
	}
	if filter.SubcategorySlug != "" {
		args = append(args, filter.SubcategorySlug)
		conds = append(conds, "s.slug = $"+strconv.Itoa(len(args)))
	}
	from := `
		FROM products p
		JOIN categories c ON c.id = p.category_id
		LEFT JOIN subcategories s ON s.id = p.subcategory_id
		WHERE ` + strings.Join(conds, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) `+from, args...); err != nil {
		return nil, 0, fmt.Errorf("repository: failed to count products: %w", err)
	}

	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	query := `SELECT ` + productColumns + from + `
		ORDER BY p.created_at DESC, p.id
		LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	products := []Product{}
	if err := r.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, 0, fmt.Errorf("repository: failed to list products: %w", err)
	}

	if err := r.attachImages(ctx, products); err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (r *sqlxRepository) getProduct(ctx context.Context, where string, arg any) (*Product, error) {
	var product Product
	err := r.db.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products p WHERE `+where, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to select product: %w", err)
	}

	products := []Product{product}
	if err := r.attachImages(ctx, products); err != nil {
		return nil, err
	}
	return &products[0], nil
}

func (r *sqlxRepository) GetProductBySlug(ctx context.Context, slug string) (*Product, error) {
	return r.getProduct(ctx, "p.slug = $1", slug)
}

func (r *sqlxRepository) GetProductByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	return r.getProduct(ctx, "p.id = $1", id)
}

func (r *sqlxRepository) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error) {
	products := []Product{}
	if len(ids) == 0 {
		return products, nil
	}

	err := r.db.SelectContext(ctx, &products,
		`SELECT `+productColumns+` FROM products p WHERE p.id = ANY($1)`, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("repository: failed to select products by ids: %w", err)
	}
	return products, nil
}

func (r *sqlxRepository) attachImages(ctx context.Context, products []Product) error {
	if len(products) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(products))
	index := make(map[uuid.UUID]int, len(products))
	for i := range products {
		ids[i] = products[i].ID
		index[products[i].ID] = i
		products[i].Images = []Image{}
	}

	var images []Image
	err := r.db.SelectContext(ctx, &images, `
		SELECT id, product_id, url, alt_text, position
		FROM product_images
		WHERE product_id = ANY($1)
		ORDER BY position`, pq.Array(uuidStrings(ids)))
	if err != nil {
		return fmt.Errorf("repository: failed to select product images: %w", err)
	}

	for _, img := range images {
		if i, ok := index[img.ProductID]; ok {
			products[i].Images = append(products[i].Images, img)
		}
	}
	return nil
}

func (r *sqlxRepository) CreateProduct(ctx context.Context, product *Product) (err error) {
	if product.ID, err = uuid.NewV4(); err != nil {
		return fmt.Errorf("repository: failed to generate product ID: %w", err)
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Str("slug", product.Slug).Msg("Failed to rollback product transaction")
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit product: %w", commitErr)
		}
	}()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO products (id, category_id, subcategory_id, name, slug, description, price, stock, is_active, created_at, updated_at)
		VALUES (:id, :category_id, :subcategory_id, :name, :slug, :description, :price, :stock, :is_active, :created_at, :updated_at)`,
		product)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlugExists
		}
		return fmt.Errorf("repository: failed to insert product: %w", err)
	}

	for i := range product.Images {
		img := &product.Images[i]
		if img.ID, err = uuid.NewV4(); err != nil {
			return fmt.Errorf("repository: failed to generate image ID: %w", err)
		}
		img.ProductID = product.ID
		img.Position = i
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO product_images (id, product_id, url, alt_text, position)
			VALUES (:id, :product_id, :url, :alt_text, :position)`, img)
		if err != nil {
			return fmt.Errorf("repository: failed to insert product image: %w", err)
		}
	}

	return nil
}

func (r *sqlxRepository) UpdateProduct(ctx context.Context, product *Product) error {
	product.UpdatedAt = time.Now().UTC()
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE products
		SET name = :name, description = :description, price = :price, stock = :stock,
			is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`, product)
	if err != nil {
		return fmt.Errorf("repository: failed to update product %s: %w", product.ID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: failed to read affected rows for product %s: %w", product.ID, err)
	}
	if rowsAffected == 0 {
		return ErrProductNotFound
	}
	return nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
