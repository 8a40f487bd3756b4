package catalog

import (
	"errors"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrSlugExists       = errors.New("slug already exists")
	ErrInvalidProduct   = errors.New("invalid product")
)

type Category struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	Name          string        `json:"name" db:"name"`
	Slug          string        `json:"slug" db:"slug"`
	Description   string        `json:"description" db:"description"`
	Subcategories []Subcategory `json:"subcategories" db:"-"`
}

type Subcategory struct {
	ID         uuid.UUID `json:"id" db:"id"`
	CategoryID uuid.UUID `json:"category_id" db:"category_id"`
	Name       string    `json:"name" db:"name"`
	Slug       string    `json:"slug" db:"slug"`
}

type Image struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ProductID uuid.UUID `json:"-" db:"product_id"`
	URL       string    `json:"url" db:"url"`
	AltText   string    `json:"alt_text" db:"alt_text"`
	Position  int       `json:"position" db:"position"`
}

type Product struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	CategoryID    uuid.UUID       `json:"category_id" db:"category_id"`
	SubcategoryID uuid.NullUUID   `json:"subcategory_id" db:"subcategory_id"`
	Name          string          `json:"name" db:"name"`
	Slug          string          `json:"slug" db:"slug"`
	Description   string          `json:"description" db:"description"`
	Price         decimal.Decimal `json:"price" db:"price"`
	Stock         int             `json:"stock" db:"stock"`
	IsActive      bool            `json:"is_active" db:"is_active"`
	Images        []Image         `json:"images" db:"-"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Purchasable reports whether qty units can be put in a cart or order.
func (p *Product) Purchasable(qty int) bool {
	return p.IsActive && qty > 0 && qty <= p.Stock
}

type ProductFilter struct {
	CategorySlug    string
	SubcategorySlug string
	Page            int
	PerPage         int
}

func (f ProductFilter) normalized() ProductFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}
	return f
}

// ProductUpdate holds the fields an admin may change; nil means unchanged.
type ProductUpdate struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Stock       *int
	IsActive    *bool
}
