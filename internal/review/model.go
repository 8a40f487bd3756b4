package review

import (
	"errors"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrReviewNotFound  = errors.New("review not found")
	ErrInvalidRating   = errors.New("rating must be between 1 and 5")
	ErrNotPurchased    = errors.New("only customers who received the product can review it")
	ErrAlreadyReviewed = errors.New("product already reviewed by this user")
	ErrNotAuthor       = errors.New("only the author or an admin can delete a review")
)

const (
	MinRating = 1
	MaxRating = 5

	maxTitleLength = 200
)

type Review struct {
	ID        uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"product_id"`
	UserID    uuid.UUID `json:"user_id"`
	Rating    int       `json:"rating"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary aggregates all reviews of a product.
type Summary struct {
	Average decimal.Decimal `json:"average_rating"`
	Count   int             `json:"review_count"`
}

type CreateInput struct {
	UserID    uuid.UUID
	ProductID uuid.UUID
	Rating    int
	Title     string
	Body      string
}
