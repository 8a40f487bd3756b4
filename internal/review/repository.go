package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Create(ctx context.Context, review *Review) error
	GetByID(ctx context.Context, id uuid.UUID) (*Review, error)
	ListByProduct(ctx context.Context, productID uuid.UUID) ([]Review, error)
	Summarize(ctx context.Context, productID uuid.UUID) (Summary, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, review *Review) error {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("repository: failed to generate review ID: %w", err)
	}
	review.ID = id
	review.CreatedAt = time.Now().UTC()

	_, err = r.db.Exec(ctx, `
		INSERT INTO reviews (id, product_id, user_id, rating, title, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		review.ID, review.ProductID, review.UserID, review.Rating, review.Title, review.Body, review.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrAlreadyReviewed
		}
		return fmt.Errorf("repository: failed to insert review: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Review, error) {
	var rv Review
	err := r.db.QueryRow(ctx, `
		SELECT id, product_id, user_id, rating, title, body, created_at
		FROM reviews
		WHERE id = $1`, id,
	).Scan(&rv.ID, &rv.ProductID, &rv.UserID, &rv.Rating, &rv.Title, &rv.Body, &rv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("repository: failed to select review %s: %w", id, err)
	}
	return &rv, nil
}

func (r *postgresRepository) ListByProduct(ctx context.Context, productID uuid.UUID) ([]Review, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, product_id, user_id, rating, title, body, created_at
		FROM reviews
		WHERE product_id = $1
		ORDER BY created_at DESC`, productID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query reviews for product %s: %w", productID, err)
	}
	defer rows.Close()

	reviews := make([]Review, 0)
	for rows.Next() {
		var rv Review
		if err := rows.Scan(&rv.ID, &rv.ProductID, &rv.UserID, &rv.Rating, &rv.Title, &rv.Body, &rv.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan review: %w", err)
		}
		reviews = append(reviews, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating reviews: %w", err)
	}
	return reviews, nil
}

func (r *postgresRepository) Summarize(ctx context.Context, productID uuid.UUID) (Summary, error) {
	var s Summary
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(ROUND(AVG(rating)::numeric, 2), 0)::text, COUNT(*)
		FROM reviews
		WHERE product_id = $1`, productID,
	).Scan(&s.Average, &s.Count)
	if err != nil {
		return Summary{}, fmt.Errorf("repository: failed to summarize reviews for product %s: %w", productID, err)
	}
	return s, nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM reviews WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: failed to delete review %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrReviewNotFound
	}
	return nil
}
