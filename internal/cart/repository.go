package cart

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*Cart, error)
	SetItemQuantity(ctx context.Context, cartID, productID uuid.UUID, quantity int) error
	DeleteItem(ctx context.Context, cartID, productID uuid.UUID) error
	ClearByUserID(ctx context.Context, userID uuid.UUID) error
	DeleteProducts(ctx context.Context, userID uuid.UUID, productIDs []uuid.UUID) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	newID, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("repository: failed to generate cart ID: %w", err)
	}

	var c Cart
	err = r.db.QueryRow(ctx, `
		INSERT INTO carts (id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, created_at, updated_at`, newID, userID,
	).Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to get or create cart for user %s: %w", userID, err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, product_id, quantity
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY created_at`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query cart items for cart %s: %w", c.ID, err)
	}
	defer rows.Close()

	c.Items = make([]Item, 0)
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("repository: failed to scan cart item: %w", err)
		}
		c.Items = append(c.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating cart items: %w", err)
	}

	return &c, nil
}

func (r *postgresRepository) SetItemQuantity(ctx context.Context, cartID, productID uuid.UUID, quantity int) error {
	itemID, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("repository: failed to generate cart item ID: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO cart_items (id, cart_id, product_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
		itemID, cartID, productID, quantity)
	if err != nil {
		return fmt.Errorf("repository: failed to set quantity of product %s in cart %s: %w", productID, cartID, err)
	}

	if _, err := r.db.Exec(ctx, `UPDATE carts SET updated_at = NOW() WHERE id = $1`, cartID); err != nil {
		return fmt.Errorf("repository: failed to touch cart %s: %w", cartID, err)
	}
	return nil
}

func (r *postgresRepository) DeleteItem(ctx context.Context, cartID, productID uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`, cartID, productID)
	if err != nil {
		return fmt.Errorf("repository: failed to delete product %s from cart %s: %w", productID, cartID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *postgresRepository) ClearByUserID(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM cart_items
		WHERE cart_id IN (SELECT id FROM carts WHERE user_id = $1)`, userID)
	if err != nil {
		return fmt.Errorf("repository: failed to clear cart for user %s: %w", userID, err)
	}
	return nil
}

func (r *postgresRepository) DeleteProducts(ctx context.Context, userID uuid.UUID, productIDs []uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM cart_items
		WHERE cart_id IN (SELECT id FROM carts WHERE user_id = $1)
		  AND product_id = ANY($2)`, userID, productIDs)
	if err != nil {
		return fmt.Errorf("repository: failed to remove purchased products from cart of user %s: %w", userID, err)
	}
	return nil
}
