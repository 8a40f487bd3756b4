package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type Repository interface {
	CreateOrder(ctx context.Context, order *Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, int, error)
	UpdateOrderStatus(ctx context.Context, update StatusUpdate) error
	HasDeliveredProduct(ctx context.Context, userID, productID uuid.UUID) (bool, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `o.id, o.user_id, o.status, o.subtotal, o.shipping_cost, o.total, o.currency, o.customer_email, o.created_at, o.updated_at,
	s.recipient, s.line1, s.line2, s.city, s.region, s.postal_code, s.country, s.carrier, s.tracking_number, s.shipped_at, s.delivered_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                                                      Order
		recipient, line1, line2, city, region, postal, country *string
		ship                                                   ShippingInfo
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Status, &o.Subtotal, &o.ShippingCost, &o.Total, &o.Currency, &o.CustomerEmail, &o.CreatedAt, &o.UpdatedAt,
		&recipient, &line1, &line2, &city, &region, &postal, &country, &ship.Carrier, &ship.TrackingNumber, &ship.ShippedAt, &ship.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	if recipient != nil {
		ship.Recipient = *recipient
		ship.Line1 = deref(line1)
		ship.Line2 = deref(line2)
		ship.City = deref(city)
		ship.Region = deref(region)
		ship.PostalCode = deref(postal)
		ship.Country = deref(country)
		o.Shipping = &ship
	}
	o.Items = make([]OrderItem, 0)
	return &o, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *postgresRepository) CreateOrder(ctx context.Context, order *Order) (err error) {
	if order.ID == uuid.Nil {
		order.ID, err = uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Stringer("order_id", order.ID).Msg("Panic recovered during CreateOrder, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", order.ID).Msg("Failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			log.Warn().Err(err).Stringer("order_id", order.ID).Msg("Transaction for CreateOrder failed, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", order.ID).Msg("Failed to rollback transaction")
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, status, subtotal, shipping_cost, total, currency, customer_email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		order.ID, order.UserID, string(order.Status), order.Subtotal, order.ShippingCost, order.Total,
		order.Currency, order.CustomerEmail, now, now,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.ID, err = uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order item ID: %w", err)
		}
		item.OrderID = order.ID

		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, product_name, unit_price, quantity)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, item.OrderID, item.ProductID, item.ProductName, item.UnitPrice, item.Quantity,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", order.ID, err)
		}
	}

	if s := order.Shipping; s != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO shipping_info (order_id, recipient, line1, line2, city, region, postal_code, country)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			order.ID, s.Recipient, s.Line1, s.Line2, s.City, s.Region, s.PostalCode, s.Country,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert shipping info for order %s: %w", order.ID, err)
		}
	}

	return nil
}

func (r *postgresRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		LEFT JOIN shipping_info s ON s.order_id = o.id
		WHERE o.id = $1`, id)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	if err := r.attachItems(ctx, map[uuid.UUID]*Order{order.ID: order}, []uuid.UUID{order.ID}); err != nil {
		return nil, err
	}

	return order, nil
}

func (r *postgresRepository) GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		LEFT JOIN shipping_info s ON s.order_id = o.id
		WHERE o.user_id = $1
		ORDER BY o.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for user id %s: %w", userID, err)
	}

	return r.collectOrders(ctx, rows)
}

func (r *postgresRepository) ListOrders(ctx context.Context, filter ListFilter) ([]Order, int, error) {
	filter = filter.normalized()

	where := ""
	args := []any{}
	if filter.Status != "" {
		where = "WHERE o.status = $1"
		args = append(args, string(filter.Status))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM orders o `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository: failed to count orders: %w", err)
	}

	limitArg := len(args) + 1
	args = append(args, filter.PerPage, filter.offset())
	rows, err := r.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		LEFT JOIN shipping_info s ON s.order_id = o.id
		`+where+`
		ORDER BY o.created_at DESC
		LIMIT $`+strconv.Itoa(limitArg)+` OFFSET $`+strconv.Itoa(limitArg+1), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("repository: failed to list orders: %w", err)
	}

	orders, err := r.collectOrders(ctx, rows)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *postgresRepository) collectOrders(ctx context.Context, rows pgx.Rows) ([]Order, error) {
	defer rows.Close()

	ordersMap := make(map[uuid.UUID]*Order)
	var orderIDs []uuid.UUID

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		ordersMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating orders: %w", err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	if err := r.attachItems(ctx, ordersMap, orderIDs); err != nil {
		return nil, err
	}

	result := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		result = append(result, *ordersMap[id])
	}
	return result, nil
}

func (r *postgresRepository) attachItems(ctx context.Context, orders map[uuid.UUID]*Order, ids []uuid.UUID) error {
	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, product_id, product_name, unit_price, quantity
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY product_name`, ids)
	if err != nil {
		return fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.UnitPrice, &item.Quantity); err != nil {
			return fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		if o, ok := orders[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("repository: failed iterating order items: %w", err)
	}
	return nil
}

// UpdateOrderStatus writes the status only if the order is still in
// update.From, and applies the stock and shipping side effects of the
// transition in the same transaction.
func (r *postgresRepository) UpdateOrderStatus(ctx context.Context, update StatusUpdate) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", update.OrderID).Msg("Failed to rollback status transaction")
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit status update: %w", commitErr)
		}
	}()

	cmdTag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(update.To), update.At, update.OrderID, string(update.From),
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update order status %s: %w", update.OrderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		var exists bool
		if err = tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, update.OrderID).Scan(&exists); err != nil {
			return fmt.Errorf("repository: failed to check order %s: %w", update.OrderID, err)
		}
		if !exists {
			err = ErrOrderNotFound
			return err
		}
		err = ErrStatusConflict
		return err
	}

	switch update.To {
	case StatusShipped:
		_, err = tx.Exec(ctx, `
			UPDATE shipping_info
			SET carrier = NULLIF($1, ''), tracking_number = NULLIF($2, ''), shipped_at = $3
			WHERE order_id = $4`,
			update.Carrier, update.TrackingNumber, update.At, update.OrderID,
		)
	case StatusDelivered:
		_, err = tx.Exec(ctx, `UPDATE shipping_info SET delivered_at = $1 WHERE order_id = $2`, update.At, update.OrderID)
	}
	if err != nil {
		return fmt.Errorf("repository: failed to update shipping info for order %s: %w", update.OrderID, err)
	}

	if effect := stockEffect(update.From, update.To); effect != 0 {
		if err = adjustStock(ctx, tx, update.OrderID, effect); err != nil {
			return err
		}
	}

	return nil
}

// adjustStock moves stock for every line of the order. Taking stock records
// per line how many units were actually removed; returning stock gives back
// exactly that many and resets the record.
func adjustStock(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, direction int) error {
	rows, err := tx.Query(ctx, `SELECT id, product_id, quantity, stock_taken FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to read items for stock update of order %s: %w", orderID, err)
	}
	type line struct {
		id         uuid.UUID
		productID  uuid.UUID
		quantity   int
		stockTaken int
	}
	var lines []line
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.id, &l.productID, &l.quantity, &l.stockTaken); err != nil {
			rows.Close()
			return fmt.Errorf("repository: failed to scan item for stock update: %w", err)
		}
		lines = append(lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("repository: failed iterating items for stock update: %w", err)
	}

	for _, l := range lines {
		if direction > 0 {
			if err := returnStock(ctx, tx, l.id, l.productID, l.stockTaken); err != nil {
				return err
			}
			continue
		}
		if err := takeStock(ctx, tx, orderID, l.id, l.productID, l.quantity); err != nil {
			return err
		}
	}
	return nil
}

func takeStock(ctx context.Context, tx pgx.Tx, orderID, itemID, productID uuid.UUID, quantity int) error {
	var available int
	err := tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Warn().Stringer("order_id", orderID).Stringer("product_id", productID).Msg("repository: product of paid order no longer exists")
			return nil
		}
		return fmt.Errorf("repository: failed to lock product %s: %w", productID, err)
	}

	taken := min(quantity, max(available, 0))
	if taken < quantity {
		// The payment is already captured; keep the order and flag the oversell.
		log.Warn().Stringer("order_id", orderID).Stringer("product_id", productID).
			Int("quantity", quantity).Int("taken", taken).
			Msg("repository: stock exhausted while marking order paid")
	}

	if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE id = $2`, taken, productID); err != nil {
		return fmt.Errorf("repository: failed to decrement stock of product %s: %w", productID, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE order_items SET stock_taken = $1 WHERE id = $2`, taken, itemID); err != nil {
		return fmt.Errorf("repository: failed to record stock taken for item %s: %w", itemID, err)
	}
	return nil
}

func returnStock(ctx context.Context, tx pgx.Tx, itemID, productID uuid.UUID, taken int) error {
	if taken <= 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock + $1, updated_at = NOW() WHERE id = $2`, taken, productID); err != nil {
		return fmt.Errorf("repository: failed to restock product %s: %w", productID, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE order_items SET stock_taken = 0 WHERE id = $1`, itemID); err != nil {
		return fmt.Errorf("repository: failed to reset stock taken for item %s: %w", itemID, err)
	}
	return nil
}

func (r *postgresRepository) HasDeliveredProduct(ctx context.Context, userID, productID uuid.UUID) (bool, error) {
	var delivered bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1
			FROM orders o
			JOIN order_items i ON i.order_id = o.id
			WHERE o.user_id = $1 AND i.product_id = $2 AND o.status = $3
		)`, userID, productID, string(StatusDelivered)).Scan(&delivered)
	if err != nil {
		return false, fmt.Errorf("repository: failed to check delivered product %s for user %s: %w", productID, userID, err)
	}
	return delivered, nil
}
