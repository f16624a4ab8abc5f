package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mccapes-reconciler/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, customer_name, customer_email, status, payment_type,
	total_price, payment_fee, coupon_id, created_at, updated_at`

// OrderRepo implements ports.OrderRepository.
type OrderRepo struct {
	pool Pool
}

// NewOrderRepo creates a new OrderRepo.
func NewOrderRepo(pool Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	o := &domain.Order{}
	var status, paymentType string
	if err := row.Scan(
		&o.ID, &o.CustomerName, &o.CustomerEmail, &status, &paymentType,
		&o.TotalPrice, &o.PaymentFee, &o.CouponID, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	o.PaymentType = domain.PaymentType(paymentType)
	return o, nil
}

// GetByIDForUpdate fetches an order with a row lock.
// This MUST be called within a transaction.
func (r *OrderRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	o, err := scanOrder(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order for update: %w", err)
	}
	return o, nil
}

// TransitionStatus moves the order from one status to another.
// It reports false when the order was not in the from status.
func (r *OrderRepo) TransitionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.OrderStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("order status %s cannot become %s", from, to)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE orders SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return false, fmt.Errorf("transition order status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListItems returns the order lines with their product details.
func (r *OrderRepo) ListItems(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) ([]domain.OrderItem, error) {
	return listItems(ctx, tx, orderID)
}

func listItems(ctx context.Context, q querier, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := q.Query(ctx,
		`SELECT oi.id, oi.order_id, oi.product_id,
			COALESCE(p.name, ''), COALESCE(p.slug, ''), COALESCE(p.image_url, ''),
			oi.quantity, oi.price, oi.codes
		 FROM order_items oi
		 LEFT JOIN products p ON p.id = oi.product_id
		 WHERE oi.order_id = $1
		 ORDER BY oi.id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(
			&it.ID, &it.OrderID, &it.ProductID,
			&it.ProductName, &it.ProductSlug, &it.ProductImage,
			&it.Quantity, &it.Price, &it.Codes,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	return items, nil
}

// SetItemCodes assigns delivered codes to an order line.
func (r *OrderRepo) SetItemCodes(ctx context.Context, tx pgx.Tx, itemID uuid.UUID, codes []string) error {
	tag, err := tx.Exec(ctx, `UPDATE order_items SET codes = $2 WHERE id = $1`, itemID, codes)
	if err != nil {
		return fmt.Errorf("set order item codes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order item not found: %s", itemID)
	}
	return nil
}

// GetView loads the order and its lines outside any transaction.
func (r *OrderRepo) GetView(ctx context.Context, id uuid.UUID) (*domain.OrderView, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := listItems(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	return &domain.OrderView{Order: *o, Items: items}, nil
}

// CancelStalePending cancels card/PayPal orders left PENDING since before cutoff.
// Crypto orders and anything past PENDING are never touched.
func (r *OrderRepo) CancelStalePending(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE orders SET status = 'CANCELLED', updated_at = NOW()
		 WHERE status = 'PENDING' AND payment_type <> 'CRYPTO' AND created_at < $1
		 RETURNING id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("cancel stale orders: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cancelled order: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
