package postgres

import (
	"context"
	"errors"
	"fmt"

	"mccapes-reconciler/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ProductRepo implements ports.ProductRepository.
type ProductRepo struct {
	pool Pool
}

// NewProductRepo creates a new ProductRepo.
func NewProductRepo(pool Pool) *ProductRepo {
	return &ProductRepo{pool: pool}
}

// GetForUpdate locks the product row so concurrent settlements take codes in turn.
func (r *ProductRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Product, error) {
	p := &domain.Product{}
	err := tx.QueryRow(ctx,
		`SELECT id, name, slug, image_url, stock FROM products WHERE id = $1 FOR UPDATE`, id,
	).Scan(&p.ID, &p.Name, &p.Slug, &p.ImageURL, &p.Stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product for update: %w", err)
	}
	return p, nil
}

// UpdateStock writes back the remaining codes.
func (r *ProductRepo) UpdateStock(ctx context.Context, tx pgx.Tx, id uuid.UUID, stock []string) error {
	if stock == nil {
		stock = []string{}
	}
	tag, err := tx.Exec(ctx,
		`UPDATE products SET stock = $2, updated_at = NOW() WHERE id = $1`, id, stock)
	if err != nil {
		return fmt.Errorf("update product stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product not found: %s", id)
	}
	return nil
}
