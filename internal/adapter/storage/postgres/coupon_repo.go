package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CouponRepo implements ports.CouponRepository.
type CouponRepo struct {
	pool Pool
}

// NewCouponRepo creates a new CouponRepo.
func NewCouponRepo(pool Pool) *CouponRepo {
	return &CouponRepo{pool: pool}
}

// IncrementUsage bumps the usage counter. A deleted coupon is not an error.
func (r *CouponRepo) IncrementUsage(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	if _, err := tx.Exec(ctx,
		`UPDATE coupons SET usage_count = usage_count + 1 WHERE id = $1`, id); err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	return nil
}
