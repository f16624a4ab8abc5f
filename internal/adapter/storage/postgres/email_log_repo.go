package postgres

import (
	"context"
	"fmt"
	"time"

	"mccapes-reconciler/internal/core/domain"
)

// EmailLogRepo implements ports.EmailLogRepository.
type EmailLogRepo struct {
	pool Pool
}

// NewEmailLogRepo creates a PostgreSQL-backed email delivery log repository.
func NewEmailLogRepo(pool Pool) *EmailLogRepo {
	return &EmailLogRepo{pool: pool}
}

func (r *EmailLogRepo) Create(ctx context.Context, log *domain.EmailDeliveryLog) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO email_delivery_logs
		 (id, order_id, recipient, subject, status, attempt, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		log.ID, log.OrderID, log.Recipient, log.Subject, string(log.Status),
		log.Attempt, log.LastError, log.CreatedAt, log.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert email delivery log: %w", err)
	}
	return nil
}

func (r *EmailLogRepo) Update(ctx context.Context, log *domain.EmailDeliveryLog) error {
	log.UpdatedAt = time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`UPDATE email_delivery_logs
		 SET status = $1, attempt = $2, last_error = $3, updated_at = $4
		 WHERE id = $5`,
		string(log.Status), log.Attempt, log.LastError, log.UpdatedAt, log.ID,
	)
	if err != nil {
		return fmt.Errorf("update email delivery log: %w", err)
	}
	return nil
}
