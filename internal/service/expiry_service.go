package service

import (
	"context"
	"time"

	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/internal/core/ports"
	"mccapes-reconciler/pkg/apperror"
	"mccapes-reconciler/pkg/logger"

	"github.com/rs/zerolog"
)

// DefaultPendingTimeout is how long a non-crypto order may stay PENDING.
const DefaultPendingTimeout = 30 * time.Minute

type expiryService struct {
	orderRepo ports.OrderRepository
	audit     ports.AuditService
	metrics   ports.Metrics
	timeout   time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewExpiryService creates a new expiry service.
func NewExpiryService(
	orderRepo ports.OrderRepository,
	audit ports.AuditService,
	metrics ports.Metrics,
	pendingTimeout time.Duration,
	log zerolog.Logger,
) ports.ExpiryService {
	if pendingTimeout <= 0 {
		pendingTimeout = DefaultPendingTimeout
	}
	return &expiryService{
		orderRepo: orderRepo,
		audit:     audit,
		metrics:   metrics,
		timeout:   pendingTimeout,
		now:       time.Now,
		log:       logger.Component(log, "expiry"),
	}
}

// ExpireStaleOrders cancels PENDING card/PayPal orders older than the
// timeout. Crypto orders stay open for the reconciler.
func (s *expiryService) ExpireStaleOrders(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.timeout)

	ids, err := s.orderRepo.CancelStalePending(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to expire stale orders")
		return 0, apperror.ErrDatabaseError(err)
	}

	s.metrics.ObserveExpired(len(ids))
	if len(ids) == 0 {
		return 0, nil
	}

	s.log.Info().Int("count", len(ids)).Time("cutoff", cutoff).Msg("Expired stale pending orders")
	for _, id := range ids {
		s.audit.Log(ctx, &domain.AuditLog{
			Action:       domain.AuditActionOrderExpired,
			ResourceType: "order",
			ResourceID:   id.String(),
			Actor:        "scheduler",
		})
	}
	return len(ids), nil
}
