package service

import (
	"context"
	"time"

	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/internal/core/ports"
	"mccapes-reconciler/pkg/apperror"
)

// reportingService implements ports.ReportingService.
type reportingService struct {
	walletRepo ports.WalletRepository
	guard      ports.RateLimiter
}

// NewReportingService creates a new reporting service.
func NewReportingService(walletRepo ports.WalletRepository, guard ports.RateLimiter) ports.ReportingService {
	return &reportingService{
		walletRepo: walletRepo,
		guard:      guard,
	}
}

// GetStats returns unpaid wallets per chain and the remaining cooldown per provider.
func (s *reportingService) GetStats(ctx context.Context) (*domain.PipelineStats, error) {
	counts, err := s.walletRepo.CountUnpaidByChain(ctx)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	cooldowns := map[domain.Provider]time.Duration{}
	for _, p := range []domain.Provider{domain.ProviderBlockCypher, domain.ProviderHelius} {
		cooldowns[p] = s.guard.Remaining(ctx, p)
	}

	return &domain.PipelineStats{
		UnpaidWallets:     counts,
		ProviderCooldowns: cooldowns,
	}, nil
}
