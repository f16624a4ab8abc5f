package service

import (
	"context"
	"fmt"
	"time"

	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/internal/core/ports"
	"mccapes-reconciler/pkg/apperror"
	"mccapes-reconciler/pkg/logger"

	"github.com/rs/zerolog"
)

// DefaultWebhookDedupTTL bounds how long a processed notice is remembered.
const DefaultWebhookDedupTTL = 24 * time.Hour

// webhookIngestService implements ports.WebhookIngestService.
type webhookIngestService struct {
	walletRepo       ports.WalletRepository
	dedup            ports.WebhookDedupStore
	settlement       ports.SettlementService
	minConfirmations map[domain.Chain]int
	dedupTTL         time.Duration
	log              zerolog.Logger
}

// NewWebhookIngestService creates the webhook ingestion service. It settles
// through the same SettlementService the reconciler uses.
func NewWebhookIngestService(
	walletRepo ports.WalletRepository,
	dedup ports.WebhookDedupStore,
	settlement ports.SettlementService,
	minConfirmations map[domain.Chain]int,
	dedupTTL time.Duration,
	log zerolog.Logger,
) ports.WebhookIngestService {
	if dedupTTL <= 0 {
		dedupTTL = DefaultWebhookDedupTTL
	}
	return &webhookIngestService{
		walletRepo:       walletRepo,
		dedup:            dedup,
		settlement:       settlement,
		minConfirmations: minConfirmations,
		dedupTTL:         dedupTTL,
		log:              logger.Component(log, "webhook_ingest"),
	}
}

// Ingest parses a provider payload and settles every notice that pays an
// unpaid wallet in full.
func (s *webhookIngestService) Ingest(ctx context.Context, provider domain.Provider, chainHint string, body []byte) (*ports.IngestReport, error) {
	payload, err := domain.ParseWebhookPayload(body)
	if err != nil {
		return nil, apperror.Validation(err.Error())
	}
	if !kindServedBy(payload.Kind(), provider) {
		return nil, apperror.Validation(fmt.Sprintf("%s payload sent to %s webhook", payload.Kind(), provider))
	}

	var hint domain.Chain
	if chainHint != "" {
		c, ok := domain.ParseChain(chainHint)
		if !ok || c.Provider() != provider {
			return nil, apperror.Validation(fmt.Sprintf("unsupported chain hint %q", chainHint))
		}
		hint = c
	}

	notices, err := payload.Notices(hint)
	if err != nil {
		return nil, apperror.Validation(err.Error())
	}

	report := &ports.IngestReport{Notices: len(notices)}
	for i := range notices {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.handleNotice(ctx, provider, &notices[i], report)
	}

	s.log.Info().
		Str("provider", string(provider)).
		Int("notices", report.Notices).
		Int("settled", report.Settled).
		Int("duplicates", report.Duplicates).
		Int("errors", report.Errors).
		Msg("Webhook processed")
	return report, nil
}

func (s *webhookIngestService) handleNotice(ctx context.Context, provider domain.Provider, n *domain.PaymentNotice, report *ports.IngestReport) {
	log := s.log.With().
		Str("provider", string(provider)).
		Str("tx_hash", n.TxHash).
		Str("address", n.Address).
		Logger()

	key := fmt.Sprintf("%s:%s:%s", provider, n.TxHash, n.Address)
	claimed := true
	fresh, err := s.dedup.CheckAndSet(ctx, key, s.dedupTTL)
	switch {
	case err != nil:
		// Settlement is idempotent on its own; dedup only saves work.
		log.Warn().Err(err).Msg("Webhook dedup unavailable")
		claimed = false
	case !fresh:
		report.Duplicates++
		return
	}
	release := func() {
		if !claimed {
			return
		}
		if err := s.dedup.Release(context.WithoutCancel(ctx), key); err != nil {
			log.Warn().Err(err).Msg("Failed to release webhook dedup key")
		}
	}

	wallet, err := s.resolveWallet(ctx, provider, n)
	if err != nil {
		log.Error().Err(err).Msg("Wallet lookup failed")
		report.Errors++
		release()
		return
	}
	if wallet == nil {
		log.Debug().Msg("No unpaid wallet for address")
		report.Ignored++
		return
	}

	log = log.With().Str("wallet_id", wallet.ID.String()).Str("chain", string(wallet.Chain)).Logger()

	expected, err := wallet.ExpectedUnits()
	if err != nil {
		log.Error().Err(err).Str("expected_amount", wallet.ExpectedAmount).Msg("Expected amount is malformed")
		report.Errors++
		release()
		return
	}
	if n.ReceivedBaseUnits == nil || n.ReceivedBaseUnits.Cmp(expected) < 0 {
		log.Info().
			Str("received", n.ReceivedBaseUnits.String()).
			Str("expected", expected.String()).
			Msg("Underpayment ignored")
		report.Underpaid++
		return
	}

	if threshold := s.minConfirmations[wallet.Chain]; wallet.Chain != domain.ChainSolana && n.Confirmations < threshold {
		if err := s.walletRepo.RaiseConfirmations(ctx, wallet.ID, n.Confirmations); err != nil {
			log.Warn().Err(err).Msg("Failed to record confirmations")
		}
		report.AwaitingConfirmations++
		// The provider re-sends the same transaction as it confirms.
		release()
		return
	}

	txHash := n.TxHash
	result, err := s.settlement.Settle(ctx, domain.SettlementRequest{
		WalletID:      wallet.ID,
		TxHash:        &txHash,
		Confirmations: max(1, n.Confirmations),
		Source:        domain.SettlementSourceWebhook,
	})
	if err != nil {
		log.Error().Err(err).Msg("Webhook settlement failed")
		report.Errors++
		release()
		return
	}
	if result.Settled {
		report.Settled++
	} else {
		report.AlreadySettled++
	}
}

// resolveWallet searches the hinted chain, or every chain the provider serves.
func (s *webhookIngestService) resolveWallet(ctx context.Context, provider domain.Provider, n *domain.PaymentNotice) (*domain.Wallet, error) {
	chains := provider.Chains()
	if n.ChainHint != "" && n.ChainHint.Provider() == provider {
		chains = []domain.Chain{n.ChainHint}
	}
	for _, chain := range chains {
		w, err := s.walletRepo.FindUnpaidByAddress(ctx, chain, n.Address)
		if err != nil {
			return nil, err
		}
		if w != nil {
			return w, nil
		}
	}
	return nil, nil
}

func kindServedBy(kind domain.WebhookKind, provider domain.Provider) bool {
	switch kind {
	case domain.WebhookKindUTXO:
		return provider == domain.ProviderBlockCypher
	case domain.WebhookKindHelius:
		return provider == domain.ProviderHelius
	}
	return false
}
