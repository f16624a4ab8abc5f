package service

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/internal/core/ports"
	"mccapes-reconciler/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ReconcilerOptions tunes a batch.
type ReconcilerOptions struct {
	BatchSize int
	// CallSpacing is the minimum gap between two provider calls, whatever the chain.
	CallSpacing      time.Duration
	MinConfirmations map[domain.Chain]int
}

// MinConfirmationsByChain converts the config map (keyed by chain name or
// ticker) into per-chain thresholds. Unknown keys are ignored.
func MinConfirmationsByChain(raw map[string]int) map[domain.Chain]int {
	out := make(map[domain.Chain]int, len(raw))
	for k, v := range raw {
		if c, ok := domain.ParseChain(k); ok && v > 0 {
			out[c] = v
		}
	}
	return out
}

// ReconcilerServiceImpl implements ports.ReconcilerService.
type ReconcilerServiceImpl struct {
	walletRepo ports.WalletRepository
	utxo       ports.UTXOChainClient
	solana     ports.SolanaChainClient
	guard      ports.RateLimiter
	settlement ports.SettlementService
	metrics    ports.Metrics
	opts       ReconcilerOptions
	pacer      *rate.Limiter
	// rotation picks which chains get the leftover slots when limit does
	// not divide evenly.
	rotation atomic.Uint32
	now      func() time.Time
	log      zerolog.Logger
}

// NewReconcilerService creates a new reconciler.
func NewReconcilerService(
	walletRepo ports.WalletRepository,
	utxo ports.UTXOChainClient,
	solana ports.SolanaChainClient,
	guard ports.RateLimiter,
	settlement ports.SettlementService,
	metrics ports.Metrics,
	opts ReconcilerOptions,
	log zerolog.Logger,
) *ReconcilerServiceImpl {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 24
	}
	limit := rate.Inf
	if opts.CallSpacing > 0 {
		limit = rate.Every(opts.CallSpacing)
	}
	return &ReconcilerServiceImpl{
		walletRepo: walletRepo,
		utxo:       utxo,
		solana:     solana,
		guard:      guard,
		settlement: settlement,
		metrics:    metrics,
		opts:       opts,
		pacer:      rate.NewLimiter(limit, 1),
		now:        time.Now,
		log:        logger.Component(log, "reconciler"),
	}
}

// RunBatch checks at most limit unpaid wallets, split evenly across chains.
// When limit does not divide by the chain count, the leftover slots rotate
// between chains from one batch to the next. Within a chain, wallets nobody
// has checked yet come first. One wallet's failure never aborts the batch.
func (s *ReconcilerServiceImpl) RunBatch(ctx context.Context, limit int) (*domain.ReconcileReport, error) {
	start := s.now()
	if limit <= 0 {
		limit = s.opts.BatchSize
	}
	quotas := s.chainQuotas(limit)

	report := domain.NewReconcileReport()
	defer func() {
		report.Duration = s.now().Sub(start)
		s.metrics.ObserveBatch(report.Duration)
	}()

	for c, chain := range domain.ReconcileChains {
		if quotas[c] == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		wallets, err := s.walletRepo.ListUnpaidByChain(ctx, chain, quotas[c])
		if err != nil {
			s.log.Error().Err(err).Str("chain", string(chain)).Msg("Failed to list unpaid wallets")
			continue
		}
		s.markChecked(ctx, chain, wallets)

		for i := range wallets {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			outcome, err := s.checkWallet(ctx, &wallets[i])
			if err != nil {
				return report, err
			}
			report.Record(chain, outcome)
			s.metrics.ObserveWallet(chain, outcome)
		}
	}

	s.log.Info().
		Int("checked", report.Checked).
		Int("settled", report.Settled).
		Int("pending", report.Pending).
		Int("rate_limited", report.RateLimited).
		Int("errors", report.Errors).
		Dur("duration", s.now().Sub(start)).
		Msg("Reconcile batch finished")
	return report, nil
}

// chainQuotas splits limit across domain.ReconcileChains. The sum is exactly
// limit; the first limit%n chains after the rotating offset get one extra.
func (s *ReconcilerServiceImpl) chainQuotas(limit int) []int {
	n := len(domain.ReconcileChains)
	base, extra := limit/n, limit%n
	first := 0
	if extra > 0 {
		first = int((s.rotation.Add(uint32(extra)) - uint32(extra)) % uint32(n))
	}
	quotas := make([]int, n)
	for i := range quotas {
		quotas[i] = base
		if (i-first+n)%n < extra {
			quotas[i]++
		}
	}
	return quotas
}

func (s *ReconcilerServiceImpl) markChecked(ctx context.Context, chain domain.Chain, wallets []domain.Wallet) {
	if len(wallets) == 0 {
		return
	}
	ids := make([]uuid.UUID, len(wallets))
	for i := range wallets {
		ids[i] = wallets[i].ID
	}
	if err := s.walletRepo.MarkChecked(ctx, ids); err != nil {
		s.log.Warn().Err(err).Str("chain", string(chain)).Msg("Failed to stamp checked wallets")
	}
}

// checkWallet only returns an error when ctx ended while waiting to call out.
func (s *ReconcilerServiceImpl) checkWallet(ctx context.Context, w *domain.Wallet) (domain.WalletOutcome, error) {
	log := s.log.With().
		Str("wallet_id", w.ID.String()).
		Str("order_id", w.OrderID.String()).
		Str("chain", string(w.Chain)).
		Str("address", w.Address).
		Logger()

	if err := s.guard.Check(ctx, w.Chain.Provider()); err != nil {
		log.Debug().Err(err).Msg("Provider in backoff, skipping wallet")
		return domain.OutcomeRateLimited, nil
	}

	expected, err := w.ExpectedUnits()
	if err != nil {
		log.Error().Err(err).Str("expected_amount", w.ExpectedAmount).Msg("Expected amount is malformed")
		return domain.OutcomeMalformed, nil
	}

	if w.Chain == domain.ChainSolana {
		return s.checkSolana(ctx, log, w, expected)
	}
	return s.checkUTXO(ctx, log, w, expected)
}

func (s *ReconcilerServiceImpl) checkUTXO(ctx context.Context, log zerolog.Logger, w *domain.Wallet, expected *big.Int) (domain.WalletOutcome, error) {
	if err := s.pacer.Wait(ctx); err != nil {
		return "", err
	}
	txs, err := s.utxo.ListTransactions(ctx, w.Chain, w.Address)
	if err != nil {
		return s.providerFailure(ctx, log, w.Chain.Provider(), err)
	}

	match := matchUTXOPayment(w.Chain, w.Address, expected, txs)
	if match == nil {
		return domain.OutcomePending, nil
	}

	if threshold := s.opts.MinConfirmations[w.Chain]; match.Confirmations < threshold {
		if err := s.walletRepo.RaiseConfirmations(ctx, w.ID, match.Confirmations); err != nil {
			log.Warn().Err(err).Msg("Failed to record confirmations")
		}
		log.Info().
			Str("tx_hash", match.Hash).
			Int("confirmations", match.Confirmations).
			Int("required", threshold).
			Msg("Payment seen, awaiting confirmations")
		return domain.OutcomeAwaitingConfirmations, nil
	}

	hash := match.Hash
	return s.settle(ctx, log, w, &hash, match.Confirmations), nil
}

// checkSolana settles on live balance. Any funds at the address count,
// not a transfer matched to this order.
func (s *ReconcilerServiceImpl) checkSolana(ctx context.Context, log zerolog.Logger, w *domain.Wallet, expected *big.Int) (domain.WalletOutcome, error) {
	if err := s.pacer.Wait(ctx); err != nil {
		return "", err
	}
	balance, err := s.solana.GetBalance(ctx, w.Address)
	if err != nil {
		return s.providerFailure(ctx, log, domain.ProviderHelius, err)
	}
	if balance == nil || balance.Cmp(expected) < 0 {
		return domain.OutcomePending, nil
	}

	if err := s.pacer.Wait(ctx); err != nil {
		return "", err
	}
	sigs, err := s.solana.ListSignatures(ctx, w.Address)
	if err != nil {
		return s.providerFailure(ctx, log, domain.ProviderHelius, err)
	}

	var txHash *string
	if ref := pickSolanaSignature(sigs); ref != nil {
		sig := ref.Signature
		txHash = &sig
	}

	log.Warn().
		Str("balance", balance.String()).
		Str("expected", expected.String()).
		Msg("Settling Solana wallet on live balance; funds are not matched to a specific transfer")

	return s.settle(ctx, log, w, txHash, 1), nil
}

func (s *ReconcilerServiceImpl) settle(ctx context.Context, log zerolog.Logger, w *domain.Wallet, txHash *string, confirmations int) domain.WalletOutcome {
	result, err := s.settlement.Settle(ctx, domain.SettlementRequest{
		WalletID:      w.ID,
		TxHash:        txHash,
		Confirmations: max(1, confirmations),
		Source:        domain.SettlementSourcePoll,
	})
	if err != nil {
		log.Error().Err(err).Msg("Settlement failed")
		return domain.OutcomeError
	}
	if !result.Settled {
		return domain.OutcomeAlreadySettled
	}
	return domain.OutcomeSettled
}

func (s *ReconcilerServiceImpl) providerFailure(ctx context.Context, log zerolog.Logger, provider domain.Provider, err error) (domain.WalletOutcome, error) {
	if domain.IsRateLimited(err) {
		s.metrics.ObserveRateLimited(provider)
		log.Info().Err(err).Msg("Provider rate limited")
		return domain.OutcomeRateLimited, nil
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return "", ctx.Err()
	}
	log.Error().Err(err).Str("provider", strings.ToLower(string(provider))).Msg("Chain lookup failed")
	return domain.OutcomeError, nil
}
