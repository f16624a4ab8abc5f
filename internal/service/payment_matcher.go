package service

import (
	"math/big"

	"mccapes-reconciler/internal/core/domain"
)

// matchUTXOPayment returns the best transaction whose outputs to address sum
// to at least expected. More confirmations win, then the larger sum, then
// the earlier entry. nil means nothing covers the amount yet.
func matchUTXOPayment(chain domain.Chain, address string, expected *big.Int, txs []domain.ChainTx) *domain.ChainTx {
	var (
		best    *domain.ChainTx
		bestSum *big.Int
	)
	for i := range txs {
		tx := &txs[i]
		sum := tx.AmountTo(chain, address)
		if sum.Cmp(expected) < 0 {
			continue
		}
		if best == nil ||
			tx.Confirmations > best.Confirmations ||
			(tx.Confirmations == best.Confirmations && sum.Cmp(bestSum) > 0) {
			best, bestSum = tx, sum
		}
	}
	return best
}

// pickSolanaSignature prefers the newest confirmed or finalized signature,
// then the newest one that did not fail. Signatures arrive newest first.
func pickSolanaSignature(sigs []domain.SignatureStatus) *domain.SignatureStatus {
	for i := range sigs {
		if sigs[i].Settled() {
			return &sigs[i]
		}
	}
	for i := range sigs {
		if !sigs[i].Failed {
			return &sigs[i]
		}
	}
	if len(sigs) > 0 {
		return &sigs[0]
	}
	return nil
}
