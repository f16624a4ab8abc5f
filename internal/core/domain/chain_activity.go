package domain

import (
	"math/big"
)

// TxOutput is one output of a UTXO/EVM transaction.
type TxOutput struct {
	Addresses []string
	Value     *big.Int
}

// ChainTx is a transaction seen at an address.
type ChainTx struct {
	Hash          string
	Confirmations int
	Outputs       []TxOutput
}

// AmountTo sums the outputs paying address. A sender may split one payment
// across several outputs to the same address.
func (t *ChainTx) AmountTo(c Chain, address string) *big.Int {
	sum := new(big.Int)
	for _, out := range t.Outputs {
		if out.Value == nil {
			continue
		}
		for _, a := range out.Addresses {
			if AddressesMatch(c, a, address) {
				sum.Add(sum, out.Value)
				break
			}
		}
	}
	return sum
}

// Solana commitment levels.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// SignatureStatus is one entry of a Solana address history, newest first.
type SignatureStatus struct {
	Signature          string
	ConfirmationStatus string
	Failed             bool
	BlockTime          *int64
}

// Settled reports whether the signature reached confirmed or finalized without error.
func (s *SignatureStatus) Settled() bool {
	return !s.Failed &&
		(s.ConfirmationStatus == CommitmentConfirmed || s.ConfirmationStatus == CommitmentFinalized)
}
