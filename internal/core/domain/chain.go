package domain

import (
	"strings"
)

// Chain identifies a blockchain a deposit wallet lives on.
type Chain string

const (
	ChainBitcoin  Chain = "BITCOIN"
	ChainLitecoin Chain = "LITECOIN"
	ChainEthereum Chain = "ETHEREUM"
	ChainSolana   Chain = "SOLANA"
)

// ReconcileChains is the order in which a batch visits chains.
var ReconcileChains = []Chain{ChainBitcoin, ChainLitecoin, ChainEthereum, ChainSolana}

// Provider names an external chain data API. Rate limits are enforced per provider API key.
type Provider string

const (
	ProviderBlockCypher Provider = "blockcypher"
	ProviderHelius      Provider = "helius"
)

// Valid reports whether c is one of the supported chains.
func (c Chain) Valid() bool {
	switch c {
	case ChainBitcoin, ChainLitecoin, ChainEthereum, ChainSolana:
		return true
	}
	return false
}

// Decimals is the fixed base-unit exponent (satoshi, litoshi, wei, lamport).
func (c Chain) Decimals() int32 {
	switch c {
	case ChainBitcoin, ChainLitecoin:
		return 8
	case ChainEthereum:
		return 18
	case ChainSolana:
		return 9
	}
	return 0
}

// Symbol is the ticker of the chain's native coin.
func (c Chain) Symbol() string {
	switch c {
	case ChainBitcoin:
		return "BTC"
	case ChainLitecoin:
		return "LTC"
	case ChainEthereum:
		return "ETH"
	case ChainSolana:
		return "SOL"
	}
	return ""
}

// IsEVM reports whether addresses on this chain are hex and case-insensitive.
func (c Chain) IsEVM() bool {
	return c == ChainEthereum
}

// Provider returns the data provider that serves this chain.
func (c Chain) Provider() Provider {
	if c == ChainSolana {
		return ProviderHelius
	}
	return ProviderBlockCypher
}

// Chains returns the chains a provider serves.
func (p Provider) Chains() []Chain {
	if p == ProviderHelius {
		return []Chain{ChainSolana}
	}
	return []Chain{ChainBitcoin, ChainLitecoin, ChainEthereum}
}

// ParseChain accepts chain names, tickers and the provider's coin codes
// ("bitcoin", "BTC", "btc"). The second return is false for anything else.
func ParseChain(s string) (Chain, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BITCOIN", "BTC":
		return ChainBitcoin, true
	case "LITECOIN", "LTC":
		return ChainLitecoin, true
	case "ETHEREUM", "ETH":
		return ChainEthereum, true
	case "SOLANA", "SOL":
		return ChainSolana, true
	}
	return "", false
}

// NormalizeAddress returns the form used for comparison. EVM addresses are
// lower-cased without the 0x prefix; everything else compares as returned.
func NormalizeAddress(c Chain, address string) string {
	address = strings.TrimSpace(address)
	if !c.IsEVM() {
		return address
	}
	lower := strings.ToLower(address)
	return strings.TrimPrefix(lower, "0x")
}

// AddressesMatch compares two addresses under the chain's rule.
func AddressesMatch(c Chain, a, b string) bool {
	return NormalizeAddress(c, a) == NormalizeAddress(c, b)
}
