package domain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMalformedAmount marks an expected amount that cannot be parsed. It is never
// treated as zero.
var ErrMalformedAmount = errors.New("malformed amount")

// ToBaseUnits converts a human-unit decimal string (e.g. "0.01" BTC) into
// integer base units using exact decimal scaling. Fractions finer than the
// chain's exponent round up so a payment can never satisfy less than asked.
func ToBaseUnits(c Chain, amount string) (*big.Int, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: unsupported chain %q", ErrMalformedAmount, c)
	}

	raw := strings.TrimSpace(amount)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedAmount)
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedAmount, amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %q is negative", ErrMalformedAmount, amount)
	}

	return d.Shift(c.Decimals()).Ceil().BigInt(), nil
}

// FromBaseUnits renders base units back to a human-unit decimal string.
func FromBaseUnits(c Chain, units *big.Int) string {
	if units == nil {
		return "0"
	}
	return decimal.NewFromBigInt(units, -c.Decimals()).String()
}
