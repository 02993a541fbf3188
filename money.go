package paygate

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Price is a human-readable asset amount such as "0.01" paired with the
// asset's decimal precision. It converts to the integer minor-unit string
// carried on the wire.
type Price struct {
	Amount   string
	Decimals int32
}

// MinorUnits converts the price to an integer string in the asset's smallest
// unit, e.g. "0.01" with 6 decimals becomes "10000". Amounts with more
// fractional digits than the asset supports are rejected rather than rounded.
func (p Price) MinorUnits() (string, error) {
	amount := strings.TrimPrefix(strings.TrimSpace(p.Amount), "$")
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return "", fmt.Errorf("invalid price amount %q: %w", p.Amount, err)
	}
	if d.IsNegative() {
		return "", fmt.Errorf("price amount %q is negative", p.Amount)
	}
	if -d.Exponent() > p.Decimals {
		return "", fmt.Errorf("price amount %q exceeds %d decimal places", p.Amount, p.Decimals)
	}
	return d.Shift(p.Decimals).BigInt().String(), nil
}

// CompareAmounts compares two minor-unit amount strings numerically. It
// returns -1, 0, or 1 like big.Int.Cmp, and an error if either string is not
// a base-10 integer.
func CompareAmounts(a, b string) (int, error) {
	x, ok := new(big.Int).SetString(a, 10)
	if !ok {
		return 0, fmt.Errorf("invalid amount %q", a)
	}
	y, ok := new(big.Int).SetString(b, 10)
	if !ok {
		return 0, fmt.Errorf("invalid amount %q", b)
	}
	return x.Cmp(y), nil
}
