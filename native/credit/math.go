package credit

import "math/big"

// Amounts follow the ledger's signed 128-bit arithmetic: any intermediate or
// stored value outside [-2^127, 2^127-1] is an overflow, not a wrap.
var (
	maxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minAmount = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// MaxAmount returns the largest representable ledger amount.
func MaxAmount() *big.Int {
	return new(big.Int).Set(maxAmount)
}

func withinAmountBounds(v *big.Int) bool {
	if v == nil {
		return false
	}
	return v.Cmp(minAmount) >= 0 && v.Cmp(maxAmount) <= 0
}

// checkedAdd returns a+b or ErrOverflow when the sum leaves the 128-bit range.
func checkedAdd(a, b *big.Int) (*big.Int, error) {
	sum := new(big.Int).Add(a, b)
	if !withinAmountBounds(sum) {
		return nil, ErrOverflow
	}
	return sum, nil
}

// validatePositiveAmount rejects nil, zero and negative operation amounts and
// enforces the 128-bit bound.
func validatePositiveAmount(v *big.Int) error {
	if v == nil || v.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !withinAmountBounds(v) {
		return ErrAmountOutOfRange
	}
	return nil
}
