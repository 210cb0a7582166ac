package domain

import (
	"math/big"
	"strings"

	dErrors "custody/pkg/domain-errors"
)

// MaxUint256 is the largest representable token amount.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ParseAmount parses a base-10 unsigned 256-bit integer.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "amount must be an unsigned integer")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "amount must be an unsigned integer")
	}
	if !IsUint256(v) {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "amount exceeds 256 bits")
	}
	return v, nil
}

// IsUint256 reports whether v is within [0, 2^256-1].
func IsUint256(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(MaxUint256) <= 0
}

// IsPositive reports whether v is a non-nil integer greater than zero.
func IsPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// Zero returns a fresh zero amount.
func Zero() *big.Int { return new(big.Int) }

// Copy returns an independent copy of v, treating nil as zero.
func Copy(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Sum adds amounts without mutating them.
func Sum(values ...*big.Int) *big.Int {
	total := new(big.Int)
	for _, v := range values {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}
