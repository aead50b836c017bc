package common

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Fixed8Decimals is the decimal precision shared by every monetary value in the
// protocol: collateral amounts, stable-unit debt and oracle prices.
const Fixed8Decimals = 8

// Fixed8Unit is the scaling factor for fixed-point values (1e8).
var Fixed8Unit = big.NewInt(100_000_000)

var errMalformedDecimal = errors.New("common: malformed decimal value")

// ParseFixed8 converts a decimal string into its fixed-point representation.
// Values with more than eight fractional digits are rejected rather than
// silently truncated so operator-entered values surface precision mismatches.
func ParseFixed8(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errMalformedDecimal
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errMalformedDecimal, value)
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(Fixed8Unit))
	if !scaled.IsInt() {
		return nil, fmt.Errorf("%w: %q exceeds 8 decimal places", errMalformedDecimal, value)
	}
	return new(big.Int).Set(scaled.Num()), nil
}

// FormatFixed8 renders a fixed-point value as a decimal string with eight
// fractional digits.
func FormatFixed8(value *big.Int) string {
	if value == nil {
		return "0.00000000"
	}
	rat := new(big.Rat).SetFrac(value, Fixed8Unit)
	return rat.FloatString(Fixed8Decimals)
}

// MulFixed8 multiplies two fixed-point values, keeping fixed-point scale.
func MulFixed8(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, Fixed8Unit)
}
