package utils

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// MicrosPerUnit is the fixed scale used to store monetary amounts as integers
const MicrosPerUnit = 1_000_000

var decimalPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// ParseDecimal parses a non-negative plain decimal string such as "0.25"
func ParseDecimal(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	if !decimalPattern.MatchString(s) {
		return nil, fmt.Errorf("invalid decimal amount %q", s)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", s)
	}
	return r, nil
}

// ParseBaseUnits parses an integer amount in an asset's smallest unit
func ParseBaseUnits(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.Trim(s, "0123456789") != "" {
		return nil, fmt.Errorf("invalid base unit amount %q", s)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid base unit amount %q", s)
	}
	return v, nil
}

// FormatBaseUnits renders a base unit amount as a decimal with at least two
// fractional digits and no trailing zeros beyond that: 250000 @ 6 => "0.25".
func FormatBaseUnits(amount string, decimals int) (string, error) {
	v, err := ParseBaseUnits(amount)
	if err != nil {
		return "", err
	}
	if decimals < 0 {
		return "", fmt.Errorf("invalid decimals %d", decimals)
	}
	return formatScaled(v, decimals), nil
}

// DecimalToBaseUnits converts a decimal amount to base units, rejecting
// amounts that need more precision than the asset has.
func DecimalToBaseUnits(amount string, decimals int) (*big.Int, error) {
	r, err := ParseDecimal(amount)
	if err != nil {
		return nil, err
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	if !r.IsInt() {
		return nil, fmt.Errorf("amount %q exceeds %d decimal places", amount, decimals)
	}
	return new(big.Int).Set(r.Num()), nil
}

// DecimalToMicros converts a decimal amount to micro-units, rounding up
func DecimalToMicros(amount string) (int64, error) {
	r, err := ParseDecimal(amount)
	if err != nil {
		return 0, err
	}
	r.Mul(r, big.NewRat(MicrosPerUnit, 1))

	q, m := new(big.Int).QuoRem(r.Num(), r.Denom(), new(big.Int))
	if m.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	if !q.IsInt64() {
		return 0, fmt.Errorf("amount %q out of range", amount)
	}
	return q.Int64(), nil
}

// MicrosToDecimal renders micro-units the same way FormatBaseUnits does
func MicrosToDecimal(micros int64) string {
	return formatScaled(big.NewInt(micros), 6)
}

// CompareDecimal returns -1, 0 or +1 as a is less than, equal to or greater than b
func CompareDecimal(a, b string) (int, error) {
	ra, err := ParseDecimal(a)
	if err != nil {
		return 0, err
	}
	rb, err := ParseDecimal(b)
	if err != nil {
		return 0, err
	}
	return ra.Cmp(rb), nil
}

func formatScaled(v *big.Int, decimals int) string {
	neg := v.Sign() < 0
	digits := new(big.Int).Abs(v).String()

	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-decimals]
	frac := strings.TrimRight(digits[len(digits)-decimals:], "0")
	for len(frac) < 2 {
		frac += "0"
	}

	if neg {
		whole = "-" + whole
	}
	return whole + "." + frac
}
