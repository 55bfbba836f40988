package schema

import (
	"fmt"
	"strings"
)

const maxInt64 = int64(^uint64(0) >> 1)

// Scale is the number of decimal places carried by a scaled integer.
// Example: Scale=8 means the integer value is scaled by 1e8.
type Scale int32

const maxScale Scale = 18

var pow10 = [maxScale + 1]int64{
	1, 10, 100, 1_000, 10_000, 100_000, 1_000_000,
	10_000_000, 100_000_000, 1_000_000_000, 10_000_000_000,
	100_000_000_000, 1_000_000_000_000, 10_000_000_000_000,
	100_000_000_000_000, 1_000_000_000_000_000, 10_000_000_000_000_000,
	100_000_000_000_000_000, 1_000_000_000_000_000_000,
}

// ScaleSpec defines scaling for common numeric fields of a symbol.
type ScaleSpec struct {
	PriceScale    Scale `json:"priceScale"`
	QuantityScale Scale `json:"quantityScale"`
	NotionalScale Scale `json:"notionalScale"`
	FeeScale      Scale `json:"feeScale"`
}

// DefaultScaleSpec follows the micros/sats convention: price, cash and fee
// at 1e6, quantity at 1e8.
func DefaultScaleSpec() ScaleSpec {
	return ScaleSpec{
		PriceScale:    6,
		QuantityScale: 8,
		NotionalScale: 6,
		FeeScale:      6,
	}
}

// Validate checks that every scale is within the supported range.
func (s ScaleSpec) Validate() error {
	for _, scale := range []Scale{s.PriceScale, s.QuantityScale, s.NotionalScale, s.FeeScale} {
		if scale < 0 || scale > maxScale {
			return fmt.Errorf("scale out of range: %d", scale)
		}
	}
	return nil
}

// ParseScaled converts a decimal string to a scaled integer without going
// through floating point. Excess fractional digits are an error, not a
// silent truncation.
func ParseScaled(s string, scale Scale) (int64, error) {
	if scale < 0 || scale > maxScale {
		return 0, fmt.Errorf("scale out of range: %d", scale)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty decimal string")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" || s == "." {
		return 0, fmt.Errorf("invalid decimal string")
	}

	intPart := s
	fracPart := ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		intPart = s[:idx]
		fracPart = s[idx+1:]
	}
	if len(fracPart) > int(scale) {
		trimmed := strings.TrimRight(fracPart[scale:], "0")
		if trimmed != "" {
			return 0, fmt.Errorf("too many fractional digits for scale %d: %s", scale, s)
		}
		fracPart = fracPart[:scale]
	}

	var value int64
	for i := 0; i < len(intPart); i++ {
		c := intPart[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid decimal character: %q", c)
		}
		if value > (maxInt64-int64(c-'0'))/10 {
			return 0, fmt.Errorf("decimal overflow: %s", s)
		}
		value = value*10 + int64(c-'0')
	}
	for i := 0; i < int(scale); i++ {
		var digit int64
		if i < len(fracPart) {
			c := fracPart[i]
			if c < '0' || c > '9' {
				return 0, fmt.Errorf("invalid decimal character: %q", c)
			}
			digit = int64(c - '0')
		}
		if value > (maxInt64-digit)/10 {
			return 0, fmt.Errorf("decimal overflow: %s", s)
		}
		value = value*10 + digit
	}
	if neg {
		value = -value
	}
	return value, nil
}

// FormatScaled renders a scaled integer as a decimal string.
func FormatScaled(value int64, scale Scale) string {
	if scale <= 0 || scale > maxScale {
		return fmt.Sprintf("%d", value)
	}
	neg := value < 0
	u := value
	if neg {
		u = -u
	}
	div := pow10[scale]
	intPart := u / div
	fracPart := u % div
	sign := ""
	if neg {
		sign = "-"
	}
	if fracPart == 0 {
		return fmt.Sprintf("%s%d", sign, intPart)
	}
	frac := strings.TrimRight(fmt.Sprintf("%0*d", int(scale), fracPart), "0")
	return fmt.Sprintf("%s%d.%s", sign, intPart, frac)
}

// MulScaled computes price*qty rescaled to the notional scale, truncating
// toward zero. Returns false on overflow or an unsupported scale combination.
func MulScaled(price Price, qty Quantity, spec ScaleSpec) (Notional, bool) {
	p := int64(price)
	q := int64(qty)
	if p == 0 || q == 0 {
		return 0, true
	}
	neg := false
	if p < 0 {
		p = -p
		neg = !neg
	}
	if q < 0 {
		q = -q
		neg = !neg
	}
	if p > maxInt64/q {
		return 0, false
	}
	product := p * q

	down := spec.PriceScale + spec.QuantityScale - spec.NotionalScale
	if down < 0 || down > maxScale {
		return 0, false
	}
	result := product / pow10[down]
	if neg {
		result = -result
	}
	return Notional(result), true
}

// Rescale converts a scaled integer between scales.
// Returns false on overflow or precision loss.
func Rescale(value int64, from, to Scale) (int64, bool) {
	if from < 0 || from > maxScale || to < 0 || to > maxScale {
		return 0, false
	}
	if from == to {
		return value, true
	}
	if from > to {
		div := pow10[from-to]
		if value%div != 0 {
			return 0, false
		}
		return value / div, true
	}
	mul := pow10[to-from]
	if value > 0 && value > maxInt64/mul {
		return 0, false
	}
	if value < 0 && value < -maxInt64/mul {
		return 0, false
	}
	return value * mul, true
}

// AddChecked adds two int64 values with overflow detection.
func AddChecked(a, b int64) (int64, bool) {
	sum := a + b
	if (a > 0 && b > 0 && sum < 0) || (a < 0 && b < 0 && sum > 0) {
		return 0, false
	}
	return sum, true
}
