package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a stored or user-supplied price into a 2-place decimal. Missing or
// malformed values become 0.00 instead of an error.
func ParseAmount(v any) decimal.Decimal {
	switch x := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return x.Round(2)
	case *decimal.Decimal:
		if x == nil {
			return decimal.Zero
		}
		return x.Round(2)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return decimal.Zero
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero
		}
		return d.Round(2)
	case int:
		return decimal.NewFromInt(int64(x))
	case int64:
		return decimal.NewFromInt(x)
	case float64:
		return decimal.NewFromFloat(x).Round(2)
	default:
		d, err := decimal.NewFromString(fmt.Sprint(x))
		if err != nil {
			return decimal.Zero
		}
		return d.Round(2)
	}
}

// ToMinorUnits converts an amount to the smallest currency unit, truncating fractions of a
// unit.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).IntPart()
}

// Format renders an amount with exactly two decimals.
func Format(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
