package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculate_DiscountedLine(t *testing.T) {
	b := Calculate([]Line{{Price: d("500"), DiscountPrice: d("400"), Quantity: 2}})

	assert.Equal(t, "1000.00", Format(b.BagTotal))
	assert.Equal(t, "200.00", Format(b.BagDiscount))
	assert.Equal(t, "99.00", Format(b.DeliveryFee))
	assert.Equal(t, "29.00", Format(b.PlatformFee))
	assert.Equal(t, "0.00", Format(b.ConvenienceFee))
	assert.Equal(t, "927.00", Format(b.OrderTotal))
}

func TestCalculate_EmptyBagHasNoFees(t *testing.T) {
	b := Calculate(nil)

	assert.True(t, b.DeliveryFee.IsZero())
	assert.True(t, b.PlatformFee.IsZero())
	assert.Equal(t, "0.00", Format(b.OrderTotal))
}

func TestCalculate_ZeroPricedLinesHaveNoFees(t *testing.T) {
	b := Calculate([]Line{{Price: ParseAmount("garbage"), Quantity: 3}})

	assert.True(t, b.OrderTotal.IsZero())
}

func TestCalculate_MixedLines(t *testing.T) {
	b := Calculate([]Line{
		{Price: d("199.99"), Quantity: 1},
		{Price: d("100"), DiscountPrice: d("120"), Quantity: 2},
		{Price: d("50.50"), DiscountPrice: d("0"), Quantity: 3},
	})

	// a discount above list price is paid but never counted as a discount
	assert.Equal(t, "551.49", Format(b.BagTotal))
	assert.Equal(t, "0.00", Format(b.BagDiscount))
	assert.Equal(t, "591.49", Format(b.PayableItems))
	assert.Equal(t, "719.49", Format(b.OrderTotal))
}

func TestCalculateWithFees_ConvenienceFee(t *testing.T) {
	fees := DefaultFees()
	fees.Convenience = d("10")

	b := CalculateWithFees([]Line{{Price: d("1"), Quantity: 1}}, fees)

	assert.Equal(t, "139.00", Format(b.OrderTotal))
}

func TestParseAmount(t *testing.T) {
	cases := map[string]struct {
		in   any
		want string
	}{
		"nil":       {nil, "0.00"},
		"empty":     {"  ", "0.00"},
		"garbage":   {"12abc", "0.00"},
		"string":    {"499.5", "499.50"},
		"int":       {7, "7.00"},
		"float":     {19.999, "20.00"},
		"rounds":    {"10.005", "10.01"},
		"nil ptr":   {(*decimal.Decimal)(nil), "0.00"},
		"unhandled": {struct{}{}, "0.00"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Format(ParseAmount(tc.in)))
		})
	}
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(92700), ToMinorUnits(d("927.00")))
	assert.Equal(t, int64(1999), ToMinorUnits(d("19.999")))
}
