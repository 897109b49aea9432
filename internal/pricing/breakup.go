package pricing

import "github.com/shopspring/decimal"

// Line is one priced cart line.
type Line struct {
	Price         decimal.Decimal
	DiscountPrice decimal.Decimal
	Quantity      int
}

// Fees are the flat charges added to a non-empty bag.
type Fees struct {
	Delivery    decimal.Decimal
	Platform    decimal.Decimal
	Convenience decimal.Decimal
}

// DefaultFees returns the standard checkout fees.
func DefaultFees() Fees {
	return Fees{
		Delivery:    decimal.RequireFromString("99.00"),
		Platform:    decimal.RequireFromString("29.00"),
		Convenience: decimal.Zero,
	}
}

// Breakup is the checkout summary shown to the buyer and charged on the order.
type Breakup struct {
	BagTotal       decimal.Decimal `json:"bag_total"`
	BagDiscount    decimal.Decimal `json:"bag_discount"`
	PayableItems   decimal.Decimal `json:"payable_items_total"`
	ConvenienceFee decimal.Decimal `json:"convenience_fee"`
	DeliveryFee    decimal.Decimal `json:"delivery_fee"`
	PlatformFee    decimal.Decimal `json:"platform_fee"`
	OrderTotal     decimal.Decimal `json:"order_total"`
}

// Calculate computes the breakup with DefaultFees.
func Calculate(lines []Line) Breakup {
	return CalculateWithFees(lines, DefaultFees())
}

// CalculateWithFees computes the breakup. A line pays its discount price when that is
// positive, otherwise its list price. Fees apply only when something is payable.
func CalculateWithFees(lines []Line, fees Fees) Breakup {
	var b Breakup
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		qty := decimal.NewFromInt(int64(l.Quantity))
		price := l.Price.Round(2)
		payable := price
		if l.DiscountPrice.IsPositive() {
			payable = l.DiscountPrice.Round(2)
		}

		b.BagTotal = b.BagTotal.Add(price.Mul(qty))
		b.PayableItems = b.PayableItems.Add(payable.Mul(qty))
		if payable.LessThan(price) {
			b.BagDiscount = b.BagDiscount.Add(price.Sub(payable).Mul(qty))
		}
	}

	if b.PayableItems.IsPositive() {
		b.ConvenienceFee = fees.Convenience.Round(2)
		b.DeliveryFee = fees.Delivery.Round(2)
		b.PlatformFee = fees.Platform.Round(2)
	}
	b.OrderTotal = b.PayableItems.Add(b.ConvenienceFee).Add(b.DeliveryFee).Add(b.PlatformFee).Round(2)
	return b
}

// UnitPayable returns what one unit of a line costs the buyer.
func UnitPayable(price, discount decimal.Decimal) decimal.Decimal {
	if discount.IsPositive() {
		return discount.Round(2)
	}
	return price.Round(2)
}
