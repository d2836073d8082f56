package services

import (
	"github.com/shopspring/decimal"
)

// welcomeMultiplier is applied to every unit price while the welcome gift is unused.
var welcomeMultiplier = decimal.RequireFromString("0.8")

// UnitPrice is the price charged for one ticket listed at price.
func UnitPrice(price decimal.Decimal, welcome bool) decimal.Decimal {
	if welcome {
		return price.Mul(welcomeMultiplier).Round(2)
	}
	return price
}

type PriceLine struct {
	Price    decimal.Decimal
	Quantity int
}

// Totals is the breakdown shown on receipts and order pages.
type Totals struct {
	Original        decimal.Decimal `json:"originalTotal"`
	WelcomeDiscount decimal.Decimal `json:"welcomeDiscount"`
	PointsDiscount  decimal.Decimal `json:"pointsDiscount"`
	Final           decimal.Decimal `json:"finalAmount"`
}

// AfterWelcome is the subtotal the points discount is applied to.
func (t Totals) AfterWelcome() decimal.Decimal {
	return t.Original.Sub(t.WelcomeDiscount)
}

func (t Totals) Discounted() bool {
	return t.WelcomeDiscount.IsPositive() || t.PointsDiscount.IsPositive()
}

// ComputeTotals prices lines, applies the welcome multiplier when set, then
// takes off at most pointsDiscount. Final never drops below zero, and
// PointsDiscount is the part of the credit actually consumed.
func ComputeTotals(lines []PriceLine, welcome bool, pointsDiscount decimal.Decimal) Totals {
	original := decimal.Zero
	afterWelcome := decimal.Zero
	for _, l := range lines {
		qty := decimal.NewFromInt(int64(l.Quantity))
		original = original.Add(l.Price.Mul(qty))
		afterWelcome = afterWelcome.Add(UnitPrice(l.Price, welcome).Mul(qty))
	}

	consumed := decimal.Min(decimal.Max(pointsDiscount, decimal.Zero), afterWelcome)

	return Totals{
		Original:        original,
		WelcomeDiscount: original.Sub(afterWelcome),
		PointsDiscount:  consumed,
		Final:           afterWelcome.Sub(consumed),
	}
}
