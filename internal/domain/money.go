package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	TaxTotal decimal.Decimal `json:"tax_total"`
	Total    decimal.Decimal `json:"total"`
}

// ComputeTotals sums price x qty and price x qty x taxRate over the lines.
// Subtotal and tax are rounded to cents before adding, so Total always equals
// Subtotal + TaxTotal exactly.
func ComputeTotals(lines []OrderLine) Totals {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, line := range lines {
		amount := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		subtotal = subtotal.Add(amount)
		tax = tax.Add(amount.Mul(line.TaxRate))
	}
	subtotal = subtotal.Round(2)
	tax = tax.Round(2)
	return Totals{Subtotal: subtotal, TaxTotal: tax, Total: subtotal.Add(tax)}
}

// RateFromPercent turns 16 into 0.16.
func RateFromPercent(percent decimal.Decimal) decimal.Decimal {
	return percent.Div(hundred)
}

// TaxRateFor resolves the fractional tax rate for a product category: the
// category override when one is configured, else the business default.
func (s Settings) TaxRateFor(category string) decimal.Decimal {
	if rate, ok := s.CategoryTaxRates[category]; ok {
		return RateFromPercent(rate)
	}
	return RateFromPercent(s.TaxRate)
}
