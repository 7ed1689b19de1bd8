package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/karoocap/foliotrack/internal/models"
)

// IncomeTotals breaks investment income down by source.
type IncomeTotals struct {
	Dividends decimal.Decimal `json:"dividends"`
	Interest  decimal.Decimal `json:"interest"`
	Coupons   decimal.Decimal `json:"coupons"`
	Other     decimal.Decimal `json:"other"`
	Total     decimal.Decimal `json:"total"`
}

// IncomeByKind sums income events over the history. Net amounts are used,
// so withholding already deducted does not count as income.
func IncomeByKind(events []models.LedgerEvent) IncomeTotals {
	var t IncomeTotals
	for _, e := range events {
		amt := e.NetAmount.Abs()
		switch e.Kind {
		case models.KindDividend:
			t.Dividends = t.Dividends.Add(amt)
		case models.KindInterest:
			t.Interest = t.Interest.Add(amt)
		case models.KindCoupon:
			t.Coupons = t.Coupons.Add(amt)
		case models.KindOther:
			if e.NetAmount.IsPositive() {
				t.Other = t.Other.Add(amt)
			}
		default:
			continue
		}
	}
	t.Total = t.Dividends.Add(t.Interest).Add(t.Coupons).Add(t.Other)
	return t
}

// CostTotals breaks charges down into fees and taxes.
type CostTotals struct {
	Fees  decimal.Decimal `json:"fees"`
	Taxes decimal.Decimal `json:"taxes"`
	Total decimal.Decimal `json:"total"`
}

// TotalCosts sums the fee and tax components of every event plus dedicated
// FEE and TAX events.
func TotalCosts(events []models.LedgerEvent) CostTotals {
	var t CostTotals
	for _, e := range events {
		t.Fees = t.Fees.Add(e.Fees.Abs())
		t.Taxes = t.Taxes.Add(e.Taxes.Abs())
		switch e.Kind {
		case models.KindFee:
			t.Fees = t.Fees.Add(e.GrossAmount.Abs())
		case models.KindTax:
			t.Taxes = t.Taxes.Add(e.GrossAmount.Abs())
		}
	}
	t.Total = t.Fees.Add(t.Taxes)
	return t
}

// IncomeByProduct maps product id to total income received from it.
func IncomeByProduct(events []models.LedgerEvent) map[string]decimal.Decimal {
	out := map[string]decimal.Decimal{}
	for _, e := range events {
		if e.ProductID == "" || !e.Kind.IsIncome() {
			continue
		}
		out[e.ProductID] = out[e.ProductID].Add(e.NetAmount.Abs())
	}
	return out
}

// KindHistogram counts events per kind.
func KindHistogram(events []models.LedgerEvent) map[models.EventKind]int {
	out := map[models.EventKind]int{}
	for _, e := range events {
		out[e.Kind]++
	}
	return out
}
