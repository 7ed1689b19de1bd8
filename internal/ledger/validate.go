package ledger

import (
	"github.com/karoocap/foliotrack/internal/apperr"
	"github.com/karoocap/foliotrack/internal/models"
)

// Validate rejects malformed events before they reach storage. A rejected
// event is never partially applied.
func Validate(e models.LedgerEvent) error {
	fail := func(msg string) error {
		err := apperr.Validationf("%s", msg)
		err.PortfolioID = e.PortfolioID
		err.EventID = e.ID
		return err
	}

	if e.PortfolioID == "" {
		return fail("portfolio id is required")
	}
	if !e.Kind.Valid() {
		return fail("unknown event kind " + string(e.Kind))
	}
	if e.EffectiveDate.IsZero() {
		return fail("effective date is required")
	}

	switch {
	case e.Kind.AddsLot(), e.Kind.ConsumesLots():
		if e.ProductID != "" {
			if e.Quantity.Abs().IsZero() {
				return fail("quantity is required for " + string(e.Kind))
			}
			if e.Quantity.IsNegative() {
				return fail("quantity must be a positive magnitude; direction is given by the event kind")
			}
		}
		if (e.Kind == models.KindAcquire || e.Kind == models.KindDispose) && !e.UnitPrice.IsPositive() {
			return fail("unit price must be positive for " + string(e.Kind))
		}
	case e.Kind.ScalesLots():
		if e.ProductID == "" {
			return fail("product id is required for " + string(e.Kind))
		}
		if !e.SplitRatio.IsPositive() {
			return fail("split ratio must be positive")
		}
	}

	if e.GrossAmount.IsNegative() || e.Fees.IsNegative() || e.Taxes.IsNegative() {
		return fail("gross amount, fees and taxes are magnitudes and must not be negative")
	}
	return nil
}
