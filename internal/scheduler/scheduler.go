// Package scheduler turns recurring rules into ledger events. Advancement is
// a pure function of (rule, snapshot, quote): the caller supplies the as-of
// instant and persistence, so replay stays deterministic and testable.
package scheduler

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/karoocap/foliotrack/internal/apperr"
	"github.com/karoocap/foliotrack/internal/models"
)

var hundred = decimal.NewFromInt(100)

// QuoteFunc looks up the current price of a product on a date. It returns a
// MissingMarketData-classified error when no price is available.
type QuoteFunc func(productID string, on time.Time) (decimal.Decimal, error)

// Advance executes exactly one occurrence of the rule, the one scheduled at
// rule.NextExecution, and returns the advanced rule plus the events to
// append (nil when the occurrence is a no-op). It never mutates its input.
//
// The next execution date is computed from the current one, not from any
// invocation clock, so a late scheduler pass still lands on the calendar
// cadence. AT_MATURITY rules end immediately after their single occurrence.
func Advance(rule models.RecurringRule, snap *models.HoldingsSnapshot, quote QuoteFunc) (models.RecurringRule, []models.LedgerEvent, error) {
	occurrence := models.DateOnly(rule.NextExecution)

	if rule.ExecutedOn(occurrence) {
		// Already fired for this date; idempotent no-op.
		return rule, nil, nil
	}

	amount, err := computeAmount(rule, snap, occurrence, quote)
	if err != nil {
		return rule, nil, err
	}

	var events []models.LedgerEvent
	if amount.IsPositive() {
		evt := synthesize(rule, occurrence, amount)
		events = append(events, evt)
		if rule.Reinvest && evt.NetAmount.IsPositive() {
			drip, err := reinvest(rule, occurrence, evt, quote)
			if err != nil {
				return rule, nil, err
			}
			events = append(events, drip)
		}
	}

	next := rule
	next.LastExecuted = &occurrence
	next.UpdatedAt = occurrence
	if rule.Frequency == models.FreqAtMaturity {
		next.Status = models.RuleEnded
		return next, events, nil
	}
	next.NextExecution = nextDate(occurrence, rule.Frequency, rule.CustomDays, rule.AnchorDay)
	if rule.EndDate != nil && next.NextExecution.After(*rule.EndDate) {
		next.Status = models.RuleEnded
	}
	return next, events, nil
}

// computeAmount resolves the owed gross amount for one occurrence. A rule
// whose product is fully disposed computes zero; that is a no-op occurrence,
// not an error, so rules do not pile up after a full disposal.
func computeAmount(rule models.RecurringRule, snap *models.HoldingsSnapshot, on time.Time, quote QuoteFunc) (decimal.Decimal, error) {
	switch rule.Method {
	case models.MethodFixedAmount:
		return rule.AmountValue, nil

	case models.MethodPerShare, models.MethodPerUnit:
		return rule.AmountValue.Mul(snap.QuantityOf(rule.ProductID)), nil

	case models.MethodPercentageNAV, models.MethodPercentageValue:
		qty := snap.QuantityOf(rule.ProductID)
		if qty.IsZero() {
			return decimal.Zero, nil
		}
		price, err := quote(rule.ProductID, on)
		if err != nil {
			return decimal.Zero, missingPrice(rule, err)
		}
		return price.Mul(qty).Mul(rule.AmountValue).Div(hundred), nil

	case models.MethodPercentageCost:
		return snap.CostBasisOf(rule.ProductID).Mul(rule.AmountValue).Div(hundred), nil
	}
	return decimal.Zero, apperr.Validationf("unknown calculation method %q", rule.Method)
}

// synthesize builds the ledger event for one rule occurrence, dated at the
// occurrence's scheduled date.
func synthesize(rule models.RecurringRule, on time.Time, gross decimal.Decimal) models.LedgerEvent {
	evt := models.LedgerEvent{
		ID:            uuid.NewString(),
		PortfolioID:   rule.PortfolioID,
		ProductID:     rule.ProductID,
		CashPoolID:    rule.CashPoolID,
		Kind:          rule.EventKind,
		EffectiveDate: on,
		GrossAmount:   gross,
		Currency:      rule.Currency,
		Note:          "auto: " + rule.Name,
		Reference:     rule.ID,
		AutoGenerated: true,
	}
	if rule.EventKind.IsIncome() && rule.TaxRate.IsPositive() {
		evt.Taxes = gross.Mul(rule.TaxRate)
	}
	if rule.Method == models.MethodPerShare || rule.Method == models.MethodPerUnit {
		evt.UnitPrice = rule.AmountValue
	}
	evt.NetAmount = evt.SignedNet()
	return evt
}

// reinvest converts the net income of evt into an acquisition of the rule's
// reinvestment product at the current market price (DRIP).
func reinvest(rule models.RecurringRule, on time.Time, income models.LedgerEvent, quote QuoteFunc) (models.LedgerEvent, error) {
	productID := rule.ReinvestProductID
	if productID == "" {
		productID = rule.ProductID
	}
	price, err := quote(productID, on)
	if err != nil {
		return models.LedgerEvent{}, missingPrice(rule, err)
	}
	buy := models.LedgerEvent{
		ID:            uuid.NewString(),
		PortfolioID:   rule.PortfolioID,
		ProductID:     productID,
		CashPoolID:    rule.CashPoolID,
		Kind:          models.KindAcquire,
		EffectiveDate: on,
		Quantity:      income.NetAmount.Div(price),
		UnitPrice:     price,
		GrossAmount:   income.NetAmount,
		Currency:      rule.Currency,
		Note:          "drip: " + rule.Name,
		Reference:     rule.ID,
		AutoGenerated: true,
	}
	buy.NetAmount = buy.SignedNet()
	return buy, nil
}

func missingPrice(rule models.RecurringRule, cause error) error {
	return &apperr.Error{
		Kind:        apperr.MissingMarketData,
		PortfolioID: rule.PortfolioID,
		RuleID:      rule.ID,
		Msg:         "cannot price rule occurrence",
		Err:         cause,
	}
}
