package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CalcMethod determines how a recurring rule computes the owed amount.
type CalcMethod string

const (
	MethodPerShare        CalcMethod = "per_share"
	MethodPerUnit         CalcMethod = "per_unit"
	MethodFixedAmount     CalcMethod = "fixed_amount"
	MethodPercentageNAV   CalcMethod = "percentage_nav"
	MethodPercentageValue CalcMethod = "percentage_value"
	MethodPercentageCost  CalcMethod = "percentage_cost"
)

// Valid reports whether m is a known calculation method.
func (m CalcMethod) Valid() bool {
	switch m {
	case MethodPerShare, MethodPerUnit, MethodFixedAmount,
		MethodPercentageNAV, MethodPercentageValue, MethodPercentageCost:
		return true
	}
	return false
}

// NeedsPrice reports whether the method requires a market quote.
func (m CalcMethod) NeedsPrice() bool {
	return m == MethodPercentageNAV || m == MethodPercentageValue
}

// NeedsHolding reports whether the method scales with the held position.
func (m CalcMethod) NeedsHolding() bool {
	return m != MethodFixedAmount
}

// Frequency is the cadence of a recurring rule.
type Frequency string

const (
	FreqDaily      Frequency = "daily"
	FreqWeekly     Frequency = "weekly"
	FreqMonthly    Frequency = "monthly"
	FreqQuarterly  Frequency = "quarterly"
	FreqSemiAnnual Frequency = "semi_annual"
	FreqAnnual     Frequency = "annual"
	FreqAtMaturity Frequency = "at_maturity"
	// FreqCustom fires every CustomDays days.
	FreqCustom Frequency = "custom"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FreqDaily, FreqWeekly, FreqMonthly, FreqQuarterly,
		FreqSemiAnnual, FreqAnnual, FreqAtMaturity, FreqCustom:
		return true
	}
	return false
}

// Months returns the month step for month-based frequencies, zero otherwise.
func (f Frequency) Months() int {
	switch f {
	case FreqMonthly:
		return 1
	case FreqQuarterly:
		return 3
	case FreqSemiAnnual:
		return 6
	case FreqAnnual:
		return 12
	}
	return 0
}

// RuleStatus is the lifecycle state of a recurring rule.
type RuleStatus string

const (
	RuleActive RuleStatus = "active"
	RulePaused RuleStatus = "paused"
	RuleEnded  RuleStatus = "ended"
)

// RecurringRule declaratively generates future ledger events. The scheduler
// is its only writer besides explicit pause/resume/delete.
type RecurringRule struct {
	ID          string `json:"id"`
	PortfolioID string `json:"portfolioId"`
	ProductID   string `json:"productId,omitempty"`
	CashPoolID  string `json:"cashPoolId,omitempty"`
	Name        string `json:"name"`

	EventKind   EventKind       `json:"eventKind"`
	Method      CalcMethod      `json:"method"`
	AmountValue decimal.Decimal `json:"amountValue"`
	// TaxRate is an optional withholding rate (e.g. 0.20) applied to income
	// events generated by the rule.
	TaxRate  decimal.Decimal `json:"taxRate,omitempty"`
	Currency string          `json:"currency"`

	Frequency  Frequency `json:"frequency"`
	CustomDays int       `json:"customDays,omitempty"`
	// AnchorDay is the day-of-month the rule was anchored on at creation.
	// Month-based advancement re-applies it so a rule anchored on the 31st
	// returns to the 31st after clamping through a short month.
	AnchorDay int `json:"anchorDay,omitempty"`

	NextExecution time.Time  `json:"nextExecution"`
	LastExecuted  *time.Time `json:"lastExecuted,omitempty"`
	StartDate     *time.Time `json:"startDate,omitempty"`
	EndDate       *time.Time `json:"endDate,omitempty"`

	Status RuleStatus `json:"status"`

	// Reinvest converts generated income into an acquisition of
	// ReinvestProductID at the current market price (DRIP).
	Reinvest          bool   `json:"reinvest,omitempty"`
	ReinvestProductID string `json:"reinvestProductId,omitempty"`

	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DueAt reports whether the rule is due for execution at asOf.
func (r RecurringRule) DueAt(asOf time.Time) bool {
	if r.Status != RuleActive {
		return false
	}
	if r.NextExecution.After(asOf) {
		return false
	}
	if r.StartDate != nil && r.NextExecution.Before(*r.StartDate) {
		return false
	}
	if r.EndDate != nil && r.NextExecution.After(*r.EndDate) {
		return false
	}
	return true
}

// ExecutedOn reports whether the rule already fired for the given date.
// This is the double-firing guard.
func (r RecurringRule) ExecutedOn(day time.Time) bool {
	return r.LastExecuted != nil && r.LastExecuted.Equal(DateOnly(day))
}
