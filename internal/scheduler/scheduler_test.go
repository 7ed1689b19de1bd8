package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/karoocap/foliotrack/internal/apperr"
	"github.com/karoocap/foliotrack/internal/models"
)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func snapshotWith(productID, qty, basis string) *models.HoldingsSnapshot {
	q := dec(qty)
	b := dec(basis)
	return &models.HoldingsSnapshot{
		PortfolioID: "p1",
		Holdings: map[string]models.ProductHolding{
			productID: {ProductID: productID, Quantity: q, CostBasis: b, AvgCost: b.Div(q)},
		},
		Cash: map[string]decimal.Decimal{},
	}
}

func emptySnapshot() *models.HoldingsSnapshot {
	return &models.HoldingsSnapshot{PortfolioID: "p1", Holdings: map[string]models.ProductHolding{}, Cash: map[string]decimal.Decimal{}}
}

func fixedQuote(price string) QuoteFunc {
	return func(productID string, on time.Time) (decimal.Decimal, error) {
		return dec(price), nil
	}
}

func noQuote(productID string, on time.Time) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("no quote")
}

func dividendRule() models.RecurringRule {
	return models.RecurringRule{
		ID:            "r1",
		PortfolioID:   "p1",
		ProductID:     "NPN",
		Name:          "NPN quarterly dividend",
		EventKind:     models.KindDividend,
		Method:        models.MethodPerShare,
		AmountValue:   dec("2.50"),
		Currency:      "ZAR",
		Frequency:     models.FreqQuarterly,
		AnchorDay:     15,
		NextExecution: d(2024, 3, 15),
		Status:        models.RuleActive,
	}
}

func TestAdvancePerShare(t *testing.T) {
	rule := dividendRule()
	advanced, events, err := Advance(rule, snapshotWith("NPN", "100", "5000"), noQuote)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	evt := events[0]
	if evt.Kind != models.KindDividend {
		t.Errorf("kind = %s, want dividend", evt.Kind)
	}
	if !evt.GrossAmount.Equal(dec("250.00")) {
		t.Errorf("gross = %s, want 250.00", evt.GrossAmount)
	}
	if !evt.NetAmount.Equal(dec("250.00")) {
		t.Errorf("net before tax = %s, want 250.00", evt.NetAmount)
	}
	if !evt.EffectiveDate.Equal(d(2024, 3, 15)) {
		t.Errorf("event dated %s, want the scheduled date", evt.EffectiveDate.Format("2006-01-02"))
	}
	if !evt.AutoGenerated {
		t.Error("generated events must be marked auto-generated")
	}
	if !advanced.NextExecution.Equal(d(2024, 6, 15)) {
		t.Errorf("next = %s, want 2024-06-15", advanced.NextExecution.Format("2006-01-02"))
	}
	if advanced.LastExecuted == nil || !advanced.LastExecuted.Equal(d(2024, 3, 15)) {
		t.Errorf("last executed = %v, want 2024-03-15", advanced.LastExecuted)
	}
}

func TestAdvanceWithholdsTax(t *testing.T) {
	rule := dividendRule()
	rule.TaxRate = dec("0.20")
	_, events, err := Advance(rule, snapshotWith("NPN", "100", "5000"), noQuote)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	evt := events[0]
	if !evt.Taxes.Equal(dec("50.00")) {
		t.Errorf("taxes = %s, want 50.00", evt.Taxes)
	}
	if !evt.NetAmount.Equal(dec("200.00")) {
		t.Errorf("net = %s, want 200.00", evt.NetAmount)
	}
}

func TestAdvanceIsIdempotentPerOccurrence(t *testing.T) {
	rule := dividendRule()
	advanced, events, err := Advance(rule, snapshotWith("NPN", "100", "5000"), noQuote)
	if err != nil || len(events) != 1 {
		t.Fatalf("first Advance: events=%d err=%v", len(events), err)
	}
	// Simulate a stale caller retrying the same occurrence: LastExecuted
	// already records it, so nothing fires.
	stale := rule
	stale.LastExecuted = advanced.LastExecuted
	again, events, err := Advance(stale, snapshotWith("NPN", "100", "5000"), noQuote)
	if err != nil {
		t.Fatalf("second Advance: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("retried occurrence generated %d events, want 0", len(events))
	}
	if !again.NextExecution.Equal(stale.NextExecution) {
		t.Errorf("retry must not advance the rule")
	}
}

func TestAdvanceZeroHoldingIsNoOpOccurrence(t *testing.T) {
	rule := dividendRule()
	advanced, events, err := Advance(rule, emptySnapshot(), noQuote)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("zero holding generated %d events, want 0", len(events))
	}
	// The rule still advances so it does not pile up after a full disposal.
	if !advanced.NextExecution.Equal(d(2024, 6, 15)) {
		t.Errorf("next = %s, want 2024-06-15", advanced.NextExecution.Format("2006-01-02"))
	}
	if advanced.Status != models.RuleActive {
		t.Errorf("status = %s, want active", advanced.Status)
	}
}

func TestAdvancePercentageValueNeedsPrice(t *testing.T) {
	rule := dividendRule()
	rule.Method = models.MethodPercentageValue
	rule.EventKind = models.KindFee
	rule.AmountValue = dec("1.5")

	_, _, err := Advance(rule, snapshotWith("NPN", "100", "5000"), noQuote)
	if apperr.KindOf(err) != apperr.MissingMarketData {
		t.Fatalf("err = %v, want missing_market_data", err)
	}

	_, events, err := Advance(rule, snapshotWith("NPN", "100", "5000"), fixedQuote("60.00"))
	if err != nil {
		t.Fatalf("Advance with quote: %v", err)
	}
	// 60 × 100 × 1.5% = 90, a fee, so cash outflow.
	if !events[0].GrossAmount.Equal(dec("90.00")) {
		t.Errorf("gross = %s, want 90.00", events[0].GrossAmount)
	}
	if !events[0].NetAmount.Equal(dec("-90.00")) {
		t.Errorf("net = %s, want -90.00", events[0].NetAmount)
	}
}

func TestAdvancePercentageCost(t *testing.T) {
	rule := dividendRule()
	rule.Method = models.MethodPercentageCost
	rule.EventKind = models.KindFee
	rule.AmountValue = dec("2")
	_, events, err := Advance(rule, snapshotWith("NPN", "100", "5000"), noQuote)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !events[0].GrossAmount.Equal(dec("100.00")) {
		t.Errorf("gross = %s, want 100.00 (2%% of 5000)", events[0].GrossAmount)
	}
}

func TestAdvanceFixedAmountWithoutHolding(t *testing.T) {
	rule := dividendRule()
	rule.ProductID = ""
	rule.Method = models.MethodFixedAmount
	rule.EventKind = models.KindFee
	rule.AmountValue = dec("120")
	rule.Frequency = models.FreqMonthly
	rule.AnchorDay = 15
	_, events, err := Advance(rule, emptySnapshot(), noQuote)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(events) != 1 || !events[0].GrossAmount.Equal(dec("120")) {
		t.Fatalf("fixed amount rules fire regardless of holdings, got %v", events)
	}
}

func TestAdvanceAtMaturityFiresOnceAndEnds(t *testing.T) {
	rule := dividendRule()
	rule.Frequency = models.FreqAtMaturity
	rule.EventKind = models.KindCoupon
	advanced, events, err := Advance(rule, snapshotWith("NPN", "100", "5000"), noQuote)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if advanced.Status != models.RuleEnded {
		t.Errorf("status = %s, want ended", advanced.Status)
	}
}

func TestAdvanceEndsWhenNextCrossesEndDate(t *testing.T) {
	rule := dividendRule()
	end := d(2024, 4, 1)
	rule.EndDate = &end
	advanced, _, err := Advance(rule, snapshotWith("NPN", "100", "5000"), noQuote)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if advanced.Status != models.RuleEnded {
		t.Errorf("status = %s, want ended (next %s is past end date)",
			advanced.Status, advanced.NextExecution.Format("2006-01-02"))
	}
}

func TestAdvanceReinvestsIncome(t *testing.T) {
	rule := dividendRule()
	rule.Reinvest = true
	rule.ReinvestProductID = "NPN"
	_, events, err := Advance(rule, snapshotWith("NPN", "100", "5000"), fixedQuote("125.00"))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want income + acquisition", len(events))
	}
	buy := events[1]
	if buy.Kind != models.KindAcquire {
		t.Errorf("second event kind = %s, want acquire", buy.Kind)
	}
	if !buy.Quantity.Equal(dec("2")) {
		t.Errorf("drip quantity = %s, want 2 (250 / 125)", buy.Quantity)
	}
	if !buy.UnitPrice.Equal(dec("125.00")) {
		t.Errorf("drip price = %s, want 125.00", buy.UnitPrice)
	}
}

func TestAdvanceReinvestWithoutPriceSkipsWholeOccurrence(t *testing.T) {
	rule := dividendRule()
	rule.Reinvest = true
	advanced, events, err := Advance(rule, snapshotWith("NPN", "100", "5000"), noQuote)
	if apperr.KindOf(err) != apperr.MissingMarketData {
		t.Fatalf("err = %v, want missing_market_data", err)
	}
	if len(events) != 0 {
		t.Errorf("failed occurrence must not emit events")
	}
	if !advanced.NextExecution.Equal(rule.NextExecution) {
		t.Errorf("failed occurrence must not advance the rule")
	}
}
