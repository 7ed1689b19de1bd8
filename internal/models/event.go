package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind classifies a ledger event. The set is closed; reconstruction
// dispatches exhaustively on it.
type EventKind string

const (
	KindAcquire     EventKind = "acquire"
	KindDispose     EventKind = "dispose"
	KindTransferIn  EventKind = "transfer_in"
	KindTransferOut EventKind = "transfer_out"
	KindDividend    EventKind = "dividend"
	KindInterest    EventKind = "interest"
	KindCoupon      EventKind = "coupon"
	KindFee         EventKind = "fee"
	KindTax         EventKind = "tax"
	KindSplit       EventKind = "split"
	KindBonus       EventKind = "bonus"
	KindDeposit     EventKind = "deposit"
	KindWithdrawal  EventKind = "withdrawal"
	KindOther       EventKind = "other"
)

// EventKinds lists every valid kind, for validation and histograms.
var EventKinds = []EventKind{
	KindAcquire, KindDispose, KindTransferIn, KindTransferOut,
	KindDividend, KindInterest, KindCoupon, KindFee, KindTax,
	KindSplit, KindBonus, KindDeposit, KindWithdrawal, KindOther,
}

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	for _, known := range EventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsIncome reports whether the kind represents investment income.
func (k EventKind) IsIncome() bool {
	return k == KindDividend || k == KindInterest || k == KindCoupon
}

// AddsLot reports whether the kind opens a new acquisition lot when a
// product is involved.
func (k EventKind) AddsLot() bool {
	return k == KindAcquire || k == KindTransferIn || k == KindDeposit
}

// ConsumesLots reports whether the kind consumes open lots FIFO.
func (k EventKind) ConsumesLots() bool {
	return k == KindDispose || k == KindTransferOut || k == KindWithdrawal
}

// ScalesLots reports whether the kind rescales open lots by a ratio.
func (k EventKind) ScalesLots() bool {
	return k == KindSplit || k == KindBonus
}

// CashDirection returns the sign the gross amount carries in the cash
// balance: -1 for outflows, +1 for inflows, 0 for pure corporate actions.
func (k EventKind) CashDirection() int {
	switch k {
	case KindAcquire, KindTransferOut, KindFee, KindTax, KindWithdrawal:
		return -1
	case KindDispose, KindTransferIn, KindDividend, KindInterest, KindCoupon, KindDeposit, KindOther:
		return 1
	default: // split, bonus
		return 0
	}
}

// LedgerEvent is one immutable financial occurrence in a portfolio's ledger.
// Events are never mutated or deleted after creation; corrections are made
// by appending offsetting events.
type LedgerEvent struct {
	ID          string    `json:"id"`
	PortfolioID string    `json:"portfolioId"`
	ProductID   string    `json:"productId,omitempty"`
	CashPoolID  string    `json:"cashPoolId,omitempty"`
	Kind        EventKind `json:"kind"`

	EffectiveDate time.Time `json:"effectiveDate"`
	// Seq is the insertion order assigned by storage, used as the tie-break
	// when several events share an effective date.
	Seq int64 `json:"seq"`

	Quantity   decimal.Decimal `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	SplitRatio decimal.Decimal `json:"splitRatio,omitempty"`

	GrossAmount decimal.Decimal `json:"grossAmount"`
	Fees        decimal.Decimal `json:"fees"`
	Taxes       decimal.Decimal `json:"taxes"`
	// NetAmount is signed: negative for cash outflows, positive for inflows.
	NetAmount decimal.Decimal `json:"netAmount"`
	Currency  string          `json:"currency"`

	ExchangeRate    decimal.Decimal `json:"exchangeRate,omitempty"`
	ForeignCurrency string          `json:"foreignCurrency,omitempty"`
	ForeignAmount   decimal.Decimal `json:"foreignAmount,omitempty"`

	Note          string    `json:"note,omitempty"`
	Reference     string    `json:"reference,omitempty"`
	AutoGenerated bool      `json:"autoGenerated"`
	CreatedAt     time.Time `json:"createdAt"`
}

// SignedNet derives the net cash amount from the gross amount, fees and
// taxes, with the sign fixed by the event kind.
func (e LedgerEvent) SignedNet() decimal.Decimal {
	switch e.Kind.CashDirection() {
	case 1:
		return e.GrossAmount.Abs().Sub(e.Fees.Abs()).Sub(e.Taxes.Abs())
	case -1:
		return e.GrossAmount.Abs().Neg().Sub(e.Fees.Abs()).Sub(e.Taxes.Abs())
	default:
		return decimal.Zero
	}
}

// Lot is an open acquisition tranche. Lots are derived state only: they are
// rebuilt from the event log on every reconstruction and never persisted.
type Lot struct {
	Quantity   decimal.Decimal `json:"quantity"`
	UnitCost   decimal.Decimal `json:"unitCost"`
	AcquiredOn time.Time       `json:"acquiredOn"`
	EventID    string          `json:"eventId"`
}

// Cost returns the lot's total remaining cost.
func (l Lot) Cost() decimal.Decimal {
	return l.Quantity.Mul(l.UnitCost)
}

// ProductHolding is the derived position in one product.
type ProductHolding struct {
	ProductID string          `json:"productId"`
	Quantity  decimal.Decimal `json:"quantity"`
	AvgCost   decimal.Decimal `json:"avgCost"`
	CostBasis decimal.Decimal `json:"costBasis"`
	Lots      []Lot           `json:"lots"`
}

// HoldingsSnapshot is the full derived state of a portfolio as of a cutoff.
type HoldingsSnapshot struct {
	PortfolioID  string                     `json:"portfolioId"`
	AsOf         time.Time                  `json:"asOf"`
	Holdings     map[string]ProductHolding  `json:"holdings"`
	Cash         map[string]decimal.Decimal `json:"cash"`
	RealizedGain decimal.Decimal            `json:"realizedGain"`
	EventCount   int                        `json:"eventCount"`
}

// QuantityOf returns the held quantity for a product, zero if none.
func (s *HoldingsSnapshot) QuantityOf(productID string) decimal.Decimal {
	if h, ok := s.Holdings[productID]; ok {
		return h.Quantity
	}
	return decimal.Zero
}

// CostBasisOf returns the remaining cost basis for a product, zero if none.
func (s *HoldingsSnapshot) CostBasisOf(productID string) decimal.Decimal {
	if h, ok := s.Holdings[productID]; ok {
		return h.CostBasis
	}
	return decimal.Zero
}

// DateOnly truncates t to midnight UTC. All effective dates and schedule
// dates are stored this way so date comparisons are exact.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
