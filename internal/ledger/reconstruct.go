// Package ledger derives all portfolio state (holdings, cost basis, cash
// balances, realized gains) by replaying the append-only event log. The
// log is the single source of truth; everything here is a recomputable
// cache of it.
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/karoocap/foliotrack/internal/apperr"
	"github.com/karoocap/foliotrack/internal/models"
)

// TransferBasis selects how TRANSFER_IN events cost their incoming lot.
type TransferBasis int

const (
	// TransferBasisCarried keeps the cost carried in from the source
	// account: the event's gross amount is the lot's total cost.
	TransferBasisCarried TransferBasis = iota
	// TransferBasisMarket reprices the lot at the transfer date: unit
	// price × quantity.
	TransferBasisMarket
)

// Options tune reconstruction behavior.
type Options struct {
	TransferInBasis TransferBasis
}

// lotQueue holds a product's open lots in acquisition order. Lots are
// consumed front-to-back via the head cursor; the backing slice is only
// ever appended to.
type lotQueue struct {
	lots []models.Lot
	head int
}

func (q *lotQueue) push(l models.Lot) {
	q.lots = append(q.lots, l)
}

func (q *lotQueue) open() []models.Lot {
	return q.lots[q.head:]
}

func (q *lotQueue) quantity() decimal.Decimal {
	total := decimal.Zero
	for _, l := range q.open() {
		total = total.Add(l.Quantity)
	}
	return total
}

// consume removes qty FIFO and returns the matched (quantity, unitCost)
// pairs. It reports false when the open lots cannot satisfy qty.
func (q *lotQueue) consume(qty decimal.Decimal) ([]models.Lot, bool) {
	var matched []models.Lot
	for qty.IsPositive() {
		if q.head >= len(q.lots) {
			return nil, false
		}
		l := &q.lots[q.head]
		if l.Quantity.GreaterThan(qty) {
			matched = append(matched, models.Lot{Quantity: qty, UnitCost: l.UnitCost, AcquiredOn: l.AcquiredOn, EventID: l.EventID})
			l.Quantity = l.Quantity.Sub(qty)
			return matched, true
		}
		matched = append(matched, *l)
		qty = qty.Sub(l.Quantity)
		q.head++
	}
	return matched, true
}

// scale multiplies every open lot's quantity by ratio and divides its unit
// cost by the same ratio, preserving each lot's total cost.
func (q *lotQueue) scale(ratio decimal.Decimal) {
	for i := q.head; i < len(q.lots); i++ {
		q.lots[i].Quantity = q.lots[i].Quantity.Mul(ratio)
		q.lots[i].UnitCost = q.lots[i].UnitCost.Div(ratio)
	}
}

// Reconstruct replays events chronologically and produces the derived
// holdings snapshot as of asOf. A zero asOf means unbounded ("now").
// The input is re-sorted by (effective date, seq) so the result is
// deterministic regardless of the caller's ordering.
func Reconstruct(portfolioID string, events []models.LedgerEvent, asOf time.Time, opts Options) (*models.HoldingsSnapshot, error) {
	ordered := make([]models.LedgerEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].EffectiveDate.Equal(ordered[j].EffectiveDate) {
			return ordered[i].EffectiveDate.Before(ordered[j].EffectiveDate)
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	queues := map[string]*lotQueue{}
	cash := map[string]decimal.Decimal{}
	realized := decimal.Zero
	count := 0

	queueFor := func(productID string) *lotQueue {
		q, ok := queues[productID]
		if !ok {
			q = &lotQueue{}
			queues[productID] = q
		}
		return q
	}

	for _, e := range ordered {
		if !asOf.IsZero() && e.EffectiveDate.After(asOf) {
			continue
		}
		count++

		if e.ProductID != "" {
			switch {
			case e.Kind.AddsLot() && e.Quantity.IsPositive():
				queueFor(e.ProductID).push(models.Lot{
					Quantity:   e.Quantity,
					UnitCost:   lotCost(e, opts),
					AcquiredOn: e.EffectiveDate,
					EventID:    e.ID,
				})
			case e.Kind.ConsumesLots() && e.Quantity.IsPositive():
				q := queueFor(e.ProductID)
				matched, ok := q.consume(e.Quantity)
				if !ok {
					err := apperr.Inconsistencyf("disposal of %s units of %s exceeds held quantity %s",
						e.Quantity, e.ProductID, q.quantity())
					err.PortfolioID = portfolioID
					err.EventID = e.ID
					if !asOf.IsZero() {
						cutoff := asOf
						err.Cutoff = &cutoff
					}
					return nil, err
				}
				if e.Kind == models.KindDispose {
					for _, m := range matched {
						realized = realized.Add(e.UnitPrice.Sub(m.UnitCost).Mul(m.Quantity))
					}
					realized = realized.Sub(e.Fees.Abs()).Sub(e.Taxes.Abs())
				}
			case e.Kind.ScalesLots():
				if !e.SplitRatio.IsPositive() {
					err := apperr.Inconsistencyf("split ratio %s of %s is not positive",
						e.SplitRatio, e.ProductID)
					err.PortfolioID = portfolioID
					err.EventID = e.ID
					return nil, err
				}
				queueFor(e.ProductID).scale(e.SplitRatio)
			}
		}

		if dir := e.Kind.CashDirection(); dir != 0 {
			cur := e.Currency
			cash[cur] = cash[cur].Add(e.NetAmount)
		}
	}

	holdings := map[string]models.ProductHolding{}
	for productID, q := range queues {
		open := q.open()
		qty := decimal.Zero
		basis := decimal.Zero
		for _, l := range open {
			qty = qty.Add(l.Quantity)
			basis = basis.Add(l.Cost())
		}
		if !qty.IsPositive() {
			continue
		}
		holdings[productID] = models.ProductHolding{
			ProductID: productID,
			Quantity:  qty,
			AvgCost:   basis.Div(qty),
			CostBasis: basis,
			Lots:      append([]models.Lot(nil), open...),
		}
	}

	return &models.HoldingsSnapshot{
		PortfolioID:  portfolioID,
		AsOf:         asOf,
		Holdings:     holdings,
		Cash:         cash,
		RealizedGain: realized,
		EventCount:   count,
	}, nil
}

// lotCost resolves the unit cost a new lot is opened at.
func lotCost(e models.LedgerEvent, opts Options) decimal.Decimal {
	if e.Kind == models.KindTransferIn && opts.TransferInBasis == TransferBasisCarried && e.GrossAmount.IsPositive() {
		return e.GrossAmount.Div(e.Quantity)
	}
	return e.UnitPrice
}
