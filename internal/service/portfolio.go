package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/karoocap/foliotrack/internal/apperr"
	"github.com/karoocap/foliotrack/internal/ledger"
	"github.com/karoocap/foliotrack/internal/models"
	"github.com/karoocap/foliotrack/internal/pricing"
	"github.com/karoocap/foliotrack/internal/repository"
)

// PortfolioService coordinates ledger writes, reconstruction and recurring
// rule processing on top of the storage and pricing collaborators.
type PortfolioService struct {
	repo         repository.Store
	priceSvc     pricing.Service
	now          func() time.Time
	logger       *logrus.Entry
	opts         ledger.Options
	baseCurrency string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPortfolioService builds a PortfolioService with sane defaults.
func NewPortfolioService(repo repository.Store, priceSvc pricing.Service, logger *logrus.Logger, opts ledger.Options, baseCurrency string) *PortfolioService {
	if baseCurrency == "" {
		baseCurrency = "ZAR"
	}
	return &PortfolioService{
		repo:         repo,
		priceSvc:     priceSvc,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger.WithField("component", "portfolio-service"),
		opts:         opts,
		baseCurrency: baseCurrency,
		locks:        map[string]*sync.Mutex{},
	}
}

// portfolioLock returns the mutex serializing scheduler passes for one
// portfolio. Passes for independent portfolios run concurrently.
func (s *PortfolioService) portfolioLock(portfolioID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[portfolioID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[portfolioID] = l
	}
	return l
}

// RecordEventInput is the DTO consumed when appending a ledger event.
type RecordEventInput struct {
	PortfolioID   string
	ProductID     string
	CashPoolID    string
	Kind          models.EventKind
	EffectiveDate time.Time
	Quantity      decimal.Decimal
	UnitPrice     decimal.Decimal
	SplitRatio    decimal.Decimal
	GrossAmount   decimal.Decimal
	Fees          decimal.Decimal
	Taxes         decimal.Decimal
	Currency      string

	ExchangeRate    decimal.Decimal
	ForeignCurrency string
	ForeignAmount   decimal.Decimal
	Note            string
	Reference       string
}

// RecordEvent validates and appends one immutable event. The net amount is
// always derived here; callers never supply it.
func (s *PortfolioService) RecordEvent(ctx context.Context, input RecordEventInput) (*models.LedgerEvent, error) {
	evt := models.LedgerEvent{
		ID:              uuid.NewString(),
		PortfolioID:     input.PortfolioID,
		ProductID:       input.ProductID,
		CashPoolID:      input.CashPoolID,
		Kind:            input.Kind,
		EffectiveDate:   models.DateOnly(input.EffectiveDate),
		Quantity:        input.Quantity,
		UnitPrice:       input.UnitPrice,
		SplitRatio:      input.SplitRatio,
		GrossAmount:     input.GrossAmount,
		Fees:            input.Fees,
		Taxes:           input.Taxes,
		Currency:        input.Currency,
		ExchangeRate:    input.ExchangeRate,
		ForeignCurrency: input.ForeignCurrency,
		ForeignAmount:   input.ForeignAmount,
		Note:            input.Note,
		Reference:       input.Reference,
		CreatedAt:       s.now(),
	}
	if evt.Currency == "" {
		evt.Currency = s.baseCurrency
	}
	if input.EffectiveDate.IsZero() {
		evt.EffectiveDate = models.DateOnly(s.now())
	}
	// Derive the gross for trade events when the caller provided only
	// quantity and price.
	if evt.GrossAmount.IsZero() && !evt.Quantity.IsZero() && !evt.UnitPrice.IsZero() {
		evt.GrossAmount = evt.Quantity.Abs().Mul(evt.UnitPrice)
	}
	evt.NetAmount = evt.SignedNet()

	if err := ledger.Validate(evt); err != nil {
		return nil, err
	}
	stored, err := s.repo.AppendEvent(ctx, evt)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"portfolio": stored.PortfolioID,
		"kind":      stored.Kind,
		"event":     stored.ID,
	}).Debug("event appended")
	return &stored, nil
}

// Reconstruct replays the portfolio's event log up to cutoff (nil for the
// full history) into a holdings snapshot.
func (s *PortfolioService) Reconstruct(ctx context.Context, portfolioID string, cutoff *time.Time) (*models.HoldingsSnapshot, error) {
	events, err := s.repo.ListEvents(ctx, portfolioID, cutoff)
	if err != nil {
		return nil, err
	}
	asOf := time.Time{}
	if cutoff != nil {
		asOf = models.DateOnly(*cutoff)
	}
	snap, err := ledger.Reconstruct(portfolioID, events, asOf, s.opts)
	if err != nil {
		return nil, apperr.WithPortfolio(err, portfolioID)
	}
	return snap, nil
}

// RealizedGains returns the cumulative FIFO-matched realized gain.
func (s *PortfolioService) RealizedGains(ctx context.Context, portfolioID string, cutoff *time.Time) (decimal.Decimal, error) {
	snap, err := s.Reconstruct(ctx, portfolioID, cutoff)
	if err != nil {
		return decimal.Zero, err
	}
	return snap.RealizedGain, nil
}

// IncomeBreakdown maps each product to the total income it generated.
func (s *PortfolioService) IncomeBreakdown(ctx context.Context, portfolioID string) (map[string]decimal.Decimal, error) {
	events, err := s.repo.ListEvents(ctx, portfolioID, nil)
	if err != nil {
		return nil, err
	}
	return ledger.IncomeByProduct(events), nil
}

// Summary collates the aggregate views over the full event history.
type Summary struct {
	Income       ledger.IncomeTotals        `json:"income"`
	Costs        ledger.CostTotals          `json:"costs"`
	Histogram    map[models.EventKind]int   `json:"histogram"`
	RealizedGain decimal.Decimal            `json:"realizedGain"`
	Cash         map[string]decimal.Decimal `json:"cash"`
	NumHoldings  int                        `json:"numHoldings"`
	NumEvents    int                        `json:"numEvents"`
}

func (s *PortfolioService) Summarize(ctx context.Context, portfolioID string) (*Summary, error) {
	events, err := s.repo.ListEvents(ctx, portfolioID, nil)
	if err != nil {
		return nil, err
	}
	snap, err := ledger.Reconstruct(portfolioID, events, time.Time{}, s.opts)
	if err != nil {
		return nil, apperr.WithPortfolio(err, portfolioID)
	}
	return &Summary{
		Income:       ledger.IncomeByKind(events),
		Costs:        ledger.TotalCosts(events),
		Histogram:    ledger.KindHistogram(events),
		RealizedGain: snap.RealizedGain,
		Cash:         snap.Cash,
		NumHoldings:  len(snap.Holdings),
		NumEvents:    snap.EventCount,
	}, nil
}

// Portfolios lists every known portfolio id.
func (s *PortfolioService) Portfolios(ctx context.Context) ([]string, error) {
	return s.repo.ListPortfolios(ctx)
}
