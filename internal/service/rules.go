package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/karoocap/foliotrack/internal/apperr"
	"github.com/karoocap/foliotrack/internal/models"
	"github.com/karoocap/foliotrack/internal/repository"
	"github.com/karoocap/foliotrack/internal/scheduler"
)

// CreateRuleInput is the DTO consumed when declaring a recurring rule.
type CreateRuleInput struct {
	PortfolioID string
	ProductID   string
	CashPoolID  string
	Name        string
	EventKind   models.EventKind
	Method      models.CalcMethod
	AmountValue decimal.Decimal
	TaxRate     decimal.Decimal
	Currency    string
	Frequency   models.Frequency
	CustomDays  int
	FirstDue    time.Time
	StartDate   *time.Time
	EndDate     *time.Time
	Reinvest    bool
	ReinvestID  string
	Note        string
}

// CreateRule validates and stores a new rule, created active with its first
// next-execution date and the month anchor captured from it.
func (s *PortfolioService) CreateRule(ctx context.Context, input CreateRuleInput) (*models.RecurringRule, error) {
	if input.PortfolioID == "" || input.Name == "" {
		return nil, apperr.Validationf("portfolio id and rule name are required")
	}
	if !input.EventKind.Valid() {
		return nil, apperr.Validationf("unknown event kind %q", input.EventKind)
	}
	if !input.Method.Valid() {
		return nil, apperr.Validationf("unknown calculation method %q", input.Method)
	}
	if !input.Frequency.Valid() {
		return nil, apperr.Validationf("unknown frequency %q", input.Frequency)
	}
	if input.Frequency == models.FreqCustom && input.CustomDays <= 0 {
		return nil, apperr.Validationf("custom frequency requires a positive day count")
	}
	if !input.AmountValue.IsPositive() {
		return nil, apperr.Validationf("amount value must be positive")
	}
	if input.Method.NeedsHolding() && input.ProductID == "" {
		return nil, apperr.Validationf("method %s requires a product", input.Method)
	}
	if input.TaxRate.IsNegative() || input.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, apperr.Validationf("tax rate must be in [0, 1)")
	}

	firstDue := models.DateOnly(input.FirstDue)
	if input.FirstDue.IsZero() {
		firstDue = models.DateOnly(s.now())
	}
	if input.StartDate != nil && firstDue.Before(*input.StartDate) {
		firstDue = models.DateOnly(*input.StartDate)
	}
	if input.EndDate != nil && firstDue.After(*input.EndDate) {
		return nil, apperr.Validationf("first due date is after the end date")
	}

	now := s.now()
	rule := models.RecurringRule{
		ID:                uuid.NewString(),
		PortfolioID:       input.PortfolioID,
		ProductID:         input.ProductID,
		CashPoolID:        input.CashPoolID,
		Name:              input.Name,
		EventKind:         input.EventKind,
		Method:            input.Method,
		AmountValue:       input.AmountValue,
		TaxRate:           input.TaxRate,
		Currency:          input.Currency,
		Frequency:         input.Frequency,
		CustomDays:        input.CustomDays,
		AnchorDay:         firstDue.Day(),
		NextExecution:     firstDue,
		StartDate:         input.StartDate,
		EndDate:           input.EndDate,
		Status:            models.RuleActive,
		Reinvest:          input.Reinvest,
		ReinvestProductID: input.ReinvestID,
		Note:              input.Note,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if rule.Currency == "" {
		rule.Currency = s.baseCurrency
	}
	if err := s.repo.CreateRule(ctx, rule); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"rule": rule.ID, "portfolio": rule.PortfolioID}).Info("recurring rule created")
	return &rule, nil
}

// ListRules returns the portfolio's rules ordered by next execution.
func (s *PortfolioService) ListRules(ctx context.Context, portfolioID string) ([]models.RecurringRule, error) {
	return s.repo.ListRules(ctx, portfolioID)
}

// PauseRule suspends a rule without altering its next-execution date.
func (s *PortfolioService) PauseRule(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, models.RulePaused, models.RuleActive)
}

// ResumeRule reactivates a paused rule; its next-execution date is kept, so
// missed occurrences are caught up on the next scheduling pass.
func (s *PortfolioService) ResumeRule(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, models.RuleActive, models.RulePaused)
}

// DeleteRule ends a rule permanently.
func (s *PortfolioService) DeleteRule(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, models.RuleEnded, "")
}

func (s *PortfolioService) setStatus(ctx context.Context, id string, to, expectFrom models.RuleStatus) error {
	rule, err := s.repo.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if expectFrom != "" && rule.Status != expectFrom {
		return apperr.Validationf("rule %s is %s, not %s", id, rule.Status, expectFrom)
	}
	rule.Status = to
	rule.UpdatedAt = s.now()
	return s.repo.UpdateRule(ctx, *rule)
}

// ProcessDueRules runs one scheduling pass for a portfolio: every active
// rule whose next-execution date is on or before asOf fires once per missed
// period, each occurrence appended to the ledger and the rule advanced as
// one atomic unit. Repeated invocation with the same asOf is a no-op.
//
// A rule that cannot be priced is skipped for this pass and retried on the
// next one; other due rules still execute.
func (s *PortfolioService) ProcessDueRules(ctx context.Context, portfolioID string, asOf time.Time) ([]models.LedgerEvent, error) {
	lock := s.portfolioLock(portfolioID)
	lock.Lock()
	defer lock.Unlock()

	asOf = models.DateOnly(asOf)
	log := s.logger.WithFields(logrus.Fields{"portfolio": portfolioID, "asOf": asOf.Format("2006-01-02")})

	rules, err := s.repo.ListRules(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	// Occurrences are dated at their scheduled dates, so catch-up periods
	// are priced as of those dates, not the invocation instant.
	quote := func(productID string, on time.Time) (decimal.Decimal, error) {
		return s.priceSvc.GetHistoricalPrice(ctx, productID, on)
	}

	var generated []models.LedgerEvent
	for _, rule := range rules {
		events, err := s.processRule(ctx, rule, asOf, quote)
		// Earlier occurrences of the rule may already be persisted when a
		// later one fails; report everything actually written.
		generated = append(generated, events...)
		if err != nil {
			switch apperr.KindOf(err) {
			case apperr.MissingMarketData:
				log.WithField("rule", rule.ID).WithError(err).Warn("rule occurrence skipped, will retry next pass")
				continue
			case apperr.ScheduleConflict:
				log.WithField("rule", rule.ID).Info("lost scheduling race, rule already advanced")
				continue
			}
			return generated, apperr.WithPortfolio(err, portfolioID)
		}
	}
	if len(generated) > 0 {
		log.WithField("events", len(generated)).Info("scheduling pass complete")
	}
	return generated, nil
}

// processRule fires every occurrence of one rule that is due at asOf. The
// snapshot is reconstructed before each occurrence so DRIP purchases and
// earlier occurrences feed into later amount computations.
func (s *PortfolioService) processRule(ctx context.Context, rule models.RecurringRule, asOf time.Time, quote scheduler.QuoteFunc) ([]models.LedgerEvent, error) {
	var generated []models.LedgerEvent
	for rule.DueAt(asOf) {
		if rule.ExecutedOn(rule.NextExecution) {
			break
		}
		snap, err := s.Reconstruct(ctx, rule.PortfolioID, nil)
		if err != nil {
			return generated, err
		}

		prevNext := rule.NextExecution
		advanced, events, err := scheduler.Advance(rule, snap, quote)
		if err != nil {
			return generated, err
		}
		if err := s.repo.ExecuteRule(ctx, advanced, prevNext, events); err != nil {
			if errors.Is(err, repository.ErrScheduleConflict) {
				return generated, &apperr.Error{
					Kind:        apperr.ScheduleConflict,
					PortfolioID: rule.PortfolioID,
					RuleID:      rule.ID,
					Msg:         "concurrent pass already advanced rule",
				}
			}
			return generated, err
		}
		generated = append(generated, events...)
		if advanced.Status != models.RuleActive {
			break
		}
		if !advanced.NextExecution.After(prevNext) {
			// Defensive: a frequency that does not move the date forward
			// must not spin.
			break
		}
		rule = advanced
	}
	return generated, nil
}
