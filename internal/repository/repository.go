package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/karoocap/foliotrack/internal/models"
)

var (
	// ErrRuleNotFound indicates the referenced rule does not exist.
	ErrRuleNotFound = fmt.Errorf("rule not found")
	// ErrScheduleConflict indicates a concurrent scheduler pass already
	// advanced the rule; the losing writer must treat it as a no-op.
	ErrScheduleConflict = fmt.Errorf("schedule conflict")
)

// Store abstracts durable persistence for the event ledger and rule set.
// Events are append-only; they are never updated or deleted.
type Store interface {
	// AppendEvent durably appends one event and assigns its insertion
	// sequence, the tie-break for same-day ordering.
	AppendEvent(ctx context.Context, event models.LedgerEvent) (models.LedgerEvent, error)
	// ListEvents returns the portfolio's events ordered by effective date
	// then insertion sequence. A nil cutoff means the full history.
	ListEvents(ctx context.Context, portfolioID string, cutoff *time.Time) ([]models.LedgerEvent, error)
	// ListPortfolios returns every portfolio id that has events or rules.
	ListPortfolios(ctx context.Context) ([]string, error)

	CreateRule(ctx context.Context, rule models.RecurringRule) error
	GetRule(ctx context.Context, id string) (*models.RecurringRule, error)
	ListRules(ctx context.Context, portfolioID string) ([]models.RecurringRule, error)
	UpdateRule(ctx context.Context, rule models.RecurringRule) error
	// ExecuteRule appends the generated events and advances the rule as one
	// atomic unit, guarded by the rule's previous next-execution date.
	// A second writer racing on the same occurrence gets
	// ErrScheduleConflict and must not have written anything.
	ExecuteRule(ctx context.Context, rule models.RecurringRule, prevNext time.Time, events []models.LedgerEvent) error
}
