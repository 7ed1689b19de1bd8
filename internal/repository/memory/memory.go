package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/karoocap/foliotrack/internal/models"
	"github.com/karoocap/foliotrack/internal/repository"
)

// Store is an in-memory repository. Data resets on restart; it backs local
// development and tests.
type Store struct {
	mu     sync.RWMutex
	seq    int64
	events map[string][]models.LedgerEvent
	rules  map[string]models.RecurringRule
}

func New() *Store {
	return &Store{
		events: make(map[string][]models.LedgerEvent),
		rules:  make(map[string]models.RecurringRule),
	}
}

func (s *Store) AppendEvent(ctx context.Context, event models.LedgerEvent) (models.LedgerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(event), nil
}

func (s *Store) appendLocked(event models.LedgerEvent) models.LedgerEvent {
	s.seq++
	event.Seq = s.seq
	s.events[event.PortfolioID] = append(s.events[event.PortfolioID], event)
	return event
}

func (s *Store) ListEvents(ctx context.Context, portfolioID string, cutoff *time.Time) ([]models.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.LedgerEvent{}
	for _, e := range s.events[portfolioID] {
		if cutoff != nil && e.EffectiveDate.After(*cutoff) {
			continue
		}
		out = append(out, e)
	}
	slices.SortStableFunc(out, func(a, b models.LedgerEvent) int {
		if !a.EffectiveDate.Equal(b.EffectiveDate) {
			if a.EffectiveDate.Before(b.EffectiveDate) {
				return -1
			}
			return 1
		}
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *Store) ListPortfolios(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	for id := range s.events {
		seen[id] = true
	}
	for _, r := range s.rules {
		seen[r.PortfolioID] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) CreateRule(ctx context.Context, rule models.RecurringRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = rule
	return nil
}

func (s *Store) GetRule(ctx context.Context, id string) (*models.RecurringRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, repository.ErrRuleNotFound
	}
	copy := r
	return &copy, nil
}

func (s *Store) ListRules(ctx context.Context, portfolioID string) ([]models.RecurringRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.RecurringRule{}
	for _, r := range s.rules {
		if r.PortfolioID == portfolioID {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b models.RecurringRule) int {
		if !a.NextExecution.Equal(b.NextExecution) {
			if a.NextExecution.Before(b.NextExecution) {
				return -1
			}
			return 1
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *Store) UpdateRule(ctx context.Context, rule models.RecurringRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.ID]; !ok {
		return repository.ErrRuleNotFound
	}
	s.rules[rule.ID] = rule
	return nil
}

func (s *Store) ExecuteRule(ctx context.Context, rule models.RecurringRule, prevNext time.Time, events []models.LedgerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rules[rule.ID]
	if !ok {
		return repository.ErrRuleNotFound
	}
	// Compare-and-swap on the previous next-execution date and the active
	// status: at-maturity rules end without moving the date, so the date
	// alone cannot detect a concurrent pass that already fired them.
	if current.Status != models.RuleActive || !current.NextExecution.Equal(prevNext) {
		return repository.ErrScheduleConflict
	}
	for _, e := range events {
		s.appendLocked(e)
	}
	s.rules[rule.ID] = rule
	return nil
}
