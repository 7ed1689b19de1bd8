package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/karoocap/foliotrack/internal/models"
	"github.com/karoocap/foliotrack/internal/repository"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAppendAssignsMonotonicSeq(t *testing.T) {
	s := New()
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		got, err := s.AppendEvent(ctx, models.LedgerEvent{
			ID: "e", PortfolioID: "p1", Kind: models.KindDeposit,
			EffectiveDate: day(2024, 1, 1+i),
		})
		if err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
		if got.Seq <= last {
			t.Fatalf("seq %d not greater than previous %d", got.Seq, last)
		}
		last = got.Seq
	}
}

func TestListEventsOrdersByDateThenSeq(t *testing.T) {
	s := New()
	ctx := context.Background()

	// Inserted out of date order, with two events sharing a date.
	inserts := []struct {
		id   string
		date time.Time
	}{
		{"c", day(2024, 3, 1)},
		{"a", day(2024, 1, 1)},
		{"b1", day(2024, 2, 1)},
		{"b2", day(2024, 2, 1)},
	}
	for _, in := range inserts {
		if _, err := s.AppendEvent(ctx, models.LedgerEvent{
			ID: in.id, PortfolioID: "p1", Kind: models.KindDeposit, EffectiveDate: in.date,
		}); err != nil {
			t.Fatalf("AppendEvent %s: %v", in.id, err)
		}
	}

	events, err := s.ListEvents(ctx, "p1", nil)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	want := []string{"a", "b1", "b2", "c"}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, id := range want {
		if events[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, events[i].ID, id)
		}
	}
}

func TestListEventsHonorsCutoff(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		if _, err := s.AppendEvent(ctx, models.LedgerEvent{
			ID: "e", PortfolioID: "p1", Kind: models.KindDeposit, EffectiveDate: day(2024, time.Month(i), 1),
		}); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	cutoff := day(2024, 2, 1)
	events, err := s.ListEvents(ctx, "p1", &cutoff)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("got %d events, want 2 (cutoff is inclusive)", len(events))
	}
}

func TestExecuteRuleConflictLeavesStoreUntouched(t *testing.T) {
	s := New()
	ctx := context.Background()

	rule := models.RecurringRule{
		ID: "r1", PortfolioID: "p1", Name: "fee",
		NextExecution: day(2024, 3, 15), Status: models.RuleActive,
	}
	if err := s.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	advanced := rule
	advanced.NextExecution = day(2024, 6, 15)
	event := models.LedgerEvent{ID: "e1", PortfolioID: "p1", Kind: models.KindFee, EffectiveDate: day(2024, 3, 15)}

	if err := s.ExecuteRule(ctx, advanced, rule.NextExecution, []models.LedgerEvent{event}); err != nil {
		t.Fatalf("first ExecuteRule: %v", err)
	}

	// A second writer holding the stale previous date loses the race, and
	// neither its event nor its rule update lands.
	stale := rule
	stale.NextExecution = day(2024, 6, 15)
	err := s.ExecuteRule(ctx, stale, rule.NextExecution, []models.LedgerEvent{
		{ID: "e2", PortfolioID: "p1", Kind: models.KindFee, EffectiveDate: day(2024, 3, 15)},
	})
	if !errors.Is(err, repository.ErrScheduleConflict) {
		t.Fatalf("err = %v, want ErrScheduleConflict", err)
	}

	events, _ := s.ListEvents(ctx, "p1", nil)
	if len(events) != 1 || events[0].ID != "e1" {
		t.Errorf("conflicting writer appended events: %+v", events)
	}
	got, _ := s.GetRule(ctx, "r1")
	if !got.NextExecution.Equal(day(2024, 6, 15)) {
		t.Errorf("next = %s, want 2024-06-15", got.NextExecution.Format("2006-01-02"))
	}
}

func TestExecuteRuleConflictOnEndedRuleAtSameDate(t *testing.T) {
	s := New()
	ctx := context.Background()

	// An at-maturity advance ends the rule without moving its date, so the
	// guard must key on status too or a racing pass fires the coupon twice.
	rule := models.RecurringRule{
		ID: "r1", PortfolioID: "p1", Name: "bond maturity",
		NextExecution: day(2024, 3, 15), Status: models.RuleActive,
	}
	if err := s.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	ended := rule
	ended.Status = models.RuleEnded
	if err := s.ExecuteRule(ctx, ended, rule.NextExecution, []models.LedgerEvent{
		{ID: "e1", PortfolioID: "p1", Kind: models.KindCoupon, EffectiveDate: day(2024, 3, 15)},
	}); err != nil {
		t.Fatalf("first ExecuteRule: %v", err)
	}

	err := s.ExecuteRule(ctx, ended, rule.NextExecution, []models.LedgerEvent{
		{ID: "e2", PortfolioID: "p1", Kind: models.KindCoupon, EffectiveDate: day(2024, 3, 15)},
	})
	if !errors.Is(err, repository.ErrScheduleConflict) {
		t.Fatalf("err = %v, want ErrScheduleConflict", err)
	}
	events, _ := s.ListEvents(ctx, "p1", nil)
	if len(events) != 1 {
		t.Errorf("occurrence fired %d times, want 1", len(events))
	}
}

func TestGetRuleNotFound(t *testing.T) {
	s := New()
	if _, err := s.GetRule(context.Background(), "missing"); !errors.Is(err, repository.ErrRuleNotFound) {
		t.Fatalf("err = %v, want ErrRuleNotFound", err)
	}
}

func TestListPortfoliosCoversEventsAndRules(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.AppendEvent(ctx, models.LedgerEvent{
		ID: "e", PortfolioID: "p2", Kind: models.KindDeposit, EffectiveDate: day(2024, 1, 1),
	}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := s.CreateRule(ctx, models.RecurringRule{ID: "r", PortfolioID: "p1"}); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	ids, err := s.ListPortfolios(ctx)
	if err != nil {
		t.Fatalf("ListPortfolios: %v", err)
	}
	if len(ids) != 2 || ids[0] != "p1" || ids[1] != "p2" {
		t.Errorf("portfolios = %v, want [p1 p2]", ids)
	}
}
