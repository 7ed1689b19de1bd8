package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/karoocap/foliotrack/internal/models"
	"github.com/karoocap/foliotrack/internal/repository"
)

// Store implements repository.Store backed by PostgreSQL. See schema.sql
// for the expected tables.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const eventColumns = `id, portfolio_id, product_id, cash_pool_id, kind, effective_date, seq,
	quantity, unit_price, split_ratio, gross_amount, fees, taxes, net_amount, currency,
	exchange_rate, foreign_currency, foreign_amount, note, reference, auto_generated, created_at`

const insertEvent = `
	INSERT INTO ledger_events
	(id, portfolio_id, product_id, cash_pool_id, kind, effective_date,
	 quantity, unit_price, split_ratio, gross_amount, fees, taxes, net_amount, currency,
	 exchange_rate, foreign_currency, foreign_amount, note, reference, auto_generated, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	RETURNING seq
`

func (s *Store) AppendEvent(ctx context.Context, event models.LedgerEvent) (models.LedgerEvent, error) {
	row := s.db.QueryRowContext(ctx, insertEvent, eventArgs(event)...)
	if err := row.Scan(&event.Seq); err != nil {
		return models.LedgerEvent{}, err
	}
	return event, nil
}

func eventArgs(e models.LedgerEvent) []interface{} {
	return []interface{}{
		e.ID, e.PortfolioID, nullable(e.ProductID), nullable(e.CashPoolID), string(e.Kind), e.EffectiveDate,
		e.Quantity, e.UnitPrice, e.SplitRatio, e.GrossAmount, e.Fees, e.Taxes, e.NetAmount, e.Currency,
		e.ExchangeRate, nullable(e.ForeignCurrency), e.ForeignAmount, e.Note, nullable(e.Reference), e.AutoGenerated, e.CreatedAt,
	}
}

func (s *Store) ListEvents(ctx context.Context, portfolioID string, cutoff *time.Time) ([]models.LedgerEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM ledger_events
		WHERE portfolio_id = $1
		ORDER BY effective_date ASC, seq ASC`
	args := []interface{}{portfolioID}
	if cutoff != nil {
		query = `SELECT ` + eventColumns + `
			FROM ledger_events
			WHERE portfolio_id = $1 AND effective_date <= $2
			ORDER BY effective_date ASC, seq ASC`
		args = append(args, *cutoff)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]models.LedgerEvent, error) {
	out := []models.LedgerEvent{}
	for rows.Next() {
		var e models.LedgerEvent
		var productID, cashPoolID, foreignCur, reference sql.NullString
		if err := rows.Scan(
			&e.ID, &e.PortfolioID, &productID, &cashPoolID, &e.Kind, &e.EffectiveDate, &e.Seq,
			&e.Quantity, &e.UnitPrice, &e.SplitRatio, &e.GrossAmount, &e.Fees, &e.Taxes, &e.NetAmount, &e.Currency,
			&e.ExchangeRate, &foreignCur, &e.ForeignAmount, &e.Note, &reference, &e.AutoGenerated, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.ProductID = productID.String
		e.CashPoolID = cashPoolID.String
		e.ForeignCurrency = foreignCur.String
		e.Reference = reference.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ListPortfolios(ctx context.Context) ([]string, error) {
	const query = `
		SELECT portfolio_id FROM ledger_events
		UNION
		SELECT portfolio_id FROM recurring_rules
		ORDER BY 1`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const ruleColumns = `id, portfolio_id, product_id, cash_pool_id, name, event_kind, method,
	amount_value, tax_rate, currency, frequency, custom_days, anchor_day,
	next_execution, last_executed, start_date, end_date, status,
	reinvest, reinvest_product_id, note, created_at, updated_at`

func (s *Store) CreateRule(ctx context.Context, r models.RecurringRule) error {
	const query = `
		INSERT INTO recurring_rules (` + ruleColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.PortfolioID, nullable(r.ProductID), nullable(r.CashPoolID), r.Name, string(r.EventKind), string(r.Method),
		r.AmountValue, r.TaxRate, r.Currency, string(r.Frequency), r.CustomDays, r.AnchorDay,
		r.NextExecution, r.LastExecuted, r.StartDate, r.EndDate, string(r.Status),
		r.Reinvest, nullable(r.ReinvestProductID), r.Note, r.CreatedAt, r.UpdatedAt)
	return err
}

func (s *Store) GetRule(ctx context.Context, id string) (*models.RecurringRule, error) {
	const query = `SELECT ` + ruleColumns + ` FROM recurring_rules WHERE id = $1`
	r, err := scanRule(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrRuleNotFound
		}
		return nil, err
	}
	return r, nil
}

func (s *Store) ListRules(ctx context.Context, portfolioID string) ([]models.RecurringRule, error) {
	const query = `SELECT ` + ruleColumns + `
		FROM recurring_rules
		WHERE portfolio_id = $1
		ORDER BY next_execution ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.RecurringRule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row scanner) (*models.RecurringRule, error) {
	var r models.RecurringRule
	var productID, cashPoolID, reinvestID sql.NullString
	var lastExecuted, startDate, endDate sql.NullTime
	if err := row.Scan(
		&r.ID, &r.PortfolioID, &productID, &cashPoolID, &r.Name, &r.EventKind, &r.Method,
		&r.AmountValue, &r.TaxRate, &r.Currency, &r.Frequency, &r.CustomDays, &r.AnchorDay,
		&r.NextExecution, &lastExecuted, &startDate, &endDate, &r.Status,
		&r.Reinvest, &reinvestID, &r.Note, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.ProductID = productID.String
	r.CashPoolID = cashPoolID.String
	r.ReinvestProductID = reinvestID.String
	if lastExecuted.Valid {
		t := lastExecuted.Time
		r.LastExecuted = &t
	}
	if startDate.Valid {
		t := startDate.Time
		r.StartDate = &t
	}
	if endDate.Valid {
		t := endDate.Time
		r.EndDate = &t
	}
	return &r, nil
}

const updateRule = `
	UPDATE recurring_rules SET
		name = $2, event_kind = $3, method = $4, amount_value = $5, tax_rate = $6,
		currency = $7, frequency = $8, custom_days = $9, anchor_day = $10,
		next_execution = $11, last_executed = $12, start_date = $13, end_date = $14,
		status = $15, reinvest = $16, reinvest_product_id = $17, note = $18, updated_at = $19
	WHERE id = $1`

func (s *Store) UpdateRule(ctx context.Context, r models.RecurringRule) error {
	res, err := s.db.ExecContext(ctx, updateRule, ruleUpdateArgs(r)...)
	if err != nil {
		return err
	}
	return checkFound(res)
}

func ruleUpdateArgs(r models.RecurringRule) []interface{} {
	return []interface{}{
		r.ID, r.Name, string(r.EventKind), string(r.Method), r.AmountValue, r.TaxRate,
		r.Currency, string(r.Frequency), r.CustomDays, r.AnchorDay,
		r.NextExecution, r.LastExecuted, r.StartDate, r.EndDate,
		string(r.Status), r.Reinvest, nullable(r.ReinvestProductID), r.Note, r.UpdatedAt,
	}
}

// ExecuteRule appends the generated events and advances the rule in one
// transaction. The optimistic WHERE guard on the previous next-execution
// date and the active status makes a racing second writer roll back with
// ErrScheduleConflict; the status leg covers at-maturity rules, which end
// without moving the date.
func (s *Store) ExecuteRule(ctx context.Context, rule models.RecurringRule, prevNext time.Time, events []models.LedgerEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	const advance = `
		UPDATE recurring_rules
		SET next_execution = $2, last_executed = $3, status = $4, updated_at = $5
		WHERE id = $1 AND next_execution = $6 AND status = 'active'`
	res, err := tx.ExecContext(ctx, advance,
		rule.ID, rule.NextExecution, rule.LastExecuted, string(rule.Status), rule.UpdatedAt, prevNext)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if n == 0 {
		_ = tx.Rollback()
		return repository.ErrScheduleConflict
	}
	for _, e := range events {
		if _, err := tx.ExecContext(ctx, insertEvent, eventArgs(e)...); err != nil {
			_ = tx.Rollback()
			if isUniqueViolation(err) {
				return repository.ErrScheduleConflict
			}
			return err
		}
	}
	return tx.Commit()
}

func checkFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrRuleNotFound
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
