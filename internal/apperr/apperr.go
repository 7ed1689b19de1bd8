// Package apperr defines the error taxonomy shared by the reconstruction
// and scheduling cores. Every error carries enough context (portfolio,
// event/rule identifier, cutoff) to support an idempotent retry; none of
// them is fatal to the process.
package apperr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a failure.
type Kind string

const (
	// Validation marks malformed event or rule input, rejected before
	// storage and never partially applied.
	Validation Kind = "validation"
	// DataInconsistency marks an event stream the reconstructor cannot
	// satisfy, e.g. a disposal exceeding the held quantity.
	DataInconsistency Kind = "data_inconsistency"
	// MissingMarketData marks a rule occurrence the scheduler could not
	// price; the occurrence is skipped and retried on the next pass.
	MissingMarketData Kind = "missing_market_data"
	// ScheduleConflict marks a lost race between concurrent scheduler
	// passes on the same rule; the losing writer is a no-op.
	ScheduleConflict Kind = "schedule_conflict"
)

// Error is a classified failure with retry context.
type Error struct {
	Kind        Kind
	PortfolioID string
	EventID     string
	RuleID      string
	Cutoff      *time.Time
	Msg         string
	Err         error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.PortfolioID != "" {
		fmt.Fprintf(&b, " portfolio=%s", e.PortfolioID)
	}
	if e.EventID != "" {
		fmt.Fprintf(&b, " event=%s", e.EventID)
	}
	if e.RuleID != "" {
		fmt.Fprintf(&b, " rule=%s", e.RuleID)
	}
	if e.Cutoff != nil {
		fmt.Fprintf(&b, " cutoff=%s", e.Cutoff.Format("2006-01-02"))
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two taxonomy errors by kind, so errors.Is(err, apperr.E(kind))
// works without field equality.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// E builds a bare error of the given kind, useful as an errors.Is target.
func E(kind Kind) *Error { return &Error{Kind: kind} }

// Validationf builds a validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: Validation, Msg: fmt.Sprintf(format, args...)}
}

// Inconsistencyf builds a data-inconsistency error.
func Inconsistencyf(format string, args ...any) *Error {
	return &Error{Kind: DataInconsistency, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the taxonomy kind from an error chain, or "" if the error
// is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// WithPortfolio annotates an error in the chain with the portfolio it
// concerns. Unclassified errors pass through untouched.
func WithPortfolio(err error, portfolioID string) error {
	var e *Error
	if errors.As(err, &e) && e.PortfolioID == "" {
		e.PortfolioID = portfolioID
	}
	return err
}
