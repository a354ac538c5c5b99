package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Balance is a dated amount printed on a statement.
type Balance struct {
	Date   time.Time
	Amount decimal.Decimal
}

// StatementTransaction is one decoded row. Parsers produce values only.
type StatementTransaction struct {
	BookingDate      time.Time
	ValueDate        *time.Time
	Amount           decimal.Decimal
	Description      string
	CounterpartyName string
	CounterpartyIBAN string
	RunningBalance   *decimal.Decimal
	Line             int // 1-based source line of the anchor, 0 if unknown
}

// RowError records a row that could not be decoded. The row is dropped and
// the remaining rows are still processed.
type RowError struct {
	Line    int
	Text    string
	Message string
}

func (e RowError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// Period is the date range a statement covers.
type Period struct {
	From time.Time
	To   time.Time
}

// Statement is the canonical decoding of one bank document.
type Statement struct {
	Institution  string
	IBAN         string
	LegacyNumber string
	Period       *Period
	Opening      *Balance
	Closing      *Balance
	// Intraperiod end-of-day balances, when the source prints them.
	DailyBalances []Balance
	Transactions  []StatementTransaction
	Errors        []RowError
	SourceFile    string
	Encoding      string
}

// AccountKey returns the identifier used in messages.
func (s *Statement) AccountKey() string {
	if s.IBAN != "" {
		return s.IBAN
	}
	return s.LegacyNumber
}

// AddError appends a row error.
func (s *Statement) AddError(line int, text, format string, args ...any) {
	s.Errors = append(s.Errors, RowError{Line: line, Text: text, Message: fmt.Sprintf(format, args...)})
}

// Balances returns opening, daily and closing balances in that order.
func (s *Statement) Balances() []Balance {
	var out []Balance
	if s.Opening != nil {
		out = append(out, *s.Opening)
	}
	out = append(out, s.DailyBalances...)
	if s.Closing != nil {
		out = append(out, *s.Closing)
	}
	return out
}
