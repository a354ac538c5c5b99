package importer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/auszug/internal/document"
	"github.com/cleared-dev/auszug/internal/locale"
	"github.com/cleared-dev/auszug/internal/model"
)

// Shared pieces of the statement layouts.
const (
	amountPat    = `[-+]?(?:\d{1,3}(?:\.\d{3})+|\d+),\d{2}[-+]?`
	datePat      = `\d{2}\.\d{2}\.\d{4}`
	shortDatePat = `\d{2}\.\d{2}\.`
)

var (
	trailingAmountRE = regexp.MustCompile(`^(?:(.*?)\s+)?(` + amountPat + `)$`)
	amountOnlyRE     = regexp.MustCompile(`^(` + amountPat + `)\s*([SH])?$`)
)

// ctxEvery is how often long parse loops check for cancellation.
const ctxEvery = 200

// line is one text line with its 1-based number across all pages.
type line struct {
	No   int
	Page int
	Text string
}

func numberedLines(doc *document.Document) []line {
	var out []line
	n := 0
	for p, page := range doc.Pages {
		for _, t := range page {
			n++
			out = append(out, line{No: n, Page: p + 1, Text: strings.TrimSpace(t)})
		}
	}
	return out
}

func checkCtx(ctx context.Context, i int) error {
	if i%ctxEvery == 0 {
		return ctx.Err()
	}
	return nil
}

// newStatement starts a statement for doc.
func newStatement(doc *document.Document, format string) *model.Statement {
	return &model.Statement{Institution: format, SourceFile: doc.Name, Encoding: doc.Encoding}
}

// accountIBAN returns the statement's own IBAN: the first IBAN on a line
// that labels it (IBAN, Konto), else the first IBAN in the header lines.
func accountIBAN(lines []line, headerEnd int) string {
	if headerEnd <= 0 || headerEnd > len(lines) {
		headerEnd = len(lines)
	}
	var first string
	for _, l := range lines[:headerEnd] {
		hits := locale.FindGermanIBANs(l.Text)
		if len(hits) == 0 {
			continue
		}
		lower := strings.ToLower(l.Text)
		if strings.Contains(lower, "iban") || strings.Contains(lower, "konto") {
			return hits[0]
		}
		if first == "" {
			first = hits[0]
		}
	}
	return first
}

func amountWith(s string, opts Options) (decimal.Decimal, error) {
	conv := opts.Convention
	if conv == (model.Convention{}) {
		conv = model.GermanConvention
	}
	return locale.ParseAmountWith(s, conv)
}

// hasAnyPrefix reports whether t starts with one of the prefixes.
func hasAnyPrefix(t string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return false
}

// mentionsIBAN reports whether t prints iban, compact or grouped.
func mentionsIBAN(t, iban string) bool {
	return iban != "" && strings.Contains(strings.ReplaceAll(t, " ", ""), iban)
}

// txnBuilder collects the lines of one transaction until it is flushed.
type txnBuilder struct {
	txn   model.StatementTransaction
	parts []string
}

func (b *txnBuilder) add(text string) {
	if text != "" {
		b.parts = append(b.parts, text)
	}
}

// finish cleans the description and fills the counterparty IBAN from the
// continuation text when the layout has no dedicated column.
func (b *txnBuilder) finish(ownIBAN string) model.StatementTransaction {
	t := b.txn
	t.Description = locale.CleanDescription(b.parts...)
	if t.CounterpartyIBAN == "" {
		for _, p := range b.parts {
			if iban := locale.FindIBAN(p); iban != "" && iban != ownIBAN {
				t.CounterpartyIBAN = iban
				break
			}
		}
	}
	return t
}

func datePtr(t time.Time) *time.Time { return &t }

func decPtr(d decimal.Decimal) *decimal.Decimal { return &d }

func parseErr(doc *document.Document, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", doc.Name, ErrStatementParse, fmt.Sprintf(format, args...))
}

// requireContent rejects statements with neither rows nor balances.
func requireContent(doc *document.Document, stmt *model.Statement) error {
	if stmt.AccountKey() == "" {
		return parseErr(doc, "no account identifier found")
	}
	if len(stmt.Transactions) == 0 && len(stmt.Balances()) == 0 {
		if len(stmt.Errors) > 0 {
			return parseErr(doc, "no decodable rows (%d row errors, first: %v)", len(stmt.Errors), stmt.Errors[0])
		}
		return parseErr(doc, "no transactions or balances found")
	}
	return nil
}

// setPeriod derives the statement period from its balances and rows.
func setPeriod(stmt *model.Statement) {
	var from, to time.Time
	consider := func(t time.Time) {
		if from.IsZero() || t.Before(from) {
			from = t
		}
		if to.IsZero() || t.After(to) {
			to = t
		}
	}
	for _, t := range stmt.Transactions {
		consider(t.BookingDate)
	}
	for _, b := range stmt.Balances() {
		consider(b.Date)
	}
	if !from.IsZero() {
		stmt.Period = &model.Period{From: from, To: to}
	}
}
