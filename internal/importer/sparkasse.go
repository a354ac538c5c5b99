package importer

import (
	"context"
	"regexp"

	"github.com/cleared-dev/auszug/internal/document"
	"github.com/cleared-dev/auszug/internal/locale"
	"github.com/cleared-dev/auszug/internal/model"
)

// SparkasseParser reads Sparkasse PDF statements. Rows start with the
// booking date and end with the amount; the closing balance is the line
// marked with a trailing asterisk.
type SparkasseParser struct{}

var (
	spkRowRE     = regexp.MustCompile(`^(` + datePat + `)(?:\s+(` + datePat + `))?\s+(.*)$`)
	spkBalanceRE = regexp.MustCompile(`^(?:.*?Kontostand\s+am\s+(` + datePat + `)\D*?)?\s*(` + amountPat + `)\s*EUR\s*(\*)?$`)
	spkFooters   = []string{"Seite ", "Übertrag", "Rechnungsabschluss", "Bitte beachten", "Dieser Kontoauszug", "BIC", "Kontoauszug"}
)

// Format returns the parser name.
func (p *SparkasseParser) Format() string { return FormatSparkasse }

// Kinds returns the document kinds this parser reads.
func (p *SparkasseParser) Kinds() []document.Kind {
	return []document.Kind{document.KindPDF, document.KindText}
}

// Parse decodes a Sparkasse statement.
func (p *SparkasseParser) Parse(ctx context.Context, doc *document.Document, opts Options) (*model.Statement, error) {
	stmt := newStatement(doc, FormatSparkasse)
	lines := numberedLines(doc)
	stmt.IBAN = accountIBAN(lines, firstMatch(lines, spkRowRE))

	var cur *txnBuilder
	flush := func() {
		if cur != nil {
			stmt.Transactions = append(stmt.Transactions, cur.finish(stmt.IBAN))
			cur = nil
		}
	}

	for i, l := range lines {
		if err := checkCtx(ctx, i); err != nil {
			return nil, err
		}
		if l.Text == "" {
			continue
		}

		if m := spkBalanceRE.FindStringSubmatch(l.Text); m != nil && (m[1] != "" || m[3] != "") {
			flush()
			amount, err := amountWith(m[2], opts)
			if err != nil {
				stmt.AddError(l.No, l.Text, "balance: %v", err)
				continue
			}
			bal := model.Balance{Amount: amount}
			if m[1] != "" {
				if bal.Date, err = locale.ParseDate(m[1]); err != nil {
					stmt.AddError(l.No, l.Text, "balance date: %v", err)
					continue
				}
			} else if n := len(stmt.Transactions); n > 0 {
				bal.Date = stmt.Transactions[n-1].BookingDate
			} else {
				stmt.AddError(l.No, l.Text, "balance without date and no preceding booking")
				continue
			}
			switch {
			case m[3] != "":
				stmt.Closing = &bal
			case len(stmt.Transactions) == 0 && stmt.Opening == nil:
				stmt.Opening = &bal
			default:
				stmt.DailyBalances = append(stmt.DailyBalances, bal)
			}
			continue
		}

		if m := spkRowRE.FindStringSubmatch(l.Text); m != nil {
			flush()
			cur = p.startRow(stmt, l, m, opts)
			continue
		}

		if hasAnyPrefix(l.Text, spkFooters) {
			flush()
			continue
		}
		if cur != nil {
			cur.add(l.Text)
		}
	}
	flush()

	if err := requireContent(doc, stmt); err != nil {
		return nil, err
	}
	setPeriod(stmt)
	return stmt, nil
}

// startRow decodes an anchor line. It returns nil (after recording a row
// error) when the line cannot be decoded, so continuation lines are dropped
// with it.
func (p *SparkasseParser) startRow(stmt *model.Statement, l line, m []string, opts Options) *txnBuilder {
	booking, err := locale.ParseDate(m[1])
	if err != nil {
		stmt.AddError(l.No, l.Text, "booking date: %v", err)
		return nil
	}
	rest := trailingAmountRE.FindStringSubmatch(m[3])
	if rest == nil {
		stmt.AddError(l.No, l.Text, "no amount at end of row")
		return nil
	}
	amount, err := amountWith(rest[2], opts)
	if err != nil {
		stmt.AddError(l.No, l.Text, "amount: %v", err)
		return nil
	}
	b := &txnBuilder{txn: model.StatementTransaction{BookingDate: booking, Amount: amount, Line: l.No}}
	if m[2] != "" {
		v, err := locale.ParseDate(m[2])
		if err != nil {
			stmt.AddError(l.No, l.Text, "value date: %v", err)
			return nil
		}
		b.txn.ValueDate = datePtr(v)
	}
	b.add(rest[1])
	return b
}

// firstMatch returns the index of the first line matching re, or -1.
func firstMatch(lines []line, re *regexp.Regexp) int {
	for i, l := range lines {
		if re.MatchString(l.Text) {
			return i
		}
	}
	return -1
}
