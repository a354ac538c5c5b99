package importer

import (
	"context"
	"regexp"
	"strings"

	"github.com/cleared-dev/auszug/internal/document"
	"github.com/cleared-dev/auszug/internal/locale"
	"github.com/cleared-dev/auszug/internal/model"
)

// HVBParser reads HypoVereinsbank PDF statements: one table with booking
// and value date columns and a trailing "<amount> EUR", possibly spanning
// several pages with a repeated header.
type HVBParser struct{}

var (
	hvbRowRE     = regexp.MustCompile(`^(` + datePat + `)\s+(` + datePat + `)\s+(.*?)\s+(` + amountPat + `)\s*EUR$`)
	hvbDateRowRE = regexp.MustCompile(`^` + datePat + `\s+` + datePat + `\b`)
	hvbBalanceRE = regexp.MustCompile(`Kontostand\s+am\s+(` + datePat + `)\s+(` + amountPat + `)\s*EUR`)
	hvbSkip      = []string{"Buchungsdatum", "Seite ", "HypoVereinsbank", "UniCredit", "Kontoauszug", "Übertrag"}
)

// Format returns the parser name.
func (p *HVBParser) Format() string { return FormatHVB }

// Kinds returns the document kinds this parser reads.
func (p *HVBParser) Kinds() []document.Kind {
	return []document.Kind{document.KindPDF, document.KindText}
}

// Parse decodes an HVB statement.
func (p *HVBParser) Parse(ctx context.Context, doc *document.Document, opts Options) (*model.Statement, error) {
	stmt := newStatement(doc, FormatHVB)
	lines := numberedLines(doc)
	stmt.IBAN = accountIBAN(lines, firstMatch(lines, hvbDateRowRE))

	var (
		cur      *txnBuilder
		balances []model.Balance
		// balances seen before the first row
		leading int
	)
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
		switch {
		case l.Text == "":
			continue

		case hvbBalanceRE.MatchString(l.Text):
			flush()
			m := hvbBalanceRE.FindStringSubmatch(l.Text)
			date, err := locale.ParseDate(m[1])
			if err != nil {
				stmt.AddError(l.No, l.Text, "balance date: %v", err)
				continue
			}
			amount, err := amountWith(m[2], opts)
			if err != nil {
				stmt.AddError(l.No, l.Text, "balance: %v", err)
				continue
			}
			balances = append(balances, model.Balance{Date: date, Amount: amount})
			if len(stmt.Transactions) == 0 {
				leading++
			}

		case hasAnyPrefix(l.Text, hvbSkip), mentionsIBAN(l.Text, stmt.IBAN):
			// Page furniture does not end a row; the next row does.
			continue

		case hvbDateRowRE.MatchString(l.Text):
			flush()
			cur = p.startRow(stmt, l, opts)

		case cur != nil:
			cur.add(l.Text)
		}
	}
	flush()

	if leading > 0 {
		stmt.Opening = &balances[0]
	}
	if len(balances) > leading {
		stmt.Closing = &balances[len(balances)-1]
	} else if leading > 1 {
		// A statement without rows prints the same balance twice.
		stmt.Closing = &balances[leading-1]
	}

	if err := requireContent(doc, stmt); err != nil {
		return nil, err
	}
	setPeriod(stmt)
	return stmt, nil
}

func (p *HVBParser) startRow(stmt *model.Statement, l line, opts Options) *txnBuilder {
	m := hvbRowRE.FindStringSubmatch(l.Text)
	if m == nil {
		stmt.AddError(l.No, l.Text, "row without trailing amount")
		return nil
	}
	booking, err := locale.ParseDate(m[1])
	if err != nil {
		stmt.AddError(l.No, l.Text, "booking date: %v", err)
		return nil
	}
	value, err := locale.ParseDate(m[2])
	if err != nil {
		stmt.AddError(l.No, l.Text, "value date: %v", err)
		return nil
	}
	amount, err := amountWith(m[4], opts)
	if err != nil {
		stmt.AddError(l.No, l.Text, "amount: %v", err)
		return nil
	}
	b := &txnBuilder{txn: model.StatementTransaction{
		BookingDate: booking,
		ValueDate:   datePtr(value),
		Amount:      amount,
		Line:        l.No,
	}}
	b.add(strings.TrimSpace(m[3]))
	return b
}
