package importer

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/cleared-dev/auszug/internal/document"
	"github.com/cleared-dev/auszug/internal/locale"
	"github.com/cleared-dev/auszug/internal/model"
)

// VRMonthlyParser reads the monthly PDF statements of VR banks and
// Genobanks. Bookings are blocks that open with "DD.MM. DD.MM." and carry
// an amount with an S (debit) or H (credit) suffix either on the opening
// line or on a line of its own further down.
type VRMonthlyParser struct{}

var (
	vrBalanceRE  = regexp.MustCompile(`^(Alter|Neuer)\s+Kontostand\s+vom\s+(` + datePat + `)\s+(` + amountPat + `)\s*([SH])$`)
	vrBlockRE    = regexp.MustCompile(`^(` + shortDatePat + `)\s+(?:(` + shortDatePat + `)\s+)?(.*)$`)
	vrAmountEnd  = regexp.MustCompile(`^(?:(.*?)\s+)?(` + amountPat + `\s*[SH])$`)
	vrFurniture  = []string{"Übertrag", "Blatt ", "Seite ", "Bu-Tag", "Kontoauszug"}
	vrFallbackIn = 31 * 24 * time.Hour
)

// Format returns the parser name.
func (p *VRMonthlyParser) Format() string { return FormatVRMonthly }

// Kinds returns the document kinds this parser reads.
func (p *VRMonthlyParser) Kinds() []document.Kind {
	return []document.Kind{document.KindPDF, document.KindText}
}

type vrBlock struct {
	line    line
	booking string
	value   string
	parts   []string
	amount  string
}

// Parse decodes a VR monthly statement.
func (p *VRMonthlyParser) Parse(ctx context.Context, doc *document.Document, opts Options) (*model.Statement, error) {
	stmt := newStatement(doc, FormatVRMonthly)
	lines := numberedLines(doc)
	stmt.IBAN = accountIBAN(lines, firstMatch(lines, vrBlockRE))

	var (
		blocks []*vrBlock
		cur    *vrBlock
	)
	closeBlock := func() {
		if cur != nil {
			blocks = append(blocks, cur)
			cur = nil
		}
	}

	for i, l := range lines {
		if err := checkCtx(ctx, i); err != nil {
			return nil, err
		}
		if l.Text == "" {
			closeBlock()
			continue
		}
		if m := vrBalanceRE.FindStringSubmatch(l.Text); m != nil {
			closeBlock()
			p.balance(stmt, l, m, opts)
			continue
		}
		if hasAnyPrefix(l.Text, vrFurniture) || mentionsIBAN(l.Text, stmt.IBAN) {
			continue
		}
		if m := vrBlockRE.FindStringSubmatch(l.Text); m != nil {
			closeBlock()
			cur = &vrBlock{line: l, booking: m[1], value: m[2]}
			cur.take(m[3])
			continue
		}
		if cur != nil {
			cur.take(l.Text)
		}
	}
	closeBlock()

	ref, ok := p.referenceDate(stmt)
	for _, b := range blocks {
		if !ok {
			stmt.AddError(b.line.No, b.line.Text, "no balance date to resolve the year of %s", b.booking)
			continue
		}
		if txn, err := b.resolve(ref, opts); err != nil {
			stmt.AddError(b.line.No, b.line.Text, "%v", err)
		} else {
			stmt.Transactions = append(stmt.Transactions, txn.finish(stmt.IBAN))
		}
	}

	if err := requireContent(doc, stmt); err != nil {
		return nil, err
	}
	setPeriod(stmt)
	return stmt, nil
}

func (p *VRMonthlyParser) balance(stmt *model.Statement, l line, m []string, opts Options) {
	date, err := locale.ParseDate(m[2])
	if err != nil {
		stmt.AddError(l.No, l.Text, "balance date: %v", err)
		return
	}
	amount, err := amountWith(m[3]+" "+m[4], opts)
	if err != nil {
		stmt.AddError(l.No, l.Text, "balance: %v", err)
		return
	}
	bal := &model.Balance{Date: date, Amount: amount}
	if m[1] == "Alter" {
		stmt.Opening = bal
	} else {
		stmt.Closing = bal
	}
}

// referenceDate anchors "DD.MM." dates: the closing date, else a month
// after the opening date.
func (p *VRMonthlyParser) referenceDate(stmt *model.Statement) (time.Time, bool) {
	switch {
	case stmt.Closing != nil:
		return stmt.Closing.Date, true
	case stmt.Opening != nil:
		return stmt.Opening.Date.Add(vrFallbackIn), true
	}
	return time.Time{}, false
}

// take adds one line of block text, picking up the amount if the line ends
// with one and the block has none yet.
func (b *vrBlock) take(text string) {
	if b.amount == "" {
		if m := vrAmountEnd.FindStringSubmatch(text); m != nil {
			b.amount = m[2]
			text = m[1]
		}
	}
	if text != "" {
		b.parts = append(b.parts, text)
	}
}

func (b *vrBlock) resolve(ref time.Time, opts Options) (*txnBuilder, error) {
	if b.amount == "" {
		return nil, fmt.Errorf("booking block without amount")
	}
	booking, err := locale.ParseShortDate(b.booking, ref)
	if err != nil {
		return nil, fmt.Errorf("booking date: %v", err)
	}
	amount, err := amountWith(b.amount, opts)
	if err != nil {
		return nil, fmt.Errorf("amount: %v", err)
	}
	t := &txnBuilder{txn: model.StatementTransaction{BookingDate: booking, Amount: amount, Line: b.line.No}}
	if b.value != "" {
		v, err := locale.ParseShortDate(b.value, ref)
		if err != nil {
			return nil, fmt.Errorf("value date: %v", err)
		}
		t.txn.ValueDate = datePtr(v)
	}
	// Posting text first; with two or more further lines the first names
	// the counterparty.
	if len(b.parts) >= 3 {
		t.txn.CounterpartyName = b.parts[1]
	}
	for _, part := range b.parts {
		t.add(part)
	}
	return t, nil
}
