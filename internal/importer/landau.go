package importer

import (
	"context"
	"regexp"

	"github.com/cleared-dev/auszug/internal/document"
	"github.com/cleared-dev/auszug/internal/locale"
	"github.com/cleared-dev/auszug/internal/model"
)

// LandauParser reads VR Bank Landau-Mengkofen statements. Each booking is a
// block: counterparty and amount, then counterparty IBAN and booking date,
// then purpose lines. The last "Kontostand" line is the final balance.
type LandauParser struct{}

var (
	landauHeadRE     = regexp.MustCompile(`^(.+?)\s+(` + amountPat + `)(?:\s*EUR)?$`)
	landauIBANDateRE = regexp.MustCompile(`^([A-Z]{2}\d{2}[A-Z0-9 ]{11,40}?)\s+(\d{2}\.\d{2}\.\d{2,4})$`)
	landauIBANRE     = regexp.MustCompile(`^[A-Z]{2}\d{2}[A-Z0-9]{11,30}$`)
	landauBalanceRE  = regexp.MustCompile(`Kontostand\s+(?:am|vom)\s+(` + datePat + `)\s+(` + amountPat + `)(?:\s*EUR)?`)
	landauFurniture  = []string{"Seite ", "Übertrag", "Kontoauszug", "BIC"}
)

// Format returns the parser name.
func (p *LandauParser) Format() string { return FormatLandau }

// Kinds returns the document kinds this parser reads.
func (p *LandauParser) Kinds() []document.Kind {
	return []document.Kind{document.KindPDF, document.KindText}
}

// Parse decodes a Landau statement.
func (p *LandauParser) Parse(ctx context.Context, doc *document.Document, opts Options) (*model.Statement, error) {
	stmt := newStatement(doc, FormatLandau)
	lines := numberedLines(doc)

	headerEnd := -1
	for i := 0; i+1 < len(lines); i++ {
		if isLandauHead(lines[i].Text, lines[i+1].Text) {
			headerEnd = i
			break
		}
	}
	stmt.IBAN = accountIBAN(lines, headerEnd)

	var (
		cur      *txnBuilder
		balances []model.Balance
		leading  int
	)
	flush := func() {
		if cur != nil {
			stmt.Transactions = append(stmt.Transactions, cur.finish(stmt.IBAN))
			cur = nil
		}
	}

	for i := 0; i < len(lines); i++ {
		if err := checkCtx(ctx, i); err != nil {
			return nil, err
		}
		l := lines[i]
		if l.Text == "" {
			continue
		}
		if m := landauBalanceRE.FindStringSubmatch(l.Text); m != nil {
			flush()
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
			continue
		}
		if hasAnyPrefix(l.Text, landauFurniture) {
			continue
		}
		if i+1 < len(lines) && isLandauHead(l.Text, lines[i+1].Text) {
			flush()
			cur = p.startBlock(stmt, l, lines[i+1], opts)
			i++
			continue
		}
		if cur != nil && !mentionsIBAN(l.Text, stmt.IBAN) {
			cur.add(l.Text)
		}
	}
	flush()

	if leading > 0 && len(balances) > 1 {
		stmt.Opening = &balances[0]
	}
	if len(balances) > 0 {
		stmt.Closing = &balances[len(balances)-1]
	}

	if err := requireContent(doc, stmt); err != nil {
		return nil, err
	}
	setPeriod(stmt)
	return stmt, nil
}

// isLandauHead reports whether head/next open a booking block.
func isLandauHead(head, next string) bool {
	if !landauHeadRE.MatchString(head) {
		return false
	}
	m := landauIBANDateRE.FindStringSubmatch(next)
	return m != nil && landauIBANRE.MatchString(locale.CompactIBAN(m[1]))
}

func (p *LandauParser) startBlock(stmt *model.Statement, head, next line, opts Options) *txnBuilder {
	hm := landauHeadRE.FindStringSubmatch(head.Text)
	nm := landauIBANDateRE.FindStringSubmatch(next.Text)
	amount, err := amountWith(hm[2], opts)
	if err != nil {
		stmt.AddError(head.No, head.Text, "amount: %v", err)
		return nil
	}
	booking, err := locale.ParseDate(nm[2])
	if err != nil {
		stmt.AddError(next.No, next.Text, "booking date: %v", err)
		return nil
	}
	b := &txnBuilder{txn: model.StatementTransaction{
		BookingDate:      booking,
		Amount:           amount,
		CounterpartyName: hm[1],
		CounterpartyIBAN: locale.CompactIBAN(nm[1]),
		Line:             head.No,
	}}
	b.add(hm[1])
	return b
}
