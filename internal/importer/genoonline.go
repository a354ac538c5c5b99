package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/auszug/internal/document"
	"github.com/cleared-dev/auszug/internal/locale"
	"github.com/cleared-dev/auszug/internal/model"
)

// GenoOnlineParser reads the semicolon-separated daily export of the
// Genobank online banking portal. Columns are located by header name.
type GenoOnlineParser struct{}

// Header names of the export.
const (
	genoColAccount      = "IBAN Auftragskonto"
	genoColBooking      = "Buchungstag"
	genoColValue        = "Valutadatum"
	genoColName         = "Name Zahlungsbeteiligter"
	genoColIBAN         = "IBAN Zahlungsbeteiligter"
	genoColPostingText  = "Buchungstext"
	genoColPurpose      = "Verwendungszweck"
	genoColAmount       = "Betrag"
	genoColCurrency     = "Waehrung"
	genoColBalanceAfter = "Saldo nach Buchung"
)

var genoRequired = []string{genoColBooking, genoColAmount}

// Format returns the parser name.
func (p *GenoOnlineParser) Format() string { return FormatGenoOnline }

// Kinds returns the document kinds this parser reads.
func (p *GenoOnlineParser) Kinds() []document.Kind {
	return []document.Kind{document.KindCSV}
}

type genoRow struct {
	booking time.Time
	amount  decimal.Decimal
	balance *decimal.Decimal
}

// Parse decodes a Genobank online export.
func (p *GenoOnlineParser) Parse(ctx context.Context, doc *document.Document, opts Options) (*model.Statement, error) {
	stmt := newStatement(doc, FormatGenoOnline)
	lines := numberedLines(doc)

	header := -1
	for i, l := range lines {
		if strings.Contains(l.Text, genoColBooking) && strings.Contains(l.Text, genoColAmount) {
			header = i
			break
		}
	}
	if header < 0 {
		return nil, parseErr(doc, "no header row with %s and %s", genoColBooking, genoColAmount)
	}

	texts := make([]string, 0, len(lines)-header)
	for _, l := range lines[header:] {
		texts = append(texts, l.Text)
	}
	r := csv.NewReader(strings.NewReader(strings.Join(texts, "\n")))
	r.Comma = ';'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	lineOffset := lines[header].No - 1

	cols, err := r.Read()
	if err != nil {
		return nil, parseErr(doc, "header: %v", err)
	}
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		idx[normalizeHeader(c)] = i
	}
	for _, req := range genoRequired {
		if _, ok := idx[normalizeHeader(req)]; !ok {
			return nil, parseErr(doc, "missing column %q", req)
		}
	}
	field := func(rec []string, name string) string {
		i, ok := idx[normalizeHeader(name)]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []genoRow
	for i := 0; ; i++ {
		if err := checkCtx(ctx, i); err != nil {
			return nil, err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		lineNo, _ := r.FieldPos(0)
		lineNo += lineOffset
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				lineNo = perr.StartLine + lineOffset
			}
			stmt.AddError(lineNo, "", "%v", err)
			continue
		}
		text := strings.Join(rec, ";")
		if strings.Trim(text, "; ") == "" {
			continue
		}

		if acct := locale.CompactIBAN(field(rec, genoColAccount)); acct != "" {
			if stmt.IBAN == "" {
				stmt.IBAN = acct
			} else if acct != stmt.IBAN {
				stmt.AddError(lineNo, text, "row belongs to account %s, statement is %s", acct, stmt.IBAN)
				continue
			}
		}
		if cur := field(rec, genoColCurrency); cur != "" && !strings.EqualFold(cur, "EUR") {
			stmt.AddError(lineNo, text, "unsupported currency %q", cur)
			continue
		}

		txn, row, err := p.decode(rec, field, opts)
		if err != nil {
			stmt.AddError(lineNo, text, "%v", err)
			continue
		}
		txn.Line = lineNo
		stmt.Transactions = append(stmt.Transactions, txn)
		rows = append(rows, row)
	}

	genoDailyBalances(stmt, rows)

	if err := requireContent(doc, stmt); err != nil {
		return nil, err
	}
	setPeriod(stmt)
	return stmt, nil
}

func (p *GenoOnlineParser) decode(rec []string, field func([]string, string) string, opts Options) (model.StatementTransaction, genoRow, error) {
	var txn model.StatementTransaction
	booking, err := locale.ParseDate(field(rec, genoColBooking))
	if err != nil {
		return txn, genoRow{}, err
	}
	amount, err := amountWith(field(rec, genoColAmount), opts)
	if err != nil {
		return txn, genoRow{}, err
	}
	txn.BookingDate = booking
	txn.Amount = amount
	if v := field(rec, genoColValue); v != "" {
		value, err := locale.ParseDate(v)
		if err != nil {
			return txn, genoRow{}, err
		}
		txn.ValueDate = datePtr(value)
	}
	txn.CounterpartyName = locale.CleanDescription(field(rec, genoColName))
	txn.CounterpartyIBAN = locale.CompactIBAN(field(rec, genoColIBAN))
	txn.Description = locale.CleanDescription(field(rec, genoColPostingText), field(rec, genoColPurpose))

	row := genoRow{booking: booking, amount: amount}
	if s := field(rec, genoColBalanceAfter); s != "" {
		bal, err := amountWith(s, opts)
		if err != nil {
			return txn, genoRow{}, err
		}
		txn.RunningBalance = decPtr(bal)
		row.balance = decPtr(bal)
	}
	return txn, row, nil
}

// genoDailyBalances turns the balance-after-booking column into one
// balance per booking date: the balance after that day's last booking.
// Exports come newest-first or oldest-first; the direction is read from
// the dates, or from the balance arithmetic when all dates are equal.
func genoDailyBalances(stmt *model.Statement, rows []genoRow) {
	if len(rows) == 0 {
		return
	}
	descending := genoDescending(rows)

	var daily []model.Balance
	seen := make(map[time.Time]int)
	for i := range rows {
		r := rows[i]
		if r.balance == nil {
			continue
		}
		pos, ok := seen[r.booking]
		switch {
		case !ok:
			seen[r.booking] = len(daily)
			daily = append(daily, model.Balance{Date: r.booking, Amount: *r.balance})
		case !descending:
			// Later rows of the same day come after in oldest-first order.
			daily[pos].Amount = *r.balance
		}
	}
	if len(daily) == 0 {
		return
	}
	sortBalances(daily)
	last := daily[len(daily)-1]
	stmt.Closing = &last
	stmt.DailyBalances = daily[:len(daily)-1]
}

func genoDescending(rows []genoRow) bool {
	first, last := rows[0], rows[len(rows)-1]
	if !first.booking.Equal(last.booking) {
		return first.booking.After(last.booking)
	}
	if len(rows) > 1 && rows[0].balance != nil && rows[1].balance != nil {
		return rows[0].balance.Equal(rows[1].balance.Add(rows[0].amount))
	}
	return false
}

func sortBalances(b []model.Balance) {
	for i := 1; i < len(b); i++ {
		for j := i; j > 0 && b[j].Date.Before(b[j-1].Date); j-- {
			b[j], b[j-1] = b[j-1], b[j]
		}
	}
}

func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(strings.Trim(s, "\"\ufeff")))
	return strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss").Replace(s)
}
