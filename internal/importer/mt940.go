package importer

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/auszug/internal/document"
	"github.com/cleared-dev/auszug/internal/locale"
	"github.com/cleared-dev/auszug/internal/model"
)

// MT940Parser reads SWIFT MT940 account statements. Several ":20:" blocks
// for the same account are merged into one statement.
type MT940Parser struct{}

var (
	mt940TagRE     = regexp.MustCompile(`^:(\d{2}[A-Z]?):(.*)$`)
	mt940BalanceRE = regexp.MustCompile(`^([CD])(\d{6})([A-Z]{3})(\d+,\d{0,2})$`)
	mt940EntryRE   = regexp.MustCompile(`^(\d{6})(\d{4})?(RC|RD|C|D)([A-Z])?(\d+,\d{0,2})(.*)$`)
	mt940SubRE     = regexp.MustCompile(`\?(\d{2})`)
)

// Format returns the parser name.
func (p *MT940Parser) Format() string { return FormatMT940 }

// Kinds returns the document kinds this parser reads.
func (p *MT940Parser) Kinds() []document.Kind {
	return []document.Kind{document.KindMT940}
}

type mt940Field struct {
	tag   string
	value string
	line  int
}

// Parse decodes an MT940 file.
func (p *MT940Parser) Parse(ctx context.Context, doc *document.Document, opts Options) (*model.Statement, error) {
	stmt := newStatement(doc, FormatMT940)
	fields := mt940Fields(doc)
	if len(fields) == 0 {
		return nil, parseErr(doc, "no MT940 fields")
	}

	var (
		closings  []model.Balance
		account   string
		skipBlock bool
		pending   *model.StatementTransaction
	)
	flush := func() {
		if pending != nil {
			stmt.Transactions = append(stmt.Transactions, *pending)
			pending = nil
		}
	}

	for i, f := range fields {
		if err := checkCtx(ctx, i); err != nil {
			return nil, err
		}
		if f.tag != "86" {
			flush()
		}
		if skipBlock && f.tag != "20" {
			continue
		}

		switch f.tag {
		case "20":
			skipBlock = false

		case "25":
			iban, legacy := mt940Account(f.value)
			key := iban
			if key == "" {
				key = legacy
			}
			if account == "" {
				account = key
				stmt.IBAN, stmt.LegacyNumber = iban, legacy
			} else if key != account {
				stmt.AddError(f.line, f.value, "block for account %s skipped, statement is %s", key, account)
				skipBlock = true
			}

		case "60F", "60M":
			bal, err := mt940Balance(f.value)
			if err != nil {
				stmt.AddError(f.line, f.value, "opening balance: %v", err)
				continue
			}
			if f.tag == "60F" && stmt.Opening == nil {
				stmt.Opening = &bal
			}

		case "61":
			txn, err := mt940Entry(f.value)
			if err != nil {
				stmt.AddError(f.line, f.value, "%v", err)
				continue
			}
			txn.Line = f.line
			pending = &txn

		case "86":
			if pending == nil {
				continue
			}
			mt940Details(pending, f.value)
			flush()

		case "62F", "62M":
			bal, err := mt940Balance(f.value)
			if err != nil {
				stmt.AddError(f.line, f.value, "closing balance: %v", err)
				continue
			}
			closings = append(closings, bal)
		}
	}
	flush()

	if n := len(closings); n > 0 {
		sortBalances(closings)
		last := closings[n-1]
		stmt.Closing = &last
		for _, b := range closings[:n-1] {
			if !b.Date.Equal(last.Date) {
				stmt.DailyBalances = append(stmt.DailyBalances, b)
			}
		}
	}

	if err := requireContent(doc, stmt); err != nil {
		return nil, err
	}
	setPeriod(stmt)
	return stmt, nil
}

// mt940Fields splits the document into tagged fields, joining continuation
// lines. ":86:" continuations are joined without a separator because
// subfields wrap at arbitrary positions.
func mt940Fields(doc *document.Document) []mt940Field {
	var out []mt940Field
	for _, l := range numberedLines(doc) {
		if l.Text == "" || l.Text == "-" || strings.HasPrefix(l.Text, "{") {
			continue
		}
		if m := mt940TagRE.FindStringSubmatch(l.Text); m != nil {
			out = append(out, mt940Field{tag: m[1], value: strings.TrimSpace(m[2]), line: l.No})
			continue
		}
		if n := len(out); n > 0 {
			if out[n-1].tag == "86" {
				out[n-1].value += l.Text
			} else {
				out[n-1].value += " " + l.Text
			}
		}
	}
	return out
}

// mt940Account decodes ":25:". IBANs are used as is; "BLZ/account" gets the
// German IBAN derived from it and keeps the account number as legacy
// number.
func mt940Account(v string) (iban, legacy string) {
	v = strings.TrimSpace(v)
	if found := locale.FindIBAN(strings.ReplaceAll(v, " ", "")); found != "" {
		return found, ""
	}
	blz, acct, ok := strings.Cut(v, "/")
	if !ok {
		return "", v
	}
	acct = strings.TrimLeft(strings.TrimSpace(acct), "0")
	if i := strings.IndexFunc(acct, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		acct = acct[:i]
	}
	return GermanIBAN(strings.TrimSpace(blz), acct), acct
}

// GermanIBAN builds a DE IBAN from bank code and account number, or returns
// "" when they are malformed.
func GermanIBAN(blz, account string) string {
	if len(blz) != 8 || account == "" || len(account) > 10 || !isDigits(blz) || !isDigits(account) {
		return ""
	}
	bban := blz + strings.Repeat("0", 10-len(account)) + account
	// "DE00" moved to the end, letters as numbers: D=13, E=14.
	n, ok := new(big.Int).SetString(bban+"131400", 10)
	if !ok {
		return ""
	}
	check := 98 - new(big.Int).Mod(n, big.NewInt(97)).Int64()
	return fmt.Sprintf("DE%02d%s", check, bban)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func mt940Balance(v string) (model.Balance, error) {
	m := mt940BalanceRE.FindStringSubmatch(strings.ReplaceAll(v, " ", ""))
	if m == nil {
		return model.Balance{}, fmt.Errorf("malformed balance %q", v)
	}
	date, err := time.Parse("060102", m[2])
	if err != nil {
		return model.Balance{}, fmt.Errorf("balance date: %w", err)
	}
	amount, err := mt940Amount(m[4])
	if err != nil {
		return model.Balance{}, err
	}
	if m[1] == "D" {
		amount = amount.Neg()
	}
	return model.Balance{Date: locale.Date(date), Amount: amount}, nil
}

func mt940Amount(s string) (decimal.Decimal, error) {
	return locale.ParseAmountWith(s, model.Convention{DecimalSep: ","})
}

// mt940Entry decodes a ":61:" statement line. The first date is the value
// date; the optional MMDD that follows is the booking date.
func mt940Entry(v string) (model.StatementTransaction, error) {
	var txn model.StatementTransaction
	m := mt940EntryRE.FindStringSubmatch(v)
	if m == nil {
		return txn, fmt.Errorf("malformed :61: line %q", v)
	}
	value, err := time.Parse("060102", m[1])
	if err != nil {
		return txn, fmt.Errorf("value date: %w", err)
	}
	value = locale.Date(value)
	booking := value
	if m[2] != "" {
		booking, err = mt940BookingDate(value, m[2])
		if err != nil {
			return txn, err
		}
	}
	amount, err := mt940Amount(m[5])
	if err != nil {
		return txn, err
	}
	// RC reverses a credit, RD a debit.
	if m[3] == "D" || m[3] == "RC" {
		amount = amount.Neg()
	}
	txn.BookingDate = booking
	txn.ValueDate = datePtr(value)
	txn.Amount = amount
	if rest := strings.TrimSpace(m[6]); rest != "" {
		txn.Description = rest
	}
	return txn, nil
}

// mt940BookingDate places MMDD in the year closest to the value date.
func mt940BookingDate(value time.Time, mmdd string) (time.Time, error) {
	t, err := time.Parse("0102", mmdd)
	if err != nil {
		return time.Time{}, fmt.Errorf("booking date: %w", err)
	}
	best := time.Time{}
	for _, y := range []int{value.Year() - 1, value.Year(), value.Year() + 1} {
		c := time.Date(y, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		if best.IsZero() || absDuration(c.Sub(value)) < absDuration(best.Sub(value)) {
			best = c
		}
	}
	return best, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// mt940Details fills description and counterparty from ":86:". Structured
// content is "GVC" + "?NN" subfields; anything else is free text.
func mt940Details(txn *model.StatementTransaction, v string) {
	locs := mt940SubRE.FindAllStringSubmatchIndex(v, -1)
	if len(locs) == 0 || locs[0][0] > 3 {
		txn.Description = locale.CleanDescription(txn.Description, v)
		return
	}

	var posting, name string
	var purpose []string
	for i, loc := range locs {
		end := len(v)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		code := v[loc[2]:loc[3]]
		val := strings.TrimSpace(v[loc[1]:end])
		switch {
		case code == "00":
			posting = val
		case code >= "20" && code <= "29", code >= "60" && code <= "63":
			purpose = append(purpose, val)
		case code == "31":
			txn.CounterpartyIBAN = locale.CompactIBAN(val)
		case code == "32", code == "33":
			name += val
		}
	}
	txn.CounterpartyName = locale.CleanDescription(name)
	txn.Description = locale.CleanDescription(append([]string{posting}, purpose...)...)
}
