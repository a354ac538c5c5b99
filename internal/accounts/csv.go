package accounts

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/auszug/internal/locale"
	"github.com/cleared-dev/auszug/internal/model"
)

const (
	numFields      = 7
	colIBAN        = 0
	colLegacy      = 1
	colName        = 2
	colInstitution = 3
	colCreditLine  = 4
	colRoles       = 5
	colActive      = 6
)

var header = []string{"iban", "legacy_number", "display_name", "institution", "credit_line", "roles", "active"}

// ReadAccounts reads an accounts seed file.
func ReadAccounts(r io.Reader) ([]model.Account, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading accounts CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	var accounts []model.Account
	for i, rec := range records[1:] {
		acct, err := UnmarshalAccount(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

// WriteAccounts writes an accounts seed file.
func WriteAccounts(w io.Writer, accounts []model.Account) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, acct := range accounts {
		if err := cw.Write(MarshalAccount(acct)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	return cw.Error()
}

// MarshalAccount converts an Account to a CSV row.
func MarshalAccount(acct model.Account) []string {
	row := make([]string, numFields)
	row[colIBAN] = acct.IBAN
	row[colLegacy] = acct.LegacyNumber
	row[colName] = acct.DisplayName
	row[colInstitution] = acct.Institution
	if acct.CreditLine != nil {
		row[colCreditLine] = acct.CreditLine.StringFixed(2)
	}
	roles := make([]string, len(acct.Roles))
	for i, r := range acct.Roles {
		roles[i] = string(r)
	}
	row[colRoles] = strings.Join(roles, ";")
	row[colActive] = strconv.FormatBool(acct.Active)
	return row
}

// UnmarshalAccount converts a CSV row to an Account. A positive credit line
// is stored negated; an empty active column means active.
func UnmarshalAccount(record []string) (model.Account, error) {
	if len(record) != numFields {
		return model.Account{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	acct := model.Account{
		IBAN:         locale.CompactIBAN(record[colIBAN]),
		LegacyNumber: strings.TrimSpace(record[colLegacy]),
		DisplayName:  strings.TrimSpace(record[colName]),
		Institution:  strings.TrimSpace(record[colInstitution]),
		Active:       true,
	}
	if acct.IBAN == "" && acct.LegacyNumber == "" {
		return model.Account{}, fmt.Errorf("account %q has neither iban nor legacy_number", acct.DisplayName)
	}
	if acct.IBAN != "" && !locale.ValidIBAN(acct.IBAN) {
		return model.Account{}, fmt.Errorf("invalid iban %q", record[colIBAN])
	}
	if acct.Institution == "" {
		return model.Account{}, fmt.Errorf("account %s has no institution", acct.Label())
	}

	if s := strings.TrimSpace(record[colCreditLine]); s != "" {
		cl, err := parseCreditLine(s)
		if err != nil {
			return model.Account{}, fmt.Errorf("parsing credit_line %q: %w", s, err)
		}
		acct.CreditLine = &cl
	}

	for _, r := range strings.Split(record[colRoles], ";") {
		if r = strings.TrimSpace(r); r != "" {
			acct.Roles = append(acct.Roles, model.Role(r))
		}
	}

	if s := strings.TrimSpace(record[colActive]); s != "" {
		active, err := strconv.ParseBool(s)
		if err != nil {
			return model.Account{}, fmt.Errorf("parsing active %q: %w", s, err)
		}
		acct.Active = active
	}
	return acct, nil
}

// parseCreditLine accepts "-50000.00" as well as the German "-50.000,00".
func parseCreditLine(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		if d, err = locale.ParseAmount(s); err != nil {
			return decimal.Zero, err
		}
	}
	if !locale.HasCents(d) {
		return decimal.Zero, fmt.Errorf("more than 2 decimal places")
	}
	return d.Abs().Neg(), nil
}
