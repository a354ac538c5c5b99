package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/auszug/internal/locale"
	"github.com/cleared-dev/auszug/internal/model"
)

// ErrAccountNotFound is returned by account lookups with no match.
var ErrAccountNotFound = errors.New("account not found")

// AccountParams are the inputs to UpsertAccount.
type AccountParams struct {
	Institution  string
	IBAN         string
	LegacyNumber string
	DisplayName  string
	CreditLine   *decimal.Decimal
	Roles        []model.Role
	Active       bool
}

// AccountParamsFrom converts a seed account.
func AccountParamsFrom(a model.Account) AccountParams {
	return AccountParams{
		Institution:  a.Institution,
		IBAN:         a.IBAN,
		LegacyNumber: a.LegacyNumber,
		DisplayName:  a.DisplayName,
		CreditLine:   a.CreditLine,
		Roles:        a.Roles,
		Active:       a.Active,
	}
}

const accountColumns = `id, institution, iban, legacy_number, display_name, credit_line_cents,
	roles, active, provisional, created_at, updated_at`

// UpsertAccount inserts an account unless one matches either identifier, in
// which case only the mutable fields (display name, credit line, roles,
// active) are updated and a provisional account is promoted. IBAN and legacy
// number are never reassigned, but a missing one is filled in.
func (s *Store) UpsertAccount(ctx context.Context, p AccountParams) (model.Account, bool, error) {
	p.IBAN = locale.CompactIBAN(p.IBAN)
	if p.IBAN == "" && p.LegacyNumber == "" {
		return model.Account{}, false, fmt.Errorf("upserting account %q: iban or legacy number required", p.DisplayName)
	}
	if p.DisplayName == "" {
		p.DisplayName = p.IBAN
		if p.DisplayName == "" {
			p.DisplayName = p.LegacyNumber
		}
	}
	var creditLine sql.NullInt64
	if p.CreditLine != nil {
		c, err := locale.ToCents(p.CreditLine.Abs().Neg())
		if err != nil {
			return model.Account{}, false, fmt.Errorf("upserting account %s: credit line: %w", p.DisplayName, err)
		}
		creditLine = sql.NullInt64{Int64: c, Valid: true}
	}
	roles := joinRoles(p.Roles)

	existing, err := s.findAccount(ctx, s.db, p.Institution, p.IBAN, p.LegacyNumber)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return model.Account{}, false, err
	}
	now := s.now()

	if err == nil {
		iban, legacy := existing.IBAN, existing.LegacyNumber
		if iban == "" {
			iban = p.IBAN
		}
		if legacy == "" {
			legacy = p.LegacyNumber
		}
		_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE accounts SET
			iban = ?, legacy_number = ?, display_name = ?, credit_line_cents = ?, roles = ?,
			active = ?, provisional = 0, updated_at = ?
			WHERE id = ?`),
			nullString(iban), nullString(legacy), p.DisplayName, creditLine, roles,
			boolInt(p.Active), now, existing.ID)
		if err != nil {
			return model.Account{}, false, fault("updating account", err)
		}
		acct, err := s.AccountByID(ctx, existing.ID)
		return acct, false, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, s.rebind(`INSERT INTO accounts
		(institution, iban, legacy_number, display_name, credit_line_cents, roles, active, provisional, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		RETURNING id`),
		p.Institution, nullString(p.IBAN), nullString(p.LegacyNumber), p.DisplayName, creditLine, roles,
		boolInt(p.Active), now, now).Scan(&id)
	if err != nil {
		return model.Account{}, false, fault("inserting account", err)
	}
	acct, err := s.AccountByID(ctx, id)
	return acct, true, err
}

// ResolveAccount returns the account a statement belongs to. Unknown
// accounts are inserted as provisional; created reports that case.
func (s *Store) ResolveAccount(ctx context.Context, st *model.Statement) (id int64, created bool, err error) {
	iban := locale.CompactIBAN(st.IBAN)
	key := cacheKey(st.Institution, iban, st.LegacyNumber)
	if v, ok := s.accounts.Get(key); ok {
		return v.(int64), false, nil
	}

	acct, err := s.findAccount(ctx, s.db, st.Institution, iban, st.LegacyNumber)
	switch {
	case err == nil:
		s.accounts.Set(key, acct.ID, cache.NoExpiration)
		return acct.ID, false, nil
	case !errors.Is(err, ErrAccountNotFound):
		return 0, false, err
	}

	if iban == "" && st.LegacyNumber == "" {
		return 0, false, fmt.Errorf("statement %s has no account identifier", st.SourceFile)
	}
	now := s.now()
	name := iban
	if name == "" {
		name = st.LegacyNumber
	}
	err = s.db.QueryRowContext(ctx, s.rebind(`INSERT INTO accounts
		(institution, iban, legacy_number, display_name, roles, active, provisional, created_at, updated_at)
		VALUES (?, ?, ?, ?, '', 1, 1, ?, ?)
		RETURNING id`),
		st.Institution, nullString(iban), nullString(st.LegacyNumber), name, now, now).Scan(&id)
	if isUniqueViolation(err) {
		// Another writer registered the account first.
		acct, err := s.findAccount(ctx, s.db, st.Institution, iban, st.LegacyNumber)
		if err != nil {
			return 0, false, err
		}
		s.accounts.Set(key, acct.ID, cache.NoExpiration)
		return acct.ID, false, nil
	}
	if err != nil {
		return 0, false, fault("inserting provisional account", err)
	}
	s.accounts.Set(key, id, cache.NoExpiration)
	return id, true, nil
}

// findAccount matches by IBAN first, then by legacy number at the
// institution.
func (s *Store) findAccount(ctx context.Context, q queryer, institution, iban, legacy string) (model.Account, error) {
	if iban != "" {
		acct, err := s.scanAccount(q.QueryRowContext(ctx, s.rebind(`SELECT `+accountColumns+` FROM accounts WHERE iban = ?`), iban))
		if !errors.Is(err, ErrAccountNotFound) {
			return acct, err
		}
	}
	if legacy != "" {
		return s.scanAccount(q.QueryRowContext(ctx, s.rebind(`SELECT `+accountColumns+` FROM accounts
			WHERE institution = ? AND legacy_number = ?`), institution, legacy))
	}
	return model.Account{}, ErrAccountNotFound
}

// AccountByID returns one account.
func (s *Store) AccountByID(ctx context.Context, id int64) (model.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`), id))
}

// FindAccount resolves an operator-supplied reference: a numeric ID, an IBAN
// (spaces allowed) or a legacy number.
func (s *Store) FindAccount(ctx context.Context, ref string) (model.Account, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		acct, err := s.AccountByID(ctx, id)
		if !errors.Is(err, ErrAccountNotFound) {
			return acct, err
		}
	}
	if iban := locale.CompactIBAN(ref); locale.ValidIBAN(iban) {
		return s.scanAccount(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+accountColumns+` FROM accounts WHERE iban = ?`), iban))
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+accountColumns+` FROM accounts WHERE legacy_number = ? ORDER BY id`), ref)
	if err != nil {
		return model.Account{}, fault("querying accounts", err)
	}
	accts, err := s.scanAccounts(rows)
	if err != nil {
		return model.Account{}, err
	}
	switch len(accts) {
	case 0:
		return model.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, ref)
	case 1:
		return accts[0], nil
	default:
		return model.Account{}, fmt.Errorf("legacy number %s is ambiguous across %d institutions", ref, len(accts))
	}
}

// Accounts lists all accounts ordered by ID.
func (s *Store) Accounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fault("querying accounts", err)
	}
	return s.scanAccounts(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanAccount(row rowScanner) (model.Account, error) {
	var (
		a                    model.Account
		iban, legacy         sql.NullString
		creditLine           sql.NullInt64
		roles                string
		active, provisional  int
		createdAt, updatedAt string
	)
	err := row.Scan(&a.ID, &a.Institution, &iban, &legacy, &a.DisplayName, &creditLine,
		&roles, &active, &provisional, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return model.Account{}, fault("scanning account", err)
	}
	a.IBAN = iban.String
	a.LegacyNumber = legacy.String
	if creditLine.Valid {
		cl := locale.FromCents(creditLine.Int64)
		a.CreditLine = &cl
	}
	a.Roles = splitRoles(roles)
	a.Active = active != 0
	a.Provisional = provisional != 0
	a.CreatedAt = parseStamp(createdAt)
	a.UpdatedAt = parseStamp(updatedAt)
	return a, nil
}

func (s *Store) scanAccounts(rows *sql.Rows) ([]model.Account, error) {
	defer rows.Close()
	var out []model.Account
	for rows.Next() {
		a, err := s.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("iterating accounts", err)
	}
	return out, nil
}

func cacheKey(institution, iban, legacy string) string {
	if iban != "" {
		return "iban:" + iban
	}
	return "legacy:" + institution + "/" + legacy
}

func joinRoles(roles []model.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ";")
}

func splitRoles(s string) []model.Role {
	var out []model.Role
	for _, r := range strings.Split(s, ";") {
		if r != "" {
			out = append(out, model.Role(r))
		}
	}
	return out
}
