package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/cleared-dev/auszug/internal/locale"
	"github.com/cleared-dev/auszug/internal/model"
)

const transactionColumns = `id, account_id, booking_date, value_date, amount_cents, description,
	counterparty_name, counterparty_iban, running_balance_cents, source_file, run_id, imported_at`

// LatestTransaction returns the most recent transaction of an account by
// (booking date, insertion order), or nil when it has none.
func (s *Store) LatestTransaction(ctx context.Context, accountID int64) (*model.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+transactionColumns+` FROM transactions
		WHERE account_id = ?
		ORDER BY booking_date DESC, id DESC
		LIMIT 1`), accountID)
	if err != nil {
		return nil, fault("querying latest transaction", err)
	}
	txs, err := scanTransactions(rows)
	if err != nil || len(txs) == 0 {
		return nil, err
	}
	return &txs[0], nil
}

// TransactionsInRange returns the transactions of an account booked in
// [from, to], ordered by booking date and insertion order. A zero bound is
// open.
func (s *Store) TransactionsInRange(ctx context.Context, accountID int64, from, to time.Time) ([]model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE account_id = ?`
	args := []any{accountID}
	if !from.IsZero() {
		query += ` AND booking_date >= ?`
		args = append(args, formatDate(from))
	}
	if !to.IsZero() {
		query += ` AND booking_date <= ?`
		args = append(args, formatDate(to))
	}
	query += ` ORDER BY booking_date, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fault("querying transactions", err)
	}
	return scanTransactions(rows)
}

// TransactionsByFingerprint returns the rows matching fp. By construction
// there is at most one.
func (s *Store) TransactionsByFingerprint(ctx context.Context, fp Fingerprint) ([]model.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+transactionColumns+` FROM transactions
		WHERE account_id = ? AND booking_date = ? AND amount_cents = ? AND normalized_description = ?`),
		fp.AccountID, formatDate(fp.BookingDate), fp.AmountCents, fp.Description)
	if err != nil {
		return nil, fault("querying by fingerprint", err)
	}
	return scanTransactions(rows)
}

// Balances returns the snapshots of an account ordered by date, restricted
// to kinds when any are given.
func (s *Store) Balances(ctx context.Context, accountID int64, kinds ...model.SourceKind) ([]model.BalanceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, account_id, snapshot_date, amount_cents, source_kind,
		source_file, run_id, recorded_at
		FROM balance_snapshots
		WHERE account_id = ?
		ORDER BY snapshot_date, id`), accountID)
	if err != nil {
		return nil, fault("querying balances", err)
	}
	defer rows.Close()

	want := make(map[model.SourceKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}

	var out []model.BalanceSnapshot
	for rows.Next() {
		var (
			b                 model.BalanceSnapshot
			date, kind, stamp string
			cents             int64
		)
		if err := rows.Scan(&b.ID, &b.AccountID, &date, &cents, &kind, &b.SourceFile, &b.RunID, &stamp); err != nil {
			return nil, fault("scanning balance", err)
		}
		b.SourceKind = model.SourceKind(kind)
		if len(want) > 0 && !want[b.SourceKind] {
			continue
		}
		if b.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		b.Amount = locale.FromCents(cents)
		b.RecordedAt = parseStamp(stamp)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("iterating balances", err)
	}
	return out, nil
}

func scanTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	defer rows.Close()
	var out []model.Transaction
	for rows.Next() {
		var (
			t              model.Transaction
			booking, stamp string
			valueDate      sql.NullString
			cents          int64
			runningBalance sql.NullInt64
		)
		err := rows.Scan(&t.ID, &t.AccountID, &booking, &valueDate, &cents, &t.Description,
			&t.CounterpartyName, &t.CounterpartyIBAN, &runningBalance, &t.SourceFile, &t.RunID, &stamp)
		if err != nil {
			return nil, fault("scanning transaction", err)
		}
		if t.BookingDate, err = parseDate(booking); err != nil {
			return nil, err
		}
		if valueDate.Valid {
			vd, err := parseDate(valueDate.String)
			if err != nil {
				return nil, err
			}
			t.ValueDate = &vd
		}
		t.Amount = locale.FromCents(cents)
		if runningBalance.Valid {
			rb := locale.FromCents(runningBalance.Int64)
			t.RunningBalance = &rb
		}
		t.ImportedAt = parseStamp(stamp)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("iterating transactions", err)
	}
	return out, nil
}
