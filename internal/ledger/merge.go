package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cleared-dev/auszug/internal/locale"
	"github.com/cleared-dev/auszug/internal/model"
)

// MergeResult reports what MergeStatement did with one statement.
type MergeResult struct {
	AccountID      int64
	AccountCreated bool
	Counters       model.Counters
	// Snapshots counts parsed balances inserted; SnapshotDuplicates those
	// already present for the same account and date.
	Snapshots          int
	SnapshotDuplicates int
	Rejected           []ValidationError
}

// MergeStatement writes a parsed statement idempotently. Each transaction
// is keyed by its Fingerprint: a new fingerprint is inserted, a known one is
// a duplicate, unless the stored row lacks a value date, counterparty or
// running balance that this statement supplies, in which case the blanks
// are filled and the row counts as updated.
//
// Rows are committed in batches. A storage error aborts the statement and
// returns the counters of the batches already committed.
func (s *Store) MergeStatement(ctx context.Context, st *model.Statement, runID string) (MergeResult, error) {
	var res MergeResult

	accountID, created, err := s.ResolveAccount(ctx, st)
	if err != nil {
		return res, err
	}
	res.AccountID, res.AccountCreated = accountID, created

	now := s.clock.Now()
	var valid []model.StatementTransaction
	for _, tx := range st.Transactions {
		if verrs := ValidateTransaction(tx, now); len(verrs) > 0 {
			res.Rejected = append(res.Rejected, verrs...)
			res.Counters.Errored++
			s.log.Warn().Str("file", st.SourceFile).Int("line", tx.Line).
				Str("reason", verrs[0].Error()).Msg("transaction rejected")
			continue
		}
		valid = append(valid, tx)
	}

	for start := 0; start < len(valid); start += s.batchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := min(start+s.batchSize, len(valid))
		batch, err := s.mergeBatch(ctx, accountID, st.SourceFile, runID, valid[start:end])
		if err != nil {
			return res, err
		}
		res.Counters.Add(batch)
	}

	inserted, dups, err := s.mergeBalances(ctx, accountID, st, runID)
	if err != nil {
		return res, err
	}
	res.Snapshots, res.SnapshotDuplicates = inserted, dups
	return res, nil
}

func (s *Store) mergeBatch(ctx context.Context, accountID int64, sourceFile, runID string, txs []model.StatementTransaction) (model.Counters, error) {
	var c model.Counters
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return c, fault("beginning batch", err)
	}
	defer dbtx.Rollback() //nolint:errcheck

	importedAt := s.now()
	for _, tx := range txs {
		fp, row, err := s.transactionRow(accountID, tx)
		if err != nil {
			return model.Counters{}, err
		}
		result, err := dbtx.ExecContext(ctx, s.rebind(`INSERT INTO transactions
			(account_id, booking_date, value_date, amount_cents, description, normalized_description,
			 counterparty_name, counterparty_iban, running_balance_cents, source_file, run_id, imported_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`),
			accountID, row.bookingDate, row.valueDate, fp.AmountCents, tx.Description, fp.Description,
			tx.CounterpartyName, tx.CounterpartyIBAN, row.runningBalance, sourceFile, runID, importedAt)
		if err != nil {
			return model.Counters{}, fault("inserting transaction", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return model.Counters{}, fault("inserting transaction", err)
		}
		if n == 1 {
			c.Inserted++
			continue
		}

		filled, err := s.fillIn(ctx, dbtx, fp, row, tx)
		if err != nil {
			return model.Counters{}, err
		}
		if filled {
			c.Updated++
		} else {
			c.Duplicates++
		}
	}

	if err := dbtx.Commit(); err != nil {
		return model.Counters{}, fault("committing batch", err)
	}
	return c, nil
}

type txRow struct {
	bookingDate    string
	valueDate      sql.NullString
	runningBalance sql.NullInt64
}

func (s *Store) transactionRow(accountID int64, tx model.StatementTransaction) (Fingerprint, txRow, error) {
	cents, err := locale.ToCents(tx.Amount)
	if err != nil {
		return Fingerprint{}, txRow{}, fmt.Errorf("line %d: %w", tx.Line, err)
	}
	fp := Fingerprint{
		AccountID:   accountID,
		BookingDate: locale.Date(tx.BookingDate),
		AmountCents: cents,
		Description: NormalizeDescription(tx.Description),
	}
	row := txRow{bookingDate: formatDate(fp.BookingDate)}
	if tx.ValueDate != nil {
		row.valueDate = sql.NullString{String: formatDate(*tx.ValueDate), Valid: true}
	}
	if tx.RunningBalance != nil {
		rb, err := locale.ToCents(*tx.RunningBalance)
		if err != nil {
			return Fingerprint{}, txRow{}, fmt.Errorf("line %d: running balance: %w", tx.Line, err)
		}
		row.runningBalance = sql.NullInt64{Int64: rb, Valid: true}
	}
	return fp, row, nil
}

// fillIn completes blanks of the stored row matching fp. It reports whether
// anything changed.
func (s *Store) fillIn(ctx context.Context, q queryer, fp Fingerprint, row txRow, tx model.StatementTransaction) (bool, error) {
	var (
		id             int64
		valueDate      sql.NullString
		cpName, cpIBAN string
		runningBalance sql.NullInt64
	)
	err := q.QueryRowContext(ctx, s.rebind(`SELECT id, value_date, counterparty_name, counterparty_iban, running_balance_cents
		FROM transactions
		WHERE account_id = ? AND booking_date = ? AND amount_cents = ? AND normalized_description = ?`),
		fp.AccountID, formatDate(fp.BookingDate), fp.AmountCents, fp.Description).
		Scan(&id, &valueDate, &cpName, &cpIBAN, &runningBalance)
	if err != nil {
		return false, fault("reading duplicate transaction", err)
	}

	changed := false
	if !valueDate.Valid && row.valueDate.Valid {
		valueDate, changed = row.valueDate, true
	}
	if cpName == "" && tx.CounterpartyName != "" {
		cpName, changed = tx.CounterpartyName, true
	}
	if cpIBAN == "" && tx.CounterpartyIBAN != "" {
		cpIBAN, changed = tx.CounterpartyIBAN, true
	}
	if !runningBalance.Valid && row.runningBalance.Valid {
		runningBalance, changed = row.runningBalance, true
	}
	if !changed {
		return false, nil
	}

	_, err = q.ExecContext(ctx, s.rebind(`UPDATE transactions
		SET value_date = ?, counterparty_name = ?, counterparty_iban = ?, running_balance_cents = ?
		WHERE id = ?`),
		valueDate, cpName, cpIBAN, runningBalance, id)
	if err != nil {
		return false, fault("filling in transaction", err)
	}
	return true, nil
}

func (s *Store) mergeBalances(ctx context.Context, accountID int64, st *model.Statement, runID string) (inserted, dups int, err error) {
	balances := st.Balances()
	if len(balances) == 0 {
		return 0, 0, nil
	}
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fault("beginning balance batch", err)
	}
	defer dbtx.Rollback() //nolint:errcheck

	recordedAt := s.now()
	for _, b := range balances {
		cents, err := locale.ToCents(b.Amount)
		if err != nil {
			return 0, 0, fmt.Errorf("balance on %s: %w", formatDate(b.Date), err)
		}
		result, err := dbtx.ExecContext(ctx, s.rebind(`INSERT INTO balance_snapshots
			(account_id, snapshot_date, amount_cents, source_kind, source_file, run_id, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`),
			accountID, formatDate(b.Date), cents, string(model.SourceParsed), st.SourceFile, runID, recordedAt)
		if err != nil {
			return 0, 0, fault("inserting balance snapshot", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, 0, fault("inserting balance snapshot", err)
		}
		if n == 1 {
			inserted++
		} else {
			dups++
		}
	}
	if err := dbtx.Commit(); err != nil {
		return 0, 0, fault("committing balance batch", err)
	}
	return inserted, dups, nil
}

// RecordBalance inserts a snapshot, replacing an existing one of the same
// source kind on the same date.
func (s *Store) RecordBalance(ctx context.Context, snap model.BalanceSnapshot) error {
	if !snap.SourceKind.Valid() {
		return fmt.Errorf("recording balance: unknown source kind %q", snap.SourceKind)
	}
	cents, err := locale.ToCents(snap.Amount)
	if err != nil {
		return fmt.Errorf("recording balance: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO balance_snapshots
		(account_id, snapshot_date, amount_cents, source_kind, source_file, run_id, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, snapshot_date, source_kind) DO UPDATE SET
			amount_cents = excluded.amount_cents,
			source_file = excluded.source_file,
			run_id = excluded.run_id,
			recorded_at = excluded.recorded_at`),
		snap.AccountID, formatDate(snap.Date), cents, string(snap.SourceKind), snap.SourceFile, snap.RunID, s.now())
	if err != nil {
		return fault("recording balance", err)
	}
	return nil
}
