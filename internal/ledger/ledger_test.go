package ledger

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/auszug/internal/clock"
	"github.com/cleared-dev/auszug/internal/model"
)

const (
	testIBAN  = "DE58743500000001234567"
	otherIBAN = "DE40700202700012345678"
)

var runClock = clock.Fixed{T: time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)}

func openTestStore(t *testing.T, batchSize int) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"), Options{
		BatchSize: batchSize,
		Clock:     runClock,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func day(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC)
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func septemberStatement() *model.Statement {
	return &model.Statement{
		Institution: "sparkasse",
		IBAN:        testIBAN,
		Closing:     &model.Balance{Date: day(9, 30), Amount: amt("12345.67")},
		Transactions: []model.StatementTransaction{
			{BookingDate: day(9, 4), Amount: amt("-1234.56"), Description: "MIETE SEPT", Line: 7},
		},
		SourceFile: "Konto_0001234567_2025-09.pdf",
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x", Options{})
	assert.ErrorContains(t, err, "unsupported ledger driver")
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(context.Background(), DriverSQLite, path, Options{Clock: runClock})
	require.NoError(t, err)
	_, err = s.MergeStatement(context.Background(), septemberStatement(), "run-1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), DriverSQLite, path, Options{Clock: runClock})
	require.NoError(t, err)
	defer s.Close()
	accts, err := s.Accounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, accts, 1)
}

func TestUpsertAccount(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)
	cl := amt("-250000")

	acct, created, err := s.UpsertAccount(ctx, AccountParams{
		Institution: "sparkasse", IBAN: "DE58 7435 0000 0001 2345 67", DisplayName: "Betriebskonto",
		CreditLine: &cl, Roles: []model.Role{model.RoleOperational}, Active: true,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, testIBAN, acct.IBAN)
	assert.Equal(t, "-250000.00", acct.CreditLine.StringFixed(2))
	assert.Equal(t, []model.Role{model.RoleOperational}, acct.Roles)

	// Matched by IBAN: mutable fields change, a missing legacy number is
	// filled in.
	updated, created, err := s.UpsertAccount(ctx, AccountParams{
		Institution: "sparkasse", IBAN: testIBAN, LegacyNumber: "1234567", DisplayName: "Hauptkonto",
		Roles: []model.Role{model.RoleOperational, model.RoleGuarantor}, Active: false,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, acct.ID, updated.ID)
	assert.Equal(t, "Hauptkonto", updated.DisplayName)
	assert.Equal(t, "1234567", updated.LegacyNumber)
	assert.Nil(t, updated.CreditLine)
	assert.False(t, updated.Active)

	// Matched by legacy number: IBAN is never reassigned.
	again, created, err := s.UpsertAccount(ctx, AccountParams{
		Institution: "sparkasse", IBAN: otherIBAN, LegacyNumber: "1234567", DisplayName: "x", Active: true,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, acct.ID, again.ID)
	assert.Equal(t, testIBAN, again.IBAN)

	_, _, err = s.UpsertAccount(ctx, AccountParams{Institution: "hvb", DisplayName: "anonymous"})
	assert.ErrorContains(t, err, "iban or legacy number required")
}

func TestMergeStatement_ProvisionalAccount(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)

	res, err := s.MergeStatement(ctx, septemberStatement(), "run-1")
	require.NoError(t, err)
	assert.True(t, res.AccountCreated)

	acct, err := s.AccountByID(ctx, res.AccountID)
	require.NoError(t, err)
	assert.True(t, acct.Provisional)
	assert.Equal(t, testIBAN, acct.DisplayName)

	// The seed file promotes it.
	promoted, created, err := s.UpsertAccount(ctx, AccountParams{
		Institution: "sparkasse", IBAN: testIBAN, DisplayName: "Betriebskonto", Active: true,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, res.AccountID, promoted.ID)
	assert.False(t, promoted.Provisional)
}

func TestMergeStatement_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)

	first, err := s.MergeStatement(ctx, septemberStatement(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.Counters{Inserted: 1}, first.Counters)
	assert.Equal(t, 1, first.Snapshots)

	second, err := s.MergeStatement(ctx, septemberStatement(), "run-2")
	require.NoError(t, err)
	assert.False(t, second.AccountCreated)
	assert.Equal(t, model.Counters{Duplicates: 1}, second.Counters)
	assert.Equal(t, 0, second.Snapshots)
	assert.Equal(t, 1, second.SnapshotDuplicates)

	rows, err := s.TransactionsByFingerprint(ctx, Fingerprint{
		AccountID:   first.AccountID,
		BookingDate: day(9, 4),
		AmountCents: -123456,
		Description: "MIETE SEPT",
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "run-1", rows[0].RunID)
	assert.True(t, amt("-1234.56").Equal(rows[0].Amount))

	bals, err := s.Balances(ctx, first.AccountID)
	require.NoError(t, err)
	require.Len(t, bals, 1)
	assert.Equal(t, day(9, 30), bals[0].Date)
	assert.Equal(t, "12345.67", bals[0].Amount.StringFixed(2))
	assert.Equal(t, model.SourceParsed, bals[0].SourceKind)
}

func TestMergeStatement_ReformattedDescriptionIsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)

	_, err := s.MergeStatement(ctx, septemberStatement(), "run-1")
	require.NoError(t, err)

	st := septemberStatement()
	st.Transactions[0].Description = "  miete   sept "
	res, err := s.MergeStatement(ctx, st, "run-2")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counters.Duplicates)

	st.Transactions[0].Description = "MIETE OKT"
	res, err = s.MergeStatement(ctx, st, "run-3")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counters.Inserted)
}

func TestMergeStatement_FillIn(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)

	_, err := s.MergeStatement(ctx, septemberStatement(), "run-1")
	require.NoError(t, err)

	vd := day(9, 5)
	rb := amt("12345.67")
	st := septemberStatement()
	st.Transactions[0].ValueDate = &vd
	st.Transactions[0].CounterpartyName = "Hausverwaltung"
	st.Transactions[0].RunningBalance = &rb

	res, err := s.MergeStatement(ctx, st, "run-2")
	require.NoError(t, err)
	assert.Equal(t, model.Counters{Updated: 1}, res.Counters)

	// Nothing left to fill.
	res, err = s.MergeStatement(ctx, st, "run-3")
	require.NoError(t, err)
	assert.Equal(t, model.Counters{Duplicates: 1}, res.Counters)

	latest, err := s.LatestTransaction(ctx, res.AccountID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.NotNil(t, latest.ValueDate)
	assert.Equal(t, vd, *latest.ValueDate)
	assert.Equal(t, "Hausverwaltung", latest.CounterpartyName)
	assert.Equal(t, "12345.67", latest.RunningBalance.StringFixed(2))
	assert.Equal(t, "run-1", latest.RunID)
}

func TestMergeStatement_RejectsInvalidRows(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)

	farValue := day(10, 20)
	st := &model.Statement{
		Institution: "sparkasse",
		IBAN:        testIBAN,
		Transactions: []model.StatementTransaction{
			{BookingDate: day(9, 1), Amount: amt("10.00"), Description: "OK"},
			{BookingDate: day(12, 24), Amount: amt("10.00"), Description: "FUTURE", Line: 3},
			{BookingDate: day(9, 2), ValueDate: &farValue, Amount: amt("10.00"), Description: "SKEW", Line: 4},
			{BookingDate: day(9, 3), Amount: amt("0.001"), Description: "SUBCENT", Line: 5},
		},
	}
	res, err := s.MergeStatement(ctx, st, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.Counters{Inserted: 1, Errored: 3}, res.Counters)
	require.Len(t, res.Rejected, 3)
	assert.Equal(t, RuleFutureBooking, res.Rejected[0].Rule)
	assert.Equal(t, RuleValueDateSkew, res.Rejected[1].Rule)
	assert.Equal(t, RuleSubCentAmount, res.Rejected[2].Rule)
}

func TestMergeStatement_Batches(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 2)

	st := &model.Statement{Institution: "hvb", IBAN: otherIBAN}
	for i := 1; i <= 5; i++ {
		st.Transactions = append(st.Transactions, model.StatementTransaction{
			BookingDate: day(11, i), Amount: decimal.NewFromInt(int64(i)), Description: "ROW",
		})
	}
	res, err := s.MergeStatement(ctx, st, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 5, res.Counters.Inserted)

	txs, err := s.TransactionsInRange(ctx, res.AccountID, day(11, 2), day(11, 4))
	require.NoError(t, err)
	require.Len(t, txs, 3)
	for i, tx := range txs {
		assert.Equal(t, day(11, i+2), tx.BookingDate)
	}

	all, err := s.TransactionsInRange(ctx, res.AccountID, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestMergeStatement_SameDayKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)

	st := &model.Statement{Institution: "hvb", IBAN: otherIBAN, Transactions: []model.StatementTransaction{
		{BookingDate: day(11, 3), Amount: amt("3.00"), Description: "C"},
		{BookingDate: day(11, 3), Amount: amt("1.00"), Description: "A"},
		{BookingDate: day(11, 3), Amount: amt("2.00"), Description: "B"},
	}}
	res, err := s.MergeStatement(ctx, st, "run-1")
	require.NoError(t, err)

	txs, err := s.TransactionsInRange(ctx, res.AccountID, time.Time{}, time.Time{})
	require.NoError(t, err)
	var got []string
	for _, tx := range txs {
		got = append(got, tx.Description)
	}
	assert.Equal(t, []string{"C", "A", "B"}, got)

	latest, err := s.LatestTransaction(ctx, res.AccountID)
	require.NoError(t, err)
	assert.Equal(t, "B", latest.Description)
}

func TestMergeStatement_Cancelled(t *testing.T) {
	s := openTestStore(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.MergeStatement(ctx, septemberStatement(), "run-1")
	assert.Error(t, err)
}

func TestLatestTransaction_None(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)
	acct, _, err := s.UpsertAccount(ctx, AccountParams{Institution: "hvb", IBAN: otherIBAN, Active: true})
	require.NoError(t, err)

	latest, err := s.LatestTransaction(ctx, acct.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestRecordBalance(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)
	res, err := s.MergeStatement(ctx, septemberStatement(), "run-1")
	require.NoError(t, err)

	snap := model.BalanceSnapshot{
		AccountID: res.AccountID, Date: day(9, 30), Amount: amt("1.00"), SourceKind: model.SourceReconstructed,
	}
	require.NoError(t, s.RecordBalance(ctx, snap))
	snap.Amount = amt("2.00")
	require.NoError(t, s.RecordBalance(ctx, snap))

	recon, err := s.Balances(ctx, res.AccountID, model.SourceReconstructed)
	require.NoError(t, err)
	require.Len(t, recon, 1)
	assert.Equal(t, "2.00", recon[0].Amount.StringFixed(2))

	all, err := s.Balances(ctx, res.AccountID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	snap.SourceKind = "guessed"
	assert.ErrorContains(t, s.RecordBalance(ctx, snap), "unknown source kind")
}

func TestFindAccount(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)
	acct, _, err := s.UpsertAccount(ctx, AccountParams{
		Institution: "sparkasse", IBAN: testIBAN, LegacyNumber: "1234567", Active: true,
	})
	require.NoError(t, err)

	for _, ref := range []string{"DE58 7435 0000 0001 2345 67", "1234567"} {
		got, err := s.FindAccount(ctx, ref)
		require.NoError(t, err, ref)
		assert.Equal(t, acct.ID, got.ID, ref)
	}

	got, err := s.FindAccount(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)

	_, err = s.FindAccount(ctx, "DE40700202700012345678")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = s.FindAccount(ctx, "999")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)

	run := &model.ImportRun{ID: "20251201T090000-aaaa", StartedAt: runClock.T}
	require.NoError(t, s.StartRun(ctx, run))
	assert.Equal(t, model.RunRunning, run.Status)
	assert.ErrorContains(t, s.StartRun(ctx, run), "already exists")

	require.NoError(t, s.RecordFile(ctx, run.ID, model.FileResult{
		Path: "a.pdf", Institution: "sparkasse", Outcome: model.OutcomeIngested,
		Counters: model.Counters{Inserted: 2}, Snapshots: 1,
	}))
	require.NoError(t, s.RecordFile(ctx, run.ID, model.FileResult{
		Path: "b.pdf", Outcome: model.OutcomeUnrecognized, Message: "no parser",
	}))

	run.Status = model.RunPartiallyFailed
	run.Counters = model.Counters{Inserted: 2}
	require.NoError(t, s.FinishRun(ctx, run))

	later := &model.ImportRun{ID: "20251201T100000-bbbb", StartedAt: runClock.T.Add(time.Hour), DryRun: true}
	require.NoError(t, s.StartRun(ctx, later))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, later.ID, runs[0].ID)
	assert.True(t, runs[0].DryRun)
	assert.Nil(t, runs[0].FinishedAt)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunPartiallyFailed, got.Status)
	assert.Equal(t, 2, got.Counters.Inserted)
	require.NotNil(t, got.FinishedAt)
	require.Len(t, got.Files, 2)
	assert.Equal(t, model.OutcomeUnrecognized, got.Files[1].Outcome)
	assert.Equal(t, "no parser", got.Files[1].Message)

	_, err = s.GetRun(ctx, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRebind(t *testing.T) {
	s := &Store{driver: DriverPostgres}
	assert.Equal(t, "a = $1 AND b = $2", s.rebind("a = ? AND b = ?"))
	s.driver = DriverSQLite
	assert.Equal(t, "a = ?", s.rebind("a = ?"))
}

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Miete   Sept ", "MIETE SEPT"},
		{"SEPA-Überweisung an Müller", "SEPA-BERWEISUNG AN MLLER"},
		{"Ref: 12/34, Kd.Nr. 5", "REF: 12/34, KD.NR. 5"},
		{"Lastschrift\t(EREF+123)", "LASTSCHRIFT EREF123"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeDescription(tt.in), tt.in)
	}

	long := NormalizeDescription(strings.Repeat("AB ", 100))
	assert.Len(t, long, MaxNormalizedDescription)
}

func TestValidateTransaction(t *testing.T) {
	now := runClock.T
	vd := day(9, 18)
	ok := model.StatementTransaction{BookingDate: day(9, 4), ValueDate: &vd, Amount: amt("1.00")}
	assert.Empty(t, ValidateTransaction(ok, now))

	today := model.StatementTransaction{BookingDate: day(12, 1), Amount: amt("1.00")}
	assert.Empty(t, ValidateTransaction(today, now))

	errs := ValidateTransaction(model.StatementTransaction{Amount: amt("1.00"), Line: 9}, now)
	require.Len(t, errs, 1)
	assert.Equal(t, RuleMissingBooking, errs[0].Rule)
	assert.Equal(t, "missing-booking-date [line 9]: booking date is missing", errs[0].Error())
}
