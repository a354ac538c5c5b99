package reconstruct

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/auszug/internal/clock"
	"github.com/cleared-dev/auszug/internal/ledger"
	"github.com/cleared-dev/auszug/internal/model"
)

const accountIBAN = "DE02120300000000202051"

type fakeSource struct {
	snaps []model.BalanceSnapshot
	txs   []model.Transaction
}

func (f *fakeSource) Balances(_ context.Context, _ int64, kinds ...model.SourceKind) ([]model.BalanceSnapshot, error) {
	var out []model.BalanceSnapshot
	for _, s := range f.snaps {
		for _, k := range kinds {
			if s.SourceKind == k {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (f *fakeSource) TransactionsInRange(_ context.Context, _ int64, from, _ time.Time) ([]model.Transaction, error) {
	var out []model.Transaction
	for _, t := range f.txs {
		if !t.BookingDate.Before(from) {
			out = append(out, t)
		}
	}
	return out, nil
}

type recorderFunc func(model.BalanceSnapshot) error

func (f recorderFunc) RecordBalance(_ context.Context, s model.BalanceSnapshot) error { return f(s) }

func day(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC)
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func snap(date time.Time, amount string, kind model.SourceKind) model.BalanceSnapshot {
	return model.BalanceSnapshot{Date: date, Amount: amt(amount), SourceKind: kind}
}

func tx(date time.Time, amount string) model.Transaction {
	return model.Transaction{BookingDate: date, Amount: amt(amount)}
}

func TestRun_NoAnchor(t *testing.T) {
	r := New(&fakeSource{txs: []model.Transaction{tx(day(11, 1), "1.00")}}, decimal.Zero)
	_, err := r.Run(context.Background(), model.Account{ID: 1, IBAN: accountIBAN})
	assert.ErrorIs(t, err, ErrNoAnchor)
	assert.ErrorContains(t, err, accountIBAN)
}

func TestRun_Consistent(t *testing.T) {
	src := &fakeSource{
		snaps: []model.BalanceSnapshot{
			snap(day(10, 31), "10000.00", model.SourceParsed),
			snap(day(11, 30), "10500.00", model.SourceParsed),
		},
		txs: []model.Transaction{
			tx(day(10, 31), "999.00"), // already part of the opening anchor
			tx(day(11, 3), "200.00"),
			tx(day(11, 3), "-50.00"),
			tx(day(11, 20), "350.00"),
		},
	}
	series, err := New(src, decimal.Zero).Run(context.Background(), model.Account{ID: 1, IBAN: accountIBAN})
	require.NoError(t, err)
	assert.Empty(t, series.Drift)

	require.Len(t, series.Points, 4)
	assert.Equal(t, day(10, 31), series.Points[0].Date)
	assert.Equal(t, "10150.00", series.Points[1].Balance.StringFixed(2))
	assert.Equal(t, 2, series.Points[1].Transactions)
	assert.Equal(t, "10500.00", series.Points[2].Balance.StringFixed(2))
	assert.Nil(t, series.Points[2].Anchor)
	last := series.Points[3]
	assert.Equal(t, day(11, 30), last.Date)
	require.NotNil(t, last.Anchor)
	assert.Equal(t, 0, last.Transactions)
}

func TestRun_ToleranceBoundary(t *testing.T) {
	src := &fakeSource{
		snaps: []model.BalanceSnapshot{
			snap(day(10, 31), "100.00", model.SourceParsed),
			snap(day(11, 30), "100.01", model.SourceParsed),
			snap(day(12, 31), "100.03", model.SourceParsed),
		},
	}
	series, err := New(src, decimal.Zero).Run(context.Background(), model.Account{ID: 1})
	require.NoError(t, err)
	// 0.01 is within tolerance; the December gap of 0.02 is not, judged
	// from the November anchor.
	require.Len(t, series.Drift, 1)
	assert.Equal(t, day(12, 31), series.Drift[0].Date)
	assert.Equal(t, "-0.02", series.Drift[0].Delta.StringFixed(2))
}

func TestRun_OnlyParsedBalancesAnchor(t *testing.T) {
	src := &fakeSource{
		snaps: []model.BalanceSnapshot{
			snap(day(10, 31), "1.00", model.SourceManual),
			snap(day(10, 31), "5.00", model.SourceParsed),
			snap(day(11, 30), "9.00", model.SourceManual),
			snap(day(11, 15), "0.00", model.SourceReconstructed),
		},
	}
	series, err := New(src, decimal.Zero).Run(context.Background(), model.Account{ID: 1})
	require.NoError(t, err)
	assert.Empty(t, series.Drift)
	require.Len(t, series.Points, 1)
	assert.Equal(t, day(10, 31), series.Points[0].Date)
	assert.Equal(t, "5.00", series.Points[0].Balance.StringFixed(2))
}

func TestRun_ManualOnlyHasNoAnchor(t *testing.T) {
	src := &fakeSource{
		snaps: []model.BalanceSnapshot{
			snap(day(10, 31), "1.00", model.SourceManual),
		},
		txs: []model.Transaction{tx(day(11, 3), "2.00")},
	}
	_, err := New(src, decimal.Zero).Run(context.Background(), model.Account{ID: 1})
	assert.ErrorIs(t, err, ErrNoAnchor)
}

func TestRecord(t *testing.T) {
	s := &Series{
		Account: model.Account{ID: 7},
		Points: []Point{
			{Date: day(10, 31), Balance: amt("1.00")},
			{Date: day(11, 3), Balance: amt("2.00"), Transactions: 1},
		},
	}
	var got []model.BalanceSnapshot
	n, err := Record(context.Background(), recorderFunc(func(b model.BalanceSnapshot) error {
		got = append(got, b)
		return nil
	}), s, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, got, 1)
	assert.Equal(t, model.SourceReconstructed, got[0].SourceKind)
	assert.Equal(t, int64(7), got[0].AccountID)

	_, err = Record(context.Background(), recorderFunc(func(model.BalanceSnapshot) error { return assert.AnError }), s, "")
	assert.ErrorIs(t, err, assert.AnError)
}

// The ledger holds a parsed snapshot of 10000.00 for 2025-10-31. A November
// statement adds +500.00 but claims a closing balance of 10600.00.
func TestRun_DriftAgainstLedger(t *testing.T) {
	ctx := context.Background()
	store, err := ledger.Open(ctx, ledger.DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"), ledger.Options{
		Clock: clock.Fixed{T: day(12, 1)},
	})
	require.NoError(t, err)
	defer store.Close()

	acct, _, err := store.UpsertAccount(ctx, ledger.AccountParams{Institution: "hvb", IBAN: accountIBAN, Active: true})
	require.NoError(t, err)
	require.NoError(t, store.RecordBalance(ctx, model.BalanceSnapshot{
		AccountID: acct.ID, Date: day(10, 31), Amount: amt("10000.00"), SourceKind: model.SourceParsed,
	}))

	_, err = store.MergeStatement(ctx, &model.Statement{
		Institution: "hvb",
		IBAN:        accountIBAN,
		Closing:     &model.Balance{Date: day(11, 30), Amount: amt("10600.00")},
		Transactions: []model.StatementTransaction{
			{BookingDate: day(11, 1), Amount: amt("300.00"), Description: "EINGANG A"},
			{BookingDate: day(11, 15), Amount: amt("-100.00"), Description: "AUSGANG"},
			{BookingDate: day(11, 30), Amount: amt("300.00"), Description: "EINGANG B"},
		},
	}, "run-1")
	require.NoError(t, err)

	series, err := New(store, decimal.Zero).Run(ctx, acct)
	require.NoError(t, err)
	require.Len(t, series.Drift, 1)
	dw := series.Drift[0]
	assert.Equal(t, day(11, 30), dw.Date)
	assert.Equal(t, "10600.00", dw.Expected.StringFixed(2))
	assert.Equal(t, "10500.00", dw.Computed.StringFixed(2))
	assert.Equal(t, "-100.00", dw.Delta.StringFixed(2))

	n, err := Record(ctx, store, series, "run-2")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	recon, err := store.Balances(ctx, acct.ID, model.SourceReconstructed)
	require.NoError(t, err)
	assert.Len(t, recon, 3)
}
