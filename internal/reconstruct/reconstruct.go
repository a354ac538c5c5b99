// Package reconstruct rebuilds running balances from ledger transactions and
// checks them against the balances printed on statements.
package reconstruct

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/auszug/internal/model"
)

// DefaultTolerance is the largest difference between a computed balance and
// an anchor that is not reported as drift.
var DefaultTolerance = decimal.New(1, -2)

// ErrNoAnchor is returned for accounts without any anchor balance.
var ErrNoAnchor = errors.New("no anchor balance")

// Source is the ledger query surface the reconstructor needs.
type Source interface {
	Balances(ctx context.Context, accountID int64, kinds ...model.SourceKind) ([]model.BalanceSnapshot, error)
	TransactionsInRange(ctx context.Context, accountID int64, from, to time.Time) ([]model.Transaction, error)
}

// Recorder stores reconstructed snapshots.
type Recorder interface {
	RecordBalance(ctx context.Context, snap model.BalanceSnapshot) error
}

// Point is the end-of-day balance on one date.
type Point struct {
	Date         time.Time
	Balance      decimal.Decimal
	Transactions int
	// Anchor is the statement balance on this date, if any.
	Anchor *decimal.Decimal
}

// Series is the running balance of one account.
type Series struct {
	Account model.Account
	Points  []Point
	Drift   []model.DriftWarning
}

// Reconstructor computes running balances.
type Reconstructor struct {
	src       Source
	tolerance decimal.Decimal
}

// New returns a Reconstructor. A non-positive tolerance selects
// DefaultTolerance.
func New(src Source, tolerance decimal.Decimal) *Reconstructor {
	if !tolerance.IsPositive() {
		tolerance = DefaultTolerance
	}
	return &Reconstructor{src: src, tolerance: tolerance}
}

// Tolerance returns the drift threshold in use.
func (r *Reconstructor) Tolerance() decimal.Decimal {
	return r.tolerance
}

// Run walks the transactions of acct from its earliest anchor onward in
// (booking date, insertion order). At every later anchor the computed
// balance is compared with the anchor; a difference above the tolerance is
// reported as drift and the walk continues from the anchor amount, so each
// interval between two anchors is judged on its own.
//
// Only balances parsed from statements anchor the walk. Manually entered and
// previously reconstructed balances are ignored.
func (r *Reconstructor) Run(ctx context.Context, acct model.Account) (*Series, error) {
	snaps, err := r.src.Balances(ctx, acct.ID, model.SourceParsed)
	if err != nil {
		return nil, fmt.Errorf("loading anchors for %s: %w", acct.Label(), err)
	}
	anchors := anchorsByDate(snaps)
	if len(anchors) == 0 {
		return nil, fmt.Errorf("%w for account %s", ErrNoAnchor, acct.Label())
	}

	start := anchors[0]
	txs, err := r.src.TransactionsInRange(ctx, acct.ID, start.Date.AddDate(0, 0, 1), time.Time{})
	if err != nil {
		return nil, fmt.Errorf("loading transactions for %s: %w", acct.Label(), err)
	}

	series := &Series{Account: acct}
	balance := start.Amount
	series.Points = append(series.Points, Point{Date: start.Date, Balance: balance, Anchor: amountPtr(start.Amount)})

	next := 1
	ti := 0
	for ti < len(txs) || next < len(anchors) {
		// The next date to close is the earlier of the next transaction day
		// and the next anchor.
		var date time.Time
		switch {
		case ti >= len(txs):
			date = anchors[next].Date
		case next >= len(anchors) || txs[ti].BookingDate.Before(anchors[next].Date):
			date = txs[ti].BookingDate
		default:
			date = anchors[next].Date
		}

		p := Point{Date: date}
		for ti < len(txs) && txs[ti].BookingDate.Equal(date) {
			balance = balance.Add(txs[ti].Amount)
			p.Transactions++
			ti++
		}
		p.Balance = balance

		if next < len(anchors) && anchors[next].Date.Equal(date) {
			a := anchors[next]
			p.Anchor = amountPtr(a.Amount)
			delta := balance.Sub(a.Amount)
			if delta.Abs().GreaterThan(r.tolerance) {
				series.Drift = append(series.Drift, model.DriftWarning{
					AccountID: acct.ID,
					Account:   acct.Label(),
					Date:      date,
					Expected:  a.Amount,
					Computed:  balance,
					Delta:     delta,
				})
			}
			balance = a.Amount
			next++
		}
		series.Points = append(series.Points, p)
	}
	return series, nil
}

// Record stores every point of s that has transactions as a reconstructed
// snapshot. It returns the number stored.
func Record(ctx context.Context, rec Recorder, s *Series, runID string) (int, error) {
	n := 0
	for _, p := range s.Points {
		if p.Transactions == 0 {
			continue
		}
		err := rec.RecordBalance(ctx, model.BalanceSnapshot{
			AccountID:  s.Account.ID,
			Date:       p.Date,
			Amount:     p.Balance,
			SourceKind: model.SourceReconstructed,
			RunID:      runID,
		})
		if err != nil {
			return n, fmt.Errorf("recording balance for %s on %s: %w", s.Account.Label(), p.Date.Format("2006-01-02"), err)
		}
		n++
	}
	return n, nil
}

func anchorsByDate(snaps []model.BalanceSnapshot) []model.BalanceSnapshot {
	byDate := make(map[string]model.BalanceSnapshot, len(snaps))
	for _, s := range snaps {
		key := s.Date.Format("2006-01-02")
		if _, seen := byDate[key]; !seen {
			byDate[key] = s
		}
	}
	out := make([]model.BalanceSnapshot, 0, len(byDate))
	for _, s := range byDate {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func amountPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
