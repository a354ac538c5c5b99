package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// WarningKind classifies non-fatal findings reported in a run summary.
type WarningKind string

const (
	WarnAccountUnknown WarningKind = "account-unknown"
	WarnBalanceDrift   WarningKind = "balance-drift"
)

// Warning is a non-fatal finding.
type Warning struct {
	Kind    WarningKind
	Message string
}

// DriftWarning reports a computed balance that disagrees with an anchor.
type DriftWarning struct {
	AccountID int64
	Account   string
	Date      time.Time
	Expected  decimal.Decimal
	Computed  decimal.Decimal
	Delta     decimal.Decimal // Computed - Expected
}

func (d DriftWarning) String() string {
	return fmt.Sprintf("balance drift on %s at %s: expected %s, computed %s, delta %s",
		d.Account, d.Date.Format("2006-01-02"),
		d.Expected.StringFixed(2), d.Computed.StringFixed(2), d.Delta.StringFixed(2))
}

// Warning converts the drift into a summary warning.
func (d DriftWarning) Warning() Warning {
	return Warning{Kind: WarnBalanceDrift, Message: d.String()}
}
