package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceKind says where a balance snapshot came from.
type SourceKind string

const (
	SourceParsed        SourceKind = "parsed-from-statement"
	SourceReconstructed SourceKind = "reconstructed-from-transactions"
	SourceManual        SourceKind = "manually-entered"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceParsed, SourceReconstructed, SourceManual:
		return true
	}
	return false
}

// Transaction is one ledger row.
type Transaction struct {
	ID               int64
	AccountID        int64
	BookingDate      time.Time
	ValueDate        *time.Time
	Amount           decimal.Decimal // exactly two fractional digits
	Description      string
	CounterpartyName string
	CounterpartyIBAN string
	RunningBalance   *decimal.Decimal
	SourceFile       string
	RunID            string
	ImportedAt       time.Time
}

// BalanceSnapshot is a closing balance of an account on a date.
type BalanceSnapshot struct {
	ID         int64
	AccountID  int64
	Date       time.Time
	Amount     decimal.Decimal
	SourceKind SourceKind
	SourceFile string
	RunID      string
	RecordedAt time.Time
}
