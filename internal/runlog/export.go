package runlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/cleared-dev/auszug/internal/model"
)

// ExportHeader is the CSV header of a statement export.
const ExportHeader = "source_file,institution,iban,legacy_number,booking_date,value_date,amount,description,counterparty_name,counterparty_iban,running_balance"

const dateFormat = "2006-01-02"

// Exporter writes parsed statement rows as CSV. Amounts use a decimal point
// and two fractional digits.
type Exporter struct {
	cw     *csv.Writer
	header bool
	rows   int
}

// NewExporter returns an Exporter writing to w.
func NewExporter(w io.Writer) *Exporter {
	return &Exporter{cw: csv.NewWriter(w)}
}

// Write appends all transactions of st.
func (e *Exporter) Write(st *model.Statement) error {
	if !e.header {
		if err := e.cw.Write(strings.Split(ExportHeader, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
		e.header = true
	}
	for _, tx := range st.Transactions {
		row := []string{
			st.SourceFile,
			st.Institution,
			st.IBAN,
			st.LegacyNumber,
			tx.BookingDate.Format(dateFormat),
			"",
			tx.Amount.StringFixed(2),
			tx.Description,
			tx.CounterpartyName,
			tx.CounterpartyIBAN,
			"",
		}
		if tx.ValueDate != nil {
			row[5] = tx.ValueDate.Format(dateFormat)
		}
		if tx.RunningBalance != nil {
			row[10] = tx.RunningBalance.StringFixed(2)
		}
		if err := e.cw.Write(row); err != nil {
			return fmt.Errorf("writing row %d: %w", e.rows+2, err)
		}
		e.rows++
	}
	return nil
}

// Rows returns the number of transaction rows written.
func (e *Exporter) Rows() int {
	return e.rows
}

// Flush flushes buffered rows and reports any write error.
func (e *Exporter) Flush() error {
	e.cw.Flush()
	return e.cw.Error()
}
