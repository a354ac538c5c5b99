// Package runlog keeps the append-only CSV audit trail of import runs and
// writes CSV exports of parsed statements.
package runlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cleared-dev/auszug/internal/model"
)

// Entry is one row in the import log: the outcome of one file in one run.
type Entry struct {
	Timestamp time.Time
	RunID     string
	File      model.FileResult
}

// Header is the CSV header for import-log.csv.
const Header = "timestamp,run_id,path,institution,outcome,inserted,duplicates,updated,errored,snapshots,row_errors,message"

// FileName is the log file created inside the log directory.
const FileName = "import-log.csv"

const (
	numFields      = 12
	colTimestamp   = 0
	colRunID       = 1
	colPath        = 2
	colInstitution = 3
	colOutcome     = 4
	colInserted    = 5
	colDuplicates  = 6
	colUpdated     = 7
	colErrored     = 8
	colSnapshots   = 9
	colRowErrors   = 10
	colMessage     = 11
)

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTimestamp] = e.Timestamp.UTC().Format(time.RFC3339)
	row[colRunID] = e.RunID
	row[colPath] = e.File.Path
	row[colInstitution] = e.File.Institution
	row[colOutcome] = string(e.File.Outcome)
	row[colInserted] = strconv.Itoa(e.File.Counters.Inserted)
	row[colDuplicates] = strconv.Itoa(e.File.Counters.Duplicates)
	row[colUpdated] = strconv.Itoa(e.File.Counters.Updated)
	row[colErrored] = strconv.Itoa(e.File.Counters.Errored)
	row[colSnapshots] = strconv.Itoa(e.File.Snapshots)
	row[colRowErrors] = strconv.Itoa(e.File.RowErrors)
	row[colMessage] = e.File.Message
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[colTimestamp])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}

	var counts [6]int
	for i, col := range []int{colInserted, colDuplicates, colUpdated, colErrored, colSnapshots, colRowErrors} {
		if counts[i], err = strconv.Atoi(record[col]); err != nil {
			return Entry{}, fmt.Errorf("parsing count %q: %w", record[col], err)
		}
	}

	return Entry{
		Timestamp: ts,
		RunID:     record[colRunID],
		File: model.FileResult{
			Path:        record[colPath],
			Institution: record[colInstitution],
			Outcome:     model.FileOutcome(record[colOutcome]),
			Counters: model.Counters{
				Inserted:   counts[0],
				Duplicates: counts[1],
				Updated:    counts[2],
				Errored:    counts[3],
			},
			Snapshots: counts[4],
			RowErrors: counts[5],
			Message:   record[colMessage],
		},
	}, nil
}

// Append writes entries to <dir>/import-log.csv, creating the file and
// header if needed.
func Append(dir string, entries []Entry) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}

	path := filepath.Join(dir, FileName)
	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening import log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Read returns all entries from <dir>/import-log.csv, or none if the file
// does not exist.
func Read(dir string) ([]Entry, error) {
	f, err := os.Open(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening import log: %w", err)
	}
	defer f.Close()

	return readEntries(f)
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading import log CSV: %w", err)
	}

	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
