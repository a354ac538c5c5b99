package pipeline

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cleared-dev/auszug/internal/model"
	"github.com/cleared-dev/auszug/internal/runlog"
)

// Exit codes of "ingest".
const (
	ExitOK           = 0
	ExitErrors       = 1
	ExitUnrecognized = 2
)

// Summary is the user-visible result of a run.
type Summary struct {
	Run      model.ImportRun
	Outcomes map[model.FileOutcome]int
	Warnings []model.Warning
	Drift    []model.DriftWarning
}

func newSummary(run model.ImportRun) *Summary {
	return &Summary{Run: run, Outcomes: make(map[model.FileOutcome]int)}
}

func (s *Summary) add(f model.FileResult) {
	s.Run.Files = append(s.Run.Files, f)
	s.Run.Counters.Add(f.Counters)
	s.Outcomes[f.Outcome]++
}

func (s *Summary) addDrift(dw model.DriftWarning) {
	s.Drift = append(s.Drift, dw)
}

func (s *Summary) sortDrift() {
	sort.SliceStable(s.Drift, func(i, j int) bool {
		if s.Drift[i].Account != s.Drift[j].Account {
			return s.Drift[i].Account < s.Drift[j].Account
		}
		return s.Drift[i].Date.Before(s.Drift[j].Date)
	})
	for _, dw := range s.Drift {
		s.Warnings = append(s.Warnings, dw.Warning())
	}
}

// Files returns the number of files the run looked at.
func (s *Summary) Files() int {
	return len(s.Run.Files)
}

// RowErrors returns the number of rows dropped by parsers.
func (s *Summary) RowErrors() int {
	n := 0
	for _, f := range s.Run.Files {
		n += f.RowErrors
	}
	return n
}

func (s *Summary) finish(interrupted bool) {
	ok := s.Outcomes[model.OutcomeIngested] + s.Outcomes[model.OutcomeDryRun]
	switch {
	case s.Files() == 0 || (ok == 0 && s.ExitCode() != ExitOK):
		s.Run.Status = model.RunFailed
	case interrupted || s.ExitCode() != ExitOK:
		s.Run.Status = model.RunPartiallyFailed
	default:
		s.Run.Status = model.RunSucceeded
	}
}

// ExitCode maps the run to the process exit code: 2 when any statement was
// unrecognized or no file was found, 1 for any other error, 0 otherwise.
// Drift never changes the exit code.
func (s *Summary) ExitCode() int {
	if s.Files() == 0 || s.Outcomes[model.OutcomeUnrecognized] > 0 {
		return ExitUnrecognized
	}
	for outcome, n := range s.Outcomes {
		if n == 0 {
			continue
		}
		switch outcome {
		case model.OutcomeIngested, model.OutcomeDryRun:
		default:
			return ExitErrors
		}
	}
	if s.RowErrors() > 0 || s.Run.Counters.Errored > 0 {
		return ExitErrors
	}
	return ExitOK
}

func (s *Summary) auditEntries(now time.Time) []runlog.Entry {
	entries := make([]runlog.Entry, len(s.Run.Files))
	for i, f := range s.Run.Files {
		entries[i] = runlog.Entry{Timestamp: now, RunID: s.Run.ID, File: f}
	}
	return entries
}

// Print writes the human-readable summary.
func (s *Summary) Print(w io.Writer) {
	mode := ""
	if s.Run.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "Run %s%s: %s\n", s.Run.ID, mode, s.Run.Status)

	if s.Files() == 0 {
		fmt.Fprintln(w, "No input files found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tINSTITUTION\tOUTCOME\tINSERTED\tDUPLICATES\tUPDATED\tERRORED\tSNAPSHOTS\tROW ERRORS")
	for _, f := range s.Run.Files {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			f.Path, f.Institution, f.Outcome,
			f.Counters.Inserted, f.Counters.Duplicates, f.Counters.Updated, f.Counters.Errored,
			f.Snapshots, f.RowErrors)
	}
	tw.Flush()

	var outcomes []string
	for outcome, n := range s.Outcomes {
		outcomes = append(outcomes, fmt.Sprintf("%s=%d", outcome, n))
	}
	sort.Strings(outcomes)
	fmt.Fprintf(w, "\nOutcomes: %s\n", strings.Join(outcomes, " "))
	c := s.Run.Counters
	fmt.Fprintf(w, "Transactions: inserted=%d duplicates=%d updated=%d errored=%d\n",
		c.Inserted, c.Duplicates, c.Updated, c.Errored)

	for _, f := range s.Run.Files {
		if f.Message != "" && f.Outcome != model.OutcomeIngested {
			fmt.Fprintf(w, "%s: %s\n", f.Path, f.Message)
		}
	}
	if len(s.Warnings) > 0 {
		fmt.Fprintln(w, "\nWarnings:")
		for _, warn := range s.Warnings {
			fmt.Fprintf(w, "  [%s] %s\n", warn.Kind, warn.Message)
		}
	}
}
