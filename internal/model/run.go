package model

import "time"

// RunStatus is the lifecycle state of an import run.
type RunStatus string

const (
	RunRunning         RunStatus = "running"
	RunSucceeded       RunStatus = "succeeded"
	RunPartiallyFailed RunStatus = "partially-failed"
	RunFailed          RunStatus = "failed"
)

// Counters tallies merge outcomes.
type Counters struct {
	Inserted   int
	Duplicates int
	Updated    int
	Errored    int
}

// Add accumulates o into c.
func (c *Counters) Add(o Counters) {
	c.Inserted += o.Inserted
	c.Duplicates += o.Duplicates
	c.Updated += o.Updated
	c.Errored += o.Errored
}

// FileOutcome classifies what happened to one source file.
type FileOutcome string

const (
	OutcomeIngested     FileOutcome = "ingested"
	OutcomeDryRun       FileOutcome = "dry-run"
	OutcomeUnrecognized FileOutcome = "unrecognized"
	OutcomeParseFailed  FileOutcome = "parse-failed"
	OutcomeTimeout      FileOutcome = "timeout"
	OutcomeStorageFault FileOutcome = "storage-fault"
	OutcomeSourceError  FileOutcome = "source-error"
)

// FileResult is the per-file line of a run summary.
type FileResult struct {
	Path        string
	Institution string
	Outcome     FileOutcome
	Counters    Counters
	Snapshots   int
	RowErrors   int
	Message     string
}

// ImportRun is one invocation of the ingestion pipeline.
type ImportRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	DryRun     bool
	Counters   Counters
	Files      []FileResult
}
