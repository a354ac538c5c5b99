// Package pipeline drives one import run: discovery, dispatch, parsing under
// a time budget, idempotent merge, drift check and the run summary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/auszug/internal/clock"
	"github.com/cleared-dev/auszug/internal/discovery"
	"github.com/cleared-dev/auszug/internal/document"
	"github.com/cleared-dev/auszug/internal/id"
	"github.com/cleared-dev/auszug/internal/importer"
	"github.com/cleared-dev/auszug/internal/ledger"
	"github.com/cleared-dev/auszug/internal/logger"
	"github.com/cleared-dev/auszug/internal/model"
	"github.com/cleared-dev/auszug/internal/reconstruct"
	"github.com/cleared-dev/auszug/internal/runlog"
)

// DefaultTimeout is the parse budget per document.
const DefaultTimeout = 60 * time.Second

// ErrParseTimeout is reported when a parser exceeds its budget.
var ErrParseTimeout = errors.New("parse timeout")

// Source yields input candidates.
type Source interface {
	Scan(ctx context.Context) iter.Seq2[discovery.Candidate, error]
}

// Loader turns a candidate path into a document.
type Loader interface {
	Load(ctx context.Context, path string) (*document.Document, error)
}

// Ledger is the storage surface used by a run.
type Ledger interface {
	reconstruct.Source
	MergeStatement(ctx context.Context, st *model.Statement, runID string) (ledger.MergeResult, error)
	AccountByID(ctx context.Context, id int64) (model.Account, error)
	StartRun(ctx context.Context, run *model.ImportRun) error
	RecordFile(ctx context.Context, runID string, f model.FileResult) error
	FinishRun(ctx context.Context, run *model.ImportRun) error
}

// Driver runs the pipeline. Ledger may be nil for dry runs.
type Driver struct {
	Source        Source
	Loader        Loader
	Dispatcher    *importer.Dispatcher
	Ledger        Ledger
	Reconstructor *reconstruct.Reconstructor
	Clock         clock.Clock
	Timeout       time.Duration
	// LogDir receives the CSV audit log; empty disables it.
	LogDir string
	// Export receives the parsed rows of a dry run; optional.
	Export *runlog.Exporter
}

// Options are the per-run switches of "ingest".
type Options struct {
	RunID       string
	DryRun      bool
	Institution string // bypasses the dispatcher probes
}

// Run processes every candidate of the source. The returned summary is
// always non-nil once the run has started; the error is non-nil for fatal
// setup failures and for cancellation.
func (d *Driver) Run(ctx context.Context, opts Options) (*Summary, error) {
	clk := d.runClock()
	started := clk.Now()
	if opts.RunID == "" {
		opts.RunID = id.NewRunID(started)
	} else if err := id.ValidateRunID(opts.RunID); err != nil {
		return nil, err
	}
	if !opts.DryRun && d.Ledger == nil {
		return nil, fmt.Errorf("ingest without --dry-run needs a ledger")
	}

	log := logger.FromContext(ctx).With().Str("run_id", opts.RunID).Logger()
	ctx = logger.WithContext(ctx, log)

	sum := newSummary(model.ImportRun{ID: opts.RunID, StartedAt: started, DryRun: opts.DryRun})
	if !opts.DryRun {
		if err := d.Ledger.StartRun(ctx, &sum.Run); err != nil {
			return nil, fmt.Errorf("starting run: %w", err)
		}
	}
	log.Info().Bool("dry_run", opts.DryRun).Msg("import run started")

	touched := make(map[int64]bool)
	var runErr error
	for cand, err := range d.Source.Scan(ctx) {
		if cerr := ctx.Err(); cerr != nil {
			runErr = cerr
			break
		}
		res, accountID, warns := d.processFile(ctx, cand, err, opts)
		if accountID != 0 {
			touched[accountID] = true
		}
		sum.add(res)
		sum.Warnings = append(sum.Warnings, warns...)
		if !opts.DryRun {
			if err := d.Ledger.RecordFile(ctx, opts.RunID, res); err != nil {
				log.Error().Err(err).Str("file", res.Path).Msg("recording file outcome")
			}
		}
	}
	if runErr == nil {
		runErr = ctx.Err()
	}

	// Bookkeeping continues after cancellation so the run is closed.
	final := context.WithoutCancel(ctx)
	if !opts.DryRun && runErr == nil {
		d.checkDrift(final, sum, touched)
	}

	sum.finish(runErr != nil)
	if sum.Files() == 0 {
		log.Warn().Msg("no input files found")
	}
	if !opts.DryRun {
		if err := d.Ledger.FinishRun(final, &sum.Run); err != nil {
			log.Error().Err(err).Msg("finishing run")
		}
	}
	if d.LogDir != "" {
		if err := runlog.Append(d.LogDir, sum.auditEntries(clk.Now())); err != nil {
			log.Error().Err(err).Msg("writing audit log")
		}
	}
	log.Info().Str("status", string(sum.Run.Status)).
		Int("files", sum.Files()).
		Int("inserted", sum.Run.Counters.Inserted).
		Int("duplicates", sum.Run.Counters.Duplicates).
		Int("updated", sum.Run.Counters.Updated).
		Int("errored", sum.Run.Counters.Errored).
		Msg("import run finished")
	return sum, runErr
}

// processFile handles one candidate and never fails: every problem becomes
// the file's outcome.
func (d *Driver) processFile(ctx context.Context, cand discovery.Candidate, scanErr error, opts Options) (model.FileResult, int64, []model.Warning) {
	res := model.FileResult{Path: cand.Source(), Institution: cand.InstitutionHint}
	log := logger.FromContext(ctx).With().Str("file", res.Path).Logger()

	if scanErr != nil {
		res.Outcome = model.OutcomeSourceError
		res.Message = scanErr.Error()
		log.Error().Err(scanErr).Msg("source error")
		return res, 0, nil
	}

	doc, err := d.Loader.Load(ctx, cand.Path)
	if err != nil {
		res.Outcome = model.OutcomeParseFailed
		res.Message = err.Error()
		log.Error().Err(err).Msg("loading document")
		return res, 0, nil
	}

	var b importer.Binding
	if opts.Institution != "" {
		b, err = d.Dispatcher.Force(opts.Institution, doc.Kind)
	} else {
		b, err = d.Dispatcher.Bind(doc, cand.InstitutionHint)
	}
	if err != nil {
		res.Outcome = model.OutcomeUnrecognized
		res.Message = err.Error()
		log.Warn().Err(err).Msg("unrecognized statement")
		return res, 0, nil
	}
	res.Institution = b.Institution.Name
	log = log.With().Str("institution", res.Institution).Str("probe", string(b.Probe)).Logger()

	st, err := d.parse(ctx, b, doc)
	if err != nil {
		res.Outcome = model.OutcomeParseFailed
		if errors.Is(err, ErrParseTimeout) {
			res.Outcome = model.OutcomeTimeout
		}
		res.Message = err.Error()
		log.Error().Err(err).Msg("parsing statement")
		return res, 0, nil
	}
	st.SourceFile = cand.Source()
	res.RowErrors = len(st.Errors)
	for _, re := range st.Errors {
		log.Warn().Int("line", re.Line).Str("text", re.Text).Msg(re.Message)
	}

	if opts.DryRun {
		res.Outcome = model.OutcomeDryRun
		checked := *st
		checked.Transactions = nil
		now := d.runClock().Now()
		for _, tx := range st.Transactions {
			if verrs := ledger.ValidateTransaction(tx, now); len(verrs) > 0 {
				res.Counters.Errored++
				for _, v := range verrs {
					log.Warn().Str("rule", string(v.Rule)).Int("line", v.Line).Msg(v.Description)
				}
				continue
			}
			checked.Transactions = append(checked.Transactions, tx)
		}
		if d.Export != nil {
			if err := d.Export.Write(&checked); err != nil {
				res.Outcome = model.OutcomeSourceError
				res.Message = err.Error()
			}
		}
		log.Info().
			Int("transactions", len(checked.Transactions)).
			Int("errored", res.Counters.Errored).
			Msg("parsed (dry run)")
		return res, 0, nil
	}

	mr, err := d.Ledger.MergeStatement(ctx, st, opts.RunID)
	res.Counters = mr.Counters
	res.Snapshots = mr.Snapshots
	var warns []model.Warning
	if mr.AccountCreated {
		res.Message = fmt.Sprintf("account %s unknown, registered provisionally", st.AccountKey())
		warns = append(warns, model.Warning{Kind: model.WarnAccountUnknown, Message: res.Path + ": " + res.Message})
		log.Warn().Str("account", st.AccountKey()).Int64("account_id", mr.AccountID).Msg("account unknown, registered provisionally")
	}
	if err != nil {
		res.Outcome = model.OutcomeStorageFault
		res.Message = err.Error()
		log.Error().Err(err).Msg("merging statement")
		return res, mr.AccountID, warns
	}
	res.Outcome = model.OutcomeIngested
	for _, v := range mr.Rejected {
		log.Warn().Str("rule", string(v.Rule)).Int("line", v.Line).Msg(v.Description)
	}
	log.Info().
		Int64("account_id", mr.AccountID).
		Int("inserted", mr.Counters.Inserted).
		Int("duplicates", mr.Counters.Duplicates).
		Int("updated", mr.Counters.Updated).
		Int("errored", mr.Counters.Errored).
		Int("snapshots", mr.Snapshots).
		Msg("statement merged")
	return res, mr.AccountID, warns
}

func (d *Driver) runClock() clock.Clock {
	if d.Clock == nil {
		return clock.Real{}
	}
	return d.Clock
}

// parse runs the binding under the time budget. A parser that ignores its
// context is abandoned when the budget runs out.
func (d *Driver) parse(ctx context.Context, b importer.Binding, doc *document.Document) (*model.Statement, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		st  *model.Statement
		err error
	}
	done := make(chan result, 1)
	go func() {
		st, err := b.Parse(pctx, doc)
		done <- result{st, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrParseTimeout, timeout)
		}
		return r.st, r.err
	case <-pctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %s", ErrParseTimeout, timeout)
	}
}

func (d *Driver) checkDrift(ctx context.Context, sum *Summary, touched map[int64]bool) {
	if d.Reconstructor == nil {
		return
	}
	log := logger.FromContext(ctx)
	for accountID := range touched {
		acct, err := d.Ledger.AccountByID(ctx, accountID)
		if err != nil {
			log.Error().Err(err).Int64("account_id", accountID).Msg("loading account for drift check")
			continue
		}
		series, err := d.Reconstructor.Run(ctx, acct)
		if errors.Is(err, reconstruct.ErrNoAnchor) {
			log.Debug().Str("account", acct.Label()).Msg("no anchor balance, drift check skipped")
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("account", acct.Label()).Msg("drift check")
			continue
		}
		for _, dw := range series.Drift {
			logDrift(log, dw)
			sum.addDrift(dw)
		}
	}
	sum.sortDrift()
}

func logDrift(log zerolog.Logger, dw model.DriftWarning) {
	log.Warn().
		Str("account", dw.Account).
		Str("date", dw.Date.Format("2006-01-02")).
		Str("expected", dw.Expected.StringFixed(2)).
		Str("computed", dw.Computed.StringFixed(2)).
		Str("delta", dw.Delta.StringFixed(2)).
		Msg("balance drift")
}
