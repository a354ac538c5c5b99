package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/auszug/internal/pipeline"
	"github.com/cleared-dev/auszug/internal/runlog"
)

func newIngestCommand(g *globalFlags) *cobra.Command {
	var opts pipeline.Options
	var export string

	cmd := &cobra.Command{
		Use:   "ingest [path...]",
		Short: "Import bank statements into the ledger",
		Long: `Import every statement found at the given files or directories, or beneath
the configured source roots when no path is given.

Exit status is 0 when every file was ingested cleanly, 1 when any file or
row failed, and 2 when a statement was unrecognized or no file was found.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if export != "" && !opts.DryRun {
				return fmt.Errorf("--export requires --dry-run")
			}
			return runIngest(cmd, g, args, opts, export)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "parse and validate without writing to the ledger")
	cmd.Flags().StringVar(&opts.Institution, "institution", "", "force the parser of this institution")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "use this run identifier instead of a generated one")
	cmd.Flags().StringVar(&export, "export", "", "write parsed transactions of a dry run to this CSV file")

	return cmd
}

func runIngest(cmd *cobra.Command, g *globalFlags, paths []string, opts pipeline.Options, export string) (err error) {
	ctx, a, err := openApp(cmd, g, !opts.DryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	src, err := a.scanner(paths)
	if err != nil {
		return err
	}
	d, err := a.driver(src, opts.DryRun)
	if err != nil {
		return err
	}

	if export != "" {
		f, cerr := os.Create(export)
		if cerr != nil {
			return fmt.Errorf("creating export file: %w", cerr)
		}
		d.Export = runlog.NewExporter(f)
		defer func() {
			werr := d.Export.Flush()
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil && err == nil {
				err = fmt.Errorf("writing export file: %w", werr)
			}
		}()
	}

	sum, runErr := d.Run(ctx, opts)
	if sum == nil {
		return runErr
	}
	sum.Print(cmd.OutOrStdout())
	if export != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d transactions to %s\n", d.Export.Rows(), export)
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return &ExitError{Code: CodeErrors, Err: fmt.Errorf("run %s interrupted", sum.Run.ID)}
		}
		return runErr
	}
	if code := sum.ExitCode(); code != CodeOK {
		return &ExitError{Code: code}
	}
	return nil
}
