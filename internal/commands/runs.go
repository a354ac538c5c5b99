package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/auszug/internal/model"
)

func newRunsCommand(g *globalFlags) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Import run history",
	}
	runsCmd.AddCommand(newRunsListCommand(g), newRunsShowCommand(g))
	return runsCmd
}

func newRunsListCommand(g *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent import runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := openApp(cmd, g, true)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No import runs.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTARTED\tFINISHED\tSTATUS\tINSERTED\tDUPLICATES\tUPDATED\tERRORED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
					runLabel(r), stamp(&r.StartedAt), stamp(r.FinishedAt), r.Status,
					r.Counters.Inserted, r.Counters.Duplicates, r.Counters.Updated, r.Counters.Errored)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")
	return cmd
}

func newRunsShowCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one import run and its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := openApp(cmd, g, true)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:      %s\n", runLabel(run))
			fmt.Fprintf(out, "Status:   %s\n", run.Status)
			fmt.Fprintf(out, "Started:  %s\n", stamp(&run.StartedAt))
			fmt.Fprintf(out, "Finished: %s\n", stamp(run.FinishedAt))
			fmt.Fprintf(out, "Totals:   inserted=%d duplicates=%d updated=%d errored=%d\n\n",
				run.Counters.Inserted, run.Counters.Duplicates, run.Counters.Updated, run.Counters.Errored)

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tINSTITUTION\tOUTCOME\tINSERTED\tDUPLICATES\tUPDATED\tERRORED\tSNAPSHOTS\tROW ERRORS\tMESSAGE")
			for _, f := range run.Files {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
					f.Path, f.Institution, f.Outcome,
					f.Counters.Inserted, f.Counters.Duplicates, f.Counters.Updated, f.Counters.Errored,
					f.Snapshots, f.RowErrors, f.Message)
			}
			return tw.Flush()
		},
	}
}

func runLabel(r model.ImportRun) string {
	if r.DryRun {
		return r.ID + " (dry run)"
	}
	return r.ID
}

func stamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
