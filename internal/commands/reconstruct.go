package commands

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/auszug/internal/id"
	"github.com/cleared-dev/auszug/internal/locale"
	"github.com/cleared-dev/auszug/internal/reconstruct"
)

func newReconstructCommand(g *globalFlags) *cobra.Command {
	var check, record bool

	cmd := &cobra.Command{
		Use:   "reconstruct-balances <account>",
		Short: "Print the running balance series of an account",
		Long: `Replay the ledger transactions of an account from its earliest anchor
balance and print one end-of-day balance per date.

The account is given as ledger ID, IBAN or legacy account number. With
--check the command exits 1 when any anchor drifts from the computed
balance. An account without anchor balance exits 2.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconstruct(cmd, g, args[0], check, record)
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "exit with status 1 when drift is found")
	cmd.Flags().BoolVar(&record, "record", false, "store the computed balances as reconstructed snapshots")

	return cmd
}

func runReconstruct(cmd *cobra.Command, g *globalFlags, ref string, check, record bool) error {
	ctx, a, err := openApp(cmd, g, true)
	if err != nil {
		return err
	}
	defer a.Close()

	acct, err := a.store.FindAccount(ctx, ref)
	if err != nil {
		return err
	}
	rec, err := a.reconstructor()
	if err != nil {
		return err
	}

	series, err := rec.Run(ctx, acct)
	if errors.Is(err, reconstruct.ErrNoAnchor) {
		return &ExitError{Code: CodeFatal, Err: fmt.Errorf("%s: %w", acct.Label(), err)}
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printSeries(out, series)

	if record {
		runID := id.NewRunID(a.clock.Now())
		n, err := reconstruct.Record(ctx, a.store, series, runID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Recorded %d reconstructed balances (run %s)\n", n, runID)
	}

	for _, dw := range series.Drift {
		a.log.Warn().Str("account", dw.Account).Str("date", dw.Date.Format("2006-01-02")).
			Str("delta", dw.Delta.StringFixed(2)).Msg("balance drift")
	}
	if check && len(series.Drift) > 0 {
		return &ExitError{Code: CodeErrors}
	}
	return nil
}

func printSeries(w io.Writer, s *reconstruct.Series) {
	fmt.Fprintf(w, "Account %s\n", s.Account.Label())
	if s.Account.CreditLine != nil {
		fmt.Fprintf(w, "Credit line %s EUR\n", locale.FormatAmount(*s.Account.CreditLine))
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "DATE\tBALANCE\tTRANSACTIONS\tSTATEMENT\t")
	for _, p := range s.Points {
		anchor := ""
		if p.Anchor != nil {
			anchor = p.Anchor.StringFixed(2)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t\n", p.Date.Format("2006-01-02"), p.Balance.StringFixed(2), p.Transactions, anchor)
	}
	tw.Flush()

	if len(s.Drift) == 0 {
		fmt.Fprintln(w, "No drift.")
		return
	}
	fmt.Fprintf(w, "\nDrift (%d):\n", len(s.Drift))
	for _, dw := range s.Drift {
		fmt.Fprintf(w, "  %s\n", dw.String())
	}
}
