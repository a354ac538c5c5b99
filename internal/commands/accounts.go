package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/auszug/internal/ledger"
	"github.com/cleared-dev/auszug/internal/locale"
	"github.com/cleared-dev/auszug/internal/model"
)

func newAccountsCommand(g *globalFlags) *cobra.Command {
	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "Account operations",
	}
	accountsCmd.AddCommand(newAccountsSyncCommand(g), newAccountsListCommand(g))
	return accountsCmd
}

func newAccountsSyncCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Write the accounts file into the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := openApp(cmd, g, true)
			if err != nil {
				return err
			}
			defer a.Close()

			var created, updated int
			for _, acct := range a.accounts.All() {
				stored, isNew, err := a.store.UpsertAccount(ctx, ledger.AccountParamsFrom(acct))
				if err != nil {
					return fmt.Errorf("syncing %s: %w", acct.Label(), err)
				}
				if isNew {
					created++
				} else {
					updated++
				}
				a.log.Debug().Int64("account_id", stored.ID).Str("account", stored.Label()).Bool("created", isNew).Msg("account synced")
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Synced %d accounts (%d new, %d updated)\n", created+updated, created, updated)

			all, err := a.store.Accounts(ctx)
			if err != nil {
				return err
			}
			for _, acct := range all {
				if acct.Provisional && !a.seeded(acct) {
					fmt.Fprintf(out, "Provisional account %s (%s) is not in %s\n", acct.Label(), acct.Institution, a.cfg.AccountsFile)
				}
			}
			return nil
		},
	}
}

func newAccountsListCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the accounts known to the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := openApp(cmd, g, true)
			if err != nil {
				return err
			}
			defer a.Close()

			all, err := a.store.Accounts(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tINSTITUTION\tIBAN\tLEGACY\tNAME\tROLES\tCREDIT LINE\tSTATUS\tSEEDED")
			for _, acct := range all {
				credit := ""
				if acct.CreditLine != nil {
					credit = locale.FormatAmount(*acct.CreditLine)
				}
				seeded := "no"
				if a.seeded(acct) {
					seeded = "yes"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					acct.ID, acct.Institution, acct.IBAN, acct.LegacyNumber, acct.DisplayName,
					joinRoles(acct.Roles), credit, accountStatus(acct), seeded)
			}
			return tw.Flush()
		},
	}
}

// seeded reports whether acct appears in the accounts file.
func (a *app) seeded(acct model.Account) bool {
	if acct.IBAN != "" {
		if _, ok := a.accounts.ByIBAN(acct.IBAN); ok {
			return true
		}
	}
	if acct.LegacyNumber != "" {
		_, ok := a.accounts.ByLegacy(acct.Institution, acct.LegacyNumber)
		return ok
	}
	return false
}

func joinRoles(roles []model.Role) string {
	s := make([]string, len(roles))
	for i, r := range roles {
		s[i] = string(r)
	}
	return strings.Join(s, ",")
}

func accountStatus(acct model.Account) string {
	switch {
	case acct.Provisional:
		return "provisional"
	case !acct.Active:
		return "inactive"
	default:
		return "active"
	}
}
