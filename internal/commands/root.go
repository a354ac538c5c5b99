package commands

import (
	"github.com/spf13/cobra"

	"github.com/cleared-dev/auszug/internal/buildinfo"
	"github.com/cleared-dev/auszug/internal/config"
)

// globalFlags are the persistent flags shared by all subcommands.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:     "auszug",
		Short:   "Bank statement ingestion for the dealership ledger",
		Version: buildinfo.String(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.configPath, "config", config.DefaultFile, "path to the configuration file")
	pf.StringVar(&g.logLevel, "log-level", "", "log level (overrides log.level)")
	pf.StringVar(&g.logFormat, "log-format", "", "log format: console or json (overrides log.format)")

	rootCmd.AddCommand(
		newInitCommand(),
		newIngestCommand(g),
		newReconstructCommand(g),
		newAccountsCommand(g),
		newRunsCommand(g),
		newWatchCommand(g),
	)

	return rootCmd
}
