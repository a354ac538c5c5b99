package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/auszug/internal/accounts"
	"github.com/cleared-dev/auszug/internal/config"
)

const secretsTemplate = `# Archive passwords, keyed by the tag embedded in the archive name
# (WHSKRELI_<tag>_*.zip). Keys missing here are looked up in the
# environment under the same names.
#AUSZUG_DE0154X=
`

const gitignoreTemplate = "secrets.env\n*.db\nlogs/\n"

// exampleArchivePattern matches the vendor finance portal exports.
const exampleArchivePattern = `^WHSKRELI_(DE[0-9A-Z]{5})_.*\.zip$`

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new statement workspace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			if err := runInit(absDir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized auszug workspace at %s\n", absDir)
			return nil
		},
	}

	return cmd
}

func runInit(dir string) error {
	cfgPath := filepath.Join(dir, config.DefaultFile)
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking %s: %w", cfgPath, err)
	}

	cfg := config.Default()
	cfg.Archives = []config.ArchiveConfig{{Pattern: exampleArchivePattern}}

	for _, d := range []string{cfg.Sources.Roots[0].Path, cfg.Log.Dir} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}

	svc, err := accounts.NewService(accounts.ExampleSeed())
	if err != nil {
		return fmt.Errorf("building example accounts: %w", err)
	}
	if err := svc.Save(filepath.Join(dir, cfg.AccountsFile)); err != nil {
		return fmt.Errorf("writing accounts: %w", err)
	}

	files := []struct {
		name, content string
		perm          os.FileMode
	}{
		{cfg.Credentials.File, secretsTemplate, 0o600},
		{".gitignore", gitignoreTemplate, 0o644},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(f.content), f.perm); err != nil {
			return fmt.Errorf("writing %s: %w", f.name, err)
		}
	}

	return nil
}
