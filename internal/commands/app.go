package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/auszug/internal/accounts"
	"github.com/cleared-dev/auszug/internal/clock"
	"github.com/cleared-dev/auszug/internal/config"
	"github.com/cleared-dev/auszug/internal/credentials"
	"github.com/cleared-dev/auszug/internal/discovery"
	"github.com/cleared-dev/auszug/internal/document"
	"github.com/cleared-dev/auszug/internal/importer"
	"github.com/cleared-dev/auszug/internal/ledger"
	"github.com/cleared-dev/auszug/internal/logger"
	"github.com/cleared-dev/auszug/internal/pipeline"
	"github.com/cleared-dev/auszug/internal/reconstruct"
)

// app is the wiring shared by the subcommands.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	clock    clock.Clock
	accounts *accounts.Service
	store    *ledger.Store // nil unless the command needs the ledger
}

// openApp loads the configuration and the account seed, and opens the
// ledger when withLedger is set. The returned context carries the logger.
func openApp(cmd *cobra.Command, g *globalFlags, withLedger bool) (context.Context, *app, error) {
	cfg, err := loadConfig(cmd, g.configPath)
	if err != nil {
		return nil, nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	ctx := logger.WithContext(cmd.Context(), log)

	svc, err := accounts.Load(cfg.Path(cfg.AccountsFile))
	if err != nil {
		return nil, nil, fmt.Errorf("loading accounts: %w", err)
	}

	a := &app{cfg: cfg, log: log, clock: clock.Real{}, accounts: svc}
	if withLedger {
		store, err := ledger.Open(ctx, cfg.Ledger.Driver, cfg.LedgerDSN(), ledger.Options{
			BatchSize: cfg.Ledger.BatchSize,
			Clock:     a.clock,
			Logger:    log,
		})
		if err != nil {
			return nil, nil, err
		}
		a.store = store
	}
	return ctx, a, nil
}

// loadConfig reads the config file. A missing default file yields the
// default configuration; a missing explicit file is an error.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Default(), nil
	}
	return nil, err
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error().Err(err).Msg("closing ledger")
		}
	}
}

// dispatcher builds the parser registry: built-in institutions, overrides
// from the config, then the IBANs of the seeded accounts.
func (a *app) dispatcher() (*importer.Dispatcher, error) {
	reg := importer.DefaultRegistry()
	for _, inst := range a.cfg.Institutions {
		if err := reg.AddInstitution(inst); err != nil {
			return nil, fmt.Errorf("configuring institutions: %w", err)
		}
	}
	if err := a.accounts.Bind(reg); err != nil {
		return nil, fmt.Errorf("binding account IBANs: %w", err)
	}
	return importer.NewDispatcher(reg, a.cfg.Parse.HeadLines), nil
}

// credentialStore opens the secrets file when it exists, falling back to
// the environment alone.
func (a *app) credentialStore() (credentials.Store, error) {
	path := a.cfg.Path(a.cfg.Credentials.File)
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			a.log.Debug().Str("file", path).Msg("secrets file not found, using environment only")
			path = ""
		}
	}
	return credentials.Open(path, a.cfg.Credentials.EnvPrefix)
}

// scanner returns a scanner over paths, or over the configured roots when
// paths is empty.
func (a *app) scanner(paths []string) (*discovery.Scanner, error) {
	var roots []discovery.Root
	if len(paths) > 0 {
		for _, p := range paths {
			roots = append(roots, discovery.Root{Path: p, Institution: a.hintFor(p)})
		}
	} else {
		for _, r := range a.cfg.Sources.Roots {
			roots = append(roots, discovery.Root{Path: a.cfg.Path(r.Path), Institution: r.Institution})
		}
	}

	var rules []discovery.ArchiveRule
	for _, ac := range a.cfg.Archives {
		rule, err := discovery.NewArchiveRule(ac.Pattern, ac.Key, ac.Institution)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	creds, err := a.credentialStore()
	if err != nil {
		return nil, err
	}

	return &discovery.Scanner{
		Roots:       roots,
		Extensions:  a.cfg.Sources.Extensions,
		Archives:    rules,
		Credentials: creds,
	}, nil
}

// hintFor returns the institution hint of the configured root containing
// path, if any.
func (a *app) hintFor(path string) string {
	for _, r := range a.cfg.Sources.Roots {
		if r.Institution != "" && within(a.cfg.Path(r.Path), path) {
			return r.Institution
		}
	}
	return ""
}

func (a *app) reconstructor() (*reconstruct.Reconstructor, error) {
	tol, err := a.cfg.Tolerance()
	if err != nil {
		return nil, err
	}
	return reconstruct.New(a.store, tol), nil
}

// driver assembles the pipeline over src. The ledger is left out for dry
// runs.
func (a *app) driver(src pipeline.Source, dryRun bool) (*pipeline.Driver, error) {
	disp, err := a.dispatcher()
	if err != nil {
		return nil, err
	}
	d := &pipeline.Driver{
		Source:     src,
		Loader:     document.NewLoader(),
		Dispatcher: disp,
		Clock:      a.clock,
		Timeout:    a.cfg.Parse.Timeout,
		LogDir:     a.cfg.Path(a.cfg.Log.Dir),
	}
	if !dryRun && a.store != nil {
		rec, err := a.reconstructor()
		if err != nil {
			return nil, err
		}
		d.Ledger = a.store
		d.Reconstructor = rec
	}
	return d, nil
}

// within reports whether path lies beneath root.
func within(root, path string) bool {
	ra, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	pa, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(ra, pa)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
