package commands

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/auszug/internal/pipeline"
)

const defaultSettle = 2 * time.Second

func newWatchCommand(g *globalFlags) *cobra.Command {
	var settle time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Ingest statements as they appear in the source roots",
		Long: `Watch the configured source roots and ingest every new or changed file
once it has not been written to for the settle interval. Each file is
ingested as its own run. Stop with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, g, settle)
		},
	}

	cmd.Flags().DurationVar(&settle, "settle", defaultSettle, "quiet time before a file is ingested")
	return cmd
}

func runWatch(cmd *cobra.Command, g *globalFlags, settle time.Duration) error {
	ctx, a, err := openApp(cmd, g, true)
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	for _, r := range a.cfg.Sources.Roots {
		root := a.cfg.Path(r.Path)
		if err := addTree(w, root); err != nil {
			return fmt.Errorf("watching %s: %w", root, err)
		}
		a.log.Info().Str("root", root).Msg("watching")
	}

	pending := newDebouncer(settle)
	tick := settle / 4
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.log.Info().Msg("watch stopped")
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ignoredName(filepath.Base(ev.Name)) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(w, ev.Name); err != nil {
						a.log.Warn().Err(err).Str("dir", ev.Name).Msg("watching new directory")
					}
					continue
				}
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				pending.touch(ev.Name, time.Now())
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			a.log.Warn().Err(err).Msg("watch error")
		case now := <-ticker.C:
			for _, path := range pending.ready(now) {
				if err := a.ingestOne(ctx, cmd, path); err != nil {
					a.log.Error().Err(err).Str("file", path).Msg("ingesting watched file")
				}
			}
		}
	}
}

func (a *app) ingestOne(ctx context.Context, cmd *cobra.Command, path string) error {
	if _, err := os.Stat(path); err != nil {
		// Moved away or deleted before it settled.
		return nil
	}
	src, err := a.scanner([]string{path})
	if err != nil {
		return err
	}
	d, err := a.driver(src, false)
	if err != nil {
		return err
	}
	sum, err := d.Run(ctx, pipeline.Options{})
	if sum != nil && sum.Files() > 0 {
		sum.Print(cmd.OutOrStdout())
	}
	return err
}

// addTree watches dir and every non-hidden directory beneath it.
func addTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func ignoredName(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") ||
		strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".tmp")
}

// debouncer holds paths until they have been quiet for the settle time.
type debouncer struct {
	settle  time.Duration
	pending map[string]time.Time
}

func newDebouncer(settle time.Duration) *debouncer {
	return &debouncer{settle: settle, pending: make(map[string]time.Time)}
}

func (d *debouncer) touch(path string, at time.Time) {
	d.pending[path] = at
}

// ready removes and returns the settled paths in name order.
func (d *debouncer) ready(now time.Time) []string {
	var out []string
	for path, last := range d.pending {
		if now.Sub(last) >= d.settle {
			out = append(out, path)
			delete(d.pending, path)
		}
	}
	sort.Strings(out)
	return out
}
