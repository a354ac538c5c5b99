// Package discovery enumerates statement files beneath configured roots and
// unpacks password-protected vendor archives into short-lived scratch
// directories.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cleared-dev/auszug/internal/credentials"
	"github.com/cleared-dev/auszug/internal/logger"
)

var (
	// ErrCredentialUnavailable means an archive matched a rule but its key
	// is not in the credential store.
	ErrCredentialUnavailable = credentials.ErrUnavailable
	// ErrArchiveUnregistered means an archive matched no rule.
	ErrArchiveUnregistered = errors.New("archive not registered")
)

// DefaultExtensions are scanned when none are configured.
var DefaultExtensions = []string{".pdf", ".csv", ".sta", ".mt940", ".940", ".txt"}

// Root is a directory (or single file) to scan.
type Root struct {
	Path        string
	Institution string // optional hint passed to the dispatcher
}

// ArchiveContext describes where an extracted member came from.
type ArchiveContext struct {
	Archive string // path of the zip file
	Member  string // name inside the archive
	Key     string // credential key used to open it
}

// Candidate is one input document.
type Candidate struct {
	Path            string
	InstitutionHint string
	ModTime         time.Time
	Archive         *ArchiveContext
}

// Source returns the name recorded as provenance: the member name qualified
// by its archive for extracted files, the base name otherwise.
func (c Candidate) Source() string {
	if c.Archive != nil {
		return filepath.Base(c.Archive.Archive) + "!" + c.Archive.Member
	}
	return filepath.Base(c.Path)
}

// Scanner walks roots and yields candidates.
type Scanner struct {
	Roots       []Root
	Extensions  []string
	Archives    []ArchiveRule
	Credentials credentials.Store
	TempDir     string // parent of per-archive scratch dirs; os.TempDir() if empty
}

// Scan yields every candidate beneath the roots. Errors are yielded with the
// offending path in the candidate and do not stop the scan. Members of an
// archive exist on disk only while the consumer handles them: the archive's
// scratch directory is removed before the next file is visited, and also
// when the consumer stops early.
func (s *Scanner) Scan(ctx context.Context) iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		for _, root := range s.Roots {
			if !s.scanRoot(ctx, root, yield) {
				return
			}
		}
	}
}

func (s *Scanner) scanRoot(ctx context.Context, root Root, yield func(Candidate, error) bool) bool {
	cont := true
	err := filepath.WalkDir(root.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if !yield(Candidate{Path: path, InstitutionHint: root.Institution}, fmt.Errorf("scanning %s: %w", path, err)) {
				cont = false
				return filepath.SkipAll
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			cont = false
			yield(Candidate{Path: path}, cerr)
			return filepath.SkipAll
		}
		name := d.Name()
		if d.IsDir() {
			if path != root.Path && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			cont = yield(Candidate{Path: path}, fmt.Errorf("stat %s: %w", path, err))
		} else if strings.EqualFold(filepath.Ext(name), ".zip") {
			cont = s.scanArchive(ctx, path, root.Institution, yield)
		} else if s.matches(name) {
			cont = yield(Candidate{Path: path, InstitutionHint: root.Institution, ModTime: info.ModTime()}, nil)
		}
		if !cont {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil && cont {
		cont = yield(Candidate{Path: root.Path}, fmt.Errorf("scanning %s: %w", root.Path, err))
	}
	return cont
}

func (s *Scanner) matches(name string) bool {
	exts := s.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

func (s *Scanner) scanArchive(ctx context.Context, path, hint string, yield func(Candidate, error) bool) bool {
	log := logger.FromContext(ctx)
	name := filepath.Base(path)

	rule, key, ok := matchRule(s.Archives, name)
	if !ok {
		log.Warn().Str("file", name).Msg("archive matches no registered pattern")
		return yield(Candidate{Path: path, InstitutionHint: hint}, fmt.Errorf("%s: %w", name, ErrArchiveUnregistered))
	}
	if rule.Institution != "" {
		hint = rule.Institution
	}

	password, err := credentials.Require(s.Credentials, key)
	if err != nil {
		log.Warn().Str("file", name).Str("key", key).Msg("no credential for archive")
		return yield(Candidate{Path: path, InstitutionHint: hint}, fmt.Errorf("%s: %w", name, err))
	}

	return s.withExtracted(ctx, path, password, func(dir string, members []string) bool {
		for _, m := range members {
			full := filepath.Join(dir, filepath.FromSlash(m))
			if !s.matches(m) {
				log.Debug().Str("archive", name).Str("member", m).Msg("skipping archive member")
				continue
			}
			info, err := os.Stat(full)
			if err != nil {
				if !yield(Candidate{Path: full}, fmt.Errorf("stat %s: %w", m, err)) {
					return false
				}
				continue
			}
			c := Candidate{
				Path:            full,
				InstitutionHint: hint,
				ModTime:         info.ModTime(),
				Archive:         &ArchiveContext{Archive: path, Member: m, Key: key},
			}
			if !yield(c, nil) {
				return false
			}
		}
		return true
	}, func(err error) bool {
		return yield(Candidate{Path: path, InstitutionHint: hint}, fmt.Errorf("extracting %s: %w", name, err))
	})
}
