package discovery

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/yeka/zip"
)

// MaxMemberSize caps the decompressed size of one archive member.
const MaxMemberSize = 256 << 20

// ArchiveRule registers a family of vendor archives. The credential key is
// the pattern's "key" group, else its first group, else Key.
type ArchiveRule struct {
	Pattern     *regexp.Regexp
	Key         string
	Institution string
}

// NewArchiveRule compiles pattern.
func NewArchiveRule(pattern, key, institution string) (ArchiveRule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return ArchiveRule{}, fmt.Errorf("compiling archive pattern %q: %w", pattern, err)
	}
	if re.NumSubexp() == 0 && key == "" {
		return ArchiveRule{}, fmt.Errorf("archive pattern %q has no key group and no key", pattern)
	}
	return ArchiveRule{Pattern: re, Key: key, Institution: institution}, nil
}

// KeyFor returns the credential key for an archive name, if the rule matches.
func (r ArchiveRule) KeyFor(name string) (string, bool) {
	m := r.Pattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	if i := r.Pattern.SubexpIndex("key"); i > 0 && m[i] != "" {
		return m[i], true
	}
	if len(m) > 1 && m[1] != "" {
		return m[1], true
	}
	return r.Key, r.Key != ""
}

func matchRule(rules []ArchiveRule, name string) (ArchiveRule, string, bool) {
	for _, r := range rules {
		if key, ok := r.KeyFor(name); ok {
			return r, key, true
		}
	}
	return ArchiveRule{}, "", false
}

// withExtracted unpacks the archive into a fresh scratch directory, calls use
// with the extracted member names, and removes the directory on every path
// out, including panics in use.
func (s *Scanner) withExtracted(ctx context.Context, archive, password string, use func(dir string, members []string) bool, fail func(error) bool) bool {
	dir, err := os.MkdirTemp(s.TempDir, "auszug-archive-*")
	if err != nil {
		return fail(fmt.Errorf("creating scratch dir: %w", err))
	}
	defer os.RemoveAll(dir)

	members, err := extract(ctx, archive, password, dir)
	if err != nil {
		return fail(err)
	}
	return use(dir, members)
}

func extract(ctx context.Context, archive, password, dir string) ([]string, error) {
	rc, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer rc.Close()

	var members []string
	for _, f := range rc.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.FileInfo().IsDir() {
			continue
		}
		name, err := safeMemberName(f.Name)
		if err != nil {
			return nil, err
		}
		if f.IsEncrypted() {
			f.SetPassword(password)
		}
		if err := extractFile(f, filepath.Join(dir, filepath.FromSlash(name))); err != nil {
			return nil, fmt.Errorf("member %s: %w", name, err)
		}
		members = append(members, name)
	}
	return members, nil
}

func extractFile(f *zip.File, dst string) error {
	r, err := f.Open()
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(r, MaxMemberSize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n > MaxMemberSize {
		return fmt.Errorf("exceeds %d bytes", MaxMemberSize)
	}
	if mt := f.FileInfo().ModTime(); !mt.IsZero() {
		_ = os.Chtimes(dst, mt, mt)
	}
	return nil
}

// safeMemberName rejects absolute names and names escaping the scratch dir.
func safeMemberName(name string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if clean == "." || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("unsafe archive member name %q", name)
	}
	return clean, nil
}
