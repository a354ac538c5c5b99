// Package document turns a candidate file into page-structured text lines
// that statement parsers can scan.
package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Kind is the physical format of a document.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindCSV   Kind = "csv"
	KindMT940 Kind = "mt940"
	KindText  Kind = "text"
)

// KindFromName guesses the kind from a file extension.
func KindFromName(name string) Kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return KindPDF
	case ".csv":
		return KindCSV
	case ".sta", ".mt940", ".940":
		return KindMT940
	default:
		return KindText
	}
}

// Document is the decoded text of one source file.
type Document struct {
	Path     string
	Name     string // base name, used by the filename probe
	Kind     Kind
	Encoding string
	ModTime  time.Time
	Pages    [][]string // lines per page; text formats have one page
}

// Head returns the text the dispatcher probes: the first page for PDFs, the
// first n lines otherwise.
func (d *Document) Head(n int) string {
	if len(d.Pages) == 0 {
		return ""
	}
	if d.Kind == KindPDF {
		return strings.Join(d.Pages[0], "\n")
	}
	lines := d.Pages[0]
	if n > 0 && len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

// FromText builds a single-page document from in-memory text.
func FromText(name string, kind Kind, text string) *Document {
	return &Document{
		Name:     name,
		Path:     name,
		Kind:     kind,
		Encoding: "utf-8",
		Pages:    [][]string{splitLines(text)},
	}
}

// FromPages builds a multi-page document from in-memory page texts.
func FromPages(name string, pages ...string) *Document {
	d := &Document{Name: name, Path: name, Kind: KindPDF, Encoding: "utf-8"}
	for _, p := range pages {
		d.Pages = append(d.Pages, splitLines(p))
	}
	return d
}

// Loader reads documents from disk.
type Loader struct {
	PDF PDFExtractor
}

// NewLoader returns a Loader using the dslipak/pdf extractor.
func NewLoader() *Loader {
	return &Loader{PDF: PlainPDF{}}
}

// Load reads path and decodes it according to its extension.
func (l *Loader) Load(ctx context.Context, path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := &Document{
		Path:    path,
		Name:    filepath.Base(path),
		Kind:    KindFromName(path),
		ModTime: info.ModTime(),
	}

	if doc.Kind == KindPDF {
		pages, err := l.PDF.ExtractPages(path)
		if err != nil {
			return nil, fmt.Errorf("extracting text from %s: %w", doc.Name, err)
		}
		doc.Pages = pages
		doc.Encoding = "pdf"
		return doc, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", doc.Name, err)
	}
	text, enc := DecodeText(raw)
	doc.Encoding = enc
	doc.Pages = [][]string{splitLines(text)}
	if doc.Kind == KindText && looksLikeMT940(text) {
		doc.Kind = KindMT940
	}
	return doc, nil
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func looksLikeMT940(text string) bool {
	return strings.Contains(text, ":20:") && strings.Contains(text, ":61:") ||
		strings.Contains(text, ":60F:")
}
