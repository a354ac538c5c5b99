package document

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/dslipak/pdf"
)

// PDFExtractor returns the text lines of each page of a PDF.
type PDFExtractor interface {
	ExtractPages(path string) ([][]string, error)
}

// PlainPDF extracts text with github.com/dslipak/pdf, grouping glyphs by
// baseline so that table layouts keep one line per printed row.
type PlainPDF struct{}

// ExtractPages implements PDFExtractor.
func (PlainPDF) ExtractPages(path string) (pages [][]string, err error) {
	// The PDF library panics on some malformed content streams.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decoding pdf: %v", r)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat pdf: %w", err)
	}

	r, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("reading pdf: %w", err)
	}

	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, nil)
			continue
		}
		pages = append(pages, pageLines(p.Content().Text))
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}
	return pages, nil
}

// glyph is the subset of pdf.Text used for layout.
type glyph struct {
	X, Y, W, Size float64
	S             string
}

func pageLines(texts []pdf.Text) []string {
	glyphs := make([]glyph, 0, len(texts))
	for _, t := range texts {
		glyphs = append(glyphs, glyph{X: t.X, Y: t.Y, W: t.W, Size: t.FontSize, S: t.S})
	}
	return layoutRows(glyphs)
}

// layoutRows groups glyphs into rows by baseline (top of page first) and
// joins each row left to right, inserting a space where the gap between
// consecutive glyphs is wider than a quarter of the font size.
func layoutRows(glyphs []glyph) []string {
	if len(glyphs) == 0 {
		return nil
	}
	sort.SliceStable(glyphs, func(i, j int) bool { return glyphs[i].Y > glyphs[j].Y })

	var (
		lines []string
		row   []glyph
	)
	flush := func() {
		if len(row) == 0 {
			return
		}
		sort.SliceStable(row, func(i, j int) bool { return row[i].X < row[j].X })
		var b strings.Builder
		for k, g := range row {
			if k > 0 {
				prev := row[k-1]
				if g.X-(prev.X+prev.W) > g.Size*0.25 {
					b.WriteByte(' ')
				}
			}
			b.WriteString(g.S)
		}
		if line := strings.TrimSpace(b.String()); line != "" {
			lines = append(lines, line)
		}
		row = row[:0]
	}

	for _, g := range glyphs {
		if len(row) > 0 && math.Abs(row[0].Y-g.Y) > rowTolerance(row[0]) {
			flush()
		}
		row = append(row, g)
	}
	flush()
	return lines
}

func rowTolerance(g glyph) float64 {
	if g.Size <= 0 {
		return 1
	}
	return g.Size / 3
}
