package document

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindFromName(t *testing.T) {
	assert.Equal(t, KindPDF, KindFromName("Auszug.PDF"))
	assert.Equal(t, KindCSV, KindFromName("umsaetze.csv"))
	assert.Equal(t, KindMT940, KindFromName("konto.sta"))
	assert.Equal(t, KindText, KindFromName("statement.txt"))
}

func TestDecodeText(t *testing.T) {
	text, enc := DecodeText([]byte("Überweisung"))
	assert.Equal(t, EncodingUTF8, enc)
	assert.Equal(t, "Überweisung", text)

	text, enc = DecodeText([]byte("\xef\xbb\xbfKontostand"))
	assert.Equal(t, EncodingUTF8, enc)
	assert.Equal(t, "Kontostand", text)

	// 0xDC is Ü, 0x80 is the euro sign in Windows-1252.
	text, enc = DecodeText([]byte("\xdcberweisung 5 \x80"))
	assert.Equal(t, EncodingCP1252, enc)
	assert.Equal(t, "Überweisung 5 €", text)
}

func TestLoadText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "umsaetze.csv")
	require.NoError(t, os.WriteFile(path, []byte("a;b\r\nc;d  \r\n\r\n"), 0o644))

	doc, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "umsaetze.csv", doc.Name)
	assert.Equal(t, KindCSV, doc.Kind)
	assert.Equal(t, EncodingUTF8, doc.Encoding)
	assert.Equal(t, [][]string{{"a;b", "c;d"}}, doc.Pages)
	assert.False(t, doc.ModTime.IsZero())
}

func TestLoadDetectsMT940Content(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.txt")
	require.NoError(t, os.WriteFile(path, []byte(":20:STARTUMS\n:25:74350000/1234567\n:60F:C250901EUR100,00\n"), 0o644))

	doc, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, KindMT940, doc.Kind)
}

func TestLoadMissing(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"))
	assert.Error(t, err)
}

type stubPDF struct{ pages [][]string }

func (s stubPDF) ExtractPages(string) ([][]string, error) { return s.pages, nil }

func TestLoadPDFUsesExtractor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auszug.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))

	l := &Loader{PDF: stubPDF{pages: [][]string{{"Seite 1", "Kontostand"}, {"Seite 2"}}}}
	doc, err := l.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, KindPDF, doc.Kind)
	assert.Equal(t, "Seite 1\nKontostand", doc.Head(3))
	assert.Len(t, doc.Pages, 2)
}

func TestHead(t *testing.T) {
	doc := FromText("x.csv", KindCSV, "1\n2\n3\n4")
	assert.Equal(t, "1\n2", doc.Head(2))
	assert.Equal(t, "1\n2\n3\n4", doc.Head(0))

	pdfDoc := FromPages("x.pdf", "a\nb\nc", "d")
	assert.Equal(t, "a\nb\nc", pdfDoc.Head(1))
	assert.Equal(t, "", (&Document{}).Head(5))
}

func TestLayoutRows(t *testing.T) {
	glyphs := []glyph{
		{X: 60, Y: 700, W: 5, Size: 10, S: "b"},
		{X: 10, Y: 700.5, W: 5, Size: 10, S: "a"},
		{X: 15, Y: 700, W: 5, Size: 10, S: "x"},
		{X: 10, Y: 680, W: 5, Size: 10, S: "next"},
	}
	assert.Equal(t, []string{"ax b", "next"}, layoutRows(glyphs))
	assert.Nil(t, layoutRows(nil))
}
