package document

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

const (
	EncodingUTF8    = "utf-8"
	EncodingCP1252  = "windows-1252"
	EncodingLatin1  = "iso-8859-1"
	utf8BOM         = "\xef\xbb\xbf"
	replacementRune = "�"
)

// DecodeText decodes raw bytes by trial: UTF-8 first, then Windows-1252,
// then ISO-8859-1. It returns the text and the encoding that was used.
func DecodeText(raw []byte) (string, string) {
	if utf8.Valid(raw) {
		return strings.TrimPrefix(string(raw), utf8BOM), EncodingUTF8
	}
	if s, err := charmap.Windows1252.NewDecoder().Bytes(raw); err == nil && !strings.Contains(string(s), replacementRune) {
		return string(s), EncodingCP1252
	}
	s, _ := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	return string(s), EncodingLatin1
}
