package locale

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxDescriptionLen is the display description limit in characters.
const MaxDescriptionLen = 500

// Ellipsis marks a truncated description.
const Ellipsis = "..."

// CleanDescription joins description fragments with single spaces, collapses
// whitespace and truncates to MaxDescriptionLen characters. A truncated
// result ends with Ellipsis and still fits the limit.
func CleanDescription(parts ...string) string {
	s := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	if utf8.RuneCountInString(s) <= MaxDescriptionLen {
		return s
	}
	runes := []rune(s)
	keep := MaxDescriptionLen - utf8.RuneCountInString(Ellipsis)
	return strings.TrimRight(string(runes[:keep]), " ") + Ellipsis
}

var (
	ibanRE       = regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`)
	deIBANRE     = regexp.MustCompile(`DE\d{20}`)
	spacedIBANRE = regexp.MustCompile(`DE\d{2}(?: \d{4}){4} \d{2}`)
)

// FindGermanIBANs returns DE IBANs in text in order of appearance, both the
// compact form and the printed four-digit-group form.
func FindGermanIBANs(text string) []string {
	type hit struct {
		pos  int
		iban string
	}
	var hits []hit
	for _, loc := range deIBANRE.FindAllStringIndex(text, -1) {
		hits = append(hits, hit{loc[0], text[loc[0]:loc[1]]})
	}
	for _, loc := range spacedIBANRE.FindAllStringIndex(text, -1) {
		hits = append(hits, hit{loc[0], strings.ReplaceAll(text[loc[0]:loc[1]], " ", "")})
	}
	// Stable ordering by position; the two patterns never overlap.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	seen := make(map[string]bool)
	var out []string
	for _, h := range hits {
		if !seen[h.iban] {
			seen[h.iban] = true
			out = append(out, h.iban)
		}
	}
	return out
}

// FindIBAN returns the first IBAN of any country in s, compacted.
func FindIBAN(s string) string {
	if m := spacedIBANRE.FindString(s); m != "" {
		return strings.ReplaceAll(m, " ", "")
	}
	return ibanRE.FindString(s)
}

// CompactIBAN removes spaces and uppercases an IBAN.
func CompactIBAN(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// BankCode returns the German bank code (positions 5-12) of a DE IBAN.
func BankCode(iban string) string {
	iban = CompactIBAN(iban)
	if len(iban) != 22 || !strings.HasPrefix(iban, "DE") {
		return ""
	}
	return iban[4:12]
}

// ValidIBAN checks length and the ISO 13616 mod-97 checksum of a compact
// IBAN.
func ValidIBAN(iban string) bool {
	iban = CompactIBAN(iban)
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}
	rotated := iban[4:] + iban[:4]
	rem := 0
	for _, r := range rotated {
		var v int
		switch {
		case r >= '0' && r <= '9':
			v = int(r - '0')
		case r >= 'A' && r <= 'Z':
			v = int(r-'A') + 10
		default:
			return false
		}
		if v >= 10 {
			rem = (rem*100 + v) % 97
		} else {
			rem = (rem*10 + v) % 97
		}
	}
	return rem == 1
}
