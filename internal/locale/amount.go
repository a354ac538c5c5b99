// Package locale decodes the German number, date and text conventions found
// on bank statements.
package locale

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/auszug/internal/model"
)

// ParseAmount decodes a German-formatted amount such as "1.234.567,89",
// "-1.234,56", "1.234,56-", "1.234,56 S" or "EUR 500,00". Sign indicators
// S (Soll) and a minus anywhere make the result negative; H (Haben) and plus
// are positive. At most two fractional digits are accepted.
func ParseAmount(s string) (decimal.Decimal, error) {
	return ParseAmountWith(s, model.GermanConvention)
}

// ParseAmountWith decodes an amount using the given separators.
func ParseAmountWith(s string, conv model.Convention) (decimal.Decimal, error) {
	body, negative := stripSign(s)
	if body == "" {
		return decimal.Zero, fmt.Errorf("parsing amount %q: no digits", s)
	}

	intPart, frac := body, ""
	if conv.DecimalSep != "" {
		if i := strings.LastIndex(body, conv.DecimalSep); i >= 0 {
			intPart, frac = body[:i], body[i+len(conv.DecimalSep):]
		}
	}
	if len(frac) > 2 {
		return decimal.Zero, fmt.Errorf("parsing amount %q: more than 2 fractional digits", s)
	}
	if !allDigits(frac) {
		return decimal.Zero, fmt.Errorf("parsing amount %q: bad fraction", s)
	}
	intPart, err := stripThousands(intPart, conv.ThousandsSep)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	if intPart == "" {
		intPart = "0"
	}

	num := intPart
	if frac != "" {
		num += "." + frac
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// stripSign removes currency markers and sign indicators and reports
// whether any of them meant "negative".
func stripSign(s string) (string, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
	negative := false
	for {
		before := s
		upper := strings.ToUpper(s)
		switch {
		case strings.HasPrefix(upper, "EUR"):
			s = s[3:]
		case strings.HasSuffix(upper, "EUR"):
			s = s[:len(s)-3]
		case strings.HasSuffix(s, "€"):
			s = strings.TrimSuffix(s, "€")
		case strings.HasPrefix(s, "€"):
			s = strings.TrimPrefix(s, "€")
		case strings.HasSuffix(upper, "S") && hasDigitBefore(s):
			s, negative = s[:len(s)-1], true
		case strings.HasSuffix(upper, "H") && hasDigitBefore(s):
			s = s[:len(s)-1]
		case strings.HasPrefix(s, "-"), strings.HasSuffix(s, "-"):
			s, negative = strings.Trim(s, "-"), true
		case strings.HasPrefix(s, "−"):
			s, negative = strings.TrimPrefix(s, "−"), true
		case strings.HasPrefix(s, "+"), strings.HasSuffix(s, "+"):
			s = strings.Trim(s, "+")
		}
		s = strings.TrimSpace(s)
		if s == before {
			return s, negative
		}
	}
}

func hasDigitBefore(s string) bool {
	t := strings.TrimSpace(s[:len(s)-1])
	return t != "" && t[len(t)-1] >= '0' && t[len(t)-1] <= '9'
}

func stripThousands(s, sep string) (string, error) {
	if sep == "" || !strings.Contains(s, sep) {
		if !allDigits(s) {
			return "", fmt.Errorf("bad integer part %q", s)
		}
		return s, nil
	}
	groups := strings.Split(s, sep)
	if len(groups[0]) == 0 || len(groups[0]) > 3 {
		return "", fmt.Errorf("bad digit grouping %q", s)
	}
	for _, g := range groups {
		if !allDigits(g) {
			return "", fmt.Errorf("bad integer part %q", s)
		}
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return "", fmt.Errorf("bad digit grouping %q", s)
		}
	}
	return strings.Join(groups, ""), nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// FormatAmount renders d the German way, e.g. -1.234,56.
func FormatAmount(d decimal.Decimal) string {
	s := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	out := b.String() + "," + frac
	if d.IsNegative() {
		out = "-" + out
	}
	return out
}

// HasCents reports whether d has at most two fractional digits.
func HasCents(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(2))
}

// ToCents converts d to integer minor units. d must satisfy HasCents.
func ToCents(d decimal.Decimal) (int64, error) {
	if !HasCents(d) {
		return 0, fmt.Errorf("amount %s has more than 2 decimal places", d)
	}
	return d.Shift(2).IntPart(), nil
}

// FromCents converts integer minor units back to a decimal.
func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}
