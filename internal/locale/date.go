package locale

import (
	"fmt"
	"strings"
	"time"
)

// MaxShortDateLead is how far past the reference date a year-less date may
// fall before it is moved to the previous year.
const MaxShortDateLead = 14 * 24 * time.Hour

// ParseDate decodes DD.MM.YYYY or DD.MM.YY. Two-digit years map to 2000-2099.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	layout := ""
	switch len(s) {
	case len("02.01.2006"):
		layout = "02.01.2006"
	case len("02.01.06"):
		layout = "02.01.06"
	default:
		return time.Time{}, fmt.Errorf("parsing date %q: unexpected length", s)
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	if layout == "02.01.06" && t.Year() < 2000 {
		t = t.AddDate(100, 0, 0)
	}
	return t, nil
}

// ParseShortDate decodes "DD.MM." (or "DD.MM") using the year of ref. When
// the result would lie more than MaxShortDateLead after ref, the previous
// year is used, so December rows on a January statement resolve correctly.
func ParseShortDate(s string, ref time.Time) (time.Time, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), ".")
	if ref.IsZero() {
		return time.Time{}, fmt.Errorf("parsing date %q: no reference year", s)
	}
	t, err := time.Parse("02.01.2006", fmt.Sprintf("%s.%04d", s, ref.Year()))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	if t.Sub(ref) > MaxShortDateLead {
		t = t.AddDate(-1, 0, 0)
	}
	return t, nil
}

// Date truncates t to midnight UTC.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
