package ledger

import (
	"fmt"
	"strings"
	"time"
)

// MaxNormalizedDescription is the length cap of a normalized description.
const MaxNormalizedDescription = 200

// Fingerprint identifies "the same transaction" across imports. Two rows
// with equal fingerprints are one ledger row.
type Fingerprint struct {
	AccountID   int64
	BookingDate time.Time
	AmountCents int64
	Description string // normalized
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%d|%s|%d|%s", f.AccountID, formatDate(f.BookingDate), f.AmountCents, f.Description)
}

// NormalizeDescription strips and uppercases s, collapses whitespace, drops
// everything outside [A-Z0-9 .,/:-] and truncates to 200 characters.
func NormalizeDescription(s string) string {
	s = strings.ToUpper(strings.Join(strings.Fields(s), " "))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == ' ', r == '.', r == ',', r == '/', r == ':', r == '-':
		default:
			continue
		}
		b.WriteRune(r)
		if b.Len() == MaxNormalizedDescription {
			break
		}
	}
	return b.String()
}
