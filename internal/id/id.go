package id

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	runStampFormat = "20060102T150405"
	maxRunIDLen    = 64
)

// NewRunID returns a run identifier like "20251104T101500-1a2b3c4d".
// The timestamp prefix keeps run IDs sortable by start time.
func NewRunID(started time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return FormatRunID(started, suffix)
}

// FormatRunID joins a start time and a suffix into a run identifier.
func FormatRunID(started time.Time, suffix string) string {
	return started.UTC().Format(runStampFormat) + "-" + suffix
}

// ValidateRunID checks an operator-supplied run identifier. Any non-empty
// string of letters, digits, '-', '_' and '.' up to 64 characters is accepted.
func ValidateRunID(runID string) error {
	if runID == "" {
		return fmt.Errorf("run ID must not be empty")
	}
	if len(runID) > maxRunIDLen {
		return fmt.Errorf("run ID %q longer than %d characters", runID, maxRunIDLen)
	}
	for _, r := range runID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("run ID %q contains invalid character %q", runID, r)
		}
	}
	return nil
}
