package ledger

import (
	"fmt"
	"time"

	"github.com/cleared-dev/auszug/internal/locale"
	"github.com/cleared-dev/auszug/internal/model"
)

// MaxValueDateSkew bounds the distance between booking and value date.
const MaxValueDateSkew = 14 * 24 * time.Hour

// Rule names a transaction invariant.
type Rule string

const (
	RuleFutureBooking  Rule = "future-booking-date"
	RuleValueDateSkew  Rule = "value-date-skew"
	RuleSubCentAmount  Rule = "sub-cent-amount"
	RuleMissingBooking Rule = "missing-booking-date"
)

// ValidationError describes a single invariant violation.
type ValidationError struct {
	Rule        Rule
	Line        int
	Description string
}

func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s [line %d]: %s", e.Rule, e.Line, e.Description)
	}
	return fmt.Sprintf("%s: %s", e.Rule, e.Description)
}

// ValidateTransaction checks one parsed row against the ledger invariants
// relative to the run clock.
func ValidateTransaction(tx model.StatementTransaction, now time.Time) []ValidationError {
	var errs []ValidationError

	if tx.BookingDate.IsZero() {
		errs = append(errs, ValidationError{
			Rule:        RuleMissingBooking,
			Line:        tx.Line,
			Description: "booking date is missing",
		})
		return errs
	}

	today := locale.Date(now)
	if locale.Date(tx.BookingDate).After(today) {
		errs = append(errs, ValidationError{
			Rule:        RuleFutureBooking,
			Line:        tx.Line,
			Description: fmt.Sprintf("booking date %s is after %s", formatDate(tx.BookingDate), formatDate(today)),
		})
	}

	if tx.ValueDate != nil {
		skew := locale.Date(*tx.ValueDate).Sub(locale.Date(tx.BookingDate))
		if skew > MaxValueDateSkew || skew < -MaxValueDateSkew {
			errs = append(errs, ValidationError{
				Rule: RuleValueDateSkew,
				Line: tx.Line,
				Description: fmt.Sprintf("value date %s more than 14 days from booking date %s",
					formatDate(*tx.ValueDate), formatDate(tx.BookingDate)),
			})
		}
	}

	if !locale.HasCents(tx.Amount) {
		errs = append(errs, ValidationError{
			Rule:        RuleSubCentAmount,
			Line:        tx.Line,
			Description: fmt.Sprintf("amount %s has more than 2 decimal places", tx.Amount),
		})
	}

	return errs
}
