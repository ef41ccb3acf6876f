package insurerapi

import (
	"fmt"
	"time"

	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/entities"
	apperrors "github.com/zatekoja/insurance-eligibility/backend/pkg/errors"
)

// DateLayout is the insurer's tglSEP format
const DateLayout = "2006-01-02"

// ValidateCardNumber requires exactly 13 ASCII digits
func ValidateCardNumber(cardNumber string) error {
	if !isDigits(cardNumber, entities.CardNumberLength) {
		return apperrors.NewValidationError(fmt.Sprintf("card number must be exactly %d digits", entities.CardNumberLength))
	}
	return nil
}

// ValidateNationalID requires exactly 16 ASCII digits
func ValidateNationalID(nationalID string) error {
	if !isDigits(nationalID, entities.NationalIDLength) {
		return apperrors.NewValidationError(fmt.Sprintf("national id must be exactly %d digits", entities.NationalIDLength))
	}
	return nil
}

// DefaultLocation is the insurer's business day, Western Indonesia Time
var DefaultLocation = time.FixedZone("WIB", 7*60*60)

// ValidateAsOfDate rejects dates after today in loc. asOfDate is a calendar
// date; its own year, month and day are compared with the day now falls on
// in loc.
func ValidateAsOfDate(asOfDate, now time.Time, loc *time.Location) error {
	if asOfDate.IsZero() {
		return apperrors.NewValidationError("as of date is required")
	}
	if calendarDay(asOfDate).After(Today(now, loc)) {
		return apperrors.NewValidationError("as of date must not be in the future")
	}
	return nil
}

// Today returns the calendar day now falls on in loc, as UTC midnight
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = DefaultLocation
	}
	return calendarDay(now.In(loc))
}

func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func isDigits(value string, length int) bool {
	if len(value) != length {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return false
		}
	}
	return true
}
