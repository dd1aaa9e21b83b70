package billing

import (
	"time"

	"github.com/bher20/watermeter/internal/apperr"
)

// Period is a closed billing interval [Start, End].
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// MonthPeriod returns the bounds of a calendar month in UTC: the first
// instant of the month through one second before the next month starts.
func MonthPeriod(year, month int) (Period, error) {
	if month < 1 || month > 12 {
		return Period{}, apperr.Invalid(ErrInvalidPeriod, "month", "must be between 1 and 12, got %d", month)
	}
	if year < 1 {
		return Period{}, apperr.Invalid(ErrInvalidPeriod, "year", "must be positive, got %d", year)
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	next := start.AddDate(0, 1, 0)
	return Period{Start: start, End: next.Add(-time.Second)}, nil
}

// Next returns the first instant after the period.
func (p Period) Next() time.Time {
	return p.End.Add(time.Second)
}

// PreviousMonth returns the year and month before the month containing t.
func PreviousMonth(t time.Time) (int, int) {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	prev := first.AddDate(0, -1, 0)
	return prev.Year(), int(prev.Month())
}
