package clock

import (
	"errors"
	"strings"
	"time"

	"github.com/bher20/watermeter/internal/apperr"
)

var ErrInvalidDate = errors.New("invalid date")

var dateLayouts = []string{time.DateOnly, "02.01.2006", time.RFC3339, "2006-01-02 15:04"}

// ParseDate accepts YYYY-MM-DD, DD.MM.YYYY, RFC 3339 or "YYYY-MM-DD HH:MM".
// Values without a zone are taken as UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperr.Invalid(ErrInvalidDate, "date", "%q is not YYYY-MM-DD or DD.MM.YYYY", s)
}
