package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/edusentry/edusentry"
)

// Layouts tried in order. The first group is the canonical storage forms;
// the rest cover the natural-language dates sources put in prose.
var dateLayouts = []struct {
	layout    string
	precision edusentry.DatePrecision
}{
	{"2006-01-02", edusentry.PrecisionDay},
	{"2006-01", edusentry.PrecisionMonth},
	{"2006", edusentry.PrecisionYear},
	{"January 2, 2006", edusentry.PrecisionDay},
	{"Jan 2, 2006", edusentry.PrecisionDay},
	{"2 January 2006", edusentry.PrecisionDay},
	{"January 2006", edusentry.PrecisionMonth},
	{"Jan 2006", edusentry.PrecisionMonth},
}

// ParseDate parses an incident date tolerantly and reports how precise the
// input was. Month- and year-precision dates resolve to the first day of
// their period. Input that matches no known form returns an error; callers
// treat such dates as matching nothing.
func ParseDate(s string) (time.Time, edusentry.DatePrecision, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, edusentry.PrecisionUnknown, fmt.Errorf("empty date")
	}
	for _, l := range dateLayouts {
		t, err := time.Parse(l.layout, s)
		if err != nil {
			continue
		}
		return t, l.precision, nil
	}
	return time.Time{}, edusentry.PrecisionUnknown, fmt.Errorf("unrecognized date %q", s)
}

// DateString renders t at the given precision in the canonical storage form.
func DateString(t time.Time, p edusentry.DatePrecision) string {
	switch p {
	case edusentry.PrecisionDay:
		return t.Format("2006-01-02")
	case edusentry.PrecisionMonth:
		return t.Format("2006-01")
	case edusentry.PrecisionYear:
		return t.Format("2006")
	}
	return ""
}
