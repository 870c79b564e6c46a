package normalize

import (
	"testing"
	"time"

	"github.com/edusentry/edusentry"
)

func TestParseDate(t *testing.T) {
	tt := []struct {
		Name      string
		In        string
		Want      time.Time
		Precision edusentry.DatePrecision
	}{
		{
			Name:      "Day",
			In:        "2025-01-15",
			Want:      time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
			Precision: edusentry.PrecisionDay,
		},
		{
			Name:      "Month",
			In:        "2025-01",
			Want:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			Precision: edusentry.PrecisionMonth,
		},
		{
			Name:      "Year",
			In:        "2025",
			Want:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			Precision: edusentry.PrecisionYear,
		},
		{
			Name:      "LongForm",
			In:        "January 15, 2025",
			Want:      time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
			Precision: edusentry.PrecisionDay,
		},
		{
			Name:      "ShortForm",
			In:        "Jan 15, 2025",
			Want:      time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
			Precision: edusentry.PrecisionDay,
		},
		{
			Name:      "European",
			In:        "15 January 2025",
			Want:      time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
			Precision: edusentry.PrecisionDay,
		},
		{
			Name:      "MonthWord",
			In:        "January 2025",
			Want:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			Precision: edusentry.PrecisionMonth,
		},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			got, p, err := ParseDate(tc.In)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(tc.Want) {
				t.Errorf("got: %v, want: %v", got, tc.Want)
			}
			if p != tc.Precision {
				t.Errorf("got precision: %v, want: %v", p, tc.Precision)
			}
		})
	}

	for _, bad := range []string{"", "soon", "2025-13-40", "nope 2025 nope"} {
		if _, _, err := ParseDate(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestDateString(t *testing.T) {
	d := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	tt := []struct {
		P    edusentry.DatePrecision
		Want string
	}{
		{P: edusentry.PrecisionDay, Want: "2025-01-15"},
		{P: edusentry.PrecisionMonth, Want: "2025-01"},
		{P: edusentry.PrecisionYear, Want: "2025"},
		{P: edusentry.PrecisionUnknown, Want: ""},
	}
	for _, tc := range tt {
		if got := DateString(d, tc.P); got != tc.Want {
			t.Errorf("got: %q, want: %q", got, tc.Want)
		}
	}
}
