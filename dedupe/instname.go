package dedupe

import (
	"sort"
	"time"

	"github.com/edusentry/edusentry"
	"github.com/edusentry/edusentry/normalize"
)

// InstitutionGroups partitions incidents into groups reporting the same
// real-world event: members share a normalized institution name and their
// incident dates chain within the window (each member is within window days
// of its date-order neighbor).
//
// Incidents with an empty normalized name or an unparseable date match
// nothing and are left out entirely. Only groups with two or more members
// are returned.
func InstitutionGroups(incs []*edusentry.Incident, window time.Duration) [][]*edusentry.Incident {
	type dated struct {
		inc  *edusentry.Incident
		date time.Time
	}
	byName := make(map[string][]dated)
	var names []string
	for _, inc := range incs {
		name := inc.VictimNormalized
		if name == "" {
			name = normalize.Institution(inc.Victim)
		}
		if name == "" {
			continue
		}
		t, _, err := normalize.ParseDate(inc.IncidentDate)
		if err != nil {
			continue
		}
		if _, ok := byName[name]; !ok {
			names = append(names, name)
		}
		byName[name] = append(byName[name], dated{inc: inc, date: t})
	}
	sort.Strings(names)

	var out [][]*edusentry.Incident
	for _, name := range names {
		ds := byName[name]
		sort.Slice(ds, func(i, j int) bool {
			if !ds[i].date.Equal(ds[j].date) {
				return ds[i].date.Before(ds[j].date)
			}
			return ds[i].inc.ID < ds[j].inc.ID
		})
		start := 0
		for i := 1; i <= len(ds); i++ {
			if i < len(ds) && ds[i].date.Sub(ds[i-1].date) <= window {
				continue
			}
			if i-start >= 2 {
				group := make([]*edusentry.Incident, 0, i-start)
				for _, d := range ds[start:i] {
					group = append(group, d.inc)
				}
				out = append(out, group)
			}
			start = i
		}
	}
	return out
}
