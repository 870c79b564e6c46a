package dedupe

import (
	"sort"
	"strings"

	"github.com/edusentry/edusentry"
	"github.com/edusentry/edusentry/normalize"
)

// Merge collapses one cluster into a single incident.
//
// Members are ranked by source confidence, high first, ties broken by id so
// the result is independent of input order. The highest-ranked member is
// primary: the merged record keeps its id, status, and confidence, takes each
// scalar field from the first member in rank order that has it, and unions
// the URL sets. An unenriched merged record has no elected primary URL. The
// sorted list of contributing source tags is appended to the notes as a
// "merged_from=" line.
//
// Merge does not touch enrichment blocks; merging enriched rows is the
// business of Resolve.
func Merge(group []*edusentry.Incident) *edusentry.Incident {
	if len(group) == 0 {
		return nil
	}
	ranked := make([]*edusentry.Incident, len(group))
	copy(ranked, group)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		return ranked[i].ID < ranked[j].ID
	})
	if len(ranked) == 1 {
		return ranked[0]
	}

	primary := ranked[0]
	out := *primary
	out.PrimaryURL = ""
	out.URLs = unionURLs(ranked)
	out.BrokenURLs = nil

	for _, m := range ranked[1:] {
		fillScalars(&out, m)
	}

	tags := make([]string, 0, len(ranked))
	seen := make(map[string]struct{}, len(ranked))
	for _, m := range ranked {
		tag := SourceTag(m.ID)
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	line := "merged_from=" + strings.Join(tags, ",")
	if out.Notes != "" {
		out.Notes += "\n"
	}
	out.Notes += line
	return &out
}

// SourceTag extracts the source tag from an incident id, which is the tag
// followed by "-" and a 16-hex-digit hash prefix.
func SourceTag(id string) string {
	if i := strings.LastIndexByte(id, '-'); i >= 0 {
		return id[:i]
	}
	return id
}

// unionURLs unions the members' URL sets in rank order, judging identity
// under normalization but keeping the first-seen original form.
func unionURLs(ranked []*edusentry.Incident) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range ranked {
		for _, u := range incidentURLs(m) {
			n := normalize.URL(u)
			if n == "" {
				continue
			}
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, u)
		}
	}
	return out
}

// fillScalars copies m's scalar fields into dst where dst's are empty.
func fillScalars(dst, m *edusentry.Incident) {
	if dst.Victim == "" {
		dst.Victim = m.Victim
		dst.VictimNormalized = m.VictimNormalized
	}
	if dst.VictimNormalized == "" {
		dst.VictimNormalized = m.VictimNormalized
	}
	if dst.InstitutionType == edusentry.InstitutionUnknown {
		dst.InstitutionType = m.InstitutionType
	}
	if dst.Country == "" {
		dst.Country = m.Country
	}
	if dst.Region == "" {
		dst.Region = m.Region
	}
	if dst.City == "" {
		dst.City = m.City
	}
	if dst.IncidentDate == "" {
		dst.IncidentDate = m.IncidentDate
		dst.DatePrecision = m.DatePrecision
	}
	if dst.SourcePublished.IsZero() {
		dst.SourcePublished = m.SourcePublished
	}
	if dst.Title == "" {
		dst.Title = m.Title
	}
	if dst.Subtitle == "" {
		dst.Subtitle = m.Subtitle
	}
	if dst.AttackType == "" {
		dst.AttackType = m.AttackType
	}
}
