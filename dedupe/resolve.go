package dedupe

import (
	"context"
	"fmt"

	"github.com/quay/zlog"

	"github.com/edusentry/edusentry"
	"github.com/edusentry/edusentry/datastore"
	"github.com/edusentry/edusentry/normalize"
)

// Decision reports how a candidate incident resolved against the store.
type Decision uint8

//go:generate stringer -type=Decision -linecomment

const (
	// DecisionNew means no stored incident shares a URL; insert the
	// candidate as-is.
	DecisionNew Decision = iota // new
	// DecisionMerged means the candidate merged into an existing unenriched
	// incident; update the returned incident under its id.
	DecisionMerged // merged
	// DecisionSubsetDrop means the candidate's URLs are a subset of an
	// enriched incident's; drop the payload, record only the attribution.
	DecisionSubsetDrop // subset-drop
	// DecisionURLUpgrade means the candidate widened an enriched incident's
	// URL set; the returned incident has the union and a cleared live flag
	// and must be written back keeping the enrichment block.
	DecisionURLUpgrade // url-upgrade
)

// Resolve matches a candidate against the store and decides its fate.
//
// The returned incident is the row the caller should persist: the candidate
// itself for DecisionNew, the merged or widened existing row otherwise. The
// existing row's id is always preserved so attributions, events, and
// articles keep their foreign-key tenant.
//
// Resolve only reads; persisting the outcome is the orchestrator's job, so
// the read and the write-back stay in the caller's transaction scope.
func Resolve(ctx context.Context, store datastore.IncidentStore, cand *edusentry.Incident) (Decision, *edusentry.Incident, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "dedupe/Resolve")
	urls := incidentURLs(cand)
	if len(urls) == 0 {
		return DecisionNew, cand, nil
	}
	matches, err := store.IncidentsByURLs(ctx, urls)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to match candidate %s: %w", cand.ID, err)
	}
	if len(matches) == 0 {
		return DecisionNew, cand, nil
	}

	// An enriched match outranks unenriched ones: its record is settled and
	// the subset/upgrade rules apply. Among several, the one with the best
	// extraction wins.
	var enriched *edusentry.Incident
	unenriched := matches[:0:0]
	for _, m := range matches {
		switch {
		case m.Enriched():
			if enriched == nil || m.ExtractionConfidence() > enriched.ExtractionConfidence() {
				enriched = m
			}
		default:
			unenriched = append(unenriched, m)
		}
	}

	if enriched != nil {
		if subsetOf(urls, enriched.URLs) {
			zlog.Debug(ctx).
				Str("candidate", cand.ID).
				Str("existing", enriched.ID).
				Msg("candidate is a subset of an enriched incident")
			return DecisionSubsetDrop, enriched, nil
		}
		// New URLs invalidate the enrichment: clear the live flag but keep
		// the block so a worse re-extraction can restore it.
		up := *enriched
		up.URLs = unionURLs([]*edusentry.Incident{enriched, cand})
		e := *enriched.Enrichment
		e.Enriched = false
		up.Enrichment = &e
		zlog.Debug(ctx).
			Str("candidate", cand.ID).
			Str("existing", enriched.ID).
			Int("urls", len(up.URLs)).
			Msg("candidate widened an enriched incident")
		return DecisionURLUpgrade, &up, nil
	}

	group := append([]*edusentry.Incident{cand}, unenriched...)
	merged := Merge(group)
	stored := false
	for _, m := range unenriched {
		if m.ID == merged.ID {
			stored = true
			break
		}
	}
	if !stored {
		// The candidate outranked the stored rows on confidence; its fields
		// win, but the id stays with the stored tenant.
		merged.ID = bestExistingID(unenriched)
	}
	zlog.Debug(ctx).
		Str("candidate", cand.ID).
		Str("existing", merged.ID).
		Msg("candidate merged into an unenriched incident")
	return DecisionMerged, merged, nil
}

// subsetOf reports whether every member of urls is present in have, compared
// under normalization.
func subsetOf(urls, have []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, u := range have {
		if n := normalize.URL(u); n != "" {
			set[n] = struct{}{}
		}
	}
	for _, u := range urls {
		n := normalize.URL(u)
		if n == "" {
			continue
		}
		if _, ok := set[n]; !ok {
			return false
		}
	}
	return true
}

// bestExistingID picks the id the merged record keeps: the highest-ranked
// stored row's, ties broken by id.
func bestExistingID(stored []*edusentry.Incident) string {
	best := stored[0]
	for _, m := range stored[1:] {
		if m.Confidence > best.Confidence || (m.Confidence == best.Confidence && m.ID < best.ID) {
			best = m
		}
	}
	return best.ID
}
