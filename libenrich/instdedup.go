package libenrich

import (
	"context"
	"sort"
	"time"

	"github.com/quay/zlog"

	"github.com/edusentry/edusentry"
	"github.com/edusentry/edusentry/datastore"
	"github.com/edusentry/edusentry/dedupe"
)

// DedupEnriched is the post-enrichment institutional dedup pass: among
// enriched incidents naming the same institution within the date window, the
// one with the highest extraction confidence survives and the rest are
// deleted. Reports how many incidents were removed.
func DedupEnriched(ctx context.Context, store datastore.Store, window time.Duration) (int, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "libenrich/DedupEnriched")
	incs, err := store.Enriched(ctx)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, group := range dedupe.InstitutionGroups(incs, window) {
		keep, losers := splitKeeper(group)
		ids := make([]string, len(losers))
		for i, l := range losers {
			ids[i] = l.ID
		}
		n, err := store.DeleteIncidents(ctx, ids...)
		if err != nil {
			return deleted, err
		}
		deleted += int(n)
		zlog.Info(ctx).
			Str("kept", keep.ID).
			Str("victim", keep.Victim).
			Strs("deleted", ids).
			Msg("institutional duplicates removed")
	}
	return deleted, nil
}

func (p *Pipeline) dedupInstitutions(ctx context.Context) (int, error) {
	return DedupEnriched(ctx, p.store, p.dedupWindow)
}

// splitKeeper orders a group by extraction confidence, highest first, and
// returns the winner and the rest. Ties break toward the lower ID so the
// outcome is stable across runs.
func splitKeeper(group []*edusentry.Incident) (*edusentry.Incident, []*edusentry.Incident) {
	ranked := make([]*edusentry.Incident, len(group))
	copy(ranked, group)
	sort.SliceStable(ranked, func(i, j int) bool {
		ci, cj := ranked[i].ExtractionConfidence(), ranked[j].ExtractionConfidence()
		if ci != cj {
			return ci > cj
		}
		return ranked[i].ID < ranked[j].ID
	})
	return ranked[0], ranked[1:]
}
