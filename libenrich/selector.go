package libenrich

import (
	"context"
	"math/rand"

	"github.com/quay/zlog"

	"github.com/edusentry/edusentry"
	"github.com/edusentry/edusentry/normalize"
)

// overFetch is how many candidates are pulled per requested slot, so the
// domain-diverse pass has something to choose from.
const overFetch = 3

// selectCandidates implements the smart selector: the store hands back 3·n
// unenriched candidates in random order; the first pass takes at most one
// incident per fetchable domain, then remaining slots fill from the
// shuffled leftover pool.
//
// Randomness serves a purpose here: downstream sites cannot infer a scan
// order from the fetch sequence.
func (p *Pipeline) selectCandidates(ctx context.Context, n int) ([]*edusentry.Incident, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "libenrich/Pipeline.selectCandidates")
	cands, err := p.store.Unenriched(ctx, overFetch*n)
	if err != nil {
		return nil, err
	}
	picked := pick(cands, n, p.rnd, func(domain string) bool {
		if _, excluded := p.exclude[domain]; excluded {
			return false
		}
		return p.limiter.CanFetch(domain)
	})
	zlog.Debug(ctx).
		Int("candidates", len(cands)).
		Int("selected", len(picked)).
		Msg("selection complete")
	return picked, nil
}

// pick is the pure selection step, split out for tests.
func pick(cands []*edusentry.Incident, n int, rnd *rand.Rand, fetchable func(domain string) bool) []*edusentry.Incident {
	if n <= 0 || len(cands) == 0 {
		return nil
	}
	// Group candidates by the domain of their first fetchable URL,
	// remembering first-seen group order.
	byDomain := make(map[string][]*edusentry.Incident)
	var domains []string
	var poolless []*edusentry.Incident
	for _, c := range cands {
		d := firstFetchableDomain(c, fetchable)
		if d == "" {
			poolless = append(poolless, c)
			continue
		}
		if _, ok := byDomain[d]; !ok {
			domains = append(domains, d)
		}
		byDomain[d] = append(byDomain[d], c)
	}

	out := make([]*edusentry.Incident, 0, n)
	var leftovers []*edusentry.Incident
	for _, d := range domains {
		group := byDomain[d]
		if len(out) < n {
			out = append(out, group[0])
			group = group[1:]
		}
		leftovers = append(leftovers, group...)
	}
	leftovers = append(leftovers, poolless...)
	rnd.Shuffle(len(leftovers), func(i, j int) {
		leftovers[i], leftovers[j] = leftovers[j], leftovers[i]
	})
	for _, c := range leftovers {
		if len(out) >= n {
			break
		}
		out = append(out, c)
	}
	return out
}

// firstFetchableDomain returns the domain of the incident's first URL that
// is not broken and whose domain passes the fetchable test.
func firstFetchableDomain(inc *edusentry.Incident, fetchable func(domain string) bool) string {
	broken := make(map[string]struct{}, len(inc.BrokenURLs))
	for _, u := range inc.BrokenURLs {
		broken[u] = struct{}{}
	}
	for _, u := range inc.URLs {
		if _, bad := broken[u]; bad {
			continue
		}
		d := normalize.Domain(u)
		if d == "" || !fetchable(d) {
			continue
		}
		return d
	}
	return ""
}
