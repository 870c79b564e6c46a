// Package dedupe implements the cross-source deduplication engine: URL-graph
// clustering of a collection batch, confidence-ranked merging, the three-way
// resolution of a candidate against the store, and the post-enrichment
// institutional grouping.
package dedupe

import (
	"github.com/edusentry/edusentry"
	"github.com/edusentry/edusentry/normalize"
)

// Cluster partitions a batch of incidents into merge groups.
//
// Two incidents land in the same group when they share at least one URL
// under normalization, directly or through intermediaries; groups are the
// connected components of the incident–URL graph. Incidents with no
// normalizable URL are always singleton groups.
//
// Group order and within-group order follow the batch order, so equal inputs
// cluster equally.
func Cluster(batch []*edusentry.Incident) [][]*edusentry.Incident {
	uf := newUnionFind(len(batch))
	// First incident seen with each normalized URL.
	owner := make(map[string]int)
	for i, inc := range batch {
		for _, u := range incidentURLs(inc) {
			n := normalize.URL(u)
			if n == "" {
				continue
			}
			if j, ok := owner[n]; ok {
				uf.union(i, j)
				continue
			}
			owner[n] = i
		}
	}

	groups := make(map[int][]*edusentry.Incident)
	var roots []int
	for i, inc := range batch {
		r := uf.find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], inc)
	}
	out := make([][]*edusentry.Incident, 0, len(roots))
	for _, r := range roots {
		out = append(out, groups[r])
	}
	return out
}

// incidentURLs returns every URL the graph should consider for an incident:
// the full URL set plus the primary URL, which on freshly adapted records may
// not be folded into the set yet.
func incidentURLs(inc *edusentry.Incident) []string {
	if inc.PrimaryURL == "" || inc.HasURL(inc.PrimaryURL) {
		return inc.URLs
	}
	out := make([]string, 0, len(inc.URLs)+1)
	out = append(out, inc.URLs...)
	out = append(out, inc.PrimaryURL)
	return out
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := unionFind{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return &uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(i, j int) {
	ri, rj := uf.find(i), uf.find(j)
	if ri == rj {
		return
	}
	switch {
	case uf.rank[ri] < uf.rank[rj]:
		uf.parent[ri] = rj
	case uf.rank[ri] > uf.rank[rj]:
		uf.parent[rj] = ri
	default:
		uf.parent[rj] = ri
		uf.rank[ri]++
	}
}
