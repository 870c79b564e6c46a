package edusentry

import (
	"encoding/json"
	"time"
)

// Enrichment is the persisted result of the LLM extraction stage for one
// incident.
//
// The full extraction schema is much wider than what's stored inline; the
// remainder rides in Dynamics as an opaque JSON document so the store never
// needs a migration when the extraction schema grows.
type Enrichment struct {
	// Enriched is true while the block below reflects the incident's
	// current URL set. The deduplication engine clears it, without touching
	// the rest of the block, when a merge introduces new URLs.
	Enriched   bool      `json:"enriched"`
	EnrichedAt time.Time `json:"enriched_at"`
	// Summary is the extraction's narrative description of the attack.
	Summary string `json:"summary"`
	// Timeline is the ordered list of dated events the extraction found.
	Timeline []TimelineEntry `json:"timeline,omitempty"`
	// Techniques is the list of MITRE ATT&CK technique IDs, e.g. "T1486".
	Techniques []string `json:"techniques,omitempty"`
	// Dynamics carries the remainder of the extraction schema verbatim:
	// impact blocks, recovery metrics, geographic refinements.
	Dynamics json.RawMessage `json:"dynamics,omitempty"`
	// Confidence is the extraction's self-reported confidence in [0, 1].
	// The upgrade rule compares against it: a later extraction replaces
	// this block only with a strictly greater value.
	Confidence float64 `json:"confidence"`
	// Skipped marks incidents the extraction declined, e.g. reports that
	// turned out not to involve the education sector. Skipped rows are not
	// revisited.
	Skipped    bool   `json:"skipped,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`
}

// TimelineEntry is one dated event in an enrichment timeline.
type TimelineEntry struct {
	Date  string `json:"date"`
	Event string `json:"event"`
}
