package libingest

// Stats tallies what one ingestion run did.
type Stats struct {
	// New is incidents inserted for the first time.
	New int
	// Merged is records folded into an existing unenriched incident.
	Merged int
	// Duplicates is subset-drops against enriched incidents.
	Duplicates int
	// Upgraded is records that widened an enriched incident's URL set.
	Upgraded int
	// AlreadySeen is records skipped by the per-source event ledger.
	AlreadySeen int
	// RecordErrors is records that failed their ingest step.
	RecordErrors int
	// AdapterErrors is adapters whose Fetch returned an error.
	AdapterErrors int
}

// NewStats returns a zeroed Stats.
func NewStats() *Stats { return &Stats{} }

// Total is the count of records that went through the ingest step.
func (s *Stats) Total() int {
	return s.New + s.Merged + s.Duplicates + s.Upgraded + s.AlreadySeen + s.RecordErrors
}
