// Package edusentry defines the core types shared by the ingestion,
// deduplication, and enrichment subsystems.
package edusentry

import (
	"time"
)

// Incident is a deduplicated report of one attack on one education-sector
// institution.
//
// An Incident's ID is computed once, at creation time, via NewIncidentID and
// never changes afterwards, even when later reports merge into it.
type Incident struct {
	// Unique, stable id of this incident. Used for persistence and as the
	// foreign-key target of attributions, events, and articles.
	ID string `json:"id"`
	// Victim label exactly as the source reported it.
	Victim string `json:"victim"`
	// Victim label normalized for matching. See normalize.Institution.
	VictimNormalized string `json:"victim_normalized"`
	// Kind of institution affected.
	InstitutionType InstitutionType `json:"institution_type"`
	// ISO-2 country code when the source provides one.
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
	// Date the attack occurred, as "YYYY-MM-DD", "YYYY-MM", or "YYYY".
	// Precision records how much of it is meaningful.
	IncidentDate  string        `json:"incident_date"`
	DatePrecision DatePrecision `json:"date_precision"`
	// When the source published the report.
	SourcePublished time.Time `json:"source_published"`
	Title           string    `json:"title"`
	Subtitle        string    `json:"subtitle"`
	// PrimaryURL is the article elected by enrichment as most informative.
	// Empty until enrichment selects one.
	PrimaryURL string `json:"primary_url"`
	// URLs is the ordered set of every URL any attributed source supplied
	// for this incident. Set identity is judged under URL normalization.
	URLs []string `json:"urls"`
	// BrokenURLs lists members of URLs whose most recent fetch failed to
	// yield usable article content.
	BrokenURLs []string `json:"broken_urls"`
	// AttackType is the source's hint, e.g. "ransomware".
	AttackType string     `json:"attack_type"`
	Status     Status     `json:"status"`
	Confidence Confidence `json:"confidence"`
	// Notes accumulates free-form annotations, including the
	// "merged_from=..." trail written by the deduplication engine.
	Notes string `json:"notes"`
	// Enrichment is nil until the enrichment pipeline has visited the
	// incident at least once. A non-nil block with Enriched false marks a
	// row whose URL set grew after enrichment and is awaiting a revisit.
	Enrichment  *Enrichment `json:"enrichment,omitempty"`
	LastUpdated time.Time   `json:"last_updated"`
}

// Enriched reports whether the incident currently carries a live enrichment.
func (i *Incident) Enriched() bool {
	return i.Enrichment != nil && i.Enrichment.Enriched
}

// HasURL reports whether u is present in the incident's URL set, compared
// byte-for-byte. Callers needing identity under normalization should
// normalize both sides first.
func (i *Incident) HasURL(u string) bool {
	for _, have := range i.URLs {
		if have == u {
			return true
		}
	}
	return false
}

// ExtractionConfidence returns the stored enrichment confidence, or 0 if the
// incident has never been enriched.
func (i *Incident) ExtractionConfidence() float64 {
	if i.Enrichment == nil {
		return 0
	}
	return i.Enrichment.Confidence
}
