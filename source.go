package edusentry

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// SourceRecord is one incident report exactly as a source adapter emitted
// it, before deduplication.
type SourceRecord struct {
	// Source is the emitting adapter's tag, e.g. "k12six".
	Source string `json:"source"`
	// SourceEventID is the source-native identifier for this report, when
	// the source has one. May be empty.
	SourceEventID string `json:"source_event_id,omitempty"`
	// Incident carries the report's attribute tuple. Its ID must have been
	// derived via NewIncidentID.
	Incident *Incident `json:"incident"`
}

// EventKey returns the key used in the per-source event ledger: the
// source-native id when present, else the first URL, else the incident id.
func (r *SourceRecord) EventKey() string {
	switch {
	case r.SourceEventID != "":
		return r.SourceEventID
	case len(r.Incident.URLs) != 0:
		return r.Incident.URLs[0]
	default:
		return r.Incident.ID
	}
}

// NewIncidentID derives the stable identity for an incident first reported
// by the named source.
//
// The canonical key is the victim label, country, incident date, and first
// URL, lowercased and joined; the id is the source tag followed by the first
// 16 hex digits of the key's SHA-256. Identity never changes after creation,
// so later merges keep the winning record's id.
func NewIncidentID(source, victim, country, date, firstURL string) string {
	key := strings.ToLower(victim + "|" + country + "|" + date + "|" + firstURL)
	sum := sha256.Sum256([]byte(key))
	return source + "-" + hex.EncodeToString(sum[:8])
}

// Attribution records one source's claim that an incident exists.
//
// Attributions are append-only: deduplication adds them and nothing removes
// them short of the incident itself being deleted.
type Attribution struct {
	IncidentID    string     `json:"incident_id"`
	Source        string     `json:"source"`
	SourceEventID string     `json:"source_event_id,omitempty"`
	FirstSeen     time.Time  `json:"first_seen"`
	Confidence    Confidence `json:"confidence"`
}
