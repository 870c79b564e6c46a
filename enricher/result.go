package enricher

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/edusentry/edusentry"
)

// Result is the full extraction schema, as the backend emits it after
// standardization: monetary amounts are integer minor units, durations are
// integer hours.
type Result struct {
	// IsEducationRelated is the extraction's judgement that the incident
	// involves the education sector at all. False makes the rest of the
	// result advisory only; the consumer marks the incident skipped with
	// NotEducationReason.
	IsEducationRelated bool   `json:"is_education_related"`
	NotEducationReason string `json:"not_education_reason,omitempty"`

	// Refinements of the ingested attributes. Empty fields leave the
	// stored value alone.
	Victim          string        `json:"victim,omitempty"`
	InstitutionType string        `json:"institution_type,omitempty"`
	Geo             GeoRefinement `json:"geo,omitempty"`
	IncidentDate    string        `json:"incident_date,omitempty"`
	AttackType      string        `json:"attack_type,omitempty"`
	Confirmed       bool          `json:"confirmed,omitempty"`

	Summary    string                    `json:"summary"`
	Timeline   []edusentry.TimelineEntry `json:"timeline,omitempty"`
	Techniques []string                  `json:"techniques,omitempty"`
	Dynamics   AttackDynamics            `json:"attack_dynamics"`

	// PrimaryURL is the one article the extraction elected as most
	// informative; it must be one of the supplied articles' URLs.
	PrimaryURL string `json:"primary_url"`
	// URLScores rates every supplied article by URL.
	URLScores map[string]URLScore `json:"url_scores,omitempty"`

	// ExtractionConfidence is the extraction's self-assessment in [0, 1].
	ExtractionConfidence float64 `json:"extraction_confidence"`
}

// URLScore is the extraction's judgement of one article URL.
type URLScore struct {
	Value  float64 `json:"value"`
	Reason string  `json:"reason,omitempty"`
}

// GeoRefinement narrows the incident's location.
type GeoRefinement struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// AttackDynamics is the structured how-and-what of the attack.
type AttackDynamics struct {
	Vector     string           `json:"vector,omitempty"`
	Actor      string           `json:"actor,omitempty"`
	ActorType  string           `json:"actor_type,omitempty"`
	Data       DataImpact       `json:"data_impact,omitempty"`
	Systems    SystemImpact     `json:"system_impact,omitempty"`
	Users      UserImpact       `json:"user_impact,omitempty"`
	Financial  FinancialImpact  `json:"financial_impact,omitempty"`
	Regulatory RegulatoryImpact `json:"regulatory_impact,omitempty"`
	Recovery   Recovery         `json:"recovery,omitempty"`
}

// DataImpact describes what data the attack touched.
type DataImpact struct {
	RecordsAffected int64    `json:"records_affected,omitempty"`
	DataTypes       []string `json:"data_types,omitempty"`
	Exfiltrated     bool     `json:"exfiltrated,omitempty"`
	LeakSitePosted  bool     `json:"leak_site_posted,omitempty"`
}

// SystemImpact describes which systems went down and for how long.
type SystemImpact struct {
	Systems       []string `json:"systems,omitempty"`
	Services      []string `json:"services,omitempty"`
	DowntimeHours Hours    `json:"downtime_hours,omitempty"`
}

// UserImpact describes who was affected.
type UserImpact struct {
	UsersAffected      int64    `json:"users_affected,omitempty"`
	Groups             []string `json:"groups,omitempty"`
	CredentialsExposed bool     `json:"credentials_exposed,omitempty"`
}

// FinancialImpact holds the monetary fallout, in minor units.
type FinancialImpact struct {
	RansomDemanded Money `json:"ransom_demanded,omitempty"`
	RansomPaid     Money `json:"ransom_paid,omitempty"`
	RecoveryCost   Money `json:"recovery_cost,omitempty"`
	Insured        bool  `json:"insured,omitempty"`
}

// RegulatoryImpact lists the legal consequences so far.
type RegulatoryImpact struct {
	Notifications  []string `json:"notifications,omitempty"`
	Investigations []string `json:"investigations,omitempty"`
	Fines          Money    `json:"fines,omitempty"`
}

// Recovery describes how the institution got back up.
type Recovery struct {
	TimeToRecover Hours  `json:"time_to_recover_hours,omitempty"`
	BackupsUsed   bool   `json:"backups_used,omitempty"`
	RansomOutcome string `json:"ransom_outcome,omitempty"`
}

// Money is a monetary amount in integer minor units (cents).
//
// Backends are inconsistent about money: its UnmarshalJSON standardizes
// numbers (taken as major units), numeric strings, and prose amounts like
// "$1.2 million" or "€500k".
type Money int64

func (m *Money) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = 0
		return nil
	}
	if b[0] != '"' {
		f, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return fmt.Errorf("money: %w", err)
		}
		*m = Money(math.Round(f * 100))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMoney converts a prose amount to minor units.
func ParseMoney(s string) (Money, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "unknown" || s == "undisclosed" || s == "n/a" {
		return 0, nil
	}
	s = strings.TrimLeft(s, "$€£ ")
	s = strings.ReplaceAll(s, ",", "")
	mult := 1.0
	// Longest suffixes first, or "million" would lose its trailing "m".
	for _, sc := range []struct {
		suffix string
		mult   float64
	}{
		{"thousand", 1e3},
		{"million", 1e6},
		{"billion", 1e9},
		{"usd", 1},
		{"k", 1e3},
		{"m", 1e6},
		{"b", 1e9},
	} {
		if strings.HasSuffix(s, sc.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, sc.suffix))
			mult = sc.mult
			break
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("money: unparseable amount %q", s)
	}
	return Money(math.Round(f * mult * 100)), nil
}

// Hours is a duration in integer hours.
//
// UnmarshalJSON standardizes numbers (hours), numeric strings, and prose
// durations like "3 days" or "2 weeks".
type Hours int

func (h *Hours) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*h = 0
		return nil
	}
	if b[0] != '"' {
		f, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return fmt.Errorf("hours: %w", err)
		}
		*h = Hours(math.Round(f))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseHours(s)
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// ParseHours converts a prose duration to whole hours.
func ParseHours(s string) (Hours, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "unknown" || s == "n/a" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return Hours(math.Round(d.Hours())), nil
	}
	fields := strings.Fields(s)
	f, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("hours: unparseable duration %q", s)
	}
	unit := "hours"
	if len(fields) > 1 {
		unit = fields[1]
	}
	switch {
	case strings.HasPrefix(unit, "hour"), unit == "h":
		// as-is
	case strings.HasPrefix(unit, "day"), unit == "d":
		f *= 24
	case strings.HasPrefix(unit, "week"), unit == "w":
		f *= 24 * 7
	case strings.HasPrefix(unit, "month"):
		f *= 24 * 30
	case strings.HasPrefix(unit, "minute"), unit == "min":
		f /= 60
	default:
		return 0, fmt.Errorf("hours: unknown unit in %q", s)
	}
	return Hours(math.Round(f)), nil
}

// Validate checks the result against the articles the extraction was shown.
func (r *Result) Validate(articles []*edusentry.Article) error {
	if r.ExtractionConfidence < 0 || r.ExtractionConfidence > 1 {
		return fmt.Errorf("extraction confidence %v outside [0, 1]", r.ExtractionConfidence)
	}
	if !r.IsEducationRelated {
		// Nothing else matters; the incident is skipped.
		return nil
	}
	if r.Summary == "" {
		return fmt.Errorf("empty summary")
	}
	urls := make(map[string]struct{}, len(articles))
	for _, a := range articles {
		urls[a.URL] = struct{}{}
	}
	if r.PrimaryURL == "" {
		return fmt.Errorf("no primary url elected")
	}
	if _, ok := urls[r.PrimaryURL]; !ok {
		return fmt.Errorf("primary url %q not among the supplied articles", r.PrimaryURL)
	}
	for u, sc := range r.URLScores {
		if _, ok := urls[u]; !ok {
			return fmt.Errorf("scored url %q not among the supplied articles", u)
		}
		if sc.Value < 0 || sc.Value > 1 {
			return fmt.Errorf("url score %v for %q outside [0, 1]", sc.Value, u)
		}
	}
	return nil
}

// Enrichment converts the result to the block the store persists. The
// dynamics ride as an opaque JSON document.
func (r *Result) Enrichment(now time.Time) (*edusentry.Enrichment, error) {
	dynamics, err := json.Marshal(&r.Dynamics)
	if err != nil {
		return nil, err
	}
	return &edusentry.Enrichment{
		Enriched:   true,
		EnrichedAt: now,
		Summary:    r.Summary,
		Timeline:   r.Timeline,
		Techniques: r.Techniques,
		Dynamics:   dynamics,
		Confidence: r.ExtractionConfidence,
	}, nil
}
