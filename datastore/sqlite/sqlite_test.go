package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/quay/zlog"

	"github.com/edusentry/edusentry"
	"github.com/edusentry/edusentry/datastore"
)

func newTestStore(t *testing.T) (context.Context, *Store) {
	t.Helper()
	ctx := zlog.Test(context.Background(), t)
	path := filepath.Join(t.TempDir(), "edusentry.db")
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Error(err)
		}
	})
	return ctx, s
}

func testIncident(id string, urls ...string) *edusentry.Incident {
	return &edusentry.Incident{
		ID:               id,
		Victim:           "Test University",
		VictimNormalized: "test",
		InstitutionType:  edusentry.InstitutionUniversity,
		Country:          "US",
		IncidentDate:     "2025-01-15",
		DatePrecision:    edusentry.PrecisionDay,
		SourcePublished:  time.Date(2025, 1, 16, 8, 0, 0, 0, time.UTC),
		Title:            "Ransomware at Test University",
		URLs:             urls,
		AttackType:       "ransomware",
		Status:           edusentry.StatusSuspected,
		Confidence:       edusentry.ConfidenceMedium,
	}
}

var ignoreUpdated = cmpopts.IgnoreFields(edusentry.Incident{}, "LastUpdated")

func TestOpen(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	path := filepath.Join(t.TempDir(), "edusentry.db")

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := s.Initialized(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("writer open should have migrated the schema")
	}
	if err := s.InsertIncident(ctx, testIncident("src-0000000000000001", "https://example.com/a")); err != nil {
		t.Fatal(err)
	}

	ro, err := Open(ctx, path, ReadOnly())
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := ro.Close(); err != nil {
			t.Error(err)
		}
	}()
	if _, err := ro.GetIncident(ctx, "src-0000000000000001"); err != nil {
		t.Errorf("read through read-only handle: %v", err)
	}
	if err := ro.InsertIncident(ctx, testIncident("src-0000000000000002")); err == nil {
		t.Error("write through read-only handle should fail")
	}

	if err := s.Close(); err != nil {
		t.Error(err)
	}
}

func TestIncidentRoundTrip(t *testing.T) {
	ctx, s := newTestStore(t)
	want := testIncident("k12six-00000000000000aa", "https://example.com/breach", "https://news.example.org/story?id=7")
	want.Region = "CA"
	want.City = "Testville"
	want.Subtitle = "District systems offline"
	want.BrokenURLs = []string{"https://dead.example.com/x"}
	want.Notes = "initial report"
	want.Enrichment = &edusentry.Enrichment{
		Enriched:   true,
		EnrichedAt: time.Date(2025, 1, 17, 12, 0, 0, 0, time.UTC),
		Summary:    "Ransomware encrypted district file servers.",
		Timeline: []edusentry.TimelineEntry{
			{Date: "2025-01-15", Event: "initial access"},
			{Date: "2025-01-16", Event: "encryption"},
		},
		Techniques: []string{"T1486", "T1566"},
		Dynamics:   json.RawMessage(`{"ransom_demanded":true}`),
		Confidence: 0.85,
	}
	want.PrimaryURL = "https://example.com/breach"

	if err := s.InsertIncident(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetIncident(ctx, want.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(want, got, ignoreUpdated) {
		t.Error(cmp.Diff(want, got, ignoreUpdated))
	}
	if got.LastUpdated.IsZero() {
		t.Error("last_updated_at not set")
	}

	if _, err := s.GetIncident(ctx, "nope-0000000000000000"); !errors.Is(err, datastore.ErrNotFound) {
		t.Errorf("want ErrNotFound, got: %v", err)
	}
}

func TestUpdateIncidentKeepsEnrichment(t *testing.T) {
	ctx, s := newTestStore(t)
	inc := testIncident("src-00000000000000bb", "https://example.com/u1")
	inc.PrimaryURL = "https://example.com/u1"
	inc.Enrichment = &edusentry.Enrichment{
		Enriched:   true,
		EnrichedAt: time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC),
		Summary:    "original summary",
		Confidence: 0.7,
	}
	if err := s.InsertIncident(ctx, inc); err != nil {
		t.Fatal(err)
	}

	// A URL upgrade: new URL arrives, the live flag drops, the block stays.
	inc.URLs = append(inc.URLs, "https://example.com/u2")
	inc.Enrichment.Enriched = false
	if err := s.UpdateIncident(ctx, inc, true); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetIncident(ctx, inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Enriched() {
		t.Error("live flag should be down")
	}
	if got.Enrichment == nil || got.Enrichment.Summary != "original summary" || got.Enrichment.Confidence != 0.7 {
		t.Errorf("stored block was disturbed: %+v", got.Enrichment)
	}
	if want := []string{"https://example.com/u1", "https://example.com/u2"}; !cmp.Equal(want, got.URLs) {
		t.Error(cmp.Diff(want, got.URLs))
	}

	// Clearing is explicit.
	inc.Enrichment = nil
	if err := s.UpdateIncident(ctx, inc, false); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetIncident(ctx, inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Enrichment != nil {
		t.Errorf("block should be cleared, got: %+v", got.Enrichment)
	}
}

func TestIncidentsByURLs(t *testing.T) {
	ctx, s := newTestStore(t)
	a := testIncident("s1-00000000000000a1", "https://example.com/breach")
	b := testIncident("s2-00000000000000b2", "https://other.example.net/report")
	for _, inc := range []*edusentry.Incident{a, b} {
		if err := s.InsertIncident(ctx, inc); err != nil {
			t.Fatal(err)
		}
	}

	tt := []struct {
		Name string
		URLs []string
		Want []string
	}{
		{Name: "Exact", URLs: []string{"https://example.com/breach"}, Want: []string{a.ID}},
		{Name: "Variant", URLs: []string{"https://WWW.Example.com/breach/"}, Want: []string{a.ID}},
		{Name: "SchemeMismatch", URLs: []string{"http://example.com/breach"}, Want: nil},
		{Name: "Both", URLs: []string{"https://example.com/breach", "https://other.example.net/report"}, Want: []string{a.ID, b.ID}},
		{Name: "None", URLs: []string{"https://unrelated.example.io/x"}, Want: nil},
		{Name: "Unparseable", URLs: []string{"", "::bad::"}, Want: nil},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			got, err := s.IncidentsByURLs(ctx, tc.URLs)
			if err != nil {
				t.Fatal(err)
			}
			ids := make([]string, len(got))
			for i, inc := range got {
				ids[i] = inc.ID
			}
			less := func(a, b string) bool { return a < b }
			if !cmp.Equal(tc.Want, ids, cmpopts.SortSlices(less), cmpopts.EquateEmpty()) {
				t.Error(cmp.Diff(tc.Want, ids))
			}
		})
	}
}

func TestSaveEnrichmentUpgrade(t *testing.T) {
	ctx, s := newTestStore(t)
	const (
		u1 = "https://example.com/u1"
		u2 = "https://example.com/u2"
	)
	inc := testIncident("src-00000000000000cc", u1)
	inc.PrimaryURL = u1
	inc.Enrichment = &edusentry.Enrichment{
		Enriched:   true,
		EnrichedAt: time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC),
		Summary:    "first extraction",
		Confidence: 0.7,
	}
	if err := s.InsertIncident(ctx, inc); err != nil {
		t.Fatal(err)
	}

	// New URL arrives; the live flag drops and both URLs get articles.
	inc.URLs = []string{u1, u2}
	inc.Enrichment.Enriched = false
	if err := s.UpdateIncident(ctx, inc, true); err != nil {
		t.Fatal(err)
	}
	for _, u := range []string{u1, u2} {
		a := &edusentry.Article{
			IncidentID:      inc.ID,
			URL:             u,
			Title:           "coverage",
			Body:            "body",
			FetchSuccessful: true,
			ContentLength:   4,
			FetchedAt:       time.Date(2025, 1, 18, 0, 0, 0, 0, time.UTC),
		}
		if err := s.UpsertArticle(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("LowerConfidenceRestores", func(t *testing.T) {
		outcome, err := s.SaveEnrichment(ctx, inc.ID, &datastore.EnrichmentSave{
			Enrichment: &edusentry.Enrichment{
				Enriched:   true,
				EnrichedAt: time.Date(2025, 1, 19, 0, 0, 0, 0, time.UTC),
				Summary:    "worse extraction",
				Confidence: 0.6,
			},
			PrimaryURL: u2,
		})
		if err != nil {
			t.Fatal(err)
		}
		if outcome != datastore.SaveSkippedLowerConfidence {
			t.Errorf("got outcome: %v, want skip", outcome)
		}
		got, err := s.GetIncident(ctx, inc.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Enriched() {
			t.Error("restore should raise the live flag")
		}
		if got.Enrichment.Summary != "first extraction" || got.Enrichment.Confidence != 0.7 {
			t.Errorf("stored block was disturbed: %+v", got.Enrichment)
		}
		if got.PrimaryURL != u1 {
			t.Errorf("primary url should be untouched, got: %q", got.PrimaryURL)
		}
	})

	t.Run("HigherConfidenceReplaces", func(t *testing.T) {
		outcome, err := s.SaveEnrichment(ctx, inc.ID, &datastore.EnrichmentSave{
			Enrichment: &edusentry.Enrichment{
				Enriched:   true,
				EnrichedAt: time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
				Summary:    "better extraction",
				Confidence: 0.9,
			},
			PrimaryURL: u2,
			Scores: map[string]datastore.Score{
				u1: {Value: 0.4, Reason: "thin coverage"},
				u2: {Value: 0.95, Reason: "detailed report"},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if outcome != datastore.SaveAccepted {
			t.Errorf("got outcome: %v, want accept", outcome)
		}
		got, err := s.GetIncident(ctx, inc.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Enrichment.Summary != "better extraction" || got.Enrichment.Confidence != 0.9 {
			t.Errorf("block not replaced: %+v", got.Enrichment)
		}
		if got.PrimaryURL != u2 {
			t.Errorf("got primary: %q, want: %q", got.PrimaryURL, u2)
		}

		arts, err := s.ArticlesForIncident(ctx, inc.ID)
		if err != nil {
			t.Fatal(err)
		}
		primaries := 0
		for _, a := range arts {
			if a.IsPrimary {
				primaries++
				if a.URL != u2 {
					t.Errorf("wrong primary article: %q", a.URL)
				}
			}
			if a.URLScore == nil {
				t.Errorf("article %q not scored", a.URL)
			}
		}
		if primaries != 1 {
			t.Errorf("got %d primary articles, want 1", primaries)
		}
	})

	t.Run("BadPrimaryURL", func(t *testing.T) {
		_, err := s.SaveEnrichment(ctx, inc.ID, &datastore.EnrichmentSave{
			Enrichment: &edusentry.Enrichment{Enriched: true, Confidence: 0.99},
			PrimaryURL: "https://nowhere.example.com/",
		})
		if err == nil {
			t.Error("primary url outside the url set should be rejected")
		}
	})
}

func TestCascadeDelete(t *testing.T) {
	ctx, s := newTestStore(t)
	inc := testIncident("src-00000000000000dd", "https://example.com/x")
	if err := s.InsertIncident(ctx, inc); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendAttribution(ctx, edusentry.Attribution{
		IncidentID: inc.ID,
		Source:     "src",
		FirstSeen:  time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC),
		Confidence: edusentry.ConfidenceMedium,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordEvent(ctx, "src", "evt-1", inc.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertArticle(ctx, &edusentry.Article{
		IncidentID: inc.ID,
		URL:        "https://example.com/x",
		FetchedAt:  time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteIncidents(ctx, inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("got %d deletions, want 1", n)
	}

	if _, err := s.GetIncident(ctx, inc.ID); !errors.Is(err, datastore.ErrNotFound) {
		t.Errorf("incident should be gone, got: %v", err)
	}
	atts, err := s.GetAttributions(ctx, inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(atts) != 0 {
		t.Errorf("attributions should cascade, got %d", len(atts))
	}
	seen, err := s.SeenEvent(ctx, "src", "evt-1")
	if err != nil {
		t.Fatal(err)
	}
	if seen {
		t.Error("events should cascade")
	}
	arts, err := s.ArticlesForIncident(ctx, inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(arts) != 0 {
		t.Errorf("articles should cascade, got %d", len(arts))
	}
}

func TestEventLedger(t *testing.T) {
	ctx, s := newTestStore(t)
	inc := testIncident("src-00000000000000ee", "https://example.com/y")
	if err := s.InsertIncident(ctx, inc); err != nil {
		t.Fatal(err)
	}

	seen, err := s.SeenEvent(ctx, "src", "evt-7")
	if err != nil {
		t.Fatal(err)
	}
	if seen {
		t.Error("fresh ledger should not know evt-7")
	}
	for i := 0; i < 2; i++ {
		if err := s.RecordEvent(ctx, "src", "evt-7", inc.ID); err != nil {
			t.Fatal(err)
		}
	}
	seen, err = s.SeenEvent(ctx, "src", "evt-7")
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Error("recorded event not visible")
	}
}

func TestCheckpoint(t *testing.T) {
	ctx, s := newTestStore(t)
	got, err := s.Checkpoint(ctx, "rssfeed")
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Errorf("fresh source should have a zero checkpoint, got %v", got)
	}
	want := time.Date(2025, 2, 1, 6, 30, 0, 0, time.UTC)
	if err := s.SetCheckpoint(ctx, "rssfeed", want); err != nil {
		t.Fatal(err)
	}
	got, err = s.Checkpoint(ctx, "rssfeed")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(want) {
		t.Errorf("got: %v, want: %v", got, want)
	}
	// Advancing overwrites.
	want = want.Add(24 * time.Hour)
	if err := s.SetCheckpoint(ctx, "rssfeed", want); err != nil {
		t.Fatal(err)
	}
	got, err = s.Checkpoint(ctx, "rssfeed")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(want) {
		t.Errorf("got: %v, want: %v", got, want)
	}
}

func TestArticleRefetchPreservesScores(t *testing.T) {
	ctx, s := newTestStore(t)
	const u = "https://example.com/z"
	inc := testIncident("src-00000000000000ff", u)
	if err := s.InsertIncident(ctx, inc); err != nil {
		t.Fatal(err)
	}
	art := &edusentry.Article{
		IncidentID:      inc.ID,
		URL:             u,
		Title:           "first fetch",
		Body:            "original body text",
		FetchSuccessful: true,
		ContentLength:   18,
		FetchedAt:       time.Date(2025, 1, 18, 0, 0, 0, 0, time.UTC),
	}
	if err := s.UpsertArticle(ctx, art); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveEnrichment(ctx, inc.ID, &datastore.EnrichmentSave{
		Enrichment: &edusentry.Enrichment{Enriched: true, Confidence: 0.8, EnrichedAt: time.Date(2025, 1, 19, 0, 0, 0, 0, time.UTC)},
		PrimaryURL: u,
		Scores:     map[string]datastore.Score{u: {Value: 0.9, Reason: "only source"}},
	}); err != nil {
		t.Fatal(err)
	}

	art.Title = "second fetch"
	art.Body = "updated body text"
	if err := s.UpsertArticle(ctx, art); err != nil {
		t.Fatal(err)
	}
	arts, err := s.ArticlesForIncident(ctx, inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(arts) != 1 {
		t.Fatalf("got %d articles, want 1", len(arts))
	}
	got := arts[0]
	if got.Title != "second fetch" {
		t.Errorf("content not replaced: %q", got.Title)
	}
	if got.URLScore == nil || *got.URLScore != 0.9 || !got.IsPrimary {
		t.Errorf("score fields not preserved: %+v", got)
	}
}

func TestAddBrokenURL(t *testing.T) {
	ctx, s := newTestStore(t)
	inc := testIncident("src-0000000000000101", "https://example.com/a", "https://example.com/b")
	if err := s.InsertIncident(ctx, inc); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.AddBrokenURL(ctx, inc.ID, "https://example.com/b"); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.GetIncident(ctx, inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"https://example.com/b"}; !cmp.Equal(want, got.BrokenURLs) {
		t.Error(cmp.Diff(want, got.BrokenURLs))
	}
}

func TestUnenrichedSelection(t *testing.T) {
	ctx, s := newTestStore(t)

	candidate := testIncident("src-0000000000000201", "https://example.com/c")
	noURLs := testIncident("src-0000000000000202")
	enriched := testIncident("src-0000000000000203", "https://example.com/d")
	enriched.PrimaryURL = "https://example.com/d"
	enriched.Enrichment = &edusentry.Enrichment{
		Enriched:   true,
		EnrichedAt: time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC),
		Confidence: 0.8,
	}
	skipped := testIncident("src-0000000000000204", "https://example.com/e")
	for _, inc := range []*edusentry.Incident{candidate, noURLs, enriched, skipped} {
		if err := s.InsertIncident(ctx, inc); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.MarkSkipped(ctx, skipped.ID, "not education related"); err != nil {
		t.Fatal(err)
	}

	got, err := s.Unenriched(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != candidate.ID {
		ids := make([]string, len(got))
		for i, inc := range got {
			ids[i] = inc.ID
		}
		t.Errorf("got: %v, want only %s", ids, candidate.ID)
	}

	all, err := s.Enriched(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].ID != enriched.ID {
		t.Errorf("Enriched returned %d rows", len(all))
	}

	sk, err := s.GetIncident(ctx, skipped.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sk.Enrichment == nil || !sk.Enrichment.Skipped || sk.Enrichment.SkipReason != "not education related" {
		t.Errorf("skip not recorded: %+v", sk.Enrichment)
	}
}
