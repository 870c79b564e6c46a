package curated

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quay/zlog"

	"github.com/edusentry/edusentry"
	"github.com/edusentry/edusentry/libingest/driver"
)

const feedDoc = `[
	{
		"id": "K12-2025-0042",
		"victim": "Test Unified School District",
		"institution_type": "school",
		"country": "US",
		"region": "CA",
		"date": "2025-01-15",
		"published": "2025-01-16T08:00:00Z",
		"title": "Ransomware closes district schools",
		"urls": ["https://news.example.com/district-ransomware"],
		"attack_type": "ransomware",
		"confirmed": true
	},
	{
		"id": "K12-2025-0043",
		"victim": "Test University",
		"institution_type": "university",
		"country": "US",
		"date": "2025-01",
		"published": "2025-01-18T09:30:00Z",
		"title": "University investigating data breach",
		"urls": ["https://news.example.com/university-breach"]
	},
	{
		"id": "K12-2025-0044",
		"published": "2025-01-19T10:00:00Z",
		"title": "Entry with no victim"
	}
]`

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Etag", `"v1"`)
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(feedDoc)); err != nil {
			t.Error(err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func configured(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	ctx := zlog.Test(context.Background(), t)
	a := New()
	err := a.Configure(ctx, func(v interface{}) error {
		v.(*Config).Feed = srv.URL
		return nil
	}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestFetch(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	a := configured(t, feedServer(t))

	recs, err := a.Fetch(ctx, &driver.Options{})
	if err != nil {
		t.Fatal(err)
	}
	// The victimless entry is dropped.
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	first := recs[0]
	if first.SourceEventID != "K12-2025-0042" {
		t.Errorf("source event id: got %q", first.SourceEventID)
	}
	inc := first.Incident
	if !strings.HasPrefix(inc.ID, "k12six-") {
		t.Errorf("id: got %q", inc.ID)
	}
	if inc.Status != edusentry.StatusConfirmed {
		t.Errorf("status: got %v, want confirmed", inc.Status)
	}
	if inc.Confidence != edusentry.ConfidenceHigh {
		t.Errorf("confidence: got %v, want high", inc.Confidence)
	}
	if inc.InstitutionType != edusentry.InstitutionSchool {
		t.Errorf("institution type: got %v, want school", inc.InstitutionType)
	}
	if inc.DatePrecision != edusentry.PrecisionDay {
		t.Errorf("precision: got %v, want day", inc.DatePrecision)
	}
	if recs[1].Incident.DatePrecision != edusentry.PrecisionMonth {
		t.Errorf("precision: got %v, want month", recs[1].Incident.DatePrecision)
	}

	want := time.Date(2025, 1, 19, 10, 0, 0, 0, time.UTC)
	if !a.Checkpoint().Equal(want) {
		t.Errorf("checkpoint: got %v, want %v", a.Checkpoint(), want)
	}
}

// A second fetch rides the ETag and reports the feed unchanged.
func TestFetchUnchanged(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	a := configured(t, feedServer(t))

	if _, err := a.Fetch(ctx, &driver.Options{}); err != nil {
		t.Fatal(err)
	}
	_, err := a.Fetch(ctx, &driver.Options{})
	if !errors.Is(err, driver.ErrUnchanged) {
		t.Fatalf("got %v, want ErrUnchanged", err)
	}
}

func TestFetchSince(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	a := configured(t, feedServer(t))

	recs, err := a.Fetch(ctx, &driver.Options{
		Since: time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].SourceEventID != "K12-2025-0043" {
		t.Fatalf("got %d records, want only the post-checkpoint entry", len(recs))
	}
}

func TestFetchBatches(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	a := configured(t, feedServer(t))

	var got []*edusentry.SourceRecord
	recs, err := a.Fetch(ctx, &driver.Options{
		SaveBatch: func(_ context.Context, recs []*edusentry.SourceRecord) (int, error) {
			got = append(got, recs...)
			return len(recs), nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("records returned despite SaveBatch: %d", len(recs))
	}
	if len(got) != 2 {
		t.Errorf("sink received %d records, want 2", len(got))
	}
}

// Failures at the HTTP and decode boundaries carry the matching error kind.
func TestFetchErrorKinds(t *testing.T) {
	t.Run("Parse", func(t *testing.T) {
		ctx := zlog.Test(context.Background(), t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"truncated": `)
		}))
		t.Cleanup(srv.Close)
		a := configured(t, srv)

		_, err := a.Fetch(ctx, &driver.Options{})
		if !errors.Is(err, edusentry.ErrParse) {
			t.Fatalf("got %v, want the parse kind", err)
		}
	})
	t.Run("Fetch", func(t *testing.T) {
		ctx := zlog.Test(context.Background(), t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusInternalServerError)
		}))
		t.Cleanup(srv.Close)
		a := configured(t, srv)

		_, err := a.Fetch(ctx, &driver.Options{})
		if !errors.Is(err, edusentry.ErrFetch) {
			t.Fatalf("got %v, want the fetch kind", err)
		}
	})
}

func TestFetchUnconfigured(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	if _, err := New().Fetch(ctx, &driver.Options{}); err == nil {
		t.Fatal("expected an error from an unconfigured adapter")
	}
}
