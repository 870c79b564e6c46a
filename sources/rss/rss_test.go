package rss

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quay/zlog"

	"github.com/edusentry/edusentry"
	"github.com/edusentry/edusentry/libingest/driver"
)

const rssDocXML = `<?xml version="1.0"?>
<rss version="2.0">
<channel>
<title>Security Wire</title>
<item>
  <title>Ransomware gang hits Test University</title>
  <link>https://wire.example.com/university-hit</link>
  <guid>wire-1001</guid>
  <description>Attackers encrypted campus systems over the weekend.</description>
  <pubDate>Thu, 16 Jan 2025 08:00:00 +0000</pubDate>
</item>
<item>
  <title>New router vulnerability disclosed</title>
  <link>https://wire.example.com/router-vuln</link>
  <guid>wire-1002</guid>
  <description>Firmware flaw affects several vendors.</description>
  <pubDate>Fri, 17 Jan 2025 09:00:00 +0000</pubDate>
</item>
</channel>
</rss>`

const atomDocXML = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<title>Campus Security</title>
<entry>
  <title>School district reports data breach</title>
  <id>tag:campus.example.com,2025:breach-7</id>
  <link rel="alternate" href="https://campus.example.com/district-breach"/>
  <summary>Student records were exposed.</summary>
  <published>2025-01-18T10:00:00Z</published>
</entry>
</feed>`

func feedServer(t *testing.T, doc string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		if _, err := w.Write([]byte(doc)); err != nil {
			t.Error(err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func configured(t *testing.T, feeds ...string) *Adapter {
	t.Helper()
	ctx := zlog.Test(context.Background(), t)
	a := New()
	err := a.Configure(ctx, func(v interface{}) error {
		v.(*Config).Feeds = feeds
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestFetchRSS(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := feedServer(t, rssDocXML)
	a := configured(t, srv.URL)

	recs, err := a.Fetch(ctx, &driver.Options{})
	if err != nil {
		t.Fatal(err)
	}
	// The router item fails the education filter.
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.SourceEventID != "wire-1001" {
		t.Errorf("source event id: got %q", rec.SourceEventID)
	}
	inc := rec.Incident
	if inc.Confidence != edusentry.ConfidenceLow {
		t.Errorf("confidence: got %v, want low", inc.Confidence)
	}
	if inc.IncidentDate != "2025-01-16" || inc.DatePrecision != edusentry.PrecisionDay {
		t.Errorf("date: got %q/%v", inc.IncidentDate, inc.DatePrecision)
	}
	if len(inc.URLs) != 1 || inc.URLs[0] != "https://wire.example.com/university-hit" {
		t.Errorf("urls: got %v", inc.URLs)
	}
	want := time.Date(2025, 1, 17, 9, 0, 0, 0, time.UTC)
	if !a.Checkpoint().Equal(want) {
		t.Errorf("checkpoint: got %v, want %v", a.Checkpoint(), want)
	}
}

func TestFetchAtom(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := feedServer(t, atomDocXML)
	a := configured(t, srv.URL)

	recs, err := a.Fetch(ctx, &driver.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	inc := recs[0].Incident
	if inc.Title != "School district reports data breach" {
		t.Errorf("title: got %q", inc.Title)
	}
	if len(inc.URLs) != 1 || inc.URLs[0] != "https://campus.example.com/district-breach" {
		t.Errorf("urls: got %v", inc.URLs)
	}
	if inc.IncidentDate != "2025-01-18" {
		t.Errorf("date: got %q", inc.IncidentDate)
	}
}

// One dead feed among several costs its items, not the run.
func TestFetchPartialFeeds(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	t.Cleanup(dead.Close)
	live := feedServer(t, rssDocXML)
	a := configured(t, dead.URL, live.URL)

	recs, err := a.Fetch(ctx, &driver.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want the live feed's 1", len(recs))
	}
}

// A document that is neither RSS nor Atom fails the run with a parse kind
// when it is the only feed.
func TestFetchBadFeed(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := feedServer(t, `{"this is": "not xml"}`)
	a := configured(t, srv.URL)

	_, err := a.Fetch(ctx, &driver.Options{})
	if err == nil {
		t.Fatal("expected an error for an unparseable feed")
	}
	if !errors.Is(err, edusentry.ErrParse) {
		t.Fatalf("got %v, want the parse kind", err)
	}
}

func TestFetchSince(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := feedServer(t, rssDocXML)
	a := configured(t, srv.URL)

	recs, err := a.Fetch(ctx, &driver.Options{
		Since: time.Date(2025, 1, 16, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Fatalf("got %d records, want 0 past the checkpoint", len(recs))
	}
}
