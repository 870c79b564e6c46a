package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quay/zlog"

	"github.com/edusentry/edusentry"
	"github.com/edusentry/edusentry/enricher"
)

// completionServer impersonates an OpenAI-compatible chat completions
// endpoint, replying with canned message contents in order.
func completionServer(t *testing.T, replies []func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	n := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if n >= len(replies) {
			t.Error("more requests than canned replies")
			http.Error(w, "exhausted", http.StatusInternalServerError)
			return
		}
		replies[n](w)
		n++
	}))
	t.Cleanup(srv.Close)
	return srv
}

func reply(content string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]interface{}{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  "test",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": content,
				},
			}},
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func rateLimited(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprint(w, `{"error": {"type": "rate_limit_exceeded", "message": "quota exhausted"}}`)
}

func testExtractor(t *testing.T, srv *httptest.Server) *Extractor {
	t.Helper()
	ctx := zlog.Test(context.Background(), t)
	e, err := New(ctx, Config{
		BaseURL: srv.URL + "/v1",
		APIKey:  "test-key",
		Model:   "test",
	}, WithBackoff(time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func testInputs() (*edusentry.Incident, []*edusentry.Article) {
	inc := &edusentry.Incident{
		ID:     "s1-0000000000000001",
		Victim: "Test University",
		URLs:   []string{"https://example.com/a", "https://example.com/b"},
	}
	articles := []*edusentry.Article{
		{IncidentID: inc.ID, URL: "https://example.com/a", Title: "Breach", Body: "Ransomware hit Test University on January 15.", FetchSuccessful: true},
		{IncidentID: inc.ID, URL: "https://example.com/b", Title: "Follow-up", Body: "Classes resumed after systems were restored.", FetchSuccessful: true},
	}
	return inc, articles
}

const goodResult = `{
	"is_education_related": true,
	"summary": "Ransomware encrypted university file servers.",
	"timeline": [{"date": "2025-01-15", "event": "encryption"}],
	"techniques": ["T1486"],
	"attack_dynamics": {"vector": "phishing", "financial_impact": {"ransom_demanded": "$1.2 million"}},
	"primary_url": "https://example.com/a",
	"url_scores": {
		"https://example.com/a": {"value": 0.9, "reason": "detailed"},
		"https://example.com/b": {"value": 0.4, "reason": "thin"}
	},
	"extraction_confidence": 0.85
}`

func TestExtract(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := completionServer(t, []func(http.ResponseWriter){reply(goodResult)})
	e := testExtractor(t, srv)
	inc, articles := testInputs()

	got, err := e.Extract(ctx, inc, articles)
	if err != nil {
		t.Fatal(err)
	}
	if got.PrimaryURL != "https://example.com/a" {
		t.Errorf("primary url: got %q", got.PrimaryURL)
	}
	if got.ExtractionConfidence != 0.85 {
		t.Errorf("confidence: got %v", got.ExtractionConfidence)
	}
	if got.Dynamics.Financial.RansomDemanded != 120_000_000 {
		t.Errorf("ransom not standardized: got %d", got.Dynamics.Financial.RansomDemanded)
	}
}

// Models that wrap the object in markdown fences still parse.
func TestExtractFencedResponse(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := completionServer(t, []func(http.ResponseWriter){
		reply("```json\n" + goodResult + "\n```"),
	})
	e := testExtractor(t, srv)
	inc, articles := testInputs()

	if _, err := e.Extract(ctx, inc, articles); err != nil {
		t.Fatal(err)
	}
}

// A malformed response is retried; a good retry wins.
func TestExtractRetriesParseFailure(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := completionServer(t, []func(http.ResponseWriter){
		reply(`not json at all`),
		reply(goodResult),
	})
	e := testExtractor(t, srv)
	inc, articles := testInputs()

	if _, err := e.Extract(ctx, inc, articles); err != nil {
		t.Fatal(err)
	}
}

// Parse failures past the retry budget surface as ErrExtractionFailed.
func TestExtractExhaustedRetries(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	bad := `{"is_education_related": true, "extraction_confidence": 2}`
	srv := completionServer(t, []func(http.ResponseWriter){
		reply(bad), reply(bad), reply(bad),
	})
	e := testExtractor(t, srv)
	inc, articles := testInputs()

	_, err := e.Extract(ctx, inc, articles)
	if !errors.Is(err, enricher.ErrExtractionFailed) {
		t.Fatalf("got %v, want ErrExtractionFailed", err)
	}
	if !errors.Is(err, edusentry.ErrTransient) {
		t.Fatalf("got %v, want the transient kind", err)
	}
}

func TestExtractRateLimited(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := completionServer(t, []func(http.ResponseWriter){rateLimited})
	e := testExtractor(t, srv)
	inc, articles := testInputs()

	_, err := e.Extract(ctx, inc, articles)
	if !errors.Is(err, enricher.ErrRateLimited) {
		t.Fatalf("got %v, want ErrRateLimited", err)
	}
	if !errors.Is(err, edusentry.ErrRateLimit) {
		t.Fatalf("got %v, want the rate-limit kind", err)
	}
}

func TestExtractNotEducation(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := completionServer(t, []func(http.ResponseWriter){
		reply(`{"is_education_related": false, "not_education_reason": "city government, not a school"}`),
	})
	e := testExtractor(t, srv)
	inc, articles := testInputs()

	got, err := e.Extract(ctx, inc, articles)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsEducationRelated {
		t.Error("expected a not-education result")
	}
	if got.NotEducationReason == "" {
		t.Error("not-education result carries no reason")
	}
}

func TestExtractNoArticles(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := completionServer(t, nil)
	e := testExtractor(t, srv)
	inc, _ := testInputs()

	_, err := e.Extract(ctx, inc, []*edusentry.Article{
		{URL: "https://example.com/a", FetchSuccessful: false},
	})
	if !errors.Is(err, enricher.ErrExtractionFailed) {
		t.Fatalf("got %v, want ErrExtractionFailed", err)
	}
}

func TestTrimmed(t *testing.T) {
	long := &edusentry.Article{URL: "l", Body: strings.Repeat("x", 1000)}
	short := &edusentry.Article{URL: "s", Body: strings.Repeat("y", 100)}
	got := trimmed([]*edusentry.Article{long, short}, 600)
	if len(got) != 2 {
		t.Fatalf("article dropped: %d", len(got))
	}
	if len(got[1].Body) != 100 {
		t.Errorf("short article trimmed: %d", len(got[1].Body))
	}
	if len(got[0].Body) != 500 {
		t.Errorf("long article: got %d chars, want the remaining 500", len(got[0].Body))
	}
	if long.Body != strings.Repeat("x", 1000) {
		t.Error("input article mutated")
	}
}
