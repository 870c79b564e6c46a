package normalize

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestURL(t *testing.T) {
	tt := []struct {
		Name string
		In   string
		Want string
	}{
		{Name: "Simple", In: "https://example.com/breach", Want: "https://example.com/breach"},
		{Name: "UpperHost", In: "https://WWW.Example.com/a/", Want: "https://example.com/a"},
		{Name: "UpperScheme", In: "HTTPS://example.com/a", Want: "https://example.com/a"},
		{Name: "TrailingSlash", In: "https://example.com/a/", Want: "https://example.com/a"},
		{Name: "RootSlash", In: "https://example.com/", Want: "https://example.com"},
		{Name: "Fragment", In: "https://example.com/a#section-2", Want: "https://example.com/a"},
		{Name: "QueryKept", In: "https://example.com/a?id=7&page=2", Want: "https://example.com/a?id=7&page=2"},
		{Name: "WWWOnly", In: "http://www.example.com", Want: "http://example.com"},
		{Name: "DoubleWWW", In: "http://www.www.example.com/x", Want: "http://example.com/x"},
		{Name: "Port", In: "https://Example.com:8443/a/", Want: "https://example.com:8443/a"},
		{Name: "Empty", In: "", Want: ""},
		{Name: "Spaces", In: "   ", Want: ""},
		{Name: "NoScheme", In: "example.com/a", Want: ""},
		{Name: "Garbage", In: "::not a url::", Want: ""},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			got := URL(tc.In)
			if !cmp.Equal(tc.Want, got) {
				t.Error(cmp.Diff(tc.Want, got))
			}
			// Normalization must be idempotent.
			if again := URL(got); again != got {
				t.Errorf("not idempotent: %q → %q", got, again)
			}
		})
	}
}

// Scheme is part of the canonical form: http and https never match.
func TestURLSchemeDistinguishes(t *testing.T) {
	a := URL("https://WWW.Example.com/a/")
	b := URL("http://example.com/a")
	if a == b {
		t.Errorf("schemes should distinguish: %q == %q", a, b)
	}
	if a != "https://example.com/a" {
		t.Errorf("unexpected canonical form: %q", a)
	}
	if b != "http://example.com/a" {
		t.Errorf("unexpected canonical form: %q", b)
	}
}

func TestDomain(t *testing.T) {
	tt := []struct {
		In   string
		Want string
	}{
		{In: "https://www.Example.com/a", Want: "example.com"},
		{In: "https://news.example.co.uk:8080/x", Want: "news.example.co.uk"},
		{In: "", Want: ""},
		{In: "::bad::", Want: ""},
	}
	for _, tc := range tt {
		if got := Domain(tc.In); got != tc.Want {
			t.Errorf("Domain(%q): got: %q, want: %q", tc.In, got, tc.Want)
		}
	}
}
