// Package normalize holds the canonicalization routines used for identity
// comparison across sources: URLs, institution names, and incident dates.
package normalize

import (
	"net/url"
	"strings"
)

// URL canonicalizes raw for equality comparison.
//
// Rules, in order: lowercase the scheme and host, strip a leading "www.",
// strip the trailing "/" from the path, drop the fragment, and keep the
// query string verbatim. Anything that can't be parsed as an absolute URL
// normalizes to the empty string, which never matches another URL.
//
// URL is idempotent.
func URL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	for strings.HasPrefix(host, "www.") {
		host = host[4:]
	}
	u.Host = host
	if strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Domain extracts the host of raw, lowercased, without a port or a leading
// "www.". Unparseable input yields the empty string.
func Domain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	for strings.HasPrefix(host, "www.") {
		host = host[4:]
	}
	return host
}
