package fetcher

import (
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/edusentry/edusentry/normalize"
)

// document is what the readability pass pulls out of a page.
type document struct {
	title     string
	body      string
	author    string
	published time.Time
}

// Elements whose subtrees never contain article text.
var skipElements = map[atom.Atom]struct{}{
	atom.Script:   {},
	atom.Style:    {},
	atom.Nav:      {},
	atom.Header:   {},
	atom.Footer:   {},
	atom.Aside:    {},
	atom.Form:     {},
	atom.Noscript: {},
	atom.Iframe:   {},
}

// extract runs a readability heuristic over raw HTML: candidate container
// nodes are scored by text mass discounted by link density, and the best
// candidate's text becomes the body. Title, author, and publication date
// come from the usual meta tags with element fallbacks.
func extract(raw string) (*document, error) {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, err
	}
	doc := document{
		title:  metaContent(root, "og:title"),
		author: metaContent(root, "author"),
	}
	if doc.title == "" {
		doc.title = elementText(root, atom.Title)
	}
	doc.title = strings.TrimSpace(doc.title)

	for _, name := range []string{"article:published_time", "date", "og:published_time", "publish-date"} {
		if v := metaContent(root, name); v != "" {
			if t, ok := parseMetaTime(v); ok {
				doc.published = t
				break
			}
		}
	}

	best := bestCandidate(root)
	if best != nil {
		doc.body = collapseSpace(textOf(best))
	}
	return &doc, nil
}

// bestCandidate walks the tree and returns the container with the highest
// readability score, preferring <article> and falling back to <body>.
func bestCandidate(root *html.Node) *html.Node {
	var (
		best      *html.Node
		bestScore float64
		body      *html.Node
	)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if _, skip := skipElements[n.DataAtom]; skip {
				return
			}
			switch n.DataAtom {
			case atom.Body:
				body = n
			case atom.Article, atom.Main, atom.Section, atom.Div:
				if s := score(n); s > bestScore {
					best, bestScore = n, s
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	if best != nil {
		return best
	}
	return body
}

// score is text mass discounted by link density: a node that is mostly
// anchors is navigation, not prose.
func score(n *html.Node) float64 {
	total := len(textOf(n))
	if total == 0 {
		return 0
	}
	linked := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			linked += len(textOf(n))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	density := float64(linked) / float64(total)
	mult := 1.0
	if n.DataAtom == atom.Article {
		mult = 1.5
	}
	return float64(total) * (1 - density) * mult
}

// textOf concatenates the text nodes under n, skipping non-content subtrees.
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		case html.ElementNode:
			if _, skip := skipElements[n.DataAtom]; skip {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func metaContent(root *html.Node, name string) string {
	var found string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Meta {
			var key, content string
			for _, a := range n.Attr {
				switch a.Key {
				case "name", "property":
					key = a.Val
				case "content":
					content = a.Val
				}
			}
			if key == name && content != "" {
				found = content
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}

func elementText(root *html.Node, a atom.Atom) string {
	var found string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == a {
			found = textOf(n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}

func parseMetaTime(v string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	if t, _, err := normalize.ParseDate(v); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
