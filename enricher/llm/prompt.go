package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/edusentry/edusentry"
)

const systemPrompt = `You are a cyber-threat-intelligence analyst specializing in attacks on the education sector. You extract structured facts from news reporting about one incident. Respond with a single JSON object matching the requested schema; never invent facts the articles do not support. If the incident does not involve an education-sector institution, set "is_education_related" to false and explain briefly in "not_education_reason".`

// Characters per token, the usual rough estimate.
const charsPerToken = 4

// buildPrompt assembles the incident snapshot and the article bodies,
// trimmed longest-first so one huge article cannot crowd out the rest of the
// token budget.
func buildPrompt(inc *edusentry.Incident, articles []*edusentry.Article, tokenBudget int) string {
	var b strings.Builder
	b.WriteString("Incident under analysis:\n")
	fmt.Fprintf(&b, "- victim: %s\n", inc.Victim)
	if inc.Country != "" {
		fmt.Fprintf(&b, "- country: %s\n", inc.Country)
	}
	if inc.IncidentDate != "" {
		fmt.Fprintf(&b, "- reported incident date: %s\n", inc.IncidentDate)
	}
	if inc.Title != "" {
		fmt.Fprintf(&b, "- headline: %s\n", inc.Title)
	}
	if inc.AttackType != "" {
		fmt.Fprintf(&b, "- attack type hint: %s\n", inc.AttackType)
	}
	fmt.Fprintf(&b, "- candidate urls: %s\n", strings.Join(inc.URLs, ", "))

	b.WriteString("\nElect exactly one primary_url from the article urls below and score each url in url_scores.\n")

	for i, a := range trimmed(articles, tokenBudget*charsPerToken) {
		fmt.Fprintf(&b, "\n--- article %d ---\nurl: %s\ntitle: %s\n\n%s\n", i+1, a.URL, a.Title, a.Body)
	}

	b.WriteString("\nRespond with a JSON object with fields: is_education_related, not_education_reason, victim, institution_type, geo {country, region, city}, incident_date, attack_type, confirmed, summary, timeline [{date, event}], techniques (MITRE ATT&CK ids), attack_dynamics {vector, actor, actor_type, data_impact, system_impact, user_impact, financial_impact, regulatory_impact, recovery}, primary_url, url_scores {url: {value, reason}}, extraction_confidence (0 to 1). Express monetary amounts as plain numbers or strings like \"$1.2 million\" and durations in hours or strings like \"3 days\".\n")
	return b.String()
}

// trimmed fits the articles into at most budget characters of body text,
// cutting from the longest articles first. Article order is preserved.
func trimmed(articles []*edusentry.Article, budget int) []*edusentry.Article {
	total := 0
	for _, a := range articles {
		total += len(a.Body)
	}
	if total <= budget {
		return articles
	}

	// Size shortest articles first: each takes at most an even share of
	// what's left and returns its slack to the pool, so the cut lands on
	// the longest articles.
	order := make([]int, len(articles))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return len(articles[order[i]].Body) < len(articles[order[j]].Body)
	})

	allowed := make([]int, len(articles))
	remaining := budget
	for n, idx := range order {
		share := remaining / (len(order) - n)
		size := len(articles[idx].Body)
		if size > share {
			size = share
		}
		allowed[idx] = size
		remaining -= size
	}

	out := make([]*edusentry.Article, 0, len(articles))
	for i, a := range articles {
		if allowed[i] == len(a.Body) {
			out = append(out, a)
			continue
		}
		c := *a
		c.Body = a.Body[:allowed[i]]
		out = append(out, &c)
	}
	return out
}
