package context

import (
	"regexp"
	"strings"

	"github.com/abdul-hamid-achik/agentd/internal/llm"
)

var factPatterns = []*regexp.Regexp{
	// email addresses
	regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	// links
	regexp.MustCompile(`https?://[^\s<>"')\]]+`),
	// phone numbers: +1 555 123 4567, (555) 123-4567, 8-800-555-35-35
	regexp.MustCompile(`\+?\d[\d\s\-()]{7,}\d`),
	// ISO and numeric dates
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}[./]\d{1,2}[./]\d{2,4}\b`),
	// 12 March 2026, March 12, 2026
	regexp.MustCompile(`(?i)\b\d{1,2}\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?(?:\s+\d{4})?\b`),
	regexp.MustCompile(`(?i)\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:,?\s+\d{4})?\b`),
}

// ExtractFacts returns the literal contact identifiers, links and dates
// found in messages, in first-seen order without duplicates.
func ExtractFacts(messages []llm.Message) []string {
	seen := make(map[string]bool)
	var facts []string
	add := func(text string) {
		for _, re := range factPatterns {
			for _, m := range re.FindAllString(text, -1) {
				m = strings.TrimRight(strings.TrimSpace(m), ".,;:")
				if m == "" || seen[m] || coveredBy(m, facts) {
					continue
				}
				seen[m] = true
				facts = append(facts, m)
			}
		}
	}
	for _, msg := range messages {
		add(msg.Content)
		for _, tr := range msg.ToolResults {
			add(tr.Content)
		}
	}
	return facts
}

// MissingFacts returns the facts that do not appear verbatim in text.
func MissingFacts(facts []string, text string) []string {
	var missing []string
	for _, f := range facts {
		if !strings.Contains(text, f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// coveredBy drops fragments of an already captured fact, such as the digits
// of a date that the phone pattern also matches.
func coveredBy(candidate string, facts []string) bool {
	for _, f := range facts {
		if strings.Contains(f, candidate) {
			return true
		}
	}
	return false
}
