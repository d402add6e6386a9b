package tools

import (
	"slices"
	"strings"
)

// categoryKeywords trigger a server type when the classifier is disabled.
var categoryKeywords = map[ServerType][]string{
	ServerGmail:      {"mail", "email", "e-mail", "inbox", "gmail", "letter", "reply to", "attachment"},
	ServerCalendar:   {"calendar", "meeting", "event", "schedule", "appointment", "call with", "free slot", "tomorrow", "next week"},
	ServerTelegram:   {"telegram", "tg ", "chat"},
	ServerWhatsApp:   {"whatsapp", "wa "},
	ServerSlack:      {"slack", "channel", "thread"},
	ServerConfluence: {"confluence", "wiki", "page", "space", "docs"},
	ServerJira:       {"jira", "ticket", "issue", "sprint", "epic", "backlog"},
}

// KeywordSelector picks categories by scanning the request for keywords.
// It is the zero-cost stand-in for the classifier.
type KeywordSelector struct {
	available []ServerType
}

// NewKeywordSelector creates a selector over the project's server types.
func NewKeywordSelector(available []ServerType) *KeywordSelector {
	return &KeywordSelector{available: available}
}

// SelectCategories returns the categories whose keywords appear in query,
// in the order of the available types. No match selects every category.
func (s *KeywordSelector) SelectCategories(query string) []string {
	query = strings.ToLower(query)

	var out []string
	for _, t := range s.available {
		if slices.ContainsFunc(categoryKeywords[t], func(kw string) bool { return strings.Contains(query, kw) }) {
			out = append(out, t.Meta().Category)
		}
	}
	if len(out) == 0 {
		for _, t := range s.available {
			out = append(out, t.Meta().Category)
		}
	}
	return out
}
