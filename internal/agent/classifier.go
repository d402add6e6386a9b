package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/abdul-hamid-achik/agentd/internal/llm"
	"github.com/abdul-hamid-achik/agentd/internal/logging"
	"github.com/abdul-hamid-achik/agentd/internal/tools"
)

// Classification is the triage verdict for one request.
type Classification struct {
	NeedsTools bool     `json:"needs_tools"`
	Categories []string `json:"categories"`
	IsSimple   bool     `json:"is_simple"`
}

// FastPath reports whether the request can be answered without tools on the
// fast model.
func (c Classification) FastPath() bool {
	return c.IsSimple && !c.NeedsTools
}

// ToolPrefixes returns the namespaced read and write prefixes of the
// selected categories.
func (c Classification) ToolPrefixes() []string {
	var out []string
	for _, cat := range c.Categories {
		t, err := tools.ParseServerType(cat)
		if err != nil {
			continue
		}
		out = append(out, t.ToolPrefixes()...)
	}
	return out
}

// fallbackClassification assumes the worst: tools needed, every category.
func fallbackClassification(available []tools.ServerType) Classification {
	cats := make([]string, 0, len(available))
	for _, t := range available {
		cats = append(cats, t.Meta().Category)
	}
	return Classification{NeedsTools: true, Categories: cats}
}

// Classifier triages requests with one cheap call on the fast model.
type Classifier struct {
	client    llm.LLMClient
	model     string
	maxTokens int
	log       *logging.Logger
}

// NewClassifier creates a classifier calling model through client.
func NewClassifier(client llm.LLMClient, model string, maxTokens int, log *logging.Logger) *Classifier {
	if maxTokens <= 0 {
		maxTokens = 100
	}
	return &Classifier{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		log:       log.WithPrefix("classifier"),
	}
}

// Classify decides whether message needs tools and which categories. Any
// failure yields the fallback classification.
func (c *Classifier) Classify(ctx context.Context, message string, available []tools.ServerType) Classification {
	resp, err := c.client.Chat(ctx, &llm.Request{
		Model:     c.model,
		System:    classifierPrompt(available),
		Messages:  []llm.Message{llm.UserText(message)},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		c.log.Warn("classification failed, using all categories", logging.Error(err))
		return fallbackClassification(available)
	}

	cls, err := parseClassification(resp.Text(), available)
	if err != nil {
		c.log.Warn("unparseable classification, using all categories",
			logging.Error(err), logging.F("response", resp.Text()))
		return fallbackClassification(available)
	}

	c.log.Event(logging.EventClassify,
		logging.F("needs_tools", cls.NeedsTools),
		logging.F("is_simple", cls.IsSimple),
		logging.F("categories", cls.Categories),
		logging.InputTokens(resp.Usage.InputTokens),
		logging.OutputTokens(resp.Usage.OutputTokens),
	)
	return cls
}

func classifierPrompt(available []tools.ServerType) string {
	var b strings.Builder
	b.WriteString("You triage requests for an assistant with access to these services:\n\n")
	for _, t := range available {
		m := t.Meta()
		fmt.Fprintf(&b, "- %s: %s\n", m.Category, m.Capability)
	}
	if len(available) == 0 {
		b.WriteString("- (none)\n")
	}
	b.WriteString(`
Answer with JSON only:
{"needs_tools": true|false, "categories": ["..."], "is_simple": true|false}

needs_tools: the request requires reading or changing data in a service.
categories: the services involved, chosen from the list above.
is_simple: a greeting, thanks, or a question answerable from general knowledge.`)
	return b.String()
}

// parseClassification pulls the JSON object out of text, tolerating code
// fences and surrounding prose, and drops unknown categories.
func parseClassification(text string, available []tools.ServerType) (Classification, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Classification{}, fmt.Errorf("no JSON object in classifier output")
	}

	var cls Classification
	if err := json.Unmarshal([]byte(text[start:end+1]), &cls); err != nil {
		return Classification{}, fmt.Errorf("decode classification: %w", err)
	}

	known := make([]string, 0, len(available))
	for _, t := range available {
		known = append(known, t.Meta().Category)
	}
	var cats []string
	for _, cat := range cls.Categories {
		cat = strings.ToLower(strings.TrimSpace(cat))
		if slices.Contains(known, cat) && !slices.Contains(cats, cat) {
			cats = append(cats, cat)
		}
	}
	cls.Categories = cats
	return cls, nil
}
