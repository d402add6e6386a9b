package context

import (
	"context"
	"fmt"
	"strings"

	"github.com/abdul-hamid-achik/agentd/internal/config"
	"github.com/abdul-hamid-achik/agentd/internal/llm"
	"github.com/abdul-hamid-achik/agentd/internal/logging"
)

const summaryPrompt = `Compress the conversation below into a short factual summary.

You MUST keep, verbatim:
- every email address, phone number and link
- names of people and companies, their roles and preferred language
- exact dates, times and time zones
- actions that were actually performed (emails sent, events created), with details
- agreements and preferences the user stated

Format: 5 to 15 bullet points, one concrete sentence each. No preamble.
Reply with the list only.`

const (
	summaryHeader = "[Summary of earlier conversation]"
	summaryFooter = "[End of summary, conversation continues]"
	ackFiller     = "Understood, continuing."
)

// Summarizer compresses an old prefix of a conversation into one synthetic
// user turn through a single fast-model call.
type Summarizer struct {
	client llm.LLMClient
	model  string
	cfg    config.SummarizerConfig
	log    *logging.Logger
}

// NewSummarizer creates a summarizer calling model through client.
func NewSummarizer(client llm.LLMClient, model string, cfg config.SummarizerConfig, log *logging.Logger) *Summarizer {
	return &Summarizer{
		client: client,
		model:  model,
		cfg:    cfg,
		log:    log.WithPrefix("summarizer"),
	}
}

// Compressed is the outcome of Compress.
type Compressed struct {
	Messages []llm.Message
	// Summary is the new summary text, or "" when history was returned as is.
	Summary string
	// Replaced counts the leading messages of the input folded into Summary.
	Replaced int
}

// MaybeSummarize returns history unchanged unless it holds more than the
// threshold of turns. Otherwise everything but the newest keep_recent turns
// is replaced by one summary turn. Any failure returns history unchanged.
func (s *Summarizer) MaybeSummarize(ctx context.Context, history []llm.Message) []llm.Message {
	return s.Compress(ctx, history).Messages
}

// Compress is MaybeSummarize, also reporting what was summarized so the
// caller can persist it.
func (s *Summarizer) Compress(ctx context.Context, history []llm.Message) Compressed {
	unchanged := Compressed{Messages: history}
	if s == nil || !s.cfg.Enabled || len(history) <= s.cfg.Threshold {
		return unchanged
	}

	keep := min(max(s.cfg.KeepRecent, 0), len(history))
	old := history[:len(history)-keep]
	recent := history[len(history)-keep:]
	if len(old) == 0 {
		return unchanged
	}

	s.log.Info("summarizing history",
		logging.F("summarized", len(old)),
		logging.F("kept", len(recent)),
	)

	resp, err := s.client.Chat(ctx, &llm.Request{
		Model:     s.model,
		System:    summaryPrompt,
		Messages:  []llm.Message{llm.UserText(formatForSummary(old, s.cfg.ClipChars, s.cfg.ToolClipChars))},
		MaxTokens: s.cfg.MaxTokens,
	})
	if err != nil {
		s.log.Warn("summarization failed, keeping full history", logging.Error(err))
		return unchanged
	}
	summary := resp.Text()
	if summary == "" {
		s.log.Warn("summarizer returned no text, keeping full history")
		return unchanged
	}

	// The model is asked to keep literal facts; anything it dropped is
	// appended from our own scan of the replaced turns.
	if missing := MissingFacts(ExtractFacts(old), summary); len(missing) > 0 {
		summary += "\n- Preserved details: " + strings.Join(missing, ", ")
	}

	result := Normalize(WithSummary(summary, recent))

	s.log.Event(logging.EventContextSummarize,
		logging.F("before", len(history)),
		logging.F("after", len(result)),
		logging.InputTokens(resp.Usage.InputTokens),
		logging.OutputTokens(resp.Usage.OutputTokens),
	)
	s.log.Metrics().RecordSummarization()
	return Compressed{Messages: result, Summary: summary, Replaced: len(old)}
}

// WithSummary puts a summary turn in front of recent, with an assistant
// acknowledgement between them when recent opens with a user turn. The
// result is not normalized.
func WithSummary(summary string, recent []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(recent)+2)
	out = append(out, llm.UserText(summaryHeader+"\n"+summary+"\n"+summaryFooter))
	if len(recent) > 0 && recent[0].Role == llm.RoleUser {
		out = append(out, llm.AssistantText(ackFiller))
	}
	return append(out, recent...)
}

// IsSummary reports whether msg is a synthetic summary turn.
func IsSummary(msg llm.Message) bool {
	return msg.Role == llm.RoleUser && strings.HasPrefix(msg.Content, summaryHeader)
}

func formatForSummary(messages []llm.Message, clip, toolClip int) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		role := "User"
		if msg.Role == llm.RoleAssistant {
			role = "Assistant"
		}

		var texts []string
		for _, tr := range msg.ToolResults {
			texts = append(texts, fmt.Sprintf("[Tool result: %s]", clipText(tr.Content, toolClip, "")))
		}
		if msg.Content != "" {
			texts = append(texts, msg.Content)
		}
		for _, tc := range msg.ToolCalls {
			texts = append(texts, fmt.Sprintf("[Called: %s]", tc.Name))
		}

		content := strings.Join(texts, "\n")
		if content == "" {
			continue
		}
		if !IsSummary(msg) {
			content = clipText(content, clip, "...")
		}
		parts = append(parts, role+": "+content)
	}
	return strings.Join(parts, "\n\n")
}
