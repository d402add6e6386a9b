package context

import (
	"github.com/abdul-hamid-achik/agentd/internal/config"
	"github.com/abdul-hamid-achik/agentd/internal/llm"
	"github.com/abdul-hamid-achik/agentd/internal/logging"
)

const (
	// DefaultMaxTokens is the default trimming budget for one request window.
	DefaultMaxTokens = 150000

	defaultCharsPerToken   = 3
	defaultMessageOverhead = 10

	// minKeptTurns is how many of the newest turns Trim never drops.
	minKeptTurns = 2
)

// StoredTurn is anything persisted that can be replayed as a provider message.
type StoredTurn interface {
	AsMessage() llm.Message
}

// Build converts persisted turns, oldest first, into provider messages and
// normalizes the result.
func Build[T StoredTurn](turns []T) []llm.Message {
	messages := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, t.AsMessage())
	}
	return Normalize(messages)
}

// Manager bounds the message window sent to the provider.
type Manager struct {
	maxTokens       int
	charsPerToken   int
	messageOverhead int
	calibrator      *TokenCalibrator
	log             *logging.Logger
}

// NewManager creates a manager from the context section of the config.
func NewManager(cfg config.ContextConfig, log *logging.Logger) *Manager {
	m := &Manager{
		maxTokens:       cfg.MaxTokens,
		charsPerToken:   cfg.CharsPerToken,
		messageOverhead: cfg.MessageOverhead,
		log:             log.WithPrefix("context"),
	}
	if m.maxTokens <= 0 {
		m.maxTokens = DefaultMaxTokens
	}
	if m.charsPerToken <= 0 {
		m.charsPerToken = defaultCharsPerToken
	}
	if m.messageOverhead < 0 {
		m.messageOverhead = defaultMessageOverhead
	}
	return m
}

// WithCalibrator lets observed provider usage correct future estimates.
func (m *Manager) WithCalibrator(c *TokenCalibrator) *Manager {
	m.calibrator = c
	return m
}

// Calibrator returns the attached calibrator, or nil.
func (m *Manager) Calibrator() *TokenCalibrator {
	return m.calibrator
}

// MaxTokens returns the configured window budget.
func (m *Manager) MaxTokens() int {
	return m.maxTokens
}

// EstimateTokens estimates the tokens of a message window: characters over
// charsPerToken plus a fixed overhead per message.
func (m *Manager) EstimateTokens(messages []llm.Message) int {
	total := m.rawEstimate(messages)
	if m.calibrator != nil {
		total = m.calibrator.Adjust(total)
	}
	return total
}

// RawEstimate is the uncalibrated estimate, suitable for recording
// calibration samples.
func (m *Manager) RawEstimate(messages []llm.Message) int {
	return m.rawEstimate(messages)
}

func (m *Manager) rawEstimate(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += msg.TextLength()/m.charsPerToken + m.messageOverhead
	}
	return total
}

// EstimateText estimates the tokens of a single string.
func (m *Manager) EstimateText(text string) int {
	if text == "" {
		return 0
	}
	return max(1, len(text)/m.charsPerToken)
}

// Trim drops the oldest turns one at a time while the window is estimated
// over maxTokens (the configured budget when maxTokens <= 0). The newest two
// turns are never dropped. The result is normalized.
func (m *Manager) Trim(messages []llm.Message, maxTokens int) []llm.Message {
	if maxTokens <= 0 {
		maxTokens = m.maxTokens
	}

	trimmed := messages
	dropped := 0
	for len(trimmed) > minKeptTurns && m.EstimateTokens(trimmed) > maxTokens {
		trimmed = trimmed[1:]
		dropped++
	}

	if dropped > 0 {
		m.log.Event(logging.EventContextTrim,
			logging.Count(dropped),
			logging.MessageCount(len(trimmed)),
		)
		m.log.Debug("trimmed context window", logging.Count(dropped), logging.MessageCount(len(trimmed)))
	}

	return Normalize(append([]llm.Message(nil), trimmed...))
}
