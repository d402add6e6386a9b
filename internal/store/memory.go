package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/agentd/internal/llm"
)

// MemoryStore keeps everything in process.
type MemoryStore struct {
	mu        sync.Mutex
	nextID    int64
	turns     []Turn
	summaries map[string]Summary
	toolCalls []ToolCallRecord
	costs     map[costKey]*CostRecord
	now       func() time.Time
}

type costKey struct {
	date, project, model string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		summaries: make(map[string]Summary),
		costs:     make(map[costKey]*CostRecord),
		now:       time.Now,
	}
}

func (s *MemoryStore) SaveTurn(_ context.Context, projectID string, msg llm.Message, usage llm.Usage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.turns = append(s.turns, Turn{
		ID:           s.nextID,
		ProjectID:    projectID,
		Message:      msg,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CreatedAt:    s.now().UTC(),
	})
	return s.nextID, nil
}

func (s *MemoryStore) RecentTurns(_ context.Context, projectID string, limit int) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Turn
	for i := len(s.turns) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.turns[i].ProjectID == projectID {
			out = append(out, s.turns[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *MemoryStore) ClearTurns(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.turns[:0]
	for _, t := range s.turns {
		if t.ProjectID != projectID {
			kept = append(kept, t)
		}
	}
	s.turns = kept
	delete(s.summaries, projectID)
	return nil
}

func (s *MemoryStore) SaveSummary(_ context.Context, sum Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = s.now().UTC()
	}
	s.summaries[sum.ProjectID] = sum
	return nil
}

func (s *MemoryStore) LatestSummary(_ context.Context, projectID string) (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.summaries[projectID]
	if !ok {
		return nil, nil
	}
	return &sum, nil
}

func (s *MemoryStore) LogToolCall(_ context.Context, rec ToolCallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Result = clipResult(rec.Result)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	s.toolCalls = append(s.toolCalls, rec)
	return nil
}

// ToolCalls returns the audit log in insertion order.
func (s *MemoryStore) ToolCalls() []ToolCallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ToolCallRecord(nil), s.toolCalls...)
}

func (s *MemoryStore) RecordCost(_ context.Context, projectID, model string, usage llm.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := costKey{date: costDate(s.now()), project: projectID, model: model}
	rec, ok := s.costs[key]
	if !ok {
		rec = &CostRecord{Date: key.date, ProjectID: projectID, Model: model}
		s.costs[key] = rec
	}
	rec.Requests++
	rec.InputTokens += usage.InputTokens
	rec.OutputTokens += usage.OutputTokens
	rec.CostUSD += Cost(model, usage)
	return nil
}

func (s *MemoryStore) CostSummary(_ context.Context, days int) ([]CostRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	since := costDate(s.now().AddDate(0, 0, -days))
	var out []CostRecord
	for _, rec := range s.costs {
		if rec.Date >= since {
			out = append(out, *rec)
		}
	}
	sortCosts(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// sortCosts orders newest day first, then project and model.
func sortCosts(recs []CostRecord) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		if a.ProjectID != b.ProjectID {
			return a.ProjectID < b.ProjectID
		}
		return a.Model < b.Model
	})
}
