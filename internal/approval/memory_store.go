package approval

import (
	"context"
	"sort"
	"sync"
	"time"

	agenterr "github.com/abdul-hamid-achik/agentd/internal/errors"
)

// MemoryStore keeps requests in process. Used in tests and single-process
// deployments.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]*Request
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*Request)}
}

func (s *MemoryStore) Create(_ context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, agenterr.ApprovalNotFound(id)
	}
	return req.clone(), nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, to Status, at time.Time) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, agenterr.ApprovalNotFound(id)
	}
	if req.Status != StatusPending {
		return nil, agenterr.ApprovalAlreadyResolved(id)
	}
	req.Status = to
	req.ResolvedAt = at
	return req.clone(), nil
}

func (s *MemoryStore) Pending(_ context.Context, projectID string) ([]*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Request
	for _, req := range s.requests {
		if req.Status != StatusPending {
			continue
		}
		if projectID != "" && req.ProjectID != projectID {
			continue
		}
		out = append(out, req.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
