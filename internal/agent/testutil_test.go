package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/abdul-hamid-achik/agentd/internal/approval"
	"github.com/abdul-hamid-achik/agentd/internal/config"
	ctxmgr "github.com/abdul-hamid-achik/agentd/internal/context"
	agenterr "github.com/abdul-hamid-achik/agentd/internal/errors"
	"github.com/abdul-hamid-achik/agentd/internal/llm"
	"github.com/abdul-hamid-achik/agentd/internal/permissions"
	"github.com/abdul-hamid-achik/agentd/internal/store"
	"github.com/abdul-hamid-achik/agentd/internal/tools"
	"github.com/abdul-hamid-achik/agentd/internal/toolserver"
)

// fakeRuntime stands in for the supervisor: it registers fixed tool lists
// and answers calls through handler.
type fakeRuntime struct {
	mu       sync.Mutex
	registry *tools.Registry
	native   map[string][]tools.NativeTool
	acquired map[string][]string
	released []string
	calls    []string
	handler  func(name string, args map[string]any) (toolserver.CallResult, error)
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		registry: tools.NewRegistry(nil),
		native: map[string][]tools.NativeTool{
			"gmail-main": {
				{Name: "search_emails", Description: "Search mail"},
				{Name: "read_email", Description: "Read one message"},
				{Name: "send_email", Description: "Send a message"},
			},
			"cal-main": {
				{Name: "list-events", Description: "List events"},
				{Name: "create-event", Description: "Create an event"},
			},
		},
		acquired: make(map[string][]string),
		handler: func(name string, _ map[string]any) (toolserver.CallResult, error) {
			return toolserver.CallResult{Text: name + " ok"}, nil
		},
	}
}

func (f *fakeRuntime) AcquireProject(_ context.Context, projectID string, instanceIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range instanceIDs {
		native, ok := f.native[id]
		if !ok {
			return fmt.Errorf("unknown instance %q", id)
		}
		f.registry.RegisterInstance(id, "", native)
	}
	f.acquired[projectID] = instanceIDs
	return nil
}

func (f *fakeRuntime) Instances(projectID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired[projectID]
}

func (f *fakeRuntime) Registry() *tools.Registry { return f.registry }

func (f *fakeRuntime) Release(projectID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.acquired, projectID)
	f.released = append(f.released, projectID)
}

func (f *fakeRuntime) Released() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

func (f *fakeRuntime) CallTool(_ context.Context, projectID, name string, args map[string]any) (toolserver.CallResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	instances := f.acquired[projectID]
	handler := f.handler
	f.mu.Unlock()

	desc, ok := f.registry.Resolve(name, instances)
	if !ok {
		return toolserver.CallResult{}, agenterr.ToolNotFound(name)
	}
	return handler(desc.NativeName, args)
}

func (f *fakeRuntime) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// testSettings returns a config with one project over gmail and calendar
// instances. The classifier is off unless a test turns it on.
func testSettings(phase permissions.Phase) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Classifier.Enabled = false
	cfg.ToolServers = map[string]config.InstanceConfig{
		"gmail-main": {Type: "gmail"},
		"cal-main":   {Type: "calendar"},
	}
	cfg.Projects = map[string]config.ProjectConfig{
		"alpha": {Phase: phase, ToolServers: []string{"gmail-main", "cal-main"}},
	}
	return cfg
}

type testHarness struct {
	agent   *Agent
	llm     *llm.MockLLMClient
	runtime *fakeRuntime
	store   *store.MemoryStore
	gate    *approval.Gate
}

// newTestAgent wires an Agent over mocks. responses are replayed in order.
func newTestAgent(t *testing.T, cfg *config.Config, responses ...*llm.Response) *testHarness {
	t.Helper()

	mock := llm.NewMockLLMClient(responses...)
	rt := newFakeRuntime()
	st := store.NewMemoryStore()
	gate := approval.NewGate(approval.NewMemoryStore(), nil, nil)

	var classifier *Classifier
	if cfg.Classifier.Enabled {
		classifier = NewClassifier(mock, cfg.GetModel(config.TierFast), cfg.Classifier.MaxTokens, nil)
	}
	var summarizer *ctxmgr.Summarizer
	if cfg.Summarizer.Enabled {
		summarizer = ctxmgr.NewSummarizer(mock, cfg.GetModel(config.TierFast), cfg.Summarizer, nil)
	}

	a := New(Config{
		LLM:        mock,
		Tools:      rt,
		Store:      st,
		Gate:       gate,
		Settings:   cfg,
		Classifier: classifier,
		Summarizer: summarizer,
	})
	return &testHarness{agent: a, llm: mock, runtime: rt, store: st, gate: gate}
}

func toolNames(defs []llm.ToolDefinition) []string {
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	return names
}

func lastToolResults(t *testing.T, req llm.Request) []llm.ToolResult {
	t.Helper()
	if len(req.Messages) == 0 {
		t.Fatal("request has no messages")
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != llm.RoleUser || len(last.ToolResults) == 0 {
		t.Fatalf("last message is not a tool result turn: %+v", last)
	}
	return last.ToolResults
}
