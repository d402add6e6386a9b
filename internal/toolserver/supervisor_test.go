package toolserver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/agentd/internal/config"
	agenterr "github.com/abdul-hamid-achik/agentd/internal/errors"
	"github.com/abdul-hamid-achik/agentd/internal/tools"
)

type fakeSession struct {
	name  string
	tools []tools.NativeTool
	block bool

	mu     sync.Mutex
	calls  []string
	closed bool
}

func (s *fakeSession) ListTools(context.Context) ([]tools.NativeTool, error) {
	return s.tools, nil
}

func (s *fakeSession) CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return CallResult{}, ctx.Err()
	}
	return CallResult{Text: s.name + ":" + name}, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeConnector hands out sessions built by newSession, keyed by the
// command's first argument so tests can tell instances apart.
type fakeConnector struct {
	mu         sync.Mutex
	err        error
	newSession func(spec LaunchSpec, n int) *fakeSession
	sessions   []*fakeSession
}

func (c *fakeConnector) Connect(_ context.Context, spec LaunchSpec) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	s := c.newSession(spec, len(c.sessions))
	c.sessions = append(c.sessions, s)
	return s, nil
}

func (c *fakeConnector) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *fakeConnector) Session(i int) *fakeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[i]
}

func staticTools(names ...string) func(LaunchSpec, int) *fakeSession {
	return func(spec LaunchSpec, _ int) *fakeSession {
		return &fakeSession{name: spec.Command, tools: nativeTools(names...)}
	}
}

func nativeTools(names ...string) []tools.NativeTool {
	out := make([]tools.NativeTool, len(names))
	for i, n := range names {
		out[i] = tools.NativeTool{Name: n, InputSchema: map[string]any{"type": "object"}}
	}
	return out
}

func newTestSupervisor(t *testing.T, instances map[string]config.InstanceConfig, conn Connector, timeout time.Duration) *Supervisor {
	t.Helper()
	factory := NewFactory(nil, nil)
	factory.environ = func() []string { return []string{"PATH=/usr/bin"} }
	s := NewSupervisor(instances, factory, conn, tools.NewRegistry(nil), timeout, nil)
	t.Cleanup(s.Close)
	return s
}

func TestSupervisor_SharedInstanceRefcount(t *testing.T) {
	conn := &fakeConnector{newSession: staticTools("search_emails")}
	s := newTestSupervisor(t, map[string]config.InstanceConfig{
		"gmail": {Type: "gmail", CredentialsDir: "/creds"},
	}, conn, 0)
	ctx := context.Background()

	if err := s.Acquire(ctx, "alpha", "gmail"); err != nil {
		t.Fatalf("Acquire alpha: %v", err)
	}
	if err := s.Acquire(ctx, "beta", "gmail"); err != nil {
		t.Fatalf("Acquire beta: %v", err)
	}
	if got := conn.Connects(); got != 1 {
		t.Fatalf("expected one process for two projects, got %d", got)
	}

	s.Release("alpha")
	if _, ok := s.Registry().Resolve("search_emails", nil); !ok {
		t.Fatal("tools must stay registered while beta holds the instance")
	}
	if conn.Session(0).Closed() {
		t.Fatal("session closed while still referenced")
	}

	s.Release("beta")
	if _, ok := s.Registry().Resolve("search_emails", nil); ok {
		t.Error("tools should be unregistered after the last release")
	}
	if !conn.Session(0).Closed() {
		t.Error("session should be closed after the last release")
	}
	if _, ok := s.Handle("gmail"); ok {
		t.Error("handle should be removed")
	}
}

func TestSupervisor_CallToolUsesNativeName(t *testing.T) {
	conn := &fakeConnector{newSession: staticTools("send_message", "get_chats")}
	s := newTestSupervisor(t, map[string]config.InstanceConfig{
		"tg": {Type: "telegram", ServerDir: "/srv/telegram-mcp"},
	}, conn, 0)
	ctx := context.Background()

	if err := s.AcquireProject(ctx, "alpha", []string{"tg"}); err != nil {
		t.Fatalf("AcquireProject: %v", err)
	}

	res, err := s.CallTool(ctx, "alpha", "tg_send_message", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.Text != "uv:send_message" {
		t.Errorf("unexpected result %q", res.Text)
	}
	if calls := conn.Session(0).Calls(); len(calls) != 1 || calls[0] != "send_message" {
		t.Errorf("server should receive the native name, got %v", calls)
	}
}

func TestSupervisor_ProjectsRouteToOwnInstances(t *testing.T) {
	conn := &fakeConnector{newSession: func(spec LaunchSpec, n int) *fakeSession {
		return &fakeSession{name: []string{"first", "second"}[n], tools: nativeTools("search_emails")}
	}}
	s := newTestSupervisor(t, map[string]config.InstanceConfig{
		"gmail-work": {Type: "gmail", CredentialsDir: "/work"},
		"gmail-home": {Type: "gmail", CredentialsDir: "/home"},
	}, conn, 0)
	ctx := context.Background()

	if err := s.Acquire(ctx, "work", "gmail-work"); err != nil {
		t.Fatal(err)
	}
	if err := s.Acquire(ctx, "home", "gmail-home"); err != nil {
		t.Fatal(err)
	}

	res, err := s.CallTool(ctx, "work", "search_emails", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "first:search_emails" {
		t.Errorf("work project reached the wrong instance: %q", res.Text)
	}
}

func TestSupervisor_TimeoutThenReconnect(t *testing.T) {
	conn := &fakeConnector{newSession: func(spec LaunchSpec, n int) *fakeSession {
		return &fakeSession{name: spec.Command, tools: nativeTools("search_emails"), block: n == 0}
	}}
	s := newTestSupervisor(t, map[string]config.InstanceConfig{
		"gmail": {Type: "gmail", CredentialsDir: "/creds"},
	}, conn, 20*time.Millisecond)
	ctx := context.Background()

	if err := s.Acquire(ctx, "alpha", "gmail"); err != nil {
		t.Fatal(err)
	}

	_, err := s.CallTool(ctx, "alpha", "search_emails", nil)
	if agenterr.GetCode(err) != "tool_call_timeout" {
		t.Fatalf("expected timeout error, got %v", err)
	}
	h, _ := s.Handle("gmail")
	if h.State() != StateDisconnected {
		t.Fatal("handle should be marked disconnected after a timeout")
	}

	res, err := s.CallTool(ctx, "alpha", "search_emails", nil)
	if err != nil {
		t.Fatalf("call after reconnect: %v", err)
	}
	if res.Text != "npx:search_emails" {
		t.Errorf("unexpected result %q", res.Text)
	}
	if conn.Connects() != 2 {
		t.Errorf("expected exactly one reconnect, got %d connects", conn.Connects())
	}
	if h.State() != StateConnected {
		t.Error("handle should be connected again")
	}
}

func TestSupervisor_CallerCancellationIsNotTimeout(t *testing.T) {
	conn := &fakeConnector{newSession: func(spec LaunchSpec, _ int) *fakeSession {
		return &fakeSession{tools: nativeTools("search_emails"), block: true}
	}}
	s := newTestSupervisor(t, map[string]config.InstanceConfig{
		"gmail": {Type: "gmail", CredentialsDir: "/creds"},
	}, conn, time.Minute)

	if err := s.Acquire(context.Background(), "alpha", "gmail"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.CallTool(ctx, "alpha", "search_emails", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	h, _ := s.Handle("gmail")
	if h.State() != StateConnected {
		t.Error("a cancelled caller must not disconnect the shared handle")
	}
}

func TestSupervisor_UnknownTool(t *testing.T) {
	conn := &fakeConnector{newSession: staticTools("search_emails")}
	s := newTestSupervisor(t, map[string]config.InstanceConfig{
		"gmail": {Type: "gmail", CredentialsDir: "/creds"},
	}, conn, 0)

	_, err := s.CallTool(context.Background(), "alpha", "send_email", nil)
	if agenterr.GetCode(err) != "tool_not_found" {
		t.Errorf("expected tool_not_found, got %v", err)
	}
}

func TestSupervisor_AcquireFailures(t *testing.T) {
	conn := &fakeConnector{err: errors.New("spawn failed")}
	s := newTestSupervisor(t, map[string]config.InstanceConfig{
		"gmail": {Type: "gmail", CredentialsDir: "/creds"},
		"fax":   {Type: "fax"},
	}, conn, 0)
	ctx := context.Background()

	tests := []struct {
		name     string
		instance string
		code     string
	}{
		{"connect error", "gmail", "toolserver_unreachable"},
		{"unknown type", "fax", "toolserver_unreachable"},
		{"not configured", "missing", "toolserver_unreachable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Acquire(ctx, "alpha", tt.instance)
			if agenterr.GetCode(err) != tt.code {
				t.Errorf("Acquire(%q) error = %v, want code %s", tt.instance, err, tt.code)
			}
		})
	}

	if got := s.Instances("alpha"); len(got) != 0 {
		t.Errorf("failed instances must not hold references, got %v", got)
	}
}
