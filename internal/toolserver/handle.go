// Package toolserver runs the long-lived tool-server processes that projects
// share, and routes namespaced tool calls to them.
package toolserver

import (
	"context"
	"errors"
	"sync"

	"github.com/abdul-hamid-achik/agentd/internal/logging"
	"github.com/abdul-hamid-achik/agentd/internal/tools"
)

// State is a handle's connection state
type State int

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

var errNotConnected = errors.New("tool server is not connected")

// CallResult is the text a tool call produced.
type CallResult struct {
	Text    string
	IsError bool
}

// Session is one live connection to a tool server.
type Session interface {
	ListTools(ctx context.Context) ([]tools.NativeTool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error)
	Close() error
}

// Connector launches a tool server and completes the protocol handshake.
type Connector interface {
	Connect(ctx context.Context, spec LaunchSpec) (Session, error)
}

// Handle is a supervised tool-server instance. The supervisor creates it for
// the first project that references the instance.
type Handle struct {
	ID   string
	Type tools.ServerType

	spec LaunchSpec
	log  *logging.Logger

	mu      sync.Mutex
	session Session
	tools   []tools.NativeTool
}

func newHandle(id string, typ tools.ServerType, spec LaunchSpec, log *logging.Logger) *Handle {
	return &Handle{ID: id, Type: typ, spec: spec, log: log}
}

// State reports whether the handle has a live session.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return StateDisconnected
	}
	return StateConnected
}

// Tools returns the tool list cached at the last connect.
func (h *Handle) Tools() []tools.NativeTool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tools
}

// Connect launches the server and caches its tool list.
func (h *Handle) Connect(ctx context.Context, connector Connector) ([]tools.NativeTool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connectLocked(ctx, connector)
}

func (h *Handle) connectLocked(ctx context.Context, connector Connector) ([]tools.NativeTool, error) {
	session, err := connector.Connect(ctx, h.spec)
	if err != nil {
		return nil, err
	}
	listed, err := session.ListTools(ctx)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	h.session = session
	h.tools = listed
	h.log.Event(logging.EventServerStart, logging.Instance(h.ID), logging.Count(len(listed)))
	return listed, nil
}

// Reconnect replaces the session with a fresh one. A handle that another
// caller already reconnected is left alone.
func (h *Handle) Reconnect(ctx context.Context, connector Connector) ([]tools.NativeTool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session != nil {
		return h.tools, nil
	}
	h.log.Warn("tool server disconnected, reconnecting", logging.Instance(h.ID))
	h.log.Event(logging.EventServerReconnect, logging.Instance(h.ID))
	return h.connectLocked(ctx, connector)
}

// Disconnect closes the session and stops the process.
func (h *Handle) Disconnect() error {
	session := h.detach()
	if session == nil {
		return nil
	}
	h.log.Event(logging.EventServerStop, logging.Instance(h.ID))
	return session.Close()
}

// markDisconnected drops the session after a failed call. The process is
// stopped in the background; a wedged server must not block the caller.
func (h *Handle) markDisconnected() {
	session := h.detach()
	if session == nil {
		return
	}
	go func() {
		if err := session.Close(); err != nil {
			h.log.Warn("tool server did not close cleanly", logging.Instance(h.ID), logging.Error(err))
		}
	}()
}

func (h *Handle) detach() Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	session := h.session
	h.session = nil
	return session
}

// Call invokes a native tool name on the current session.
func (h *Handle) Call(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	h.mu.Lock()
	session := h.session
	h.mu.Unlock()

	if session == nil {
		return CallResult{}, errNotConnected
	}
	return session.CallTool(ctx, name, args)
}
