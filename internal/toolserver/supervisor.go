package toolserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/agentd/internal/config"
	agenterr "github.com/abdul-hamid-achik/agentd/internal/errors"
	"github.com/abdul-hamid-achik/agentd/internal/logging"
	"github.com/abdul-hamid-achik/agentd/internal/tools"
)

// DefaultCallTimeout bounds a single tool call.
const DefaultCallTimeout = 60 * time.Second

// Supervisor owns the running tool-server instances. An instance starts
// when the first project acquires it and stops when the last one releases it.
type Supervisor struct {
	instances map[string]config.InstanceConfig
	factory   *Factory
	connector Connector
	registry  *tools.Registry
	timeout   time.Duration
	log       *logging.Logger

	// mu guards handles, refs and the registry mutations made on start/stop.
	mu      sync.Mutex
	handles map[string]*Handle
	refs    map[string]map[string]struct{} // instance -> projects
}

// NewSupervisor creates a supervisor over the configured instances.
func NewSupervisor(
	instances map[string]config.InstanceConfig,
	factory *Factory,
	connector Connector,
	registry *tools.Registry,
	timeout time.Duration,
	log *logging.Logger,
) *Supervisor {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Supervisor{
		instances: instances,
		factory:   factory,
		connector: connector,
		registry:  registry,
		timeout:   timeout,
		log:       log.WithPrefix("toolserver"),
		handles:   make(map[string]*Handle),
		refs:      make(map[string]map[string]struct{}),
	}
}

// Registry returns the tool registry the supervisor populates.
func (s *Supervisor) Registry() *tools.Registry {
	return s.registry
}

// Acquire adds project's reference to instanceID, starting it if needed.
func (s *Supervisor) Acquire(ctx context.Context, projectID, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok {
		return agenterr.ToolServerUnreachable(instanceID, fmt.Errorf("instance is not configured"))
	}

	if _, running := s.handles[instanceID]; running {
		s.addRefLocked(instanceID, projectID)
		s.log.Debug("tool server already running, adding project",
			logging.Instance(instanceID), logging.Project(projectID))
		return nil
	}

	typ, spec, err := s.factory.Spec(ctx, inst)
	if err != nil {
		return agenterr.ToolServerUnreachable(instanceID, err)
	}

	h := newHandle(instanceID, typ, spec, s.log)
	native, err := h.Connect(ctx, s.connector)
	if err != nil {
		s.log.Error("failed to start tool server", logging.Instance(instanceID), logging.Error(err))
		return agenterr.ToolServerUnreachable(instanceID, err)
	}

	s.handles[instanceID] = h
	s.addRefLocked(instanceID, projectID)
	s.registry.RegisterInstance(instanceID, typ.Prefix(), native)
	s.log.Info("tool server started",
		logging.Instance(instanceID),
		logging.F("type", string(typ)),
		logging.Count(len(native)),
	)
	return nil
}

// AcquireProject acquires every instance a project references. Instances
// that fail to start are reported together; the rest stay acquired.
func (s *Supervisor) AcquireProject(ctx context.Context, projectID string, instanceIDs []string) error {
	var errs []error
	for _, id := range instanceIDs {
		if err := s.Acquire(ctx, projectID, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Supervisor) addRefLocked(instanceID, projectID string) {
	projects, ok := s.refs[instanceID]
	if !ok {
		projects = make(map[string]struct{})
		s.refs[instanceID] = projects
	}
	projects[projectID] = struct{}{}
}

// Release drops every reference project holds. Instances left without
// references are unregistered and stopped.
func (s *Supervisor) Release(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for instanceID, projects := range s.refs {
		if _, ok := projects[projectID]; !ok {
			continue
		}
		delete(projects, projectID)
		if len(projects) > 0 {
			s.log.Info("tool server still in use",
				logging.Instance(instanceID), logging.Count(len(projects)))
			continue
		}
		delete(s.refs, instanceID)
		s.stopLocked(instanceID)
		s.log.Info("tool server stopped, last project released",
			logging.Instance(instanceID), logging.Project(projectID))
	}
}

func (s *Supervisor) stopLocked(instanceID string) {
	h, ok := s.handles[instanceID]
	if !ok {
		return
	}
	delete(s.handles, instanceID)
	s.registry.UnregisterInstance(instanceID)
	if err := h.Disconnect(); err != nil {
		s.log.Warn("tool server close failed", logging.Instance(instanceID), logging.Error(err))
	}
}

// Instances returns the running instances project holds, sorted.
func (s *Supervisor) Instances(projectID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instancesLocked(projectID)
}

func (s *Supervisor) instancesLocked(projectID string) []string {
	var out []string
	for instanceID, projects := range s.refs {
		if _, ok := projects[projectID]; ok {
			out = append(out, instanceID)
		}
	}
	sort.Strings(out)
	return out
}

// Handle returns a running instance's handle.
func (s *Supervisor) Handle(instanceID string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[instanceID]
	return h, ok
}

// CallTool dispatches a namespaced tool call for project. A handle that
// timed out earlier is reconnected once before the call.
func (s *Supervisor) CallTool(ctx context.Context, projectID, name string, args map[string]any) (CallResult, error) {
	s.mu.Lock()
	desc, ok := s.registry.Resolve(name, s.instancesLocked(projectID))
	var h *Handle
	if ok {
		h = s.handles[desc.InstanceID]
	}
	s.mu.Unlock()

	if !ok || h == nil {
		return CallResult{}, agenterr.ToolNotFound(name)
	}

	if h.State() == StateDisconnected {
		native, err := h.Reconnect(ctx, s.connector)
		if err != nil {
			s.log.Error("tool server reconnect failed", logging.Instance(h.ID), logging.Error(err))
			return CallResult{}, agenterr.ToolServerUnreachable(h.ID, err)
		}
		s.mu.Lock()
		if s.handles[h.ID] == h {
			s.registry.RegisterInstance(h.ID, h.Type.Prefix(), native)
		}
		s.mu.Unlock()
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.log.Debug("calling tool", logging.ToolName(name), logging.Instance(h.ID))
	result, err := h.Call(callCtx, desc.NativeName, args)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			h.markDisconnected()
			s.log.Error("tool call timed out",
				logging.ToolName(name), logging.Instance(h.ID), logging.Duration(s.timeout))
			s.log.Event(logging.EventServerTimeout, logging.ToolName(name), logging.Instance(h.ID))
			return CallResult{}, agenterr.ToolCallTimeout(name, h.ID)
		}
		return CallResult{}, agenterr.ToolExecutionFailed(name, err)
	}
	return result, nil
}

// Close stops every instance.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.handles {
		s.stopLocked(id)
	}
	s.refs = make(map[string]map[string]struct{})
	s.log.Info("all tool servers stopped")
}
