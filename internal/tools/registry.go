package tools

import (
	"slices"
	"strings"
	"sync"

	"github.com/abdul-hamid-achik/agentd/internal/llm"
	"github.com/abdul-hamid-achik/agentd/internal/logging"
	"github.com/abdul-hamid-achik/agentd/internal/permissions"
)

// maxDescriptionLength caps tool descriptions sent to the provider.
const maxDescriptionLength = 100

// NativeTool is a tool as listed by its server, before namespacing.
type NativeTool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Descriptor is a registered tool. Its lifetime is the owning connection's.
type Descriptor struct {
	Name        string // namespaced name the model sees
	NativeName  string // name the server knows
	Description string
	InputSchema map[string]any
	InstanceID  string
}

type instanceEntry struct {
	prefix string
	names  []string // namespaced, in server order
}

// Registry maps namespaced tool names to the tool-server instances that
// serve them. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	byName    map[string][]Descriptor // owners in registration order, newest last
	instances map[string]*instanceEntry
	log       *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		byName:    make(map[string][]Descriptor),
		instances: make(map[string]*instanceEntry),
		log:       log.WithPrefix("registry"),
	}
}

// RegisterInstance registers an instance's tools under prefix, replacing any
// earlier registration of the same instance. A name already served by
// another instance is taken over with a warning; the earlier owner stays
// reachable for projects that reference it explicitly.
func (r *Registry) RegisterInstance(instanceID, prefix string, native []NativeTool) []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unregisterLocked(instanceID)

	entry := &instanceEntry{prefix: prefix}
	registered := make([]Descriptor, 0, len(native))
	for _, t := range native {
		d := Descriptor{
			Name:        prefix + t.Name,
			NativeName:  t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			InstanceID:  instanceID,
		}
		if owners := r.byName[d.Name]; len(owners) > 0 {
			r.log.Warn("tool name already registered, overriding",
				logging.ToolName(d.Name),
				logging.F("previous_instance", owners[len(owners)-1].InstanceID),
				logging.Instance(instanceID),
			)
		}
		r.byName[d.Name] = append(r.byName[d.Name], d)
		entry.names = append(entry.names, d.Name)
		registered = append(registered, d)
	}
	r.instances[instanceID] = entry

	r.log.Info("registered tool server instance",
		logging.Instance(instanceID),
		logging.Count(len(registered)),
		logging.F("prefix", prefix),
	)
	return registered
}

// UnregisterInstance removes every tool the instance registered.
func (r *Registry) UnregisterInstance(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := r.unregisterLocked(instanceID); n > 0 {
		r.log.Info("unregistered tool server instance", logging.Instance(instanceID), logging.Count(n))
	}
}

func (r *Registry) unregisterLocked(instanceID string) int {
	entry, ok := r.instances[instanceID]
	if !ok {
		return 0
	}
	delete(r.instances, instanceID)
	for _, name := range entry.names {
		owners := slices.DeleteFunc(r.byName[name], func(d Descriptor) bool {
			return d.InstanceID == instanceID
		})
		if len(owners) == 0 {
			delete(r.byName, name)
		} else {
			r.byName[name] = owners
		}
	}
	return len(entry.names)
}

// HasInstance reports whether instanceID is registered.
func (r *Registry) HasInstance(instanceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.instances[instanceID]
	return ok
}

// Resolve finds the descriptor for a namespaced name. When instanceIDs is
// non-empty only those instances are considered, in order; otherwise the
// newest registration wins.
func (r *Registry) Resolve(name string, instanceIDs []string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owners := r.byName[name]
	if len(owners) == 0 {
		return Descriptor{}, false
	}
	if len(instanceIDs) == 0 {
		return owners[len(owners)-1], true
	}
	for _, id := range instanceIDs {
		for i := len(owners) - 1; i >= 0; i-- {
			if owners[i].InstanceID == id {
				return owners[i], true
			}
		}
	}
	return Descriptor{}, false
}

// OriginalName strips the namespace prefix from a registered name. Unknown
// names are returned unchanged.
func (r *Registry) OriginalName(name string) string {
	if d, ok := r.Resolve(name, nil); ok {
		return d.NativeName
	}
	return name
}

// FilterForInstances returns the tools of the given instances whose names
// match an allowed prefix ("*" allows everything). The order follows
// instanceIDs, then each server's listing order; a name appears once.
func (r *Registry) FilterForInstances(instanceIDs []string, allowed []string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	policy := permissions.PhasePolicy{AllowedPrefixes: allowed}
	seen := make(map[string]bool)
	var out []Descriptor
	for _, id := range instanceIDs {
		entry, ok := r.instances[id]
		if !ok {
			continue
		}
		for _, name := range entry.names {
			if seen[name] || !policy.Allows(name) {
				continue
			}
			for _, d := range r.byName[name] {
				if d.InstanceID == id {
					out = append(out, d)
					seen[name] = true
					break
				}
			}
		}
	}
	return out
}

// NarrowByPrefixes keeps the descriptors matching any of prefixes.
func NarrowByPrefixes(descs []Descriptor, prefixes []string) []Descriptor {
	var out []Descriptor
	for _, d := range descs {
		for _, p := range prefixes {
			if strings.HasPrefix(d.Name, p) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// Definitions converts descriptors to provider tool definitions with
// minimized schemas and clipped descriptions.
func Definitions(descs []Descriptor) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(descs))
	for _, d := range descs {
		desc := d.Description
		if desc == "" {
			desc = d.Name
		}
		if runes := []rune(desc); len(runes) > maxDescriptionLength {
			desc = strings.TrimRight(string(runes[:maxDescriptionLength]), " \t\n") + "…"
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        d.Name,
			Description: desc,
			InputSchema: MinimizeSchema(d.InputSchema),
		})
	}
	return defs
}

// MinimizeSchema returns a copy of schema with per-property descriptions
// removed and the object type and properties keys guaranteed.
func MinimizeSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema)+2)
	for k, v := range schema {
		out[k] = v
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}

	props, _ := schema["properties"].(map[string]any)
	minimized := make(map[string]any, len(props))
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			minimized[name] = raw
			continue
		}
		clean := make(map[string]any, len(prop))
		for k, v := range prop {
			if k != "description" {
				clean[k] = v
			}
		}
		minimized[name] = clean
	}
	out["properties"] = minimized
	return out
}
