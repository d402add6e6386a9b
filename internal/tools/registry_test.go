package tools

import (
	"strings"
	"testing"
)

func nativeTools(names ...string) []NativeTool {
	out := make([]NativeTool, len(names))
	for i, n := range names {
		out[i] = NativeTool{
			Name:        n,
			Description: "does " + n,
			InputSchema: map[string]any{"type": "object"},
		}
	}
	return out
}

func TestRegistry_NamespaceRoundTrip(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterInstance("tg-main", "tg_", nativeTools("send_message", "get_chats"))

	d, ok := r.Resolve("tg_send_message", nil)
	if !ok {
		t.Fatal("expected tg_send_message to resolve")
	}
	if d.NativeName != "send_message" || d.InstanceID != "tg-main" {
		t.Errorf("unexpected descriptor %+v", d)
	}
	if got := r.OriginalName("tg_send_message"); got != "send_message" {
		t.Errorf("OriginalName() = %q", got)
	}
	if got := r.OriginalName("unknown_tool"); got != "unknown_tool" {
		t.Errorf("OriginalName(unknown) = %q", got)
	}
}

func TestRegistry_CollisionPrefersProjectInstance(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterInstance("gmail-work", "", nativeTools("search_emails"))
	r.RegisterInstance("gmail-home", "", nativeTools("search_emails"))

	d, _ := r.Resolve("search_emails", nil)
	if d.InstanceID != "gmail-home" {
		t.Errorf("global view should prefer the newest registration, got %s", d.InstanceID)
	}

	d, ok := r.Resolve("search_emails", []string{"gmail-work"})
	if !ok || d.InstanceID != "gmail-work" {
		t.Errorf("project view should resolve its own instance, got %+v", d)
	}

	if _, ok := r.Resolve("search_emails", []string{"calendar"}); ok {
		t.Error("a name owned by other instances must not leak into a project")
	}
}

func TestRegistry_UnregisterInstance(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterInstance("a", "", nativeTools("search_emails"))
	r.RegisterInstance("b", "", nativeTools("search_emails", "read_email"))

	r.UnregisterInstance("b")

	if r.HasInstance("b") {
		t.Error("instance b should be gone")
	}
	if _, ok := r.Resolve("read_email", nil); ok {
		t.Error("read_email should be unregistered")
	}
	d, ok := r.Resolve("search_emails", nil)
	if !ok || d.InstanceID != "a" {
		t.Errorf("search_emails should fall back to instance a, got %+v", d)
	}
}

func TestRegistry_ReRegisterReplaces(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterInstance("jira", "", nativeTools("jira_get", "jira_post"))
	r.RegisterInstance("jira", "", nativeTools("jira_get"))

	if _, ok := r.Resolve("jira_post", nil); ok {
		t.Error("tools dropped by a reconnect should disappear")
	}
	got := r.FilterForInstances([]string{"jira"}, []string{"*"})
	if len(got) != 1 {
		t.Errorf("expected 1 tool after re-registration, got %d", len(got))
	}
}

func TestRegistry_FilterForInstances(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterInstance("gmail", "", nativeTools("search_emails", "send_email", "read_email"))
	r.RegisterInstance("tg", "tg_", nativeTools("get_chats", "send_message"))
	r.RegisterInstance("other", "", nativeTools("jira_get"))

	tests := []struct {
		name      string
		instances []string
		allowed   []string
		want      []string
	}{
		{"wildcard", []string{"gmail", "tg"}, []string{"*"},
			[]string{"search_emails", "send_email", "read_email", "tg_get_chats", "tg_send_message"}},
		{"prefixes", []string{"gmail", "tg"}, []string{"search_", "read_", "tg_get_"},
			[]string{"search_emails", "read_email", "tg_get_chats"}},
		{"instance scope", []string{"tg"}, []string{"*"},
			[]string{"tg_get_chats", "tg_send_message"}},
		{"nothing allowed", []string{"gmail"}, nil, nil},
		{"unknown instance", []string{"missing"}, []string{"*"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.FilterForInstances(tt.instances, tt.allowed)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d tools, want %d: %v", len(got), len(tt.want), got)
			}
			for i, d := range got {
				if d.Name != tt.want[i] {
					t.Errorf("tool[%d] = %q, want %q", i, d.Name, tt.want[i])
				}
			}
		})
	}
}

func TestNarrowByPrefixes(t *testing.T) {
	descs := []Descriptor{{Name: "search_emails"}, {Name: "list-events"}, {Name: "tg_get_chats"}}

	got := NarrowByPrefixes(descs, []string{"list-", "tg_"})
	if len(got) != 2 || got[0].Name != "list-events" || got[1].Name != "tg_get_chats" {
		t.Errorf("NarrowByPrefixes() = %v", got)
	}
	if got := NarrowByPrefixes(descs, nil); len(got) != 0 {
		t.Errorf("expected no tools for no prefixes, got %v", got)
	}
}

func TestDefinitions(t *testing.T) {
	long := strings.Repeat("x", 150)
	defs := Definitions([]Descriptor{
		{Name: "a", Description: long},
		{Name: "b"},
	})

	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	if got := defs[0].Description; got != strings.Repeat("x", 100)+"…" {
		t.Errorf("description not clipped: %q", got)
	}
	if defs[1].Description != "b" {
		t.Errorf("empty description should fall back to the name, got %q", defs[1].Description)
	}
	if defs[1].InputSchema["type"] != "object" {
		t.Errorf("schema should default to object, got %v", defs[1].InputSchema)
	}
}

func TestMinimizeSchema(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "Gmail search syntax"},
			"limit": map[string]any{"type": "integer"},
		},
		"required": []any{"query"},
	}

	got := MinimizeSchema(schema)

	props := got["properties"].(map[string]any)
	query := props["query"].(map[string]any)
	if _, ok := query["description"]; ok {
		t.Error("property description should be stripped")
	}
	if query["type"] != "string" {
		t.Error("property type should be kept")
	}
	if got["required"] == nil {
		t.Error("required should be kept")
	}

	original := schema["properties"].(map[string]any)["query"].(map[string]any)
	if _, ok := original["description"]; !ok {
		t.Error("MinimizeSchema must not modify its input")
	}

	empty := MinimizeSchema(nil)
	if empty["type"] != "object" || empty["properties"] == nil {
		t.Errorf("nil schema should minimize to an empty object schema, got %v", empty)
	}
}
