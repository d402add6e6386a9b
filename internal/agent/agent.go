// Package agent runs the tool-use loop: triage, context assembly, provider
// calls, tool dispatch, approval suspension and persistence.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/agentd/internal/approval"
	"github.com/abdul-hamid-achik/agentd/internal/config"
	ctxmgr "github.com/abdul-hamid-achik/agentd/internal/context"
	"github.com/abdul-hamid-achik/agentd/internal/llm"
	"github.com/abdul-hamid-achik/agentd/internal/logging"
	"github.com/abdul-hamid-achik/agentd/internal/permissions"
	"github.com/abdul-hamid-achik/agentd/internal/store"
	"github.com/abdul-hamid-achik/agentd/internal/tools"
	"github.com/abdul-hamid-achik/agentd/internal/toolserver"
)

// ToolRuntime is the part of the tool-server supervisor the loop uses.
type ToolRuntime interface {
	AcquireProject(ctx context.Context, projectID string, instanceIDs []string) error
	Instances(projectID string) []string
	Registry() *tools.Registry
	CallTool(ctx context.Context, projectID, name string, args map[string]any) (toolserver.CallResult, error)
	Release(projectID string)
}

var _ ToolRuntime = (*toolserver.Supervisor)(nil)

// Config wires an Agent.
type Config struct {
	LLM      llm.LLMClient
	Tools    ToolRuntime
	Store    store.Store
	Gate     *approval.Gate
	Settings *config.Config

	// Classifier triages requests. When nil, categories are picked by
	// keyword and the fast path is never taken.
	Classifier *Classifier

	Context    *ctxmgr.Manager
	Summarizer *ctxmgr.Summarizer
	Log        *logging.Logger

	Now func() time.Time
}

// Agent executes runs. It holds no per-run state and is safe for
// concurrent use.
type Agent struct {
	llm        llm.LLMClient
	tools      ToolRuntime
	store      store.Store
	gate       *approval.Gate
	settings   *config.Config
	classifier *Classifier
	context    *ctxmgr.Manager
	summarizer *ctxmgr.Summarizer
	log        *logging.Logger
	now        func() time.Time
}

// New creates an Agent.
func New(cfg Config) *Agent {
	settings := cfg.Settings
	if settings == nil {
		settings = config.DefaultConfig()
	}
	a := &Agent{
		llm:        cfg.LLM,
		tools:      cfg.Tools,
		store:      cfg.Store,
		gate:       cfg.Gate,
		settings:   settings,
		classifier: cfg.Classifier,
		context:    cfg.Context,
		summarizer: cfg.Summarizer,
		log:        cfg.Log.WithPrefix("agent"),
		now:        cfg.Now,
	}
	if a.store == nil {
		a.store = store.NewMemoryStore()
	}
	if a.gate == nil {
		a.gate = approval.NewGate(approval.NewMemoryStore(), nil, cfg.Log)
	}
	if a.context == nil {
		a.context = ctxmgr.NewManager(settings.Context, cfg.Log)
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// ToolInvocation summarizes one executed tool call.
type ToolInvocation struct {
	Name     string
	IsError  bool
	Duration time.Duration
}

// Result is the outcome of a run.
type Result struct {
	Text      string
	ToolCalls []ToolInvocation
	Usage     llm.Usage
	Model     string
	Rounds    int
	FastPath  bool

	// Pending is set when the run stopped on an approval-gated tool.
	Pending *approval.Request
}

// projectSetup is everything a run derives from the project's config.
type projectSetup struct {
	id       string
	project  config.ProjectConfig
	types    []tools.ServerType
	policy   permissions.PhasePolicy
	basePath string
}

func (a *Agent) setup(projectID string) (*projectSetup, error) {
	project, err := a.settings.Project(projectID)
	if err != nil {
		return nil, err
	}

	var types []tools.ServerType
	for _, inst := range project.ToolServers {
		t, err := tools.ParseServerType(a.settings.ToolServers[inst].Type)
		if err != nil {
			return nil, fmt.Errorf("project %q: instance %q: %w", projectID, inst, err)
		}
		types = append(types, t)
	}

	set := project.ToolPolicy
	if set.IsZero() {
		set = tools.DefaultPolicy(types)
	}
	policy, ok := set.ForPhase(project.Phase)
	if !ok {
		return nil, fmt.Errorf("project %q: unknown phase %q", projectID, project.Phase)
	}

	return &projectSetup{
		id:       projectID,
		project:  project,
		types:    types,
		policy:   policy,
		basePath: a.settings.ResolvePath(project.SystemPromptFile),
	}, nil
}

func (a *Agent) systemPrompt(ps *projectSetup) string {
	base, err := loadBasePrompt(ps.basePath)
	if err != nil {
		a.log.Warn("using default system prompt", logging.Project(ps.id), logging.Error(err))
	}
	return BuildSystemPrompt(PromptContext{
		Base:        base,
		ProjectID:   ps.id,
		DisplayName: ps.project.DisplayName,
		Phase:       ps.project.Phase,
		Services:    ps.types,
		Now:         a.now(),
	})
}

// classify triages message. Without a classifier, categories come from
// keywords and tools are always offered.
func (a *Agent) classify(ctx context.Context, message string, types []tools.ServerType) Classification {
	if a.classifier != nil && a.settings.Classifier.Enabled {
		return a.classifier.Classify(ctx, message, types)
	}
	return Classification{
		NeedsTools: len(types) > 0,
		Categories: tools.NewKeywordSelector(types).SelectCategories(message),
	}
}

// toolSet returns the tools offered for a run: the project's instances
// filtered by phase policy, narrowed to the classified categories. An empty
// narrowing falls back to the whole allowed set.
func (a *Agent) toolSet(ps *projectSetup, cls *Classification) []llm.ToolDefinition {
	if a.tools == nil {
		return nil
	}
	instances := a.tools.Instances(ps.id)
	allowed := a.tools.Registry().FilterForInstances(instances, ps.policy.AllowedPrefixes)
	if cls == nil || len(allowed) == 0 {
		return tools.Definitions(allowed)
	}

	narrowed := tools.NarrowByPrefixes(allowed, cls.ToolPrefixes())
	if len(narrowed) == 0 {
		a.log.Warn("classifier categories matched no tools, offering all allowed tools",
			logging.Project(ps.id), logging.F("categories", cls.Categories))
		return tools.Definitions(allowed)
	}
	return tools.Definitions(narrowed)
}
