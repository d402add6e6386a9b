package agent

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/abdul-hamid-achik/agentd/internal/approval"
	"github.com/abdul-hamid-achik/agentd/internal/config"
	ctxmgr "github.com/abdul-hamid-achik/agentd/internal/context"
	"github.com/abdul-hamid-achik/agentd/internal/llm"
	"github.com/abdul-hamid-achik/agentd/internal/logging"
	"github.com/abdul-hamid-achik/agentd/internal/permissions"
	"github.com/abdul-hamid-achik/agentd/internal/store"
)

const defaultMaxRounds = 15

const (
	budgetFallback = "I ran out of budget for this request before finishing. Ask again with a narrower request to continue."
	roundsFallback = "I reached the step limit for this request before finishing. Ask again to continue where I stopped."
	emptyFallback  = "I have no answer to add."
)

// run is the state of one pass through the loop.
type run struct {
	requestID   string
	setup       *projectSetup
	model       string
	system      string
	messages    []llm.Message
	tools       []llm.ToolDefinition
	budget      *Budget
	invocations []ToolInvocation
	rounds      int
	fastPath    bool
	start       time.Time

	// userTurn is persisted once, when the run ends. Resumed runs have none.
	userTurn *llm.Message
}

func (a *Agent) newRun(ps *projectSetup) *run {
	return &run{
		requestID: uuid.NewString(),
		setup:     ps,
		model:     a.settings.GetModel(config.TierDefault),
		system:    a.systemPrompt(ps),
		budget:    NewBudget(a.settings.Agent.TokenBudget),
		start:     time.Now(),
	}
}

// Run answers message for projectID.
func (a *Agent) Run(ctx context.Context, projectID, message string) (*Result, error) {
	ps, err := a.setup(projectID)
	if err != nil {
		return nil, err
	}
	r := a.newRun(ps)
	user := llm.UserText(message)
	r.userTurn = &user

	a.log.Event(logging.EventRunStart,
		logging.RequestID(r.requestID),
		logging.Project(projectID),
		logging.Phase(string(ps.project.Phase)),
		logging.Query(message),
	)

	cls := a.classify(ctx, message, ps.types)
	if cls.FastPath() {
		return a.fastPath(ctx, r, user)
	}

	if cls.NeedsTools {
		a.acquire(ctx, ps)
		r.tools = a.toolSet(ps, &cls)
	}

	history, err := a.conversation(ctx, projectID)
	if err != nil {
		return nil, err
	}
	r.messages = a.context.Trim(append(history, user), 0)

	a.log.Debug("starting tool loop",
		logging.RequestID(r.requestID),
		logging.MessageCount(len(r.messages)),
		logging.Count(len(r.tools)),
	)
	return a.loop(ctx, r)
}

// fastPath answers on the fast model with a short history and no tools.
func (a *Agent) fastPath(ctx context.Context, r *run, user llm.Message) (*Result, error) {
	r.fastPath = true
	r.model = a.settings.GetModel(config.TierFast)
	a.log.Event(logging.EventFastPath, logging.RequestID(r.requestID), logging.Project(r.setup.id))

	history, err := a.history(ctx, r.setup.id, a.settings.Agent.SimpleHistoryLimit)
	if err != nil {
		return nil, err
	}
	r.messages = a.context.Trim(append(history, user), 0)

	r.rounds++
	resp, err := a.chat(ctx, r, nil)
	if err != nil {
		return nil, a.abort(ctx, r, err)
	}
	return a.complete(ctx, r, resp.Text(), emptyFallback), nil
}

// ResumeApproved continues the run suspended on req, which must already be
// approved. The gated tool runs first; if the provider then fails, its
// result is returned instead of the error.
func (a *Agent) ResumeApproved(ctx context.Context, req *approval.Request) (*Result, error) {
	if req.Status != approval.StatusApproved {
		return nil, fmt.Errorf("approval %s is %s, not approved", req.ID, req.Status)
	}
	ps, err := a.setup(req.ProjectID)
	if err != nil {
		return nil, err
	}
	snapshot, err := req.Messages()
	if err != nil {
		return nil, err
	}

	r := a.newRun(ps)
	a.acquire(ctx, ps)
	r.tools = a.toolSet(ps, nil)

	base, results, remaining := splitSnapshot(snapshot, req.ToolUseID)
	r.messages = base

	a.log.Event(logging.EventRunStart,
		logging.RequestID(r.requestID),
		logging.Project(ps.id),
		logging.ApprovalID(req.ID),
		logging.ToolName(req.ToolName),
	)

	gated := a.executeTool(ctx, r, req.ToolCall())
	results = append(results, gated)

	pending, err := a.runToolCalls(ctx, r, remaining, results)
	if err != nil {
		return nil, a.abort(ctx, r, err)
	}
	if pending != nil {
		return a.suspend(ctx, r, pending), nil
	}

	res, err := a.loop(ctx, r)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		a.log.Warn("provider failed after approved tool ran, returning its result",
			logging.ApprovalID(req.ID), logging.Error(err))
		out := a.result(r, gated.Content)
		return out, nil
	}
	return res, nil
}

// ResolveApproval applies a human decision. Approval resumes the suspended
// run; rejection records the outcome and executes nothing.
func (a *Agent) ResolveApproval(ctx context.Context, id string, approve bool) (*Result, error) {
	outcome := approval.StatusRejected
	if approve {
		outcome = approval.StatusApproved
	}
	req, err := a.gate.Resolve(ctx, id, outcome)
	if err != nil {
		return nil, err
	}
	if approve {
		return a.ResumeApproved(ctx, req)
	}

	text := fmt.Sprintf("The request to run %s was rejected.", req.ToolName)
	if _, err := a.store.SaveTurn(ctx, req.ProjectID, llm.AssistantText(text), llm.Usage{}); err != nil {
		a.log.Error("failed to record rejection", logging.ApprovalID(id), logging.Error(err))
	}
	return &Result{Text: text}, nil
}

// loop runs rounds until the model answers, the budget or round limit is
// hit, a gated tool suspends the run, or ctx is cancelled.
func (a *Agent) loop(ctx context.Context, r *run) (*Result, error) {
	maxRounds := a.settings.Agent.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}

	for r.rounds < maxRounds {
		if err := ctx.Err(); err != nil {
			return nil, a.abort(ctx, r, err)
		}
		if r.budget.Exhausted() {
			usage := r.budget.Usage()
			a.log.Event(logging.EventRunBudget,
				logging.RequestID(r.requestID),
				logging.InputTokens(usage.InputTokens),
				logging.OutputTokens(usage.OutputTokens),
			)
			return a.finalAnswer(ctx, r, budgetFallback)
		}

		r.rounds++
		resp, err := a.chat(ctx, r, r.tools)
		if err != nil {
			return nil, a.abort(ctx, r, err)
		}
		if len(resp.ToolCalls) == 0 {
			return a.complete(ctx, r, resp.Text(), emptyFallback), nil
		}

		r.messages = append(r.messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		pending, err := a.runToolCalls(ctx, r, resp.ToolCalls, nil)
		if err != nil {
			return nil, a.abort(ctx, r, err)
		}
		if pending != nil {
			return a.suspend(ctx, r, pending), nil
		}
	}

	a.log.Event(logging.EventRunRounds, logging.RequestID(r.requestID), logging.Iteration(r.rounds))
	return a.finalAnswer(ctx, r, roundsFallback)
}

// runToolCalls executes calls in order after results already gathered for
// the same assistant turn, then appends all results as one user turn. The
// first approval-gated call stops it: the request is opened with the window
// so far and returned.
func (a *Agent) runToolCalls(ctx context.Context, r *run, calls []llm.ToolCall, results []llm.ToolResult) (*approval.Request, error) {
	for _, call := range calls {
		switch r.setup.policy.Check(call.Name) {
		case permissions.DecisionNeedsApproval:
			window := r.messages
			if len(results) > 0 {
				window = append(slices.Clone(window), llm.Message{Role: llm.RoleUser, ToolResults: results})
			}
			req, err := approval.NewRequest(r.setup.id, call, window)
			if err != nil {
				return nil, err
			}
			if err := a.gate.Open(ctx, req); err != nil {
				return nil, err
			}
			a.log.Event(logging.EventToolGated,
				logging.RequestID(r.requestID), logging.ToolName(call.Name), logging.ApprovalID(req.ID))
			return req, nil

		case permissions.DecisionDeny:
			a.log.Warn("model called a tool outside its phase",
				logging.ToolName(call.Name), logging.Phase(string(r.setup.project.Phase)))
			results = append(results, llm.ToolResult{
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("Error: tool %q is not available in the %s phase", call.Name, r.setup.project.Phase),
				IsError:    true,
			})

		default:
			results = append(results, a.executeTool(ctx, r, call))
		}
	}

	r.messages = append(r.messages, llm.Message{Role: llm.RoleUser, ToolResults: results})
	r.messages = a.context.Trim(r.messages, 0)
	return nil, nil
}

// splitSnapshot separates a suspended window into the messages up to the
// assistant turn, the results gathered before the gated call, and the calls
// after it.
func splitSnapshot(snapshot []llm.Message, toolUseID string) ([]llm.Message, []llm.ToolResult, []llm.ToolCall) {
	base := snapshot
	var results []llm.ToolResult
	if n := len(base); n > 0 && base[n-1].Role == llm.RoleUser && len(base[n-1].ToolResults) > 0 {
		results = append(results, base[n-1].ToolResults...)
		base = base[:n-1]
	}

	var remaining []llm.ToolCall
	if n := len(base); n > 0 && base[n-1].Role == llm.RoleAssistant {
		calls := base[n-1].ToolCalls
		for i, c := range calls {
			if c.ID == toolUseID {
				remaining = calls[i+1:]
				break
			}
		}
	}
	return base, results, remaining
}

// executeTool dispatches one call. Failures become error results; they
// never abort the run.
func (a *Agent) executeTool(ctx context.Context, r *run, call llm.ToolCall) llm.ToolResult {
	a.log.Event(logging.EventToolStart, logging.RequestID(r.requestID), logging.ToolName(call.Name))
	start := time.Now()

	var (
		content string
		isError bool
		callErr error
	)
	if a.tools == nil {
		callErr = fmt.Errorf("no tool servers are configured")
	} else {
		res, err := a.tools.CallTool(ctx, r.setup.id, call.Name, call.Input)
		content, isError, callErr = res.Text, res.IsError, err
	}
	if callErr != nil {
		content = "Error: " + callErr.Error()
		isError = true
	}
	elapsed := time.Since(start)

	if callErr != nil {
		a.log.Event(logging.EventToolError,
			logging.RequestID(r.requestID), logging.ToolName(call.Name), logging.Error(callErr))
		a.log.Warn("tool call failed", logging.ToolName(call.Name), logging.Error(callErr))
	} else {
		a.log.Event(logging.EventToolComplete,
			logging.RequestID(r.requestID), logging.ToolName(call.Name),
			logging.Duration(elapsed), logging.F("result_len", len(content)))
	}
	a.log.Metrics().RecordToolCall(call.Name, elapsed, callErr)

	if err := a.store.LogToolCall(context.WithoutCancel(ctx), storeRecord(r, call, content, isError, elapsed)); err != nil {
		a.log.Error("failed to log tool call", logging.ToolName(call.Name), logging.Error(err))
	}

	r.budget.RecordToolCall()
	r.invocations = append(r.invocations, ToolInvocation{Name: call.Name, IsError: isError, Duration: elapsed})

	return llm.ToolResult{
		ToolCallID: call.ID,
		Content:    ctxmgr.TruncateToolResult(content, a.settings.Agent.ToolResultLimit),
		IsError:    isError,
	}
}

func storeRecord(r *run, call llm.ToolCall, result string, isError bool, elapsed time.Duration) store.ToolCallRecord {
	return store.ToolCallRecord{
		ProjectID: r.setup.id,
		ToolName:  call.Name,
		Input:     call.Input,
		Result:    result,
		Model:     r.model,
		Latency:   elapsed,
		IsError:   isError,
	}
}

// chat sends the current window on the run's model.
func (a *Agent) chat(ctx context.Context, r *run, defs []llm.ToolDefinition) (*llm.Response, error) {
	estimate := a.context.RawEstimate(r.messages) + a.context.EstimateText(r.system)
	resp, err := a.llm.Chat(ctx, &llm.Request{
		Model:     r.model,
		System:    r.system,
		Messages:  r.messages,
		Tools:     defs,
		MaxTokens: a.settings.Provider.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	r.budget.Record(resp.Usage)
	a.context.Calibrator().Record(estimate,
		resp.Usage.InputTokens+resp.Usage.CacheReadTokens+resp.Usage.CacheWriteTokens)
	return resp, nil
}

// finalAnswer makes one last call without tools.
func (a *Agent) finalAnswer(ctx context.Context, r *run, fallback string) (*Result, error) {
	r.messages = ctxmgr.Normalize(llm.FlattenToolTraffic(r.messages))
	resp, err := a.chat(ctx, r, nil)
	if err != nil {
		return nil, a.abort(ctx, r, err)
	}
	return a.complete(ctx, r, resp.Text(), fallback), nil
}

func (a *Agent) complete(ctx context.Context, r *run, text, fallback string) *Result {
	if text == "" {
		text = fallback
	}
	final := llm.AssistantText(text)
	a.persist(ctx, r, &final)

	usage := r.budget.Usage()
	a.log.Event(logging.EventRunComplete,
		logging.RequestID(r.requestID),
		logging.Project(r.setup.id),
		logging.Iteration(r.rounds),
		logging.InputTokens(usage.InputTokens),
		logging.OutputTokens(usage.OutputTokens),
		logging.CacheReadTokens(usage.CacheReadTokens),
		logging.DurationSince(r.start),
	)
	a.log.Metrics().RecordRun(r.fastPath)
	a.log.Info("run complete",
		logging.Project(r.setup.id),
		logging.Model(r.model),
		logging.Iteration(r.rounds),
		logging.Count(len(r.invocations)),
		logging.DurationSince(r.start),
	)
	return a.result(r, text)
}

// suspend ends a run on an opened approval request.
func (a *Agent) suspend(ctx context.Context, r *run, req *approval.Request) *Result {
	text := fmt.Sprintf("Waiting for approval to run %s (request %s).", req.ToolName, req.ID)
	notice := llm.AssistantText(text)
	a.persist(ctx, r, &notice)
	a.log.Info("run suspended for approval",
		logging.Project(r.setup.id), logging.ApprovalID(req.ID), logging.ToolName(req.ToolName))
	a.log.Metrics().RecordRun(false)

	res := a.result(r, text)
	res.Pending = req
	return res
}

// abort persists what the run accrued and returns err.
func (a *Agent) abort(ctx context.Context, r *run, err error) error {
	a.persist(ctx, r, nil)
	a.log.Event(logging.EventRunAborted,
		logging.RequestID(r.requestID), logging.Iteration(r.rounds), logging.Error(err))
	a.log.Error("run aborted", logging.Project(r.setup.id), logging.Error(err))
	return err
}

// persist writes the user turn, the final assistant turn when there is one,
// and the run's cost. It ignores cancellation of ctx.
func (a *Agent) persist(ctx context.Context, r *run, final *llm.Message) {
	ctx = context.WithoutCancel(ctx)
	usage := r.budget.Usage()

	if r.userTurn != nil {
		if _, err := a.store.SaveTurn(ctx, r.setup.id, *r.userTurn, llm.Usage{InputTokens: usage.InputTokens}); err != nil {
			a.log.Error("failed to save user turn", logging.Project(r.setup.id), logging.Error(err))
		}
		r.userTurn = nil
	}
	if final != nil {
		if _, err := a.store.SaveTurn(ctx, r.setup.id, *final, llm.Usage{OutputTokens: usage.OutputTokens}); err != nil {
			a.log.Error("failed to save assistant turn", logging.Project(r.setup.id), logging.Error(err))
		}
	}
	if r.budget.ProviderCalls() > 0 {
		if err := a.store.RecordCost(ctx, r.setup.id, r.model, usage); err != nil {
			a.log.Error("failed to record cost", logging.Project(r.setup.id), logging.Error(err))
		}
	}
}

func (a *Agent) result(r *run, text string) *Result {
	return &Result{
		Text:      text,
		ToolCalls: r.invocations,
		Usage:     r.budget.Usage(),
		Model:     r.model,
		Rounds:    r.rounds,
		FastPath:  r.fastPath,
	}
}

// acquire starts the project's tool servers. Instances that fail stay
// unavailable for this run.
func (a *Agent) acquire(ctx context.Context, ps *projectSetup) {
	if a.tools == nil || len(ps.project.ToolServers) == 0 {
		return
	}
	if err := a.tools.AcquireProject(ctx, ps.id, ps.project.ToolServers); err != nil {
		a.log.Warn("some tool servers are unavailable", logging.Project(ps.id), logging.Error(err))
	}
}

func (a *Agent) history(ctx context.Context, projectID string, limit int) ([]llm.Message, error) {
	turns, err := a.store.RecentTurns(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}
	return ctxmgr.Build(turns), nil
}

// conversation loads the history window for a full run. Turns already
// covered by the project's stored summary are replaced by it, and a newly
// produced summary is stored so later runs start from it.
func (a *Agent) conversation(ctx context.Context, projectID string) ([]llm.Message, error) {
	turns, err := a.store.RecentTurns(ctx, projectID, a.settings.Agent.HistoryLimit)
	if err != nil {
		return nil, err
	}
	prior, err := a.store.LatestSummary(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		turns = slices.DeleteFunc(turns, func(t store.Turn) bool { return t.ID <= prior.ThroughTurnID })
	}

	// One message per turn until the summarizer has split them, so that
	// positions map back to turn IDs.
	raw := make([]llm.Message, 0, len(turns)+2)
	for _, t := range turns {
		raw = append(raw, t.AsMessage())
	}
	if prior != nil {
		raw = ctxmgr.WithSummary(prior.Text, raw)
	}
	prefix := len(raw) - len(turns)

	out := a.summarizer.Compress(ctx, raw)
	if out.Summary == "" {
		return ctxmgr.Normalize(out.Messages), nil
	}
	if covered := out.Replaced - prefix; covered > 0 {
		sum := store.Summary{
			ProjectID:     projectID,
			Text:          out.Summary,
			ThroughTurnID: turns[covered-1].ID,
			CreatedAt:     a.now(),
		}
		if err := a.store.SaveSummary(ctx, sum); err != nil {
			a.log.Warn("failed to store conversation summary", logging.Project(projectID), logging.Error(err))
		}
	}
	return out.Messages, nil
}
