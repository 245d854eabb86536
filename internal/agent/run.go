package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentcore/internal/abort"
	"github.com/haasonsaas/agentcore/internal/backoff"
	"github.com/haasonsaas/agentcore/internal/compaction"
	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/internal/failover"
	"github.com/haasonsaas/agentcore/internal/llm"
	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/internal/prompt"
	"github.com/haasonsaas/agentcore/internal/routing"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/internal/transcript"
	"github.com/haasonsaas/agentcore/internal/usage"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// run is the mutable state of one Pipeline.Run call.
type run struct {
	p      *Pipeline
	params models.RunParams
	handle *abort.Handle
	em     *runEmitter
	loop   LoopConfig

	agentID   string
	agent     *config.AgentConfig
	phase     Phase
	iteration int

	ctrl        *failover.Controller
	guard       compaction.Guard
	compactOpts compaction.Options
	budget      *models.Budget

	system   string
	working  []models.Message
	appended []models.Message
	records  []models.ToolCallRecord
	total    models.Usage
	model    routing.ModelRef
}

// response is one successful provider round trip.
type response struct {
	text  string
	calls []models.ToolCall
	usage models.Usage
}

func (r *run) logger(ctx context.Context) *slog.Logger {
	l := r.p.deps.Logger.With("run_id", r.params.RunID, "session_key", r.params.SessionKey)
	if r.agentID != "" {
		l = l.With("agent_id", r.agentID)
	}
	return l
}

func (r *run) aborted(ctx context.Context) bool {
	return r.handle.Aborted() || ctx.Err() != nil
}

func (r *run) abortErr() error {
	return &LoopError{Phase: r.phase, Iteration: r.iteration, Cause: ErrAborted}
}

func (r *run) fail(err error) error {
	if err == nil {
		return nil
	}
	var le *LoopError
	if errors.As(err, &le) {
		return err
	}
	return &LoopError{Phase: r.phase, Iteration: r.iteration, Cause: err}
}

func (r *run) execute(ctx context.Context) (*models.RunResult, error) {
	if len(r.params.Messages) == 0 {
		return nil, r.fail(ErrNoMessages)
	}

	cfg := r.p.deps.Config.Load()
	res, err := routing.NewResolver(cfg).ResolveParams(r.params)
	if err != nil {
		return nil, r.fail(err)
	}
	r.agentID = res.AgentID
	r.agent = res.Agent
	r.loop = r.p.loop
	if res.Agent.MaxIterations > 0 {
		r.loop.MaxIterations = res.Agent.MaxIterations
	}
	r.budget = r.params.Budget
	r.guard = compaction.NewGuard(cfg.GuardFor(r.agentID))
	r.compactOpts = compaction.OptionsFromConfig(cfg.Compaction)
	r.compactOpts.Summarizer = r.p.deps.Summarizer
	r.ctrl = failover.NewController(res.Chain, failover.PolicyFromConfig(cfg.Failover),
		failover.WithAgentID(r.agentID),
		failover.WithRand(r.p.deps.Rand),
	)
	ctx = observability.WithAgentID(ctx, r.agentID)

	r.phase = PhasePromptBuilding
	toolset, err := r.buildToolset()
	if err != nil {
		return nil, r.fail(err)
	}
	r.system = r.buildPrompt(ctx, toolset)
	r.working = models.CloneMessages(r.params.Messages)

	for r.iteration = 1; ; r.iteration++ {
		if r.iteration > r.loop.MaxIterations {
			r.iteration = r.loop.MaxIterations
			return nil, &LoopError{
				Phase:     r.phase,
				Iteration: r.iteration,
				Message:   fmt.Sprintf("%v (limit %d)", ErrMaxIterations, r.loop.MaxIterations),
				Cause:     ErrMaxIterations,
			}
		}
		if r.aborted(ctx) {
			return nil, r.abortErr()
		}

		resp, err := r.callModel(ctx, toolset)
		if err != nil {
			return nil, r.fail(err)
		}
		r.appendMessage(models.Message{
			Role:      models.RoleAssistant,
			Content:   resp.text,
			ToolCalls: resp.calls,
		})

		if len(resp.calls) == 0 {
			return r.result(resp.text), nil
		}
		if err := r.chargeToolCalls(len(resp.calls)); err != nil {
			return nil, r.fail(err)
		}

		r.phase = PhaseToolDispatch
		results, err := r.dispatchTools(ctx, toolset, resp.calls)
		if err != nil {
			return nil, r.fail(err)
		}
		r.appendMessage(models.Message{Role: models.RoleTool, ToolResults: results})
	}
}

func (r *run) buildToolset() (*tools.Registry, error) {
	var extra []tools.Tool
	if src := r.p.deps.RunTools; src != nil {
		extra = src.RunTools(RunInfo{
			RunID:      r.params.RunID,
			SessionKey: r.params.SessionKey,
			AgentID:    r.agentID,
			Agent:      r.agent,
			Depth:      r.params.Depth,
			Budget:     r.budget,
		})
	}
	return r.p.deps.Tools.Scoped(r.agent.Tools, extra...)
}

func (r *run) buildPrompt(ctx context.Context, toolset *tools.Registry) string {
	list := toolset.List(nil)
	descs := make([]prompt.ToolDescription, 0, len(list))
	for _, t := range list {
		descs = append(descs, prompt.ToolDescription{Name: t.Name(), Description: t.Description()})
	}

	b := prompt.New().
		WithClock(r.p.deps.Clock).
		WithBasePrompt(r.agent.SystemPrompt).
		WithDynamicContext(prompt.DynamicContext{Workspace: r.agent.Workspace, AgentID: r.agentID}).
		WithToolDescriptions(descs).
		WithSkillInstructions(r.agent.Skills)

	if mem := r.p.deps.Memory; mem != nil {
		recent := r.params.Messages
		if n := r.loop.MemoryWindow; len(recent) > n {
			recent = recent[len(recent)-n:]
		}
		text, err := mem.BuildContext(ctx, r.agentID, models.CloneMessages(recent))
		if err != nil {
			r.logger(ctx).WarnContext(ctx, "memory context unavailable", "error", err)
		} else {
			b.WithMemoryContext(text)
		}
	}
	return b.Build()
}

// callModel performs one logical model call, walking the failover chain
// until a provider answers or the chain is exhausted.
func (r *run) callModel(ctx context.Context, toolset *tools.Registry) (*response, error) {
	for {
		if r.aborted(ctx) {
			return nil, r.abortErr()
		}
		ref := r.ctrl.Current()
		resp, err := r.attempt(ctx, ref, toolset)
		if err == nil {
			r.ctrl.Succeed()
			r.model = ref
			return resp, nil
		}
		if r.aborted(ctx) {
			return nil, r.abortErr()
		}

		d := r.ctrl.Fail(err)
		r.logger(ctx).WarnContext(ctx, "model call failed",
			"model", ref.String(),
			"class", d.Class,
			"action", d.Action,
			"error", err,
		)
		switch d.Action {
		case failover.ActionRetry, failover.ActionWait:
			if err := backoff.Sleep(ctx, d.Delay); err != nil {
				return nil, r.abortErr()
			}
		case failover.ActionCompactRetry:
			r.forceCompact(ctx)
		case failover.ActionSwitch:
			r.em.send(models.NewModelSwitchEvent(d.From.String(), d.To.String(), d.Reason))
			r.p.deps.Metrics.RecordModelSwitch(d.From.String(), d.To.String(), string(d.Class))
		default:
			return nil, r.ctrl.Err()
		}
	}
}

func (r *run) attempt(ctx context.Context, ref routing.ModelRef, toolset *tools.Registry) (*response, error) {
	r.phase = PhaseCalling
	provider, err := r.p.deps.Providers.Get(ref.Provider)
	if err != nil {
		pe := llm.NewProviderError(ref.Provider, ref.Model, err)
		pe.Class = llm.ClassFatal
		return nil, pe
	}

	r.compactIfNeeded(ctx)

	profile := transcript.ProfileFor(ref.Provider)
	req := &llm.CompletionRequest{
		Model:     ref.Model,
		System:    r.system,
		Messages:  transcript.Repair(r.working, profile),
		Tools:     toolset.Specs(nil),
		MaxTokens: r.loop.MaxTokens,
	}
	if !profile.SystemInline {
		if extra := transcript.ExtractSystem(r.working); extra != "" {
			req.System = strings.TrimSpace(req.System + "\n\n" + extra)
		}
	}

	ctx, span := r.p.deps.Tracer.TraceLLMRequest(ctx, ref.Provider, ref.Model)
	defer span.End()
	start := r.p.deps.Clock()
	elapsed := func() float64 { return r.p.deps.Clock().Sub(start).Seconds() }

	stream, err := provider.Complete(ctx, req)
	if err != nil {
		observability.RecordError(span, err)
		r.p.deps.Metrics.RecordLLMRequest(ref.Provider, ref.Model, "error", elapsed(), 0, 0)
		return nil, err
	}

	r.phase = PhaseStreaming
	var (
		text      strings.Builder
		resp      response
		done      bool
		streamErr error
	)
	for chunk := range stream {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			streamErr = chunk.Error
			continue
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			r.em.send(models.NewTextDeltaEvent(chunk.Text))
		}
		if chunk.ToolCall != nil {
			call := *chunk.ToolCall
			if call.ID == "" {
				call.ID = "call_" + uuid.NewString()
			}
			resp.calls = append(resp.calls, call)
		}
		if chunk.Done {
			done = true
			resp.usage = models.Usage{
				InputTokens:  int64(chunk.InputTokens),
				OutputTokens: int64(chunk.OutputTokens),
			}
		}
	}
	if streamErr == nil && !done {
		if ctx.Err() != nil {
			streamErr = ctx.Err()
		} else {
			streamErr = llm.NewProviderError(ref.Provider, ref.Model, errors.New("stream ended without completion"))
		}
	}
	if streamErr != nil {
		observability.RecordError(span, streamErr)
		r.p.deps.Metrics.RecordLLMRequest(ref.Provider, ref.Model, "error", elapsed(), 0, 0)
		return nil, streamErr
	}

	resp.text = text.String()
	r.p.deps.Metrics.RecordLLMRequest(ref.Provider, ref.Model, "success", elapsed(),
		int(resp.usage.InputTokens), int(resp.usage.OutputTokens))
	r.recordUsage(ref, resp.usage)
	return &resp, nil
}

func (r *run) recordUsage(ref routing.ModelRef, u models.Usage) {
	if u.IsZero() {
		return
	}
	r.total = r.total.Add(u)
	if r.budget != nil {
		r.budget.Consume(u, 0)
	}
	if t := r.p.deps.Usage; t != nil {
		t.Record(usage.Record{
			SessionKey: r.params.SessionKey,
			AgentID:    r.agentID,
			Provider:   ref.Provider,
			Model:      ref.Model,
			Usage:      u,
			Timestamp:  r.p.deps.Clock(),
		})
	}
	r.em.send(models.NewUsageEvent(u))
}

// chargeToolCalls enforces an inherited budget before tools run. A final
// answer is always accepted; only further work is refused.
func (r *run) chargeToolCalls(n int) error {
	if r.budget == nil {
		return nil
	}
	if r.budget.MaxTokens > 0 && r.budget.SpentTokens >= r.budget.MaxTokens {
		return fmt.Errorf("%w: %d of %d tokens used", ErrBudgetExceeded, r.budget.SpentTokens, r.budget.MaxTokens)
	}
	r.budget.Consume(models.Usage{}, n)
	if r.budget.MaxToolCalls > 0 && r.budget.SpentToolCalls > r.budget.MaxToolCalls {
		return fmt.Errorf("%w: %d of %d tool calls requested", ErrBudgetExceeded, r.budget.SpentToolCalls, r.budget.MaxToolCalls)
	}
	return nil
}

// compactIfNeeded prepares the working transcript for a provider call.
// Oversized tool results are truncated whatever the token pressure; the
// other strategies follow the guard.
func (r *run) compactIfNeeded(ctx context.Context) {
	if compaction.HasOversizedToolResult(r.working, r.compactOpts.MaxToolResultChars) {
		s := compaction.Strategy{Kind: compaction.KindToolResultTruncation, MaxChars: r.compactOpts.MaxToolResultChars}
		res, err := compaction.Apply(ctx, s, r.working, nil)
		if err != nil {
			r.logger(ctx).WarnContext(ctx, "tool result truncation failed", "error", err)
		} else {
			r.applyCompaction(res)
		}
	}

	tokens := compaction.EstimateTokens(r.working) + compaction.EstimateTokens([]models.Message{models.SystemMessage(r.system)})
	if r.guard.NeedsCompaction(tokens) {
		res, err := compaction.Compact(ctx, r.guard, r.working, r.compactOpts)
		if err != nil {
			r.logger(ctx).WarnContext(ctx, "compaction failed", "error", err)
			return
		}
		r.applyCompaction(res)
		return
	}

	// Below the warn breakpoint older messages are only tagged into chunks
	// for a later summary. Nothing is removed, so no compaction is reported.
	s := compaction.SelectStrategy(r.guard, tokens, false, r.compactOpts)
	if s.Kind != compaction.KindAdaptiveChunking {
		return
	}
	res, err := compaction.Apply(ctx, s, r.working, nil)
	if err != nil {
		r.logger(ctx).DebugContext(ctx, "adaptive chunking skipped", "error", err)
		return
	}
	if res.Changed {
		r.working = res.Messages
	}
}

// forceCompact shrinks the transcript after the provider reported a context
// overflow, whatever the local estimate says.
func (r *run) forceCompact(ctx context.Context) {
	s := compaction.Strategy{
		Kind:        compaction.KindSummary,
		KeepRecent:  r.compactOpts.KeepRecent,
		MaxChars:    r.compactOpts.MaxToolResultChars,
		ChunkTokens: r.compactOpts.ChunkTokens,
		Window:      r.guard.HardLimit,
	}
	if compaction.HasOversizedToolResult(r.working, s.MaxChars) {
		s.Kind = compaction.KindToolResultTruncation
	}

	res, err := compaction.Apply(ctx, s, r.working, r.compactOpts.Summarizer)
	if err != nil && s.Kind == compaction.KindSummary && r.compactOpts.Summarizer != nil {
		res, err = compaction.Apply(ctx, s, r.working, nil)
	}
	if err != nil || !res.Changed {
		s.Kind = compaction.KindHardClear
		res, err = compaction.Apply(ctx, s, r.working, nil)
	}
	if err != nil {
		r.logger(ctx).WarnContext(ctx, "overflow compaction failed", "error", err)
		return
	}
	r.applyCompaction(res)
}

func (r *run) applyCompaction(res *compaction.Result) {
	if res == nil || !res.Changed {
		return
	}
	r.working = res.Messages
	for _, kind := range res.Passes {
		r.p.deps.Metrics.RecordCompaction(string(kind))
	}
	r.em.send(models.NewCompactionEvent(models.CompactionNotice{
		Strategy:       string(res.Strategy),
		TokensBefore:   res.TokensBefore,
		TokensAfter:    res.TokensAfter,
		MessagesBefore: res.MessagesBefore,
		MessagesAfter:  res.MessagesAfter,
		Summary:        res.Summary,
	}))
}

func (r *run) appendMessage(msg models.Message) {
	msg.SessionKey = r.params.SessionKey
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.p.deps.Clock()
	}
	r.working = append(r.working, msg)
	r.appended = append(r.appended, msg.Clone())
}

func (r *run) result(text string) *models.RunResult {
	records := r.records
	if records == nil {
		records = []models.ToolCallRecord{}
	}
	return &models.RunResult{
		RunID:     r.params.RunID,
		AgentID:   r.agentID,
		Model:     r.model.String(),
		Response:  text,
		ToolCalls: records,
		Usage:     r.total,
		Messages:  models.CloneMessages(r.appended),
	}
}
