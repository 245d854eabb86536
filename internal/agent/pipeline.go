// Package agent implements the execution pipeline: resolve the agent,
// assemble the prompt, stream from the current model, dispatch tools and
// loop until the model answers without tool calls. Provider failures go
// through the failover controller and the working transcript is kept
// within the context window by the compaction engine.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/agentcore/internal/abort"
	"github.com/haasonsaas/agentcore/internal/compaction"
	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/internal/llm"
	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/internal/usage"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// MemoryProvider supplies recalled context for the prompt.
type MemoryProvider interface {
	BuildContext(ctx context.Context, agentID string, recent []models.Message) (string, error)
}

// RunInfo describes a run to per-run tool sources.
type RunInfo struct {
	RunID      string
	SessionKey string
	AgentID    string
	Agent      *config.AgentConfig
	Depth      int
	Budget     *models.Budget
}

// ToolSource contributes tools scoped to a single run, such as a subagent
// spawner that carries the run's depth and budget.
type ToolSource interface {
	RunTools(info RunInfo) []tools.Tool
}

// Deps are the collaborators of a Pipeline. Config and Providers are
// required; everything else is optional.
type Deps struct {
	// Config is read once at the start of each run; a reload mid-run does
	// not affect it.
	Config    *config.Snapshot
	Providers *llm.Registry
	Tools     *tools.Registry
	RunTools  ToolSource
	Usage     *usage.Tracker
	Memory    MemoryProvider

	// Summarizer backs the summary compaction strategy. Without one an
	// extractive digest is used.
	Summarizer compaction.Summarizer

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Clock   func() time.Time

	// Rand is the jitter source for failover backoff.
	Rand func() float64
}

// Pipeline runs agent turns. It is safe for concurrent use; each Run owns
// its own state.
type Pipeline struct {
	deps Deps
	loop LoopConfig
}

// NewPipeline creates a pipeline.
func NewPipeline(deps Deps, loop LoopConfig) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Tools == nil {
		deps.Tools = tools.NewRegistry()
	}
	if deps.Providers == nil {
		deps.Providers = llm.NewRegistry()
	}
	if deps.Config == nil {
		deps.Config = config.NewSnapshot(&config.Config{})
	}
	return &Pipeline{deps: deps, loop: sanitizeLoopConfig(loop)}
}

// Run executes one turn. Events are delivered to emit in order, ending
// with exactly one complete or error event, or with none when the run is
// aborted through handle. A nil handle disables abort checks.
func (p *Pipeline) Run(ctx context.Context, params models.RunParams, handle *abort.Handle, emit Emitter) (*models.RunResult, error) {
	if params.RunID == "" {
		params.RunID = uuid.NewString()
	}
	start := p.deps.Clock()
	if handle != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-handle.Done():
				cancel()
			case <-ctx.Done():
			}
		}()
	}
	ctx = observability.WithRunContext(ctx, params.RunID, params.SessionKey)
	ctx, span := p.deps.Tracer.TraceRun(ctx, params.RunID, params.AgentID)
	defer span.End()

	r := &run{
		p:       p,
		params:  params,
		handle:  handle,
		em:      newRunEmitter(params.RunID, params.SessionKey, handle, emit, p.deps.Clock),
		agentID: params.AgentID,
		phase:   PhaseResolving,
	}

	p.deps.Metrics.RunStarted()
	result, err := r.execute(ctx)
	if !errors.Is(err, ErrAborted) && r.aborted(ctx) {
		result, err = nil, r.abortErr()
	}
	failedAt := r.phase
	if err == nil {
		r.phase = PhaseCompleting
		if !r.em.send(models.NewCompleteEvent(result)) {
			result, err = nil, r.abortErr()
		}
	}

	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrAborted):
		status = "aborted"
		r.phase = PhaseAborted
		r.logger(ctx).InfoContext(ctx, "run aborted", "phase", failedAt)
	default:
		status = "error"
		r.phase = PhaseFailed
		observability.RecordError(span, err)
		r.em.send(models.NewErrorEvent(err.Error()))
		r.logger(ctx).WarnContext(ctx, "run failed", "phase", failedAt, "error", err)
	}

	span.SetAttributes(attribute.String("agent.id", r.agentID), attribute.String("run.status", status))
	p.deps.Metrics.RunFinished(r.agentID, status, p.deps.Clock().Sub(start).Seconds())
	if err != nil {
		return nil, err
	}
	return result, nil
}
