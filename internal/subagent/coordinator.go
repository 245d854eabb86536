// Package subagent lets a running agent delegate work to a nested run.
// Depth, model choice and resources are checked before any child starts;
// depth and budget travel explicitly down the spawn chain.
package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/internal/routing"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// DefaultMaxDepth applies when an agent does not configure subagents.max_depth.
const DefaultMaxDepth = 3

// Budget bounds what a child and its descendants may consume.
type Budget = models.Budget

// SpawnRequest describes one child run.
type SpawnRequest struct {
	// AgentName is the child agent id; empty runs the parent's agent.
	AgentName string
	Prompt    string

	// ModelOverride, when set, leads the child's model chain.
	ModelOverride string

	CurrentDepth int
	MaxDepth     int

	// Allowlist restricts ModelOverride. Empty allows any model.
	Allowlist []string

	// Budget is the parent's remaining budget. Everything the child and
	// its descendants spend is charged to it. Nil means unlimited.
	Budget *Budget

	ParentSessionKey string
	ParentRunID      string
}

// Executor runs a child to completion. It charges the child's usage and
// tool calls, and those of the child's own descendants, to params.Budget.
type Executor interface {
	RunSync(ctx context.Context, params models.RunParams) (*models.RunResult, error)
}

// Options configure a Coordinator.
type Options struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics

	// Config supplies the default provider for allowlist matching.
	Config *config.Snapshot

	// RetainFinished bounds the finished runs kept by Runs().
	RetainFinished int
}

// Coordinator validates and executes subagent spawns.
type Coordinator struct {
	mu       sync.RWMutex
	executor Executor

	// budgetMu serializes charges against shared parent budgets; parallel
	// tool dispatch can finish several children at once.
	budgetMu sync.Mutex

	runs    *RunRegistry
	logger  *slog.Logger
	metrics *observability.Metrics
	config  *config.Snapshot
}

// NewCoordinator creates a coordinator. The executor is usually the runner,
// which itself depends on a pipeline that uses this coordinator as a tool
// source, so it is attached afterwards with SetExecutor.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		runs:    NewRunRegistry(opts.RetainFinished),
		logger:  opts.Logger.With("component", "subagent"),
		metrics: opts.Metrics,
		config:  opts.Config,
	}
}

// SetExecutor attaches the executor used for child runs.
func (c *Coordinator) SetExecutor(e Executor) {
	c.mu.Lock()
	c.executor = e
	c.mu.Unlock()
}

// Runs returns the child run registry.
func (c *Coordinator) Runs() *RunRegistry {
	return c.runs
}

// Spawn validates req and runs the child synchronously. The child's events
// stay on its own session; only the result comes back.
func (c *Coordinator) Spawn(ctx context.Context, req SpawnRequest) (*models.RunResult, error) {
	if err := c.validate(req); err != nil {
		c.metrics.RecordSubagentSpawn("rejected")
		c.logger.WarnContext(ctx, "subagent spawn rejected",
			"parent_session", req.ParentSessionKey,
			"depth", req.CurrentDepth,
			"error", err,
		)
		return nil, err
	}

	c.mu.RLock()
	executor := c.executor
	c.mu.RUnlock()
	if executor == nil {
		return nil, ErrNoExecutor
	}

	params := models.RunParams{
		RunID:      uuid.NewString(),
		SessionKey: req.ParentSessionKey + ":subagent:" + uuid.NewString(),
		AgentID:    req.AgentName,
		Model:      req.ModelOverride,
		Depth:      req.CurrentDepth + 1,
		Messages:   []models.Message{models.UserMessage(req.Prompt)},
	}
	var childBudget *Budget
	if req.Budget != nil {
		c.budgetMu.Lock()
		remaining := req.Budget.Remaining()
		c.budgetMu.Unlock()
		childBudget = &remaining
		params.Budget = childBudget
	}

	c.runs.start(RunRecord{
		RunID:            params.RunID,
		ChildSessionKey:  params.SessionKey,
		ParentSessionKey: req.ParentSessionKey,
		ParentRunID:      req.ParentRunID,
		AgentID:          req.AgentName,
		Task:             req.Prompt,
		Depth:            params.Depth,
	})
	c.logger.InfoContext(ctx, "subagent spawned",
		"run_id", params.RunID,
		"child_session", params.SessionKey,
		"agent", req.AgentName,
		"depth", params.Depth,
	)

	result, err := executor.RunSync(ctx, params)
	if childBudget != nil {
		c.budgetMu.Lock()
		req.Budget.Absorb(*childBudget)
		c.budgetMu.Unlock()
	}
	if err != nil {
		c.runs.finish(params.RunID, "", err)
		c.metrics.RecordSubagentSpawn("error")
		return nil, fmt.Errorf("subagent %s: %w", params.RunID, err)
	}

	c.runs.finish(params.RunID, result.Response, nil)
	c.metrics.RecordSubagentSpawn("success")
	return result, nil
}

func (c *Coordinator) validate(req SpawnRequest) error {
	maxDepth := req.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if req.CurrentDepth >= maxDepth {
		return fmt.Errorf("%w (depth=%d, max=%d)", ErrMaxDepthExceeded, req.CurrentDepth, maxDepth)
	}

	if req.ModelOverride != "" && len(req.Allowlist) > 0 && !c.modelAllowed(req.ModelOverride, req.Allowlist) {
		return fmt.Errorf("%w: %s", ErrModelNotAllowed, req.ModelOverride)
	}

	if req.Budget != nil {
		c.budgetMu.Lock()
		exhausted := req.Budget.Exhausted()
		c.budgetMu.Unlock()
		if exhausted {
			return ErrBudgetExhausted
		}
	}

	if strings.TrimSpace(req.Prompt) == "" {
		return ErrEmptyTask
	}
	return nil
}

// modelAllowed matches the override against the allowlist, both as written
// and in its fully qualified "provider/model" form. Entries may be globs.
func (c *Coordinator) modelAllowed(model string, allow []string) bool {
	if tools.Allowed(allow, model) {
		return true
	}
	defaultProvider := ""
	if c.config != nil {
		if cfg := c.config.Load(); cfg != nil {
			defaultProvider = cfg.DefaultProvider
		}
	}
	ref, err := routing.ParseModelRef(model, defaultProvider)
	if err != nil {
		return false
	}
	return tools.Allowed(allow, ref.String())
}
