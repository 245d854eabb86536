package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// SpawnToolName is the tool name models use to delegate.
const SpawnToolName = "spawn_agent"

// SpawnInput is the spawn_agent argument object.
type SpawnInput struct {
	Task  string `json:"task" jsonschema:"minLength=1,description=Self-contained instructions for the child agent"`
	Agent string `json:"agent,omitempty" jsonschema:"description=Agent id to run; defaults to the calling agent"`
	Model string `json:"model,omitempty" jsonschema:"description=Optional model override as provider/model"`
}

// SpawnOutput is the JSON returned to the parent model.
type SpawnOutput struct {
	RunID     string       `json:"run_id"`
	AgentID   string       `json:"agent_id"`
	Model     string       `json:"model"`
	Response  string       `json:"response"`
	ToolCalls int          `json:"tool_calls"`
	Usage     models.Usage `json:"usage"`
}

var (
	spawnSchemaOnce sync.Once
	spawnSchema     json.RawMessage
)

func spawnInputSchema() json.RawMessage {
	spawnSchemaOnce.Do(func() {
		r := &jsonschema.Reflector{Anonymous: true, DoNotReference: true}
		data, err := json.Marshal(r.Reflect(&SpawnInput{}))
		if err != nil {
			panic(fmt.Sprintf("reflect spawn_agent schema: %v", err))
		}
		spawnSchema = data
	})
	return spawnSchema
}

// SpawnTool is a per-run spawn_agent instance. It carries the calling
// run's depth, limits and remaining budget.
type SpawnTool struct {
	coord *Coordinator
	info  agent.RunInfo

	maxDepth  int
	allowlist []string
	budget    *Budget
}

// RunTools implements agent.ToolSource.
func (c *Coordinator) RunTools(info agent.RunInfo) []tools.Tool {
	return []tools.Tool{c.NewSpawnTool(info)}
}

// NewSpawnTool builds the tool for one run. A run without an inherited
// budget starts a fresh one from its agent's subagent budget, shared by
// every child it spawns.
func (c *Coordinator) NewSpawnTool(info agent.RunInfo) *SpawnTool {
	t := &SpawnTool{coord: c, info: info, budget: info.Budget}
	if info.Agent != nil {
		sub := info.Agent.Subagents
		t.maxDepth = sub.MaxDepth
		t.allowlist = sub.AllowedModels
		if t.budget == nil && (sub.Budget.MaxTokens > 0 || sub.Budget.MaxToolCalls > 0) {
			t.budget = &Budget{MaxTokens: sub.Budget.MaxTokens, MaxToolCalls: sub.Budget.MaxToolCalls}
		}
	}
	return t
}

func (t *SpawnTool) Name() string { return SpawnToolName }

func (t *SpawnTool) Description() string {
	return "Delegate a self-contained task to a child agent and return its final answer."
}

func (t *SpawnTool) Schema() json.RawMessage { return spawnInputSchema() }

func (t *SpawnTool) Execute(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
	var in SpawnInput
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.ErrorResult(fmt.Sprintf("invalid spawn_agent arguments: %v", err)), nil
	}
	agentName := in.Agent
	if agentName == "" {
		agentName = t.info.AgentID
	}

	res, err := t.coord.Spawn(ctx, SpawnRequest{
		AgentName:        agentName,
		Prompt:           in.Task,
		ModelOverride:    in.Model,
		CurrentDepth:     t.info.Depth,
		MaxDepth:         t.maxDepth,
		Allowlist:        t.allowlist,
		Budget:           t.budget,
		ParentSessionKey: t.info.SessionKey,
		ParentRunID:      t.info.RunID,
	})
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(SpawnOutput{
		RunID:     res.RunID,
		AgentID:   res.AgentID,
		Model:     res.Model,
		Response:  res.Response,
		ToolCalls: len(res.ToolCalls),
		Usage:     res.Usage,
	})
	if err != nil {
		return nil, err
	}
	return &tools.Result{Content: string(data)}, nil
}
