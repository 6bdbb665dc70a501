// Package subagent exposes the orchestrator as agent tools: spawning
// sub-agents, handing off tasks, and collecting their results.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spotty118/saturn"
)

// defaultWait bounds wait_for_agents when the model gives no timeout.
const defaultWait = 60 * time.Second

// SpawnTool creates a new sub-agent.
type SpawnTool struct {
	orch *saturn.Orchestrator
}

// NewSpawnTool creates the spawn tool.
func NewSpawnTool(orch *saturn.Orchestrator) *SpawnTool { return &SpawnTool{orch: orch} }

func (t *SpawnTool) Definition() saturn.ToolDefinition {
	return saturn.ToolDefinition{
		Name:        "create_agent",
		Description: "Create a sub-agent to work on a task independently. Returns the agent id to use with hand_off_task.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"name":{"type":"string","description":"Agent name (alphanumeric plus - and _)"},"system_prompt":{"type":"string","description":"System prompt for the sub-agent"},"model":{"type":"string","description":"Model override (defaults to the orchestrator's model)"}},"required":["name"]}`),
	}
}

func (t *SpawnTool) Execute(ctx context.Context, args json.RawMessage) (saturn.ToolResult, error) {
	var params struct {
		Name         string `json:"name"`
		SystemPrompt string `json:"system_prompt"`
		Model        string `json:"model"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return saturn.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	id, err := t.orch.CreateAgent(params.Name, func(cfg *saturn.Config) {
		if params.SystemPrompt != "" {
			cfg.SystemPrompt = params.SystemPrompt
		}
		if params.Model != "" {
			cfg.Model = params.Model
		}
	})
	if err != nil {
		return saturn.ToolResult{Error: err.Error()}, nil
	}
	return saturn.ToolResult{Content: "created agent " + id, Data: id}, nil
}

// HandOffTool enqueues a task onto a sub-agent.
type HandOffTool struct {
	orch *saturn.Orchestrator
}

// NewHandOffTool creates the hand-off tool.
func NewHandOffTool(orch *saturn.Orchestrator) *HandOffTool { return &HandOffTool{orch: orch} }

func (t *HandOffTool) Definition() saturn.ToolDefinition {
	return saturn.ToolDefinition{
		Name:        "hand_off_task",
		Description: "Hand a task off to a sub-agent created with create_agent. Returns a task id immediately; use wait_for_agents to collect the result.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"agent_id":{"type":"string","description":"Target agent id"},"description":{"type":"string","description":"What the sub-agent should do"},"context":{"type":"object","description":"Optional key/value context","additionalProperties":{"type":"string"}}},"required":["agent_id","description"]}`),
	}
}

func (t *HandOffTool) Execute(ctx context.Context, args json.RawMessage) (saturn.ToolResult, error) {
	var params struct {
		AgentID     string            `json:"agent_id"`
		Description string            `json:"description"`
		Context     map[string]string `json:"context"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return saturn.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	taskID, err := t.orch.HandOff(params.AgentID, params.Description, params.Context)
	if err != nil {
		return saturn.ToolResult{Error: err.Error()}, nil
	}
	return saturn.ToolResult{Content: "queued task " + taskID, Data: taskID}, nil
}

// WaitTool blocks on sub-agent task results.
type WaitTool struct {
	orch *saturn.Orchestrator
}

// NewWaitTool creates the wait tool.
func NewWaitTool(orch *saturn.Orchestrator) *WaitTool { return &WaitTool{orch: orch} }

func (t *WaitTool) Definition() saturn.ToolDefinition {
	return saturn.ToolDefinition{
		Name:        "wait_for_agents",
		Description: "Wait for sub-agent tasks to finish. Returns each task's outcome; tasks still running at the timeout are reported as pending.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"task_ids":{"type":"array","items":{"type":"string"},"description":"Task ids from hand_off_task"},"timeout_seconds":{"type":"integer","description":"How long to wait (default 60)"}},"required":["task_ids"]}`),
	}
}

// Timeout declares a budget above the longest allowed wait.
func (t *WaitTool) Timeout() time.Duration { return 300 * time.Second }

func (t *WaitTool) Execute(ctx context.Context, args json.RawMessage) (saturn.ToolResult, error) {
	var params struct {
		TaskIDs        []string `json:"task_ids"`
		TimeoutSeconds int      `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return saturn.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if len(params.TaskIDs) == 0 {
		return saturn.ToolResult{Error: "task_ids is required"}, nil
	}
	wait := defaultWait
	if params.TimeoutSeconds > 0 {
		wait = time.Duration(params.TimeoutSeconds) * time.Second
	}

	results := t.orch.WaitFor(ctx, params.TaskIDs, wait)

	var b strings.Builder
	for i, id := range params.TaskIDs {
		res := results[i]
		switch {
		case res == nil:
			fmt.Fprintf(&b, "[%s] still pending after %s\n", id, wait)
		case res.Success:
			fmt.Fprintf(&b, "[%s] completed in %s:\n%s\n", id, res.Duration.Round(time.Millisecond), res.Text)
		default:
			fmt.Fprintf(&b, "[%s] failed: %s\n", id, res.Text)
		}
	}
	return saturn.ToolResult{Content: strings.TrimRight(b.String(), "\n"), Data: results}, nil
}

// StatusTool snapshots the live agents.
type StatusTool struct {
	orch *saturn.Orchestrator
}

// NewStatusTool creates the status tool.
func NewStatusTool(orch *saturn.Orchestrator) *StatusTool { return &StatusTool{orch: orch} }

func (t *StatusTool) Definition() saturn.ToolDefinition {
	return saturn.ToolDefinition{
		Name:        "list_agents",
		Description: "List the live sub-agents with their status and queued task counts.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	}
}

// ConcurrencySafe marks the snapshot as safe to run in parallel.
func (t *StatusTool) ConcurrencySafe() bool { return true }

func (t *StatusTool) Execute(ctx context.Context, args json.RawMessage) (saturn.ToolResult, error) {
	statuses := t.orch.ListAgentStatuses()
	if len(statuses) == 0 {
		return saturn.ToolResult{Content: "no agents"}, nil
	}
	var b strings.Builder
	for _, s := range statuses {
		fmt.Fprintf(&b, "%s (%s): %s, %d queued\n", s.Name, s.ID, s.Status, s.QueuedTasks)
	}
	return saturn.ToolResult{Content: strings.TrimRight(b.String(), "\n"), Data: statuses}, nil
}

// TerminateTool stops a sub-agent.
type TerminateTool struct {
	orch *saturn.Orchestrator
}

// NewTerminateTool creates the terminate tool.
func NewTerminateTool(orch *saturn.Orchestrator) *TerminateTool {
	return &TerminateTool{orch: orch}
}

func (t *TerminateTool) Definition() saturn.ToolDefinition {
	return saturn.ToolDefinition{
		Name:        "terminate_agent",
		Description: "Terminate a sub-agent, cancelling its current run and queued tasks. Pass \"all\" to terminate every agent.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"agent_id":{"type":"string","description":"Agent id, or \"all\""}},"required":["agent_id"]}`),
	}
}

func (t *TerminateTool) Execute(ctx context.Context, args json.RawMessage) (saturn.ToolResult, error) {
	var params struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return saturn.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if err := t.orch.TerminateAgent(params.AgentID); err != nil {
		return saturn.ToolResult{Error: err.Error()}, nil
	}
	return saturn.ToolResult{Content: "terminated " + params.AgentID}, nil
}
