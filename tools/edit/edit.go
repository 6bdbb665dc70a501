// Package edit exposes the patch engine as an agent tool.
package edit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spotty118/saturn"
	"github.com/spotty118/saturn/patch"
)

// Tool applies edits to workspace files through the patch engine.
type Tool struct {
	engine *patch.Engine
}

// New creates an edit tool over the given engine.
func New(engine *patch.Engine) *Tool { return &Tool{engine: engine} }

func (t *Tool) Definition() saturn.ToolDefinition {
	return saturn.ToolDefinition{
		Name: "apply_diff",
		Description: "Edit a workspace file. code_edit is either a structured patch " +
			"(*** Update File: sections with @@ anchor @@ hunks) applied locally, or a " +
			"free-form edit with '... existing code ...' markers sent to the fast-apply " +
			"service. Set dry_run to preview without writing.",
		Parameters: json.RawMessage(`{"type":"object","properties":{"target_file":{"type":"string","description":"File path relative to workspace"},"instructions":{"type":"string","description":"One-line description of the edit"},"code_edit":{"type":"string","description":"The edit to apply"},"dry_run":{"type":"boolean","description":"Preview the result without writing"}},"required":["target_file","code_edit"]}`),
	}
}

// Timeout covers a remote round trip plus local fallback.
func (t *Tool) Timeout() time.Duration { return 90 * time.Second }

// DisplaySummary renders a short human-readable action line.
func (t *Tool) DisplaySummary(args json.RawMessage) string {
	var params struct {
		TargetFile string `json:"target_file"`
	}
	_ = json.Unmarshal(args, &params)
	return "edit " + params.TargetFile
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (saturn.ToolResult, error) {
	var params struct {
		TargetFile   string `json:"target_file"`
		Instructions string `json:"instructions"`
		CodeEdit     string `json:"code_edit"`
		DryRun       bool   `json:"dry_run"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return saturn.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.TargetFile == "" || params.CodeEdit == "" {
		return saturn.ToolResult{Error: "target_file and code_edit are required"}, nil
	}

	res, err := t.engine.Apply(ctx, patch.Request{
		TargetFile:   params.TargetFile,
		Instructions: params.Instructions,
		CodeEdit:     params.CodeEdit,
		Strategy:     patch.StrategyAuto,
		DryRun:       params.DryRun,
	})
	if err != nil {
		return saturn.ToolResult{Error: err.Error()}, nil
	}

	msg := fmt.Sprintf("Applied edit to %s via %s strategy", res.Path, res.StrategyUsed)
	if res.FallbackUsed {
		msg += " (after remote fallback)"
	}
	if params.DryRun {
		msg = fmt.Sprintf("Dry run for %s:\n%s", res.Path, res.UpdatedContent)
	}
	return saturn.ToolResult{Content: msg, Data: res}, nil
}
