// Package shell executes commands in a sandboxed workspace, optionally gated
// behind an approval callback.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/spotty118/saturn"
)

// maxOutputChars caps combined stdout and stderr handed back to the model.
const maxOutputChars = 4000

// ApprovalFunc decides whether a command may run. Returning false rejects
// the execution without running anything.
type ApprovalFunc func(command string) bool

// Tool executes shell commands in the workspace directory.
type Tool struct {
	root           string
	defaultTimeout int // seconds
	approve        ApprovalFunc
}

// Option configures the shell tool.
type Option func(*Tool)

// WithApproval gates every command behind fn. Used when the agent config
// requires command approval.
func WithApproval(fn ApprovalFunc) Option {
	return func(t *Tool) { t.approve = fn }
}

// WithDefaultTimeout overrides the default command timeout in seconds.
func WithDefaultTimeout(seconds int) Option {
	return func(t *Tool) { t.defaultTimeout = seconds }
}

// New creates a shell tool. Commands run in root.
func New(root string, opts ...Option) *Tool {
	t := &Tool{root: root, defaultTimeout: 30}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Definition() saturn.ToolDefinition {
	return saturn.ToolDefinition{
		Name:        "execute_command",
		Description: "Execute a shell command in the workspace directory. Returns stdout + stderr. Use for running scripts, checking files, or system tasks.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"command":{"type":"string","description":"Shell command to execute"},"timeout":{"type":"integer","description":"Timeout in seconds (default 30)"}},"required":["command"]}`),
	}
}

// Timeout reports the declared execution budget to the runtime.
func (t *Tool) Timeout() time.Duration {
	return time.Duration(t.defaultTimeout) * time.Second
}

// DisplaySummary renders a short human-readable action line.
func (t *Tool) DisplaySummary(args json.RawMessage) string {
	var params struct {
		Command string `json:"command"`
	}
	_ = json.Unmarshal(args, &params)
	if len(params.Command) > 60 {
		params.Command = params.Command[:60] + "..."
	}
	return "run: " + params.Command
}

// blocked substrings are rejected outright.
var blocked = []string{"rm -rf /", "sudo ", "mkfs", "> /dev/", "dd if="}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (saturn.ToolResult, error) {
	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return saturn.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Command == "" {
		return saturn.ToolResult{Error: "command is required"}, nil
	}

	lower := strings.ToLower(params.Command)
	for _, b := range blocked {
		if strings.Contains(lower, b) {
			return saturn.ToolResult{Error: "command blocked for safety: " + b}, nil
		}
	}

	if t.approve != nil && !t.approve(params.Command) {
		return saturn.ToolResult{Error: "command rejected by approval policy"}, nil
	}

	timeout := t.defaultTimeout
	if params.Timeout > 0 {
		timeout = params.Timeout
	}
	if timeout > 300 {
		timeout = 300
	}

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", params.Command)
	cmd.Dir = t.root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var output string
	if stdout.Len() > 0 {
		output = stdout.String()
	}
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += stderr.String()
	}
	if len(output) > maxOutputChars {
		output = output[:maxOutputChars] + "\n... (truncated)"
	}

	if err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return saturn.ToolResult{Content: output, Error: fmt.Sprintf("command timed out after %ds", timeout)}, nil
		}
		if output == "" {
			output = err.Error()
		}
		return saturn.ToolResult{Content: output, Error: "exit: " + err.Error()}, nil
	}

	if output == "" {
		output = "(no output)"
	}
	return saturn.ToolResult{Content: output}, nil
}
