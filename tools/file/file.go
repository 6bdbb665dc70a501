// Package file provides workspace-sandboxed file tools.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spotty118/saturn"
)

// maxReadChars caps file_read output handed back to the model.
const maxReadChars = 8000

// ReadTool reads files under the workspace root.
type ReadTool struct {
	root string
}

// NewReadTool creates a read tool restricted to root.
func NewReadTool(root string) *ReadTool { return &ReadTool{root: root} }

func (t *ReadTool) Definition() saturn.ToolDefinition {
	return saturn.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file from the workspace. Returns the file content (truncated to 8000 chars if large).",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to workspace"}},"required":["path"]}`),
	}
}

// ConcurrencySafe marks reads as safe to run in parallel.
func (t *ReadTool) ConcurrencySafe() bool { return true }

func (t *ReadTool) Execute(ctx context.Context, args json.RawMessage) (saturn.ToolResult, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return saturn.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	resolved, err := saturn.SanitizePath(t.root, params.Path)
	if err != nil {
		return saturn.ToolResult{Error: err.Error()}, nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return saturn.ToolResult{Error: "read error: " + err.Error()}, nil
	}
	content := string(data)
	if len(content) > maxReadChars {
		content = content[:maxReadChars] + "\n... (truncated)"
	}
	return saturn.ToolResult{Content: content}, nil
}

// WriteTool writes files under the workspace root.
type WriteTool struct {
	root string
}

// NewWriteTool creates a write tool restricted to root.
func NewWriteTool(root string) *WriteTool { return &WriteTool{root: root} }

func (t *WriteTool) Definition() saturn.ToolDefinition {
	return saturn.ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file in the workspace. Creates parent directories if needed.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to workspace"},"content":{"type":"string","description":"Content to write"}},"required":["path","content"]}`),
	}
}

// DisplaySummary renders a short human-readable action line.
func (t *WriteTool) DisplaySummary(args json.RawMessage) string {
	var params struct {
		Path string `json:"path"`
	}
	_ = json.Unmarshal(args, &params)
	return "write " + params.Path
}

func (t *WriteTool) Execute(ctx context.Context, args json.RawMessage) (saturn.ToolResult, error) {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return saturn.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if err := saturn.CheckInputSize(params.Content, 0); err != nil {
		return saturn.ToolResult{Error: err.Error()}, nil
	}
	resolved, err := saturn.SanitizePath(t.root, params.Path)
	if err != nil {
		return saturn.ToolResult{Error: err.Error()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return saturn.ToolResult{Error: "mkdir error: " + err.Error()}, nil
	}
	if err := os.WriteFile(resolved, []byte(params.Content), 0o644); err != nil {
		return saturn.ToolResult{Error: "write error: " + err.Error()}, nil
	}
	return saturn.ToolResult{Content: fmt.Sprintf("Written %d bytes to %s", len(params.Content), params.Path)}, nil
}

// ListTool lists directory entries under the workspace root.
type ListTool struct {
	root string
}

// NewListTool creates a list tool restricted to root.
func NewListTool(root string) *ListTool { return &ListTool{root: root} }

func (t *ListTool) Definition() saturn.ToolDefinition {
	return saturn.ToolDefinition{
		Name:        "list_files",
		Description: "List files and directories at a workspace path. Directories have a trailing slash.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Directory path relative to workspace (default workspace root)"}}}`),
	}
}

// ConcurrencySafe marks listing as safe to run in parallel.
func (t *ListTool) ConcurrencySafe() bool { return true }

func (t *ListTool) Execute(ctx context.Context, args json.RawMessage) (saturn.ToolResult, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return saturn.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Path == "" {
		params.Path = "."
	}
	resolved, err := saturn.SanitizePath(t.root, params.Path)
	if err != nil {
		return saturn.ToolResult{Error: err.Error()}, nil
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return saturn.ToolResult{Error: "list error: " + err.Error()}, nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return saturn.ToolResult{Content: "(empty)"}, nil
	}
	return saturn.ToolResult{Content: strings.Join(names, "\n")}, nil
}
