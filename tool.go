package saturn

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Tool is a named capability the model can invoke with JSON arguments.
// A Tool must either be stateless across calls or implement ConcurrentTool
// to declare its own thread-safety.
type Tool interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, args json.RawMessage) (ToolResult, error)
}

// ConcurrentTool is implemented by tools that are safe to execute
// concurrently. Tools that do not implement it are serialized per instance
// by the runtime.
type ConcurrentTool interface {
	Tool
	ConcurrencySafe() bool
}

// TimedTool is implemented by tools that declare their own execution timeout.
// The runtime clamps the value to the 300s hard cap.
type TimedTool interface {
	Tool
	Timeout() time.Duration
}

// SummaryTool is implemented by tools that can render a short human-readable
// summary of a pending call for display and approval prompts.
type SummaryTool interface {
	Tool
	DisplaySummary(args json.RawMessage) string
}

// ToolResult is the outcome of a tool execution. A result succeeded iff
// Error is empty.
type ToolResult struct {
	Content string `json:"content"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Success reports whether the execution succeeded.
func (r ToolResult) Success() bool { return r.Error == "" }

// Registry is a process-wide, case-insensitive mapping of tool names to
// tools. Reads are concurrent-safe; registration after the first lookup
// remains correct.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool // keyed by lower-cased name
	logger *slog.Logger
}

// NewRegistry creates an empty registry. The logger is used to warn about
// duplicate registrations; nil means no output.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = nopLogger
	}
	return &Registry{tools: make(map[string]Tool), logger: logger}
}

// Register adds a tool. When a tool with the same name (case-insensitive)
// already exists, the last registration wins and a warning is logged.
func (r *Registry) Register(t Tool) {
	name := t.Definition().Name
	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[key]; exists {
		r.logger.Warn("duplicate tool registration, replacing", "tool", name)
	}
	r.tools[key] = t
}

// Get returns the tool registered under name (case-insensitive).
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[strings.ToLower(name)]
	return t, ok
}

// Contains reports whether a tool is registered under name.
func (r *Registry) Contains(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns all registered tools sorted by name. Each tool appears
// exactly once.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Definition().Name < out[j].Definition().Name
	})
	return out
}

// Definitions returns the tool definitions to emit to the model, sorted by
// name for a stable order. When allowlist is non-nil, only tools whose names
// appear in it (case-insensitive) are included.
func (r *Registry) Definitions(allowlist []string) []ToolDefinition {
	var allowed map[string]bool
	if allowlist != nil {
		allowed = make(map[string]bool, len(allowlist))
		for _, n := range allowlist {
			allowed[strings.ToLower(n)] = true
		}
	}
	var defs []ToolDefinition
	for _, t := range r.List() {
		d := t.Definition()
		if allowed != nil && !allowed[strings.ToLower(d.Name)] {
			continue
		}
		if len(d.Parameters) == 0 {
			d.Parameters = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		defs = append(defs, d)
	}
	return defs
}
