package saturn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool execution timeouts.
const (
	// DefaultToolTimeout applies to tools that do not declare their own.
	DefaultToolTimeout = 30 * time.Second
	// MaxToolTimeout is the hard cap on any declared timeout.
	MaxToolTimeout = 300 * time.Second
)

// ToolCallHook observes tool invocations. Hooks fire before execution starts.
type ToolCallHook func(name string, args json.RawMessage)

// Runner executes tool calls against a Registry: it validates arguments
// against the tool's parameter schema, enforces timeouts, serializes
// non-concurrency-safe tools, and converts panics and errors into failed
// results. Execute never returns an error to the caller; every failure is a
// ToolResult with Error set.
type Runner struct {
	registry *Registry
	logger   *slog.Logger
	tracer   Tracer

	hooksMu sync.RWMutex
	hooks   []ToolCallHook

	// locks serializes executions per tool instance unless the tool declares
	// itself concurrency-safe. Keyed by lower-cased tool name.
	locks sync.Map // string -> *sync.Mutex

	// schemas caches compiled parameter schemas per tool.
	schemas sync.Map // string -> *jsonschema.Schema
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the structured logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithRunnerTracer sets the tracer for per-call spans.
func WithRunnerTracer(t Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// NewRunner creates a tool runtime over the given registry.
func NewRunner(registry *Registry, opts ...RunnerOption) *Runner {
	r := &Runner{registry: registry, logger: nopLogger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnToolCall registers a hook fired before every tool execution.
func (r *Runner) OnToolCall(fn ToolCallHook) {
	r.hooksMu.Lock()
	r.hooks = append(r.hooks, fn)
	r.hooksMu.Unlock()
}

func (r *Runner) fireHooks(name string, args json.RawMessage) {
	r.hooksMu.RLock()
	hooks := r.hooks
	r.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(name, args)
	}
}

// Execute runs the named tool with the given raw JSON arguments.
func (r *Runner) Execute(ctx context.Context, name string, args json.RawMessage) ToolResult {
	tool, ok := r.registry.Get(name)
	if !ok {
		return ToolResult{Error: fmt.Sprintf("Tool '%s' not found", name)}
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return ToolResult{Error: "invalid arguments: " + err.Error()}
	}

	if err := r.validateArgs(tool, decoded); err != nil {
		return ToolResult{Error: err.Error()}
	}

	r.fireHooks(name, args)

	timeout := DefaultToolTimeout
	if tt, ok := tool.(TimedTool); ok && tt.Timeout() > 0 {
		timeout = min(tt.Timeout(), MaxToolTimeout)
	}

	var span Span
	if r.tracer != nil {
		ctx, span = r.tracer.Start(ctx, "tool.execute", StringAttr("tool.name", name))
		defer span.End()
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Serialize per tool instance unless the tool declares itself safe.
	lock := r.toolLock(tool, name)

	type outcome struct {
		result ToolResult
		err    error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		if lock != nil {
			lock.Lock()
			defer lock.Unlock()
		}
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: &ErrTool{Tool: name, Message: fmt.Sprintf("panic: %v", p)}}
			}
		}()
		res, err := tool.Execute(execCtx, args)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		elapsed := time.Since(start)
		if span != nil {
			span.SetAttr(Float64Attr("tool.duration_ms", float64(elapsed.Milliseconds())))
		}
		if o.err != nil {
			if span != nil {
				span.Error(o.err)
			}
			r.logger.Warn("tool failed", "tool", name, "error", o.err)
			return ToolResult{Error: o.err.Error()}
		}
		if o.result.Error != "" && span != nil {
			span.SetAttr(BoolAttr("tool.failed", true))
		}
		return o.result
	case <-execCtx.Done():
		// The caller gets its result now; the goroutine keeps the per-tool
		// lock until it returns. A tool that has not observed cancellation
		// within 5x its timeout is declared abandoned; its result, if it
		// ever produces one, is discarded either way.
		cause := execCtx.Err()
		go func() {
			grace := time.NewTimer(time.Until(start.Add(5 * timeout)))
			defer grace.Stop()
			select {
			case <-done:
				r.logger.Debug("tool finished after cancellation, result discarded", "tool", name)
			case <-grace.C:
				r.logger.Warn("tool abandoned", "tool", name, "timeout", timeout, "cause", cause)
			}
		}()
		if cause == context.DeadlineExceeded && ctx.Err() == nil {
			return ToolResult{Error: fmt.Sprintf("tool %s timed out after %s", name, timeout)}
		}
		return ToolResult{Error: "tool execution cancelled"}
	}
}

// toolLock returns the serialization mutex for a tool, or nil when the tool
// declared itself concurrency-safe.
func (r *Runner) toolLock(tool Tool, name string) *sync.Mutex {
	if ct, ok := tool.(ConcurrentTool); ok && ct.ConcurrencySafe() {
		return nil
	}
	v, _ := r.locks.LoadOrStore(toolKey(name), &sync.Mutex{})
	return v.(*sync.Mutex)
}

// validateArgs checks decoded arguments against the tool's parameter schema.
// Schemas are compiled once per tool and cached. A schema that fails to
// compile disables validation for that tool (logged once).
func (r *Runner) validateArgs(tool Tool, decoded any) error {
	def := tool.Definition()
	if len(def.Parameters) == 0 {
		return nil
	}
	key := toolKey(def.Name)
	var sch *jsonschema.Schema
	if v, ok := r.schemas.Load(key); ok {
		sch = v.(*jsonschema.Schema)
	} else {
		compiled, err := jsonschema.CompileString(def.Name+".json", string(def.Parameters))
		if err != nil {
			r.logger.Warn("tool parameter schema does not compile, skipping validation",
				"tool", def.Name, "error", err)
			r.schemas.Store(key, (*jsonschema.Schema)(nil))
			return nil
		}
		r.schemas.Store(key, compiled)
		sch = compiled
	}
	if sch == nil {
		return nil
	}
	if err := sch.Validate(decoded); err != nil {
		return &ErrValidation{Reason: err.Error()}
	}
	return nil
}

func toolKey(name string) string {
	b := []byte(name)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}
