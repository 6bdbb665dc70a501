package saturn

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxToolRounds bounds how many tool-call rounds a single run may
// consume before the loop gives up with a protocol error. A well-behaved
// model terminates with finish_reason "stop" long before this.
const DefaultMaxToolRounds = 32

// Status is an agent's lifecycle state.
type Status int

const (
	StatusIdle Status = iota
	StatusBusy
	StatusTerminated
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	case StatusTerminated:
		return "terminated"
	}
	return "unknown"
}

// Config holds an agent's construction-time settings. Treated as read-only
// during a run.
type Config struct {
	Name         string
	Model        string
	SystemPrompt string
	Temperature  *float64
	TopP         *float64
	MaxTokens    int
	Stream       bool

	// MaintainHistory keeps the conversation across runs. When set together
	// with MaxHistoryMessages, the oldest non-system messages are trimmed
	// from outgoing requests; system messages are always preserved.
	MaintainHistory    bool
	MaxHistoryMessages int

	EnableTools   bool
	ToolAllowlist []string

	// RequireCommandApproval gates shell-style tools behind an approval
	// callback. Consumed by tool wiring, not by the loop itself.
	RequireCommandApproval bool

	// MaxToolRounds bounds tool-call rounds per run (DefaultMaxToolRounds
	// when zero).
	MaxToolRounds int
}

// DefaultConfig returns a Config with the usual assistant settings.
func DefaultConfig(name, model string) Config {
	return Config{
		Name:            name,
		Model:           model,
		Stream:          true,
		MaintainHistory: true,
		EnableTools:     true,
		MaxToolRounds:   DefaultMaxToolRounds,
	}
}

// Result is the outcome of a completed agent run.
type Result struct {
	Output    string
	Usage     Usage
	Rounds    int
	SessionID string
}

// Agent drives a chat model through the tool-calling loop. Each agent
// exclusively owns its history and session id; external readers snapshot via
// History(). A single agent runs one loop at a time: concurrent Execute and
// ExecuteStream calls queue on the run lock so their history appends never
// interleave.
type Agent struct {
	id       string
	cfg      Config
	provider Provider
	registry *Registry
	runner   *Runner
	store    Store
	logger   *slog.Logger
	tracer   Tracer

	parentSessionID string

	// runMu is held for the whole of run. Terminate still takes effect while
	// a caller waits here: the queued run observes StatusTerminated and fails.
	runMu sync.Mutex

	mu        sync.Mutex
	history   []ChatMessage
	status    Status
	sessionID string
	cancelRun context.CancelFunc
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithRegistry sets the tool registry the agent draws definitions from.
func WithRegistry(r *Registry) AgentOption {
	return func(a *Agent) { a.registry = r }
}

// WithRunner sets the tool runtime. Defaults to a runner over the agent's
// registry.
func WithRunner(r *Runner) AgentOption {
	return func(a *Agent) { a.runner = r }
}

// WithStore sets the session store. Writes are best-effort.
func WithStore(s Store) AgentOption {
	return func(a *Agent) { a.store = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// WithAgentTracer sets the tracer for run and round spans.
func WithAgentTracer(t Tracer) AgentOption {
	return func(a *Agent) { a.tracer = t }
}

// WithParentSession links this agent's session to a parent session
// (multi-agent hierarchies).
func WithParentSession(id string) AgentOption {
	return func(a *Agent) { a.parentSessionID = id }
}

// NewAgent creates an agent over the given provider.
func NewAgent(cfg Config, provider Provider, opts ...AgentOption) *Agent {
	a := &Agent{
		id:       NewID(),
		cfg:      cfg,
		provider: provider,
		logger:   nopLogger,
		status:   StatusIdle,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry = NewRegistry(a.logger)
	}
	if a.runner == nil {
		a.runner = NewRunner(a.registry, WithRunnerLogger(a.logger), WithRunnerTracer(a.tracer))
	}
	return a
}

// ID returns the agent's unique id.
func (a *Agent) ID() string { return a.id }

// Name returns the configured agent name.
func (a *Agent) Name() string { return a.cfg.Name }

// Config returns a copy of the agent's configuration.
func (a *Agent) Config() Config { return a.cfg }

// Runner exposes the tool runtime, e.g. to register OnToolCall hooks.
func (a *Agent) Runner() *Runner { return a.runner }

// Status returns the agent's current lifecycle state.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// SessionID returns the persisted session id, if a store is attached and the
// session was created.
func (a *Agent) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// History returns a snapshot of the conversation.
func (a *Agent) History() []ChatMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ChatMessage, len(a.history))
	copy(out, a.history)
	return out
}

// Terminate cancels any in-flight run and marks the agent terminated.
// Further Execute calls fail.
func (a *Agent) Terminate() {
	a.mu.Lock()
	cancel := a.cancelRun
	a.status = StatusTerminated
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Execute runs the loop to completion and returns the final assistant text.
func (a *Agent) Execute(ctx context.Context, input string) (Result, error) {
	return a.run(ctx, input, nil)
}

// ExecuteStream runs like Execute but emits StreamEvent values into ch
// throughout the run. The channel is closed when the run completes.
func (a *Agent) ExecuteStream(ctx context.Context, input string, ch chan<- StreamEvent) (Result, error) {
	defer close(ch)
	return a.run(ctx, input, ch)
}

// ensureSession lazily creates the persisted session. Best-effort: on store
// failure the agent continues without persistence.
func (a *Agent) ensureSession(ctx context.Context) {
	if a.store == nil {
		return
	}
	a.mu.Lock()
	have := a.sessionID != ""
	a.mu.Unlock()
	if have {
		return
	}
	typ := "primary"
	if a.parentSessionID != "" {
		typ = "subagent"
	}
	id, err := a.store.CreateSession(ctx, Session{
		ID:           NewID(),
		Name:         a.cfg.Name,
		Type:         typ,
		ParentID:     a.parentSessionID,
		AgentName:    a.cfg.Name,
		Model:        a.cfg.Model,
		SystemPrompt: a.cfg.SystemPrompt,
		Temperature:  a.cfg.Temperature,
		MaxTokens:    a.cfg.MaxTokens,
		CreatedAt:    NowUnix(),
	})
	if err != nil {
		a.logger.Warn("session create failed, continuing without persistence",
			"agent", a.cfg.Name, "error", err)
		return
	}
	a.mu.Lock()
	a.sessionID = id
	a.mu.Unlock()
}

// persistMessage writes a message to the store, returning the message id or
// zero. Failures are logged, never propagated.
func (a *Agent) persistMessage(ctx context.Context, m ChatMessage) int64 {
	if a.store == nil {
		return 0
	}
	a.mu.Lock()
	sid := a.sessionID
	a.mu.Unlock()
	if sid == "" {
		return 0
	}
	id, err := a.store.SaveMessage(ctx, sid, m)
	if err != nil {
		a.logger.Warn("message persist failed", "agent", a.cfg.Name, "error", err)
		return 0
	}
	return id
}

// persistToolCall records a tool invocation and its result, best-effort.
func (a *Agent) persistToolCall(ctx context.Context, messageID int64, tc ToolCall, result ToolResult, elapsed time.Duration) {
	if a.store == nil {
		return
	}
	a.mu.Lock()
	sid := a.sessionID
	a.mu.Unlock()
	if sid == "" {
		return
	}
	args := tc.Args
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	callID, err := a.store.SaveToolCall(ctx, messageID, sid, tc.Name, args, a.cfg.Name)
	if err != nil {
		a.logger.Warn("tool call persist failed", "agent", a.cfg.Name, "tool", tc.Name, "error", err)
		return
	}
	if err := a.store.UpdateToolCallResult(ctx, callID, result.Content, result.Error, elapsed); err != nil {
		a.logger.Warn("tool result persist failed", "agent", a.cfg.Name, "tool", tc.Name, "error", err)
	}
}
