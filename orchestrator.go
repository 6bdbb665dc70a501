package saturn

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultMaxConcurrentAgents caps how many live agents an orchestrator
// manages at once.
const DefaultMaxConcurrentAgents = 8

// taskQueueDepth bounds each agent's pending task queue. HandOff fails fast
// when the queue is full rather than blocking the caller.
const taskQueueDepth = 32

// TaskState tracks a handed-off task through its lifecycle.
type TaskState int

const (
	TaskQueued TaskState = iota
	TaskRunning
	TaskCompleted
	TaskFailed
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskQueued:
		return "queued"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Task is a unit of delegated work bound to one agent.
type Task struct {
	ID          string
	AgentID     string
	Description string
	Context     map[string]string
	State       TaskState
	SubmittedAt time.Time
	CompletedAt time.Time
}

// TaskResult is the terminal outcome of a Task. A sub-agent failure becomes
// a result with Success=false, never an orchestrator error.
type TaskResult struct {
	TaskID      string
	AgentID     string
	Success     bool
	Text        string
	Usage       Usage
	CompletedAt time.Time
	Duration    time.Duration
}

// AgentStatus is one row of the orchestrator's status snapshot.
type AgentStatus struct {
	ID          string
	Name        string
	Model       string
	Status      Status
	QueuedTasks int
}

// OrchestratorConfig holds orchestrator-wide settings.
type OrchestratorConfig struct {
	// MaxConcurrentAgents caps the live agent count
	// (DefaultMaxConcurrentAgents when zero).
	MaxConcurrentAgents int

	// DefaultModel is used for agents created without a model override.
	DefaultModel string
}

// AgentFactory builds the agent for CreateAgent. The orchestrator owns the
// returned agent's lifecycle.
type AgentFactory func(cfg Config) (*Agent, error)

type agentEntry struct {
	agent  *Agent
	queue  chan string // task ids
	cancel context.CancelFunc
	done   chan struct{} // closed when the worker exits
}

// Orchestrator spawns agents, routes tasks to them, and collects results.
// Each agent services its queue sequentially on a dedicated worker; distinct
// agents run concurrently up to the configured cap.
type Orchestrator struct {
	cfg     OrchestratorConfig
	factory AgentFactory
	logger  *slog.Logger
	tracer  Tracer

	mu      sync.Mutex
	agents  map[string]*agentEntry
	tasks   map[string]*Task
	results map[string]TaskResult
	waiters map[string][]chan struct{} // task id -> channels closed on publish
	closed  bool
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the structured logger.
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithOrchestratorTracer sets the tracer for task spans.
func WithOrchestratorTracer(t Tracer) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = t }
}

// NewOrchestrator creates an orchestrator that builds agents via factory.
func NewOrchestrator(cfg OrchestratorConfig, factory AgentFactory, opts ...OrchestratorOption) *Orchestrator {
	if cfg.MaxConcurrentAgents <= 0 {
		cfg.MaxConcurrentAgents = DefaultMaxConcurrentAgents
	}
	o := &Orchestrator{
		cfg:     cfg,
		factory: factory,
		logger:  nopLogger,
		agents:  make(map[string]*agentEntry),
		tasks:   make(map[string]*Task),
		results: make(map[string]TaskResult),
		waiters: make(map[string][]chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateAgent spawns a new idle agent and returns its id. Fails with
// ErrCapacity when the live agent count is at the cap.
func (o *Orchestrator) CreateAgent(name string, overrides func(*Config)) (string, error) {
	if !ValidAgentName(name) {
		return "", &ErrValidation{Field: "name", Reason: "must be alphanumeric plus - and _, length 1-64"}
	}

	cfg := DefaultConfig(name, o.cfg.DefaultModel)
	if overrides != nil {
		overrides(&cfg)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", fmt.Errorf("orchestrator is shut down")
	}
	if len(o.agents) >= o.cfg.MaxConcurrentAgents {
		o.mu.Unlock()
		return "", &ErrCapacity{Limit: o.cfg.MaxConcurrentAgents}
	}
	o.mu.Unlock()

	agent, err := o.factory(cfg)
	if err != nil {
		return "", fmt.Errorf("create agent %s: %w", name, err)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	entry := &agentEntry{
		agent:  agent,
		queue:  make(chan string, taskQueueDepth),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	o.mu.Lock()
	if len(o.agents) >= o.cfg.MaxConcurrentAgents || o.closed {
		o.mu.Unlock()
		cancel()
		agent.Terminate()
		return "", &ErrCapacity{Limit: o.cfg.MaxConcurrentAgents}
	}
	o.agents[agent.ID()] = entry
	o.mu.Unlock()

	go o.serve(workerCtx, entry)
	o.logger.Info("agent created", "agent", name, "id", agent.ID(), "model", cfg.Model)
	return agent.ID(), nil
}

// HandOff enqueues a task for the given agent and returns its task id
// immediately. The task runs when the agent reaches the front of its queue.
func (o *Orchestrator) HandOff(agentID, description string, taskCtx map[string]string) (string, error) {
	o.mu.Lock()
	entry, ok := o.agents[agentID]
	if !ok {
		o.mu.Unlock()
		return "", fmt.Errorf("unknown agent id %s", agentID)
	}
	task := &Task{
		ID:          NewID(),
		AgentID:     agentID,
		Description: description,
		Context:     taskCtx,
		State:       TaskQueued,
		SubmittedAt: time.Now(),
	}
	o.tasks[task.ID] = task
	o.mu.Unlock()

	select {
	case entry.queue <- task.ID:
	default:
		o.mu.Lock()
		task.State = TaskFailed
		o.mu.Unlock()
		o.publish(TaskResult{
			TaskID:      task.ID,
			AgentID:     agentID,
			Success:     false,
			Text:        fmt.Sprintf("agent task queue full (%d pending)", taskQueueDepth),
			CompletedAt: time.Now(),
		}, TaskFailed)
		return task.ID, fmt.Errorf("agent %s task queue is full", agentID)
	}
	return task.ID, nil
}

// serve is the per-agent worker loop: it drains the agent's queue one task
// at a time until the agent is terminated.
func (o *Orchestrator) serve(ctx context.Context, entry *agentEntry) {
	defer close(entry.done)
	for {
		select {
		case <-ctx.Done():
			o.drainQueue(entry)
			return
		case taskID := <-entry.queue:
			o.runTask(ctx, entry, taskID)
		}
	}
}

// runTask executes one task on the entry's agent and publishes its result.
func (o *Orchestrator) runTask(ctx context.Context, entry *agentEntry, taskID string) {
	o.mu.Lock()
	task, ok := o.tasks[taskID]
	if !ok || task.State != TaskQueued {
		o.mu.Unlock()
		return
	}
	task.State = TaskRunning
	o.mu.Unlock()

	input := task.Description
	if len(task.Context) > 0 {
		input += "\n\nContext:\n" + renderTaskContext(task.Context)
	}

	var span Span
	runCtx := ctx
	if o.tracer != nil {
		runCtx, span = o.tracer.Start(ctx, "orchestrator.task",
			StringAttr("task.id", taskID),
			StringAttr("agent.name", entry.agent.Name()))
	}

	start := time.Now()
	res, err := entry.agent.Execute(runCtx, input)
	elapsed := time.Since(start)

	tr := TaskResult{
		TaskID:      taskID,
		AgentID:     task.AgentID,
		CompletedAt: time.Now(),
		Duration:    elapsed,
		Usage:       res.Usage,
	}
	state := TaskCompleted
	switch {
	case ctx.Err() != nil:
		tr.Success = false
		tr.Text = "task cancelled"
		state = TaskCancelled
	case err != nil:
		tr.Success = false
		tr.Text = err.Error()
		state = TaskFailed
	default:
		tr.Success = true
		tr.Text = res.Output
	}

	if span != nil {
		span.SetAttr(BoolAttr("task.success", tr.Success))
		if err != nil && ctx.Err() == nil {
			span.Error(err)
		}
		span.End()
	}
	o.logger.Info("task finished", "task", taskID, "agent", entry.agent.Name(),
		"state", state.String(), "duration", elapsed)
	o.publish(tr, state)
}

// drainQueue cancels every task still waiting in the entry's queue.
func (o *Orchestrator) drainQueue(entry *agentEntry) {
	for {
		select {
		case taskID := <-entry.queue:
			o.publish(TaskResult{
				TaskID:      taskID,
				AgentID:     entry.agent.ID(),
				Success:     false,
				Text:        "task cancelled",
				CompletedAt: time.Now(),
			}, TaskCancelled)
		default:
			return
		}
	}
}

// publish records a task's terminal result and wakes its waiters.
func (o *Orchestrator) publish(tr TaskResult, state TaskState) {
	o.mu.Lock()
	if task, ok := o.tasks[tr.TaskID]; ok {
		task.State = state
		task.CompletedAt = tr.CompletedAt
	}
	o.results[tr.TaskID] = tr
	waiters := o.waiters[tr.TaskID]
	delete(o.waiters, tr.TaskID)
	o.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// WaitFor blocks until every requested task has a result or the timeout
// elapses. The returned slice is in input order; a nil entry means the task
// had no result when the deadline hit.
func (o *Orchestrator) WaitFor(ctx context.Context, taskIDs []string, timeout time.Duration) []*TaskResult {
	deadline := time.Now().Add(timeout)
	out := make([]*TaskResult, len(taskIDs))
	for i, id := range taskIDs {
		o.mu.Lock()
		if tr, ok := o.results[id]; ok {
			o.mu.Unlock()
			c := tr
			out[i] = &c
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			o.mu.Unlock()
			continue
		}
		w := make(chan struct{})
		o.waiters[id] = append(o.waiters[id], w)
		o.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-w:
			timer.Stop()
			o.mu.Lock()
			if tr, ok := o.results[id]; ok {
				c := tr
				out[i] = &c
			}
			o.mu.Unlock()
		case <-timer.C:
			o.removeWaiter(id, w)
		case <-ctx.Done():
			timer.Stop()
			o.removeWaiter(id, w)
		}
	}
	return out
}

// removeWaiter unregisters a waiter that gave up before its task published.
// Waiters for ids that never publish (unknown tasks, timeouts) would
// otherwise accumulate forever.
func (o *Orchestrator) removeWaiter(id string, w chan struct{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ws := o.waiters[id]
	for i, c := range ws {
		if c == w {
			o.waiters[id] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(o.waiters[id]) == 0 {
		delete(o.waiters, id)
	}
}

// GetTaskResult returns the result for a task, if it has completed.
func (o *Orchestrator) GetTaskResult(taskID string) (TaskResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	tr, ok := o.results[taskID]
	return tr, ok
}

// GetTask returns a copy of the task record.
func (o *Orchestrator) GetTask(taskID string) (Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// TerminateAgent cancels an agent's in-flight run, drains its queued tasks
// into Cancelled, and removes it from the table. The id "all" terminates
// every agent.
func (o *Orchestrator) TerminateAgent(agentID string) error {
	if strings.EqualFold(agentID, "all") {
		o.mu.Lock()
		entries := make([]*agentEntry, 0, len(o.agents))
		for id, e := range o.agents {
			entries = append(entries, e)
			delete(o.agents, id)
		}
		o.mu.Unlock()
		for _, e := range entries {
			o.terminate(e)
		}
		return nil
	}

	o.mu.Lock()
	entry, ok := o.agents[agentID]
	if ok {
		delete(o.agents, agentID)
	}
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown agent id %s", agentID)
	}
	o.terminate(entry)
	return nil
}

func (o *Orchestrator) terminate(entry *agentEntry) {
	entry.agent.Terminate()
	entry.cancel()
	<-entry.done
	o.logger.Info("agent terminated", "agent", entry.agent.Name(), "id", entry.agent.ID())
}

// ListAgentStatuses returns a snapshot of every live agent, sorted by name.
func (o *Orchestrator) ListAgentStatuses() []AgentStatus {
	o.mu.Lock()
	out := make([]AgentStatus, 0, len(o.agents))
	for id, e := range o.agents {
		cfg := e.agent.Config()
		out = append(out, AgentStatus{
			ID:          id,
			Name:        cfg.Name,
			Model:       cfg.Model,
			Status:      e.agent.Status(),
			QueuedTasks: len(e.queue),
		})
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AgentCount returns the number of live agents.
func (o *Orchestrator) AgentCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.agents)
}

// Shutdown terminates all agents and rejects further CreateAgent calls.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	_ = o.TerminateAgent("all")
}

// renderTaskContext formats hand-off context as stable key: value lines.
func renderTaskContext(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, m[k])
	}
	return strings.TrimRight(b.String(), "\n")
}
