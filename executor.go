package saturn

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// TaskFunc is a unit of work scheduled on an Executor.
type TaskFunc func(ctx context.Context) (any, error)

// TaskResultValue pairs a task's value with its error, in input order.
type TaskResultValue struct {
	Value any
	Err   error
}

// Op is one operation in a dependency graph. Run receives the completed
// results of its dependencies keyed by op id.
type Op struct {
	ID        string
	DependsOn []string
	Run       func(ctx context.Context, inputs map[string]any) (any, error)
}

// OpResult is the outcome of one Op. Skipped is set when an upstream
// dependency failed and the op never ran.
type OpResult struct {
	ID      string
	Value   any
	Err     error
	Skipped bool
}

// ExecutorMetrics is a point-in-time view of executor activity.
type ExecutorMetrics struct {
	TasksExecuted int64
	CPUTasks      int64
	IOTasks       int64
	PeakActive    int64
}

// Executor is a bounded-concurrency primitive for CPU- and I/O-bound work.
// The CPU pool defaults to the number of CPUs; the I/O pool to twice that.
type Executor struct {
	cpu chan struct{}
	io  chan struct{}

	executed atomic.Int64
	cpuCount atomic.Int64
	ioCount  atomic.Int64
	active   atomic.Int64
	peak     atomic.Int64
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	cpuLimit int
	ioLimit  int
}

// WithCPULimit overrides the CPU pool size.
func WithCPULimit(n int) ExecutorOption {
	return func(c *executorConfig) { c.cpuLimit = n }
}

// WithIOLimit overrides the I/O pool size.
func WithIOLimit(n int) ExecutorOption {
	return func(c *executorConfig) { c.ioLimit = n }
}

// NewExecutor creates an Executor with the given limits.
func NewExecutor(opts ...ExecutorOption) *Executor {
	cfg := executorConfig{
		cpuLimit: runtime.GOMAXPROCS(0),
		ioLimit:  runtime.GOMAXPROCS(0) * 2,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.cpuLimit < 1 {
		cfg.cpuLimit = 1
	}
	if cfg.ioLimit < 1 {
		cfg.ioLimit = 1
	}
	return &Executor{
		cpu: make(chan struct{}, cfg.cpuLimit),
		io:  make(chan struct{}, cfg.ioLimit),
	}
}

// Metrics returns a snapshot of executor counters.
func (e *Executor) Metrics() ExecutorMetrics {
	return ExecutorMetrics{
		TasksExecuted: e.executed.Load(),
		CPUTasks:      e.cpuCount.Load(),
		IOTasks:       e.ioCount.Load(),
		PeakActive:    e.peak.Load(),
	}
}

// ExecuteCPU runs task on the CPU-bound pool.
func (e *Executor) ExecuteCPU(ctx context.Context, task TaskFunc) (any, error) {
	return e.run(ctx, e.cpu, &e.cpuCount, task)
}

// ExecuteIO runs task on the larger I/O-bound pool.
func (e *Executor) ExecuteIO(ctx context.Context, task TaskFunc) (any, error) {
	return e.run(ctx, e.io, &e.ioCount, task)
}

func (e *Executor) run(ctx context.Context, pool chan struct{}, counter *atomic.Int64, task TaskFunc) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case pool <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-pool }()

	active := e.active.Add(1)
	for {
		peak := e.peak.Load()
		if active <= peak || e.peak.CompareAndSwap(peak, active) {
			break
		}
	}
	defer e.active.Add(-1)

	v, err := task(ctx)
	e.executed.Add(1)
	counter.Add(1)
	return v, err
}

// ExecuteParallel runs all tasks concurrently on the I/O pool and returns
// results in input order. The first failure cancels the remaining tasks
// unless continueOnError is set, in which case every task runs and failures
// are reported in their slots.
func (e *Executor) ExecuteParallel(ctx context.Context, tasks []TaskFunc, continueOnError bool) ([]TaskResultValue, error) {
	results := make([]TaskResultValue, len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var firstErr atomic.Value
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task TaskFunc) {
			defer wg.Done()
			v, err := e.ExecuteIO(runCtx, task)
			results[i] = TaskResultValue{Value: v, Err: err}
			if err != nil && !continueOnError {
				firstErr.CompareAndSwap(nil, err)
				cancel()
			}
		}(i, task)
	}
	wg.Wait()

	if v := firstErr.Load(); v != nil {
		return results, v.(error)
	}
	return results, nil
}

// ExecuteWithDependencies runs ops as a dependency DAG. Cycles and unknown
// dependency ids are an error and nothing executes. Each op starts only after
// all of its dependencies completed successfully; its inputs are their
// results. A failed op marks all transitive dependents as skipped while
// independent subgraphs continue. Results are returned in input order.
func (e *Executor) ExecuteWithDependencies(ctx context.Context, ops []Op) ([]OpResult, error) {
	index := make(map[string]int, len(ops))
	for i, op := range ops {
		if op.ID == "" {
			return nil, fmt.Errorf("executor: op %d has empty id", i)
		}
		if _, dup := index[op.ID]; dup {
			return nil, fmt.Errorf("executor: duplicate op id %q", op.ID)
		}
		index[op.ID] = i
	}
	dependents := make(map[string][]string, len(ops))
	remaining := make(map[string]int, len(ops))
	for _, op := range ops {
		remaining[op.ID] = len(op.DependsOn)
		for _, dep := range op.DependsOn {
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("executor: op %q depends on unknown op %q", op.ID, dep)
			}
			dependents[dep] = append(dependents[dep], op.ID)
		}
	}

	// Kahn's algorithm over a copy of the in-degrees: a cycle means zero
	// executions, so validate before launching anything.
	if err := checkAcyclic(ops, dependents); err != nil {
		return nil, err
	}

	results := make([]OpResult, len(ops))
	resultValues := make(map[string]any, len(ops))
	failed := make(map[string]bool, len(ops))
	completed := make(map[string]bool, len(ops))
	var mu sync.Mutex

	done := make(chan string, len(ops))
	inflight := 0

	// skip marks an op and its ready dependents as skipped. Called with mu
	// held by the coordinating loop only.
	var skip func(id string)
	skip = func(id string) {
		i := index[id]
		results[i] = OpResult{ID: id, Skipped: true, Err: fmt.Errorf("skipped: upstream failure")}
		completed[id] = true
		failed[id] = true
		for _, dep := range dependents[id] {
			if !completed[dep] {
				remaining[dep]--
				if remaining[dep] == 0 {
					skip(dep)
				}
			}
		}
	}

	launch := func(id string) {
		op := ops[index[id]]
		hasFailedUpstream := false
		for _, dep := range op.DependsOn {
			if failed[dep] {
				hasFailedUpstream = true
				break
			}
		}
		if hasFailedUpstream {
			skip(id)
			return
		}
		completed[id] = true
		inflight++
		inputs := make(map[string]any, len(op.DependsOn))
		mu.Lock()
		for _, dep := range op.DependsOn {
			inputs[dep] = resultValues[dep]
		}
		mu.Unlock()
		go func() {
			v, err := e.ExecuteCPU(ctx, func(ctx context.Context) (any, error) {
				return op.Run(ctx, inputs)
			})
			mu.Lock()
			results[index[id]] = OpResult{ID: id, Value: v, Err: err}
			if err == nil {
				resultValues[id] = v
			}
			mu.Unlock()
			done <- id
		}()
	}

	// Seed roots, then react to completions: each finished op immediately
	// unblocks its dependents.
	for _, op := range ops {
		if remaining[op.ID] == 0 {
			launch(op.ID)
		}
	}
	for inflight > 0 {
		id := <-done
		inflight--
		mu.Lock()
		opFailed := results[index[id]].Err != nil
		mu.Unlock()
		if opFailed {
			failed[id] = true
		}
		for _, dep := range dependents[id] {
			if !completed[dep] {
				remaining[dep]--
				if remaining[dep] == 0 {
					launch(dep)
				}
			}
		}
	}

	return results, nil
}

// checkAcyclic validates the graph with Kahn's algorithm.
func checkAcyclic(ops []Op, dependents map[string][]string) error {
	degree := make(map[string]int, len(ops))
	for _, op := range ops {
		degree[op.ID] = len(op.DependsOn)
	}
	var queue []string
	for _, op := range ops {
		if degree[op.ID] == 0 {
			queue = append(queue, op.ID)
		}
	}
	seen := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		seen++
		for _, dep := range dependents[id] {
			degree[dep]--
			if degree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if seen != len(ops) {
		return fmt.Errorf("executor: dependency cycle detected")
	}
	return nil
}
