package navigation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"wayfinder-mcp-server/internal/exposure"
)

const (
	DefaultStepTimeout      = 10 * time.Second
	DefaultToolReadyTimeout = 5 * time.Second
)

// Status is the executor state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPlanning  Status = "planning"
	StatusStepping  Status = "stepping"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Failure reasons reported in Result.Reason and StepEvent.Reason.
const (
	ReasonUnknownTarget    = "unknown target"
	ReasonNoPath           = "no path"
	ReasonToolNotReady     = "tool not ready"
	ReasonContextUnchanged = "context did not change"
	ReasonInvocationFailed = "invocation failed"
	ReasonCancelled        = "cancelled"
)

// Invoker performs a tool's underlying action.
type Invoker interface {
	Invoke(ctx context.Context, toolID string, params map[string]any) error
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, toolID string, params map[string]any) error

func (f InvokerFunc) Invoke(ctx context.Context, toolID string, params map[string]any) error {
	return f(ctx, toolID, params)
}

// Result describes one NavigateTo call.
type Result struct {
	RunID          string        `json:"run_id"`
	Target         string        `json:"target"`
	Status         Status        `json:"status"`
	Reason         string        `json:"reason,omitempty"`
	Path           *Path         `json:"path,omitempty"`
	StepsCompleted int           `json:"steps_completed"`
	Err            error         `json:"-"`
	Duration       time.Duration `json:"duration"`
}

// Succeeded reports whether the walk reached its target.
func (r Result) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// StepEvent reports the outcome of one edge of a walk.
type StepEvent struct {
	RunID     string        `json:"run_id"`
	Index     int           `json:"index"`
	Edge      Edge          `json:"edge"`
	Succeeded bool          `json:"succeeded"`
	Reason    string        `json:"reason,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// StepListener receives step events synchronously.
type StepListener func(StepEvent)

// ResultListener receives every finished walk.
type ResultListener func(Result)

// ExecutorOptions tunes an Executor. Zero values fall back to the package defaults.
type ExecutorOptions struct {
	StepTimeout      time.Duration
	ToolReadyTimeout time.Duration
	MaxDepth         int
}

// Executor walks paths through the graph, one walk at a time.
type Executor struct {
	graph    *Graph
	registry *exposure.Registry
	tracker  *Tracker
	invoker  Invoker
	opts     ExecutorOptions

	// sem admits one walk at a time.
	sem chan struct{}

	mu      sync.RWMutex
	status  Status
	nextID  uint64
	steps   []stepListener
	results []resultListener
}

type stepListener struct {
	id uint64
	fn StepListener
}

type resultListener struct {
	id uint64
	fn ResultListener
}

func NewExecutor(graph *Graph, registry *exposure.Registry, tracker *Tracker, invoker Invoker, opts ExecutorOptions) *Executor {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	if opts.ToolReadyTimeout <= 0 {
		opts.ToolReadyTimeout = DefaultToolReadyTimeout
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Executor{
		graph:    graph,
		registry: registry,
		tracker:  tracker,
		invoker:  invoker,
		opts:     opts,
		sem:      make(chan struct{}, 1),
		status:   StatusIdle,
	}
}

// Status returns the state of the current or most recent walk.
func (e *Executor) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

func (e *Executor) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

// OnStep registers a step listener. The returned func removes it and is safe to call more
// than once.
func (e *Executor) OnStep(fn StepListener) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.steps = append(e.steps, stepListener{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, l := range e.steps {
				if l.id == id {
					e.steps = append(e.steps[:i:i], e.steps[i+1:]...)
					return
				}
			}
		})
	}
}

// OnResult registers a listener for finished walks. The returned func removes it.
func (e *Executor) OnResult(fn ResultListener) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.results = append(e.results, resultListener{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, l := range e.results {
				if l.id == id {
					e.results = append(e.results[:i:i], e.results[i+1:]...)
					return
				}
			}
		})
	}
}

// ListenerCount reports how many step and result listeners are registered.
func (e *Executor) ListenerCount() (steps, results int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.steps), len(e.results)
}

func (e *Executor) emitStep(evt StepEvent) {
	e.mu.RLock()
	listeners := make([]StepListener, 0, len(e.steps))
	for _, l := range e.steps {
		listeners = append(listeners, l.fn)
	}
	e.mu.RUnlock()
	for _, fn := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("[navigation] step listener panic: %v", rec)
				}
			}()
			fn(evt)
		}()
	}
}

func (e *Executor) emitResult(res Result) {
	e.mu.RLock()
	listeners := make([]ResultListener, 0, len(e.results))
	for _, l := range e.results {
		listeners = append(listeners, l.fn)
	}
	e.mu.RUnlock()
	for _, fn := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("[navigation] result listener panic: %v", rec)
				}
			}()
			fn(res)
		}()
	}
}

// ResolveTarget maps target to a context ID. target may be a context ID or the ID of a
// tool listed by some context.
func (e *Executor) ResolveTarget(target string) (string, bool) {
	if _, ok := e.graph.GetContext(target); ok {
		return target, true
	}
	return e.graph.GetToolContext(target)
}

// NavigateTo walks from the tracker's current context to target. Each step waits for the
// edge's tool to become interactable, invokes it, then waits for the tracker to report the
// edge's destination. Failures are reported in the Result, never as panics or errors.
func (e *Executor) NavigateTo(ctx context.Context, target string) Result {
	start := time.Now()
	res := Result{RunID: uuid.NewString(), Target: target}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		res.Status, res.Reason, res.Err = StatusFailed, ReasonCancelled, ctx.Err()
		res.Duration = time.Since(start)
		return res
	}
	defer func() { <-e.sem }()

	res = e.walk(ctx, res)
	res.Duration = time.Since(start)
	e.setStatus(res.Status)

	if res.Succeeded() {
		log.Printf("[navigation] run %s: reached %q in %d steps (%v)", res.RunID, res.Target, res.StepsCompleted, res.Duration)
	} else {
		log.Printf("[navigation] run %s: failed to reach %q: %s", res.RunID, res.Target, res.Reason)
	}
	e.emitResult(res)
	return res
}

func (e *Executor) walk(ctx context.Context, res Result) Result {
	e.setStatus(StatusPlanning)

	targetCtx, ok := e.ResolveTarget(res.Target)
	if !ok {
		res.Status, res.Reason = StatusFailed, ReasonUnknownTarget
		return res
	}
	res.Target = targetCtx

	current := e.tracker.Current()
	if current == targetCtx {
		res.Status = StatusSucceeded
		res.Path = &Path{From: current, To: targetCtx, Steps: []Edge{}}
		return res
	}

	path, ok := e.graph.ComputePath(current, targetCtx, PathOptions{MaxDepth: e.opts.MaxDepth})
	if !ok {
		res.Status, res.Reason = StatusFailed, ReasonNoPath
		return res
	}
	res.Path = path

	e.setStatus(StatusStepping)
	for i, edge := range path.Steps {
		if err := ctx.Err(); err != nil {
			res.Status, res.Reason, res.Err = StatusFailed, ReasonCancelled, err
			return res
		}

		stepStart := time.Now()
		reason, err := e.step(ctx, edge)
		e.emitStep(StepEvent{
			RunID:     res.RunID,
			Index:     i,
			Edge:      edge,
			Succeeded: reason == "",
			Reason:    reason,
			Duration:  time.Since(stepStart),
			Timestamp: time.Now(),
		})
		if reason != "" {
			res.Status, res.Reason, res.Err = StatusFailed, reason, err
			return res
		}
		res.StepsCompleted++
	}

	res.Status = StatusSucceeded
	return res
}

// step performs one edge and returns a failure reason, or "" on success.
func (e *Executor) step(ctx context.Context, edge Edge) (string, error) {
	if !e.registry.WaitForState(ctx, edge.NavigationTool, exposure.Interactable, e.opts.ToolReadyTimeout) {
		if err := ctx.Err(); err != nil {
			return ReasonCancelled, err
		}
		return ReasonToolNotReady, nil
	}

	if err := e.invoker.Invoke(ctx, edge.NavigationTool, edge.Parameters); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ReasonCancelled, ctxErr
		}
		return ReasonInvocationFailed, err
	}

	if !e.tracker.WaitForContextChange(ctx, edge.To, e.opts.StepTimeout) {
		if err := ctx.Err(); err != nil {
			return ReasonCancelled, err
		}
		return ReasonContextUnchanged, nil
	}
	return "", nil
}
