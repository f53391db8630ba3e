package navigation

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"wayfinder-mcp-server/internal/exposure"
)

const (
	DefaultContextWaitTimeout = 5 * time.Second
	defaultHistoryLimit       = 100
)

// ContextChange records one move of the current-context pointer.
type ContextChange struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	// Source names what moved the pointer: "manual" or a detector name.
	Source string `json:"source"`
}

// ContextListener receives changes synchronously, in order.
type ContextListener func(ContextChange)

// Detector guesses the current context from outside evidence.
type Detector func() (contextID string, ok bool)

type namedDetector struct {
	name string
	fn   Detector
}

type contextSub struct {
	id uint64
	fn ContextListener
}

// Tracker holds the current-context pointer. SetCurrentContext is the only mutator; reads
// always reflect the latest set value.
type Tracker struct {
	mu        sync.RWMutex
	current   string
	previous  string
	history   []ContextChange
	subs      []contextSub
	nextID    uint64
	detectors []namedDetector

	// notifyMu keeps listener delivery in the order changes were applied.
	notifyMu sync.Mutex
}

// NewTracker starts at initial, or at the default root context when initial is empty.
func NewTracker(initial string) *Tracker {
	if strings.TrimSpace(initial) == "" {
		initial = DefaultRootContext
	}
	return &Tracker{current: initial}
}

func (t *Tracker) Current() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Previous returns the context before the last change, or "" if there has been none.
func (t *Tracker) Previous() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.previous
}

// History returns the most recent changes, oldest first.
func (t *Tracker) History() []ContextChange {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]ContextChange(nil), t.history...)
}

// SetCurrentContext moves the pointer. Empty IDs are ignored; setting the current value
// again is a no-op.
func (t *Tracker) SetCurrentContext(id string) {
	t.set(id, "manual")
}

func (t *Tracker) set(id, source string) bool {
	if strings.TrimSpace(id) == "" {
		log.Printf("[navigation] warning: ignoring empty context id from %s", source)
		return false
	}

	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	if t.current == id {
		t.mu.Unlock()
		return false
	}
	change := ContextChange{From: t.current, To: id, Timestamp: time.Now(), Source: source}
	t.previous = t.current
	t.current = id
	t.history = append(t.history, change)
	if len(t.history) > defaultHistoryLimit {
		t.history = t.history[len(t.history)-defaultHistoryLimit:]
	}
	subs := append([]contextSub(nil), t.subs...)
	t.mu.Unlock()

	for _, sub := range subs {
		deliverChange(sub.fn, change)
	}
	return true
}

func deliverChange(fn ContextListener, change ContextChange) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[navigation] context listener panic (%s -> %s): %v", change.From, change.To, rec)
		}
	}()
	fn(change)
}

// Subscribe registers fn for every change. The returned func is idempotent.
func (t *Tracker) Subscribe(fn ContextListener) func() {
	if fn == nil {
		return func() {}
	}
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, contextSub{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, s := range t.subs {
				if s.id == id {
					t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// WaitForContextChange blocks until the current context is target, the timeout elapses,
// or ctx is done. It returns true immediately when already at target.
func (t *Tracker) WaitForContextChange(ctx context.Context, target string, timeout time.Duration) bool {
	if t.Current() == target {
		return true
	}
	if timeout <= 0 {
		timeout = DefaultContextWaitTimeout
	}

	reached := make(chan struct{}, 1)
	unsubscribe := t.Subscribe(func(c ContextChange) {
		if c.To == target {
			select {
			case reached <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if t.Current() == target {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-reached:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// AddDetector appends a detection heuristic. Detectors run in the order added.
func (t *Tracker) AddDetector(name string, d Detector) {
	if d == nil {
		return
	}
	t.mu.Lock()
	t.detectors = append(t.detectors, namedDetector{name: name, fn: d})
	t.mu.Unlock()
}

// Detect runs the detectors until one reports a context and moves the pointer there. It
// returns the detected context.
func (t *Tracker) Detect() (string, bool) {
	t.mu.RLock()
	detectors := append([]namedDetector(nil), t.detectors...)
	t.mu.RUnlock()

	for _, d := range detectors {
		id, ok := d.fn()
		if !ok || id == "" {
			continue
		}
		t.set(id, d.name)
		return id, true
	}
	return "", false
}

// RunDetection calls Detect every interval until ctx is done.
func (t *Tracker) RunDetection(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Detect()
		}
	}
}

// ToolExposureDetector reports the deepest context whose tools are all at least visible.
// Contexts without tools never match.
func ToolExposureDetector(graph *Graph, registry *exposure.Registry) Detector {
	return func() (string, bool) {
		best := ""
		bestDepth := -1
		for _, c := range graph.GetAllContexts() {
			if len(c.Tools) == 0 {
				continue
			}
			visible := true
			for _, toolID := range c.Tools {
				st, ok := registry.GetToolState(toolID)
				if !ok || !st.State.AtLeast(exposure.Visible) {
					visible = false
					break
				}
			}
			if !visible {
				continue
			}
			if d := graph.Depth(c.ID); d > bestDepth {
				best, bestDepth = c.ID, d
			}
		}
		return best, bestDepth >= 0
	}
}
