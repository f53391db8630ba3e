package exposure

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultWaitTimeout   = 5 * time.Second
	DefaultFrameInterval = 16 * time.Millisecond
	DefaultPollInterval  = 250 * time.Millisecond
)

// Options tunes a Registry. Zero values fall back to the package defaults.
type Options struct {
	// DefaultWaitTimeout applies when WaitForState is called with a non-positive timeout.
	DefaultWaitTimeout time.Duration
	// FrameInterval bounds how often an observer re-classifies its element.
	FrameInterval time.Duration
	// PollInterval drives the polling fallback for elements without a SignalSource.
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.DefaultWaitTimeout <= 0 {
		o.DefaultWaitTimeout = DefaultWaitTimeout
	}
	if o.FrameInterval <= 0 {
		o.FrameInterval = DefaultFrameInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

type toolEntry struct {
	state    ToolState
	observer *Observer
}

type toolLock struct {
	sync.Mutex
	refs int // guarded by Registry.mu
}

type membership struct {
	id uint64
	fn MembershipListener
}

type subscription struct {
	id uint64
	fn Subscriber
}

// Registry owns the authoritative toolID -> ToolState map for one process. Create one with
// NewRegistry and hand it to every consumer.
//
// Updates for a single tool run inside a per-tool critical section that also covers
// subscriber notification, so subscribers observe transitions in the order they were
// applied. That section is not reentrant: a subscriber must not update the tool it is
// being notified about.
type Registry struct {
	opts Options

	mu     sync.RWMutex
	tools  map[string]*toolEntry
	locks  map[string]*toolLock
	global []subscription
	member []membership
	scoped map[string][]subscription
	nextID uint64
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:   opts.withDefaults(),
		tools:  make(map[string]*toolEntry),
		locks:  make(map[string]*toolLock),
		scoped: make(map[string][]subscription),
	}
}

// Options returns the effective options after defaults were applied.
func (r *Registry) Options() Options {
	return r.opts
}

// lockTool enters the tool's critical section and returns the func that leaves it. Locks
// are reference counted and dropped once nobody holds or waits on them.
func (r *Registry) lockTool(toolID string) func() {
	r.mu.Lock()
	l, ok := r.locks[toolID]
	if !ok {
		l = &toolLock{}
		r.locks[toolID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, toolID)
		}
		r.mu.Unlock()
	}
}

func validToolID(toolID string) bool {
	return strings.TrimSpace(toolID) != ""
}

// RegisterTool adds a tool. Without an element the tool starts NotPresent; with one, the
// element is classified synchronously before observation starts, so the first state any
// caller can see is never unknown. Registering an existing ID logs a warning and replaces
// the prior entry.
func (r *Registry) RegisterTool(toolID string, element Element, meta *Metadata) {
	if !validToolID(toolID) {
		log.Printf("[exposure] warning: register ignored, empty tool id")
		return
	}

	unlock := r.lockTool(toolID)
	defer unlock()

	state := NotPresent
	md := (&Metadata{Reason: "no element"}).merge(meta)
	var obs *Observer
	if element != nil {
		facts := element.Observe()
		c := Classify(facts)
		state = c.State
		md = meta.merge(c.Metadata(facts.Position))
		obs = newObserver(r, toolID, element, facts)
	}

	now := time.Now()
	entry := &toolEntry{
		state: ToolState{
			ToolID:     toolID,
			State:      state,
			Element:    element,
			LastUpdate: now,
			Metadata:   md,
		},
		observer: obs,
	}

	r.mu.Lock()
	prev, existed := r.tools[toolID]
	r.tools[toolID] = entry
	subs := r.subscribersLocked(toolID)
	r.mu.Unlock()

	oldState := NotPresent
	if existed {
		log.Printf("[exposure] warning: tool %q registered twice, replacing previous entry", toolID)
		oldState = prev.state.State
		if prev.observer != nil {
			prev.observer.Stop()
		}
	}
	if obs != nil {
		obs.start()
	}

	// Absence reads as NotPresent, so a tool that arrives already classified is a transition.
	if state != oldState {
		r.notify(subs, StateChangeEvent{
			ToolID:    toolID,
			OldState:  oldState,
			NewState:  state,
			Timestamp: now,
			Metadata:  md.Clone(),
		})
	}
	if !existed {
		r.notifyMembership(toolID, true)
	}
}

// UnregisterTool removes a tool and stops its observer. Tool subscribers receive no final
// event; OnMembershipChange listeners hear about the removal.
func (r *Registry) UnregisterTool(toolID string) {
	unlock := r.lockTool(toolID)
	defer unlock()

	r.mu.Lock()
	entry, ok := r.tools[toolID]
	if ok {
		delete(r.tools, toolID)
	}
	r.mu.Unlock()

	if !ok {
		log.Printf("[exposure] warning: unregister ignored, unknown tool %q", toolID)
		return
	}
	if entry.observer != nil {
		entry.observer.Stop()
	}
	r.notifyMembership(toolID, false)
}

// AttachElement binds an element to an already registered tool, classifies it and starts
// observing it. Any previously bound element is detached first.
func (r *Registry) AttachElement(toolID string, element Element) {
	if element == nil {
		r.DetachElement(toolID)
		return
	}

	unlock := r.lockTool(toolID)
	defer unlock()

	r.mu.RLock()
	_, ok := r.tools[toolID]
	r.mu.RUnlock()
	if !ok {
		log.Printf("[exposure] warning: attach ignored, unknown tool %q", toolID)
		return
	}

	// The tool lock keeps the entry alive while the element is read.
	facts := element.Observe()
	c := Classify(facts)

	r.mu.Lock()
	entry := r.tools[toolID]
	prevObs := entry.observer
	obs := newObserver(r, toolID, element, facts)
	entry.observer = obs
	entry.state.Element = element
	r.mu.Unlock()

	if prevObs != nil {
		prevObs.Stop()
	}
	r.updateLocked(toolID, c.State, c.Metadata(facts.Position))
	obs.start()
}

// DetachElement stops observing the tool's element and marks it NotPresent. The tool stays
// registered.
func (r *Registry) DetachElement(toolID string) {
	unlock := r.lockTool(toolID)
	defer unlock()

	r.mu.Lock()
	entry, ok := r.tools[toolID]
	if !ok {
		r.mu.Unlock()
		log.Printf("[exposure] warning: detach ignored, unknown tool %q", toolID)
		return
	}
	prevObs := entry.observer
	entry.observer = nil
	entry.state.Element = nil
	r.mu.Unlock()

	if prevObs != nil {
		prevObs.Stop()
	}
	r.updateLocked(toolID, NotPresent, &Metadata{Reason: "element detached", Blockers: []string{}})
}

// GetToolState returns a copy of the tool's state.
func (r *Registry) GetToolState(toolID string) (ToolState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[toolID]
	if !ok {
		return ToolState{}, false
	}
	return snapshot(entry.state), true
}

// GetAllTools returns copies of every tool state ordered by tool ID.
func (r *Registry) GetAllTools() []ToolState {
	r.mu.RLock()
	out := make([]ToolState, 0, len(r.tools))
	for _, entry := range r.tools {
		out = append(out, snapshot(entry.state))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ToolID < out[j].ToolID })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

func snapshot(s ToolState) ToolState {
	s.Metadata = s.Metadata.Clone()
	return s
}

// Subscribe registers fn for every tool's events. The returned func unsubscribes and is
// safe to call more than once.
func (r *Registry) Subscribe(fn Subscriber) func() {
	return r.subscribe("", fn)
}

// SubscribeTool registers fn for events of a single tool. The tool need not be registered
// yet.
func (r *Registry) SubscribeTool(toolID string, fn Subscriber) func() {
	if !validToolID(toolID) {
		log.Printf("[exposure] warning: subscribe ignored, empty tool id")
		return func() {}
	}
	return r.subscribe(toolID, fn)
}

func (r *Registry) subscribe(toolID string, fn Subscriber) func() {
	if fn == nil {
		log.Printf("[exposure] warning: subscribe ignored, nil callback")
		return func() {}
	}

	r.mu.Lock()
	r.nextID++
	sub := subscription{id: r.nextID, fn: fn}
	if toolID == "" {
		r.global = append(r.global, sub)
	} else {
		r.scoped[toolID] = append(r.scoped[toolID], sub)
	}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if toolID == "" {
				r.global = removeSubscription(r.global, sub.id)
				return
			}
			remaining := removeSubscription(r.scoped[toolID], sub.id)
			if len(remaining) == 0 {
				delete(r.scoped, toolID)
			} else {
				r.scoped[toolID] = remaining
			}
		})
	}
}

// OnMembershipChange registers fn to hear about tools being added or removed. Replacing an
// existing registration is not a membership change. The returned func unsubscribes.
func (r *Registry) OnMembershipChange(fn MembershipListener) func() {
	if fn == nil {
		return func() {}
	}
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.member = append(r.member, membership{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, m := range r.member {
				if m.id == id {
					r.member = append(r.member[:i:i], r.member[i+1:]...)
					return
				}
			}
		})
	}
}

func (r *Registry) notifyMembership(toolID string, registered bool) {
	r.mu.RLock()
	listeners := append([]membership(nil), r.member...)
	r.mu.RUnlock()
	for _, m := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("[exposure] membership listener panic for tool %q: %v", toolID, rec)
				}
			}()
			m.fn(toolID, registered)
		}()
	}
}

func removeSubscription(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// subscribersLocked snapshots tool subscribers followed by global ones. r.mu must be held.
func (r *Registry) subscribersLocked(toolID string) []subscription {
	scoped := r.scoped[toolID]
	out := make([]subscription, 0, len(scoped)+len(r.global))
	out = append(out, scoped...)
	out = append(out, r.global...)
	return out
}

func (r *Registry) notify(subs []subscription, evt StateChangeEvent) {
	for _, sub := range subs {
		deliver(sub.fn, evt)
	}
}

func deliver(fn Subscriber, evt StateChangeEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[exposure] subscriber panic for tool %q (%s -> %s): %v", evt.ToolID, evt.OldState, evt.NewState, rec)
		}
	}()
	fn(evt)
}

// UpdateToolState moves a tool to newState, merging meta into its metadata, and notifies
// tool subscribers then global subscribers. Unknown tools and unchanged states are no-ops.
func (r *Registry) UpdateToolState(toolID string, newState State, meta *Metadata) {
	if !newState.IsValid() {
		log.Printf("[exposure] warning: update ignored for %q, invalid state %d", toolID, int(newState))
		return
	}

	r.mu.RLock()
	_, known := r.tools[toolID]
	r.mu.RUnlock()
	if !known {
		log.Printf("[exposure] warning: update ignored, unknown tool %q", toolID)
		return
	}

	unlock := r.lockTool(toolID)
	defer unlock()
	r.updateLocked(toolID, newState, meta)
}

// updateLocked applies a transition. The caller holds the tool lock.
func (r *Registry) updateLocked(toolID string, newState State, meta *Metadata) bool {
	r.mu.Lock()
	entry, ok := r.tools[toolID]
	if !ok {
		r.mu.Unlock()
		log.Printf("[exposure] warning: update ignored, tool %q unregistered concurrently", toolID)
		return false
	}
	oldState := entry.state.State
	if oldState == newState {
		r.mu.Unlock()
		return false
	}

	now := time.Now()
	entry.state.State = newState
	entry.state.LastUpdate = now
	entry.state.Metadata = entry.state.Metadata.merge(meta)
	evt := StateChangeEvent{
		ToolID:    toolID,
		OldState:  oldState,
		NewState:  newState,
		Timestamp: now,
		Metadata:  entry.state.Metadata.Clone(),
	}
	subs := r.subscribersLocked(toolID)
	r.mu.Unlock()

	r.notify(subs, evt)
	return true
}

// applyObservation records a classification produced by obs. It reports false when obs
// is no longer the tool's observer, in which case nothing is applied.
func (r *Registry) applyObservation(toolID string, obs *Observer, c Classification, position *Rect) bool {
	unlock := r.lockTool(toolID)
	defer unlock()

	r.mu.RLock()
	entry, ok := r.tools[toolID]
	current := ok && entry.observer == obs
	r.mu.RUnlock()
	if !current {
		return false
	}
	r.updateLocked(toolID, c.State, c.Metadata(position))
	return true
}

// Refresh re-classifies the tool's element immediately instead of waiting for a signal.
// It reports false when the tool is unknown or has no element.
func (r *Registry) Refresh(toolID string) bool {
	r.mu.RLock()
	entry, ok := r.tools[toolID]
	var obs *Observer
	if ok {
		obs = entry.observer
	}
	r.mu.RUnlock()
	if obs == nil {
		return false
	}
	obs.flush()
	return true
}

// WaitForState blocks until the tool reaches at least target, the timeout elapses, or ctx
// is done. A tool already at or above target returns true without waiting. Timing out is
// an expected outcome and yields false.
func (r *Registry) WaitForState(ctx context.Context, toolID string, target State, timeout time.Duration) bool {
	if !target.IsValid() {
		log.Printf("[exposure] warning: wait ignored for %q, invalid target %d", toolID, int(target))
		return false
	}
	if st, ok := r.GetToolState(toolID); ok && st.State.AtLeast(target) {
		return true
	}
	if timeout <= 0 {
		timeout = r.opts.DefaultWaitTimeout
	}

	reached := make(chan struct{}, 1)
	unsubscribe := r.SubscribeTool(toolID, func(evt StateChangeEvent) {
		if evt.NewState.AtLeast(target) {
			select {
			case reached <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	// Re-check after subscribing so a transition between the first check and the
	// subscription is not missed.
	st, ok := r.GetToolState(toolID)
	if ok && st.State.AtLeast(target) {
		return true
	}
	if !ok {
		log.Printf("[exposure] waiting for unregistered tool %q to reach %s", toolID, target)
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

// Close stops every observer. Tool states remain queryable.
func (r *Registry) Close() {
	r.mu.Lock()
	observers := make([]*Observer, 0, len(r.tools))
	for _, entry := range r.tools {
		if entry.observer != nil {
			observers = append(observers, entry.observer)
			entry.observer = nil
		}
	}
	r.mu.Unlock()

	for _, obs := range observers {
		obs.Stop()
	}
}
