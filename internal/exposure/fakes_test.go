package exposure

import "sync"

// fakeElement is an Element that also pushes change signals, like a live DOM node.
type fakeElement struct {
	mu      sync.Mutex
	facts   ObservationFacts
	signals callbackSet
	reads   int
}

func newFakeElement(f ObservationFacts) *fakeElement {
	return &fakeElement{facts: f}
}

func (e *fakeElement) Observe() ObservationFacts {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reads++
	return e.facts
}

func (e *fakeElement) on(fn func()) func() {
	e.mu.Lock()
	id := e.signals.add(fn)
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.signals.fns, id)
		e.mu.Unlock()
	}
}

func (e *fakeElement) OnGeometryChange(fn func()) func()  { return e.on(fn) }
func (e *fakeElement) OnAttributeChange(fn func()) func() { return e.on(fn) }
func (e *fakeElement) OnTreeChange(fn func()) func()      { return e.on(fn) }

// set replaces the facts and fires every registered signal.
func (e *fakeElement) set(f ObservationFacts) {
	e.mu.Lock()
	e.facts = f
	fns := e.signals.snapshot()
	e.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (e *fakeElement) listeners() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.signals.fns)
}

// pollOnlyElement has no signals, so the registry must poll it.
type pollOnlyElement struct {
	mu    sync.Mutex
	facts ObservationFacts
}

func (e *pollOnlyElement) Observe() ObservationFacts {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.facts
}

func (e *pollOnlyElement) set(f ObservationFacts) {
	e.mu.Lock()
	e.facts = f
	e.mu.Unlock()
}

// eventLog collects events from a subscriber.
type eventLog struct {
	mu     sync.Mutex
	events []StateChangeEvent
}

func (l *eventLog) record(evt StateChangeEvent) {
	l.mu.Lock()
	l.events = append(l.events, evt)
	l.mu.Unlock()
}

func (l *eventLog) all() []StateChangeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]StateChangeEvent(nil), l.events...)
}

func (l *eventLog) transitions() [][2]State {
	var out [][2]State
	for _, evt := range l.all() {
		out = append(out, [2]State{evt.OldState, evt.NewState})
	}
	return out
}

// shiftingElement reports first on its first read and rest on every later read, without
// signalling the change.
type shiftingElement struct {
	mu    sync.Mutex
	first ObservationFacts
	rest  ObservationFacts
	reads int
}

func (e *shiftingElement) Observe() ObservationFacts {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reads++
	if e.reads == 1 {
		return e.first
	}
	return e.rest
}

// silentSignals is a shiftingElement that claims to push signals but never fires them.
type silentSignals struct {
	*shiftingElement
}

func (silentSignals) OnGeometryChange(func()) func()  { return func() {} }
func (silentSignals) OnAttributeChange(func()) func() { return func() {} }
func (silentSignals) OnTreeChange(func()) func()      { return func() {} }
