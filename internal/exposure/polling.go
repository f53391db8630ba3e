package exposure

import (
	"sync"
	"time"
)

// FactChanges reports which signal groups differ between two observations.
type FactChanges struct {
	Tree      bool
	Geometry  bool
	Attribute bool
}

// Any reports whether any group changed.
func (c FactChanges) Any() bool {
	return c.Tree || c.Geometry || c.Attribute
}

// DiffFacts groups the differences between prev and next the way element signals are
// grouped: connection is a tree change, layout and visibility are geometry changes, and
// disabled/busy flags are attribute changes.
func DiffFacts(prev, next ObservationFacts) FactChanges {
	return FactChanges{
		Tree: prev.Connected != next.Connected,
		Geometry: prev.Intersecting != next.Intersecting ||
			prev.HasDimensions != next.HasDimensions ||
			prev.HiddenByStyle != next.HiddenByStyle ||
			!sameRect(prev.Position, next.Position),
		Attribute: prev.Disabled != next.Disabled ||
			prev.AriaDisabled != next.AriaDisabled ||
			prev.Busy != next.Busy,
	}
}

func sameRect(a, b *Rect) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

type callbackSet struct {
	next uint64
	fns  map[uint64]func()
}

func (s *callbackSet) add(fn func()) uint64 {
	if s.fns == nil {
		s.fns = make(map[uint64]func())
	}
	s.next++
	s.fns[s.next] = fn
	return s.next
}

func (s *callbackSet) snapshot() []func() {
	out := make([]func(), 0, len(s.fns))
	for _, fn := range s.fns {
		out = append(out, fn)
	}
	return out
}

// PollingSource turns any Element into a SignalSource by re-reading its facts on a fixed
// interval and firing the callbacks of every group that changed.
type PollingSource struct {
	element  Element
	interval time.Duration

	mu        sync.Mutex
	last      ObservationFacts
	geometry  callbackSet
	attribute callbackSet
	tree      callbackSet
	seeded    bool
	started   bool
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewPollingSource wraps element. Call Start to begin polling.
func NewPollingSource(element Element, interval time.Duration) *PollingSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollingSource{
		element:  element,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func (p *PollingSource) on(set *callbackSet, fn func()) func() {
	p.mu.Lock()
	id := set.add(fn)
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(set.fns, id)
		p.mu.Unlock()
	}
}

func (p *PollingSource) OnGeometryChange(fn func()) func()  { return p.on(&p.geometry, fn) }
func (p *PollingSource) OnAttributeChange(fn func()) func() { return p.on(&p.attribute, fn) }
func (p *PollingSource) OnTreeChange(fn func()) func()      { return p.on(&p.tree, fn) }

// Seed sets the facts the first poll is compared against. Without a seed, Start reads the
// element once for its baseline.
func (p *PollingSource) Seed(facts ObservationFacts) {
	p.mu.Lock()
	p.last = facts
	p.seeded = true
	p.mu.Unlock()
}

// Start records the baseline facts and polls until Stop. Calling it twice is a no-op.
func (p *PollingSource) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	seeded := p.seeded
	p.mu.Unlock()

	if !seeded {
		baseline := p.element.Observe()
		p.mu.Lock()
		p.last = baseline
		p.mu.Unlock()
	}

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.Poll()
			}
		}
	}()
}

// Poll reads the element once and fires callbacks for changed groups.
func (p *PollingSource) Poll() FactChanges {
	facts := p.element.Observe()

	p.mu.Lock()
	changes := DiffFacts(p.last, facts)
	p.last = facts
	var fire []func()
	if changes.Tree {
		fire = append(fire, p.tree.snapshot()...)
	}
	if changes.Geometry {
		fire = append(fire, p.geometry.snapshot()...)
	}
	if changes.Attribute {
		fire = append(fire, p.attribute.snapshot()...)
	}
	p.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
	return changes
}

// Stop ends polling. It is safe to call more than once.
func (p *PollingSource) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}
