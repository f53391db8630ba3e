package exposure

import (
	"sync"
	"time"
)

// Observer bridges one tool's element to the registry. Signals from the element schedule
// at most one classification per frame; the classification reads the element's facts when
// the frame fires, so the last state reached within a frame is always the one reported.
// The registry compares each classification with the tool's current state, so only changes
// produce events, including after the state was set by hand.
type Observer struct {
	registry *Registry
	toolID   string
	element  Element
	frame    time.Duration

	mu      sync.Mutex
	pending bool
	stopped bool
	timer   *time.Timer
	cancels []func()
	poller  *PollingSource

	// baseline holds the facts the registry classified before observation started.
	baseline ObservationFacts

	// run serializes frames.
	run sync.Mutex
}

func newObserver(r *Registry, toolID string, element Element, baseline ObservationFacts) *Observer {
	return &Observer{
		registry: r,
		toolID:   toolID,
		element:  element,
		frame:    r.opts.FrameInterval,
		baseline: baseline,
	}
}

func (o *Observer) start() {
	src, ok := o.element.(SignalSource)
	var poller *PollingSource
	if !ok {
		poller = NewPollingSource(o.element, o.registry.opts.PollInterval)
		poller.Seed(o.baseline)
		src = poller
	}

	cancels := []func(){
		src.OnGeometryChange(o.signal),
		src.OnAttributeChange(o.signal),
		src.OnTreeChange(o.signal),
	}

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		for _, cancel := range cancels {
			cancel()
		}
		return
	}
	o.cancels = cancels
	o.poller = poller
	o.mu.Unlock()

	if poller != nil {
		poller.Start()
		return
	}
	// A pushing source only reports changes made after subscription; catch up on any made
	// since the baseline was read.
	if DiffFacts(o.baseline, o.element.Observe()).Any() {
		o.signal()
	}
}

// signal requests a classification on the next frame.
func (o *Observer) signal() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped || o.pending {
		return
	}
	o.pending = true
	o.timer = time.AfterFunc(o.frame, o.flush)
}

func (o *Observer) flush() {
	o.run.Lock()
	defer o.run.Unlock()

	o.mu.Lock()
	o.pending = false
	stopped := o.stopped
	o.mu.Unlock()
	if stopped {
		return
	}

	facts := o.element.Observe()
	o.registry.applyObservation(o.toolID, o, Classify(facts), facts.Position)
}

// Stop detaches from the element. It never waits for an in-flight frame; a frame that
// finishes after Stop is discarded by the registry.
func (o *Observer) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	if o.timer != nil {
		o.timer.Stop()
	}
	cancels := o.cancels
	o.cancels = nil
	poller := o.poller
	o.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if poller != nil {
		poller.Stop()
	}
}
