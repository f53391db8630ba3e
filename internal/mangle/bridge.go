package mangle

import (
	"context"
	"log"
	"time"

	"wayfinder-mcp-server/internal/exposure"
	"wayfinder-mcp-server/internal/navigation"
)

// Predicates written by the bridge.
const (
	PredToolState        = "tool_state"
	PredToolBlocker      = "tool_blocker"
	PredContextChange    = "context_change"
	PredNavigationStep   = "navigation_step"
	PredNavigationResult = "navigation_result"

	// StepOK is the outcome recorded for a completed step.
	StepOK = "ok"
)

// ToolStateFacts converts a state change into tool_state and tool_blocker facts.
func ToolStateFacts(evt exposure.StateChangeEvent) []Fact {
	facts := []Fact{{
		Predicate: PredToolState,
		Args:      []interface{}{evt.ToolID, evt.NewState.String(), evt.Timestamp.UnixMilli()},
		Timestamp: evt.Timestamp,
	}}
	if evt.Metadata != nil {
		for _, b := range evt.Metadata.Blockers {
			facts = append(facts, Fact{
				Predicate: PredToolBlocker,
				Args:      []interface{}{evt.ToolID, b},
				Timestamp: evt.Timestamp,
			})
		}
	}
	return facts
}

// ContextChangeFact converts a tracker change into a context_change fact.
func ContextChangeFact(c navigation.ContextChange) Fact {
	return Fact{
		Predicate: PredContextChange,
		Args:      []interface{}{c.From, c.To, c.Timestamp.UnixMilli()},
		Timestamp: c.Timestamp,
	}
}

// StepFact converts an executor step into a navigation_step fact.
func StepFact(evt navigation.StepEvent) Fact {
	outcome := StepOK
	if !evt.Succeeded {
		outcome = evt.Reason
	}
	return Fact{
		Predicate: PredNavigationStep,
		Args:      []interface{}{evt.RunID, evt.Edge.From, evt.Edge.To, evt.Edge.NavigationTool, outcome},
		Timestamp: evt.Timestamp,
	}
}

// ResultFact converts a finished walk into a navigation_result fact.
func ResultFact(res navigation.Result) Fact {
	return Fact{
		Predicate: PredNavigationResult,
		Args:      []interface{}{res.RunID, res.Target, string(res.Status), res.Reason},
		Timestamp: time.Now(),
	}
}

// Bridge feeds exposure and navigation events into the engine.
type Bridge struct {
	engine *Engine
	detach []func()
}

// NewBridge subscribes to whichever sources are non-nil.
func NewBridge(engine *Engine, registry *exposure.Registry, tracker *navigation.Tracker, executor *navigation.Executor) *Bridge {
	b := &Bridge{engine: engine}

	if registry != nil {
		b.detach = append(b.detach, registry.Subscribe(func(evt exposure.StateChangeEvent) {
			b.add(ToolStateFacts(evt)...)
		}))
	}
	if tracker != nil {
		b.detach = append(b.detach, tracker.Subscribe(func(c navigation.ContextChange) {
			b.add(ContextChangeFact(c))
		}))
	}
	if executor != nil {
		b.detach = append(b.detach,
			executor.OnStep(func(evt navigation.StepEvent) { b.add(StepFact(evt)) }),
			executor.OnResult(func(res navigation.Result) { b.add(ResultFact(res)) }),
		)
	}
	return b
}

func (b *Bridge) add(facts ...Fact) {
	if err := b.engine.AddFacts(context.Background(), facts); err != nil {
		log.Printf("[mangle] warning: failed to record %d facts: %v", len(facts), err)
	}
}

// Close removes every subscription.
func (b *Bridge) Close() {
	for _, fn := range b.detach {
		fn()
	}
	b.detach = nil
}
