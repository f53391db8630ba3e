package exposure

import (
	"maps"
	"time"
)

// Element is a DOM-like handle whose current facts can be read on demand.
type Element interface {
	Observe() ObservationFacts
}

// SignalSource delivers change notifications for an element. Each registration returns a
// cancel func that stops further callbacks.
type SignalSource interface {
	OnGeometryChange(fn func()) (cancel func())
	OnAttributeChange(fn func()) (cancel func())
	OnTreeChange(fn func()) (cancel func())
}

// Metadata carries the explanation attached to a tool's current state.
type Metadata struct {
	Reason     string         `json:"reason,omitempty"`
	Blockers   []string       `json:"blockers,omitempty"`
	Position   *Rect          `json:"position,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Clone returns a deep copy; nil stays nil.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	out := &Metadata{Reason: m.Reason}
	if m.Blockers != nil {
		out.Blockers = append([]string{}, m.Blockers...)
	}
	if m.Position != nil {
		p := *m.Position
		out.Position = &p
	}
	if m.Confidence != nil {
		c := *m.Confidence
		out.Confidence = &c
	}
	if m.Extra != nil {
		out.Extra = maps.Clone(m.Extra)
	}
	return out
}

// merge overlays the fields set in patch. A non-nil Blockers slice replaces the current
// blockers even when empty.
func (m *Metadata) merge(patch *Metadata) *Metadata {
	if patch == nil {
		return m.Clone()
	}
	if m == nil {
		return patch.Clone()
	}
	out := m.Clone()
	if patch.Reason != "" {
		out.Reason = patch.Reason
	}
	if patch.Blockers != nil {
		out.Blockers = append([]string{}, patch.Blockers...)
	}
	if patch.Position != nil {
		p := *patch.Position
		out.Position = &p
	}
	if patch.Confidence != nil {
		c := *patch.Confidence
		out.Confidence = &c
	}
	if len(patch.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = make(map[string]any, len(patch.Extra))
		}
		maps.Copy(out.Extra, patch.Extra)
	}
	return out
}

// ToolState is a snapshot of one registered tool. Snapshots are copies; callers re-query
// for freshness.
type ToolState struct {
	ToolID     string    `json:"tool_id"`
	State      State     `json:"state"`
	Element    Element   `json:"-"`
	LastUpdate time.Time `json:"last_update"`
	Metadata   *Metadata `json:"metadata,omitempty"`
}

// HasElement reports whether an element handle is bound to the tool.
func (s ToolState) HasElement() bool {
	return s.Element != nil
}

// StateChangeEvent is delivered to subscribers on every state transition.
type StateChangeEvent struct {
	ToolID    string    `json:"tool_id"`
	OldState  State     `json:"old_state"`
	NewState  State     `json:"new_state"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// Subscriber receives state change events synchronously on the updating goroutine.
type Subscriber func(StateChangeEvent)

// MembershipListener hears about tools being registered (true) or unregistered (false).
type MembershipListener func(toolID string, registered bool)
