package browser

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"wayfinder-mcp-server/internal/exposure"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrUnbound        = errors.New("tool is not bound to an element")
)

// Binding ties a tool to a selector on a session's page.
type Binding struct {
	ToolID    string `json:"tool_id"`
	SessionID string `json:"session_id"`
	Selector  string `json:"selector"`
}

// Binder attaches RodElements to registry tools.
type Binder struct {
	sessions     *SessionManager
	registry     *exposure.Registry
	probeTimeout time.Duration

	mu       sync.RWMutex
	bindings map[string]*boundElement
}

type boundElement struct {
	Binding
	element *RodElement
}

func NewBinder(sessions *SessionManager, registry *exposure.Registry, probeTimeout time.Duration) *Binder {
	return &Binder{
		sessions:     sessions,
		registry:     registry,
		probeTimeout: probeTimeout,
		bindings:     make(map[string]*boundElement),
	}
}

// Bind points toolID at selector on the session's page. Unregistered tools are registered;
// registered ones have their element replaced.
func (b *Binder) Bind(sessionID, toolID, selector string) error {
	if toolID == "" || selector == "" {
		return fmt.Errorf("bind: tool id and selector are required")
	}
	page, ok := b.sessions.Page(sessionID)
	if !ok {
		return fmt.Errorf("bind %s: %w: %s", toolID, ErrUnknownSession, sessionID)
	}

	el := NewRodElement(page, selector, b.probeTimeout)
	b.mu.Lock()
	b.bindings[toolID] = &boundElement{
		Binding: Binding{ToolID: toolID, SessionID: sessionID, Selector: selector},
		element: el,
	}
	b.mu.Unlock()

	if _, registered := b.registry.GetToolState(toolID); registered {
		b.registry.AttachElement(toolID, el)
	} else {
		b.registry.RegisterTool(toolID, el, nil)
	}
	log.Printf("[browser] bound %s to %q in session %s", toolID, selector, sessionID)
	return nil
}

// Unbind detaches the tool's element. The tool stays registered as NOT_PRESENT.
func (b *Binder) Unbind(toolID string) bool {
	b.mu.Lock()
	_, ok := b.bindings[toolID]
	delete(b.bindings, toolID)
	b.mu.Unlock()
	if ok {
		b.registry.DetachElement(toolID)
	}
	return ok
}

// Lookup returns the binding for toolID.
func (b *Binder) Lookup(toolID string) (Binding, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	be, ok := b.bindings[toolID]
	if !ok {
		return Binding{}, false
	}
	return be.Binding, true
}

// Bindings lists every binding ordered by tool ID.
func (b *Binder) Bindings() []Binding {
	b.mu.RLock()
	out := make([]Binding, 0, len(b.bindings))
	for _, be := range b.bindings {
		out = append(out, be.Binding)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ToolID < out[j].ToolID })
	return out
}

// UnbindSession drops every binding on sessionID.
func (b *Binder) UnbindSession(sessionID string) int {
	var tools []string
	b.mu.RLock()
	for id, be := range b.bindings {
		if be.SessionID == sessionID {
			tools = append(tools, id)
		}
	}
	b.mu.RUnlock()
	for _, id := range tools {
		b.Unbind(id)
	}
	return len(tools)
}
