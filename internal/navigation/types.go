package navigation

import (
	"errors"
	"maps"
	"slices"
	"time"
)

var (
	ErrInvalidContext = errors.New("invalid context")
	ErrUnknownContext = errors.New("unknown context")
	ErrInvalidEdge    = errors.New("invalid edge")
	ErrNegativeCost   = errors.New("edge cost must be non-negative")
	ErrCycle          = errors.New("context hierarchy cycle")
)

// EnterAction is the tool that opens a context from its parent.
type EnterAction struct {
	ToolID     string         `yaml:"tool_id" json:"tool_id"`
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Context is a named location in the application: a page, tab or modal. IDs are
// dot-delimited, e.g. "dashboard.security".
type Context struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name,omitempty" json:"name,omitempty"`
	Parent      string         `yaml:"parent,omitempty" json:"parent,omitempty"`
	Children    []string       `yaml:"children,omitempty" json:"children,omitempty"`
	Tools       []string       `yaml:"tools,omitempty" json:"tools,omitempty"`
	EnterAction *EnterAction   `yaml:"enter_action,omitempty" json:"enter_action,omitempty"`
	Metadata    map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

func (c Context) clone() Context {
	c.Children = slices.Clone(c.Children)
	c.Tools = slices.Clone(c.Tools)
	c.Metadata = maps.Clone(c.Metadata)
	if c.EnterAction != nil {
		ea := *c.EnterAction
		ea.Parameters = maps.Clone(ea.Parameters)
		c.EnterAction = &ea
	}
	return c
}

// Edge is a directed transition performed by invoking NavigationTool. Several edges may
// join the same pair of contexts.
type Edge struct {
	From           string         `yaml:"from" json:"from"`
	To             string         `yaml:"to" json:"to"`
	NavigationTool string         `yaml:"tool" json:"navigation_tool"`
	Parameters     map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Cost           float64        `yaml:"cost" json:"cost"`
}

func (e Edge) clone() Edge {
	e.Parameters = maps.Clone(e.Parameters)
	return e
}

func (e Edge) same(from, to, tool string) bool {
	return e.From == from && e.To == to && e.NavigationTool == tool
}

// Path is an ordered walk from one context to another.
type Path struct {
	From          string        `json:"from"`
	To            string        `json:"to"`
	Steps         []Edge        `json:"steps"`
	TotalCost     float64       `json:"total_cost"`
	EstimatedTime time.Duration `json:"estimated_time"`
}

func (p *Path) clone() *Path {
	if p == nil {
		return nil
	}
	out := *p
	out.Steps = make([]Edge, len(p.Steps))
	for i, s := range p.Steps {
		out.Steps[i] = s.clone()
	}
	return &out
}

// PathOptions constrains ComputePath.
type PathOptions struct {
	// MaxDepth caps the number of steps regardless of cost. Zero means DefaultMaxDepth.
	MaxDepth int
	// AvoidContexts are never entered by the path.
	AvoidContexts []string
}
