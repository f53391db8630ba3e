package navigation

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func mustAddContext(t *testing.T, g *Graph, c Context) {
	t.Helper()
	if err := g.AddContext(c); err != nil {
		t.Fatalf("AddContext(%q) failed: %v", c.ID, err)
	}
}

func mustAddEdge(t *testing.T, g *Graph, e Edge) {
	t.Helper()
	if err := g.AddEdge(e); err != nil {
		t.Fatalf("AddEdge(%s -> %s) failed: %v", e.From, e.To, err)
	}
}

func stepTargets(p *Path) []string {
	var out []string
	for _, s := range p.Steps {
		out = append(out, s.To)
	}
	return out
}

func TestComputePathSameContext(t *testing.T) {
	g := NewGraph(GraphOptions{})
	mustAddContext(t, g, Context{ID: "a"})

	p, ok := g.ComputePath("a", "a", PathOptions{})
	if !ok {
		t.Fatal("expected a path")
	}
	if len(p.Steps) != 0 || p.TotalCost != 0 || p.EstimatedTime != 0 {
		t.Errorf("expected zero-step path, got %+v", p)
	}
}

func TestComputePathDisconnected(t *testing.T) {
	g := NewGraph(GraphOptions{})
	for _, id := range []string{"a", "b", "x", "y"} {
		mustAddContext(t, g, Context{ID: id})
	}
	mustAddEdge(t, g, Edge{From: "a", To: "b", NavigationTool: "t1", Cost: 1})
	mustAddEdge(t, g, Edge{From: "x", To: "y", NavigationTool: "t2", Cost: 1})

	if p, ok := g.ComputePath("a", "y", PathOptions{}); ok {
		t.Errorf("expected no path, got %+v", p)
	}
	if _, ok := g.ComputePath("a", "missing", PathOptions{}); ok {
		t.Error("expected no path to an unknown context")
	}
}

func TestComputePathPrefersFewerStepsAtEqualCost(t *testing.T) {
	g := NewGraph(GraphOptions{})
	for _, id := range []string{"a", "b", "c"} {
		mustAddContext(t, g, Context{ID: id})
	}
	// Two-hop route added first so insertion order cannot explain the result.
	mustAddEdge(t, g, Edge{From: "a", To: "c", NavigationTool: "via-c", Cost: 0.5})
	mustAddEdge(t, g, Edge{From: "c", To: "b", NavigationTool: "c-to-b", Cost: 0.5})
	mustAddEdge(t, g, Edge{From: "a", To: "b", NavigationTool: "direct", Cost: 1})

	p, ok := g.ComputePath("a", "b", PathOptions{})
	if !ok {
		t.Fatal("expected a path")
	}
	if len(p.Steps) != 1 || p.Steps[0].NavigationTool != "direct" {
		t.Errorf("expected the direct edge, got %v", p.Steps)
	}
	if p.TotalCost != 1 {
		t.Errorf("total cost = %v, want 1", p.TotalCost)
	}
}

func TestComputePathPrefersCheaper(t *testing.T) {
	g := NewGraph(GraphOptions{StepLatency: 100 * time.Millisecond})
	for _, id := range []string{"a", "b", "c"} {
		mustAddContext(t, g, Context{ID: id})
	}
	mustAddEdge(t, g, Edge{From: "a", To: "b", NavigationTool: "direct", Cost: 5})
	mustAddEdge(t, g, Edge{From: "a", To: "c", NavigationTool: "t1", Cost: 1})
	mustAddEdge(t, g, Edge{From: "c", To: "b", NavigationTool: "t2", Cost: 1})

	p, ok := g.ComputePath("a", "b", PathOptions{})
	if !ok {
		t.Fatal("expected a path")
	}
	if got := stepTargets(p); !reflect.DeepEqual(got, []string{"c", "b"}) {
		t.Errorf("steps = %v", got)
	}
	if p.TotalCost != 2 {
		t.Errorf("total cost = %v, want 2", p.TotalCost)
	}
	if p.EstimatedTime != 200*time.Millisecond {
		t.Errorf("estimated time = %v, want 200ms", p.EstimatedTime)
	}
}

func TestComputePathMaxDepth(t *testing.T) {
	g := NewGraph(GraphOptions{})
	ids := []string{"n0", "n1", "n2", "n3", "n4"}
	for _, id := range ids {
		mustAddContext(t, g, Context{ID: id})
	}
	for i := 0; i < len(ids)-1; i++ {
		mustAddEdge(t, g, Edge{From: ids[i], To: ids[i+1], NavigationTool: "next", Cost: 0})
	}
	// An expensive shortcut that fits a tight budget.
	mustAddEdge(t, g, Edge{From: "n0", To: "n4", NavigationTool: "jump", Cost: 100})

	p, ok := g.ComputePath("n0", "n4", PathOptions{})
	if !ok || len(p.Steps) != 4 {
		t.Fatalf("expected the free four-step chain, got %+v", p)
	}

	p, ok = g.ComputePath("n0", "n4", PathOptions{MaxDepth: 3})
	if !ok || len(p.Steps) != 1 || p.Steps[0].NavigationTool != "jump" {
		t.Fatalf("expected the shortcut under MaxDepth 3, got %+v", p)
	}

	g.RemoveEdge("n0", "n4", "jump")
	if _, ok := g.ComputePath("n0", "n4", PathOptions{MaxDepth: 3}); ok {
		t.Error("expected no path within MaxDepth 3")
	}
}

func TestComputePathAvoidContexts(t *testing.T) {
	g := NewGraph(GraphOptions{})
	for _, id := range []string{"a", "b", "c", "d"} {
		mustAddContext(t, g, Context{ID: id})
	}
	mustAddEdge(t, g, Edge{From: "a", To: "b", NavigationTool: "t", Cost: 1})
	mustAddEdge(t, g, Edge{From: "b", To: "d", NavigationTool: "t", Cost: 1})
	mustAddEdge(t, g, Edge{From: "a", To: "c", NavigationTool: "t", Cost: 2})
	mustAddEdge(t, g, Edge{From: "c", To: "d", NavigationTool: "t", Cost: 2})

	p, ok := g.ComputePath("a", "d", PathOptions{AvoidContexts: []string{"b"}})
	if !ok {
		t.Fatal("expected a path around b")
	}
	if got := stepTargets(p); !reflect.DeepEqual(got, []string{"c", "d"}) {
		t.Errorf("steps = %v", got)
	}
	if _, ok := g.ComputePath("a", "d", PathOptions{AvoidContexts: []string{"d"}}); ok {
		t.Error("expected no path to an avoided target")
	}
}

func TestEnterActionDerivesEdges(t *testing.T) {
	g := NewGraph(GraphOptions{})
	mustAddContext(t, g, Context{ID: "dashboard", EnterAction: &EnterAction{ToolID: "open-dashboard"}})
	mustAddContext(t, g, Context{ID: "dashboard.security", Parent: "dashboard", EnterAction: &EnterAction{ToolID: "open-security-tab"}})

	p, ok := g.ComputePath("global", "dashboard.security", PathOptions{})
	if !ok {
		t.Fatal("expected derived path")
	}
	var tools []string
	for _, s := range p.Steps {
		tools = append(tools, s.NavigationTool)
	}
	if !reflect.DeepEqual(tools, []string{"open-dashboard", "open-security-tab"}) {
		t.Errorf("tools = %v", tools)
	}
	if p.TotalCost != 2 {
		t.Errorf("total cost = %v, want 2", p.TotalCost)
	}

	parent, _ := g.GetContext("dashboard")
	if !reflect.DeepEqual(parent.Children, []string{"dashboard.security"}) {
		t.Errorf("children = %v", parent.Children)
	}
}

func TestPathCachePurgedOnMutation(t *testing.T) {
	g := NewGraph(GraphOptions{})
	for _, id := range []string{"a", "b", "c"} {
		mustAddContext(t, g, Context{ID: id})
	}
	mustAddEdge(t, g, Edge{From: "a", To: "c", NavigationTool: "t1", Cost: 1})
	mustAddEdge(t, g, Edge{From: "c", To: "b", NavigationTool: "t2", Cost: 1})

	first, _ := g.ComputePath("a", "b", PathOptions{})
	if len(first.Steps) != 2 {
		t.Fatalf("expected two steps, got %d", len(first.Steps))
	}
	if g.cache.Len() != 1 {
		t.Fatalf("expected computed path to be cached")
	}

	gen := g.Generation()
	mustAddEdge(t, g, Edge{From: "a", To: "b", NavigationTool: "direct", Cost: 0.5})
	if g.Generation() <= gen {
		t.Error("expected generation to advance")
	}

	second, _ := g.ComputePath("a", "b", PathOptions{})
	if len(second.Steps) != 1 {
		t.Errorf("expected the new direct edge, got %v", second.Steps)
	}

	// Returned paths are copies.
	second.Steps[0].NavigationTool = "mutated"
	third, _ := g.ComputePath("a", "b", PathOptions{})
	if third.Steps[0].NavigationTool != "direct" {
		t.Error("mutating a returned path leaked into the cache")
	}
}

func TestAddContextValidation(t *testing.T) {
	g := NewGraph(GraphOptions{})
	mustAddContext(t, g, Context{ID: "a"})
	mustAddContext(t, g, Context{ID: "a.b", Parent: "a"})

	tests := []struct {
		name string
		ctx  Context
		want error
	}{
		{"empty id", Context{ID: ""}, ErrInvalidContext},
		{"whitespace id", Context{ID: "a b"}, ErrInvalidContext},
		{"unknown parent", Context{ID: "x", Parent: "nope"}, ErrUnknownContext},
		{"cycle", Context{ID: "a", Parent: "a.b"}, ErrCycle},
		{"self parent", Context{ID: "a.b", Parent: "a.b"}, ErrCycle},
		{"enter action without tool", Context{ID: "y", EnterAction: &EnterAction{}}, ErrInvalidContext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := g.AddContext(tt.ctx); !errors.Is(err, tt.want) {
				t.Errorf("AddContext error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAddEdgeValidation(t *testing.T) {
	g := NewGraph(GraphOptions{})
	mustAddContext(t, g, Context{ID: "a"})
	mustAddContext(t, g, Context{ID: "b"})

	tests := []struct {
		name string
		edge Edge
		want error
	}{
		{"negative cost", Edge{From: "a", To: "b", NavigationTool: "t", Cost: -1}, ErrNegativeCost},
		{"missing tool", Edge{From: "a", To: "b", Cost: 1}, ErrInvalidEdge},
		{"unknown endpoint", Edge{From: "a", To: "zzz", NavigationTool: "t"}, ErrUnknownContext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := g.AddEdge(tt.edge); !errors.Is(err, tt.want) {
				t.Errorf("AddEdge error = %v, want %v", err, tt.want)
			}
		})
	}

	// Parallel edges with different tools are both kept; same tool replaces.
	mustAddEdge(t, g, Edge{From: "a", To: "b", NavigationTool: "t1", Cost: 3})
	mustAddEdge(t, g, Edge{From: "a", To: "b", NavigationTool: "t2", Cost: 2})
	mustAddEdge(t, g, Edge{From: "a", To: "b", NavigationTool: "t1", Cost: 1})
	edges := g.Edges("a")
	if len(edges) != 2 {
		t.Fatalf("expected two edges, got %v", edges)
	}
	if edges[0].NavigationTool != "t1" || edges[0].Cost != 1 {
		t.Errorf("expected t1 replaced in place, got %+v", edges[0])
	}
}

func TestRemoveContextCascades(t *testing.T) {
	g := NewGraph(GraphOptions{})
	mustAddContext(t, g, Context{ID: "a"})
	mustAddContext(t, g, Context{ID: "a.b", Parent: "a"})
	mustAddContext(t, g, Context{ID: "a.b.c", Parent: "a.b"})
	mustAddContext(t, g, Context{ID: "z"})
	mustAddEdge(t, g, Edge{From: "z", To: "a.b.c", NavigationTool: "t", Cost: 1})

	if !g.RemoveContext("a.b") {
		t.Fatal("expected removal")
	}
	for _, id := range []string{"a.b", "a.b.c"} {
		if _, ok := g.GetContext(id); ok {
			t.Errorf("expected %q removed", id)
		}
	}
	if len(g.Edges("z")) != 0 {
		t.Error("expected edges into removed contexts to be dropped")
	}
	if a, _ := g.GetContext("a"); len(a.Children) != 0 {
		t.Errorf("expected no children left, got %v", a.Children)
	}
	if g.RemoveContext("global") {
		t.Error("root must not be removable")
	}
}

func TestGetToolContextPrefersDeepest(t *testing.T) {
	g := NewGraph(GraphOptions{})
	mustAddContext(t, g, Context{ID: "dashboard", Tools: []string{"search", "logout"}})
	mustAddContext(t, g, Context{ID: "dashboard.security", Parent: "dashboard", Tools: []string{"search", "rotate-keys"}})

	tests := []struct {
		tool string
		want string
		ok   bool
	}{
		{"rotate-keys", "dashboard.security", true},
		{"search", "dashboard.security", true},
		{"logout", "dashboard", true},
		{"missing", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			got, ok := g.GetToolContext(tt.tool)
			if got != tt.want || ok != tt.ok {
				t.Errorf("GetToolContext(%q) = %q, %v; want %q, %v", tt.tool, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestReplaceIsAtomic(t *testing.T) {
	g := NewGraph(GraphOptions{})
	mustAddContext(t, g, Context{ID: "keep"})
	gen := g.Generation()

	err := g.Replace("global", []Context{
		{ID: "a", Parent: "b"},
		{ID: "b", Parent: "a"},
	}, nil)
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if _, ok := g.GetContext("keep"); !ok || g.Generation() != gen {
		t.Error("failed replace must leave the graph untouched")
	}

	err = g.Replace("home", []Context{
		{ID: "home.child", Parent: "home", EnterAction: &EnterAction{ToolID: "open-child"}},
	}, nil)
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if g.Root() != "home" {
		t.Errorf("root = %q", g.Root())
	}
	if _, ok := g.GetContext("keep"); ok {
		t.Error("expected old contexts to be gone")
	}
	if _, ok := g.ComputePath("home", "home.child", PathOptions{}); !ok {
		t.Error("expected derived edge from the implicit root")
	}
}
