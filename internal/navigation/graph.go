package navigation

import (
	"fmt"
	"log"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultRootContext   = "global"
	DefaultMaxDepth      = 10
	DefaultStepLatency   = 500 * time.Millisecond
	DefaultPathCacheSize = 256

	// enterActionCost is the cost of edges derived from a context's enter action.
	enterActionCost = 1
)

// GraphOptions tunes a Graph. Zero values fall back to the package defaults.
type GraphOptions struct {
	RootContext   string
	StepLatency   time.Duration
	PathCacheSize int
}

func (o GraphOptions) withDefaults() GraphOptions {
	if strings.TrimSpace(o.RootContext) == "" {
		o.RootContext = DefaultRootContext
	}
	if o.StepLatency <= 0 {
		o.StepLatency = DefaultStepLatency
	}
	if o.PathCacheSize <= 0 {
		o.PathCacheSize = DefaultPathCacheSize
	}
	return o
}

type cachedPath struct {
	path *Path
	ok   bool
}

// Graph is the directed graph of contexts and the edges between them. It always contains
// the root context.
type Graph struct {
	opts GraphOptions

	mu         sync.RWMutex
	root       string
	contexts   map[string]*Context
	edges      []Edge
	adjacency  map[string][]Edge
	generation uint64

	cache *lru.Cache[string, cachedPath]
}

// NewGraph creates a graph holding only the root context.
func NewGraph(opts GraphOptions) *Graph {
	opts = opts.withDefaults()
	cache, err := lru.New[string, cachedPath](opts.PathCacheSize)
	if err != nil {
		// Only reachable with a non-positive size, which withDefaults rules out.
		panic(fmt.Sprintf("navigation: path cache: %v", err))
	}
	g := &Graph{
		opts:     opts,
		root:     opts.RootContext,
		contexts: map[string]*Context{opts.RootContext: {ID: opts.RootContext, Name: opts.RootContext}},
		cache:    cache,
	}
	g.rebuildLocked()
	return g
}

// Root returns the root context ID.
func (g *Graph) Root() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.root
}

// Generation increases on every mutation.
func (g *Graph) Generation() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.generation
}

func validID(id string) bool {
	return id != "" && strings.TrimSpace(id) == id && !strings.ContainsAny(id, " \t\n")
}

// AddContext inserts or replaces a context. The parent must already exist and the parent
// chain must not loop back to the context.
func (g *Graph) AddContext(c Context) error {
	if !validID(c.ID) {
		return fmt.Errorf("add context %q: %w", c.ID, ErrInvalidContext)
	}
	if c.EnterAction != nil && strings.TrimSpace(c.EnterAction.ToolID) == "" {
		return fmt.Errorf("add context %q: enter action without tool: %w", c.ID, ErrInvalidContext)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if c.ID == g.root && c.Parent != "" {
		return fmt.Errorf("add context %q: root cannot have a parent: %w", c.ID, ErrInvalidContext)
	}
	if c.Parent != "" {
		if _, ok := g.contexts[c.Parent]; !ok {
			return fmt.Errorf("add context %q: parent %q: %w", c.ID, c.Parent, ErrUnknownContext)
		}
		if err := checkAncestry(g.contexts, c.ID, c.Parent); err != nil {
			return fmt.Errorf("add context %q: %w", c.ID, err)
		}
	}

	stored := c.clone()
	if stored.Name == "" {
		stored.Name = stored.ID
	}
	g.contexts[c.ID] = &stored
	g.mutatedLocked()
	return nil
}

// checkAncestry walks up from parent and fails if it reaches id.
func checkAncestry(contexts map[string]*Context, id, parent string) error {
	seen := make(map[string]bool)
	for cur := parent; cur != ""; {
		if cur == id || seen[cur] {
			return fmt.Errorf("%q is its own ancestor via %q: %w", id, parent, ErrCycle)
		}
		seen[cur] = true
		c, ok := contexts[cur]
		if !ok {
			break
		}
		cur = c.Parent
	}
	return nil
}

func validateEdge(e Edge, contexts map[string]*Context) error {
	if strings.TrimSpace(e.NavigationTool) == "" {
		return fmt.Errorf("edge %s -> %s has no tool: %w", e.From, e.To, ErrInvalidEdge)
	}
	if e.Cost < 0 || math.IsNaN(e.Cost) || math.IsInf(e.Cost, 0) {
		return fmt.Errorf("edge %s -> %s cost %v: %w", e.From, e.To, e.Cost, ErrNegativeCost)
	}
	for _, id := range []string{e.From, e.To} {
		if _, ok := contexts[id]; !ok {
			return fmt.Errorf("edge %s -> %s: %q: %w", e.From, e.To, id, ErrUnknownContext)
		}
	}
	return nil
}

// AddEdge adds a directed edge between two existing contexts. Adding an edge with the same
// endpoints and tool replaces the earlier one.
func (g *Graph) AddEdge(e Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := validateEdge(e, g.contexts); err != nil {
		return fmt.Errorf("add edge: %w", err)
	}
	e = e.clone()
	if i := slices.IndexFunc(g.edges, func(x Edge) bool { return x.same(e.From, e.To, e.NavigationTool) }); i >= 0 {
		g.edges[i] = e
	} else {
		g.edges = append(g.edges, e)
	}
	g.mutatedLocked()
	return nil
}

// RemoveContext removes a context together with its descendants and every edge touching
// them. The root cannot be removed.
func (g *Graph) RemoveContext(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id == g.root {
		log.Printf("[navigation] warning: refusing to remove root context %q", id)
		return false
	}
	if _, ok := g.contexts[id]; !ok {
		return false
	}

	removed := map[string]bool{id: true}
	for changed := true; changed; {
		changed = false
		for cid, c := range g.contexts {
			if !removed[cid] && removed[c.Parent] {
				removed[cid] = true
				changed = true
			}
		}
	}
	for cid := range removed {
		delete(g.contexts, cid)
	}
	g.edges = slices.DeleteFunc(g.edges, func(e Edge) bool { return removed[e.From] || removed[e.To] })
	g.mutatedLocked()
	return true
}

// RemoveEdge removes the explicit edge from -> to performed by tool.
func (g *Graph) RemoveEdge(from, to, tool string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := len(g.edges)
	g.edges = slices.DeleteFunc(g.edges, func(e Edge) bool { return e.same(from, to, tool) })
	if len(g.edges) == n {
		return false
	}
	g.mutatedLocked()
	return true
}

// Replace swaps the whole topology in one step. Contexts may be listed in any order; the
// root context is added when missing. On error the graph is left untouched.
func (g *Graph) Replace(root string, contexts []Context, edges []Edge) error {
	if root == "" {
		root = g.opts.RootContext
	}
	if !validID(root) {
		return fmt.Errorf("replace topology: root %q: %w", root, ErrInvalidContext)
	}

	next := make(map[string]*Context, len(contexts)+1)
	for _, c := range contexts {
		if !validID(c.ID) {
			return fmt.Errorf("replace topology: context %q: %w", c.ID, ErrInvalidContext)
		}
		if _, dup := next[c.ID]; dup {
			return fmt.Errorf("replace topology: duplicate context %q: %w", c.ID, ErrInvalidContext)
		}
		if c.EnterAction != nil && strings.TrimSpace(c.EnterAction.ToolID) == "" {
			return fmt.Errorf("replace topology: context %q: enter action without tool: %w", c.ID, ErrInvalidContext)
		}
		stored := c.clone()
		if stored.Name == "" {
			stored.Name = stored.ID
		}
		next[c.ID] = &stored
	}
	if rc, ok := next[root]; !ok {
		next[root] = &Context{ID: root, Name: root}
	} else if rc.Parent != "" {
		return fmt.Errorf("replace topology: root %q has parent %q: %w", root, rc.Parent, ErrInvalidContext)
	}
	for id, c := range next {
		if c.Parent == "" {
			continue
		}
		if _, ok := next[c.Parent]; !ok {
			return fmt.Errorf("replace topology: context %q parent %q: %w", id, c.Parent, ErrUnknownContext)
		}
		if err := checkAncestry(next, id, c.Parent); err != nil {
			return fmt.Errorf("replace topology: %w", err)
		}
	}

	nextEdges := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if err := validateEdge(e, next); err != nil {
			return fmt.Errorf("replace topology: %w", err)
		}
		nextEdges = append(nextEdges, e.clone())
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.root = root
	g.contexts = next
	g.edges = nextEdges
	g.mutatedLocked()
	return nil
}

// mutatedLocked recomputes derived state after a change. g.mu must be held for writing.
func (g *Graph) mutatedLocked() {
	g.generation++
	g.rebuildLocked()
	g.cache.Purge()
}

// rebuildLocked recomputes children lists and the adjacency index: explicit edges in
// insertion order, then edges derived from enter actions ordered by target ID. Declared
// children survive only while they exist.
func (g *Graph) rebuildLocked() {
	children := make(map[string][]string, len(g.contexts))
	for id, c := range g.contexts {
		if c.Parent != "" {
			children[c.Parent] = append(children[c.Parent], id)
		}
	}
	for id, c := range g.contexts {
		kids := children[id]
		for _, declared := range c.Children {
			if _, exists := g.contexts[declared]; exists && !slices.Contains(kids, declared) {
				kids = append(kids, declared)
			}
		}
		sort.Strings(kids)
		c.Children = kids
	}

	adj := make(map[string][]Edge, len(g.contexts))
	for _, e := range g.edges {
		adj[e.From] = append(adj[e.From], e)
	}

	ids := make([]string, 0, len(g.contexts))
	for id := range g.contexts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := g.contexts[id]
		if c.EnterAction == nil || id == g.root {
			continue
		}
		from := c.Parent
		if from == "" {
			from = g.root
		}
		adj[from] = append(adj[from], Edge{
			From:           from,
			To:             id,
			NavigationTool: c.EnterAction.ToolID,
			Parameters:     c.EnterAction.Parameters,
			Cost:           enterActionCost,
		})
	}
	g.adjacency = adj
}

// GetContext returns a copy of the context.
func (g *Graph) GetContext(id string) (Context, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.contexts[id]
	if !ok {
		return Context{}, false
	}
	return c.clone(), true
}

// GetAllContexts returns copies of every context ordered by ID.
func (g *Graph) GetAllContexts() []Context {
	g.mu.RLock()
	out := make([]Context, 0, len(g.contexts))
	for _, c := range g.contexts {
		out = append(out, c.clone())
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns the outgoing edges of a context, including those derived from enter
// actions.
func (g *Graph) Edges(from string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	src := g.adjacency[from]
	out := make([]Edge, len(src))
	for i, e := range src {
		out[i] = e.clone()
	}
	return out
}

// GetToolContext returns the context that lists toolID among its tools. When several do,
// the deepest wins, then the lowest ID.
func (g *Graph) GetToolContext(toolID string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	best := ""
	bestDepth := -1
	for id, c := range g.contexts {
		if !slices.Contains(c.Tools, toolID) {
			continue
		}
		d := g.depthLocked(id)
		if d > bestDepth || (d == bestDepth && id < best) {
			best, bestDepth = id, d
		}
	}
	return best, bestDepth >= 0
}

// Depth returns the number of ancestors of a context, or -1 when it is unknown.
func (g *Graph) Depth(id string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.depthLocked(id)
}

func (g *Graph) depthLocked(id string) int {
	c, ok := g.contexts[id]
	if !ok {
		return -1
	}
	depth := 0
	for c.Parent != "" {
		parent, ok := g.contexts[c.Parent]
		if !ok {
			break
		}
		depth++
		c = parent
	}
	return depth
}

// ComputePath finds the cheapest walk from -> to, preferring fewer steps among equally
// cheap walks. It returns false when either end is unknown or nothing reachable within
// MaxDepth steps avoids AvoidContexts.
func (g *Graph) ComputePath(from, to string, opts PathOptions) (*Path, bool) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, id := range []string{from, to} {
		if _, ok := g.contexts[id]; !ok {
			log.Printf("[navigation] path %q -> %q: unknown context %q", from, to, id)
			return nil, false
		}
	}
	if from == to {
		return &Path{From: from, To: to, Steps: []Edge{}}, true
	}

	key := cacheKey(from, to, opts)
	if hit, ok := g.cache.Get(key); ok {
		return hit.path.clone(), hit.ok
	}

	steps, cost, found := shortestPath(g.adjacency, from, to, opts)
	var path *Path
	if found {
		path = &Path{
			From:          from,
			To:            to,
			Steps:         steps,
			TotalCost:     cost,
			EstimatedTime: time.Duration(len(steps)) * g.opts.StepLatency,
		}
	}
	// Mutations hold the write lock, so nothing can purge between compute and store.
	g.cache.Add(key, cachedPath{path: path, ok: found})
	return path.clone(), found
}

func cacheKey(from, to string, opts PathOptions) string {
	avoid := slices.Clone(opts.AvoidContexts)
	sort.Strings(avoid)
	avoid = slices.Compact(avoid)
	return fmt.Sprintf("%s\x00%s\x00%d\x00%s", from, to, opts.MaxDepth, strings.Join(avoid, "\x00"))
}
