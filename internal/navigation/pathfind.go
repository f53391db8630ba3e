package navigation

import "container/heap"

// label is one partial walk in the search frontier.
type label struct {
	node  string
	cost  float64
	steps int
	seq   int
	prev  *label
	edge  Edge
}

type frontier []*label

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	a, b := f[i], f[j]
	if a.cost != b.cost {
		return a.cost < b.cost
	}
	if a.steps != b.steps {
		return a.steps < b.steps
	}
	return a.seq < b.seq
}

func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }

func (f *frontier) Push(x any) { *f = append(*f, x.(*label)) }

func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*f = old[:n-1]
	return item
}

// shortestPath runs a uniform-cost search ordered by (cost, steps). Because the step
// budget is a hard limit, a node may be expanded more than once: a later label is only
// dropped when an earlier one reached the node in no more steps. The first label popped
// at the target is therefore the cheapest walk within budget, and the shortest among
// equally cheap ones.
func shortestPath(adj map[string][]Edge, from, to string, opts PathOptions) ([]Edge, float64, bool) {
	avoid := make(map[string]bool, len(opts.AvoidContexts))
	for _, id := range opts.AvoidContexts {
		avoid[id] = true
	}
	if avoid[to] {
		return nil, 0, false
	}

	bestSteps := make(map[string]int)
	seq := 0
	pq := &frontier{{node: from}}

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*label)
		if cur.node == to {
			return unwind(cur), cur.cost, true
		}
		if s, seen := bestSteps[cur.node]; seen && s <= cur.steps {
			continue
		}
		bestSteps[cur.node] = cur.steps
		if cur.steps >= opts.MaxDepth {
			continue
		}

		for _, e := range adj[cur.node] {
			if avoid[e.To] || e.To == from {
				continue
			}
			seq++
			heap.Push(pq, &label{
				node:  e.To,
				cost:  cur.cost + e.Cost,
				steps: cur.steps + 1,
				seq:   seq,
				prev:  cur,
				edge:  e,
			})
		}
	}
	return nil, 0, false
}

func unwind(l *label) []Edge {
	steps := make([]Edge, l.steps)
	for i := l.steps - 1; l.prev != nil; i-- {
		steps[i] = l.edge.clone()
		l = l.prev
	}
	return steps
}
