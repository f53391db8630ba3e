package mcp

import (
	"context"
	"fmt"
	"time"

	"wayfinder-mcp-server/internal/metrics"
	"wayfinder-mcp-server/internal/navigation"
)

type GetContextTool struct {
	tracker *navigation.Tracker
}

func (t *GetContextTool) Name() string { return "get-context" }
func (t *GetContextTool) Description() string {
	return `Return the current and previous context plus recent context changes.`
}
func (t *GetContextTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"history": integerProp("Number of recent changes to include (default 10, 0 for none)"),
	})
}
func (t *GetContextTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	limit := getIntArg(args, "history", 10)
	history := t.tracker.History()
	if limit >= 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return map[string]interface{}{
		"current":  t.tracker.Current(),
		"previous": t.tracker.Previous(),
		"history":  history,
	}, nil
}

type SetContextTool struct {
	tracker *navigation.Tracker
	graph   *navigation.Graph
}

func (t *SetContextTool) Name() string { return "set-context" }
func (t *SetContextTool) Description() string {
	return `Tell the tracker which context the application is in.

WHEN TO USE:
- The page changed in a way no detector recognises
- Correcting the tracker after a manual navigation

Contexts absent from the graph are accepted but reported with known=false,
since paths can only be computed between known contexts.`
}
func (t *SetContextTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"context_id": stringProp("Context identifier"),
	}, "context_id")
}
func (t *SetContextTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	id := getStringArg(args, "context_id")
	if id == "" {
		return nil, fmt.Errorf("context_id is required")
	}
	previous := t.tracker.Current()
	t.tracker.SetCurrentContext(id)
	_, known := t.graph.GetContext(id)
	return map[string]interface{}{
		"success":  true,
		"current":  t.tracker.Current(),
		"previous": previous,
		"changed":  previous != id,
		"known":    known,
	}, nil
}

type WaitForContextTool struct {
	tracker        *navigation.Tracker
	defaultTimeout time.Duration
}

func (t *WaitForContextTool) Name() string { return "wait-for-context" }
func (t *WaitForContextTool) Description() string {
	return `Block until the tracker reports the given context, or the timeout elapses.
Returns immediately when already there. Returns: {reached, current, waited_ms}`
}
func (t *WaitForContextTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"context_id": stringProp("Context to wait for"),
		"timeout_ms": integerProp("Maximum wait in milliseconds"),
	}, "context_id")
}
func (t *WaitForContextTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id := getStringArg(args, "context_id")
	if id == "" {
		return nil, fmt.Errorf("context_id is required")
	}
	start := time.Now()
	reached := t.tracker.WaitForContextChange(ctx, id, getTimeoutArg(args, "timeout_ms", t.defaultTimeout))
	metrics.RecordWait(metrics.WaitContext, reached)
	return map[string]interface{}{
		"reached":   reached,
		"current":   t.tracker.Current(),
		"waited_ms": time.Since(start).Milliseconds(),
	}, nil
}

type ListContextsTool struct {
	graph   *navigation.Graph
	tracker *navigation.Tracker
}

func (t *ListContextsTool) Name() string { return "list-contexts" }
func (t *ListContextsTool) Description() string {
	return `List every context in the navigation graph with its outgoing edges.
Returns: {root, current, contexts: [{id, name, parent, children, tools, enter_action, edges}]}`
}
func (t *ListContextsTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{})
}
func (t *ListContextsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	all := t.graph.GetAllContexts()
	contexts := make([]map[string]interface{}, 0, len(all))
	for _, c := range all {
		contexts = append(contexts, map[string]interface{}{
			"id":           c.ID,
			"name":         c.Name,
			"parent":       c.Parent,
			"children":     c.Children,
			"tools":        c.Tools,
			"enter_action": c.EnterAction,
			"depth":        t.graph.Depth(c.ID),
			"edges":        t.graph.Edges(c.ID),
		})
	}
	return map[string]interface{}{
		"root":     t.graph.Root(),
		"current":  t.tracker.Current(),
		"contexts": contexts,
		"count":    len(contexts),
	}, nil
}

type AddContextTool struct {
	graph *navigation.Graph
}

func (t *AddContextTool) Name() string { return "add-context" }
func (t *AddContextTool) Description() string {
	return `Add or replace a context in the navigation graph.

The parent must already exist (defaults to the root). When enter_tool is given,
the graph derives an edge parent -> context that invokes it, so compute-path and
navigate-to can reach the context without an explicit add-edge.

Returns: {success, context} or {success: false, error}`
}
func (t *AddContextTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"context_id": stringProp("Dot-delimited context identifier, e.g. dashboard.security"),
		"name":       stringProp("Human-readable name"),
		"parent":     stringProp("Parent context identifier"),
		"tools": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "Tools available in this context",
		},
		"enter_tool": stringProp("Tool that opens this context from its parent"),
		"enter_parameters": map[string]interface{}{
			"type":        "object",
			"description": "Parameters passed to enter_tool",
		},
	}, "context_id")
}
func (t *AddContextTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	id := getStringArg(args, "context_id")
	if id == "" {
		return nil, fmt.Errorf("context_id is required")
	}
	c := navigation.Context{
		ID:     id,
		Name:   getStringArg(args, "name"),
		Parent: getStringArg(args, "parent"),
		Tools:  getStringSliceArg(args, "tools"),
	}
	if tool := getStringArg(args, "enter_tool"); tool != "" {
		c.EnterAction = &navigation.EnterAction{ToolID: tool, Parameters: getMapArg(args, "enter_parameters")}
	}
	if err := t.graph.AddContext(c); err != nil {
		return failure(err), nil
	}
	stored, _ := t.graph.GetContext(id)
	return map[string]interface{}{"success": true, "context": stored}, nil
}

type AddEdgeTool struct {
	graph *navigation.Graph
}

func (t *AddEdgeTool) Name() string { return "add-edge" }
func (t *AddEdgeTool) Description() string {
	return `Add a directed transition between two known contexts, performed by invoking tool.
An edge with the same from, to and tool replaces the earlier one. Cost defaults to 1.`
}
func (t *AddEdgeTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"from": stringProp("Source context"),
		"to":   stringProp("Destination context"),
		"tool": stringProp("Tool invoked to perform the transition"),
		"cost": map[string]interface{}{
			"type":        "number",
			"description": "Non-negative traversal cost (default 1)",
		},
		"parameters": map[string]interface{}{
			"type":        "object",
			"description": "Parameters passed to the tool",
		},
	}, "from", "to", "tool")
}
func (t *AddEdgeTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	e := navigation.Edge{
		From:           getStringArg(args, "from"),
		To:             getStringArg(args, "to"),
		NavigationTool: getStringArg(args, "tool"),
		Parameters:     getMapArg(args, "parameters"),
		Cost:           1,
	}
	if e.From == "" || e.To == "" || e.NavigationTool == "" {
		return nil, fmt.Errorf("from, to and tool are required")
	}
	if c, present := getFloatArg(args, "cost"); present {
		e.Cost = c
	}
	if err := t.graph.AddEdge(e); err != nil {
		return failure(err), nil
	}
	return map[string]interface{}{"success": true, "edge": e}, nil
}

type ComputePathTool struct {
	graph        *navigation.Graph
	tracker      *navigation.Tracker
	defaultDepth int
}

func (t *ComputePathTool) Name() string { return "compute-path" }
func (t *ComputePathTool) Description() string {
	return `Compute the cheapest path between two contexts without performing it.

from defaults to the current context. Ties on cost prefer fewer steps.
avoid lists contexts the path must not pass through.

Returns: {found, path: {from, to, steps, total_cost, estimated_time}}`
}
func (t *ComputePathTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"from":      stringProp("Start context (default: current)"),
		"to":        stringProp("Destination context"),
		"max_depth": integerProp("Maximum number of steps"),
		"avoid": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "Contexts to route around",
		},
	}, "to")
}
func (t *ComputePathTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	to := getStringArg(args, "to")
	if to == "" {
		return nil, fmt.Errorf("to is required")
	}
	from := getStringArg(args, "from")
	if from == "" {
		from = t.tracker.Current()
	}
	opts := navigation.PathOptions{
		MaxDepth:      getIntArg(args, "max_depth", t.defaultDepth),
		AvoidContexts: getStringSliceArg(args, "avoid"),
	}
	path, ok := t.graph.ComputePath(from, to, opts)
	if !ok {
		return map[string]interface{}{"found": false, "from": from, "to": to}, nil
	}
	return map[string]interface{}{
		"found":             true,
		"path":              path,
		"estimated_time_ms": path.EstimatedTime.Milliseconds(),
	}, nil
}

type NavigateToTool struct {
	executor *navigation.Executor
}

func (t *NavigateToTool) Name() string { return "navigate-to" }
func (t *NavigateToTool) Description() string {
	return `Walk from the current context to a target context, or to the context that
owns a target tool.

Each step waits for the step's tool to become INTERACTABLE, invokes it, then
waits for the tracker to report the step's destination. The walk stops at the
first failing step.

Failure reasons: unknown target, no path, tool not ready, context did not
change, invocation failed, cancelled.

Returns: {success, run_id, status, reason, steps_completed, path, duration_ms}`
}
func (t *NavigateToTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"target": stringProp("Context ID or tool ID to reach"),
	}, "target")
}
func (t *NavigateToTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	target := getStringArg(args, "target")
	if target == "" {
		return nil, fmt.Errorf("target is required")
	}
	res := t.executor.NavigateTo(ctx, target)
	out := map[string]interface{}{
		"success":         res.Succeeded(),
		"run_id":          res.RunID,
		"status":          res.Status,
		"steps_completed": res.StepsCompleted,
		"duration_ms":     res.Duration.Milliseconds(),
	}
	if res.Reason != "" {
		out["reason"] = res.Reason
	}
	if res.Path != nil {
		out["path"] = res.Path
	}
	if res.Err != nil {
		out["error"] = res.Err.Error()
	}
	return out, nil
}
