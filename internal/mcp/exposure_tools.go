package mcp

import (
	"context"
	"fmt"
	"time"

	"wayfinder-mcp-server/internal/browser"
	"wayfinder-mcp-server/internal/exposure"
	"wayfinder-mcp-server/internal/metrics"
)

type ListToolsTool struct {
	registry *exposure.Registry
}

func (t *ListToolsTool) Name() string { return "list-tools" }
func (t *ListToolsTool) Description() string {
	return `List every registered tool with its exposure state.

States, from least to most available:
NOT_PRESENT < PRESENT < VISIBLE < EXPOSED < INTERACTABLE

Optional min_state filters out tools below that level.

Returns: {tools: [{tool_id, state, last_update, metadata}], count}`
}
func (t *ListToolsTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"min_state": stringProp("Only include tools at or above this state"),
	})
}
func (t *ListToolsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	minState := exposure.NotPresent
	if raw := getStringArg(args, "min_state"); raw != "" {
		parsed, err := exposure.ParseState(raw)
		if err != nil {
			return failure(err), nil
		}
		minState = parsed
	}

	all := t.registry.GetAllTools()
	tools := make([]exposure.ToolState, 0, len(all))
	for _, ts := range all {
		if ts.State.AtLeast(minState) {
			tools = append(tools, ts)
		}
	}
	return map[string]interface{}{"tools": tools, "count": len(tools)}, nil
}

type GetToolStateTool struct {
	registry *exposure.Registry
}

func (t *GetToolStateTool) Name() string { return "get-tool-state" }
func (t *GetToolStateTool) Description() string {
	return `Read the current exposure state of one tool. Returns {found, tool}.`
}
func (t *GetToolStateTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"tool_id": stringProp("Tool identifier"),
	}, "tool_id")
}
func (t *GetToolStateTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	toolID := getStringArg(args, "tool_id")
	if toolID == "" {
		return nil, fmt.Errorf("tool_id is required")
	}
	ts, ok := t.registry.GetToolState(toolID)
	if !ok {
		return map[string]interface{}{"found": false, "tool_id": toolID}, nil
	}
	return map[string]interface{}{"found": true, "tool": ts}, nil
}

type WaitForToolTool struct {
	registry       *exposure.Registry
	defaultTimeout time.Duration
}

func (t *WaitForToolTool) Name() string { return "wait-for-tool" }
func (t *WaitForToolTool) Description() string {
	return `Block until a tool reaches at least the given state, or the timeout elapses.

WHEN TO USE:
- Before clicking something that appears after an animation or request
- After navigating, to confirm the destination's controls are ready

Returns immediately when the tool already satisfies the state. Waiting on a tool
that is not registered yet is allowed: it resolves once the tool is registered
and reaches the state.

Returns: {reached, state, waited_ms}`
}
func (t *WaitForToolTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"tool_id":    stringProp("Tool identifier"),
		"state":      stringProp("Target state (default INTERACTABLE)"),
		"timeout_ms": integerProp("Maximum wait in milliseconds"),
	}, "tool_id")
}
func (t *WaitForToolTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	toolID := getStringArg(args, "tool_id")
	if toolID == "" {
		return nil, fmt.Errorf("tool_id is required")
	}
	target := exposure.Interactable
	if raw := getStringArg(args, "state"); raw != "" {
		parsed, err := exposure.ParseState(raw)
		if err != nil {
			return failure(err), nil
		}
		target = parsed
	}

	start := time.Now()
	reached := t.registry.WaitForState(ctx, toolID, target, getTimeoutArg(args, "timeout_ms", t.defaultTimeout))
	metrics.RecordWait(metrics.WaitTool, reached)

	result := map[string]interface{}{
		"reached":   reached,
		"tool_id":   toolID,
		"target":    target,
		"waited_ms": time.Since(start).Milliseconds(),
	}
	if ts, ok := t.registry.GetToolState(toolID); ok {
		result["state"] = ts.State
	}
	return result, nil
}

type RegisterToolTool struct {
	registry *exposure.Registry
}

func (t *RegisterToolTool) Name() string { return "register-tool" }
func (t *RegisterToolTool) Description() string {
	return `Register a tool without binding it to a page element. Its state is then driven
by update-tool-state. Use bind-tool instead when a browser session is available.`
}
func (t *RegisterToolTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"tool_id": stringProp("Tool identifier"),
		"reason":  stringProp("Optional note stored in the tool metadata"),
	}, "tool_id")
}
func (t *RegisterToolTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	toolID := getStringArg(args, "tool_id")
	if toolID == "" {
		return nil, fmt.Errorf("tool_id is required")
	}
	var meta *exposure.Metadata
	if reason := getStringArg(args, "reason"); reason != "" {
		meta = &exposure.Metadata{Reason: reason}
	}
	t.registry.RegisterTool(toolID, nil, meta)
	ts, _ := t.registry.GetToolState(toolID)
	return map[string]interface{}{"success": true, "tool": ts}, nil
}

type UpdateToolStateTool struct {
	registry *exposure.Registry
}

func (t *UpdateToolStateTool) Name() string { return "update-tool-state" }
func (t *UpdateToolStateTool) Description() string {
	return `Set a registered tool's state by hand.

WHEN TO USE:
- Tools without a bound element (registered via register-tool)
- Overriding an observation the page does not expose (e.g. a modal overlay)

Unknown tools are ignored. Blockers replace the current list; pass [] to clear.

Returns: {success, changed, tool}`
}
func (t *UpdateToolStateTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"tool_id": stringProp("Tool identifier"),
		"state":   stringProp("New state"),
		"reason":  stringProp("Why the tool is in this state"),
		"blockers": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "Conditions preventing interaction",
		},
		"confidence": map[string]interface{}{
			"type":        "number",
			"description": "Confidence in the state, 0..1",
		},
	}, "tool_id", "state")
}
func (t *UpdateToolStateTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	toolID := getStringArg(args, "tool_id")
	if toolID == "" {
		return nil, fmt.Errorf("tool_id is required")
	}
	rawState := getStringArg(args, "state")
	if rawState == "" {
		return nil, fmt.Errorf("state is required")
	}
	state, err := exposure.ParseState(rawState)
	if err != nil {
		return failure(err), nil
	}

	before, ok := t.registry.GetToolState(toolID)
	if !ok {
		return failure(fmt.Errorf("tool %q is not registered", toolID)), nil
	}

	meta := &exposure.Metadata{Reason: getStringArg(args, "reason")}
	if _, present := args["blockers"]; present {
		meta.Blockers = getStringSliceArg(args, "blockers")
		if meta.Blockers == nil {
			meta.Blockers = []string{}
		}
	}
	if c, present := getFloatArg(args, "confidence"); present {
		meta.Confidence = &c
	}

	t.registry.UpdateToolState(toolID, state, meta)
	after, _ := t.registry.GetToolState(toolID)
	return map[string]interface{}{
		"success": true,
		"changed": before.State != after.State,
		"tool":    after,
	}, nil
}

type UnregisterToolTool struct {
	registry *exposure.Registry
	binder   *browser.Binder
}

func (t *UnregisterToolTool) Name() string { return "unregister-tool" }
func (t *UnregisterToolTool) Description() string {
	return `Remove a tool from the registry, releasing any bound element. Pending waits on
it time out normally.`
}
func (t *UnregisterToolTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"tool_id": stringProp("Tool identifier"),
	}, "tool_id")
}
func (t *UnregisterToolTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	toolID := getStringArg(args, "tool_id")
	if toolID == "" {
		return nil, fmt.Errorf("tool_id is required")
	}
	_, existed := t.registry.GetToolState(toolID)
	if t.binder != nil {
		t.binder.Unbind(toolID)
	}
	t.registry.UnregisterTool(toolID)
	return map[string]interface{}{"success": true, "existed": existed}, nil
}
