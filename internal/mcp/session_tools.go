package mcp

import (
	"context"
	"fmt"

	"wayfinder-mcp-server/internal/browser"
)

type ListSessionsTool struct {
	sessions *browser.SessionManager
}

func (t *ListSessionsTool) Name() string { return "list-sessions" }
func (t *ListSessionsTool) Description() string {
	return `List the browser sessions tools can be bound to.
Returns: {sessions: [{id, target_id, url, status}]}`
}
func (t *ListSessionsTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{})
}
func (t *ListSessionsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"sessions": t.sessions.List()}, nil
}

type CreateSessionTool struct {
	sessions *browser.SessionManager
}

func (t *CreateSessionTool) Name() string { return "create-session" }
func (t *CreateSessionTool) Description() string {
	return `Open a new page in an isolated browser context.

PREREQUISITE: launch-browser.

WORKFLOW:
1. launch-browser
2. create-session (optional starting URL)
3. bind-tool for each control the agent relies on
4. navigate-to / wait-for-tool

Returns: {session: {id, url}}`
}
func (t *CreateSessionTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"url": stringProp("Optional URL to open"),
	})
}
func (t *CreateSessionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	url := getStringArg(args, "url")
	if url == "" {
		url = "about:blank"
	}
	sess, err := t.sessions.CreateSession(ctx, url)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"session": sess}, nil
}

type AttachSessionTool struct {
	sessions *browser.SessionManager
}

func (t *AttachSessionTool) Name() string { return "attach-session" }
func (t *AttachSessionTool) Description() string {
	return `Attach to an existing Chrome tab by its CDP TargetID instead of opening a new one.`
}
func (t *AttachSessionTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"target_id": stringProp("CDP TargetID to attach"),
	}, "target_id")
}
func (t *AttachSessionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	targetID := getStringArg(args, "target_id")
	if targetID == "" {
		return nil, fmt.Errorf("target_id is required")
	}
	sess, err := t.sessions.Attach(ctx, targetID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"session": sess}, nil
}

// LaunchBrowserTool starts or connects to Chrome using the configured launch command.
type LaunchBrowserTool struct {
	sessions *browser.SessionManager
}

func (t *LaunchBrowserTool) Name() string { return "launch-browser" }
func (t *LaunchBrowserTool) Description() string {
	return `Start Chrome (or connect to browser.debugger_url). Idempotent.
Returns: {status: "started"|"already_connected", control_url}`
}
func (t *LaunchBrowserTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{})
}
func (t *LaunchBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.sessions.IsConnected() {
		return map[string]interface{}{
			"status":      "already_connected",
			"control_url": t.sessions.ControlURL(),
		}, nil
	}
	if err := t.sessions.Start(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":      "started",
		"control_url": t.sessions.ControlURL(),
	}, nil
}

// ShutdownBrowserTool stops Chrome. Bound tools fall back to NOT_PRESENT.
type ShutdownBrowserTool struct {
	sessions *browser.SessionManager
	binder   *browser.Binder
}

func (t *ShutdownBrowserTool) Name() string { return "shutdown-browser" }
func (t *ShutdownBrowserTool) Description() string {
	return `Close every session and stop Chrome. Tools bound to those sessions are unbound
and report NOT_PRESENT; the registry and navigation graph are kept.`
}
func (t *ShutdownBrowserTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{})
}
func (t *ShutdownBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	unbound := 0
	if t.binder != nil {
		for _, s := range t.sessions.List() {
			unbound += t.binder.UnbindSession(s.ID)
		}
	}
	if err := t.sessions.Shutdown(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "stopped", "unbound_tools": unbound}, nil
}

type BindToolTool struct {
	binder *browser.Binder
}

func (t *BindToolTool) Name() string { return "bind-tool" }
func (t *BindToolTool) Description() string {
	return `Bind a tool to the element matching a CSS selector in a session.

The tool is registered if needed and its state then follows the element:
NOT_PRESENT when missing, PRESENT when hidden or off-screen, VISIBLE when
disabled, EXPOSED when busy, INTERACTABLE otherwise. navigate-to clicks the
bound element when the tool is used as a step.

Returns: {success, binding, tool}`
}
func (t *BindToolTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"session_id": stringProp("Session whose page holds the element"),
		"tool_id":    stringProp("Tool identifier"),
		"selector":   stringProp("CSS selector of the element"),
	}, "session_id", "tool_id", "selector")
}
func (t *BindToolTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	toolID := getStringArg(args, "tool_id")
	selector := getStringArg(args, "selector")
	if sessionID == "" || toolID == "" || selector == "" {
		return nil, fmt.Errorf("session_id, tool_id and selector are required")
	}
	if err := t.binder.Bind(sessionID, toolID, selector); err != nil {
		return failure(err), nil
	}
	binding, _ := t.binder.Lookup(toolID)
	return map[string]interface{}{"success": true, "binding": binding}, nil
}
