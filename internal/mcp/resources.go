package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wayfinder-mcp-server/internal/exposure"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"wayfinder://about",
			"Wayfinder About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info, tool names and the exposure state ladder."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResource(
		mcp.NewResource(
			"wayfinder://contexts",
			"Navigation Graph",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Every context, the current context and the outgoing edges of each."),
		),
		s.handleContextsResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"wayfinder://tool/{toolId}",
			"Tool State",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Current exposure state and metadata of one tool."),
		),
		s.handleToolResource,
	)
}

func jsonContents(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	states := make([]string, 0, 5)
	for _, st := range exposure.AllStates() {
		states = append(states, st.String())
	}
	return jsonContents(request.Params.URI, map[string]interface{}{
		"name":         s.cfg.Server.Name,
		"version":      s.cfg.Server.Version,
		"states":       states,
		"tools":        s.ToolNames(),
		"timestamp_ms": time.Now().UnixMilli(),
	})
}

func (s *Server) handleContextsResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload, err := (&ListContextsTool{graph: s.deps.Graph, tracker: s.deps.Tracker}).Execute(ctx, nil)
	if err != nil {
		return nil, err
	}
	return jsonContents(request.Params.URI, payload)
}

func (s *Server) handleToolResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	toolID := argString(request.Params.Arguments["toolId"])
	if toolID == "" {
		return nil, fmt.Errorf("missing toolId")
	}
	ts, ok := s.deps.Registry.GetToolState(toolID)
	if !ok {
		return nil, fmt.Errorf("tool %q is not registered", toolID)
	}
	return jsonContents(request.Params.URI, ts)
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}
