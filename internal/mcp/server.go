package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"wayfinder-mcp-server/internal/browser"
	"wayfinder-mcp-server/internal/config"
	"wayfinder-mcp-server/internal/exposure"
	"wayfinder-mcp-server/internal/mangle"
	"wayfinder-mcp-server/internal/navigation"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Deps are the components tools operate on. Browser and fact tools are only registered
// when Sessions and Engine are set.
type Deps struct {
	Registry *exposure.Registry
	Graph    *navigation.Graph
	Tracker  *navigation.Tracker
	Executor *navigation.Executor
	Engine   *mangle.Engine
	Sessions *browser.SessionManager
	Binder   *browser.Binder
}

// Server exposes the registry, graph and executor as MCP tools.
type Server struct {
	cfg       config.Config
	deps      Deps
	tools     map[string]Tool
	mcpServer *mcpserver.MCPServer
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

func NewServer(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Registry == nil || deps.Graph == nil || deps.Tracker == nil || deps.Executor == nil {
		return nil, fmt.Errorf("registry, graph, tracker and executor are required")
	}

	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithRecovery(),
	)

	server := &Server{
		cfg:       cfg,
		deps:      deps,
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
	}
	server.registerAllTools()
	server.registerAllResources()
	return server, nil
}

// Start serves over stdio.
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE hosts the server over HTTP using SSE endpoints and shuts down with ctx.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Printf("[mcp] SSE server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool runs a tool directly, bypassing the protocol.
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return tool.Execute(ctx, args)
}

// ToolNames lists registered tools in name order.
func (s *Server) ToolNames() []string {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) registerAllTools() {
	d := s.deps
	waitDefault := s.cfg.Exposure.WaitTimeout()
	contextWait := s.cfg.Navigation.StepWait()

	// Exposure
	s.registerTool(&ListToolsTool{registry: d.Registry})
	s.registerTool(&GetToolStateTool{registry: d.Registry})
	s.registerTool(&WaitForToolTool{registry: d.Registry, defaultTimeout: waitDefault})
	s.registerTool(&RegisterToolTool{registry: d.Registry})
	s.registerTool(&UpdateToolStateTool{registry: d.Registry})
	s.registerTool(&UnregisterToolTool{registry: d.Registry, binder: d.Binder})

	// Contexts and navigation
	s.registerTool(&GetContextTool{tracker: d.Tracker})
	s.registerTool(&SetContextTool{tracker: d.Tracker, graph: d.Graph})
	s.registerTool(&WaitForContextTool{tracker: d.Tracker, defaultTimeout: contextWait})
	s.registerTool(&ListContextsTool{graph: d.Graph, tracker: d.Tracker})
	s.registerTool(&AddContextTool{graph: d.Graph})
	s.registerTool(&AddEdgeTool{graph: d.Graph})
	s.registerTool(&ComputePathTool{graph: d.Graph, tracker: d.Tracker, defaultDepth: s.cfg.Navigation.GetMaxDepth()})
	s.registerTool(&NavigateToTool{executor: d.Executor})

	if d.Sessions != nil {
		s.registerTool(&LaunchBrowserTool{sessions: d.Sessions})
		s.registerTool(&CreateSessionTool{sessions: d.Sessions})
		s.registerTool(&AttachSessionTool{sessions: d.Sessions})
		s.registerTool(&ListSessionsTool{sessions: d.Sessions})
		s.registerTool(&ShutdownBrowserTool{sessions: d.Sessions, binder: d.Binder})
	}
	if d.Binder != nil {
		s.registerTool(&BindToolTool{binder: d.Binder})
	}

	if d.Engine != nil {
		s.registerTool(&QueryFactsTool{engine: d.Engine})
		s.registerTool(&ReadFactsTool{engine: d.Engine})
		s.registerTool(&EvaluateRuleTool{engine: d.Engine})
		s.registerTool(&SubmitRuleTool{engine: d.Engine})
	}
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("tool %s failed: %v", tool.Name(), err))},
				IsError: true,
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(marshalToolPayload(tool.Name(), result)))},
		}, nil
	}
}

func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		return payload
	}

	fallback := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf("tool %s returned non-serializable payload: %v", toolName, marshalErr),
	}
	if payload, err := json.Marshal(fallback); err == nil {
		return payload
	}
	return []byte(fmt.Sprintf(`{"success":false,"error":"tool %s failed to encode payload"}`, toolName))
}
