package main

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"wayfinder-mcp-server/internal/browser"
	"wayfinder-mcp-server/internal/config"
	"wayfinder-mcp-server/internal/exposure"
	"wayfinder-mcp-server/internal/mangle"
	mcpserver "wayfinder-mcp-server/internal/mcp"
	"wayfinder-mcp-server/internal/metrics"
	"wayfinder-mcp-server/internal/navigation"
	"wayfinder-mcp-server/internal/recorder"
)

// app holds every long-lived component of the server.
type app struct {
	cfg      config.Config
	registry *exposure.Registry
	graph    *navigation.Graph
	tracker  *navigation.Tracker
	executor *navigation.Executor
	engine   *mangle.Engine
	sessions *browser.SessionManager
	binder   *browser.Binder
	routes   *browser.RouteTable
	recorder *recorder.Recorder
	watcher  *navigation.TopologyWatcher
	server   *mcpserver.Server

	closers []func()
}

func newApp(cfg config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, routes: &browser.RouteTable{}}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.registry = exposure.NewRegistry(exposure.Options{
		DefaultWaitTimeout: cfg.Exposure.WaitTimeout(),
		FrameInterval:      cfg.Exposure.Frame(),
		PollInterval:       cfg.Exposure.Poll(),
	})
	a.closers = append(a.closers, a.registry.Close)

	a.graph = navigation.NewGraph(navigation.GraphOptions{
		RootContext:   cfg.Navigation.GetRootContext(),
		StepLatency:   cfg.Navigation.PerStepLatency(),
		PathCacheSize: cfg.Navigation.PathCacheSize,
	})
	a.tracker = navigation.NewTracker(a.graph.Root())

	a.sessions = browser.NewSessionManager(cfg.Browser)
	a.binder = browser.NewBinder(a.sessions, a.registry, cfg.Exposure.Poll())
	a.executor = navigation.NewExecutor(a.graph, a.registry, a.tracker, browser.NewInvoker(a.binder), navigation.ExecutorOptions{
		StepTimeout:      cfg.Navigation.StepWait(),
		ToolReadyTimeout: cfg.Navigation.ToolReadyWait(),
		MaxDepth:         cfg.Navigation.GetMaxDepth(),
	})

	// URL routes are the strongest evidence, so they run before tool exposure.
	a.tracker.AddDetector("url-route", browser.RouteDetector(a.sessions, a.routes))
	a.tracker.AddDetector("tool-exposure", navigation.ToolExposureDetector(a.graph, a.registry))
	a.sessions.OnNavigate(func(string, string) { a.tracker.Detect() })

	if err = a.loadTopology(); err != nil {
		return nil, err
	}

	engine, err := mangle.NewEngine(cfg.Mangle)
	if err != nil {
		return nil, fmt.Errorf("initialize mangle engine: %w", err)
	}
	a.engine = engine
	if cfg.Mangle.Enable {
		a.closers = append(a.closers, mangle.NewBridge(engine, a.registry, a.tracker, a.executor).Close)
	}

	if cfg.Recorder.Enable {
		rec, err := recorder.NewRecorder(cfg.Recorder.TraceDir)
		if err != nil {
			return nil, fmt.Errorf("initialize recorder: %w", err)
		}
		if err := rec.Start(cfg.Server.Name); err != nil {
			return nil, fmt.Errorf("start recorder: %w", err)
		}
		a.recorder = rec
		a.closers = append(a.closers, rec.Attach(a.registry, a.tracker, a.executor), func() { _ = rec.Close() })
	}

	a.closers = append(a.closers, metrics.Attach(a.registry, a.tracker, a.executor))

	deps := mcpserver.Deps{
		Registry: a.registry,
		Graph:    a.graph,
		Tracker:  a.tracker,
		Executor: a.executor,
		Sessions: a.sessions,
		Binder:   a.binder,
	}
	if cfg.Mangle.Enable {
		deps.Engine = engine
	}
	server, err := mcpserver.NewServer(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("initialize MCP server: %w", err)
	}
	a.server = server
	return a, nil
}

// loadTopology applies the configured topology file and, when enabled, prepares a watcher
// that keeps the graph and URL routes in sync with it.
func (a *app) loadTopology() error {
	path := a.cfg.Navigation.TopologyFile
	if path == "" {
		return nil
	}

	onReload := func(t *navigation.Topology) {
		a.routes.Set(t.Routes)
		log.Printf("[navigation] topology: %d contexts, %d edges, %d routes", len(t.Contexts), len(t.Edges), len(t.Routes))
	}

	t, err := navigation.LoadTopology(path)
	if err != nil {
		return fmt.Errorf("load topology: %w", err)
	}
	if err := t.Apply(a.graph); err != nil {
		return fmt.Errorf("apply topology: %w", err)
	}
	onReload(t)

	if a.cfg.Navigation.WatchTopology {
		w, err := navigation.NewTopologyWatcher(path, a.graph, onReload)
		if err != nil {
			return fmt.Errorf("watch topology: %w", err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() { _ = w.Close() })
	}
	return nil
}

// run serves MCP and the background loops until ctx is cancelled or one of them fails.
func (a *app) run(ctx context.Context) error {
	if a.cfg.Browser.AutoStart {
		if err := a.sessions.Start(ctx); err != nil {
			return fmt.Errorf("start browser: %w", err)
		}
	} else {
		log.Printf("browser auto-start disabled; use launch-browser to start one")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// The background loops only live as long as the protocol server.
	g.Go(func() error {
		defer cancel()
		if port := a.cfg.MCP.SSEPort; port > 0 {
			log.Printf("starting Wayfinder MCP SSE server on port %d", port)
			return a.server.StartSSE(ctx, port)
		}
		log.Printf("starting Wayfinder MCP stdio server")
		return a.server.Start(ctx)
	})

	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		g.Go(func() error { return metrics.Serve(ctx, addr) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}
	if interval := a.cfg.Navigation.Detection(); interval > 0 {
		g.Go(func() error {
			a.tracker.RunDetection(ctx, interval)
			return nil
		})
	}

	return g.Wait()
}

// close releases components in reverse order of creation.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.sessions.IsConnected() {
		if err := a.sessions.Shutdown(context.Background()); err != nil {
			log.Printf("warning: browser shutdown: %v", err)
		}
	}
}
