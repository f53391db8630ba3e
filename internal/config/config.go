package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level Wayfinder config.
	WorkspaceDirName = ".wayfinder"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// WorkspaceTopologyFile is the topology template written by InitWorkspace.
	WorkspaceTopologyFile = "topology.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the Wayfinder MCP server.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Exposure   ExposureConfig   `yaml:"exposure"`
	Navigation NavigationConfig `yaml:"navigation"`
	Browser    BrowserConfig    `yaml:"browser"`
	MCP        MCPConfig        `yaml:"mcp"`
	Mangle     MangleConfig     `yaml:"mangle"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// ExposureConfig tunes the exposure registry and its observers.
type ExposureConfig struct {
	// Timeout used by waits that do not pass one (e.g., "5s").
	DefaultWaitTimeout string `yaml:"default_wait_timeout"`
	// Minimum spacing between classifications of one element (e.g., "16ms").
	FrameInterval string `yaml:"frame_interval"`
	// How often elements without change signals are re-read (e.g., "250ms").
	PollInterval string `yaml:"poll_interval"`
}

// NavigationConfig tunes the context graph, tracker and executor.
type NavigationConfig struct {
	// Context the tracker starts in and the source of parentless enter actions.
	RootContext string `yaml:"root_context"`
	// Hard cap on path length.
	MaxDepth int `yaml:"max_depth"`
	// How long a step waits for the expected context (e.g., "10s").
	StepTimeout string `yaml:"step_timeout"`
	// How long a step waits for its tool to become interactable (e.g., "5s").
	ToolReadyTimeout string `yaml:"tool_ready_timeout"`
	// Per-step latency used for path time estimates (e.g., "500ms").
	StepLatency string `yaml:"step_latency"`
	// Number of computed paths kept between graph mutations.
	PathCacheSize int `yaml:"path_cache_size"`
	// Optional YAML topology loaded at startup.
	TopologyFile string `yaml:"topology_file"`
	// Reload the topology file when it changes.
	WatchTopology bool `yaml:"watch_topology"`
	// How often context detectors run; empty disables background detection.
	DetectInterval string `yaml:"detect_interval"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the MCP server launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Viewport width for new sessions (default: 1920).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for new sessions (default: 1080).
	ViewportHeight int `yaml:"viewport_height"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// MangleConfig controls the embedded deductive engine.
type MangleConfig struct {
	Enable          bool   `yaml:"enable"`
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// RecorderConfig controls the JSONL flight recorder.
type RecorderConfig struct {
	Enable   bool   `yaml:"enable"`
	TraceDir string `yaml:"trace_dir"`
}

// MetricsConfig controls the Prometheus listener. Counters update even when it is off.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "wayfinder-mcp",
			Version: "0.1.0",
			LogFile: "wayfinder-mcp.log",
		},
		Exposure: ExposureConfig{
			DefaultWaitTimeout: "5s",
			FrameInterval:      "16ms",
			PollInterval:       "250ms",
		},
		Navigation: NavigationConfig{
			RootContext:      "global",
			MaxDepth:         10,
			StepTimeout:      "10s",
			ToolReadyTimeout: "5s",
			StepLatency:      "500ms",
			PathCacheSize:    256,
		},
		Browser: BrowserConfig{
			AutoStart:                false,
			DefaultNavigationTimeout: "15s",
			ViewportWidth:            1920,
			ViewportHeight:           1080,
		},
		Mangle: MangleConfig{
			Enable:          true,
			SchemaPath:      "schemas/wayfinder.mg",
			FactBufferLimit: 4096,
		},
		Recorder: RecorderConfig{
			Enable:   false,
			TraceDir: "traces",
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .wayfinder/config.yaml file.
// Returns the workspace root directory (parent of .wayfinder/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace merges, in order of increasing precedence:
//
//	DefaultConfig() <- .wayfinder/config.yaml <- explicit --config
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, err := os.Getwd()
			if err != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", err)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

const workspaceConfigTemplate = `# Wayfinder project-level configuration
# Values here override defaults but are overridden by --config.

navigation:
  topology_file: "topology.yaml"
  watch_topology: true

# exposure:
#   default_wait_timeout: "5s"

# browser:
#   auto_start: true
#   launch: ["chromium"]
#   headless: false

# metrics:
#   listen_addr: "127.0.0.1:9464"
`

const workspaceTopologyTemplate = `# Contexts, edges and URL routes for the application under test.
root: global
contexts: []
#  - id: dashboard
#    tools: [open-settings]
#    enter_action:
#      tool_id: open-dashboard
edges: []
#  - from: dashboard
#    to: settings
#    tool: open-settings
#    cost: 1
routes: []
#  - prefix: /dashboard
#    context: dashboard
`

// InitWorkspace creates a .wayfinder/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "traces"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	files := map[string]string{
		WorkspaceConfigFile:   workspaceConfigTemplate,
		WorkspaceTopologyFile: workspaceTopologyTemplate,
		".gitignore":          "# Runtime data - do not version control\ntraces/\n*.log\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(wsDir, name), []byte(content), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the .wayfinder
// directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	base := filepath.Join(wsDir, WorkspaceDirName)
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Navigation.TopologyFile = resolve(cfg.Navigation.TopologyFile)
	cfg.Recorder.TraceDir = resolve(cfg.Recorder.TraceDir)
	return cfg
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Navigation.MaxDepth < 0 {
		return errors.New("navigation.max_depth must not be negative")
	}
	if c.Navigation.PathCacheSize < 0 {
		return errors.New("navigation.path_cache_size must not be negative")
	}
	if c.Navigation.WatchTopology && c.Navigation.TopologyFile == "" {
		return errors.New("navigation.watch_topology requires navigation.topology_file")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	if c.Recorder.Enable && c.Recorder.TraceDir == "" {
		return errors.New("recorder.trace_dir is required when the recorder is enabled")
	}
	return nil
}

// parseDuration returns fallback when raw is empty, malformed or not positive.
func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// WaitTimeout returns the default wait timeout.
func (e ExposureConfig) WaitTimeout() time.Duration {
	return parseDuration(e.DefaultWaitTimeout, 5*time.Second)
}

// Frame returns the observer frame interval.
func (e ExposureConfig) Frame() time.Duration {
	return parseDuration(e.FrameInterval, 16*time.Millisecond)
}

// Poll returns the polling interval for elements without change signals.
func (e ExposureConfig) Poll() time.Duration {
	return parseDuration(e.PollInterval, 250*time.Millisecond)
}

func (n NavigationConfig) GetRootContext() string {
	if n.RootContext == "" {
		return "global"
	}
	return n.RootContext
}

func (n NavigationConfig) GetMaxDepth() int {
	if n.MaxDepth <= 0 {
		return 10
	}
	return n.MaxDepth
}

func (n NavigationConfig) StepWait() time.Duration {
	return parseDuration(n.StepTimeout, 10*time.Second)
}

func (n NavigationConfig) ToolReadyWait() time.Duration {
	return parseDuration(n.ToolReadyTimeout, 5*time.Second)
}

func (n NavigationConfig) PerStepLatency() time.Duration {
	return parseDuration(n.StepLatency, 500*time.Millisecond)
}

// Detection returns the background detection interval, or 0 when disabled.
func (n NavigationConfig) Detection() time.Duration {
	return parseDuration(n.DetectInterval, 0)
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 15*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}
