package recorder

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"wayfinder-mcp-server/internal/exposure"
	"wayfinder-mcp-server/internal/navigation"
)

const (
	MaxRotatedFiles = 3
	TraceDir        = "traces"
	tracePrefix     = "trace_"
)

// Event types written to a trace.
const (
	EventState   = "state"
	EventContext = "context"
	EventStep    = "step"
	EventResult  = "result"
)

// Event is one line of a trace file.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	Subject   string      `json:"subject,omitempty"`
	Data      interface{} `json:"data"`
}

// Recorder writes exposure and navigation events to rotating JSONL traces.
type Recorder struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	basePath string
	current  string
}

// NewRecorder ensures basePath exists. An empty basePath uses TraceDir.
func NewRecorder(basePath string) (*Recorder, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	return &Recorder{basePath: basePath}, nil
}

// Start closes the current trace, prunes old ones and opens a new file named after label.
func (r *Recorder) Start(label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file, r.encoder = nil, nil
	}

	if err := r.rotate(); err != nil {
		return fmt.Errorf("rotate traces: %w", err)
	}

	name := fmt.Sprintf("%s%d_%s.jsonl", tracePrefix, time.Now().UnixNano(), sanitize(label))
	path := filepath.Join(r.basePath, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trace: %w", err)
	}

	r.file = f
	r.encoder = json.NewEncoder(f)
	r.current = path
	return nil
}

// Path returns the file currently being written, or "".
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return ""
	}
	return r.current
}

// Log appends an event. It is a no-op before Start.
func (r *Recorder) Log(eventType, subject string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return
	}
	evt := Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Subject:   subject,
		Data:      data,
	}
	if err := r.encoder.Encode(evt); err != nil {
		log.Printf("[recorder] warning: failed to write %s event: %v", eventType, err)
	}
}

// Attach records events from whichever sources are non-nil. The returned func removes every
// subscription.
func (r *Recorder) Attach(registry *exposure.Registry, tracker *navigation.Tracker, executor *navigation.Executor) func() {
	var detach []func()
	if registry != nil {
		detach = append(detach, registry.Subscribe(func(evt exposure.StateChangeEvent) {
			r.Log(EventState, evt.ToolID, evt)
		}))
	}
	if tracker != nil {
		detach = append(detach, tracker.Subscribe(func(c navigation.ContextChange) {
			r.Log(EventContext, c.To, c)
		}))
	}
	if executor != nil {
		detach = append(detach,
			executor.OnStep(func(evt navigation.StepEvent) {
				r.Log(EventStep, evt.RunID, evt)
			}),
			executor.OnResult(func(res navigation.Result) {
				r.Log(EventResult, res.RunID, res)
			}),
		)
	}
	return func() {
		for _, fn := range detach {
			fn()
		}
	}
}

// rotate keeps the newest MaxRotatedFiles-1 traces so the next one fits. Trace names embed
// their creation time, so lexical order is age order.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return err
	}

	var traces []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), tracePrefix) || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		traces = append(traces, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(traces)))

	keep := max(MaxRotatedFiles-1, 0)
	for i := keep; i < len(traces); i++ {
		if err := os.Remove(filepath.Join(r.basePath, traces[i])); err != nil {
			log.Printf("[recorder] warning: failed to remove %s: %v", traces[i], err)
		}
	}
	return nil
}

func sanitize(label string) string {
	if label == "" {
		return "session"
	}
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			return c
		}
		return '-'
	}, label)
}

// Close finishes the current trace.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file, r.encoder = nil, nil
	return err
}
