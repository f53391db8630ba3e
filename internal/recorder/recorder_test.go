package recorder

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wayfinder-mcp-server/internal/exposure"
	"wayfinder-mcp-server/internal/navigation"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			t.Fatalf("bad line %q: %v", scanner.Text(), err)
		}
		events = append(events, evt)
	}
	return events
}

func TestRecorderRotation(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.jsonl"), []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := NewRecorder(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var last string
	for i := 0; i < MaxRotatedFiles+2; i++ {
		if err := r.Start("run"); err != nil {
			t.Fatal(err)
		}
		r.Log(EventContext, "dashboard", map[string]string{"msg": "hello"})
		last = r.Path()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	traces := 0
	foundLast := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tracePrefix) {
			traces++
		}
		if filepath.Join(dir, e.Name()) == last {
			foundLast = true
		}
	}
	if traces != MaxRotatedFiles {
		t.Errorf("expected %d traces, got %d", MaxRotatedFiles, traces)
	}
	if !foundLast {
		t.Error("newest trace was rotated away")
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.jsonl")); err != nil {
		t.Error("rotation removed a file it does not own")
	}
}

func TestRecorderLogBeforeStart(t *testing.T) {
	r, err := NewRecorder(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	r.Log(EventState, "save-btn", nil)
	if r.Path() != "" {
		t.Error("expected no trace before Start")
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close without Start: %v", err)
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "session"},
		{"run-1_a", "run-1_a"},
		{"../etc/passwd", "---etc-passwd"},
		{"a b", "a-b"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := sanitize(tt.in); got != tt.want {
				t.Errorf("sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRecorderAttach(t *testing.T) {
	r, err := NewRecorder(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Start("attach"); err != nil {
		t.Fatal(err)
	}

	registry := exposure.NewRegistry(exposure.Options{})
	tracker := navigation.NewTracker("global")
	detach := r.Attach(registry, tracker, nil)

	registry.RegisterTool("save-btn", nil, nil)
	registry.UpdateToolState("save-btn", exposure.Visible, nil)
	tracker.SetCurrentContext("dashboard")

	detach()
	tracker.SetCurrentContext("global")

	path := r.Path()
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	events := readEvents(t, path)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	if events[0].Type != EventState || events[0].Subject != "save-btn" {
		t.Errorf("unexpected first event %+v", events[0])
	}
	if events[1].Type != EventContext || events[1].Subject != "dashboard" {
		t.Errorf("unexpected second event %+v", events[1])
	}
}
