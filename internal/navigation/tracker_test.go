package navigation

import (
	"context"
	"reflect"
	"testing"
	"time"

	"wayfinder-mcp-server/internal/exposure"
)

func TestTrackerDefaultsToRoot(t *testing.T) {
	if got := NewTracker("").Current(); got != DefaultRootContext {
		t.Errorf("Current() = %q, want %q", got, DefaultRootContext)
	}
}

func TestTrackerSetAndSubscribe(t *testing.T) {
	tr := NewTracker("global")

	var changes []ContextChange
	unsubscribe := tr.Subscribe(func(c ContextChange) { changes = append(changes, c) })

	tr.SetCurrentContext("dashboard")
	tr.SetCurrentContext("dashboard")
	tr.SetCurrentContext("")
	tr.SetCurrentContext("dashboard.security")

	if tr.Current() != "dashboard.security" || tr.Previous() != "dashboard" {
		t.Errorf("current=%q previous=%q", tr.Current(), tr.Previous())
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	if changes[0].From != "global" || changes[0].To != "dashboard" || changes[0].Source != "manual" {
		t.Errorf("unexpected first change %+v", changes[0])
	}

	unsubscribe()
	unsubscribe()
	tr.SetCurrentContext("global")
	if len(changes) != 2 {
		t.Error("listener called after unsubscribe")
	}
	if n := len(tr.History()); n != 3 {
		t.Errorf("history length = %d, want 3", n)
	}
}

func TestWaitForContextChange(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		setTo   string
		timeout time.Duration
		want    bool
	}{
		{"already there", "global", "", 50 * time.Millisecond, true},
		{"reached", "settings", "settings", time.Second, true},
		{"times out", "settings", "other", 100 * time.Millisecond, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker("global")
			if tt.setTo != "" {
				time.AfterFunc(20*time.Millisecond, func() { tr.SetCurrentContext(tt.setTo) })
			}

			start := time.Now()
			got := tr.WaitForContextChange(context.Background(), tt.target, tt.timeout)
			elapsed := time.Since(start)

			if got != tt.want {
				t.Errorf("WaitForContextChange = %v, want %v", got, tt.want)
			}
			if !tt.want && (elapsed < tt.timeout || elapsed >= tt.timeout+50*time.Millisecond) {
				t.Errorf("timeout took %v", elapsed)
			}

			tr.mu.RLock()
			leaked := len(tr.subs)
			tr.mu.RUnlock()
			if leaked != 0 {
				t.Errorf("wait left %d listeners behind", leaked)
			}
		})
	}
}

func TestDetectorsRunInOrder(t *testing.T) {
	tr := NewTracker("global")
	tr.AddDetector("never", func() (string, bool) { return "", false })
	tr.AddDetector("route", func() (string, bool) { return "settings", true })
	tr.AddDetector("later", func() (string, bool) { return "other", true })

	got, ok := tr.Detect()
	if !ok || got != "settings" {
		t.Fatalf("Detect() = %q, %v", got, ok)
	}
	hist := tr.History()
	if len(hist) != 1 || hist[0].Source != "route" {
		t.Errorf("history = %+v", hist)
	}
}

func TestToolExposureDetector(t *testing.T) {
	g := NewGraph(GraphOptions{})
	mustAddContext(t, g, Context{ID: "dashboard", Tools: []string{"nav"}})
	mustAddContext(t, g, Context{ID: "dashboard.security", Parent: "dashboard", Tools: []string{"rotate-keys", "audit-log"}})

	reg := exposure.NewRegistry(exposure.Options{})
	for _, id := range []string{"nav", "rotate-keys", "audit-log"} {
		reg.RegisterTool(id, nil, nil)
	}
	detect := ToolExposureDetector(g, reg)

	if _, ok := detect(); ok {
		t.Fatal("expected no match while nothing is visible")
	}

	reg.UpdateToolState("nav", exposure.Interactable, nil)
	reg.UpdateToolState("rotate-keys", exposure.Visible, nil)
	if got, _ := detect(); got != "dashboard" {
		t.Errorf("expected dashboard while audit-log is hidden, got %q", got)
	}

	reg.UpdateToolState("audit-log", exposure.Exposed, nil)
	if got, _ := detect(); got != "dashboard.security" {
		t.Errorf("expected the deeper context, got %q", got)
	}

	var seen []string
	tr := NewTracker("global")
	tr.Subscribe(func(c ContextChange) { seen = append(seen, c.To) })
	tr.AddDetector("exposure", detect)
	tr.Detect()
	if !reflect.DeepEqual(seen, []string{"dashboard.security"}) {
		t.Errorf("seen = %v", seen)
	}
}
