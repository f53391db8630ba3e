package exposure

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestRegisterWithoutElementStartsNotPresent(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()

	var log eventLog
	r.Subscribe(log.record)

	r.RegisterTool("save-btn", nil, nil)

	st, ok := r.GetToolState("save-btn")
	if !ok {
		t.Fatal("expected tool to be registered")
	}
	if st.State != NotPresent {
		t.Errorf("expected NOT_PRESENT, got %s", st.State)
	}
	if st.HasElement() {
		t.Error("expected no element")
	}
	if st.Metadata == nil || st.Metadata.Reason != "no element" {
		t.Errorf("unexpected metadata %+v", st.Metadata)
	}
	if n := len(log.all()); n != 0 {
		t.Errorf("expected no events for NOT_PRESENT registration, got %d", n)
	}
}

func TestRegisterWithElementClassifiesSynchronously(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()

	var log eventLog
	r.Subscribe(log.record)

	r.RegisterTool("save-btn", newFakeElement(visibleFacts()), nil)

	st, _ := r.GetToolState("save-btn")
	if st.State != Interactable {
		t.Fatalf("expected INTERACTABLE immediately, got %s", st.State)
	}
	want := [][2]State{{NotPresent, Interactable}}
	if got := log.transitions(); !reflect.DeepEqual(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestRegisterIgnoresEmptyID(t *testing.T) {
	r := NewRegistry(Options{})
	r.RegisterTool("  ", nil, nil)
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d tools", r.Len())
	}
}

func TestReRegisterReplacesAndEmitsDelta(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()

	first := newFakeElement(visibleFacts())
	r.RegisterTool("tool", first, nil)

	var log eventLog
	r.SubscribeTool("tool", log.record)

	disabled := visibleFacts()
	disabled.Disabled = true
	r.RegisterTool("tool", newFakeElement(disabled), nil)

	want := [][2]State{{Interactable, Visible}}
	if got := log.transitions(); !reflect.DeepEqual(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
	if first.listeners() != 0 {
		t.Errorf("expected previous element to be released, %d listeners remain", first.listeners())
	}
}

func TestUpdateToolStateIsIdempotent(t *testing.T) {
	r := NewRegistry(Options{})
	r.RegisterTool("tool", nil, nil)

	var log eventLog
	r.Subscribe(log.record)

	r.UpdateToolState("tool", Visible, nil)
	r.UpdateToolState("tool", Visible, nil)

	if n := len(log.all()); n != 1 {
		t.Errorf("expected exactly one event, got %d", n)
	}
}

func TestUpdateToolStateIgnoresUnknownAndInvalid(t *testing.T) {
	r := NewRegistry(Options{})
	r.RegisterTool("tool", nil, nil)

	var log eventLog
	r.Subscribe(log.record)

	r.UpdateToolState("missing", Visible, nil)
	r.UpdateToolState("tool", State(42), nil)

	if n := len(log.all()); n != 0 {
		t.Errorf("expected no events, got %d", n)
	}
	if r.Len() != 1 {
		t.Errorf("unknown update must not register a tool")
	}
}

func TestUpdateMergesMetadata(t *testing.T) {
	r := NewRegistry(Options{})
	confidence := 0.9
	r.RegisterTool("tool", nil, &Metadata{Extra: map[string]any{"label": "Save"}})

	r.UpdateToolState("tool", Visible, &Metadata{Reason: "disabled", Blockers: []string{"disabled"}, Confidence: &confidence})
	r.UpdateToolState("tool", Interactable, &Metadata{Reason: "ready", Blockers: []string{}})

	st, _ := r.GetToolState("tool")
	md := st.Metadata
	if md.Reason != "ready" {
		t.Errorf("reason = %q", md.Reason)
	}
	if len(md.Blockers) != 0 {
		t.Errorf("expected blockers cleared, got %v", md.Blockers)
	}
	if md.Confidence == nil || *md.Confidence != 0.9 {
		t.Errorf("expected confidence kept, got %v", md.Confidence)
	}
	if md.Extra["label"] != "Save" {
		t.Errorf("expected extra kept, got %v", md.Extra)
	}

	// Snapshots are copies.
	md.Extra["label"] = "changed"
	again, _ := r.GetToolState("tool")
	if again.Metadata.Extra["label"] != "Save" {
		t.Error("mutating a snapshot leaked into the registry")
	}
}

func TestNotificationOrderToolBeforeGlobal(t *testing.T) {
	r := NewRegistry(Options{})
	r.RegisterTool("tool", nil, nil)

	var order []string
	r.Subscribe(func(StateChangeEvent) { order = append(order, "global") })
	r.SubscribeTool("tool", func(StateChangeEvent) { order = append(order, "tool") })
	r.SubscribeTool("other", func(StateChangeEvent) { order = append(order, "other") })

	r.UpdateToolState("tool", Present, nil)

	want := []string{"tool", "global"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestSubscriberPanicIsIsolated(t *testing.T) {
	r := NewRegistry(Options{})
	r.RegisterTool("tool", nil, nil)

	r.SubscribeTool("tool", func(StateChangeEvent) { panic("boom") })
	var log eventLog
	r.Subscribe(log.record)

	r.UpdateToolState("tool", Visible, nil)

	if n := len(log.all()); n != 1 {
		t.Errorf("expected global subscriber to still receive the event, got %d", n)
	}
	if st, _ := r.GetToolState("tool"); st.State != Visible {
		t.Errorf("expected update to stick despite panic, got %s", st.State)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	r := NewRegistry(Options{})
	r.RegisterTool("tool", nil, nil)

	var log eventLog
	unsubscribe := r.SubscribeTool("tool", log.record)
	keep := r.SubscribeTool("tool", func(StateChangeEvent) {})
	defer keep()

	unsubscribe()
	unsubscribe()

	r.UpdateToolState("tool", Visible, nil)
	if n := len(log.all()); n != 0 {
		t.Errorf("expected no events after unsubscribe, got %d", n)
	}

	r.mu.RLock()
	remaining := len(r.scoped["tool"])
	r.mu.RUnlock()
	if remaining != 1 {
		t.Errorf("double unsubscribe removed the wrong subscriber, %d left", remaining)
	}
}

func TestUnregisterSendsNoEvent(t *testing.T) {
	r := NewRegistry(Options{})
	el := newFakeElement(visibleFacts())
	r.RegisterTool("tool", el, nil)

	var log eventLog
	r.SubscribeTool("tool", log.record)

	r.UnregisterTool("tool")
	if _, ok := r.GetToolState("tool"); ok {
		t.Fatal("expected tool to be gone")
	}
	if n := len(log.all()); n != 0 {
		t.Errorf("expected no teardown event, got %d", n)
	}
	if el.listeners() != 0 {
		t.Errorf("expected observer to release element signals")
	}

	r.UnregisterTool("tool")
}

func TestGetAllToolsSorted(t *testing.T) {
	r := NewRegistry(Options{})
	for _, id := range []string{"c", "a", "b"} {
		r.RegisterTool(id, nil, nil)
	}

	var ids []string
	for _, st := range r.GetAllTools() {
		ids = append(ids, st.ToolID)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
		t.Errorf("ids = %v", ids)
	}
}

func TestWaitForStateAlreadySatisfied(t *testing.T) {
	r := NewRegistry(Options{})
	r.RegisterTool("tool", nil, nil)
	r.UpdateToolState("tool", Interactable, nil)

	start := time.Now()
	if !r.WaitForState(context.Background(), "tool", Visible, time.Second) {
		t.Fatal("expected wait to succeed")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("expected immediate return, took %v", elapsed)
	}
}

func TestWaitForStateTimesOut(t *testing.T) {
	r := NewRegistry(Options{})
	r.RegisterTool("tool", nil, nil)

	start := time.Now()
	ok := r.WaitForState(context.Background(), "tool", Interactable, 100*time.Millisecond)
	elapsed := time.Since(start)

	if ok {
		t.Fatal("expected timeout")
	}
	if elapsed < 100*time.Millisecond || elapsed >= 150*time.Millisecond {
		t.Errorf("expected timeout within [100ms, 150ms), took %v", elapsed)
	}

	r.mu.RLock()
	leaked := len(r.scoped)
	r.mu.RUnlock()
	if leaked != 0 {
		t.Errorf("expected wait subscription to be removed, %d remain", leaked)
	}
}

func TestWaitForStateResolvesOnUpdate(t *testing.T) {
	r := NewRegistry(Options{})
	r.RegisterTool("tool", nil, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		r.UpdateToolState("tool", Exposed, nil)
		r.UpdateToolState("tool", Interactable, nil)
	}()

	if !r.WaitForState(context.Background(), "tool", Interactable, time.Second) {
		t.Fatal("expected wait to succeed")
	}

	r.mu.RLock()
	leaked := len(r.scoped)
	r.mu.RUnlock()
	if leaked != 0 {
		t.Errorf("expected wait subscription to be removed, %d remain", leaked)
	}
}

func TestWaitForStateUnregisteredToolResolvesOnRegistration(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		r.RegisterTool("late", newFakeElement(visibleFacts()), nil)
	}()

	if !r.WaitForState(context.Background(), "late", Interactable, time.Second) {
		t.Fatal("expected wait on a later-registered tool to succeed")
	}
}

func TestWaitForStateHonoursContext(t *testing.T) {
	r := NewRegistry(Options{})
	r.RegisterTool("tool", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	start := time.Now()
	if r.WaitForState(ctx, "tool", Visible, 5*time.Second) {
		t.Fatal("expected cancelled wait to fail")
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation did not end the wait promptly")
	}
}

func TestConcurrentUpdatesDeliverConsistentSequence(t *testing.T) {
	r := NewRegistry(Options{})
	r.RegisterTool("tool", nil, nil)

	var log eventLog
	r.SubscribeTool("tool", log.record)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.UpdateToolState("tool", AllStates()[(i+j)%len(AllStates())], nil)
			}
		}(i)
	}
	wg.Wait()

	prev := NotPresent
	for i, evt := range log.all() {
		if evt.OldState != prev {
			t.Fatalf("event %d: old state %s does not follow previous new state %s", i, evt.OldState, prev)
		}
		if evt.OldState == evt.NewState {
			t.Fatalf("event %d: no-op transition %s", i, evt.NewState)
		}
		prev = evt.NewState
	}
	if st, _ := r.GetToolState("tool"); st.State != prev {
		t.Errorf("final state %s does not match last event %s", st.State, prev)
	}
}

func TestToolLocksAreReleased(t *testing.T) {
	r := NewRegistry(Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RegisterTool("tool", nil, nil)
			r.UpdateToolState("tool", Visible, nil)
			r.UnregisterTool("tool")
		}()
	}
	wg.Wait()

	for _, id := range []string{"ghost-1", "ghost-2", "ghost-3"} {
		r.UnregisterTool(id)
		r.AttachElement(id, newFakeElement(visibleFacts()))
		r.DetachElement(id)
	}

	r.mu.RLock()
	held := len(r.locks)
	r.mu.RUnlock()
	if held != 0 {
		t.Errorf("expected no tool locks once idle, got %d", held)
	}
}

func TestMembershipListener(t *testing.T) {
	r := NewRegistry(Options{})

	type change struct {
		id         string
		registered bool
	}
	var got []change
	unsubscribe := r.OnMembershipChange(func(id string, registered bool) {
		got = append(got, change{id, registered})
	})

	r.RegisterTool("a", nil, nil)
	r.RegisterTool("a", nil, nil) // replacement, not a new member
	r.UnregisterTool("a")
	r.UnregisterTool("missing")

	unsubscribe()
	unsubscribe()
	r.RegisterTool("b", nil, nil)

	want := []change{{"a", true}, {"a", false}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("membership changes = %v, want %v", got, want)
	}
}
