package exposure

import (
	"reflect"
	"testing"
)

func visibleFacts() ObservationFacts {
	return ObservationFacts{Connected: true, Intersecting: true, HasDimensions: true}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		facts    func() ObservationFacts
		state    State
		reason   string
		blockers []string
	}{
		{
			name:   "disconnected wins over everything",
			facts:  func() ObservationFacts { f := visibleFacts(); f.Connected = false; f.Disabled = true; return f },
			state:  NotPresent,
			reason: "not connected",
		},
		{
			name:   "outside viewport",
			facts:  func() ObservationFacts { f := visibleFacts(); f.Intersecting = false; return f },
			state:  Present,
			reason: "outside viewport",
		},
		{
			name:   "zero size",
			facts:  func() ObservationFacts { f := visibleFacts(); f.HasDimensions = false; return f },
			state:  Present,
			reason: "zero size",
		},
		{
			name:   "hidden by style beats disabled",
			facts:  func() ObservationFacts { f := visibleFacts(); f.HiddenByStyle = true; f.Disabled = true; return f },
			state:  Present,
			reason: "hidden by style",
		},
		{
			name:     "disabled",
			facts:    func() ObservationFacts { f := visibleFacts(); f.Disabled = true; return f },
			state:    Visible,
			reason:   "disabled",
			blockers: []string{"disabled"},
		},
		{
			name:     "aria disabled and busy",
			facts:    func() ObservationFacts { f := visibleFacts(); f.AriaDisabled = true; f.Busy = true; return f },
			state:    Visible,
			reason:   "disabled",
			blockers: []string{"disabled", "aria-disabled", "busy"},
		},
		{
			name:     "busy",
			facts:    func() ObservationFacts { f := visibleFacts(); f.Busy = true; return f },
			state:    Exposed,
			reason:   "busy",
			blockers: []string{"busy"},
		},
		{
			name:   "ready",
			facts:  visibleFacts,
			state:  Interactable,
			reason: "ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.facts())
			if got.State != tt.state {
				t.Errorf("state = %s, want %s", got.State, tt.state)
			}
			if got.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", got.Reason, tt.reason)
			}
			if !reflect.DeepEqual(got.Blockers, tt.blockers) {
				t.Errorf("blockers = %v, want %v", got.Blockers, tt.blockers)
			}
		})
	}
}

func TestClassificationMetadataClearsBlockers(t *testing.T) {
	meta := Classify(visibleFacts()).Metadata(nil)
	if meta.Blockers == nil || len(meta.Blockers) != 0 {
		t.Fatalf("expected empty non-nil blockers, got %#v", meta.Blockers)
	}

	prev := &Metadata{Reason: "disabled", Blockers: []string{"disabled"}}
	merged := prev.merge(meta)
	if len(merged.Blockers) != 0 {
		t.Errorf("expected blockers cleared after merge, got %v", merged.Blockers)
	}
	if merged.Reason != "ready" {
		t.Errorf("expected reason 'ready', got %q", merged.Reason)
	}
}

func TestParseState(t *testing.T) {
	for _, s := range AllStates() {
		parsed, err := ParseState(s.String())
		if err != nil {
			t.Fatalf("ParseState(%q) failed: %v", s.String(), err)
		}
		if parsed != s {
			t.Errorf("ParseState(%q) = %s", s.String(), parsed)
		}
	}

	if s, err := ParseState("not-present"); err != nil || s != NotPresent {
		t.Errorf("expected hyphenated name to parse, got %s, %v", s, err)
	}
	if _, err := ParseState("ready"); err == nil {
		t.Error("expected error for unknown state name")
	}
	if !Interactable.AtLeast(Visible) || Present.AtLeast(Visible) {
		t.Error("AtLeast does not follow numeric ordering")
	}
}
