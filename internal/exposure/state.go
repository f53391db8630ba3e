package exposure

import (
	"fmt"
	"strings"
)

// State is the five-level readiness of a tool. Higher values are strictly more available,
// so comparisons use the numeric ordering.
type State int

const (
	NotPresent State = iota
	Present
	Visible
	Exposed
	Interactable
)

var stateNames = [...]string{
	NotPresent:   "NOT_PRESENT",
	Present:      "PRESENT",
	Visible:      "VISIBLE",
	Exposed:      "EXPOSED",
	Interactable: "INTERACTABLE",
}

func (s State) String() string {
	if s.IsValid() {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IsValid reports whether s is one of the five defined levels.
func (s State) IsValid() bool {
	return s >= NotPresent && s <= Interactable
}

// AtLeast reports whether s is at least as available as other.
func (s State) AtLeast(other State) bool {
	return s >= other
}

// MarshalText encodes the state by name so JSON payloads stay readable for agents.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState resolves a state name case-insensitively. Hyphens and spaces are accepted in
// place of underscores ("not-present", "not present").
func ParseState(name string) (State, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	for i, n := range stateNames {
		if n == normalized {
			return State(i), nil
		}
	}
	return NotPresent, fmt.Errorf("unknown exposure state %q", name)
}

// AllStates returns the levels in increasing order of availability.
func AllStates() []State {
	return []State{NotPresent, Present, Visible, Exposed, Interactable}
}
