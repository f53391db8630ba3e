package exposure

// Rect is an element's bounding box in viewport coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ObservationFacts are the raw signals read from an element at one instant.
type ObservationFacts struct {
	Connected     bool  `json:"connected"`
	Intersecting  bool  `json:"intersecting"`
	HasDimensions bool  `json:"has_dimensions"`
	Disabled      bool  `json:"disabled"`
	AriaDisabled  bool  `json:"aria_disabled"`
	Busy          bool  `json:"busy"`
	HiddenByStyle bool  `json:"hidden_by_style"`
	Position      *Rect `json:"position,omitempty"`
}

// Classification is the outcome of Classify.
type Classification struct {
	State    State    `json:"state"`
	Reason   string   `json:"reason"`
	Blockers []string `json:"blockers,omitempty"`
}

// Classify maps observation facts to an exposure state. Rules are evaluated top-down and
// the first match wins; each rule assumes every rule above it did not match.
func Classify(f ObservationFacts) Classification {
	if !f.Connected {
		return Classification{State: NotPresent, Reason: "not connected"}
	}

	if f.HiddenByStyle || !f.HasDimensions || !f.Intersecting {
		reason := "outside viewport"
		switch {
		case f.HiddenByStyle:
			reason = "hidden by style"
		case !f.HasDimensions:
			reason = "zero size"
		}
		return Classification{State: Present, Reason: reason}
	}

	if f.Disabled || f.AriaDisabled {
		blockers := []string{"disabled"}
		if f.AriaDisabled {
			blockers = append(blockers, "aria-disabled")
		}
		if f.Busy {
			blockers = append(blockers, "busy")
		}
		return Classification{State: Visible, Reason: "disabled", Blockers: blockers}
	}

	if f.Busy {
		return Classification{State: Exposed, Reason: "busy", Blockers: []string{"busy"}}
	}

	return Classification{State: Interactable, Reason: "ready"}
}

// Metadata converts the classification into registry metadata.
func (c Classification) Metadata(position *Rect) *Metadata {
	// A non-nil empty slice clears blockers left over from an earlier state.
	meta := &Metadata{Reason: c.Reason, Blockers: append([]string{}, c.Blockers...)}
	if position != nil {
		p := *position
		meta.Position = &p
	}
	return meta
}
