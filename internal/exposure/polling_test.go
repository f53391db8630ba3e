package exposure

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDiffFacts(t *testing.T) {
	base := visibleFacts()

	tests := []struct {
		name   string
		mutate func(*ObservationFacts)
		want   FactChanges
	}{
		{"no change", func(*ObservationFacts) {}, FactChanges{}},
		{"detached", func(f *ObservationFacts) { f.Connected = false }, FactChanges{Tree: true}},
		{"scrolled out", func(f *ObservationFacts) { f.Intersecting = false }, FactChanges{Geometry: true}},
		{"moved", func(f *ObservationFacts) { f.Position = &Rect{X: 10, Y: 20, Width: 5, Height: 5} }, FactChanges{Geometry: true}},
		{"disabled", func(f *ObservationFacts) { f.Disabled = true }, FactChanges{Attribute: true}},
		{"busy and hidden", func(f *ObservationFacts) { f.Busy = true; f.HiddenByStyle = true }, FactChanges{Geometry: true, Attribute: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := base
			tt.mutate(&next)
			if got := DiffFacts(base, next); got != tt.want {
				t.Errorf("DiffFacts = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPollingSourceFiresChangedGroupsOnly(t *testing.T) {
	el := &pollOnlyElement{}
	el.set(visibleFacts())

	src := NewPollingSource(el, 0)
	defer src.Stop()

	var geometry, attribute, tree atomic.Int32
	src.OnGeometryChange(func() { geometry.Add(1) })
	cancelAttr := src.OnAttributeChange(func() { attribute.Add(1) })
	src.OnTreeChange(func() { tree.Add(1) })

	src.Poll() // baseline from zero facts
	geometry.Store(0)
	attribute.Store(0)
	tree.Store(0)

	f := visibleFacts()
	f.Disabled = true
	el.set(f)
	changes := src.Poll()
	if !changes.Attribute || changes.Geometry || changes.Tree {
		t.Fatalf("unexpected changes %+v", changes)
	}
	if attribute.Load() != 1 || geometry.Load() != 0 || tree.Load() != 0 {
		t.Errorf("callbacks fired: geometry=%d attribute=%d tree=%d", geometry.Load(), attribute.Load(), tree.Load())
	}

	cancelAttr()
	f.Disabled = false
	el.set(f)
	src.Poll()
	if attribute.Load() != 1 {
		t.Errorf("cancelled callback still fired")
	}

	if src.Poll().Any() {
		t.Error("expected no changes on identical poll")
	}
}

func TestPollingSourceSeedIsTheBaseline(t *testing.T) {
	el := &pollOnlyElement{}
	el.set(visibleFacts())

	src := NewPollingSource(el, time.Hour)
	defer src.Stop()

	var geometry atomic.Int32
	src.OnGeometryChange(func() { geometry.Add(1) })

	offscreen := visibleFacts()
	offscreen.Intersecting = false
	src.Seed(offscreen)
	src.Start()

	if changes := src.Poll(); !changes.Geometry {
		t.Fatalf("expected the first poll to differ from the seed, got %+v", changes)
	}
	if geometry.Load() != 1 {
		t.Errorf("expected one geometry callback, got %d", geometry.Load())
	}
}
