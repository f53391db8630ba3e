package navigation

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const topologyReloadDebounce = 500 * time.Millisecond

// TopologyWatcher re-applies a topology file to a graph whenever the file changes.
type TopologyWatcher struct {
	path     string
	graph    *Graph
	onReload func(*Topology)
	debounce time.Duration

	watcher *fsnotify.Watcher
}

// NewTopologyWatcher watches the directory holding path, so editors that replace the file
// by rename are still seen. onReload, if set, runs after every successful reload.
func NewTopologyWatcher(path string, graph *Graph, onReload func(*Topology)) (*TopologyWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve topology path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}
	return &TopologyWatcher{
		path:     abs,
		graph:    graph,
		onReload: onReload,
		debounce: topologyReloadDebounce,
		watcher:  watcher,
	}, nil
}

// Reload loads the file and applies it once.
func (w *TopologyWatcher) Reload() error {
	t, err := LoadTopology(w.path)
	if err != nil {
		return err
	}
	if err := t.Apply(w.graph); err != nil {
		return fmt.Errorf("failed to apply topology: %w", err)
	}
	if w.onReload != nil {
		w.onReload(t)
	}
	return nil
}

// Run watches for changes until ctx is cancelled. A burst of writes triggers a single
// reload once the file has been quiet for the debounce interval.
func (w *TopologyWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(w.debounce, func() {
					if err := w.Reload(); err != nil {
						log.Printf("[navigation] topology reload failed: %v", err)
						return
					}
					log.Printf("[navigation] topology reloaded from %s (generation %d)", w.path, w.graph.Generation())
				})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[navigation] warning: topology watcher error: %v", err)
		}
	}
}

// Close stops watching without waiting for Run. It is safe to call after Run returns.
func (w *TopologyWatcher) Close() error {
	return w.watcher.Close()
}
