package browser

import (
	"sync"

	"wayfinder-mcp-server/internal/navigation"
)

// RouteTable holds the URL routes of the current topology.
type RouteTable struct {
	mu     sync.RWMutex
	routes []navigation.Route
}

// Set replaces the routes, typically after a topology reload.
func (t *RouteTable) Set(routes []navigation.Route) {
	t.mu.Lock()
	t.routes = append([]navigation.Route(nil), routes...)
	t.mu.Unlock()
}

// Match maps a URL to a context.
func (t *RouteTable) Match(url string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if isInternalURL(url) {
		return "", false
	}
	return navigation.MatchRoute(t.routes, url)
}

// activeURL returns the URL of the most recently active session showing an application page.
func activeURL(sessions []Session) string {
	var best *Session
	for i := range sessions {
		s := &sessions[i]
		if isInternalURL(s.URL) {
			continue
		}
		if best == nil || s.LastActive.After(best.LastActive) {
			best = s
		}
	}
	if best == nil {
		return ""
	}
	return best.URL
}

// RouteDetector maps the active session's URL to a context.
func RouteDetector(sessions *SessionManager, table *RouteTable) navigation.Detector {
	return func() (string, bool) {
		url := activeURL(sessions.List())
		if url == "" {
			return "", false
		}
		return table.Match(url)
	}
}
