package navigation

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Route maps a URL path prefix to a context.
type Route struct {
	Prefix  string `yaml:"prefix" json:"prefix"`
	Context string `yaml:"context" json:"context"`
}

// Topology is the on-disk description of the navigation graph.
type Topology struct {
	Root     string    `yaml:"root"`
	Contexts []Context `yaml:"contexts"`
	Edges    []Edge    `yaml:"edges"`
	Routes   []Route   `yaml:"routes"`
}

// LoadTopology reads a YAML topology file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}
	t, err := ParseTopology(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ParseTopology decodes a YAML topology and checks that its routes point at known
// contexts. Graph-level validation happens in Apply.
func ParseTopology(data []byte) (*Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}
	if t.Root == "" {
		t.Root = DefaultRootContext
	}

	known := map[string]bool{t.Root: true}
	for _, c := range t.Contexts {
		known[c.ID] = true
	}
	for _, r := range t.Routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			return nil, fmt.Errorf("route %q: prefix must start with /", r.Prefix)
		}
		if !known[r.Context] {
			return nil, fmt.Errorf("route %q: context %q: %w", r.Prefix, r.Context, ErrUnknownContext)
		}
	}
	return &t, nil
}

// Apply replaces the graph's contents with the topology.
func (t *Topology) Apply(g *Graph) error {
	return g.Replace(t.Root, t.Contexts, t.Edges)
}

// MatchRoute returns the context of the longest route prefix matching rawURL's path. A
// prefix matches whole path segments only, so "/settings" does not match "/settingsx".
func MatchRoute(routes []Route, rawURL string) (string, bool) {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && (u.Scheme != "" || u.Path != "") {
		p = u.Path
	}
	if p == "" {
		p = "/"
	}

	sorted := append([]Route(nil), routes...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i].Prefix) > len(sorted[j].Prefix) })

	for _, r := range sorted {
		prefix := strings.TrimSuffix(r.Prefix, "/")
		if prefix == "" {
			return r.Context, true
		}
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return r.Context, true
		}
	}
	return "", false
}
