package tokens

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	apperrors "token-broker/internal/common/errors"
)

// route binds a downstream base URL to a manager
type route struct {
	scheme string
	host   string
	path   string
	name   string
}

// Registry holds the managers of every configured destination. It is built
// explicitly and passed to whatever intercepts outbound requests.
type Registry struct {
	mu       sync.RWMutex
	managers map[string]*Manager
	routes   []route
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{managers: make(map[string]*Manager)}
}

// Add registers m. A non-empty baseURL makes the destination reachable
// through FindByURL.
func (r *Registry) Add(m *Manager, baseURL string) error {
	name := m.Destination()

	var rt *route
	if baseURL != "" {
		parsed, err := parseRoute(baseURL)
		if err != nil {
			return apperrors.ConfigError(fmt.Sprintf("invalid url for destination %q: %v", name, err)).
				WithDetail("destination", name)
		}
		parsed.name = name
		rt = &parsed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.managers[name]; exists {
		return apperrors.ConfigError(fmt.Sprintf("duplicate destination %q", name)).WithDetail("destination", name)
	}
	r.managers[name] = m
	if rt != nil {
		r.routes = append(r.routes, *rt)
		// longest path first so FindByURL can stop at the first match
		sort.SliceStable(r.routes, func(i, j int) bool {
			return len(r.routes[i].path) > len(r.routes[j].path)
		})
	}
	return nil
}

// Get returns the manager for name
func (r *Registry) Get(name string) (*Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.managers[name]
	return m, ok
}

// GetToken returns a token for the named destination
func (r *Registry) GetToken(ctx context.Context, name string) (string, error) {
	m, ok := r.Get(name)
	if !ok {
		return "", apperrors.ConfigError(fmt.Sprintf("unknown destination %q", name)).WithDetail("destination", name)
	}
	return m.GetToken(ctx)
}

// FindByURL returns the manager whose base URL is the longest prefix of
// rawURL. Prefixes match on whole path segments only.
func (r *Registry) FindByURL(rawURL string) (*Manager, bool) {
	target, err := parseRoute(rawURL)
	if err != nil {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rt := range r.routes {
		if rt.scheme != target.scheme || rt.host != target.host {
			continue
		}
		if rt.path == "" || target.path == rt.path || strings.HasPrefix(target.path, rt.path+"/") {
			return r.managers[rt.name], true
		}
	}
	return nil, false
}

// Names lists the registered destinations in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.managers))
	for name := range r.managers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Statuses returns Status for every destination, ordered by name
func (r *Registry) Statuses() []Status {
	names := r.Names()
	statuses := make([]Status, 0, len(names))
	for _, name := range names {
		if m, ok := r.Get(name); ok {
			statuses = append(statuses, m.Status())
		}
	}
	return statuses
}

// Close closes every manager
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.managers {
		m.Close()
	}
}

func parseRoute(raw string) (route, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return route{}, err
	}
	if u.Scheme == "" || u.Host == "" {
		return route{}, fmt.Errorf("url %q must be absolute", raw)
	}

	host := strings.ToLower(u.Host)
	scheme := strings.ToLower(u.Scheme)
	switch {
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	}

	return route{
		scheme: scheme,
		host:   host,
		path:   strings.TrimRight(u.Path, "/"),
	}, nil
}
