// Package registry maps incoming request paths to enabled mock endpoints.
package registry

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/mohae/deepcopy"

	"github.com/prasenjit/mockpit/internal/models"
)

// EndpointSource provides the endpoints a registry is built from
type EndpointSource interface {
	GetEnabledEndpoints() ([]*models.Endpoint, error)
}

// Match is the result of a successful route lookup. Endpoint is a snapshot
// shared with the registry and must not be modified.
type Match struct {
	Endpoint   *models.Endpoint
	PathParams map[string]string
}

// RouteInfo describes a registered route
type RouteInfo struct {
	Method     string   `json:"method"`
	Path       string   `json:"path"`
	EndpointID string   `json:"endpointId"`
	Name       string   `json:"name,omitempty"`
	Params     []string `json:"params,omitempty"`
}

// route is a parameterized route
type route struct {
	key          string
	method       string
	pattern      *regexp.Regexp
	paramNames   []string
	literalCount int
	endpoint     *models.Endpoint
}

// Registry holds the routing table of the mock server. Parameterless paths
// are looked up in a map; parameterized ones are tried in order of
// decreasing literal segment count.
type Registry struct {
	source EndpointSource

	mu       sync.RWMutex
	exact    map[string]*models.Endpoint // "METHOD /path" -> endpoint
	patterns []*route
	keys     map[string]string // endpoint ID -> route key

	// reloadMu serializes Reload. While a reload reads its source, pending
	// is non-nil and collects Add/Remove calls to replay on the new table.
	reloadMu sync.Mutex
	pending  []func()
}

// New creates an empty registry backed by source
func New(source EndpointSource) *Registry {
	return &Registry{
		source: source,
		exact:  make(map[string]*models.Endpoint),
		keys:   make(map[string]string),
	}
}

var (
	colonParam = regexp.MustCompile(`^:([A-Za-z_]\w*)$`)
	braceParam = regexp.MustCompile(`^\{([A-Za-z_]\w*)\}$`)
)

// paramName returns the parameter name of a path segment, if it is one
func paramName(segment string) (string, bool) {
	if m := colonParam.FindStringSubmatch(segment); m != nil {
		return m[1], true
	}
	if m := braceParam.FindStringSubmatch(segment); m != nil {
		return m[1], true
	}
	return "", false
}

// buildPathPattern compiles a normalized path into an anchored regexp.
// ok is false when the path has no parameters.
func buildPathPattern(path string) (pattern *regexp.Regexp, params []string, literals int, ok bool) {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	parts := make([]string, len(segments))

	for i, seg := range segments {
		if name, isParam := paramName(seg); isParam {
			params = append(params, name)
			parts[i] = `([^/]+)`
			continue
		}
		if seg != "" {
			literals++
		}
		parts[i] = regexp.QuoteMeta(seg)
	}

	if len(params) == 0 {
		return nil, nil, literals, false
	}
	return regexp.MustCompile("^/" + strings.Join(parts, "/") + "$"), params, literals, true
}

func newRoute(ep *models.Endpoint) (*route, bool) {
	path := models.NormalizePath(ep.Path)
	pattern, params, literals, ok := buildPathPattern(path)
	if !ok {
		return nil, false
	}
	return &route{
		key:          ep.RouteKey(),
		method:       strings.ToUpper(ep.Method),
		pattern:      pattern,
		paramNames:   params,
		literalCount: literals,
		endpoint:     ep,
	}, true
}

// sortRoutes orders routes by literal segment count, most specific first.
// Ties keep registration order.
func sortRoutes(routes []*route) {
	sort.SliceStable(routes, func(i, j int) bool {
		return routes[i].literalCount > routes[j].literalCount
	})
}

// Add registers an endpoint, replacing any route it had before. Disabled
// endpoints are only removed.
func (r *Registry) Add(ep *models.Endpoint) {
	snapshot := deepcopy.Copy(ep).(*models.Endpoint)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.addLocked(snapshot)
	r.deferLocked(func() { r.addLocked(snapshot) })
}

func (r *Registry) addLocked(ep *models.Endpoint) {
	r.removeLocked(ep.ID)
	if ep.IsEnabled {
		r.insertLocked(ep)
	}
}

// deferLocked queues op for replay when a reload is in flight
func (r *Registry) deferLocked(op func()) {
	if r.pending != nil {
		r.pending = append(r.pending, op)
	}
}

// Update replaces the route of an endpoint whose method, path or enabled
// state changed. Readers see either the old route or the new one.
func (r *Registry) Update(ep *models.Endpoint) {
	r.Add(ep)
}

// Remove unregisters an endpoint. Unknown IDs are ignored.
func (r *Registry) Remove(endpointID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(endpointID)
	r.deferLocked(func() { r.removeLocked(endpointID) })
}

func (r *Registry) insertLocked(ep *models.Endpoint) {
	key := ep.RouteKey()
	if prev, ok := r.exact[key]; ok {
		delete(r.keys, prev.ID)
	}
	r.patterns = removeRoutes(r.patterns, func(rt *route) bool {
		if rt.key == key {
			delete(r.keys, rt.endpoint.ID)
			return true
		}
		return false
	})

	r.keys[ep.ID] = key
	if rt, ok := newRoute(ep); ok {
		r.patterns = append(r.patterns, rt)
		sortRoutes(r.patterns)
		return
	}
	r.exact[key] = ep
}

func (r *Registry) removeLocked(endpointID string) {
	key, ok := r.keys[endpointID]
	if !ok {
		return
	}
	delete(r.keys, endpointID)

	if ep, ok := r.exact[key]; ok && ep.ID == endpointID {
		delete(r.exact, key)
		return
	}
	r.patterns = removeRoutes(r.patterns, func(rt *route) bool {
		return rt.endpoint.ID == endpointID
	})
}

func removeRoutes(routes []*route, drop func(*route) bool) []*route {
	kept := routes[:0:0]
	for _, rt := range routes {
		if !drop(rt) {
			kept = append(kept, rt)
		}
	}
	return kept
}

// Reload rebuilds the registry from its source. On error the current
// routes are kept. Add and Remove calls made while the source is read are
// applied on top of the rebuilt table, so they are never lost.
func (r *Registry) Reload() error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	r.mu.Lock()
	r.pending = []func(){}
	r.mu.Unlock()

	endpoints, err := r.source.GetEnabledEndpoints()
	if err != nil {
		r.mu.Lock()
		r.pending = nil
		r.mu.Unlock()
		return fmt.Errorf("loading enabled endpoints: %w", err)
	}

	exact := make(map[string]*models.Endpoint)
	keys := make(map[string]string)
	patterns := make([]*route, 0)

	for _, ep := range endpoints {
		if !ep.IsEnabled {
			continue
		}
		snapshot := deepcopy.Copy(ep).(*models.Endpoint)
		keys[snapshot.ID] = snapshot.RouteKey()
		if rt, ok := newRoute(snapshot); ok {
			patterns = append(patterns, rt)
			continue
		}
		exact[snapshot.RouteKey()] = snapshot
	}
	sortRoutes(patterns)

	r.mu.Lock()
	r.exact = exact
	r.patterns = patterns
	r.keys = keys
	for _, op := range r.pending {
		op()
	}
	r.pending = nil
	r.mu.Unlock()
	return nil
}

// Match finds the endpoint serving method and rawPath. Anything after '?'
// is ignored.
func (r *Registry) Match(method, rawPath string) (*Match, bool) {
	path, _, _ := strings.Cut(rawPath, "?")
	path = models.NormalizePath(path)
	method = strings.ToUpper(method)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if ep, ok := r.exact[method+" "+path]; ok {
		return &Match{Endpoint: ep, PathParams: map[string]string{}}, true
	}

	for _, rt := range r.patterns {
		if rt.method != method {
			continue
		}
		matches := rt.pattern.FindStringSubmatch(path)
		if matches == nil {
			continue
		}

		params := make(map[string]string, len(rt.paramNames))
		for i, name := range rt.paramNames {
			params[name] = matches[i+1]
		}
		return &Match{Endpoint: rt.endpoint, PathParams: params}, true
	}

	return nil, false
}

// Routes returns the registered routes: exact routes sorted by key, then
// parameterized routes in match order
func (r *Registry) Routes() []RouteInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RouteInfo, 0, len(r.exact)+len(r.patterns))
	keys := make([]string, 0, len(r.exact))
	for key := range r.exact {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		ep := r.exact[key]
		out = append(out, RouteInfo{
			Method:     strings.ToUpper(ep.Method),
			Path:       models.NormalizePath(ep.Path),
			EndpointID: ep.ID,
			Name:       ep.Name,
		})
	}
	for _, rt := range r.patterns {
		out = append(out, RouteInfo{
			Method:     rt.method,
			Path:       models.NormalizePath(rt.endpoint.Path),
			EndpointID: rt.endpoint.ID,
			Name:       rt.endpoint.Name,
			Params:     append([]string(nil), rt.paramNames...),
		})
	}
	return out
}

// Len returns the number of registered routes
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.exact) + len(r.patterns)
}
