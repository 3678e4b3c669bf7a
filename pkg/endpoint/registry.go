package endpoint

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNoEndpoints is returned when a registry is built without servers.
// An empty registry is a startup configuration error, surfaced at
// construction rather than on first use.
var ErrNoEndpoints = errors.New("no endpoints configured")

// Endpoint is one candidate RPC server together with its health metadata.
// Counters are mutated only through the registry's Mark* methods, which
// the failover controller is the sole caller of.
type Endpoint struct {
	URL      string
	Priority int

	// regIndex preserves registration order for deterministic tie-breaks.
	regIndex int

	LastSuccessAt       time.Time
	LastFailureAt       time.Time
	ConsecutiveFailures int
	LastError           string

	// Disabled is set once ConsecutiveFailures reaches the configured
	// threshold. Endpoints are never removed at runtime, only disabled.
	Disabled bool
}

// Spec declares one endpoint at startup.
type Spec struct {
	URL      string
	Priority int
}

// Config configures a Registry.
type Config struct {
	Endpoints []Spec

	// DisableAfter permanently disables an endpoint after this many
	// consecutive failures. Zero means never disable.
	DisableAfter int

	// Policy orders endpoints for a sweep. Defaults to StickyPolicy.
	Policy SelectionPolicy
}

// Registry holds the ordered candidate servers. Endpoints are registered
// once at startup and never deleted.
type Registry struct {
	mu           sync.RWMutex
	endpoints    []*Endpoint
	byURL        map[string]*Endpoint
	disableAfter int
	policy       SelectionPolicy
}

// New builds a Registry from cfg. Duplicate URLs are collapsed, keeping
// the first registration.
func New(cfg Config) (*Registry, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	policy := cfg.Policy
	if policy == nil {
		policy = &StickyPolicy{}
	}

	r := &Registry{
		byURL:        make(map[string]*Endpoint),
		disableAfter: cfg.DisableAfter,
		policy:       policy,
	}

	seen := map[string]bool{}
	for _, spec := range cfg.Endpoints {
		url := strings.TrimRight(spec.URL, "/")
		if url == "" {
			return nil, fmt.Errorf("endpoint %d: empty URL", len(r.endpoints))
		}
		if seen[url] {
			continue
		}
		seen[url] = true
		ep := &Endpoint{
			URL:      url,
			Priority: spec.Priority,
			regIndex: len(r.endpoints),
		}
		r.endpoints = append(r.endpoints, ep)
		r.byURL[url] = ep
	}
	if len(r.endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	return r, nil
}

// FromURLs builds a registry where priority follows list position.
func FromURLs(urls []string) (*Registry, error) {
	specs := make([]Spec, 0, len(urls))
	for i, u := range urls {
		specs = append(specs, Spec{URL: u, Priority: i + 1})
	}
	return New(Config{Endpoints: specs})
}

// List returns enabled endpoints in sweep order, as value snapshots.
func (r *Registry) List() []Endpoint {
	r.mu.RLock()
	snap := make([]Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		if ep.Disabled {
			continue
		}
		snap = append(snap, *ep)
	}
	r.mu.RUnlock()

	return r.policy.Order(snap)
}

// All returns every registered endpoint, disabled included, in
// registration order. Used for status reporting.
func (r *Registry) All() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make([]Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		snap = append(snap, *ep)
	}
	return snap
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

// MarkSuccess records a successful call against url at time now.
func (r *Registry) MarkSuccess(url string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.byURL[url]
	if !ok {
		return
	}
	ep.LastSuccessAt = now
	ep.ConsecutiveFailures = 0
	ep.LastError = ""
}

// MarkFailure records a failed call against url at time now.
func (r *Registry) MarkFailure(url string, now time.Time, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.byURL[url]
	if !ok {
		return
	}
	ep.LastFailureAt = now
	ep.ConsecutiveFailures++
	if cause != nil {
		ep.LastError = cause.Error()
	}
	if r.disableAfter > 0 && ep.ConsecutiveFailures >= r.disableAfter {
		ep.Disabled = true
	}
}

// SelectionPolicy orders a snapshot of enabled endpoints for one sweep.
type SelectionPolicy interface {
	Order(eps []Endpoint) []Endpoint
}

// StickyPolicy prefers endpoints whose latest contact succeeded, then
// priority, then the most recent success, then registration order.
// Keeping recently-good servers ahead of recently-bad ones avoids
// flapping back onto an endpoint that just failed.
type StickyPolicy struct{}

// healthyRank is 0 for endpoints whose most recent contact succeeded
// (or that were never contacted), 1 otherwise.
func healthyRank(ep Endpoint) int {
	if ep.LastFailureAt.After(ep.LastSuccessAt) {
		return 1
	}
	return 0
}

func (*StickyPolicy) Order(eps []Endpoint) []Endpoint {
	sort.SliceStable(eps, func(i, j int) bool {
		ri, rj := healthyRank(eps[i]), healthyRank(eps[j])
		if ri != rj {
			return ri < rj
		}
		if eps[i].Priority != eps[j].Priority {
			return eps[i].Priority < eps[j].Priority
		}
		if !eps[i].LastSuccessAt.Equal(eps[j].LastSuccessAt) {
			return eps[i].LastSuccessAt.After(eps[j].LastSuccessAt)
		}
		return eps[i].regIndex < eps[j].regIndex
	})
	return eps
}

// RoundRobinPolicy rotates the starting endpoint on every sweep while
// keeping priority order within the rotation. Provided as the alternative
// selection strategy; StickyPolicy is the default.
type RoundRobinPolicy struct {
	mu   sync.Mutex
	next int
}

func (p *RoundRobinPolicy) Order(eps []Endpoint) []Endpoint {
	sort.SliceStable(eps, func(i, j int) bool {
		if eps[i].Priority != eps[j].Priority {
			return eps[i].Priority < eps[j].Priority
		}
		return eps[i].regIndex < eps[j].regIndex
	})
	if len(eps) == 0 {
		return eps
	}

	p.mu.Lock()
	start := p.next % len(eps)
	p.next++
	p.mu.Unlock()

	rotated := make([]Endpoint, 0, len(eps))
	rotated = append(rotated, eps[start:]...)
	rotated = append(rotated, eps[:start]...)
	return rotated
}
