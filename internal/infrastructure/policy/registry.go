// Package policy holds the RPT policy registry and the built-in policy and
// claims-gatherer implementations. Policies are attached per scope; the
// engine talks to them only through the domain capability interfaces.
package policy

import (
	"sync"

	"github.com/ipede/uma-auth-service/internal/domain"
)

// Registry maps scopes to their authorization policies and names to
// claims gatherers. Registration happens at wiring time; evaluation-time
// access is read-only.
type Registry struct {
	mu        sync.RWMutex
	byScope   map[string][]domain.RptPolicy
	gatherers map[string]domain.ClaimsGatherer
}

// NewRegistry creates an empty policy registry
func NewRegistry() *Registry {
	return &Registry{
		byScope:   make(map[string][]domain.RptPolicy),
		gatherers: make(map[string]domain.ClaimsGatherer),
	}
}

// Attach binds a policy to a scope. A scope may carry several policies; all
// of them must authorize for the scope to be granted.
func (r *Registry) Attach(scope string, p domain.RptPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byScope[scope] = append(r.byScope[scope], p)
}

// PoliciesFor returns the policies attached to a scope. An empty result
// means the scope is granted by default; deployers wanting deny-by-absence
// attach a deny-all policy instead.
func (r *Registry) PoliciesFor(scope string) []domain.RptPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byScope[scope]
}

// RegisterGatherer makes a claims gatherer addressable by name
func (r *Registry) RegisterGatherer(g domain.ClaimsGatherer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gatherers[g.Name()] = g
}

// Gatherer returns the named claims gatherer, nil when unknown
func (r *Registry) Gatherer(name string) domain.ClaimsGatherer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gatherers[name]
}
