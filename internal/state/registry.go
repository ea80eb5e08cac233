package state

import (
	"fmt"
	"sync"

	"tradedesk/internal/interfaces"
)

// Registry maps domain id to domain, preserving registration order.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	domains map[string]interfaces.Domain
}

func NewRegistry() *Registry {
	return &Registry{domains: make(map[string]interfaces.Domain)}
}

func (r *Registry) Register(d interfaces.Domain) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.domains[d.ID()]; exists {
		return fmt.Errorf("domain %q already registered", d.ID())
	}
	r.domains[d.ID()] = d
	r.order = append(r.order, d.ID())
	return nil
}

func (r *Registry) MustRegister(domains ...interfaces.Domain) {
	for _, d := range domains {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Get(id string) (interfaces.Domain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.domains[id]
	return d, ok
}

// All returns the domains in registration order.
func (r *Registry) All() []interfaces.Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]interfaces.Domain, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.domains[id])
	}
	return out
}
