package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds descriptors keyed by provider name. Registration happens
// once at startup; lookups are read-only afterwards.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Register adds a descriptor. Duplicate names are rejected.
func (r *Registry) Register(d Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[d.Name()]; exists {
		return fmt.Errorf("provider %q already registered", d.Name())
	}
	r.descriptors[d.Name()] = d
	return nil
}

// MustRegister is Register for startup wiring, panicking on duplicates.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Get returns the descriptor for a provider name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	return d, ok
}

// OAuth2Names returns the names of all registered OAuth2 providers in a
// stable order, for deterministic sweep iteration.
func (r *Registry) OAuth2Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.descriptors))
	for name, d := range r.descriptors {
		if d.Kind() == KindOAuth2 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
