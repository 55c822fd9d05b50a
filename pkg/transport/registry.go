package transport

import (
	"fmt"
	"sort"
	"sync"
)

// Implementation identifiers.
const (
	ImplSerial = "serial"
	ImplHub    = "hub"
)

// Factory builds a transport from its configuration.
type Factory func(cfg Config) (Transport, error)

// Registry maps implementation identifiers to factories. Selection is
// always explicit; there is no auto-detection.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the serial and hub transports.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ImplSerial, func(cfg Config) (Transport, error) {
		return NewSerial(cfg), nil
	})
	r.Register(ImplHub, func(cfg Config) (Transport, error) {
		return NewHub(cfg), nil
	})
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
}

// New builds a transport for id.
func (r *Registry) New(id string, cfg Config) (Transport, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownImplementation, id)
	}
	return f(cfg)
}

// Implementations returns the registered identifiers, sorted.
func (r *Registry) Implementations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
