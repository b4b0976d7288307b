package brokers

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps broker names to adapter factories. Brokers register once at
// process start; the registry holds no per-user state.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty broker registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under name. Registering an already-registered name
// fails rather than silently overwriting.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrBrokerRegistered, name)
	}
	r.factories[name] = factory
	return nil
}

// Create constructs a fresh adapter instance for name.
func (r *Registry) Create(name string) (Broker, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBroker, name)
	}
	return factory(), nil
}

// Available returns the registered broker names in sorted order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
