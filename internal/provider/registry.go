package provider

import (
	"fmt"
	"sort"
	"sync"

	"chat2edit/internal/logging"
)

// Registry holds the functions a provider exposes. It keeps registration
// order, which is the order signatures are shown in the prompt.
type Registry struct {
	mu        sync.RWMutex
	functions map[string]*Function
	order     []string
}

// NewRegistry creates a new empty function registry.
func NewRegistry() *Registry {
	return &Registry{functions: make(map[string]*Function)}
}

// Register adds a function to the registry.
// Returns an error if a function with the same name already exists.
func (r *Registry) Register(fn *Function) error {
	if err := fn.Validate(); err != nil {
		return fmt.Errorf("invalid function: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.functions[fn.Name]; exists {
		return fmt.Errorf("%w: %s", ErrFunctionAlreadyRegistered, fn.Name)
	}
	r.functions[fn.Name] = fn
	r.order = append(r.order, fn.Name)

	logging.ProviderDebug("Registered function: %s (async=%v, params=%d)", fn.Name, fn.Async, len(fn.Params))
	return nil
}

// MustRegister registers a function and panics on error.
// Use this for static registration when a provider is built.
func (r *Registry) MustRegister(fn *Function) {
	if err := r.Register(fn); err != nil {
		panic(fmt.Sprintf("failed to register function %s: %v", fn.Name, err))
	}
}

// Get returns a function by name, or nil if not found.
func (r *Registry) Get(name string) *Function {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.functions[name]
}

// Has returns true if a function with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.functions[name]
	return ok
}

// Functions returns all functions in registration order.
func (r *Registry) Functions() []*Function {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Function, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.functions[name])
	}
	return out
}

// Names returns all registered function names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Count returns the number of registered functions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.functions)
}

// Select returns a new registry restricted to the named functions, in
// registration order. An empty list selects everything. Unknown names are
// an error so a typo in configuration is caught at startup.
func (r *Registry) Select(names []string) (*Registry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := r.functions[n]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, n)
		}
		want[n] = true
	}

	out := NewRegistry()
	for _, name := range r.order {
		if len(want) > 0 && !want[name] {
			continue
		}
		out.functions[name] = r.functions[name]
		out.order = append(out.order, name)
	}
	return out, nil
}
