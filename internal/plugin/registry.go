package plugin

import (
	"fmt"
	"sync"
)

// Registry holds loaded plugin descriptions indexed by name, remembering load
// order.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Info
	order   []string
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Info),
	}
}

// Get retrieves a plugin by name.
func (r *Registry) Get(name string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// All returns the registered plugins in load order.
func (r *Registry) All() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.plugins[name])
	}
	return out
}

// Visible returns the registered plugins that are not hidden, in load order.
func (r *Registry) Visible() []Info {
	var out []Info
	for _, info := range r.All() {
		if !info.Hidden {
			out = append(out, info)
		}
	}
	return out
}

// Add registers a plugin in the registry.
func (r *Registry) Add(info Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[info.Name]; exists {
		return fmt.Errorf("plugin %q already registered", info.Name)
	}
	r.plugins[info.Name] = info
	r.order = append(r.order, info.Name)
	return nil
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
