package rules

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages rule declarations by name.
type Registry interface {
	// Register adds a declaration; names are unique.
	Register(decl Declaration) error

	// Get returns the declaration registered under name.
	Get(name string) (Declaration, error)

	// Resolve returns the declarations for names, in the given order.
	Resolve(names []string) ([]Declaration, error)

	// List returns every declaration sorted by name.
	List() []Declaration
}

// InMemoryRegistry implements Registry using a map guarded by an RWMutex.
type InMemoryRegistry struct {
	decls map[string]Declaration
	mu    sync.RWMutex
}

// NewInMemoryRegistry creates an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		decls: make(map[string]Declaration),
	}
}

// Register validates decl before storing it.
func (r *InMemoryRegistry) Register(decl Declaration) error {
	if err := decl.Validate(); err != nil {
		return fmt.Errorf("invalid declaration: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.decls[decl.Name]; exists {
		return fmt.Errorf("rule %s already registered", decl.Name)
	}
	r.decls[decl.Name] = decl
	return nil
}

func (r *InMemoryRegistry) Get(name string) (Declaration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	decl, exists := r.decls[name]
	if !exists {
		return Declaration{}, fmt.Errorf("rule %s not found", name)
	}
	return decl, nil
}

func (r *InMemoryRegistry) Resolve(names []string) ([]Declaration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Declaration, 0, len(names))
	var unknown []string
	for _, name := range names {
		decl, exists := r.decls[name]
		if !exists {
			unknown = append(unknown, name)
			continue
		}
		out = append(out, decl)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown rules: %v", unknown)
	}
	return out, nil
}

func (r *InMemoryRegistry) List() []Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Declaration, 0, len(r.decls))
	for _, decl := range r.decls {
		out = append(out, decl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
