package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	// ErrUnknownFunction is returned when a definition names an unregistered function.
	ErrUnknownFunction = errors.New("unknown function")
	// ErrDuplicateFunction is returned when a name is registered twice.
	ErrDuplicateFunction = errors.New("function already registered")
)

// Registry maps function names used in definitions to implementations.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Invocable
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Invocable)}
}

// Register adds fn under name.
func (r *Registry) Register(name string, fn Invocable) error {
	if name == "" || fn == nil {
		return fmt.Errorf("%w: register %q", ErrInvalidStep, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.funcs[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateFunction, name)
	}

	r.funcs[name] = fn

	return nil
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Invocable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}

	return fn, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}
