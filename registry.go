package livepatch

import (
	"fmt"
	"sync"
)

// Registry stores the live types of an Image by name.
// The first type registered under a name stays the live one.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*TypeHandle
	order []string
}

func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]*TypeHandle),
	}
}

// Register makes t the live type for its name.
func (r *Registry) Register(t *TypeHandle) error {
	if r == nil {
		return fmt.Errorf("register type: registry is nil")
	}
	if t == nil {
		return fmt.Errorf("register type: type is nil")
	}
	if t.name == "" {
		return fmt.Errorf("register type: name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[t.name]; exists {
		return DuplicateTypeError{Name: t.name}
	}
	r.types[t.name] = t
	r.order = append(r.order, t.name)
	return nil
}

// MustRegister panics on registration error; intended for bootstrap code paths.
func (r *Registry) MustRegister(t *TypeHandle) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (*TypeHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
