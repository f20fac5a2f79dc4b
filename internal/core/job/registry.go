package job

import (
	"fmt"
	"sync"
)

// Registry maps job types to their initializers. It is an explicit object
// built once at startup and passed into the executor, never a hidden
// package-level map.
type Registry struct {
	mu    sync.RWMutex
	inits map[Type]Initializer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{inits: make(map[Type]Initializer)}
}

// Add registers an initializer. Registering the same job type twice is a
// wiring bug and returns an error.
func (r *Registry) Add(i Initializer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := i.JobType()
	if t == "" {
		return fmt.Errorf("job: initializer has empty job type")
	}
	if _, exists := r.inits[t]; exists {
		return fmt.Errorf("job: initializer for type %q already registered", t)
	}
	r.inits[t] = i
	return nil
}

// lookup returns the initializer for a job type.
func (r *Registry) lookup(t Type) (Initializer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.inits[t]
	return i, ok
}
