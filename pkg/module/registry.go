package module

import (
	"fmt"
	"sync"

	"github.com/bft-labs/gracehost/internal/domain"
)

// UseOption customizes a registration.
type UseOption func(*domain.ModuleDescriptor)

// WithConfigName reads the module's configuration from key instead of its
// name.
func WithConfigName(key string) UseOption {
	return func(d *domain.ModuleDescriptor) {
		if key != "" {
			d.ConfigKey = key
		}
	}
}

// Registry holds module descriptors in registration order and the loaded
// instances.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	descs     map[string]*domain.ModuleDescriptor
	instances map[string]Module
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		descs:     make(map[string]*domain.ModuleDescriptor),
		instances: make(map[string]Module),
	}
}

// Use registers a module. Registering the same name with the same source
// again is a no-op; a conflicting registration returns ErrDuplicateModule.
func (r *Registry) Use(name, pathOverride string, opts ...UseOption) error {
	if name == "" {
		return fmt.Errorf("%w: empty module name", domain.ErrModuleConfig)
	}
	d := domain.ModuleDescriptor{Name: name, PathOverride: pathOverride, ConfigKey: name}
	for _, opt := range opts {
		opt(&d)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.descs[name]; ok {
		if prev.SameSource(d) {
			return nil
		}
		return &domain.ModuleError{Module: name, Err: domain.ErrDuplicateModule}
	}
	r.descs[name] = &d
	r.order = append(r.order, name)
	return nil
}

// Descriptors returns copies of the descriptors in registration order.
func (r *Registry) Descriptors() []domain.ModuleDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ModuleDescriptor, len(r.order))
	for i, name := range r.order {
		out[i] = *r.descs[name]
	}
	return out
}

// Module returns a loaded module by name.
func (r *Registry) Module(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.instances[name]
	return m, ok
}

// Loaded returns the names of loaded modules in load order.
func (r *Registry) Loaded() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, name := range r.order {
		if r.descs[name].Loaded {
			out = append(out, name)
		}
	}
	return out
}

// Reset forgets loaded instances so the modules can be loaded again.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.descs {
		d.Loaded = false
		d.ResolvedPath = ""
	}
	r.instances = make(map[string]Module)
}

func (r *Registry) resolved(name, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descs[name].ResolvedPath = path
}

func (r *Registry) attach(name string, m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descs[name].Loaded = true
	r.instances[name] = m
}
