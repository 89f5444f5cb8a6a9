package vm

import "sync"

// Registry is the process-wide map of running VMs, constructed once at
// startup and injected rather than kept as a package global, so tests can
// use isolated instances. It short-circuits lookups for in-process VMs; the
// advisory lock remains the cross-process source of truth.
type Registry struct {
	mu  sync.Mutex
	vms map[string]*VM
}

// NewRegistry creates an empty running-VM registry.
func NewRegistry() *Registry {
	return &Registry{vms: make(map[string]*VM)}
}

// Add records a VM as running under its normalized name.
func (r *Registry) Add(name string, v *VM) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vms[name] = v
}

// Get returns the running VM for name, or nil.
func (r *Registry) Get(name string) *VM {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vms[name]
}

// Remove drops the entry for name. Missing entries are ignored so cleanup
// paths can call it unconditionally.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.vms, name)
}

// Names lists the currently registered VM names.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.vms))
	for n := range r.vms {
		names = append(names, n)
	}
	return names
}
