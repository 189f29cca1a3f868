package methodology

import (
	"sort"
	"sync"

	"github.com/sells-group/dmrv/internal/apperr"
)

// Directory resolves registry addresses to registries, so the orchestrator
// can be pointed at a different catalog without redeploying it.
type Directory struct {
	mu         sync.RWMutex
	registries map[string]*Registry
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{registries: make(map[string]*Registry)}
}

// Add makes r resolvable by its address.
func (d *Directory) Add(r *Registry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registries[r.Address()] = r
}

// Lookup returns the registry at address.
func (d *Directory) Lookup(address string) (*Registry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.registries[address]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "methodology_registry", address)
	}
	return r, nil
}

// Addresses lists known registry addresses in sorted order.
func (d *Directory) Addresses() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.registries))
	for a := range d.registries {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
