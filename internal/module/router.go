package module

import (
	"context"
	"sort"
	"sync"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/model"
)

// Router resolves module and receiver addresses. Deliveries carry the
// sender's address so a receiver can check who is calling.
type Router struct {
	mu        sync.RWMutex
	modules   map[string]Module
	receivers map[string]Receiver
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{
		modules:   make(map[string]Module),
		receivers: make(map[string]Receiver),
	}
}

// RegisterModule makes m resolvable by its address. Modules that also
// implement Receiver are registered as receivers.
func (r *Router) RegisterModule(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Address()] = m
	if rc, ok := m.(Receiver); ok {
		r.receivers[m.Address()] = rc
	}
}

// RegisterReceiver makes rc reachable at addr.
func (r *Router) RegisterReceiver(addr string, rc Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receivers[addr] = rc
}

// Module returns the module at addr.
func (r *Router) Module(addr string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[addr]
	if !ok {
		return nil, apperr.New(apperr.UnknownModule, "module", addr)
	}
	return m, nil
}

// Modules lists registered modules sorted by address.
func (r *Router) Modules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address() < out[j].Address() })
	return out
}

// HasReceiver reports whether results can be delivered to addr.
func (r *Router) HasReceiver(addr string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.receivers[addr]
	return ok
}

// RequireReceiver fails with Unauthorized when addr cannot receive results,
// so a task is never opened for a caller its result could not reach.
func (r *Router) RequireReceiver(addr string) error {
	if !r.HasReceiver(addr) {
		return apperr.Newf(apperr.Unauthorized, "caller", addr, "not a registered result receiver")
	}
	return nil
}

// Deliver hands res to the receiver at to, on behalf of from.
func (r *Router) Deliver(ctx context.Context, to, from, projectID, claimID string, res model.VerificationResult) error {
	r.mu.RLock()
	rc, ok := r.receivers[to]
	r.mu.RUnlock()
	if !ok {
		return apperr.New(apperr.UnknownModule, "receiver", to)
	}
	return rc.ReceiveResult(ctx, from, projectID, claimID, res)
}
