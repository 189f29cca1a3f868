// Package testutil holds fixtures shared by component tests.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/dmrv/internal/access"
	"github.com/sells-group/dmrv/internal/events"
	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/store"
)

// Well-known addresses used across component tests.
const (
	Admin        = "0xadmin"
	Governance   = "0xgov"
	Verifier     = "0xverifier"
	Owner        = "0xowner"
	Orchestrator = "0xorchestrator"
	Council      = "0xcouncil"
)

// NewStore opens a migrated SQLite store under t.TempDir.
func NewStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

// NewRoles returns an Authorizer with admin, governance and verifier grants
// for the well-known addresses plus any extra grants.
func NewRoles(t *testing.T, s store.Store, extra map[model.Role][]string) *access.Authorizer {
	t.Helper()
	a := access.New(s, events.NewRecorder(s))
	grants := map[model.Role][]string{
		model.RoleAdmin:      {Admin},
		model.RoleGovernance: {Governance},
		model.RoleVerifier:   {Verifier},
	}
	for role, addrs := range extra {
		grants[role] = append(grants[role], addrs...)
	}
	require.NoError(t, a.Bootstrap(context.Background(), grants))
	return a
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock fixed at a deterministic instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the current instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Projects is a ProjectChecker over a fixed set of active project ids.
type Projects map[string]bool

// IsActive reports whether id is in the set and marked active.
func (p Projects) IsActive(_ context.Context, id string) (bool, error) {
	return p[id], nil
}

// Delivery is one result seen by a Receiver.
type Delivery struct {
	From      string
	ProjectID string
	ClaimID   string
	Result    model.VerificationResult
}

// Receiver records every result delivered to it.
type Receiver struct {
	mu         sync.Mutex
	Deliveries []Delivery
	Err        error
}

// ReceiveResult records the delivery and returns r.Err.
func (r *Receiver) ReceiveResult(_ context.Context, from, projectID, claimID string, res model.VerificationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Deliveries = append(r.Deliveries, Delivery{From: from, ProjectID: projectID, ClaimID: claimID, Result: res})
	return nil
}

// Count returns the number of deliveries so far.
func (r *Receiver) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Deliveries)
}
