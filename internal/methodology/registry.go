// Package methodology catalogs the verification standards claims are
// submitted under and the module address that executes each one.
package methodology

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/events"
	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/store"
)

// RoleChecker authorizes governance operations.
type RoleChecker interface {
	Require(ctx context.Context, addr string, roles ...model.Role) error
}

// UsageChecker reports whether an in-flight claim references a methodology.
type UsageChecker interface {
	MethodologyInUse(ctx context.Context, registry, methodologyID string) (bool, error)
}

// Registry is one methodology catalog. Several registries can coexist in the
// same store; each is identified by its address and namespaces its records
// under it.
type Registry struct {
	address string
	store   store.Store
	roles   RoleChecker
	events  *events.Recorder
	usage   UsageChecker
	Now     func() time.Time
}

// NewRegistry returns the registry identified by address.
func NewRegistry(address string, s store.Store, roles RoleChecker, rec *events.Recorder) *Registry {
	return &Registry{address: address, store: s, roles: roles, events: rec, Now: time.Now}
}

// SetUsageChecker installs the in-flight claim check consulted by Update.
func (r *Registry) SetUsageChecker(u UsageChecker) {
	r.usage = u
}

// Address identifies the registry.
func (r *Registry) Address() string {
	return r.address
}

func (r *Registry) key(id string) string {
	return r.address + "/" + id
}

// Register adds a methodology. Governance only.
func (r *Registry) Register(ctx context.Context, caller string, m model.Methodology) (*model.Methodology, error) {
	if err := r.roles.Require(ctx, caller, model.RoleGovernance); err != nil {
		return nil, err
	}
	return r.insert(ctx, caller, m)
}

func (r *Registry) insert(ctx context.Context, caller string, m model.Methodology) (*model.Methodology, error) {
	if err := validate(m); err != nil {
		return nil, err
	}
	now := r.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	err := store.Insert(ctx, r.store, model.KindMethodology, r.key(m.ID), m)
	if errors.Is(err, store.ErrConflict) {
		return nil, apperr.New(apperr.DuplicateID, "methodology", m.ID)
	}
	if err != nil {
		return nil, err
	}
	if err := r.events.Append(ctx, events.MethodologyRegistered, model.KindMethodology, m.ID, caller,
		events.Payload{"registry": r.address, "module": m.ModuleAddress, "version": m.Version}); err != nil {
		return nil, err
	}
	zap.L().Info("methodology: registered",
		zap.String("registry", r.address),
		zap.String("methodology_id", m.ID),
		zap.String("module", m.ModuleAddress),
	)
	return &m, nil
}

// Update replaces a methodology's record. Governance only. A methodology
// referenced by an in-flight claim is immutable, and a deprecated one can
// never be re-approved.
func (r *Registry) Update(ctx context.Context, caller string, m model.Methodology) (*model.Methodology, error) {
	if err := r.roles.Require(ctx, caller, model.RoleGovernance); err != nil {
		return nil, err
	}
	if err := validate(m); err != nil {
		return nil, err
	}
	cur, err := r.Get(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if cur.IsDeprecated {
		return nil, apperr.Newf(apperr.Deprecated, "methodology", m.ID, "deprecated methodologies cannot be updated")
	}
	if r.usage != nil {
		inUse, err := r.usage.MethodologyInUse(ctx, r.address, m.ID)
		if err != nil {
			return nil, err
		}
		if inUse {
			return nil, apperr.New(apperr.MethodologyInUse, "methodology", m.ID)
		}
	}

	m.IsDeprecated = false
	m.CreatedAt = cur.CreatedAt
	m.UpdatedAt = r.Now().UTC()
	if err := store.Save(ctx, r.store, model.KindMethodology, r.key(m.ID), m); err != nil {
		return nil, err
	}
	return &m, r.events.Append(ctx, events.MethodologyUpdated, model.KindMethodology, m.ID, caller,
		events.Payload{"registry": r.address, "module": m.ModuleAddress, "version": m.Version, "approved": m.IsApproved})
}

// Deprecate flips the one-way deprecation flag. Governance only.
func (r *Registry) Deprecate(ctx context.Context, caller, id string) (*model.Methodology, error) {
	if err := r.roles.Require(ctx, caller, model.RoleGovernance); err != nil {
		return nil, err
	}
	m, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.IsDeprecated {
		return nil, apperr.New(apperr.AlreadyDeprecated, "methodology", id)
	}
	m.IsDeprecated = true
	m.UpdatedAt = r.Now().UTC()
	if err := store.Save(ctx, r.store, model.KindMethodology, r.key(id), m); err != nil {
		return nil, err
	}
	zap.L().Info("methodology: deprecated", zap.String("registry", r.address), zap.String("methodology_id", id))
	return m, r.events.Append(ctx, events.MethodologyDeprecated, model.KindMethodology, id, caller,
		events.Payload{"registry": r.address})
}

// Get returns the methodology or NotFound.
func (r *Registry) Get(ctx context.Context, id string) (*model.Methodology, error) {
	m, err := store.Load[model.Methodology](ctx, r.store, model.KindMethodology, r.key(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "methodology", id)
	}
	return m, err
}

// IsValid reports whether new tasks may start under id. Unknown ids are
// invalid.
func (r *Registry) IsValid(ctx context.Context, id string) (bool, error) {
	m, err := r.Get(ctx, id)
	if apperr.Is(err, apperr.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.Valid(), nil
}

// List returns every methodology in this registry.
func (r *Registry) List(ctx context.Context) ([]model.Methodology, error) {
	return store.LoadAll[model.Methodology](ctx, r.store, model.KindMethodology, r.address+"/")
}

// Seed inserts catalog entries that are not yet registered, without a role
// check. Used at bootstrap.
func (r *Registry) Seed(ctx context.Context, ms []model.Methodology) (int, error) {
	var added int
	for _, m := range ms {
		_, err := r.insert(ctx, "bootstrap", m)
		if apperr.Is(err, apperr.DuplicateID) {
			continue
		}
		if err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

func validate(m model.Methodology) error {
	if !model.ValidID(m.ID) {
		return apperr.Newf(apperr.InvalidInput, "methodology", m.ID, "id must be non-empty and free of '/'")
	}
	if m.ModuleAddress == "" {
		return apperr.New(apperr.ZeroAddress, "methodology", m.ID)
	}
	if m.Version < 0 {
		return apperr.Newf(apperr.InvalidInput, "methodology", m.ID, "negative version")
	}
	return nil
}
