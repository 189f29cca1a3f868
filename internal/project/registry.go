// Package project owns project identity and the four-state project
// lifecycle.
package project

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

// RoleChecker authorizes role-gated transitions.
type RoleChecker interface {
	Require(ctx context.Context, addr string, roles ...model.Role) error
}

type transition struct {
	from, to model.ProjectStatus
}

// transitions lists every allowed status change and the roles that may
// perform it.
var transitions = map[transition][]model.Role{
	{model.ProjectPending, model.ProjectActive}:  {model.RoleVerifier},
	{model.ProjectActive, model.ProjectPaused}:   {model.RoleAdmin},
	{model.ProjectPaused, model.ProjectActive}:   {model.RoleAdmin, model.RoleVerifier},
	{model.ProjectActive, model.ProjectArchived}: {model.RoleAdmin},
	{model.ProjectPaused, model.ProjectArchived}: {model.RoleAdmin},
}

// Registry is the sole writer of Project records.
type Registry struct {
	store  store.Store
	roles  RoleChecker
	events *events.Recorder
	Now    func() time.Time
}

// NewRegistry returns a Registry backed by s.
func NewRegistry(s store.Store, roles RoleChecker, rec *events.Recorder) *Registry {
	return &Registry{store: s, roles: roles, events: rec, Now: time.Now}
}

// Register creates a Pending project owned by caller.
func (r *Registry) Register(ctx context.Context, caller, id, metadataURI string) (*model.Project, error) {
	if !model.ValidID(id) {
		return nil, apperr.Newf(apperr.InvalidInput, "project", id, "id must be non-empty and free of '/'")
	}
	if caller == "" {
		return nil, apperr.New(apperr.ZeroOwner, "project", id)
	}
	now := r.Now().UTC()
	p := &model.Project{
		ID:          id,
		MetadataURI: metadataURI,
		Owner:       caller,
		Status:      model.ProjectPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := store.Insert(ctx, r.store, model.KindProject, id, p)
	if errors.Is(err, store.ErrConflict) {
		return nil, apperr.New(apperr.DuplicateID, "project", id)
	}
	if err != nil {
		return nil, err
	}
	if err := r.events.Append(ctx, events.ProjectRegistered, model.KindProject, id, caller,
		events.Payload{"metadata_uri": metadataURI, "owner": caller}); err != nil {
		return nil, err
	}
	zap.L().Info("project: registered", zap.String("project_id", id), zap.String("owner", caller))
	return p, nil
}

// Get returns the project or NotFound.
func (r *Registry) Get(ctx context.Context, id string) (*model.Project, error) {
	p, err := store.Load[model.Project](ctx, r.store, model.KindProject, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "project", id)
	}
	return p, err
}

// List returns every project in registration order.
func (r *Registry) List(ctx context.Context) ([]model.Project, error) {
	return store.LoadAll[model.Project](ctx, r.store, model.KindProject, "")
}

// IsActive reports whether the project exists and is Active.
func (r *Registry) IsActive(ctx context.Context, id string) (bool, error) {
	p, err := r.Get(ctx, id)
	if apperr.Is(err, apperr.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Status == model.ProjectActive, nil
}

// SetStatus applies a role-gated lifecycle transition.
func (r *Registry) SetStatus(ctx context.Context, caller, id string, status model.ProjectStatus) (*model.Project, error) {
	if !status.Valid() {
		return nil, apperr.Newf(apperr.InvalidInput, "project", id, "unknown status %q", status)
	}
	p, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(p.Status, status); err != nil {
		err.ID = id
		return nil, err
	}
	if err := r.roles.Require(ctx, caller, transitions[transition{p.Status, status}]...); err != nil {
		return nil, err
	}

	from := p.Status
	p.Status = status
	p.UpdatedAt = r.Now().UTC()
	if err := store.Save(ctx, r.store, model.KindProject, id, p); err != nil {
		return nil, err
	}
	if err := r.events.Append(ctx, events.ProjectStatusChanged, model.KindProject, id, caller,
		events.Payload{"from": from, "to": status}); err != nil {
		return nil, err
	}
	zap.L().Info("project: status changed",
		zap.String("project_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
	)
	return p, nil
}

// checkTransition validates from→to against the lifecycle rules, without
// regard to the caller's role.
func checkTransition(from, to model.ProjectStatus) *apperr.Error {
	switch {
	case from == model.ProjectArchived:
		return apperr.New(apperr.ArchivedImmutable, "project", "")
	case from == to:
		return apperr.New(apperr.SameStatus, "project", "")
	case to == model.ProjectPending:
		return apperr.Newf(apperr.InvalidTransition, "project", "", "%s -> %s", from, to)
	case from == model.ProjectPending && to == model.ProjectPaused:
		return apperr.New(apperr.InvalidPauseState, "project", "")
	}
	if _, ok := transitions[transition{from, to}]; !ok {
		return apperr.Newf(apperr.InvalidTransition, "project", "", "%s -> %s", from, to)
	}
	return nil
}

// SetMetadataURI replaces the project's metadata reference. Owner only.
func (r *Registry) SetMetadataURI(ctx context.Context, caller, id, uri string) (*model.Project, error) {
	p, err := r.ownedBy(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if p.Status == model.ProjectArchived {
		return nil, apperr.New(apperr.ArchivedImmutable, "project", id)
	}
	old := p.MetadataURI
	p.MetadataURI = uri
	p.UpdatedAt = r.Now().UTC()
	if err := store.Save(ctx, r.store, model.KindProject, id, p); err != nil {
		return nil, err
	}
	return p, r.events.Append(ctx, events.ProjectMetadataChanged, model.KindProject, id, caller,
		events.Payload{"from": old, "to": uri})
}

// TransferOwnership hands the project to newOwner. Owner only.
func (r *Registry) TransferOwnership(ctx context.Context, caller, id, newOwner string) (*model.Project, error) {
	p, err := r.ownedBy(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if newOwner == "" {
		return nil, apperr.New(apperr.ZeroOwner, "project", id)
	}
	old := p.Owner
	p.Owner = newOwner
	p.UpdatedAt = r.Now().UTC()
	if err := store.Save(ctx, r.store, model.KindProject, id, p); err != nil {
		return nil, err
	}
	return p, r.events.Append(ctx, events.ProjectOwnerTransferred, model.KindProject, id, caller,
		events.Payload{"from": old, "to": newOwner})
}

func (r *Registry) ownedBy(ctx context.Context, caller, id string) (*model.Project, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Owner != caller {
		return nil, apperr.New(apperr.NotOwner, "project", id)
	}
	return p, nil
}
