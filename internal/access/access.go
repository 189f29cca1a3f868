// Package access keeps role grants and answers role checks for the
// role-gated operations of every component.
package access

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/events"
	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/store"
)

// Authorizer stores role grants as records.
type Authorizer struct {
	store  store.Store
	events *events.Recorder
}

// New returns an Authorizer backed by s.
func New(s store.Store, rec *events.Recorder) *Authorizer {
	return &Authorizer{store: s, events: rec}
}

func grantID(role model.Role, addr string) string {
	return string(role) + "/" + addr
}

func (a *Authorizer) load(ctx context.Context, addr string, role model.Role) (*model.RoleGrant, error) {
	g, err := store.Load[model.RoleGrant](ctx, a.store, model.KindRoleGrant, grantID(role, addr))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return g, err
}

// HasRole reports whether addr holds role.
func (a *Authorizer) HasRole(ctx context.Context, addr string, role model.Role) (bool, error) {
	if addr == "" {
		return false, nil
	}
	g, err := a.load(ctx, addr, role)
	if err != nil {
		return false, err
	}
	return g != nil && !g.Revoked, nil
}

// Require fails with Unauthorized unless addr holds at least one of roles.
func (a *Authorizer) Require(ctx context.Context, addr string, roles ...model.Role) error {
	for _, r := range roles {
		ok, err := a.HasRole(ctx, addr, r)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return apperr.Newf(apperr.Unauthorized, "caller", addr, "requires role %v", roles)
}

// Grant gives addr the role. Only admins may grant.
func (a *Authorizer) Grant(ctx context.Context, caller, addr string, role model.Role) error {
	if err := a.Require(ctx, caller, model.RoleAdmin); err != nil {
		return err
	}
	return a.grant(ctx, caller, addr, role)
}

func (a *Authorizer) grant(ctx context.Context, caller, addr string, role model.Role) error {
	if addr == "" {
		return apperr.New(apperr.ZeroAddress, "role_grant", string(role))
	}
	g, err := a.load(ctx, addr, role)
	if err != nil {
		return err
	}
	if g != nil && !g.Revoked {
		return nil
	}
	if err := store.Save(ctx, a.store, model.KindRoleGrant, grantID(role, addr),
		model.RoleGrant{Address: addr, Role: role, GrantedBy: caller}); err != nil {
		return err
	}
	return a.events.Append(ctx, events.RoleGranted, model.KindRoleGrant, grantID(role, addr), caller,
		events.Payload{"address": addr, "role": role})
}

// Revoke removes the role from addr. Only admins may revoke, and an admin
// cannot revoke its own admin role.
func (a *Authorizer) Revoke(ctx context.Context, caller, addr string, role model.Role) error {
	if err := a.Require(ctx, caller, model.RoleAdmin); err != nil {
		return err
	}
	if role == model.RoleAdmin && addr == caller {
		return apperr.Newf(apperr.InvalidInput, "role_grant", grantID(role, addr), "cannot revoke own admin role")
	}
	g, err := a.load(ctx, addr, role)
	if err != nil {
		return err
	}
	if g == nil || g.Revoked {
		return apperr.New(apperr.NotFound, "role_grant", grantID(role, addr))
	}
	g.Revoked = true
	if err := store.Save(ctx, a.store, model.KindRoleGrant, grantID(role, addr), g); err != nil {
		return err
	}
	return a.events.Append(ctx, events.RoleRevoked, model.KindRoleGrant, grantID(role, addr), caller,
		events.Payload{"address": addr, "role": role})
}

// Bootstrap installs the configured grants without an authorization check.
// It is idempotent and runs once at deployment.
func (a *Authorizer) Bootstrap(ctx context.Context, grants map[model.Role][]string) error {
	for role, addrs := range grants {
		for _, addr := range addrs {
			if addr == "" {
				continue
			}
			if err := a.grant(ctx, "bootstrap", addr, role); err != nil {
				return err
			}
		}
	}
	zap.L().Debug("access: bootstrap grants applied", zap.Int("roles", len(grants)))
	return nil
}

// Members lists the addresses currently holding role.
func (a *Authorizer) Members(ctx context.Context, role model.Role) ([]string, error) {
	grants, err := store.LoadAll[model.RoleGrant](ctx, a.store, model.KindRoleGrant, string(role)+"/")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, g := range grants {
		if !g.Revoked {
			out = append(out, g.Address)
		}
	}
	return out, nil
}
