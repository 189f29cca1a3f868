package protocol

import (
	"context"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/methodology"
	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/module/delegated"
	"github.com/sells-group/dmrv/internal/module/oracle"
	"github.com/sells-group/dmrv/internal/module/reputation"
	"github.com/sells-group/dmrv/internal/orchestrator"
)

// Projects

func (p *Protocol) RegisterProject(ctx context.Context, caller, id, metadataURI string) (*model.Project, error) {
	return call(ctx, p, "project.register", func(ctx context.Context) (*model.Project, error) {
		return p.Projects.Register(ctx, caller, id, metadataURI)
	})
}

func (p *Protocol) SetProjectStatus(ctx context.Context, caller, id string, status model.ProjectStatus) (*model.Project, error) {
	return call(ctx, p, "project.set_status", func(ctx context.Context) (*model.Project, error) {
		return p.Projects.SetStatus(ctx, caller, id, status)
	})
}

func (p *Protocol) SetProjectMetadata(ctx context.Context, caller, id, uri string) (*model.Project, error) {
	return call(ctx, p, "project.set_metadata", func(ctx context.Context) (*model.Project, error) {
		return p.Projects.SetMetadataURI(ctx, caller, id, uri)
	})
}

func (p *Protocol) TransferProjectOwnership(ctx context.Context, caller, id, newOwner string) (*model.Project, error) {
	return call(ctx, p, "project.transfer_ownership", func(ctx context.Context) (*model.Project, error) {
		return p.Projects.TransferOwnership(ctx, caller, id, newOwner)
	})
}

// Methodologies

// AddRegistry makes an additional methodology registry available at address.
func (p *Protocol) AddRegistry(address string) *methodology.Registry {
	r := methodology.NewRegistry(address, p.store, p.Roles, p.Events)
	r.SetUsageChecker(p.Orchestrator)
	p.Registries.Add(r)
	return r
}

// ActiveRegistry returns the registry the orchestrator currently consults.
func (p *Protocol) ActiveRegistry(ctx context.Context) (*methodology.Registry, error) {
	addr, err := p.Orchestrator.MethodologyRegistry(ctx)
	if err != nil {
		return nil, err
	}
	return p.Registries.Lookup(addr)
}

func (p *Protocol) RegisterMethodology(ctx context.Context, caller string, m model.Methodology) (*model.Methodology, error) {
	return call(ctx, p, "methodology.register", func(ctx context.Context) (*model.Methodology, error) {
		r, err := p.ActiveRegistry(ctx)
		if err != nil {
			return nil, err
		}
		return r.Register(ctx, caller, m)
	})
}

func (p *Protocol) UpdateMethodology(ctx context.Context, caller string, m model.Methodology) (*model.Methodology, error) {
	return call(ctx, p, "methodology.update", func(ctx context.Context) (*model.Methodology, error) {
		r, err := p.ActiveRegistry(ctx)
		if err != nil {
			return nil, err
		}
		return r.Update(ctx, caller, m)
	})
}

func (p *Protocol) DeprecateMethodology(ctx context.Context, caller, id string) (*model.Methodology, error) {
	return call(ctx, p, "methodology.deprecate", func(ctx context.Context) (*model.Methodology, error) {
		r, err := p.ActiveRegistry(ctx)
		if err != nil {
			return nil, err
		}
		return r.Deprecate(ctx, caller, id)
	})
}

func (p *Protocol) SetMethodologyRegistry(ctx context.Context, caller, address string) error {
	return p.exec(ctx, "orchestrator.set_methodology_registry", func(ctx context.Context) error {
		return p.Orchestrator.SetMethodologyRegistry(ctx, caller, address)
	})
}

// Verifier pool

func (p *Protocol) Stake(ctx context.Context, caller string, amount int64) (*model.VerifierRecord, error) {
	return call(ctx, p, "pool.stake", func(ctx context.Context) (*model.VerifierRecord, error) {
		return p.Pool.Stake(ctx, caller, amount)
	})
}

func (p *Protocol) Unstake(ctx context.Context, caller string, amount int64) (*model.VerifierRecord, error) {
	return call(ctx, p, "pool.unstake", func(ctx context.Context) (*model.VerifierRecord, error) {
		return p.Pool.Unstake(ctx, caller, amount)
	})
}

// Claims

func (p *Protocol) SubmitClaim(ctx context.Context, caller string, req orchestrator.SubmitRequest) (*model.Claim, error) {
	return call(ctx, p, "claim.submit", func(ctx context.Context) (*model.Claim, error) {
		return p.Orchestrator.SubmitClaim(ctx, caller, req)
	})
}

func (p *Protocol) ReverseFulfillment(ctx context.Context, caller, projectID, claimID string) (*model.Claim, error) {
	return call(ctx, p, "claim.reverse", func(ctx context.Context) (*model.Claim, error) {
		return p.Orchestrator.ReverseFulfillment(ctx, caller, projectID, claimID)
	})
}

// Verifier modules

func (p *Protocol) SubmitAttestation(ctx context.Context, caller, taskID string, value int64, credentialCID string) (*reputation.Task, error) {
	return call(ctx, p, "reputation.attest", func(ctx context.Context) (*reputation.Task, error) {
		return p.Reputation.SubmitAttestation(ctx, caller, taskID, value, credentialCID)
	})
}

func (p *Protocol) RegisterDevice(ctx context.Context, caller, id, unit string, site oracle.Site) (*oracle.Device, error) {
	return call(ctx, p, "oracle.register_device", func(ctx context.Context) (*oracle.Device, error) {
		return p.Oracle.RegisterDevice(ctx, caller, id, unit, site)
	})
}

// SubmitReading records a feed reading. It satisfies oracle.Submitter so the
// poller enters through the same serialized path as every other caller.
func (p *Protocol) SubmitReading(ctx context.Context, caller string, r oracle.Reading) error {
	_, err := call(ctx, p, "oracle.submit_reading", func(ctx context.Context) (*oracle.Reading, error) {
		return p.Oracle.SubmitReading(ctx, caller, r)
	})
	return err
}

func (p *Protocol) Aggregate(ctx context.Context, caller, taskID string) (*oracle.Task, error) {
	return call(ctx, p, "oracle.aggregate", func(ctx context.Context) (*oracle.Task, error) {
		return p.Oracle.Aggregate(ctx, caller, taskID)
	})
}

// DelegatedModule returns the delegated module at address.
func (p *Protocol) DelegatedModule(address string) (*delegated.Module, error) {
	d, ok := p.Delegated[address]
	if !ok {
		return nil, apperr.New(apperr.UnknownModule, "module", address)
	}
	return d, nil
}

// Disputes

func (p *Protocol) RaiseDispute(ctx context.Context, caller, taskID, claimID string) (*model.Dispute, error) {
	return call(ctx, p, "dispute.raise", func(ctx context.Context) (*model.Dispute, error) {
		return p.Council.RaiseDispute(ctx, caller, taskID, claimID)
	})
}

func (p *Protocol) CastVote(ctx context.Context, caller, disputeID string, vote model.Vote) (*model.Dispute, error) {
	return call(ctx, p, "dispute.vote", func(ctx context.Context) (*model.Dispute, error) {
		return p.Council.CastVote(ctx, caller, disputeID, vote)
	})
}

func (p *Protocol) ResolveDispute(ctx context.Context, caller, disputeID string) (*model.Dispute, error) {
	return call(ctx, p, "dispute.resolve", func(ctx context.Context) (*model.Dispute, error) {
		return p.Council.Resolve(ctx, caller, disputeID)
	})
}

// DueDisputes lists unresolved disputes that can be resolved now.
func (p *Protocol) DueDisputes(ctx context.Context) ([]model.Dispute, error) {
	open, err := p.Council.List(ctx, true)
	if err != nil {
		return nil, err
	}
	var due []model.Dispute
	for i := range open {
		if p.Council.Ready(&open[i]) {
			due = append(due, open[i])
		}
	}
	return due, nil
}

// Ledger

func (p *Protocol) Transfer(ctx context.Context, caller, to, projectID string, amount int64) (*model.LedgerEntry, error) {
	return call(ctx, p, "ledger.transfer", func(ctx context.Context) (*model.LedgerEntry, error) {
		return p.Ledger.Transfer(ctx, caller, to, projectID, amount)
	})
}

// Roles

func (p *Protocol) GrantRole(ctx context.Context, caller, addr string, role model.Role) error {
	return p.exec(ctx, "roles.grant", func(ctx context.Context) error {
		return p.Roles.Grant(ctx, caller, addr, role)
	})
}

func (p *Protocol) RevokeRole(ctx context.Context, caller, addr string, role model.Role) error {
	return p.exec(ctx, "roles.revoke", func(ctx context.Context) error {
		return p.Roles.Revoke(ctx, caller, addr, role)
	})
}

// ListEvents returns audit events matching filter.
func (p *Protocol) ListEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	return p.store.ListEvents(ctx, filter)
}
