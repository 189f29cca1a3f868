// Package orchestrator owns the claim lifecycle: it validates submissions,
// dispatches them to the methodology's verifier module, accepts the
// fulfillment callback and drives minting and reversal on the ledger.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/events"
	"github.com/sells-group/dmrv/internal/guard"
	"github.com/sells-group/dmrv/internal/methodology"
	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/module"
	"github.com/sells-group/dmrv/internal/store"
)

// Reversal policies.
const (
	PolicyHolderBalance = "holder_balance"
	PolicyClawback      = "clawback"
)

const registrySetting = "orchestrator.methodology_registry"

// Ledger is the credit boundary the orchestrator mints into and burns from.
type Ledger interface {
	Mint(ctx context.Context, caller, recipient, projectID string, amount int64, evidenceRef string) (*model.LedgerEntry, error)
	Burn(ctx context.Context, caller, holder, projectID string, amount int64) (int64, error)
	Clawback(ctx context.Context, caller, holder string, amount int64, excludeProject string) (int64, error)
}

// Projects resolves projects by id.
type Projects interface {
	Get(ctx context.Context, id string) (*model.Project, error)
}

// Registries resolves methodology registry addresses.
type Registries interface {
	Lookup(address string) (*methodology.Registry, error)
}

// RoleChecker gates governance operations.
type RoleChecker interface {
	Require(ctx context.Context, addr string, roles ...model.Role) error
}

// Config wires addresses and policy.
type Config struct {
	Address         string
	Council         string
	DefaultRegistry string
	ReversalPolicy  string
}

// SubmitRequest describes a new claim. ClaimID is generated when empty and
// Beneficiary defaults to the project owner.
type SubmitRequest struct {
	ProjectID     string `json:"project_id"`
	ClaimID       string `json:"claim_id,omitempty"`
	MethodologyID string `json:"methodology_id"`
	EvidenceURI   string `json:"evidence_uri"`
	Beneficiary   string `json:"beneficiary,omitempty"`
}

// Orchestrator is the sole writer of Claim records.
type Orchestrator struct {
	cfg        Config
	store      store.Store
	projects   Projects
	registries Registries
	router     *module.Router
	ledger     Ledger
	roles      RoleChecker
	events     *events.Recorder
	guard      guard.Guard
	Now        func() time.Time
}

var (
	_ module.Receiver          = (*Orchestrator)(nil)
	_ methodology.UsageChecker = (*Orchestrator)(nil)
)

// New returns an Orchestrator.
func New(cfg Config, s store.Store, projects Projects, registries Registries, router *module.Router, ledger Ledger, roles RoleChecker, rec *events.Recorder) *Orchestrator {
	if cfg.ReversalPolicy == "" {
		cfg.ReversalPolicy = PolicyHolderBalance
	}
	return &Orchestrator{
		cfg:        cfg,
		store:      s,
		projects:   projects,
		registries: registries,
		router:     router,
		ledger:     ledger,
		roles:      roles,
		events:     rec,
		guard:      guard.New("orchestrator"),
		Now:        time.Now,
	}
}

// Address is the orchestrator's own address, used as the minter.
func (o *Orchestrator) Address() string { return o.cfg.Address }

// MethodologyRegistry returns the address of the registry in use.
func (o *Orchestrator) MethodologyRegistry(ctx context.Context) (string, error) {
	s, err := store.Load[setting](ctx, o.store, model.KindSetting, registrySetting)
	if errors.Is(err, store.ErrNotFound) {
		return o.cfg.DefaultRegistry, nil
	}
	if err != nil {
		return "", err
	}
	return s.Value, nil
}

type setting struct {
	Value string `json:"value"`
}

func (o *Orchestrator) registry(ctx context.Context) (*methodology.Registry, error) {
	addr, err := o.MethodologyRegistry(ctx)
	if err != nil {
		return nil, err
	}
	return o.registries.Lookup(addr)
}

// SetMethodologyRegistry points the orchestrator at another registry.
// Governance only.
func (o *Orchestrator) SetMethodologyRegistry(ctx context.Context, caller, address string) error {
	if err := o.roles.Require(ctx, caller, model.RoleGovernance); err != nil {
		return err
	}
	if address == "" {
		return apperr.New(apperr.ZeroAddress, "methodology_registry", address)
	}
	if _, err := o.registries.Lookup(address); err != nil {
		return err
	}
	prev, err := o.MethodologyRegistry(ctx)
	if err != nil {
		return err
	}
	if err := store.Save(ctx, o.store, model.KindSetting, registrySetting, setting{Value: address}); err != nil {
		return err
	}
	zap.L().Info("orchestrator: methodology registry swapped", zap.String("from", prev), zap.String("to", address))
	return o.events.Append(ctx, events.RegistrySwapped, model.KindSetting, registrySetting, caller,
		events.Payload{"from": prev, "to": address})
}

// SubmitClaim validates req and dispatches it to the methodology's module.
func (o *Orchestrator) SubmitClaim(ctx context.Context, caller string, req SubmitRequest) (*model.Claim, error) {
	ctx, err := o.guard.Enter(ctx)
	if err != nil {
		return nil, err
	}

	p, err := o.projects.Get(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if caller != p.Owner {
		return nil, apperr.Newf(apperr.NotOwner, "project", p.ID, "%s is not the owner", caller)
	}
	reg, err := o.registry(ctx)
	if err != nil {
		return nil, err
	}
	m, err := reg.Get(ctx, req.MethodologyID)
	if apperr.Is(err, apperr.NotFound) || (err == nil && !m.Valid()) {
		return nil, apperr.New(apperr.InvalidMethodology, "methodology", req.MethodologyID)
	}
	if err != nil {
		return nil, err
	}
	if p.Status != model.ProjectActive {
		return nil, apperr.Newf(apperr.ProjectNotActive, "project", p.ID, "status %s", p.Status)
	}
	if req.ClaimID == "" {
		req.ClaimID = uuid.NewString()
	} else if !model.ValidID(req.ClaimID) {
		return nil, apperr.Newf(apperr.InvalidInput, "claim", req.ClaimID, "claim id may not contain '/'")
	}
	mod, err := o.router.Module(m.ModuleAddress)
	if err != nil {
		return nil, err
	}
	if req.Beneficiary == "" {
		req.Beneficiary = p.Owner
	}
	if !model.ValidID(req.Beneficiary) {
		return nil, apperr.Newf(apperr.InvalidInput, "claim", req.ClaimID, "beneficiary %q may not contain '/'", req.Beneficiary)
	}

	now := o.Now().UTC()
	c := &model.Claim{
		ProjectID:           p.ID,
		ClaimID:             req.ClaimID,
		MethodologyID:       m.ID,
		MethodologyRegistry: reg.Address(),
		EvidenceURI:         req.EvidenceURI,
		ModuleAddress:       m.ModuleAddress,
		Submitter:           caller,
		Beneficiary:         req.Beneficiary,
		Status:              model.ClaimSubmitted,
		SubmittedAt:         now,
		UpdatedAt:           now,
	}
	err = store.Insert(ctx, o.store, model.KindClaim, c.Key(), c)
	if errors.Is(err, store.ErrConflict) {
		return nil, apperr.New(apperr.DuplicateID, "claim", c.Key())
	}
	if err != nil {
		return nil, err
	}
	if err := o.events.Append(ctx, events.ClaimSubmitted, model.KindClaim, c.Key(), caller, events.Payload{
		"methodology_id": m.ID,
		"module":         m.ModuleAddress,
		"evidence_uri":   req.EvidenceURI,
	}); err != nil {
		return nil, err
	}

	taskID, err := mod.StartVerificationTask(ctx, o.cfg.Address, c.ProjectID, c.ClaimID, c.EvidenceURI)
	if err != nil {
		return nil, err
	}
	c.TaskID = taskID
	c.Status = model.ClaimDelegated
	if err := o.save(ctx, c); err != nil {
		return nil, err
	}
	err = store.Insert(ctx, o.store, model.KindTaskIndex, taskID, taskIndex{ClaimKey: c.Key()})
	if errors.Is(err, store.ErrConflict) {
		return nil, apperr.Newf(apperr.DuplicateID, "task", taskID, "task already bound to a claim")
	}
	if err != nil {
		return nil, err
	}
	if err := o.events.Append(ctx, events.ClaimDelegated, model.KindClaim, c.Key(), o.cfg.Address,
		events.Payload{"task_id": taskID, "module": m.ModuleAddress, "module_name": mod.Name()}); err != nil {
		return nil, err
	}
	zap.L().Info("orchestrator: claim delegated",
		zap.String("claim", c.Key()),
		zap.String("module", mod.Name()),
		zap.String("task_id", taskID),
	)
	return c, nil
}

type taskIndex struct {
	ClaimKey string `json:"claim_key"`
}

// ReceiveResult accepts a module delivery as a fulfillment.
func (o *Orchestrator) ReceiveResult(ctx context.Context, from, projectID, claimID string, res model.VerificationResult) error {
	_, err := o.FulfillVerification(ctx, from, projectID, claimID, res)
	return err
}

// FulfillVerification records the module's result and mints the outcome to
// the claim's beneficiary. Only the module recorded at submission may call
// it, and only once.
func (o *Orchestrator) FulfillVerification(ctx context.Context, caller, projectID, claimID string, res model.VerificationResult) (*model.Claim, error) {
	ctx, err := o.guard.Enter(ctx)
	if err != nil {
		return nil, err
	}
	c, err := o.GetClaim(ctx, projectID, claimID)
	if err != nil {
		return nil, err
	}
	if caller == "" || caller != c.ModuleAddress {
		return nil, apperr.Newf(apperr.UnauthorizedModule, "claim", c.Key(), "result from %s", caller)
	}
	if c.Status != model.ClaimDelegated {
		return nil, apperr.Newf(apperr.AlreadyFulfilled, "claim", c.Key(), "status %s", c.Status)
	}
	if res.QuantitativeOutcome < 0 {
		return nil, apperr.Newf(apperr.InvalidInput, "claim", c.Key(), "negative outcome")
	}

	now := o.Now().UTC()
	c.Status = model.ClaimFulfilled
	c.Result = &res
	c.MintedAmount = res.QuantitativeOutcome
	c.FulfilledAt = &now
	if err := o.save(ctx, c); err != nil {
		return nil, err
	}
	if err := o.events.Append(ctx, events.ClaimFulfilled, model.KindClaim, c.Key(), caller, events.Payload{
		"outcome":        res.QuantitativeOutcome,
		"credential_cid": res.CredentialCID,
		"arbitrated":     res.WasArbitrated,
		"dispute_id":     res.ArbitrationDisputeID,
	}); err != nil {
		return nil, err
	}

	if res.QuantitativeOutcome > 0 {
		if _, err := o.ledger.Mint(ctx, o.cfg.Address, c.Beneficiary, c.ProjectID, res.QuantitativeOutcome, c.Key()); err != nil {
			return nil, err
		}
	}
	zap.L().Info("orchestrator: claim fulfilled",
		zap.String("claim", c.Key()),
		zap.Int64("minted", res.QuantitativeOutcome),
		zap.Bool("arbitrated", res.WasArbitrated),
	)
	return c, nil
}

func (o *Orchestrator) requireCouncil(caller, claimKey string) error {
	if caller == "" || caller != o.cfg.Council {
		return apperr.Newf(apperr.Unauthorized, "claim", claimKey, "only the arbitration council may do this")
	}
	return nil
}

// ReverseFulfillment reverses a fulfilled or disputed claim and burns its
// outstanding credits according to the reversal policy. Council only.
func (o *Orchestrator) ReverseFulfillment(ctx context.Context, caller, projectID, claimID string) (*model.Claim, error) {
	ctx, err := o.guard.Enter(ctx)
	if err != nil {
		return nil, err
	}
	if err := o.requireCouncil(caller, model.ClaimKey(projectID, claimID)); err != nil {
		return nil, err
	}
	c, err := o.GetClaim(ctx, projectID, claimID)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case model.ClaimReversed:
		return nil, apperr.New(apperr.AlreadyReversed, "claim", c.Key())
	case model.ClaimFulfilled, model.ClaimDisputed:
	default:
		return nil, apperr.Newf(apperr.NotFulfilled, "claim", c.Key(), "status %s", c.Status)
	}

	now := o.Now().UTC()
	outstanding := c.Outstanding()
	c.Status = model.ClaimReversed
	c.ReversedAt = &now
	if err := o.save(ctx, c); err != nil {
		return nil, err
	}

	var burned int64
	if outstanding > 0 {
		burned, err = o.ledger.Burn(ctx, o.cfg.Address, c.Beneficiary, c.ProjectID, outstanding)
		if err != nil {
			return nil, err
		}
		if burned < outstanding && o.cfg.ReversalPolicy == PolicyClawback {
			more, err := o.ledger.Clawback(ctx, o.cfg.Address, c.Beneficiary, outstanding-burned, c.ProjectID)
			if err != nil {
				return nil, err
			}
			burned += more
		}
	}
	c.BurnedAmount += burned
	c.ReversalDeficit = outstanding - burned
	if err := o.save(ctx, c); err != nil {
		return nil, err
	}
	if err := o.events.Append(ctx, events.ClaimReversed, model.KindClaim, c.Key(), caller, events.Payload{
		"burned":  burned,
		"deficit": c.ReversalDeficit,
		"policy":  o.cfg.ReversalPolicy,
	}); err != nil {
		return nil, err
	}
	if c.ReversalDeficit > 0 {
		zap.L().Warn("orchestrator: reversal left a deficit",
			zap.String("claim", c.Key()),
			zap.Int64("outstanding", outstanding),
			zap.Int64("burned", burned),
		)
	}
	return c, nil
}

// MarkDisputed moves a fulfilled claim to Disputed. Council only.
func (o *Orchestrator) MarkDisputed(ctx context.Context, caller, projectID, claimID, disputeID string) (*model.Claim, error) {
	if err := o.requireCouncil(caller, model.ClaimKey(projectID, claimID)); err != nil {
		return nil, err
	}
	c, err := o.GetClaim(ctx, projectID, claimID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.ClaimFulfilled {
		return nil, apperr.Newf(apperr.ClaimNotDisputable, "claim", c.Key(), "status %s", c.Status)
	}
	c.Status = model.ClaimDisputed
	c.DisputeID = disputeID
	if err := o.save(ctx, c); err != nil {
		return nil, err
	}
	return c, o.events.Append(ctx, events.ClaimDisputed, model.KindClaim, c.Key(), caller,
		events.Payload{"dispute_id": disputeID})
}

// RestoreFulfilled returns a disputed claim to Fulfilled after an upheld
// challenge. Council only.
func (o *Orchestrator) RestoreFulfilled(ctx context.Context, caller, projectID, claimID string) (*model.Claim, error) {
	if err := o.requireCouncil(caller, model.ClaimKey(projectID, claimID)); err != nil {
		return nil, err
	}
	c, err := o.GetClaim(ctx, projectID, claimID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.ClaimDisputed {
		return nil, apperr.Newf(apperr.InvalidTransition, "claim", c.Key(), "status %s", c.Status)
	}
	c.Status = model.ClaimFulfilled
	if err := o.save(ctx, c); err != nil {
		return nil, err
	}
	return c, o.events.Append(ctx, events.ClaimRestored, model.KindClaim, c.Key(), caller,
		events.Payload{"dispute_id": c.DisputeID})
}

// GetClaim returns the claim or NotFound.
func (o *Orchestrator) GetClaim(ctx context.Context, projectID, claimID string) (*model.Claim, error) {
	key := model.ClaimKey(projectID, claimID)
	c, err := store.Load[model.Claim](ctx, o.store, model.KindClaim, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "claim", key)
	}
	return c, err
}

// ListClaims returns claims in submission order, optionally for one project.
func (o *Orchestrator) ListClaims(ctx context.Context, projectID string) ([]model.Claim, error) {
	if projectID == "" {
		return store.LoadAll[model.Claim](ctx, o.store, model.KindClaim, "")
	}
	all, err := store.LoadAll[model.Claim](ctx, o.store, model.KindClaim, projectID+"/")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	return out, nil
}

// ClaimByTask resolves the claim a module task was started for.
func (o *Orchestrator) ClaimByTask(ctx context.Context, taskID string) (*model.Claim, error) {
	idx, err := store.Load[taskIndex](ctx, o.store, model.KindTaskIndex, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "task", taskID)
	}
	if err != nil {
		return nil, err
	}
	c, err := store.Load[model.Claim](ctx, o.store, model.KindClaim, idx.ClaimKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "claim", idx.ClaimKey)
	}
	return c, err
}

// MethodologyInUse reports whether an in-flight claim references id in the
// given registry.
func (o *Orchestrator) MethodologyInUse(ctx context.Context, registry, id string) (bool, error) {
	claims, err := o.ListClaims(ctx, "")
	if err != nil {
		return false, err
	}
	for _, c := range claims {
		if c.MethodologyID == id && c.MethodologyRegistry == registry && c.Status.InFlight() {
			return true, nil
		}
	}
	return false, nil
}

func (o *Orchestrator) save(ctx context.Context, c *model.Claim) error {
	c.UpdatedAt = o.Now().UTC()
	return store.Save(ctx, o.store, model.KindClaim, c.Key(), c)
}
