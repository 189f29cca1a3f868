// Package arbitration runs jury proceedings over verification results:
// challenges against fulfilled claims and escalations raised by modules.
package arbitration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/events"
	"github.com/sells-group/dmrv/internal/guard"
	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/module"
	"github.com/sells-group/dmrv/internal/store"
)

// ClaimGateway is the orchestrator surface the council drives.
type ClaimGateway interface {
	ClaimByTask(ctx context.Context, taskID string) (*model.Claim, error)
	MarkDisputed(ctx context.Context, caller, projectID, claimID, disputeID string) (*model.Claim, error)
	RestoreFulfilled(ctx context.Context, caller, projectID, claimID string) (*model.Claim, error)
	ReverseFulfillment(ctx context.Context, caller, projectID, claimID string) (*model.Claim, error)
}

// VerifierPool supplies jurors and applies penalties and rewards.
type VerifierPool interface {
	SelectJury(ctx context.Context, size int, exclude []string, seed string) ([]string, error)
	Get(ctx context.Context, addr string) (*model.VerifierRecord, error)
	Slash(ctx context.Context, caller, verifier string, amount int64) (int64, error)
	AdjustReputation(ctx context.Context, caller, verifier string, delta int64) (*model.VerifierRecord, error)
}

// Config tunes proceedings.
type Config struct {
	Address  string
	JurySize int
	// Quorum is the number of votes that allows resolution before the
	// deadline. Zero means a majority of the jury.
	Quorum          int
	VotingPeriod    time.Duration
	ChallengeWindow time.Duration
	SlashAmount     int64
	JurorReward     int64
}

// Council is the sole writer of Dispute records.
type Council struct {
	cfg    Config
	store  store.Store
	claims ClaimGateway
	pool   VerifierPool
	router *module.Router
	events *events.Recorder
	guard  guard.Guard
	Now    func() time.Time
}

// New returns a Council.
func New(cfg Config, s store.Store, claims ClaimGateway, pool VerifierPool, router *module.Router, rec *events.Recorder) *Council {
	if cfg.JurySize <= 0 {
		cfg.JurySize = 3
	}
	if cfg.Quorum <= 0 || cfg.Quorum > cfg.JurySize {
		cfg.Quorum = cfg.JurySize/2 + 1
	}
	if cfg.VotingPeriod <= 0 {
		cfg.VotingPeriod = 72 * time.Hour
	}
	if cfg.ChallengeWindow <= 0 {
		cfg.ChallengeWindow = 14 * 24 * time.Hour
	}
	return &Council{
		cfg:    cfg,
		store:  s,
		claims: claims,
		pool:   pool,
		router: router,
		events: rec,
		guard:  guard.New("arbitration"),
		Now:    time.Now,
	}
}

// Address is the council's own address.
func (c *Council) Address() string { return c.cfg.Address }

// RaiseDispute challenges the fulfilled claim behind taskID.
func (c *Council) RaiseDispute(ctx context.Context, caller, taskID, claimID string) (*model.Dispute, error) {
	ctx, err := c.guard.Enter(ctx)
	if err != nil {
		return nil, err
	}
	if caller == "" {
		return nil, apperr.New(apperr.ZeroAddress, "dispute", taskID)
	}
	claim, err := c.claims.ClaimByTask(ctx, taskID)
	if apperr.Is(err, apperr.NotFound) {
		return nil, apperr.Newf(apperr.MalformedReference, "task", taskID, "unknown task")
	}
	if err != nil {
		return nil, err
	}
	if claim.ClaimID != claimID {
		return nil, apperr.Newf(apperr.MalformedReference, "task", taskID, "task belongs to claim %s, not %s", claim.ClaimID, claimID)
	}
	if claim.Status != model.ClaimFulfilled {
		return nil, apperr.Newf(apperr.ClaimNotDisputable, "claim", claim.Key(), "status %s", claim.Status)
	}
	now := c.Now().UTC()
	if claim.FulfilledAt != nil && now.After(claim.FulfilledAt.Add(c.cfg.ChallengeWindow)) {
		return nil, apperr.Newf(apperr.WindowExpired, "claim", claim.Key(), "fulfilled at %s", claim.FulfilledAt.Format(time.RFC3339))
	}
	mod, err := c.router.Module(claim.ModuleAddress)
	if err != nil {
		return nil, err
	}
	implicated, err := mod.Implicated(ctx, claim.TaskID)
	if err != nil {
		return nil, err
	}

	d := &model.Dispute{
		ID:            uuid.NewString(),
		Kind:          model.DisputeChallenge,
		TaskID:        taskID,
		ProjectID:     claim.ProjectID,
		ClaimID:       claim.ClaimID,
		ModuleAddress: claim.ModuleAddress,
		Challenger:    caller,
		Implicated:    implicated,
	}
	if err := c.open(ctx, d, append(append([]string{}, implicated...), caller)); err != nil {
		return nil, err
	}
	if _, err := c.claims.MarkDisputed(ctx, c.cfg.Address, claim.ProjectID, claim.ClaimID, d.ID); err != nil {
		return nil, err
	}
	return d, nil
}

// Escalate opens a proceeding on behalf of the calling module.
func (c *Council) Escalate(ctx context.Context, caller string, req model.EscalationRequest) (*model.Dispute, error) {
	ctx, err := c.guard.Enter(ctx)
	if err != nil {
		return nil, err
	}
	mod, err := c.router.Module(caller)
	if err != nil {
		return nil, apperr.Newf(apperr.Unauthorized, "task", req.TaskID, "%s is not a registered module", caller)
	}
	if _, ok := mod.(module.Escalatable); !ok {
		return nil, apperr.Newf(apperr.Unauthorized, "task", req.TaskID, "module %s does not accept verdicts", caller)
	}
	if req.TaskID == "" {
		return nil, apperr.Newf(apperr.MalformedReference, "task", req.TaskID, "task id is required")
	}
	d := &model.Dispute{
		ID:              uuid.NewString(),
		Kind:            model.DisputeEscalation,
		TaskID:          req.TaskID,
		ProjectID:       req.ProjectID,
		ClaimID:         req.ClaimID,
		ModuleAddress:   caller,
		Challenger:      caller,
		Implicated:      req.Implicated,
		ProposedOutcome: req.ProposedOutcome,
	}
	if err := c.open(ctx, d, req.Implicated); err != nil {
		return nil, err
	}
	return d, nil
}

// open walks a new dispute through Open, JurySelected and VotingOpen.
func (c *Council) open(ctx context.Context, d *model.Dispute, exclude []string) error {
	now := c.Now().UTC()
	d.Status = model.DisputeOpen
	d.Votes = map[string]model.Vote{}
	d.CreatedAt = now
	if err := store.Insert(ctx, c.store, model.KindDispute, d.ID, d); err != nil {
		return err
	}

	jury, err := c.pool.SelectJury(ctx, c.cfg.JurySize, exclude, d.ID)
	if err != nil {
		return err
	}
	d.Jury = jury
	d.Status = model.DisputeJurySelected
	if err := c.save(ctx, d); err != nil {
		return err
	}

	d.Status = model.DisputeVotingOpen
	d.Deadline = now.Add(c.cfg.VotingPeriod)
	if err := c.save(ctx, d); err != nil {
		return err
	}
	zap.L().Info("arbitration: dispute opened",
		zap.String("dispute_id", d.ID),
		zap.String("kind", string(d.Kind)),
		zap.String("task_id", d.TaskID),
		zap.Strings("jury", jury),
		zap.Time("deadline", d.Deadline),
	)
	return c.events.Append(ctx, events.DisputeRaised, model.KindDispute, d.ID, d.Challenger, events.Payload{
		"kind":       d.Kind,
		"task_id":    d.TaskID,
		"claim":      model.ClaimKey(d.ProjectID, d.ClaimID),
		"jury":       jury,
		"implicated": d.Implicated,
		"deadline":   d.Deadline,
	})
}

// CastVote records a juror's vote.
func (c *Council) CastVote(ctx context.Context, caller, disputeID string, vote model.Vote) (*model.Dispute, error) {
	if !vote.Valid() {
		return nil, apperr.Newf(apperr.InvalidInput, "dispute", disputeID, "unknown vote %q", vote)
	}
	d, err := c.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !d.IsJuror(caller) {
		return nil, apperr.New(apperr.NotJuror, "dispute", disputeID)
	}
	if d.Resolved {
		return nil, apperr.New(apperr.AlreadyResolved, "dispute", disputeID)
	}
	if _, ok := d.Votes[caller]; ok {
		return nil, apperr.New(apperr.AlreadyVoted, "dispute", disputeID)
	}
	if c.Now().After(d.Deadline) {
		return nil, apperr.Newf(apperr.VotingClosed, "dispute", disputeID, "deadline %s", d.Deadline.Format(time.RFC3339))
	}
	d.Votes[caller] = vote
	if err := c.save(ctx, d); err != nil {
		return nil, err
	}
	return d, c.events.Append(ctx, events.DisputeVoted, model.KindDispute, d.ID, caller,
		events.Payload{"vote": vote, "votes": len(d.Votes)})
}

// Ready reports whether a dispute can be resolved now.
func (c *Council) Ready(d *model.Dispute) bool {
	return !d.Resolved && (len(d.Votes) >= c.cfg.Quorum || !c.Now().Before(d.Deadline))
}

// Resolve closes a dispute once quorum is reached or the deadline passed,
// then applies the verdict. Anyone may call it.
func (c *Council) Resolve(ctx context.Context, caller, disputeID string) (*model.Dispute, error) {
	ctx, err := c.guard.Enter(ctx)
	if err != nil {
		return nil, err
	}
	d, err := c.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Resolved {
		return nil, apperr.New(apperr.AlreadyResolved, "dispute", disputeID)
	}
	if !c.Ready(d) {
		return nil, apperr.Newf(apperr.DisputeNotReady, "dispute", disputeID,
			"%d of %d votes before %s", len(d.Votes), c.cfg.Quorum, d.Deadline.Format(time.RFC3339))
	}

	now := c.Now().UTC()
	d.Outcome = d.Verdict()
	d.Resolved = true
	d.Status = model.DisputeResolved
	d.ResolvedAt = &now
	if err := c.save(ctx, d); err != nil {
		return nil, err
	}
	uphold, overturn := d.Tally()
	if err := c.events.Append(ctx, events.DisputeResolved, model.KindDispute, d.ID, caller, events.Payload{
		"kind":     d.Kind,
		"outcome":  d.Outcome,
		"uphold":   uphold,
		"overturn": overturn,
	}); err != nil {
		return nil, err
	}

	if err := c.apply(ctx, d); err != nil {
		return nil, err
	}
	if err := c.rewardJurors(ctx, d); err != nil {
		return nil, err
	}
	zap.L().Info("arbitration: dispute resolved",
		zap.String("dispute_id", d.ID),
		zap.String("outcome", string(d.Outcome)),
		zap.Int("uphold", uphold),
		zap.Int("overturn", overturn),
	)
	return d, nil
}

func (c *Council) apply(ctx context.Context, d *model.Dispute) error {
	if d.Kind == model.DisputeEscalation {
		mod, err := c.router.Module(d.ModuleAddress)
		if err != nil {
			return err
		}
		esc, ok := mod.(module.Escalatable)
		if !ok {
			return apperr.Newf(apperr.UnknownModule, "module", d.ModuleAddress, "module no longer accepts verdicts")
		}
		return esc.OnEscalationResolved(ctx, c.cfg.Address, *d)
	}

	if d.Outcome == model.OutcomeUpheld {
		_, err := c.claims.RestoreFulfilled(ctx, c.cfg.Address, d.ProjectID, d.ClaimID)
		return err
	}
	if _, err := c.claims.ReverseFulfillment(ctx, c.cfg.Address, d.ProjectID, d.ClaimID); err != nil {
		return err
	}
	return c.slashImplicated(ctx, d)
}

func (c *Council) slashImplicated(ctx context.Context, d *model.Dispute) error {
	if c.cfg.SlashAmount <= 0 {
		return nil
	}
	for _, addr := range d.Implicated {
		v, err := c.pool.Get(ctx, addr)
		if apperr.Is(err, apperr.NotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if v.Stake == 0 {
			continue
		}
		if _, err := c.pool.Slash(ctx, c.cfg.Address, addr, c.cfg.SlashAmount); err != nil {
			return err
		}
	}
	return nil
}

func (c *Council) rewardJurors(ctx context.Context, d *model.Dispute) error {
	if c.cfg.JurorReward <= 0 {
		return nil
	}
	winning := model.VoteUphold
	if d.Outcome == model.OutcomeOverturned {
		winning = model.VoteOverturn
	}
	for _, juror := range d.Jury {
		if d.Votes[juror] != winning {
			continue
		}
		if _, err := c.pool.AdjustReputation(ctx, c.cfg.Address, juror, c.cfg.JurorReward); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the dispute or NotFound.
func (c *Council) Get(ctx context.Context, id string) (*model.Dispute, error) {
	d, err := store.Load[model.Dispute](ctx, c.store, model.KindDispute, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "dispute", id)
	}
	return d, err
}

// List returns every dispute, optionally only unresolved ones.
func (c *Council) List(ctx context.Context, openOnly bool) ([]model.Dispute, error) {
	all, err := store.LoadAll[model.Dispute](ctx, c.store, model.KindDispute, "")
	if err != nil || !openOnly {
		return all, err
	}
	out := all[:0]
	for _, d := range all {
		if !d.Resolved {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *Council) save(ctx context.Context, d *model.Dispute) error {
	return store.Save(ctx, c.store, model.KindDispute, d.ID, d)
}
