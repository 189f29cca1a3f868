// Package reputation implements the reputation-weighted verifier module:
// assigned pool verifiers attest a value, and the task is final once a
// stake-and-reputation weighted quorum agrees within tolerance.
package reputation

import (
	"context"
	"errors"
	"math"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/events"
	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/module"
	"github.com/sells-group/dmrv/internal/store"
)

// Name is the module name reported by Name.
const Name = "reputation-weighted"

// VerifierPool is the subset of the pool manager the module uses.
type VerifierPool interface {
	SelectJury(ctx context.Context, size int, exclude []string, seed string) ([]string, error)
	Get(ctx context.Context, addr string) (*model.VerifierRecord, error)
	AdjustReputation(ctx context.Context, caller, verifier string, delta int64) (*model.VerifierRecord, error)
}

// Escalator raises a dispute on the module's behalf.
type Escalator interface {
	Escalate(ctx context.Context, caller string, req model.EscalationRequest) (*model.Dispute, error)
}

// Config tunes the module.
type Config struct {
	Address   string
	Assignees int
	// QuorumBps is the share of assigned weight, in basis points, that must
	// agree for the task to be final.
	QuorumBps int64
	// Tolerance is the relative deviation from the weighted median within
	// which an attestation agrees.
	Tolerance         float64
	RewardReputation  int64
	PenaltyReputation int64
	Council           string
}

// TaskStatus is the state of a reputation task.
type TaskStatus string

const (
	TaskOpen      TaskStatus = "open"
	TaskEscalated TaskStatus = "escalated"
	TaskFinalized TaskStatus = "finalized"
	TaskRejected  TaskStatus = "rejected"
)

// Assignment is a verifier drawn for a task and its weight at draw time.
type Assignment struct {
	Verifier string `json:"verifier"`
	Weight   int64  `json:"weight"`
}

// Attestation is one verifier's reported value.
type Attestation struct {
	Value         int64     `json:"value"`
	CredentialCID string    `json:"credential_cid,omitempty"`
	At            time.Time `json:"at"`
}

// Task is a reputation-weighted verification task.
type Task struct {
	ID           string                 `json:"id"`
	ProjectID    string                 `json:"project_id"`
	ClaimID      string                 `json:"claim_id"`
	EvidenceURI  string                 `json:"evidence_uri"`
	ReportTo     string                 `json:"report_to"`
	Assigned     []Assignment           `json:"assigned"`
	Attestations map[string]Attestation `json:"attestations"`
	Status       TaskStatus             `json:"status"`
	Outcome      int64                  `json:"outcome"`
	Agreeing     []string               `json:"agreeing,omitempty"`
	DisputeID    string                 `json:"dispute_id,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

func (t *Task) assignment(addr string) (Assignment, bool) {
	for _, a := range t.Assigned {
		if a.Verifier == addr {
			return a, true
		}
	}
	return Assignment{}, false
}

// Module is the reputation-weighted verifier module.
type Module struct {
	cfg       Config
	store     store.Store
	projects  module.ProjectChecker
	pool      VerifierPool
	router    *module.Router
	escalator Escalator
	events    *events.Recorder
	Now       func() time.Time
}

var (
	_ module.Module      = (*Module)(nil)
	_ module.Escalatable = (*Module)(nil)
)

// New returns the module. SetEscalator must be called before tasks can
// escalate.
func New(cfg Config, s store.Store, projects module.ProjectChecker, pool VerifierPool, router *module.Router, rec *events.Recorder) *Module {
	if cfg.Assignees <= 0 {
		cfg.Assignees = 3
	}
	if cfg.QuorumBps <= 0 {
		cfg.QuorumBps = 6600
	}
	return &Module{
		cfg:      cfg,
		store:    s,
		projects: projects,
		pool:     pool,
		router:   router,
		events:   rec,
		Now:      time.Now,
	}
}

// SetEscalator wires the arbitration council.
func (m *Module) SetEscalator(e Escalator) {
	m.escalator = e
}

func (m *Module) Address() string { return m.cfg.Address }
func (m *Module) Name() string    { return Name }

// StartVerificationTask assigns verifiers from the pool, weighted by
// reputation, seeded by the new task's id.
func (m *Module) StartVerificationTask(ctx context.Context, caller, projectID, claimID, evidenceURI string) (string, error) {
	if err := module.RequireActive(ctx, m.projects, projectID); err != nil {
		return "", err
	}
	if err := m.router.RequireReceiver(caller); err != nil {
		return "", err
	}

	taskID := uuid.NewString()
	verifiers, err := m.pool.SelectJury(ctx, m.cfg.Assignees, nil, taskID)
	if err != nil {
		return "", err
	}
	assigned := make([]Assignment, 0, len(verifiers))
	for _, addr := range verifiers {
		v, err := m.pool.Get(ctx, addr)
		if err != nil {
			return "", err
		}
		assigned = append(assigned, Assignment{Verifier: addr, Weight: v.Weight()})
	}

	t := &Task{
		ID:           taskID,
		ProjectID:    projectID,
		ClaimID:      claimID,
		EvidenceURI:  evidenceURI,
		ReportTo:     caller,
		Assigned:     assigned,
		Attestations: map[string]Attestation{},
		Status:       TaskOpen,
		CreatedAt:    m.Now().UTC(),
	}
	if err := store.Insert(ctx, m.store, model.KindRepTask, taskID, t); err != nil {
		return "", err
	}
	if err := m.events.Append(ctx, events.TaskStarted, model.KindRepTask, taskID, caller,
		events.Payload{"project_id": projectID, "claim_id": claimID, "assigned": verifiers}); err != nil {
		return "", err
	}
	zap.L().Info("reputation: task started",
		zap.String("task_id", taskID),
		zap.String("claim_id", claimID),
		zap.Strings("assigned", verifiers),
	)
	return taskID, nil
}

// Get returns the task or NotFound.
func (m *Module) Get(ctx context.Context, taskID string) (*Task, error) {
	t, err := store.Load[Task](ctx, m.store, model.KindRepTask, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "task", taskID)
	}
	return t, err
}

// SubmitAttestation records an assigned verifier's value and settles the
// task when the quorum rule allows.
func (m *Module) SubmitAttestation(ctx context.Context, caller, taskID string, value int64, credentialCID string) (*Task, error) {
	if value < 0 {
		return nil, apperr.Newf(apperr.InvalidInput, "task", taskID, "negative value")
	}
	t, err := m.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != TaskOpen {
		return nil, apperr.Newf(apperr.TaskClosed, "task", taskID, "status %s", t.Status)
	}
	if _, ok := t.assignment(caller); !ok {
		return nil, apperr.New(apperr.NotAssigned, "task", taskID)
	}
	if _, ok := t.Attestations[caller]; ok {
		return nil, apperr.New(apperr.AlreadyAttested, "task", taskID)
	}

	t.Attestations[caller] = Attestation{Value: value, CredentialCID: credentialCID, At: m.Now().UTC()}
	if err := m.save(ctx, t); err != nil {
		return nil, err
	}
	if err := m.events.Append(ctx, events.TaskAttested, model.KindRepTask, taskID, caller,
		events.Payload{"value": value}); err != nil {
		return nil, err
	}

	median, agreeing, agreeWeight, totalWeight := m.evaluate(t)
	switch {
	case quorumMet(agreeWeight, totalWeight, m.cfg.QuorumBps):
		return t, m.finalize(ctx, t, median, agreeing, model.VerificationResult{
			QuantitativeOutcome: median,
			CredentialCID:       t.credentialFor(agreeing, median),
		})
	case len(t.Attestations) == len(t.Assigned):
		return t, m.escalate(ctx, t, median)
	}
	return t, nil
}

// evaluate computes the weighted median of attested values and the
// verifiers agreeing with it. Weights are summed as big integers since a
// single saturated weight already fills an int64.
func (m *Module) evaluate(t *Task) (median int64, agreeing []string, agreeWeight, totalWeight *big.Int) {
	type wv struct {
		verifier string
		value    int64
		weight   int64
	}
	agreeWeight, totalWeight = new(big.Int), new(big.Int)
	var vals []wv
	for _, a := range t.Assigned {
		totalWeight.Add(totalWeight, big.NewInt(a.Weight))
		if att, ok := t.Attestations[a.Verifier]; ok {
			vals = append(vals, wv{a.Verifier, att.Value, a.Weight})
		}
	}
	if len(vals) == 0 {
		return 0, nil, agreeWeight, totalWeight
	}
	sorted := make([]wv, len(vals))
	copy(sorted, vals)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].value < sorted[j].value })

	attested := new(big.Int)
	for _, v := range sorted {
		attested.Add(attested, big.NewInt(v.weight))
	}
	acc, twice := new(big.Int), new(big.Int)
	for _, v := range sorted {
		acc.Add(acc, big.NewInt(v.weight))
		if twice.Lsh(acc, 1).Cmp(attested) >= 0 {
			median = v.value
			break
		}
	}

	for _, v := range vals {
		if within(v.value, median, m.cfg.Tolerance) {
			agreeing = append(agreeing, v.verifier)
			agreeWeight.Add(agreeWeight, big.NewInt(v.weight))
		}
	}
	return median, agreeing, agreeWeight, totalWeight
}

// quorumMet reports whether agree/total reaches bps basis points.
func quorumMet(agree, total *big.Int, bps int64) bool {
	if total.Sign() <= 0 {
		return false
	}
	lhs := new(big.Int).Mul(agree, big.NewInt(10000))
	rhs := new(big.Int).Mul(total, big.NewInt(bps))
	return lhs.Cmp(rhs) >= 0
}

func within(value, target int64, tolerance float64) bool {
	return math.Abs(float64(value)-float64(target)) <= tolerance*math.Abs(float64(target))
}

// credentialFor picks the credential of the first agreeing attestation that
// reported the outcome exactly, else of the first agreeing one.
func (t *Task) credentialFor(agreeing []string, outcome int64) string {
	for _, v := range agreeing {
		if a := t.Attestations[v]; a.Value == outcome && a.CredentialCID != "" {
			return a.CredentialCID
		}
	}
	for _, v := range agreeing {
		if cid := t.Attestations[v].CredentialCID; cid != "" {
			return cid
		}
	}
	return ""
}

// finalize closes the task, settles reputation, then reports the result.
func (m *Module) finalize(ctx context.Context, t *Task, outcome int64, agreeing []string, res model.VerificationResult) error {
	t.Status = TaskFinalized
	t.Outcome = outcome
	t.Agreeing = agreeing
	if err := m.save(ctx, t); err != nil {
		return err
	}
	if err := m.settleReputation(ctx, t, agreeing); err != nil {
		return err
	}
	if err := m.events.Append(ctx, events.TaskFinalized, model.KindRepTask, t.ID, m.cfg.Address,
		events.Payload{"outcome": outcome, "agreeing": agreeing, "arbitrated": res.WasArbitrated}); err != nil {
		return err
	}
	zap.L().Info("reputation: task finalized",
		zap.String("task_id", t.ID),
		zap.Int64("outcome", outcome),
		zap.Bool("arbitrated", res.WasArbitrated),
	)
	return m.router.Deliver(ctx, t.ReportTo, m.cfg.Address, t.ProjectID, t.ClaimID, res)
}

func (m *Module) settleReputation(ctx context.Context, t *Task, agreeing []string) error {
	agree := make(map[string]bool, len(agreeing))
	for _, v := range agreeing {
		agree[v] = true
	}
	for _, a := range t.Assigned {
		if _, attested := t.Attestations[a.Verifier]; !attested {
			continue
		}
		delta := -m.cfg.PenaltyReputation
		if agree[a.Verifier] {
			delta = m.cfg.RewardReputation
		}
		if delta == 0 {
			continue
		}
		if _, err := m.pool.AdjustReputation(ctx, m.cfg.Address, a.Verifier, delta); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) escalate(ctx context.Context, t *Task, proposed int64) error {
	if m.escalator == nil {
		return apperr.Newf(apperr.QuorumNotMet, "task", t.ID, "verifiers disagree and no council is wired")
	}
	t.Status = TaskEscalated
	t.Outcome = proposed
	if err := m.save(ctx, t); err != nil {
		return err
	}
	implicated := make([]string, 0, len(t.Assigned))
	for _, a := range t.Assigned {
		implicated = append(implicated, a.Verifier)
	}
	d, err := m.escalator.Escalate(ctx, m.cfg.Address, model.EscalationRequest{
		TaskID:          t.ID,
		ProjectID:       t.ProjectID,
		ClaimID:         t.ClaimID,
		Implicated:      implicated,
		ProposedOutcome: proposed,
	})
	if err != nil {
		return err
	}
	t.DisputeID = d.ID
	if err := m.save(ctx, t); err != nil {
		return err
	}
	zap.L().Warn("reputation: task escalated",
		zap.String("task_id", t.ID),
		zap.String("dispute_id", d.ID),
		zap.Int64("proposed", proposed),
	)
	return m.events.Append(ctx, events.TaskEscalated, model.KindRepTask, t.ID, m.cfg.Address,
		events.Payload{"dispute_id": d.ID, "proposed_outcome": proposed})
}

// OnEscalationResolved applies the council's verdict. Upheld finalizes the
// task with the proposed outcome; overturned rejects it and the claim stays
// delegated until resubmitted.
func (m *Module) OnEscalationResolved(ctx context.Context, caller string, d model.Dispute) error {
	if caller == "" || caller != m.cfg.Council {
		return apperr.Newf(apperr.Unauthorized, "task", d.TaskID, "only the council may resolve escalations")
	}
	t, err := m.Get(ctx, d.TaskID)
	if err != nil {
		return err
	}
	if t.Status != TaskEscalated || t.DisputeID != d.ID {
		return apperr.Newf(apperr.TaskClosed, "task", t.ID, "status %s", t.Status)
	}

	if d.Outcome == model.OutcomeUpheld {
		var agreeing []string
		for _, a := range t.Assigned {
			if att, ok := t.Attestations[a.Verifier]; ok && within(att.Value, d.ProposedOutcome, m.cfg.Tolerance) {
				agreeing = append(agreeing, a.Verifier)
			}
		}
		return m.finalize(ctx, t, d.ProposedOutcome, agreeing, model.VerificationResult{
			QuantitativeOutcome:  d.ProposedOutcome,
			WasArbitrated:        true,
			ArbitrationDisputeID: d.ID,
			CredentialCID:        t.credentialFor(agreeing, d.ProposedOutcome),
		})
	}

	t.Status = TaskRejected
	if err := m.save(ctx, t); err != nil {
		return err
	}
	return m.events.Append(ctx, events.TaskRejected, model.KindRepTask, t.ID, caller,
		events.Payload{"dispute_id": d.ID})
}

// Implicated returns the verifiers who produced the task's result: the
// agreeing set once finalized, otherwise every assigned verifier.
func (m *Module) Implicated(ctx context.Context, taskID string) ([]string, error) {
	t, err := m.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status == TaskFinalized {
		return t.Agreeing, nil
	}
	out := make([]string, 0, len(t.Assigned))
	for _, a := range t.Assigned {
		out = append(out, a.Verifier)
	}
	return out, nil
}

func (m *Module) save(ctx context.Context, t *Task) error {
	return store.Save(ctx, m.store, model.KindRepTask, t.ID, t)
}
