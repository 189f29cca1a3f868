// Package delegated implements a verifier module that forwards each task to
// a target module and relays the target's result back to its own caller.
package delegated

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/events"
	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/module"
	"github.com/sells-group/dmrv/internal/store"
)

// DefaultName is reported by Name when the config leaves it empty.
const DefaultName = "delegated"

// Config names the module and its target.
type Config struct {
	Address string
	Name    string
	Target  string
}

// Request is the payload handed to DelegateVerification.
type Request struct {
	ProjectID   string `json:"project_id"`
	EvidenceURI string `json:"evidence_uri"`
}

// Status of a delegation.
type Status string

const (
	StatusForwarded Status = "forwarded"
	StatusRelayed   Status = "relayed"
)

// Delegation links a task of this module to the target's task.
type Delegation struct {
	ID                string    `json:"id"`
	ProjectID         string    `json:"project_id"`
	ClaimID           string    `json:"claim_id"`
	EvidenceURI       string    `json:"evidence_uri"`
	ReportTo          string    `json:"report_to"`
	OriginalSubmitter string    `json:"original_submitter"`
	Target            string    `json:"target"`
	TargetTaskID      string    `json:"target_task_id"`
	Status            Status    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

type claimIndex struct {
	TaskID string `json:"task_id"`
}

// Module is a delegating verifier module.
type Module struct {
	cfg      Config
	store    store.Store
	projects module.ProjectChecker
	router   *module.Router
	events   *events.Recorder
	Now      func() time.Time
}

var (
	_ module.Module    = (*Module)(nil)
	_ module.Delegator = (*Module)(nil)
	_ module.Receiver  = (*Module)(nil)
)

// New returns the module. The target is resolved through router at call
// time, so it may be registered later.
func New(cfg Config, s store.Store, projects module.ProjectChecker, router *module.Router, rec *events.Recorder) *Module {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	return &Module{cfg: cfg, store: s, projects: projects, router: router, events: rec, Now: time.Now}
}

func (m *Module) Address() string { return m.cfg.Address }
func (m *Module) Name() string    { return m.cfg.Name }

// Target returns the address work is forwarded to.
func (m *Module) Target() string { return m.cfg.Target }

// StartVerificationTask forwards the task with caller as the original
// submitter.
func (m *Module) StartVerificationTask(ctx context.Context, caller, projectID, claimID, evidenceURI string) (string, error) {
	data, err := json.Marshal(Request{ProjectID: projectID, EvidenceURI: evidenceURI})
	if err != nil {
		return "", err
	}
	return m.DelegateVerification(ctx, caller, claimID, data, caller)
}

// DelegateVerification starts a task on the target module on this module's
// behalf. Results come back through ReceiveResult and go to caller.
func (m *Module) DelegateVerification(ctx context.Context, caller, claimID string, data []byte, originalSubmitter string) (string, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil || req.ProjectID == "" {
		return "", apperr.Newf(apperr.MalformedReference, "claim", claimID, "delegation payload needs project_id")
	}
	if err := module.RequireActive(ctx, m.projects, req.ProjectID); err != nil {
		return "", err
	}
	if err := m.router.RequireReceiver(caller); err != nil {
		return "", err
	}
	if m.cfg.Target == m.cfg.Address {
		return "", apperr.Newf(apperr.InvalidInput, "module", m.cfg.Address, "module cannot delegate to itself")
	}
	target, err := m.router.Module(m.cfg.Target)
	if err != nil {
		return "", err
	}

	d := &Delegation{
		ID:                uuid.NewString(),
		ProjectID:         req.ProjectID,
		ClaimID:           claimID,
		EvidenceURI:       req.EvidenceURI,
		ReportTo:          caller,
		OriginalSubmitter: originalSubmitter,
		Target:            m.cfg.Target,
		Status:            StatusForwarded,
		CreatedAt:         m.Now().UTC(),
	}
	idxID := m.indexID(req.ProjectID, claimID)
	err = store.Insert(ctx, m.store, model.KindDelegation, idxID, claimIndex{TaskID: d.ID})
	if errors.Is(err, store.ErrConflict) {
		return "", apperr.New(apperr.DuplicateID, "claim", model.ClaimKey(req.ProjectID, claimID))
	}
	if err != nil {
		return "", err
	}
	if err := store.Insert(ctx, m.store, model.KindDelegation, d.ID, d); err != nil {
		return "", err
	}

	targetTask, err := target.StartVerificationTask(ctx, m.cfg.Address, req.ProjectID, claimID, req.EvidenceURI)
	if err != nil {
		return "", err
	}
	d.TargetTaskID = targetTask
	if err := store.Save(ctx, m.store, model.KindDelegation, d.ID, d); err != nil {
		return "", err
	}
	if err := m.events.Append(ctx, events.TaskForwarded, model.KindDelegation, d.ID, caller, events.Payload{
		"project_id":         req.ProjectID,
		"claim_id":           claimID,
		"target":             m.cfg.Target,
		"target_task_id":     targetTask,
		"original_submitter": originalSubmitter,
	}); err != nil {
		return "", err
	}
	zap.L().Info("delegated: task forwarded",
		zap.String("module", m.cfg.Name),
		zap.String("task_id", d.ID),
		zap.String("target", m.cfg.Target),
		zap.String("original_submitter", originalSubmitter),
	)
	return d.ID, nil
}

func (m *Module) indexID(projectID, claimID string) string {
	return "claim/" + m.cfg.Address + "/" + model.ClaimKey(projectID, claimID)
}

// Get returns a delegation by task id.
func (m *Module) Get(ctx context.Context, taskID string) (*Delegation, error) {
	d, err := store.Load[Delegation](ctx, m.store, model.KindDelegation, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "task", taskID)
	}
	return d, err
}

// ReceiveResult relays the target's result to whoever started the
// delegation.
func (m *Module) ReceiveResult(ctx context.Context, from, projectID, claimID string, res model.VerificationResult) error {
	if from != m.cfg.Target {
		return apperr.Newf(apperr.UnauthorizedModule, "claim", model.ClaimKey(projectID, claimID), "result from %s, expected %s", from, m.cfg.Target)
	}
	idx, err := store.Load[claimIndex](ctx, m.store, model.KindDelegation, m.indexID(projectID, claimID))
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.NotFound, "claim", model.ClaimKey(projectID, claimID))
	}
	if err != nil {
		return err
	}
	d, err := m.Get(ctx, idx.TaskID)
	if err != nil {
		return err
	}
	if d.Status != StatusForwarded {
		return apperr.Newf(apperr.TaskClosed, "task", d.ID, "status %s", d.Status)
	}
	d.Status = StatusRelayed
	if err := store.Save(ctx, m.store, model.KindDelegation, d.ID, d); err != nil {
		return err
	}
	if err := m.events.Append(ctx, events.TaskFinalized, model.KindDelegation, d.ID, from,
		events.Payload{"outcome": res.QuantitativeOutcome, "report_to": d.ReportTo}); err != nil {
		return err
	}
	return m.router.Deliver(ctx, d.ReportTo, m.cfg.Address, projectID, claimID, res)
}

// Implicated forwards to the target's task.
func (m *Module) Implicated(ctx context.Context, taskID string) ([]string, error) {
	d, err := m.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	target, err := m.router.Module(d.Target)
	if err != nil {
		return nil, err
	}
	return target.Implicated(ctx, d.TargetTaskID)
}
