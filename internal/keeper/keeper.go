// Package keeper resolves disputes when their voting deadline passes. It runs
// as a Temporal worker outside any protocol transition and enters the
// protocol through ResolveDispute like any other caller.
package keeper

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/model"
)

// DefaultTaskQueue is used when no task queue is configured.
const DefaultTaskQueue = "dmrv-keeper"

// OutcomeAlreadyResolved is returned when someone else resolved the dispute
// first.
const OutcomeAlreadyResolved = "already_resolved"

// Resolver is the protocol surface the keeper drives.
type Resolver interface {
	ResolveDispute(ctx context.Context, caller, disputeID string) (*model.Dispute, error)
	DueDisputes(ctx context.Context) ([]model.Dispute, error)
}

// DeadlineInput identifies the dispute a workflow waits on.
type DeadlineInput struct {
	DisputeID string    `json:"dispute_id"`
	Deadline  time.Time `json:"deadline"`
}

// Activities wraps a Resolver for the worker.
type Activities struct {
	Resolver Resolver
	// Caller is the address recorded as resolving the dispute.
	Caller string
}

// ResolveDispute resolves the dispute and returns its outcome.
func (a *Activities) ResolveDispute(ctx context.Context, disputeID string) (string, error) {
	d, err := a.Resolver.ResolveDispute(ctx, a.Caller, disputeID)
	switch {
	case err == nil:
		return string(d.Outcome), nil
	case apperr.Is(err, apperr.AlreadyResolved):
		return OutcomeAlreadyResolved, nil
	case apperr.Is(err, apperr.DisputeNotReady):
		// The worker clock ran ahead of the protocol clock; try again.
		return "", temporal.NewApplicationError(err.Error(), string(apperr.DisputeNotReady))
	}
	if e, ok := apperr.As(err); ok {
		if e.Retryable() {
			return "", temporal.NewApplicationError(e.Error(), string(e.Code))
		}
		return "", temporal.NewNonRetryableApplicationError(e.Error(), string(e.Code), err)
	}
	return "", eris.Wrapf(err, "keeper: resolve dispute %s", disputeID)
}

// DisputeDeadlineWorkflow sleeps until the dispute deadline and resolves it.
func DisputeDeadlineWorkflow(ctx workflow.Context, in DeadlineInput) (string, error) {
	logger := workflow.GetLogger(ctx)
	if wait := in.Deadline.Sub(workflow.Now(ctx)); wait > 0 {
		logger.Info("waiting for dispute deadline", "dispute_id", in.DisputeID, "wait", wait)
		if err := workflow.Sleep(ctx, wait); err != nil {
			return "", err
		}
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    5 * time.Minute,
			MaximumAttempts:    10,
		},
	})
	var a *Activities
	var outcome string
	if err := workflow.ExecuteActivity(ctx, a.ResolveDispute, in.DisputeID).Get(ctx, &outcome); err != nil {
		return "", err
	}
	logger.Info("dispute resolved by keeper", "dispute_id", in.DisputeID, "outcome", outcome)
	return outcome, nil
}

// WorkflowStarter is the part of client.Client the scheduler uses.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Scheduler starts one deadline workflow per dispute.
type Scheduler struct {
	client    WorkflowStarter
	taskQueue string
}

// NewScheduler returns a Scheduler that starts workflows on taskQueue.
func NewScheduler(c WorkflowStarter, taskQueue string) *Scheduler {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Scheduler{client: c, taskQueue: taskQueue}
}

// WorkflowID is the deterministic workflow id for a dispute, so scheduling
// the same dispute twice attaches to the running workflow.
func WorkflowID(disputeID string) string {
	return "dispute-deadline-" + disputeID
}

// ScheduleResolution starts the deadline workflow for disputeID.
func (s *Scheduler) ScheduleResolution(ctx context.Context, disputeID string, deadline time.Time) error {
	run, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(disputeID),
		TaskQueue: s.taskQueue,
	}, DisputeDeadlineWorkflow, DeadlineInput{DisputeID: disputeID, Deadline: deadline})
	if err != nil {
		return eris.Wrapf(err, "keeper: start deadline workflow for %s", disputeID)
	}
	zap.L().Info("keeper: deadline scheduled",
		zap.String("dispute_id", disputeID),
		zap.Time("deadline", deadline),
		zap.String("run_id", run.GetRunID()),
	)
	return nil
}

// NewWorker registers the deadline workflow and activities on taskQueue.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(DisputeDeadlineWorkflow)
	w.RegisterActivity(acts)
	return w
}

// Sweep resolves every dispute that is due now. It covers disputes whose
// workflow could not be scheduled and returns how many it resolved. A
// dispute that fails to resolve is logged and skipped; the failures are
// returned together once every due dispute has been tried.
func Sweep(ctx context.Context, r Resolver, caller string) (int, error) {
	due, err := r.DueDisputes(ctx)
	if err != nil {
		return 0, err
	}
	var (
		resolved int
		errs     []error
	)
	for _, d := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		_, err := r.ResolveDispute(ctx, caller, d.ID)
		if apperr.Is(err, apperr.AlreadyResolved) {
			continue
		}
		if err != nil {
			zap.L().Warn("keeper: sweep could not resolve dispute", zap.String("dispute_id", d.ID), zap.Error(err))
			errs = append(errs, eris.Wrapf(err, "keeper: resolve dispute %s", d.ID))
			continue
		}
		resolved++
	}
	if resolved > 0 {
		zap.L().Info("keeper: sweep resolved disputes", zap.Int("resolved", resolved), zap.Int("due", len(due)))
	}
	return resolved, errors.Join(errs...)
}
