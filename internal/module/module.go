// Package module defines the capability set every verifier module
// implements and the router that carries results between modules and the
// orchestrator.
package module

import (
	"context"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/model"
)

// Module executes verification tasks for the methodologies that name it.
type Module interface {
	Address() string
	Name() string
	// StartVerificationTask opens a task whose result is delivered to caller.
	StartVerificationTask(ctx context.Context, caller, projectID, claimID, evidenceURI string) (string, error)
	// Implicated lists the parties answerable for the task's result.
	Implicated(ctx context.Context, taskID string) ([]string, error)
}

// Delegator is implemented by modules that forward work to another module.
type Delegator interface {
	DelegateVerification(ctx context.Context, caller, claimID string, data []byte, originalSubmitter string) (string, error)
}

// Escalatable is implemented by modules that raise escalations to the
// arbitration council and need its verdict back.
type Escalatable interface {
	OnEscalationResolved(ctx context.Context, caller string, d model.Dispute) error
}

// Receiver accepts final results for tasks it started.
type Receiver interface {
	ReceiveResult(ctx context.Context, from, projectID, claimID string, res model.VerificationResult) error
}

// ProjectChecker answers whether a project is Active.
type ProjectChecker interface {
	IsActive(ctx context.Context, id string) (bool, error)
}

// RequireActive fails with ProjectNotActive unless the project is Active.
func RequireActive(ctx context.Context, pc ProjectChecker, projectID string) error {
	ok, err := pc.IsActive(ctx, projectID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.ProjectNotActive, "project", projectID)
	}
	return nil
}
