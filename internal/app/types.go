package app

import (
	"context"
	"time"

	"vmorch/pkg/deployment"
	"vmorch/pkg/provider"
	"vmorch/pkg/stack"
)

// Phase is a state of the run lifecycle.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseValidating Phase = "validating"
	PhasePreparing  Phase = "preparing"
	PhaseLaunching  Phase = "launching"
	PhasePolling    Phase = "polling"
	PhaseDraining   Phase = "draining"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// Stage represents a single stage of a supervised run.
// Each stage implements this interface to provide its phase and execution logic.
type Stage interface {
	Phase() Phase
	Execute(ctx context.Context, ec *ExecutionContext) error
}

// ExecutionContext is owned by exactly one Run invocation and never shared.
type ExecutionContext struct {
	RunID      string
	RunName    string
	Deployment *deployment.Deployment
	Stack      *stack.Stack
	ImageRef   string
	Phase      Phase
	// Instance is the last view reported by the backend.
	Instance    provider.InstanceView
	LogsURL     string
	Interrupted bool
	StartedAt   time.Time
	LaunchedAt  time.Time

	state *ExecutionState
}

// RunReport summarizes a finished Run.
type RunReport struct {
	RunID        string                `json:"run_id"`
	RunName      string                `json:"run_name"`
	DeploymentID string                `json:"deployment_id"`
	Phase        Phase                 `json:"phase"`
	Instance     provider.InstanceView `json:"instance"`
	LogsURL      string                `json:"logs_url,omitempty"`
	ImageRef     string                `json:"image_ref,omitempty"`
	Interrupted  bool                  `json:"interrupted"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   time.Time             `json:"finished_at"`
}

func (ec *ExecutionContext) report(finishedAt time.Time) *RunReport {
	return &RunReport{
		RunID:        ec.RunID,
		RunName:      ec.RunName,
		DeploymentID: ec.Deployment.ID(),
		Phase:        ec.Phase,
		Instance:     ec.Instance,
		LogsURL:      ec.LogsURL,
		ImageRef:     ec.ImageRef,
		Interrupted:  ec.Interrupted,
		StartedAt:    ec.StartedAt,
		FinishedAt:   finishedAt,
	}
}

// Outcome classifies the run for metrics and the console summary.
func (r *RunReport) Outcome() string {
	switch {
	case r.Phase == PhaseFailed:
		return "failed"
	case r.Interrupted:
		return "interrupted"
	case r.Instance.Status != "":
		return string(r.Instance.Status)
	default:
		return string(r.Phase)
	}
}
