package workflow

import (
	"context"
	"errors"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// ErrNotRunning is returned by Signal when the dispute has no running workflow.
var ErrNotRunning = errors.New("dispute workflow not running")

// Engine starts and signals dispute workflows through a Temporal client.
type Engine struct {
	client        client.Client
	escalateAfter time.Duration
}

// NewEngine returns an Engine. escalateAfter is passed to every new workflow.
func NewEngine(c client.Client, escalateAfter time.Duration) *Engine {
	return &Engine{client: c, escalateAfter: escalateAfter}
}

// WorkflowID is the Temporal workflow id of a dispute.
func WorkflowID(disputeID string) string { return "dispute-" + disputeID }

// Start launches the workflow for disputeID. Starting an already running dispute is a no-op.
func (e *Engine) Start(ctx context.Context, disputeID string) error {
	_, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       WorkflowID(disputeID),
		TaskQueue:                TaskQueue,
		WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}, DisputeResolution, Params{DisputeID: disputeID, EscalateAfter: e.escalateAfter})
	return err
}

// Signal delivers d to the dispute's workflow.
func (e *Engine) Signal(ctx context.Context, disputeID string, d Decision) error {
	err := e.client.SignalWorkflow(ctx, WorkflowID(disputeID), "", DecisionSignal, d)
	var nf *serviceerror.NotFound
	if errors.As(err, &nf) {
		return ErrNotRunning
	}
	return err
}

// NewWorker returns a worker serving the dispute task queue.
func NewWorker(c client.Client, r Resolver) worker.Worker {
	w := worker.New(c, TaskQueue, worker.Options{})
	w.RegisterWorkflow(DisputeResolution)
	w.RegisterActivity(&Activities{Resolver: r})
	return w
}
