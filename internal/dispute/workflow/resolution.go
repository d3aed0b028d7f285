// Package workflow runs dispute resolution on Temporal.
//
// Each open dispute gets one DisputeResolution workflow. It waits for the platform's decision signal; if none
// arrives within the escalation window it escalates the dispute to review and keeps waiting. The decision
// itself is applied by an activity, so a failing database or billing call is retried by Temporal rather than
// lost.
package workflow

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	// TaskQueue is the queue dispute workflows and activities are served from.
	TaskQueue = "medilink-disputes"
	// DecisionSignal carries a Decision to a running workflow.
	DecisionSignal = "dispute-decision"

	// DecisionWithdraw ends the workflow without applying anything; the hospital already withdrew.
	DecisionWithdraw = "withdraw"
)

// Params starts a workflow.
type Params struct {
	DisputeID     string
	EscalateAfter time.Duration
}

// Decision is the payload of DecisionSignal.
type Decision struct {
	Decision   string
	Resolution string
	ResolvedBy string
}

// Resolver applies workflow steps to the dispute store. Both calls must be idempotent.
type Resolver interface {
	Escalate(ctx context.Context, disputeID string) error
	ApplyDecision(ctx context.Context, disputeID, decision, resolution, resolvedBy string) error
}

// Activities exposes a Resolver as Temporal activities.
type Activities struct {
	Resolver Resolver
}

func (a *Activities) Escalate(ctx context.Context, disputeID string) error {
	return a.Resolver.Escalate(ctx, disputeID)
}

func (a *Activities) ApplyDecision(ctx context.Context, disputeID string, d Decision) error {
	return a.Resolver.ApplyDecision(ctx, disputeID, d.Decision, d.Resolution, d.ResolvedBy)
}

var activityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 30 * time.Second,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumAttempts:    5,
	},
}

// DisputeResolution waits for a decision on p.DisputeID, escalating once when p.EscalateAfter elapses first.
// It returns the decision it applied.
func DisputeResolution(ctx workflow.Context, p Params) (string, error) {
	logger := workflow.GetLogger(ctx)
	ctx = workflow.WithActivityOptions(ctx, activityOptions)
	var acts *Activities

	signals := workflow.GetSignalChannel(ctx, DecisionSignal)
	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	defer cancelTimer()

	var (
		decision Decision
		decided  bool
		timedOut bool
	)
	sel := workflow.NewSelector(ctx)
	sel.AddReceive(signals, func(c workflow.ReceiveChannel, _ bool) {
		c.Receive(ctx, &decision)
		decided = true
	})
	if p.EscalateAfter > 0 {
		sel.AddFuture(workflow.NewTimer(timerCtx, p.EscalateAfter), func(f workflow.Future) {
			timedOut = f.Get(ctx, nil) == nil
		})
	}

	for !decided {
		sel.Select(ctx)
		if timedOut {
			timedOut = false
			logger.Info("dispute escalated", "dispute_id", p.DisputeID)
			if err := workflow.ExecuteActivity(ctx, acts.Escalate, p.DisputeID).Get(ctx, nil); err != nil {
				return "", err
			}
		}
	}
	cancelTimer()

	if decision.Decision == DecisionWithdraw {
		logger.Info("dispute withdrawn", "dispute_id", p.DisputeID)
		return DecisionWithdraw, nil
	}
	if err := workflow.ExecuteActivity(ctx, acts.ApplyDecision, p.DisputeID, decision).Get(ctx, nil); err != nil {
		return "", err
	}
	logger.Info("dispute resolved", "dispute_id", p.DisputeID, "decision", decision.Decision)
	return decision.Decision, nil
}
