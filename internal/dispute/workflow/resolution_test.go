package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

type fakeResolver struct {
	mu        sync.Mutex
	escalated []string
	applied   []Decision
	failApply int
}

func (f *fakeResolver) Escalate(ctx context.Context, disputeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escalated = append(f.escalated, disputeID)
	return nil
}

func (f *fakeResolver) ApplyDecision(ctx context.Context, disputeID, decision, resolution, resolvedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failApply > 0 {
		f.failApply--
		return errors.New("db unavailable")
	}
	f.applied = append(f.applied, Decision{Decision: decision, Resolution: resolution, ResolvedBy: resolvedBy})
	return nil
}

func newEnv(t *testing.T, r *fakeResolver) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(DisputeResolution)
	env.RegisterActivity(&Activities{Resolver: r})
	return env
}

func TestDisputeResolution_DecisionBeforeEscalation(t *testing.T) {
	r := &fakeResolver{}
	env := newEnv(t, r)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(DecisionSignal, Decision{Decision: "provider", Resolution: "work verified", ResolvedBy: "admin"})
	}, time.Hour)

	env.ExecuteWorkflow(DisputeResolution, Params{DisputeID: "d1", EscalateAfter: 72 * time.Hour})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var got string
	require.NoError(t, env.GetWorkflowResult(&got))
	assert.Equal(t, "provider", got)
	assert.Empty(t, r.escalated)
	require.Len(t, r.applied, 1)
	assert.Equal(t, "work verified", r.applied[0].Resolution)
}

func TestDisputeResolution_EscalatesThenWaits(t *testing.T) {
	r := &fakeResolver{}
	env := newEnv(t, r)
	env.RegisterDelayedCallback(func() {
		assert.Equal(t, []string{"d1"}, r.escalated)
		env.SignalWorkflow(DecisionSignal, Decision{Decision: "hospital", ResolvedBy: "admin"})
	}, 100*time.Hour)

	env.ExecuteWorkflow(DisputeResolution, Params{DisputeID: "d1", EscalateAfter: 72 * time.Hour})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, []string{"d1"}, r.escalated, "escalation runs once")
	require.Len(t, r.applied, 1)
	assert.Equal(t, "hospital", r.applied[0].Decision)
}

func TestDisputeResolution_RetriesApply(t *testing.T) {
	r := &fakeResolver{failApply: 2}
	env := newEnv(t, r)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(DecisionSignal, Decision{Decision: "hospital"})
	}, time.Minute)

	env.ExecuteWorkflow(DisputeResolution, Params{DisputeID: "d1", EscalateAfter: time.Hour})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Len(t, r.applied, 1)
	assert.Equal(t, 0, r.failApply)
}

func TestDisputeResolution_Withdraw(t *testing.T) {
	r := &fakeResolver{}
	env := newEnv(t, r)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(DecisionSignal, Decision{Decision: DecisionWithdraw})
	}, time.Minute)

	env.ExecuteWorkflow(DisputeResolution, Params{DisputeID: "d1", EscalateAfter: time.Hour})

	require.True(t, env.IsWorkflowCompleted())
	var got string
	require.NoError(t, env.GetWorkflowResult(&got))
	assert.Equal(t, DecisionWithdraw, got)
	assert.Empty(t, r.applied)
}

func TestWorkflowID(t *testing.T) {
	assert.Equal(t, "dispute-abc", WorkflowID("abc"))
}
