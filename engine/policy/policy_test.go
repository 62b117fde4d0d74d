package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/delahq/dela/config"
	"github.com/delahq/dela/notify"
	"github.com/delahq/dela/store"
	"github.com/delahq/dela/types"
)

var policyTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore, *notify.ChannelSink) {
	t.Helper()
	mem := store.NewMemoryStore(zap.NewNop())
	sink := notify.NewChannelSink(16)
	e := New(config.DefaultPolicyConfig(), mem, mem, sink, nil, zap.NewNop())
	return e, mem, sink
}

func testTemplate() *types.WorkflowTemplate {
	return &types.WorkflowTemplate{
		ID:              "tpl_weekly_report",
		User:            "alice",
		Name:            "open_crm, query_crm, send_email",
		OccurrenceCount: 5,
		LastSeen:        policyTime,
	}
}

func archiveRun(t *testing.T, mem *store.MemoryStore, status types.RunStatus, at time.Time) {
	t.Helper()
	require.NoError(t, mem.ArchiveRun(context.Background(), &types.WorkflowRun{
		ID: types.NewRunID(), User: "alice", TemplateID: "tpl_weekly_report",
		Status: status, FailedStep: -1, CreatedAt: at, UpdatedAt: at,
	}))
}

func TestPolicyFor_DefaultsToUnlearned(t *testing.T) {
	e, _, _ := newTestEngine(t)
	p, err := e.PolicyFor(context.Background(), "tpl_x", "alice")
	require.NoError(t, err)
	assert.Equal(t, types.PolicyUnlearned, p.State)
	assert.Equal(t, 0.7, p.ConfidenceThreshold)
	assert.False(t, p.Executable())
}

func TestEvaluate_CrossingThresholdSuggestsOnce(t *testing.T) {
	e, _, sink := newTestEngine(t)
	ctx := context.Background()
	tpl := testTemplate()

	p, err := e.Evaluate(ctx, tpl, 0.75, policyTime)
	require.NoError(t, err)
	assert.Equal(t, types.PolicySuggested, p.State)
	assert.Equal(t, 0.75, p.LastConfidence)

	select {
	case sg := <-sink.Suggestions:
		assert.Equal(t, tpl.ID, sg.TemplateID)
		assert.Equal(t, 0.75, sg.Confidence)
	default:
		t.Fatal("expected a suggestion")
	}

	// A second evaluation above the threshold stays suggested, silently.
	p, err = e.Evaluate(ctx, tpl, 0.8, policyTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, types.PolicySuggested, p.State)
	assert.Empty(t, sink.Suggestions)
}

func TestEvaluate_BelowThresholdStaysUnlearned(t *testing.T) {
	e, _, sink := newTestEngine(t)
	p, err := e.Evaluate(context.Background(), testTemplate(), 0.69, policyTime)
	require.NoError(t, err)
	assert.Equal(t, types.PolicyUnlearned, p.State)
	assert.Empty(t, sink.Suggestions)
}

func TestAccept_SupervisedAndAutonomous(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	tpl := testTemplate()

	_, err := e.Evaluate(ctx, tpl, 0.75, policyTime)
	require.NoError(t, err)

	p, err := e.Accept(ctx, tpl.ID, "alice", types.PolicySupervised, []int{2}, policyTime)
	require.NoError(t, err)
	assert.Equal(t, types.PolicySupervised, p.State)
	assert.False(t, p.RequiresApproval(0))
	assert.True(t, p.RequiresApproval(2))

	p, err = e.Accept(ctx, tpl.ID, "alice", types.PolicyAutonomous, nil, policyTime)
	require.NoError(t, err)
	assert.Equal(t, types.PolicyAutonomous, p.State)
}

func TestAccept_AutonomousRequiresConfidence(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	tpl := testTemplate()

	_, err := e.Evaluate(ctx, tpl, 0.5, policyTime)
	require.NoError(t, err)

	_, err = e.Accept(ctx, tpl.ID, "alice", types.PolicyAutonomous, nil, policyTime)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidTransition))

	// Supervised acceptance has no confidence requirement.
	_, err = e.Accept(ctx, tpl.ID, "alice", types.PolicySupervised, nil, policyTime)
	require.NoError(t, err)
}

func TestAccept_RejectsNonExecutableTarget(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.Accept(context.Background(), "tpl_x", "alice", types.PolicyDisabled, nil, policyTime)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestDecline_SuppressesResuggestUntilCooldown(t *testing.T) {
	e, _, sink := newTestEngine(t)
	ctx := context.Background()
	tpl := testTemplate()

	_, err := e.Evaluate(ctx, tpl, 0.75, policyTime)
	require.NoError(t, err)
	<-sink.Suggestions

	p, err := e.Decline(ctx, tpl.ID, "alice", policyTime)
	require.NoError(t, err)
	assert.Equal(t, types.PolicyDisabled, p.State)
	assert.True(t, p.InDeclineCooldown(policyTime.Add(time.Hour)))

	// Inside the cooldown: no re-suggestion no matter the confidence.
	p, err = e.Evaluate(ctx, tpl, 0.95, policyTime.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, types.PolicyDisabled, p.State)
	assert.Empty(t, sink.Suggestions)

	// Past the cooldown the template is suggested again.
	after := policyTime.Add(config.DefaultPolicyConfig().DeclineCooldown + time.Hour)
	p, err = e.Evaluate(ctx, tpl, 0.95, after)
	require.NoError(t, err)
	assert.Equal(t, types.PolicySuggested, p.State)
	require.Len(t, sink.Suggestions, 1)
}

func TestDisable_IsPermanentUntilAccepted(t *testing.T) {
	e, _, sink := newTestEngine(t)
	ctx := context.Background()
	tpl := testTemplate()

	_, err := e.Evaluate(ctx, tpl, 0.75, policyTime)
	require.NoError(t, err)
	<-sink.Suggestions
	_, err = e.Accept(ctx, tpl.ID, "alice", types.PolicySupervised, nil, policyTime)
	require.NoError(t, err)

	p, err := e.Disable(ctx, tpl.ID, "alice", policyTime)
	require.NoError(t, err)
	assert.Equal(t, types.PolicyDisabled, p.State)

	// No cooldown: evaluation never re-suggests a hard-disabled template.
	p, err = e.Evaluate(ctx, tpl, 0.99, policyTime.Add(365*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, types.PolicyDisabled, p.State)
	assert.Empty(t, sink.Suggestions)

	// The user can still bring it back explicitly.
	p, err = e.Accept(ctx, tpl.ID, "alice", types.PolicySupervised, nil, policyTime)
	require.NoError(t, err)
	assert.Equal(t, types.PolicySupervised, p.State)
}

func TestAuthorizeRun_BlocksNonExecutableStates(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	tpl := testTemplate()

	for _, state := range []types.PolicyState{types.PolicyUnlearned, types.PolicySuggested, types.PolicyDisabled} {
		require.NoError(t, e.templates.SavePolicy(ctx, &types.AutomationPolicy{
			TemplateID: tpl.ID, User: "alice", State: state, ConfidenceThreshold: 0.7,
		}))
		_, err := e.AuthorizeRun(ctx, tpl, 0.9, policyTime)
		require.Error(t, err, "state %s", state)
		assert.True(t, types.IsCode(err, types.ErrPolicyViolation))
	}
}

func TestAuthorizeRun_DemotesStaleAutonomous(t *testing.T) {
	e, mem, _ := newTestEngine(t)
	ctx := context.Background()
	tpl := testTemplate()

	require.NoError(t, mem.SavePolicy(ctx, &types.AutomationPolicy{
		TemplateID: tpl.ID, User: "alice", State: types.PolicyAutonomous,
		ConfidenceThreshold: 0.7, LastConfidence: 0.9,
	}))

	// Confidence has decayed below the threshold by run start: the run may
	// proceed, but only under supervision.
	p, err := e.AuthorizeRun(ctx, tpl, 0.6, policyTime)
	require.NoError(t, err)
	assert.Equal(t, types.PolicySupervised, p.State)

	saved, err := mem.Policy(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PolicySupervised, saved.State)
}

func TestReviewRunHistory_DemotesOnFailureRate(t *testing.T) {
	e, mem, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, mem.SavePolicy(ctx, &types.AutomationPolicy{
		TemplateID: "tpl_weekly_report", User: "alice",
		State: types.PolicyAutonomous, ConfidenceThreshold: 0.7, LastConfidence: 0.9,
	}))

	// 6 completed, 4 failed over the last 10: success rate 0.6 < 0.7.
	at := policyTime
	for i := 0; i < 6; i++ {
		archiveRun(t, mem, types.RunCompleted, at)
		at = at.Add(time.Minute)
	}
	for i := 0; i < 4; i++ {
		archiveRun(t, mem, types.RunFailed, at)
		at = at.Add(time.Minute)
	}

	p, demoted, err := e.ReviewRunHistory(ctx, "tpl_weekly_report", "alice", policyTime)
	require.NoError(t, err)
	assert.True(t, demoted)
	assert.Equal(t, types.PolicySupervised, p.State)
}

func TestReviewRunHistory_RequiresFullWindow(t *testing.T) {
	e, mem, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, mem.SavePolicy(ctx, &types.AutomationPolicy{
		TemplateID: "tpl_weekly_report", User: "alice",
		State: types.PolicyAutonomous, ConfidenceThreshold: 0.7,
	}))

	// Only 5 terminal runs, all failed: not enough history to judge.
	at := policyTime
	for i := 0; i < 5; i++ {
		archiveRun(t, mem, types.RunFailed, at)
		at = at.Add(time.Minute)
	}

	p, demoted, err := e.ReviewRunHistory(ctx, "tpl_weekly_report", "alice", policyTime)
	require.NoError(t, err)
	assert.False(t, demoted)
	assert.Equal(t, types.PolicyAutonomous, p.State)
}

func TestReviewRunHistory_CancelledRunsDoNotCount(t *testing.T) {
	e, mem, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, mem.SavePolicy(ctx, &types.AutomationPolicy{
		TemplateID: "tpl_weekly_report", User: "alice",
		State: types.PolicyAutonomous, ConfidenceThreshold: 0.7,
	}))

	// 10 healthy runs, then a burst of cancellations: still healthy.
	at := policyTime
	for i := 0; i < 10; i++ {
		archiveRun(t, mem, types.RunCompleted, at)
		at = at.Add(time.Minute)
	}
	for i := 0; i < 5; i++ {
		archiveRun(t, mem, types.RunCancelled, at)
		at = at.Add(time.Minute)
	}

	_, demoted, err := e.ReviewRunHistory(ctx, "tpl_weekly_report", "alice", policyTime)
	require.NoError(t, err)
	assert.False(t, demoted)
}
