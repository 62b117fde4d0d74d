package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/delahq/dela/config"
	"github.com/delahq/dela/types"
)

var scoreTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func testTemplate(occurrences int, lastSeen time.Time) *types.WorkflowTemplate {
	return &types.WorkflowTemplate{
		ID:   "tpl_test",
		User: "alice",
		Steps: []types.StepSpec{
			{ActionType: "open_crm"},
			{ActionType: "query_crm"},
			{ActionType: "send_email", Roles: []string{"recipient"}},
		},
		OccurrenceCount: occurrences,
		LastSeen:        lastSeen,
		CreatedAt:       lastSeen.Add(-24 * time.Hour),
	}
}

func exactInstance(tpl *types.WorkflowTemplate, at time.Time) *types.WorkflowInstance {
	in := &types.WorkflowInstance{
		ID: types.NewInstanceID(), User: tpl.User, TemplateID: tpl.ID,
		OpenedAt: at, ClosedAt: at.Add(5 * time.Minute), Closed: true,
	}
	for _, spec := range tpl.Steps {
		step := types.ObservedStep{
			ID: types.NewStepID(), User: tpl.User, ActionType: spec.ActionType,
			Timestamp: at, Actor: types.ActorUser, Outcome: types.OutcomeSuccess,
		}
		for _, role := range spec.Roles {
			step.EntityRefs = append(step.EntityRefs, types.EntityRef{Role: role, ID: "x"})
		}
		in.Steps = append(in.Steps, step)
		at = at.Add(time.Minute)
	}
	return in
}

func TestScore_FreshConsistentRecurringTemplate(t *testing.T) {
	s := New(config.DefaultScorerConfig(), nil)
	tpl := testTemplate(5, scoreTime)

	var instances []*types.WorkflowInstance
	for i := 0; i < 5; i++ {
		instances = append(instances, exactInstance(tpl, scoreTime.Add(-time.Duration(i)*time.Hour)))
	}

	b := s.Score(tpl, instances, scoreTime)
	assert.Equal(t, 1.0, b.Recurrence)
	assert.Equal(t, 1.0, b.Consistency)
	assert.InDelta(t, 1.0, b.Recency, 0.01)
	assert.GreaterOrEqual(t, b.Score, 0.99)
}

func TestScore_SingleOccurrenceStaysBelowSuggestThreshold(t *testing.T) {
	s := New(config.DefaultScorerConfig(), nil)
	tpl := testTemplate(1, scoreTime)

	b := s.Score(tpl, []*types.WorkflowInstance{exactInstance(tpl, scoreTime)}, scoreTime)
	// recurrence 0.2, consistency 1, recency 1: 0.4*0.2 + 0.4*1 + 0.2*1 = 0.68
	assert.InDelta(t, 0.68, b.Score, 0.001)
	assert.Less(t, b.Score, config.DefaultPolicyConfig().SuggestThreshold)
}

func TestScore_RecencyDecaysToZeroAtStalenessWindow(t *testing.T) {
	cfg := config.DefaultScorerConfig()
	s := New(cfg, nil)

	tpl := testTemplate(5, scoreTime.Add(-cfg.StalenessWindow/2))
	b := s.Score(tpl, []*types.WorkflowInstance{exactInstance(tpl, scoreTime)}, scoreTime)
	assert.InDelta(t, 0.5, b.Recency, 0.001)

	tpl = testTemplate(5, scoreTime.Add(-2*cfg.StalenessWindow))
	b = s.Score(tpl, []*types.WorkflowInstance{exactInstance(tpl, scoreTime)}, scoreTime)
	assert.Equal(t, 0.0, b.Recency)

	// Staleness alone cannot zero the score while recurrence and
	// consistency hold.
	assert.InDelta(t, 0.8, b.Score, 0.001)
}

func TestScore_NoInstancesScoresZeroConsistency(t *testing.T) {
	s := New(config.DefaultScorerConfig(), nil)
	b := s.Score(testTemplate(5, scoreTime), nil, scoreTime)
	assert.Equal(t, 0.0, b.Consistency)
}

func TestScore_InconsistentInstancesLowerTheScore(t *testing.T) {
	s := New(config.DefaultScorerConfig(), nil)
	tpl := testTemplate(5, scoreTime)

	divergent := exactInstance(tpl, scoreTime)
	divergent.Steps = append(divergent.Steps, types.ObservedStep{
		ID: types.NewStepID(), User: "alice", ActionType: "check_calendar",
		Timestamp: scoreTime, Actor: types.ActorUser, Outcome: types.OutcomeSuccess,
	})

	consistent := s.Score(tpl, []*types.WorkflowInstance{exactInstance(tpl, scoreTime)}, scoreTime)
	mixed := s.Score(tpl, []*types.WorkflowInstance{exactInstance(tpl, scoreTime), divergent}, scoreTime)
	assert.Less(t, mixed.Score, consistent.Score)
}

func TestScore_ConsistencyCountsOnlyExactMatches(t *testing.T) {
	s := New(config.DefaultScorerConfig(), nil)
	tpl := testTemplate(5, scoreTime)

	// Every instance carries one extra trailing step: none matches the
	// canonical sequence exactly, however close they come.
	var instances []*types.WorkflowInstance
	for i := 0; i < 5; i++ {
		in := exactInstance(tpl, scoreTime)
		in.Steps = append(in.Steps, types.ObservedStep{
			ID: types.NewStepID(), User: "alice", ActionType: "check_calendar",
			Timestamp: scoreTime, Actor: types.ActorUser, Outcome: types.OutcomeSuccess,
		})
		instances = append(instances, in)
	}

	b := s.Score(tpl, instances, scoreTime)
	assert.Equal(t, 0.0, b.Consistency)
	// recurrence 1, consistency 0, recency 1: 0.4 + 0 + 0.2 = 0.6
	assert.InDelta(t, 0.6, b.Score, 0.001)
	assert.Less(t, b.Score, config.DefaultPolicyConfig().SuggestThreshold)

	// Half exact, half divergent: the fraction, not a graded mean.
	half := append(instances[:2:2],
		exactInstance(tpl, scoreTime), exactInstance(tpl, scoreTime))
	b = s.Score(tpl, half, scoreTime)
	assert.Equal(t, 0.5, b.Consistency)
}

func TestScore_Properties(t *testing.T) {
	cfg := config.DefaultScorerConfig()
	s := New(cfg, nil)

	rapid.Check(t, func(t *rapid.T) {
		occ := rapid.IntRange(0, 100).Draw(t, "occurrences")
		ageHours := rapid.IntRange(0, 24*90).Draw(t, "age_hours")
		instanceCount := rapid.IntRange(0, 8).Draw(t, "instances")

		tpl := testTemplate(occ, scoreTime.Add(-time.Duration(ageHours)*time.Hour))
		var instances []*types.WorkflowInstance
		for i := 0; i < instanceCount; i++ {
			instances = append(instances, exactInstance(tpl, scoreTime))
		}

		b := s.Score(tpl, instances, scoreTime)
		for name, v := range map[string]float64{
			"recurrence": b.Recurrence, "consistency": b.Consistency,
			"recency": b.Recency, "score": b.Score,
		} {
			if v < 0 || v > 1 {
				t.Fatalf("%s out of range: %v", name, v)
			}
		}

		// More occurrences never lower the score, everything else equal.
		bumped := testTemplate(occ+1, tpl.LastSeen)
		if s.Score(bumped, instances, scoreTime).Score < b.Score {
			t.Fatalf("score decreased when occurrence count grew")
		}

		// Aging never raises the score.
		older := testTemplate(occ, tpl.LastSeen.Add(-time.Hour))
		if s.Score(older, instances, scoreTime).Score > b.Score {
			t.Fatalf("score increased as the template aged")
		}
	})
}
