package matcher

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func keys(actions ...string) []stepKey {
	out := make([]stepKey, len(actions))
	for i, a := range actions {
		out[i] = stepKey{action: a}
	}
	return out
}

func TestSequenceSimilarity(t *testing.T) {
	a := keys("open_crm", "query_crm", "send_email")

	assert.Equal(t, 1.0, sequenceSimilarity(a, keys("open_crm", "query_crm", "send_email")))
	assert.Equal(t, 0.0, sequenceSimilarity(a, keys("x", "y", "z")))
	assert.Equal(t, 0.0, sequenceSimilarity(a, nil))

	// One insertion against a three-step base: 3 matches over length 4.
	assert.InDelta(t, 0.75,
		sequenceSimilarity(a, keys("open_crm", "query_crm", "check_calendar", "send_email")), 1e-9)

	// Order matters: same multiset, reversed.
	assert.Less(t, sequenceSimilarity(a, keys("send_email", "query_crm", "open_crm")), 0.5)
}

func TestSequenceSimilarity_RoleOverlapWeighting(t *testing.T) {
	withRole := []stepKey{{action: "send_email", roles: []string{"recipient"}}}
	sameRole := []stepKey{{action: "send_email", roles: []string{"recipient"}}}
	otherRole := []stepKey{{action: "send_email", roles: []string{"report"}}}
	noRole := []stepKey{{action: "send_email"}}

	assert.Equal(t, 1.0, sequenceSimilarity(withRole, sameRole))
	// Same action, disjoint roles: half credit.
	assert.InDelta(t, 0.5, sequenceSimilarity(withRole, otherRole), 1e-9)
	assert.InDelta(t, 0.5, sequenceSimilarity(withRole, noRole), 1e-9)

	partial := []stepKey{{action: "send_email", roles: []string{"recipient", "report"}}}
	// Jaccard 1/2 between {recipient} and {recipient, report}.
	assert.InDelta(t, 0.75, sequenceSimilarity(withRole, partial), 1e-9)
}

func TestRoleJaccard(t *testing.T) {
	assert.Equal(t, 1.0, roleJaccard(nil, nil))
	assert.Equal(t, 1.0, roleJaccard([]string{"a"}, []string{"a"}))
	assert.Equal(t, 0.0, roleJaccard([]string{"a"}, []string{"b"}))
	assert.InDelta(t, 1.0/3.0, roleJaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
	// Duplicates on either side do not inflate the union.
	assert.Equal(t, 1.0, roleJaccard([]string{"a", "a"}, []string{"a"}))
}

func genStepKeys() gopter.Gen {
	actions := gen.OneConstOf(
		"open_crm", "query_crm", "draft_report", "send_email", "check_calendar")
	return gen.SliceOf(actions).Map(func(as []string) []stepKey {
		return keys(as...)
	})
}

func TestSequenceSimilarity_Properties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("score stays within [0,1]", prop.ForAll(
		func(a, b []stepKey) bool {
			s := sequenceSimilarity(a, b)
			return s >= 0 && s <= 1
		},
		genStepKeys(), genStepKeys(),
	))

	properties.Property("score is symmetric", prop.ForAll(
		func(a, b []stepKey) bool {
			return sequenceSimilarity(a, b) == sequenceSimilarity(b, a)
		},
		genStepKeys(), genStepKeys(),
	))

	properties.Property("identical sequences score exactly 1", prop.ForAll(
		func(a []stepKey) bool {
			if len(a) == 0 {
				return sequenceSimilarity(a, a) == 0
			}
			return sequenceSimilarity(a, a) == 1
		},
		genStepKeys(),
	))

	properties.Property("dropping a step never raises the score above 1 match ratio", prop.ForAll(
		func(a []stepKey) bool {
			if len(a) < 2 {
				return true
			}
			truncated := a[:len(a)-1]
			s := sequenceSimilarity(a, truncated)
			return s <= float64(len(truncated))/float64(len(a))+1e-9
		},
		genStepKeys(),
	))

	properties.TestingRun(t)
}
