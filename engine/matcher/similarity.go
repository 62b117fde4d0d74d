package matcher

import "github.com/delahq/dela/types"

// stepKey is the comparable shape of one step: its action type and the set
// of entity roles it touches. Concrete entity values never participate in
// matching.
type stepKey struct {
	action string
	roles  []string
}

// Similarity scores how closely an instance's step sequence matches a
// template's canonical sequence, in [0,1]. The confidence scorer uses it to
// measure consistency across a template's linked instances.
func Similarity(in *types.WorkflowInstance, tpl *types.WorkflowTemplate) float64 {
	return sequenceSimilarity(instanceKeys(in), templateKeys(tpl))
}

func instanceKeys(in *types.WorkflowInstance) []stepKey {
	out := make([]stepKey, len(in.Steps))
	for i, s := range in.Steps {
		out[i] = stepKey{action: s.ActionType, roles: s.Roles()}
	}
	return out
}

func templateKeys(tpl *types.WorkflowTemplate) []stepKey {
	out := make([]stepKey, len(tpl.Steps))
	for i, s := range tpl.Steps {
		out[i] = stepKey{action: s.ActionType, roles: s.Roles}
	}
	return out
}

// sequenceSimilarity scores two ordered step sequences in [0,1]. It is a
// weighted longest-common-subsequence ratio: aligned steps must share an
// action type and contribute a weight scaled by how much their role sets
// overlap. Identical sequences score 1; disjoint sequences score 0.
func sequenceSimilarity(a, b []stepKey) float64 {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return 0
	}

	// dp[i][j]: best weighted LCS of a[:i] and b[:j].
	dp := make([][]float64, n+1)
	for i := range dp {
		dp[i] = make([]float64, m+1)
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			best := dp[i-1][j]
			if dp[i][j-1] > best {
				best = dp[i][j-1]
			}
			if a[i-1].action == b[j-1].action {
				w := dp[i-1][j-1] + matchWeight(a[i-1].roles, b[j-1].roles)
				if w > best {
					best = w
				}
			}
			dp[i][j] = best
		}
	}

	longer := n
	if m > longer {
		longer = m
	}
	return dp[n][m] / float64(longer)
}

// matchWeight scores one aligned step pair: the action types already agree,
// so the weight reflects role overlap. A shared action with completely
// different roles still counts for half.
func matchWeight(a, b []string) float64 {
	return 0.5 + 0.5*roleJaccard(a, b)
}

// roleJaccard is the Jaccard index of two role sets. Two empty sets are
// considered identical.
func roleJaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	set := make(map[string]struct{}, len(a))
	for _, r := range a {
		set[r] = struct{}{}
	}
	inter := 0
	union := len(set)
	seen := make(map[string]struct{}, len(b))
	for _, r := range b {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		if _, ok := set[r]; ok {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}
