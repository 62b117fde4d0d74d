package types

import "time"

// WorkflowInstance is one concrete occurrence of a task: an ordered sequence
// of observed steps bounded by a detected start and end. An instance is
// created open, accumulates steps, and is never mutated after closing.
type WorkflowInstance struct {
	ID         string         `json:"id"`
	User       string         `json:"user"`
	TemplateID string         `json:"template_id,omitempty"` // empty while novel
	Steps      []ObservedStep `json:"steps"`
	OpenedAt   time.Time      `json:"opened_at"`
	ClosedAt   time.Time      `json:"closed_at,omitempty"`
	Closed     bool           `json:"closed"`
}

// LastActivity returns the timestamp of the most recent step, or the open
// time for an empty instance.
func (in *WorkflowInstance) LastActivity() time.Time {
	if len(in.Steps) == 0 {
		return in.OpenedAt
	}
	return in.Steps[len(in.Steps)-1].Timestamp
}

// ActionTypes returns the instance's step-type sequence in order.
func (in *WorkflowInstance) ActionTypes() []string {
	out := make([]string, len(in.Steps))
	for i, s := range in.Steps {
		out[i] = s.ActionType
	}
	return out
}

// StepSpec is one generalized step of a workflow template: an action type
// plus the entity roles the action requires.
type StepSpec struct {
	ActionType string   `json:"action_type"`
	Roles      []string `json:"roles,omitempty"`
}

// WorkflowTemplate is the canonical, generalized shape of a recurring task,
// inferred from multiple instances. A template links to many instances; the
// instance carries the back-reference, never the template.
type WorkflowTemplate struct {
	ID                string        `json:"id"`
	User              string        `json:"user"`
	Name              string        `json:"name"`
	Steps             []StepSpec    `json:"steps"`
	OccurrenceCount   int           `json:"occurrence_count"`
	SuccessCount      int           `json:"success_count"`
	TimeSavedEstimate time.Duration `json:"time_saved_estimate"`
	LastSeen          time.Time     `json:"last_seen"`
	CreatedAt         time.Time     `json:"created_at"`
}

// ActionTypes returns the template's canonical step-type sequence.
func (t *WorkflowTemplate) ActionTypes() []string {
	out := make([]string, len(t.Steps))
	for i, s := range t.Steps {
		out[i] = s.ActionType
	}
	return out
}

// MatchesExactly reports whether the instance's step sequence matches the
// template's canonical sequence with no insertions or deletions. Entity
// roles are compared as sets per step; concrete entity IDs are ignored.
func (t *WorkflowTemplate) MatchesExactly(in *WorkflowInstance) bool {
	if len(in.Steps) != len(t.Steps) {
		return false
	}
	for i, spec := range t.Steps {
		if in.Steps[i].ActionType != spec.ActionType {
			return false
		}
		if !sameRoleSet(spec.Roles, in.Steps[i].Roles()) {
			return false
		}
	}
	return true
}

func sameRoleSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, r := range a {
		set[r] = struct{}{}
	}
	for _, r := range b {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
