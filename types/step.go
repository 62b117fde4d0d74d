package types

import (
	"sort"
	"time"
)

// Actor identifies who performed an observed step.
type Actor string

const (
	ActorUser  Actor = "user"
	ActorAgent Actor = "agent"
)

// Outcome is the recorded result of an observed step.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
)

// EntityRef binds a generalizable role (e.g. "invoice_amount") to the
// concrete entity that filled it in one occurrence.
type EntityRef struct {
	Role string `json:"role"`
	ID   string `json:"id"`
}

// ObservedStep is one normalized recorded user/agent action. Steps are
// immutable once recorded and appended to a per-user, time-ordered log.
type ObservedStep struct {
	ID         string            `json:"id"`
	User       string            `json:"user"`
	ActionType string            `json:"action_type"`
	EntityRefs []EntityRef       `json:"entity_refs,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Actor      Actor             `json:"actor"`
	Outcome    Outcome           `json:"outcome"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Roles returns the sorted, de-duplicated entity roles of the step.
func (s ObservedStep) Roles() []string {
	seen := make(map[string]struct{}, len(s.EntityRefs))
	roles := make([]string, 0, len(s.EntityRefs))
	for _, ref := range s.EntityRefs {
		if _, ok := seen[ref.Role]; ok {
			continue
		}
		seen[ref.Role] = struct{}{}
		roles = append(roles, ref.Role)
	}
	sort.Strings(roles)
	return roles
}
