// Package normalize converts raw observed actions into canonical
// ObservedStep records. Normalization is a pure function: no shared state,
// no side effects. Appending the result to the step log is the caller's
// responsibility.
package normalize

import (
	"sort"
	"strings"
	"time"

	"github.com/delahq/dela/types"
)

// RawEntity is one entity reference as captured by an observer integration.
type RawEntity struct {
	Role string `json:"role"`
	ID   string `json:"id"`
}

// RawAction is one observed action before normalization. Integrations
// produce these loosely; only user, action_type, and timestamp are required.
type RawAction struct {
	User       string            `json:"user"`
	ActionType string            `json:"action_type"`
	Entities   []RawEntity       `json:"entities,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Actor      string            `json:"actor,omitempty"`
	Outcome    string            `json:"outcome,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Normalize converts a raw action into a canonical ObservedStep.
// It fails with a MALFORMED_EVENT error when user, action_type, or
// timestamp is absent.
func Normalize(raw RawAction) (types.ObservedStep, error) {
	actionType := strings.ToLower(strings.TrimSpace(raw.ActionType))
	if actionType == "" {
		return types.ObservedStep{}, types.NewError(types.ErrMalformedEvent, "action_type is required")
	}
	if raw.Timestamp.IsZero() {
		return types.ObservedStep{}, types.NewError(types.ErrMalformedEvent, "timestamp is required")
	}
	user := strings.TrimSpace(raw.User)
	if user == "" {
		return types.ObservedStep{}, types.NewError(types.ErrMalformedEvent, "user is required")
	}

	step := types.ObservedStep{
		ID:         types.NewStepID(),
		User:       user,
		ActionType: actionType,
		Timestamp:  raw.Timestamp,
		Actor:      normalizeActor(raw.Actor),
		Outcome:    normalizeOutcome(raw.Outcome),
		Metadata:   raw.Metadata,
	}

	for _, e := range raw.Entities {
		role := strings.ToLower(strings.TrimSpace(e.Role))
		if role == "" {
			// Entities without a role carry no generalizable signal.
			continue
		}
		step.EntityRefs = append(step.EntityRefs, types.EntityRef{
			Role: role,
			ID:   strings.TrimSpace(e.ID),
		})
	}
	// Deterministic order so step comparison never depends on capture order.
	sort.Slice(step.EntityRefs, func(i, j int) bool {
		if step.EntityRefs[i].Role != step.EntityRefs[j].Role {
			return step.EntityRefs[i].Role < step.EntityRefs[j].Role
		}
		return step.EntityRefs[i].ID < step.EntityRefs[j].ID
	})

	return step, nil
}

func normalizeActor(s string) types.Actor {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "agent":
		return types.ActorAgent
	default:
		return types.ActorUser
	}
}

func normalizeOutcome(s string) types.Outcome {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "failure", "failed":
		return types.OutcomeFailure
	case "skipped":
		return types.OutcomeSkipped
	default:
		return types.OutcomeSuccess
	}
}
