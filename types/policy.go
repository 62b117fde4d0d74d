package types

import "time"

// PolicyState is the trust/oversight level granted to a template. Learning
// is represented as explicit transitions between these states, never as
// implicit dispatch on the confidence value, so promotion and demotion stay
// auditable independent of the scoring formula.
type PolicyState string

const (
	// PolicyUnlearned: the template exists but has not crossed the suggest
	// threshold; nothing is offered and nothing executes.
	PolicyUnlearned PolicyState = "unlearned"
	// PolicySuggested: a suggestion has been emitted; execution still blocked
	// until the user decides.
	PolicySuggested PolicyState = "suggested"
	// PolicySupervised: runs execute but pause for approval at supervised
	// steps (all steps when no explicit subset is configured).
	PolicySupervised PolicyState = "supervised"
	// PolicyAutonomous: runs execute without pausing. Requires confidence at
	// or above the threshold at promotion time and again at every run start.
	PolicyAutonomous PolicyState = "autonomous"
	// PolicyDisabled: user declined or disabled; suggestions suppressed for
	// the cooldown period and execution blocked.
	PolicyDisabled PolicyState = "disabled"
)

// AutomationPolicy is the per-template automation gate.
type AutomationPolicy struct {
	TemplateID          string      `json:"template_id"`
	User                string      `json:"user"`
	State               PolicyState `json:"state"`
	SuperviseSteps      []int       `json:"supervise_steps,omitempty"`
	ConfidenceThreshold float64     `json:"confidence_threshold"`
	LastConfidence      float64     `json:"last_confidence"`
	DeclinedUntil       time.Time   `json:"declined_until,omitempty"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// Executable reports whether the policy state permits starting a run.
func (p *AutomationPolicy) Executable() bool {
	return p.State == PolicySupervised || p.State == PolicyAutonomous
}

// RequiresApproval reports whether the given step index must pause for
// human approval under this policy. A supervised policy with no explicit
// step subset supervises every step.
func (p *AutomationPolicy) RequiresApproval(stepIndex int) bool {
	if p.State != PolicySupervised {
		return false
	}
	if len(p.SuperviseSteps) == 0 {
		return true
	}
	for _, idx := range p.SuperviseSteps {
		if idx == stepIndex {
			return true
		}
	}
	return false
}

// InDeclineCooldown reports whether suggestions are still suppressed after
// an explicit decline.
func (p *AutomationPolicy) InDeclineCooldown(now time.Time) bool {
	return !p.DeclinedUntil.IsZero() && now.Before(p.DeclinedUntil)
}
