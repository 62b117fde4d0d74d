package types

import "time"

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunPending           RunStatus = "pending"
	RunRunning           RunStatus = "running"
	RunPausedForApproval RunStatus = "paused_for_approval"
	RunCompleted         RunStatus = "completed"
	RunFailed            RunStatus = "failed"
	RunCancelled         RunStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// Active reports whether the status counts against the one-active-run-per-
// (user, template) limit.
func (s RunStatus) Active() bool {
	switch s {
	case RunPending, RunRunning, RunPausedForApproval:
		return true
	}
	return false
}

// StepResultStatus is the outcome recorded for one executed run step.
type StepResultStatus string

const (
	StepSucceeded StepResultStatus = "succeeded"
	StepFailed    StepResultStatus = "failed"
	StepRejected  StepResultStatus = "rejected"
)

// StepResult records the outcome of one step of a run. Completed steps are
// committed side effects in the external world; they are never rolled back.
type StepResult struct {
	Index      int              `json:"index"`
	ActionType string           `json:"action_type"`
	Status     StepResultStatus `json:"status"`
	Attempts   int              `json:"attempts"`
	OutputRefs []EntityRef      `json:"output_refs,omitempty"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// WorkflowRun is one live execution attempt of a template under its current
// policy. CurrentStep is monotonic non-decreasing while the run is active;
// it only moves backward via explicit cancel and restart.
type WorkflowRun struct {
	ID          string       `json:"id"`
	User        string       `json:"user"`
	TemplateID  string       `json:"template_id"`
	Status      RunStatus    `json:"status"`
	CurrentStep int          `json:"current_step"`
	StepResults []StepResult `json:"step_results,omitempty"`
	FailedStep  int          `json:"failed_step"` // -1 unless Status == RunFailed
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// ExecutionResult is what an external action executor reports back.
type ExecutionResult struct {
	Status     Outcome     `json:"status"`
	OutputRefs []EntityRef `json:"output_refs,omitempty"`
}
