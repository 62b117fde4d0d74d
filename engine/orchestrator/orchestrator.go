// Package orchestrator executes workflow runs: one goroutine per run walking
// the template's steps through an external executor, pausing for approval at
// supervised steps, retrying failed steps, and archiving the terminal result.
//
// Completed steps are committed side effects in the external world. There is
// no rollback; a failed run stops where it failed and reports the position.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/delahq/dela/config"
	"github.com/delahq/dela/engine/policy"
	"github.com/delahq/dela/internal/metrics"
	"github.com/delahq/dela/notify"
	"github.com/delahq/dela/store"
	"github.com/delahq/dela/types"
)

// Executor performs one template step in the external world. A returned
// error or a failure outcome marks the attempt failed; the orchestrator
// decides whether to retry.
type Executor interface {
	ExecuteStep(ctx context.Context, run *types.WorkflowRun, step types.StepSpec, stepIndex int) (types.ExecutionResult, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, run *types.WorkflowRun, step types.StepSpec, stepIndex int) (types.ExecutionResult, error)

// ExecuteStep implements Executor.
func (f ExecutorFunc) ExecuteStep(ctx context.Context, run *types.WorkflowRun, step types.StepSpec, stepIndex int) (types.ExecutionResult, error) {
	return f(ctx, run, step, stepIndex)
}

type approvalSignal struct {
	stepIndex int
	approved  bool
}

// runHandle tracks one live run. All fields besides the channels are guarded
// by the orchestrator mutex.
type runHandle struct {
	run      *types.WorkflowRun
	tpl      *types.WorkflowTemplate
	pol      *types.AutomationPolicy
	approval chan approvalSignal
	cancel   context.CancelFunc
	awaiting int // step index paused for approval, -1 when not paused
	pausedAt time.Time
}

// Orchestrator owns the set of active runs. At most one active run exists
// per (user, template) pair.
type Orchestrator struct {
	cfg       config.OrchestratorConfig
	templates store.TemplateStore
	archive   store.RunArchive
	executor  Executor
	policies  *policy.Engine
	sink      notify.Sink
	collector *metrics.Collector
	logger    *zap.Logger
	tracer    trace.Tracer

	mu      sync.Mutex
	handles map[string]*runHandle // run ID -> handle
	active  map[string]string     // user|template -> run ID
	closed  bool
	wg      sync.WaitGroup
}

// New creates an orchestrator. policies, sink, and collector may be nil.
func New(cfg config.OrchestratorConfig, templates store.TemplateStore, archive store.RunArchive, executor Executor, policies *policy.Engine, sink notify.Sink, collector *metrics.Collector, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = notify.NopSink{}
	}
	return &Orchestrator{
		cfg:       cfg,
		templates: templates,
		archive:   archive,
		executor:  executor,
		policies:  policies,
		sink:      sink,
		collector: collector,
		logger:    logger.With(zap.String("component", "orchestrator")),
		tracer:    otel.Tracer("dela/orchestrator"),
		handles:   make(map[string]*runHandle),
		active:    make(map[string]string),
	}
}

func activeKey(user, templateID string) string { return user + "|" + templateID }

// Start launches a run of the template under the given policy. It fails with
// RUN_ALREADY_ACTIVE when an active run exists for the same (user, template)
// pair. The returned run is a snapshot; execution continues in the
// background, detached from the caller's context.
func (o *Orchestrator) Start(ctx context.Context, tpl *types.WorkflowTemplate, pol *types.AutomationPolicy) (*types.WorkflowRun, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, types.NewError(types.ErrInternalError, "orchestrator is shutting down")
	}
	if pol == nil || !pol.Executable() {
		state := types.PolicyUnlearned
		if pol != nil {
			state = pol.State
		}
		return nil, types.NewError(types.ErrPolicyViolation,
			fmt.Sprintf("policy state %q does not permit execution of template %s", state, tpl.ID))
	}
	key := activeKey(tpl.User, tpl.ID)
	if runID, exists := o.active[key]; exists {
		return nil, types.NewError(types.ErrRunAlreadyActive,
			fmt.Sprintf("run %s is already active for template %s", runID, tpl.ID))
	}

	now := time.Now()
	run := &types.WorkflowRun{
		ID:         types.NewRunID(),
		User:       tpl.User,
		TemplateID: tpl.ID,
		Status:     types.RunPending,
		FailedStep: -1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &runHandle{
		run:      run,
		tpl:      tpl,
		pol:      pol,
		approval: make(chan approvalSignal, 1),
		cancel:   cancel,
		awaiting: -1,
	}
	o.handles[run.ID] = h
	o.active[key] = run.ID

	if o.collector != nil {
		o.collector.RunStarted()
	}
	o.logger.Info("run started",
		zap.String("run_id", run.ID),
		zap.String("template_id", tpl.ID),
		zap.String("user", tpl.User),
		zap.String("policy_state", string(pol.State)),
	)

	o.wg.Add(1)
	go o.runLoop(runCtx, h)

	return snapshotRun(run), nil
}

// Run returns a snapshot of the run, live or archived.
func (o *Orchestrator) Run(ctx context.Context, runID string) (*types.WorkflowRun, error) {
	o.mu.Lock()
	if h, ok := o.handles[runID]; ok {
		run := snapshotRun(h.run)
		o.mu.Unlock()
		return run, nil
	}
	o.mu.Unlock()

	run, err := o.archive.Run(ctx, runID)
	if err != nil {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("run %s not found", runID)).WithCause(err)
	}
	return run, nil
}

// Approve releases a run paused for approval at the given step. Signals for
// a step the run is not currently paused on are ignored.
func (o *Orchestrator) Approve(ctx context.Context, runID string, stepIndex int) error {
	return o.signal(ctx, runID, stepIndex, true)
}

// Reject declines the pending approval: the run stops as cancelled and
// already-completed steps stay committed.
func (o *Orchestrator) Reject(ctx context.Context, runID string, stepIndex int) error {
	return o.signal(ctx, runID, stepIndex, false)
}

func (o *Orchestrator) signal(_ context.Context, runID string, stepIndex int, approved bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	h, ok := o.handles[runID]
	if !ok {
		return types.NewError(types.ErrNotFound, fmt.Sprintf("run %s is not active", runID))
	}
	if h.awaiting != stepIndex {
		// Stale or duplicate decision; the run has moved on.
		o.logger.Debug("ignoring stale approval signal",
			zap.String("run_id", runID),
			zap.Int("signal_step", stepIndex),
			zap.Int("awaiting_step", h.awaiting),
			zap.Bool("approved", approved),
		)
		return nil
	}
	h.awaiting = -1
	h.approval <- approvalSignal{stepIndex: stepIndex, approved: approved}
	return nil
}

// Cancel stops a run. Cancelling an already-terminal run is a no-op that
// returns the archived result.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) (*types.WorkflowRun, error) {
	o.mu.Lock()
	h, ok := o.handles[runID]
	if ok {
		h.cancel()
		o.mu.Unlock()
		// The run loop observes cancellation and finalizes; callers poll
		// Run for the terminal snapshot.
		return o.Run(ctx, runID)
	}
	o.mu.Unlock()

	run, err := o.archive.Run(ctx, runID)
	if err != nil {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("run %s not found", runID)).WithCause(err)
	}
	return run, nil
}

// CancelActive cancels the active run for a (user, template) pair, if one
// exists. It reports whether a run was cancelled.
func (o *Orchestrator) CancelActive(user, templateID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	runID, ok := o.active[activeKey(user, templateID)]
	if !ok {
		return false
	}
	if h, ok := o.handles[runID]; ok {
		h.cancel()
		return true
	}
	return false
}

// ActiveRuns returns snapshots of all currently active runs for a user.
func (o *Orchestrator) ActiveRuns(user string) []*types.WorkflowRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*types.WorkflowRun
	for _, h := range o.handles {
		if h.run.User == user {
			out = append(out, snapshotRun(h.run))
		}
	}
	return out
}

// Close stops accepting new runs and waits for in-flight runs to reach a
// terminal state. Paused runs are cancelled.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for _, h := range o.handles {
		h.cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for runs to stop: %w", ctx.Err())
	}
}

// runLoop drives one run from its current step to a terminal state.
func (o *Orchestrator) runLoop(ctx context.Context, h *runHandle) {
	defer o.wg.Done()

	ctx, span := o.tracer.Start(ctx, "run.execute", trace.WithAttributes(
		attribute.String("run.id", h.run.ID),
		attribute.String("template.id", h.tpl.ID),
		attribute.String("user", h.run.User),
	))
	defer span.End()

	o.setStatus(ctx, h, types.RunRunning, "")

	for i := h.run.CurrentStep; i < len(h.tpl.Steps); i++ {
		if ctx.Err() != nil {
			o.finish(ctx, h, types.RunCancelled, "run cancelled")
			return
		}

		if h.pol.RequiresApproval(i) {
			decision, ok := o.awaitApproval(ctx, h, i)
			if !ok {
				o.finish(ctx, h, types.RunCancelled, "cancelled while awaiting approval")
				return
			}
			if !decision.approved {
				o.recordStep(h, types.StepResult{
					Index:      i,
					ActionType: h.tpl.Steps[i].ActionType,
					Status:     types.StepRejected,
					StartedAt:  time.Now(),
					FinishedAt: time.Now(),
				})
				span.SetStatus(codes.Error, "step rejected")
				o.finish(ctx, h, types.RunCancelled, fmt.Sprintf("step %d rejected", i))
				return
			}
		}

		result, ok := o.executeStep(ctx, h, i)
		o.recordStep(h, result)
		if !ok {
			if ctx.Err() != nil {
				o.finish(ctx, h, types.RunCancelled, "run cancelled")
				return
			}
			o.mu.Lock()
			h.run.FailedStep = i
			o.mu.Unlock()
			span.SetStatus(codes.Error, "step failed")
			o.finish(ctx, h, types.RunFailed, fmt.Sprintf("step %d failed: %s", i, result.Error))
			return
		}

		o.mu.Lock()
		h.run.CurrentStep = i + 1
		h.run.UpdatedAt = time.Now()
		o.mu.Unlock()
	}

	o.recordCompletion(ctx, h)
	o.finish(ctx, h, types.RunCompleted, "")
}

// awaitApproval parks the run until the step decision arrives, the run is
// cancelled, or the configured wait expires.
func (o *Orchestrator) awaitApproval(ctx context.Context, h *runHandle, stepIndex int) (approvalSignal, bool) {
	o.mu.Lock()
	h.awaiting = stepIndex
	h.pausedAt = time.Now()
	o.mu.Unlock()
	o.setStatus(ctx, h, types.RunPausedForApproval, fmt.Sprintf("awaiting approval for step %d", stepIndex))

	var expiry <-chan time.Time
	if o.cfg.ApprovalWait > 0 {
		timer := time.NewTimer(o.cfg.ApprovalWait)
		defer timer.Stop()
		expiry = timer.C
	}

	select {
	case decision := <-h.approval:
		o.mu.Lock()
		wait := time.Since(h.pausedAt)
		o.mu.Unlock()
		if o.collector != nil {
			o.collector.ApprovalResolved(wait)
		}
		o.setStatus(ctx, h, types.RunRunning, "")
		return decision, true
	case <-expiry:
		o.logger.Warn("approval wait expired",
			zap.String("run_id", h.run.ID),
			zap.Int("step", stepIndex),
		)
		return approvalSignal{}, false
	case <-ctx.Done():
		return approvalSignal{}, false
	}
}

// executeStep runs one step through the executor with the configured retry
// budget. ok is false when every attempt failed.
func (o *Orchestrator) executeStep(ctx context.Context, h *runHandle, stepIndex int) (types.StepResult, bool) {
	spec := h.tpl.Steps[stepIndex]
	result := types.StepResult{
		Index:      stepIndex,
		ActionType: spec.ActionType,
		StartedAt:  time.Now(),
	}

	ctx, span := o.tracer.Start(ctx, "run.step", trace.WithAttributes(
		attribute.Int("step.index", stepIndex),
		attribute.String("step.action_type", spec.ActionType),
	))
	defer span.End()

	var lastErr string
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			break
		}
		if attempt > 0 {
			if o.collector != nil {
				o.collector.StepRetried()
			}
			o.logger.Info("retrying step",
				zap.String("run_id", h.run.ID),
				zap.Int("step", stepIndex),
				zap.Int("attempt", attempt+1),
			)
		}
		result.Attempts = attempt + 1

		attemptCtx := ctx
		var cancel context.CancelFunc
		if o.cfg.StepTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, o.cfg.StepTimeout)
		}
		execResult, err := o.executor.ExecuteStep(attemptCtx, snapshotRun(h.run), spec, stepIndex)
		if cancel != nil {
			cancel()
		}

		switch {
		case err != nil:
			lastErr = err.Error()
		case execResult.Status == types.OutcomeFailure:
			lastErr = "executor reported failure"
		default:
			result.Status = types.StepSucceeded
			result.OutputRefs = execResult.OutputRefs
			result.FinishedAt = time.Now()
			if o.collector != nil {
				o.collector.StepExecuted(result.FinishedAt.Sub(result.StartedAt))
			}
			return result, true
		}
	}

	result.Status = types.StepFailed
	result.Error = lastErr
	result.FinishedAt = time.Now()
	span.SetStatus(codes.Error, lastErr)
	if o.collector != nil {
		o.collector.StepExecuted(result.FinishedAt.Sub(result.StartedAt))
	}
	return result, false
}

func (o *Orchestrator) recordStep(h *runHandle, result types.StepResult) {
	o.mu.Lock()
	h.run.StepResults = append(h.run.StepResults, result)
	h.run.UpdatedAt = time.Now()
	o.mu.Unlock()
}

// recordCompletion credits the template for a successful automated run: one
// success, plus the time of one average manual occurrence saved.
func (o *Orchestrator) recordCompletion(ctx context.Context, h *runHandle) {
	tpl, err := o.templates.Template(ctx, h.tpl.ID)
	if err != nil {
		o.logger.Warn("cannot credit template for completed run",
			zap.String("template_id", h.tpl.ID), zap.Error(err))
		return
	}
	tpl.SuccessCount++
	tpl.TimeSavedEstimate += o.meanManualDuration(ctx, tpl.ID)
	if err := o.templates.SaveTemplate(ctx, tpl); err != nil {
		o.logger.Warn("cannot save template success count",
			zap.String("template_id", tpl.ID), zap.Error(err))
	}
}

// meanManualDuration averages the observed durations of the template's
// recorded instances.
func (o *Orchestrator) meanManualDuration(ctx context.Context, templateID string) time.Duration {
	instances, err := o.templates.InstancesByTemplate(ctx, templateID)
	if err != nil || len(instances) == 0 {
		return 0
	}
	var total time.Duration
	for _, in := range instances {
		total += in.ClosedAt.Sub(in.OpenedAt)
	}
	return total / time.Duration(len(instances))
}

// finish moves the run to a terminal status, archives it, and reviews the
// template's recent run history for demotion.
func (o *Orchestrator) finish(ctx context.Context, h *runHandle, status types.RunStatus, detail string) {
	o.mu.Lock()
	h.run.Status = status
	h.run.UpdatedAt = time.Now()
	run := snapshotRun(h.run)
	delete(o.handles, run.ID)
	delete(o.active, activeKey(run.User, run.TemplateID))
	o.mu.Unlock()

	// Archive with a context detached from run cancellation.
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.archive.ArchiveRun(archiveCtx, run); err != nil {
		o.logger.Error("run archive failed",
			zap.String("run_id", run.ID), zap.Error(err))
	}

	if o.collector != nil {
		o.collector.RunFinished(string(status))
	}
	o.sink.RunEvent(archiveCtx, notify.RunEvent{
		RunID:      run.ID,
		TemplateID: run.TemplateID,
		User:       run.User,
		Status:     status,
		StepIndex:  run.CurrentStep,
		Detail:     detail,
		EmittedAt:  run.UpdatedAt,
	})
	o.logger.Info("run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(status)),
		zap.String("detail", detail),
	)

	if o.policies != nil && status != types.RunCancelled {
		if _, demoted, err := o.policies.ReviewRunHistory(archiveCtx, run.TemplateID, run.User, run.UpdatedAt); err != nil {
			o.logger.Warn("run history review failed",
				zap.String("template_id", run.TemplateID), zap.Error(err))
		} else if demoted {
			o.sink.RunEvent(archiveCtx, notify.RunEvent{
				RunID:      run.ID,
				TemplateID: run.TemplateID,
				User:       run.User,
				Status:     status,
				Detail:     "template demoted to supervised after repeated failures",
				EmittedAt:  time.Now(),
			})
		}
	}
}

// setStatus updates the run status and emits a run event. Terminal statuses
// go through finish instead.
func (o *Orchestrator) setStatus(ctx context.Context, h *runHandle, status types.RunStatus, detail string) {
	o.mu.Lock()
	h.run.Status = status
	h.run.UpdatedAt = time.Now()
	run := snapshotRun(h.run)
	o.mu.Unlock()

	o.sink.RunEvent(ctx, notify.RunEvent{
		RunID:      run.ID,
		TemplateID: run.TemplateID,
		User:       run.User,
		Status:     status,
		StepIndex:  run.CurrentStep,
		Detail:     detail,
		EmittedAt:  run.UpdatedAt,
	})
}

func snapshotRun(run *types.WorkflowRun) *types.WorkflowRun {
	out := *run
	out.StepResults = append([]types.StepResult(nil), run.StepResults...)
	return &out
}
