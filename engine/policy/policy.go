// Package policy owns the per-template automation gate: the state machine
// that decides when a learned template is suggested, how much oversight its
// runs require, and when earned autonomy is taken back.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/delahq/dela/config"
	"github.com/delahq/dela/internal/metrics"
	"github.com/delahq/dela/notify"
	"github.com/delahq/dela/store"
	"github.com/delahq/dela/types"
)

// Engine evaluates and transitions automation policies. Callers serialize
// operations per template; the engine itself holds no locks.
type Engine struct {
	cfg       config.PolicyConfig
	templates store.TemplateStore
	runs      store.RunArchive
	sink      notify.Sink
	collector *metrics.Collector
	logger    *zap.Logger
}

// New creates a policy engine. sink and collector may be nil.
func New(cfg config.PolicyConfig, templates store.TemplateStore, runs store.RunArchive, sink notify.Sink, collector *metrics.Collector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = notify.NopSink{}
	}
	return &Engine{
		cfg:       cfg,
		templates: templates,
		runs:      runs,
		sink:      sink,
		collector: collector,
		logger:    logger.With(zap.String("component", "policy")),
	}
}

// PolicyFor loads the template's policy, materializing the unlearned default
// when none has been persisted yet.
func (e *Engine) PolicyFor(ctx context.Context, templateID, user string) (*types.AutomationPolicy, error) {
	p, err := e.templates.Policy(ctx, templateID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return &types.AutomationPolicy{
		TemplateID:          templateID,
		User:                user,
		State:               types.PolicyUnlearned,
		ConfidenceThreshold: e.cfg.ConfidenceThreshold,
	}, nil
}

// Evaluate folds a freshly computed confidence into the template's policy.
// An unlearned template crossing the suggest threshold becomes suggested and
// emits exactly one suggestion; a declined template becomes eligible again
// once its cooldown expires; an autonomous template whose confidence fell
// below its threshold is demoted to supervised.
func (e *Engine) Evaluate(ctx context.Context, tpl *types.WorkflowTemplate, confidence float64, now time.Time) (*types.AutomationPolicy, error) {
	p, err := e.PolicyFor(ctx, tpl.ID, tpl.User)
	if err != nil {
		return nil, err
	}
	p.LastConfidence = confidence

	switch p.State {
	case types.PolicyUnlearned:
		if confidence >= e.cfg.SuggestThreshold {
			e.suggest(ctx, p, tpl, confidence, now)
		}
	case types.PolicyDisabled:
		// A hard disable has no cooldown and never re-suggests on its own.
		if !p.DeclinedUntil.IsZero() && !p.InDeclineCooldown(now) && confidence >= e.cfg.SuggestThreshold {
			p.DeclinedUntil = time.Time{}
			e.suggest(ctx, p, tpl, confidence, now)
		}
	case types.PolicyAutonomous:
		if confidence < p.ConfidenceThreshold {
			e.demote(p, "confidence below threshold", confidence)
		}
	}

	p.UpdatedAt = now
	if err := e.templates.SavePolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("save policy: %w", err)
	}
	if e.collector != nil {
		e.collector.ConfidenceUpdated(confidence)
	}
	return p, nil
}

// Accept applies the user's decision on how a template may execute. Target
// must be supervised or autonomous; promotion to autonomous additionally
// requires the last computed confidence to be at or above the policy's
// threshold. superviseSteps narrows supervision to a step subset; empty
// supervises every step.
func (e *Engine) Accept(ctx context.Context, templateID, user string, target types.PolicyState, superviseSteps []int, now time.Time) (*types.AutomationPolicy, error) {
	p, err := e.PolicyFor(ctx, templateID, user)
	if err != nil {
		return nil, err
	}

	switch target {
	case types.PolicySupervised:
	case types.PolicyAutonomous:
		if p.LastConfidence < p.ConfidenceThreshold {
			return nil, types.NewError(types.ErrInvalidTransition,
				fmt.Sprintf("confidence %.2f below threshold %.2f required for autonomous execution",
					p.LastConfidence, p.ConfidenceThreshold))
		}
	default:
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("cannot accept into state %q", target))
	}

	p.State = target
	p.SuperviseSteps = superviseSteps
	p.DeclinedUntil = time.Time{}
	p.UpdatedAt = now
	if err := e.templates.SavePolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("save policy: %w", err)
	}
	e.logger.Info("policy accepted",
		zap.String("template_id", templateID),
		zap.String("state", string(target)),
		zap.Ints("supervise_steps", superviseSteps),
	)
	return p, nil
}

// Decline records that the user turned a suggestion down. The template is
// disabled and will not be re-suggested until the cooldown elapses.
func (e *Engine) Decline(ctx context.Context, templateID, user string, now time.Time) (*types.AutomationPolicy, error) {
	p, err := e.PolicyFor(ctx, templateID, user)
	if err != nil {
		return nil, err
	}
	p.State = types.PolicyDisabled
	p.DeclinedUntil = now.Add(e.cfg.DeclineCooldown)
	p.UpdatedAt = now
	if err := e.templates.SavePolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("save policy: %w", err)
	}
	e.logger.Info("suggestion declined",
		zap.String("template_id", templateID),
		zap.Time("declined_until", p.DeclinedUntil),
	)
	return p, nil
}

// Disable turns automation off for a template with no cooldown: the template
// stays disabled until the user explicitly accepts it again.
func (e *Engine) Disable(ctx context.Context, templateID, user string, now time.Time) (*types.AutomationPolicy, error) {
	p, err := e.PolicyFor(ctx, templateID, user)
	if err != nil {
		return nil, err
	}
	p.State = types.PolicyDisabled
	p.DeclinedUntil = time.Time{}
	p.UpdatedAt = now
	if err := e.templates.SavePolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("save policy: %w", err)
	}
	e.logger.Info("automation disabled", zap.String("template_id", templateID))
	return p, nil
}

// AuthorizeRun gates a run start. Non-executable states fail with
// POLICY_VIOLATION. An autonomous template is re-checked against its
// confidence threshold at this moment; on a shortfall it is demoted to
// supervised and the run proceeds under supervision rather than unattended.
func (e *Engine) AuthorizeRun(ctx context.Context, tpl *types.WorkflowTemplate, confidence float64, now time.Time) (*types.AutomationPolicy, error) {
	p, err := e.PolicyFor(ctx, tpl.ID, tpl.User)
	if err != nil {
		return nil, err
	}
	if !p.Executable() {
		return nil, types.NewError(types.ErrPolicyViolation,
			fmt.Sprintf("template %s is %s and may not execute", tpl.ID, p.State))
	}

	p.LastConfidence = confidence
	if p.State == types.PolicyAutonomous && confidence < p.ConfidenceThreshold {
		e.demote(p, "confidence below threshold at run start", confidence)
	}
	p.UpdatedAt = now
	if err := e.templates.SavePolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("save policy: %w", err)
	}
	return p, nil
}

// ReviewRunHistory demotes an autonomous template whose recent runs are
// failing. The window covers the last FailureWindow terminal runs, cancelled
// runs excluded; demotion triggers only on a full window. Returns the policy
// and whether a demotion happened.
func (e *Engine) ReviewRunHistory(ctx context.Context, templateID, user string, now time.Time) (*types.AutomationPolicy, bool, error) {
	p, err := e.PolicyFor(ctx, templateID, user)
	if err != nil {
		return nil, false, err
	}
	if p.State != types.PolicyAutonomous {
		return p, false, nil
	}

	// Fetch extra so cancelled runs do not shrink the window.
	recent, err := e.runs.RecentRuns(ctx, user, templateID, e.cfg.FailureWindow*2)
	if err != nil {
		return nil, false, fmt.Errorf("load recent runs: %w", err)
	}

	completed, total := 0, 0
	for _, r := range recent {
		if r.Status == types.RunCancelled {
			continue
		}
		total++
		if r.Status == types.RunCompleted {
			completed++
		}
		if total == e.cfg.FailureWindow {
			break
		}
	}
	if total < e.cfg.FailureWindow {
		return p, false, nil
	}

	rate := float64(completed) / float64(total)
	if rate >= e.cfg.FailureRateBound {
		return p, false, nil
	}

	e.demote(p, "success rate below bound", rate)
	p.UpdatedAt = now
	if err := e.templates.SavePolicy(ctx, p); err != nil {
		return nil, false, fmt.Errorf("save policy: %w", err)
	}
	return p, true, nil
}

func (e *Engine) suggest(ctx context.Context, p *types.AutomationPolicy, tpl *types.WorkflowTemplate, confidence float64, now time.Time) {
	p.State = types.PolicySuggested
	e.sink.Suggest(ctx, notify.Suggestion{
		TemplateID: tpl.ID,
		User:       tpl.User,
		Summary:    fmt.Sprintf("%s (seen %d times)", tpl.Name, tpl.OccurrenceCount),
		Confidence: confidence,
		EmittedAt:  now,
	})
	if e.collector != nil {
		e.collector.SuggestionEmitted()
	}
	e.logger.Info("automation suggested",
		zap.String("template_id", tpl.ID),
		zap.String("user", tpl.User),
		zap.Float64("confidence", confidence),
	)
}

func (e *Engine) demote(p *types.AutomationPolicy, reason string, value float64) {
	p.State = types.PolicySupervised
	e.logger.Warn("autonomous template demoted to supervised",
		zap.String("template_id", p.TemplateID),
		zap.String("reason", reason),
		zap.Float64("value", value),
	)
}
