// Package engine assembles the behavior learning pipeline: normalization,
// instance matching, confidence scoring, policy evaluation, and run
// orchestration behind one facade.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/delahq/dela/config"
	"github.com/delahq/dela/engine/matcher"
	"github.com/delahq/dela/engine/normalize"
	"github.com/delahq/dela/engine/orchestrator"
	"github.com/delahq/dela/engine/policy"
	"github.com/delahq/dela/engine/scoring"
	"github.com/delahq/dela/graph"
	"github.com/delahq/dela/internal/metrics"
	"github.com/delahq/dela/notify"
	"github.com/delahq/dela/store"
	"github.com/delahq/dela/types"
)

// TemplateView is a template joined with its policy and current confidence,
// as served to clients.
type TemplateView struct {
	Template   *types.WorkflowTemplate `json:"template"`
	Policy     *types.AutomationPolicy `json:"policy"`
	Confidence scoring.Breakdown       `json:"confidence"`
}

// Engine is the top-level facade over the learning and execution pipeline.
type Engine struct {
	cfg       config.EngineConfig
	stores    *store.Stores
	graph     graph.Store
	matcher   *matcher.Matcher
	scorer    *scoring.Scorer
	policies  *policy.Engine
	orch      *orchestrator.Orchestrator
	collector *metrics.Collector
	logger    *zap.Logger

	templateLocks keyedMutex

	stopSweep chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

// New assembles an engine. The executor performs run steps in the external
// world; sink and collector may be nil.
func New(cfg config.EngineConfig, stores *store.Stores, g graph.Store, executor orchestrator.Executor, sink notify.Sink, collector *metrics.Collector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = notify.NopSink{}
	}

	policies := policy.New(cfg.Policy, stores.Templates, stores.Runs, sink, collector, logger)
	e := &Engine{
		cfg:       cfg,
		stores:    stores,
		graph:     g,
		matcher:   matcher.New(cfg.Matcher, stores.Templates, g, collector, logger),
		scorer:    scoring.New(cfg.Scorer, logger),
		policies:  policies,
		orch:      orchestrator.New(cfg.Orchestrator, stores.Templates, stores.Runs, executor, policies, sink, collector, logger),
		collector: collector,
		logger:    logger.With(zap.String("component", "engine")),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go e.sweepLoop()
	return e
}

// IngestEvent normalizes and records one observed action, routes it through
// the matcher, and folds any resulting instance closures into template
// confidence and policy state. Returns the normalized step.
func (e *Engine) IngestEvent(ctx context.Context, raw normalize.RawAction) (types.ObservedStep, error) {
	step, err := normalize.Normalize(raw)
	if err != nil {
		if e.collector != nil {
			e.collector.EventRejected()
		}
		return types.ObservedStep{}, err
	}

	if err := e.stores.Steps.Append(ctx, step); err != nil {
		return types.ObservedStep{}, fmt.Errorf("append step: %w", err)
	}
	if e.collector != nil {
		e.collector.EventIngested(step.ActionType)
	}

	results, err := e.matcher.Ingest(ctx, step)
	if err != nil {
		return types.ObservedStep{}, fmt.Errorf("match step: %w", err)
	}
	e.processClosures(ctx, results)
	return step, nil
}

// processClosures rescores and re-evaluates each template that gained an
// instance. Work is serialized per template so concurrent closures cannot
// interleave the read-score-save cycle.
func (e *Engine) processClosures(ctx context.Context, results []matcher.Result) {
	for _, res := range results {
		if !res.Closed || res.Discarded || res.Template == nil {
			continue
		}
		tpl := res.Template

		unlock := e.templateLocks.lock(tpl.ID)
		instances, err := e.stores.Templates.InstancesByTemplate(ctx, tpl.ID)
		if err != nil {
			unlock()
			e.logger.Error("cannot load instances for scoring",
				zap.String("template_id", tpl.ID), zap.Error(err))
			continue
		}
		breakdown := e.scorer.Score(tpl, instances, res.Instance.ClosedAt)
		if _, err := e.policies.Evaluate(ctx, tpl, breakdown.Score, res.Instance.ClosedAt); err != nil {
			e.logger.Error("policy evaluation failed",
				zap.String("template_id", tpl.ID), zap.Error(err))
		}
		unlock()
	}
}

// Steps returns the most recent observed steps for a user, oldest first.
func (e *Engine) Steps(ctx context.Context, user string, limit int) ([]types.ObservedStep, error) {
	return e.stores.Steps.Steps(ctx, user, limit)
}

// Templates returns the user's templates joined with policy and a freshly
// computed confidence breakdown.
func (e *Engine) Templates(ctx context.Context, user string) ([]TemplateView, error) {
	tpls, err := e.stores.Templates.TemplatesByUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	now := time.Now()
	views := make([]TemplateView, 0, len(tpls))
	for _, tpl := range tpls {
		view, err := e.templateView(ctx, tpl, now)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// Template returns one template view, scoped to the requesting user.
func (e *Engine) Template(ctx context.Context, templateID, user string) (TemplateView, error) {
	tpl, err := e.loadUserTemplate(ctx, templateID, user)
	if err != nil {
		return TemplateView{}, err
	}
	return e.templateView(ctx, tpl, time.Now())
}

func (e *Engine) templateView(ctx context.Context, tpl *types.WorkflowTemplate, now time.Time) (TemplateView, error) {
	instances, err := e.stores.Templates.InstancesByTemplate(ctx, tpl.ID)
	if err != nil {
		return TemplateView{}, fmt.Errorf("load instances: %w", err)
	}
	pol, err := e.policies.PolicyFor(ctx, tpl.ID, tpl.User)
	if err != nil {
		return TemplateView{}, err
	}
	return TemplateView{
		Template:   tpl,
		Policy:     pol,
		Confidence: e.scorer.Score(tpl, instances, now),
	}, nil
}

// SetMode applies the user's automation decision for a template: supervised
// or autonomous, optionally narrowing supervision to a step subset.
func (e *Engine) SetMode(ctx context.Context, templateID, user string, target types.PolicyState, superviseSteps []int) (*types.AutomationPolicy, error) {
	if _, err := e.loadUserTemplate(ctx, templateID, user); err != nil {
		return nil, err
	}
	unlock := e.templateLocks.lock(templateID)
	defer unlock()
	return e.policies.Accept(ctx, templateID, user, target, superviseSteps, time.Now())
}

// Decline records that the user turned the suggestion down; re-suggestion is
// suppressed for the configured cooldown.
func (e *Engine) Decline(ctx context.Context, templateID, user string) (*types.AutomationPolicy, error) {
	if _, err := e.loadUserTemplate(ctx, templateID, user); err != nil {
		return nil, err
	}
	unlock := e.templateLocks.lock(templateID)
	defer unlock()
	return e.policies.Decline(ctx, templateID, user, time.Now())
}

// Disable turns automation off for a template until the user re-enables it.
// An in-flight run of the template is cancelled.
func (e *Engine) Disable(ctx context.Context, templateID, user string) (*types.AutomationPolicy, error) {
	if _, err := e.loadUserTemplate(ctx, templateID, user); err != nil {
		return nil, err
	}
	unlock := e.templateLocks.lock(templateID)
	defer unlock()
	pol, err := e.policies.Disable(ctx, templateID, user, time.Now())
	if err != nil {
		return nil, err
	}
	if e.orch.CancelActive(user, templateID) {
		e.logger.Info("cancelled active run for disabled template",
			zap.String("template_id", templateID), zap.String("user", user))
	}
	return pol, nil
}

// TriggerRun starts a run of the template. Confidence is recomputed at this
// moment and the policy gate re-checked before anything executes.
func (e *Engine) TriggerRun(ctx context.Context, templateID, user string) (*types.WorkflowRun, error) {
	tpl, err := e.loadUserTemplate(ctx, templateID, user)
	if err != nil {
		return nil, err
	}

	unlock := e.templateLocks.lock(templateID)
	defer unlock()

	instances, err := e.stores.Templates.InstancesByTemplate(ctx, tpl.ID)
	if err != nil {
		return nil, fmt.Errorf("load instances: %w", err)
	}
	now := time.Now()
	breakdown := e.scorer.Score(tpl, instances, now)
	pol, err := e.policies.AuthorizeRun(ctx, tpl, breakdown.Score, now)
	if err != nil {
		return nil, err
	}
	return e.orch.Start(ctx, tpl, pol)
}

// Run returns a snapshot of a run, live or archived.
func (e *Engine) Run(ctx context.Context, runID string) (*types.WorkflowRun, error) {
	return e.orch.Run(ctx, runID)
}

// ApproveStep releases a paused run at the given step.
func (e *Engine) ApproveStep(ctx context.Context, runID string, stepIndex int) error {
	return e.orch.Approve(ctx, runID, stepIndex)
}

// RejectStep declines a pending approval; the run stops as cancelled.
func (e *Engine) RejectStep(ctx context.Context, runID string, stepIndex int) error {
	return e.orch.Reject(ctx, runID, stepIndex)
}

// CancelRun stops a run. Cancelling a terminal run is a no-op.
func (e *Engine) CancelRun(ctx context.Context, runID string) (*types.WorkflowRun, error) {
	return e.orch.Cancel(ctx, runID)
}

// Related returns graph nodes reachable from an entity within depth hops.
func (e *Engine) Related(ctx context.Context, entityID string, depth int) ([]graph.Related, error) {
	if depth <= 0 {
		depth = 1
	}
	return e.graph.QueryRelated(ctx, entityID, depth)
}

// Close stops the sweep loop and waits for active runs to finish.
func (e *Engine) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		close(e.stopSweep)
		<-e.sweepDone
		err = e.orch.Close(ctx)
	})
	return err
}

// loadUserTemplate fetches a template and verifies ownership. Templates of
// other users are indistinguishable from missing ones.
func (e *Engine) loadUserTemplate(ctx context.Context, templateID, user string) (*types.WorkflowTemplate, error) {
	tpl, err := e.stores.Templates.Template(ctx, templateID)
	if err != nil || tpl.User != user {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("template %s not found", templateID))
	}
	return tpl, nil
}

// sweepLoop periodically closes idle instances.
func (e *Engine) sweepLoop() {
	defer close(e.sweepDone)

	interval := e.cfg.Matcher.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopSweep:
			return
		case now := <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			results, err := e.matcher.CloseIdle(ctx, now)
			if err != nil {
				e.logger.Error("idle sweep failed", zap.Error(err))
			}
			e.processClosures(ctx, results)
			cancel()
		}
	}
}

// keyedMutex serializes work per string key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
