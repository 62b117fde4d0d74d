// Package matcher segments the observed-step stream into workflow instances
// and links closed instances to workflow templates, creating a template when
// nothing similar exists yet.
package matcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/delahq/dela/config"
	"github.com/delahq/dela/graph"
	"github.com/delahq/dela/internal/metrics"
	"github.com/delahq/dela/store"
	"github.com/delahq/dela/types"
)

// Result describes one instance affected by an ingest or a sweep: either a
// step was appended to a still-open instance, or the instance was closed and
// linked, generalized into a new template, or discarded as too short.
type Result struct {
	Instance    *types.WorkflowInstance
	Closed      bool
	Template    *types.WorkflowTemplate // set when closed and not discarded
	NewTemplate bool
	Discarded   bool
}

// Matcher owns the open instance set. One instance is open per user at a
// time; a step either continues it or, after the idle timeout, closes it and
// opens a fresh one.
type Matcher struct {
	cfg       config.MatcherConfig
	templates store.TemplateStore
	graph     graph.Store
	collector *metrics.Collector
	logger    *zap.Logger

	mu       sync.Mutex
	open     map[string]*types.WorkflowInstance // user -> open instance
	terminal map[string]struct{}
}

// New creates a matcher. graph and collector may be nil.
func New(cfg config.MatcherConfig, templates store.TemplateStore, g graph.Store, collector *metrics.Collector, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Matcher{
		cfg:       cfg,
		templates: templates,
		graph:     g,
		collector: collector,
		logger:    logger.With(zap.String("component", "matcher")),
		open:      make(map[string]*types.WorkflowInstance),
		terminal:  make(map[string]struct{}, len(cfg.TerminalActions)),
	}
	for _, a := range cfg.TerminalActions {
		m.terminal[strings.ToLower(strings.TrimSpace(a))] = struct{}{}
	}
	return m
}

// Ingest routes one observed step. It returns a result per affected
// instance: when the step's arrival first expires an idle instance, that
// closure is reported ahead of the result for the step itself.
func (m *Matcher) Ingest(ctx context.Context, step types.ObservedStep) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []Result

	inst := m.open[step.User]
	if inst != nil && m.cfg.IdleTimeout > 0 && step.Timestamp.Sub(inst.LastActivity()) > m.cfg.IdleTimeout {
		res, err := m.closeLocked(ctx, inst, inst.LastActivity())
		if err != nil {
			return nil, err
		}
		results = append(results, res)
		inst = nil
	}

	if inst == nil {
		inst = &types.WorkflowInstance{
			ID:       types.NewInstanceID(),
			User:     step.User,
			OpenedAt: step.Timestamp,
		}
		m.open[step.User] = inst
	}
	inst.Steps = append(inst.Steps, step)

	if _, isTerminal := m.terminal[step.ActionType]; isTerminal {
		res, err := m.closeLocked(ctx, inst, step.Timestamp)
		if err != nil {
			return nil, err
		}
		return append(results, res), nil
	}

	return append(results, Result{Instance: inst}), nil
}

// CloseIdle closes every open instance whose last activity is older than the
// idle timeout as of now. The engine calls this from a periodic sweep.
func (m *Matcher) CloseIdle(ctx context.Context, now time.Time) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.IdleTimeout <= 0 {
		return nil, nil
	}

	var results []Result
	for _, inst := range m.open {
		if now.Sub(inst.LastActivity()) <= m.cfg.IdleTimeout {
			continue
		}
		res, err := m.closeLocked(ctx, inst, inst.LastActivity())
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// closeLocked finalizes one instance: too-short instances are discarded,
// otherwise the instance is linked to its best-matching template or
// generalized into a new one. Caller holds m.mu.
func (m *Matcher) closeLocked(ctx context.Context, inst *types.WorkflowInstance, closedAt time.Time) (Result, error) {
	delete(m.open, inst.User)
	inst.Closed = true
	inst.ClosedAt = closedAt

	if len(inst.Steps) < m.cfg.MinSteps {
		m.logger.Debug("instance discarded",
			zap.String("instance_id", inst.ID),
			zap.String("user", inst.User),
			zap.Int("steps", len(inst.Steps)),
		)
		if m.collector != nil {
			m.collector.InstanceClosed("discarded")
		}
		return Result{Instance: inst, Closed: true, Discarded: true}, nil
	}

	tpl, created, err := m.resolveTemplate(ctx, inst, closedAt)
	if err != nil {
		return Result{}, err
	}
	inst.TemplateID = tpl.ID

	if err := m.templates.SaveTemplate(ctx, tpl); err != nil {
		return Result{}, fmt.Errorf("save template: %w", err)
	}
	if err := m.templates.SaveInstance(ctx, inst); err != nil {
		return Result{}, fmt.Errorf("save instance: %w", err)
	}
	m.mirrorToGraph(ctx, inst, tpl)

	if m.collector != nil {
		if created {
			m.collector.InstanceClosed("new_template")
			m.collector.TemplateCreated()
		} else {
			m.collector.InstanceClosed("matched")
			m.collector.TemplateMatched()
		}
	}
	m.logger.Info("instance closed",
		zap.String("instance_id", inst.ID),
		zap.String("user", inst.User),
		zap.String("template_id", tpl.ID),
		zap.Bool("new_template", created),
		zap.Int("occurrence_count", tpl.OccurrenceCount),
	)

	return Result{Instance: inst, Closed: true, Template: tpl, NewTemplate: created}, nil
}

// resolveTemplate finds the user's best-matching template at or above the
// similarity floor, preferring the most recently seen one on a tie. When
// nothing qualifies, the instance is generalized into a new template.
func (m *Matcher) resolveTemplate(ctx context.Context, inst *types.WorkflowInstance, closedAt time.Time) (*types.WorkflowTemplate, bool, error) {
	candidates, err := m.templates.TemplatesByUser(ctx, inst.User)
	if err != nil {
		return nil, false, fmt.Errorf("list templates: %w", err)
	}

	var (
		best    *types.WorkflowTemplate
		bestSim float64
	)
	const eps = 1e-9
	for _, tpl := range candidates {
		sim := Similarity(inst, tpl)
		if sim < m.cfg.SimilarityFloor {
			continue
		}
		switch {
		case best == nil || sim > bestSim+eps:
			best, bestSim = tpl, sim
		case sim > bestSim-eps && tpl.LastSeen.After(best.LastSeen):
			best = tpl
		}
	}

	if best != nil {
		best.OccurrenceCount++
		best.LastSeen = closedAt
		return best, false, nil
	}

	tpl := &types.WorkflowTemplate{
		ID:              types.NewTemplateID(),
		User:            inst.User,
		Name:            templateName(inst),
		Steps:           generalizeSteps(inst),
		OccurrenceCount: 1,
		LastSeen:        closedAt,
		CreatedAt:       closedAt,
	}
	return tpl, true, nil
}

// generalizeSteps lifts the instance's concrete steps into step specs:
// action types plus role sets, concrete entity IDs dropped.
func generalizeSteps(inst *types.WorkflowInstance) []types.StepSpec {
	specs := make([]types.StepSpec, len(inst.Steps))
	for i, s := range inst.Steps {
		specs[i] = types.StepSpec{ActionType: s.ActionType, Roles: s.Roles()}
	}
	return specs
}

func templateName(inst *types.WorkflowInstance) string {
	actions := inst.ActionTypes()
	if len(actions) > 4 {
		return strings.Join(actions[:3], ", ") + fmt.Sprintf(", +%d more", len(actions)-3)
	}
	return strings.Join(actions, ", ")
}

// mirrorToGraph records the closed instance in the workflow graph: the user
// performs the template, the instance realizes it, and the instance touches
// each entity it referenced. Graph writes are best effort; a failure is
// logged and never blocks ingestion.
func (m *Matcher) mirrorToGraph(ctx context.Context, inst *types.WorkflowInstance, tpl *types.WorkflowTemplate) {
	if m.graph == nil {
		return
	}
	now := inst.ClosedAt

	nodes := []*graph.Node{
		{ID: "user:" + inst.User, Type: graph.NodeUser, Label: inst.User, CreatedAt: now, UpdatedAt: now},
		{ID: tpl.ID, Type: graph.NodeTemplate, Label: tpl.Name, CreatedAt: tpl.CreatedAt, UpdatedAt: now},
		{ID: inst.ID, Type: graph.NodeInstance, CreatedAt: inst.OpenedAt, UpdatedAt: now},
	}
	edges := []*graph.Edge{
		{ID: edgeID("user:"+inst.User, graph.EdgePerforms, tpl.ID), FromID: "user:" + inst.User, ToID: tpl.ID, Type: graph.EdgePerforms, CreatedAt: now},
		{ID: edgeID(tpl.ID, graph.EdgeInstanceOf, inst.ID), FromID: tpl.ID, ToID: inst.ID, Type: graph.EdgeInstanceOf, CreatedAt: now},
	}

	seen := make(map[string]struct{})
	for _, step := range inst.Steps {
		for _, ref := range step.EntityRefs {
			if ref.ID == "" {
				continue
			}
			if _, dup := seen[ref.ID]; dup {
				continue
			}
			seen[ref.ID] = struct{}{}
			nodes = append(nodes, &graph.Node{
				ID:        ref.ID,
				Type:      graph.NodeEntity,
				Props:     map[string]string{"role": ref.Role},
				CreatedAt: now,
				UpdatedAt: now,
			})
			edges = append(edges, &graph.Edge{
				ID:     edgeID(inst.ID, graph.EdgeTouches, ref.ID),
				FromID: inst.ID, ToID: ref.ID, Type: graph.EdgeTouches, CreatedAt: now,
			})
		}
	}

	for _, n := range nodes {
		if err := m.graph.UpsertNode(ctx, n); err != nil {
			m.logger.Warn("graph node upsert failed", zap.String("node_id", n.ID), zap.Error(err))
			return
		}
	}
	for _, e := range edges {
		if err := m.graph.UpsertEdge(ctx, e); err != nil {
			m.logger.Warn("graph edge upsert failed", zap.String("from", e.FromID), zap.String("to", e.ToID), zap.Error(err))
			return
		}
	}

	m.linkTemplatesSharingEntities(ctx, tpl, seen, now)
}

// linkTemplatesSharingEntities connects the template to the user's other
// templates whose instances touch the same entities. Entities sit two hops
// from a template (template -> instance -> entity), so a depth-2 traversal
// from each shared entity surfaces every such template.
func (m *Matcher) linkTemplatesSharingEntities(ctx context.Context, tpl *types.WorkflowTemplate, entityIDs map[string]struct{}, now time.Time) {
	linked := make(map[string]struct{})
	for entityID := range entityIDs {
		related, err := m.graph.QueryRelated(ctx, entityID, 2)
		if err != nil {
			m.logger.Warn("graph traversal failed", zap.String("entity_id", entityID), zap.Error(err))
			continue
		}
		for _, r := range related {
			if r.Node.Type != graph.NodeTemplate || r.Node.ID == tpl.ID {
				continue
			}
			if _, dup := linked[r.Node.ID]; dup {
				continue
			}
			linked[r.Node.ID] = struct{}{}
			edge := &graph.Edge{
				ID:     edgeID(tpl.ID, graph.EdgeConnectsTo, r.Node.ID),
				FromID: tpl.ID, ToID: r.Node.ID, Type: graph.EdgeConnectsTo,
				Props:     map[string]string{"via": entityID},
				CreatedAt: now,
			}
			if err := m.graph.UpsertEdge(ctx, edge); err != nil {
				m.logger.Warn("graph edge upsert failed", zap.String("from", edge.FromID), zap.String("to", edge.ToID), zap.Error(err))
			}
		}
	}
}

// edgeID keys a mirrored edge by its endpoints so re-closing an instance of
// the same template upserts in place instead of duplicating edges.
func edgeID(from, edgeType, to string) string {
	return from + "|" + edgeType + "|" + to
}
