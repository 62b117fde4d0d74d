package store

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/delahq/dela/types"
)

// MemoryStore is a map-backed implementation of StepLog, TemplateStore, and
// RunArchive. Suitable for development and testing.
type MemoryStore struct {
	mu        sync.RWMutex
	steps     map[string][]types.ObservedStep // user -> ordered log
	templates map[string]*types.WorkflowTemplate
	byUser    map[string][]string // user -> template IDs, insertion order
	instances map[string][]*types.WorkflowInstance
	policies  map[string]*types.AutomationPolicy
	runs      map[string]*types.WorkflowRun
	runIndex  map[string][]string // user|template -> run IDs, newest first
	logger    *zap.Logger
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		steps:     make(map[string][]types.ObservedStep),
		templates: make(map[string]*types.WorkflowTemplate),
		byUser:    make(map[string][]string),
		instances: make(map[string][]*types.WorkflowInstance),
		policies:  make(map[string]*types.AutomationPolicy),
		runs:      make(map[string]*types.WorkflowRun),
		runIndex:  make(map[string][]string),
		logger:    logger.With(zap.String("component", "store_memory")),
	}
}

// Append records one observed step.
func (s *MemoryStore) Append(ctx context.Context, step types.ObservedStep) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[step.User] = append(s.steps[step.User], step)
	return nil
}

// Steps returns the most recent steps for a user, oldest first.
func (s *MemoryStore) Steps(ctx context.Context, user string, limit int) ([]types.ObservedStep, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.steps[user]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]types.ObservedStep, len(log))
	copy(out, log)
	return out, nil
}

// SaveTemplate inserts or replaces a template by ID.
func (s *MemoryStore) SaveTemplate(ctx context.Context, tpl *types.WorkflowTemplate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.templates[tpl.ID]; !exists {
		s.byUser[tpl.User] = append(s.byUser[tpl.User], tpl.ID)
	}
	s.templates[tpl.ID] = cloneTemplate(tpl)
	return nil
}

// Template returns a template by ID.
func (s *MemoryStore) Template(ctx context.Context, id string) (*types.WorkflowTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTemplate(tpl), nil
}

// TemplatesByUser returns a user's templates in creation order.
func (s *MemoryStore) TemplatesByUser(ctx context.Context, user string) ([]*types.WorkflowTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byUser[user]
	out := make([]*types.WorkflowTemplate, 0, len(ids))
	for _, id := range ids {
		if tpl, ok := s.templates[id]; ok {
			out = append(out, cloneTemplate(tpl))
		}
	}
	return out, nil
}

// SaveInstance persists a closed instance under its template.
func (s *MemoryStore) SaveInstance(ctx context.Context, in *types.WorkflowInstance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[in.TemplateID] = append(s.instances[in.TemplateID], cloneInstance(in))
	return nil
}

// InstancesByTemplate returns the instances linked to a template, oldest first.
func (s *MemoryStore) InstancesByTemplate(ctx context.Context, templateID string) ([]*types.WorkflowInstance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.instances[templateID]
	out := make([]*types.WorkflowInstance, len(list))
	for i, in := range list {
		out[i] = cloneInstance(in)
	}
	return out, nil
}

// SavePolicy inserts or replaces a policy by template ID.
func (s *MemoryStore) SavePolicy(ctx context.Context, p *types.AutomationPolicy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.TemplateID] = clonePolicy(p)
	return nil
}

// Policy returns the policy for a template.
func (s *MemoryStore) Policy(ctx context.Context, templateID string) (*types.AutomationPolicy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[templateID]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePolicy(p), nil
}

// ArchiveRun stores a closed run.
func (s *MemoryStore) ArchiveRun(ctx context.Context, run *types.WorkflowRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := run.User + "|" + run.TemplateID
	if _, exists := s.runs[run.ID]; !exists {
		s.runIndex[key] = append([]string{run.ID}, s.runIndex[key]...)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// Run returns an archived run by ID.
func (s *MemoryStore) Run(ctx context.Context, id string) (*types.WorkflowRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(run), nil
}

// RecentRuns returns up to n archived runs, most recent first.
func (s *MemoryStore) RecentRuns(ctx context.Context, user, templateID string, n int) ([]*types.WorkflowRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.runIndex[user+"|"+templateID]
	if n > 0 && len(ids) > n {
		ids = ids[:n]
	}
	out := make([]*types.WorkflowRun, 0, len(ids))
	for _, id := range ids {
		if run, ok := s.runs[id]; ok {
			out = append(out, cloneRun(run))
		}
	}
	return out, nil
}

// sortInstancesByClose orders instances oldest close first.
func sortInstancesByClose(list []*types.WorkflowInstance) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].ClosedAt.Before(list[j].ClosedAt)
	})
}

// sortTemplatesByCreation orders templates oldest first.
func sortTemplatesByCreation(list []*types.WorkflowTemplate) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func cloneTemplate(tpl *types.WorkflowTemplate) *types.WorkflowTemplate {
	out := *tpl
	out.Steps = make([]types.StepSpec, len(tpl.Steps))
	for i, s := range tpl.Steps {
		out.Steps[i] = s
		out.Steps[i].Roles = append([]string(nil), s.Roles...)
	}
	return &out
}

func cloneInstance(in *types.WorkflowInstance) *types.WorkflowInstance {
	out := *in
	out.Steps = append([]types.ObservedStep(nil), in.Steps...)
	return &out
}

func clonePolicy(p *types.AutomationPolicy) *types.AutomationPolicy {
	out := *p
	out.SuperviseSteps = append([]int(nil), p.SuperviseSteps...)
	return &out
}

func cloneRun(run *types.WorkflowRun) *types.WorkflowRun {
	out := *run
	out.StepResults = append([]types.StepResult(nil), run.StepResults...)
	return &out
}
