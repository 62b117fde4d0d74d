// Package store provides persistent storage for the engine's per-user state:
// an append-only observed-step log, workflow templates with their instances
// and automation policies, and an archive of closed runs.
//
// Supported backends:
//   - Memory: for development and testing (default)
//   - Redis: for distributed deployments (step log, templates, policies)
//   - SQLite via GORM: relational archive of closed runs
package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/delahq/dela/config"
	"github.com/delahq/dela/types"
)

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrStoreClosed = errors.New("store is closed")
)

// StepLog is the per-user, append-only, time-ordered log of observed steps.
type StepLog interface {
	// Append records one observed step. Steps are immutable once appended.
	Append(ctx context.Context, step types.ObservedStep) error

	// Steps returns the most recent steps for a user, oldest first.
	// limit <= 0 returns all.
	Steps(ctx context.Context, user string, limit int) ([]types.ObservedStep, error)
}

// TemplateStore persists workflow templates, their linked instances, and
// their automation policies.
type TemplateStore interface {
	SaveTemplate(ctx context.Context, tpl *types.WorkflowTemplate) error
	Template(ctx context.Context, id string) (*types.WorkflowTemplate, error)
	TemplatesByUser(ctx context.Context, user string) ([]*types.WorkflowTemplate, error)

	SaveInstance(ctx context.Context, in *types.WorkflowInstance) error
	InstancesByTemplate(ctx context.Context, templateID string) ([]*types.WorkflowInstance, error)

	SavePolicy(ctx context.Context, p *types.AutomationPolicy) error
	Policy(ctx context.Context, templateID string) (*types.AutomationPolicy, error)
}

// RunArchive persists closed workflow runs for audit and for the policy
// engine's failure-rate window.
type RunArchive interface {
	ArchiveRun(ctx context.Context, run *types.WorkflowRun) error

	// Run returns an archived run by ID.
	Run(ctx context.Context, id string) (*types.WorkflowRun, error)

	// RecentRuns returns up to n archived runs for the (user, template)
	// pair, most recent first.
	RecentRuns(ctx context.Context, user, templateID string, n int) ([]*types.WorkflowRun, error)
}

// Stores bundles the opened backends.
type Stores struct {
	Steps     StepLog
	Templates TemplateStore
	Runs      RunArchive

	closers []func() error
}

// Close releases all backend resources.
func (s *Stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open creates the store set described by cfg.
func Open(cfg config.StoreConfig, logger *zap.Logger) (*Stores, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	out := &Stores{}

	switch cfg.Type {
	case "", "memory":
		mem := NewMemoryStore(logger)
		out.Steps = mem
		out.Templates = mem
		out.Runs = mem
	case "redis":
		rds, err := NewRedisStore(cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		out.Steps = rds
		out.Templates = rds
		out.Runs = rds
		out.closers = append(out.closers, rds.Close)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}

	if cfg.Archive.Enabled {
		arc, err := NewArchive(cfg.Archive, logger)
		if err != nil {
			return nil, fmt.Errorf("open run archive: %w", err)
		}
		out.Runs = arc
		out.closers = append(out.closers, arc.Close)
	}

	return out, nil
}
