package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/delahq/dela/config"
	"github.com/delahq/dela/types"
)

// archivedRun is the relational row for one closed run. Step results are
// stored as a JSON blob; the queryable columns are what the policy engine
// and the audit surface filter on.
type archivedRun struct {
	ID          string `gorm:"primaryKey;size:64"`
	User        string `gorm:"index:idx_user_template;size:128"`
	TemplateID  string `gorm:"index:idx_user_template;size:64"`
	Status      string `gorm:"size:32"`
	CurrentStep int
	FailedStep  int
	StepResults []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time `gorm:"index"`
}

// Archive is a GORM/SQLite-backed RunArchive for single-node deployments
// that need closed runs to survive restarts.
type Archive struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewArchive opens (or creates) the archive database and migrates its schema.
func NewArchive(cfg config.ArchiveConfig, logger *zap.Logger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	if err := db.AutoMigrate(&archivedRun{}); err != nil {
		return nil, fmt.Errorf("migrate archive schema: %w", err)
	}
	return &Archive{
		db:     db,
		logger: logger.With(zap.String("component", "run_archive")),
	}, nil
}

// Close closes the underlying database handle.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ArchiveRun stores a closed run, replacing any previous row with the same ID.
func (a *Archive) ArchiveRun(ctx context.Context, run *types.WorkflowRun) error {
	results, err := json.Marshal(run.StepResults)
	if err != nil {
		return fmt.Errorf("marshal step results: %w", err)
	}
	row := archivedRun{
		ID:          run.ID,
		User:        run.User,
		TemplateID:  run.TemplateID,
		Status:      string(run.Status),
		CurrentStep: run.CurrentStep,
		FailedStep:  run.FailedStep,
		StepResults: results,
		CreatedAt:   run.CreatedAt,
		UpdatedAt:   run.UpdatedAt,
	}
	return a.db.WithContext(ctx).Save(&row).Error
}

// Run returns an archived run by ID.
func (a *Archive) Run(ctx context.Context, id string) (*types.WorkflowRun, error) {
	var row archivedRun
	err := a.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read archived run: %w", err)
	}
	return rowToRun(&row)
}

// RecentRuns returns up to n archived runs for the (user, template) pair,
// most recent first.
func (a *Archive) RecentRuns(ctx context.Context, user, templateID string, n int) ([]*types.WorkflowRun, error) {
	q := a.db.WithContext(ctx).
		Where("user = ? AND template_id = ?", user, templateID).
		Order("updated_at DESC")
	if n > 0 {
		q = q.Limit(n)
	}
	var rows []archivedRun
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query archived runs: %w", err)
	}
	out := make([]*types.WorkflowRun, 0, len(rows))
	for i := range rows {
		run, err := rowToRun(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func rowToRun(row *archivedRun) (*types.WorkflowRun, error) {
	run := &types.WorkflowRun{
		ID:          row.ID,
		User:        row.User,
		TemplateID:  row.TemplateID,
		Status:      types.RunStatus(row.Status),
		CurrentStep: row.CurrentStep,
		FailedStep:  row.FailedStep,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if len(row.StepResults) > 0 {
		if err := json.Unmarshal(row.StepResults, &run.StepResults); err != nil {
			return nil, fmt.Errorf("unmarshal step results: %w", err)
		}
	}
	return run, nil
}
