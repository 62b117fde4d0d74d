package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delahq/dela/config"
	"github.com/delahq/dela/types"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := NewArchive(config.ArchiveConfig{
		Enabled: true,
		Path:    filepath.Join(t.TempDir(), "dela.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestArchive_RoundTrip(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	run := &types.WorkflowRun{
		ID:          "run-1",
		User:        "alice",
		TemplateID:  "tpl-1",
		Status:      types.RunFailed,
		CurrentStep: 2,
		FailedStep:  2,
		CreatedAt:   now,
		UpdatedAt:   now.Add(time.Minute),
		StepResults: []types.StepResult{
			{Index: 0, ActionType: "query_crm", Status: types.StepSucceeded, Attempts: 1},
			{Index: 1, ActionType: "send_email", Status: types.StepSucceeded, Attempts: 2},
			{Index: 2, ActionType: "record_transaction", Status: types.StepFailed, Attempts: 2, Error: "upstream 503"},
		},
	}
	require.NoError(t, a.ArchiveRun(ctx, run))

	got, err := a.Run(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, got.Status)
	assert.Equal(t, 2, got.FailedStep)
	require.Len(t, got.StepResults, 3)
	assert.Equal(t, "upstream 503", got.StepResults[2].Error)

	_, err = a.Run(ctx, "run-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchive_RecentRunsWindow(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	for i := 0; i < 12; i++ {
		status := types.RunCompleted
		if i%3 == 0 {
			status = types.RunFailed
		}
		require.NoError(t, a.ArchiveRun(ctx, &types.WorkflowRun{
			ID:         types.NewRunID(),
			User:       "alice",
			TemplateID: "tpl-1",
			Status:     status,
			FailedStep: -1,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}
	// Another template's runs must not leak into the window.
	require.NoError(t, a.ArchiveRun(ctx, &types.WorkflowRun{
		ID: "other", User: "alice", TemplateID: "tpl-2",
		Status: types.RunCompleted, FailedStep: -1,
		CreatedAt: base, UpdatedAt: base.Add(2 * time.Hour),
	}))

	recent, err := a.RecentRuns(ctx, "alice", "tpl-1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	for i := 1; i < len(recent); i++ {
		assert.False(t, recent[i-1].UpdatedAt.Before(recent[i].UpdatedAt))
	}
	for _, r := range recent {
		assert.Equal(t, "tpl-1", r.TemplateID)
	}
}

func TestArchive_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := config.ArchiveConfig{Enabled: true, Path: filepath.Join(dir, "dela.db")}
	ctx := context.Background()

	a, err := NewArchive(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.ArchiveRun(ctx, &types.WorkflowRun{
		ID: "run-1", User: "alice", TemplateID: "tpl-1",
		Status: types.RunCompleted, FailedStep: -1,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	require.NoError(t, a.Close())

	reopened, err := NewArchive(cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Run(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, got.Status)
}
