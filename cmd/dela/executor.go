package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/delahq/dela/engine/orchestrator"
	"github.com/delahq/dela/types"
)

// loggingExecutor is the default step executor: it logs each step and
// reports success. Deployments integrate real action backends (email, CRM,
// calendar) by replacing this with their own orchestrator.Executor.
type loggingExecutor struct {
	logger *zap.Logger
}

func newLoggingExecutor(logger *zap.Logger) orchestrator.Executor {
	return &loggingExecutor{logger: logger.With(zap.String("component", "executor"))}
}

func (e *loggingExecutor) ExecuteStep(_ context.Context, run *types.WorkflowRun, step types.StepSpec, stepIndex int) (types.ExecutionResult, error) {
	e.logger.Info("executing step",
		zap.String("run_id", run.ID),
		zap.String("template_id", run.TemplateID),
		zap.Int("step", stepIndex),
		zap.String("action_type", step.ActionType),
		zap.Strings("roles", step.Roles),
	)
	return types.ExecutionResult{Status: types.OutcomeSuccess}, nil
}
