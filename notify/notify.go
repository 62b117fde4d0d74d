// Package notify defines the outbound notification boundary: suggestion
// events emitted when a template first crosses the suggest threshold, and
// run status changes. Delivery is fire-and-forget from the engine's
// perspective; a slow or failing sink never blocks ingestion or execution.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/delahq/dela/types"
)

// Suggestion is emitted once when a template becomes worth automating.
type Suggestion struct {
	TemplateID string    `json:"template_id"`
	User       string    `json:"user"`
	Summary    string    `json:"summary"`
	Confidence float64   `json:"confidence"`
	EmittedAt  time.Time `json:"emitted_at"`
}

// RunEvent reports an observable status change on a workflow run.
type RunEvent struct {
	RunID      string          `json:"run_id"`
	TemplateID string          `json:"template_id"`
	User       string          `json:"user"`
	Status     types.RunStatus `json:"status"`
	StepIndex  int             `json:"step_index"`
	Detail     string          `json:"detail,omitempty"`
	EmittedAt  time.Time       `json:"emitted_at"`
}

// Sink receives engine notifications.
type Sink interface {
	Suggest(ctx context.Context, s Suggestion)
	RunEvent(ctx context.Context, e RunEvent)
}

// NopSink discards all notifications.
type NopSink struct{}

func (NopSink) Suggest(context.Context, Suggestion) {}
func (NopSink) RunEvent(context.Context, RunEvent)  {}

// LogSink writes notifications to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a logging sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.With(zap.String("component", "notify"))}
}

func (s *LogSink) Suggest(_ context.Context, sg Suggestion) {
	s.logger.Info("automation suggested",
		zap.String("template_id", sg.TemplateID),
		zap.String("user", sg.User),
		zap.String("summary", sg.Summary),
		zap.Float64("confidence", sg.Confidence),
	)
}

func (s *LogSink) RunEvent(_ context.Context, e RunEvent) {
	s.logger.Info("run status changed",
		zap.String("run_id", e.RunID),
		zap.String("template_id", e.TemplateID),
		zap.String("user", e.User),
		zap.String("status", string(e.Status)),
		zap.Int("step_index", e.StepIndex),
		zap.String("detail", e.Detail),
	)
}

// ChannelSink delivers notifications to buffered channels. Intended for
// tests and for bridging to an external notification service. Events are
// dropped when the buffer is full rather than blocking the engine.
type ChannelSink struct {
	Suggestions chan Suggestion
	RunEvents   chan RunEvent
}

// NewChannelSink creates a channel sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{
		Suggestions: make(chan Suggestion, buffer),
		RunEvents:   make(chan RunEvent, buffer),
	}
}

func (s *ChannelSink) Suggest(_ context.Context, sg Suggestion) {
	select {
	case s.Suggestions <- sg:
	default:
	}
}

func (s *ChannelSink) RunEvent(_ context.Context, e RunEvent) {
	select {
	case s.RunEvents <- e:
	default:
	}
}
