// Package scoring computes the confidence score that gates automation of a
// workflow template. The score blends three signals: recurrence (how often
// the pattern has been seen), consistency (how closely its instances agree),
// and recency (how fresh the pattern is).
package scoring

import (
	"time"

	"go.uber.org/zap"

	"github.com/delahq/dela/config"
	"github.com/delahq/dela/types"
)

// Breakdown is one confidence computation with its component signals, each
// in [0,1].
type Breakdown struct {
	Recurrence  float64 `json:"recurrence"`
	Consistency float64 `json:"consistency"`
	Recency     float64 `json:"recency"`
	Score       float64 `json:"score"`
}

// Scorer computes confidence breakdowns. It is stateless and safe for
// concurrent use.
type Scorer struct {
	cfg    config.ScorerConfig
	logger *zap.Logger
}

// New creates a scorer.
func New(cfg config.ScorerConfig, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "scorer")),
	}
}

// Score computes the template's confidence from its linked instances as of
// now. The result is deterministic for the same inputs.
func (s *Scorer) Score(tpl *types.WorkflowTemplate, instances []*types.WorkflowInstance, now time.Time) Breakdown {
	b := Breakdown{
		Recurrence:  s.recurrence(tpl),
		Consistency: s.consistency(tpl, instances),
		Recency:     s.recency(tpl, now),
	}
	b.Score = clamp01(s.cfg.RecurrenceWeight*b.Recurrence +
		s.cfg.ConsistencyWeight*b.Consistency +
		s.cfg.RecencyWeight*b.Recency)

	s.logger.Debug("confidence computed",
		zap.String("template_id", tpl.ID),
		zap.Float64("recurrence", b.Recurrence),
		zap.Float64("consistency", b.Consistency),
		zap.Float64("recency", b.Recency),
		zap.Float64("score", b.Score),
	)
	return b
}

// recurrence saturates at 1 once the template has recurred
// RecurrenceTarget times.
func (s *Scorer) recurrence(tpl *types.WorkflowTemplate) float64 {
	if s.cfg.RecurrenceTarget <= 0 {
		return 1
	}
	return clamp01(float64(tpl.OccurrenceCount) / float64(s.cfg.RecurrenceTarget))
}

// consistency is the fraction of the template's linked instances whose step
// sequence exactly matches its canonical sequence, with no insertions or
// deletions. A template with no retrievable instances scores 0.
func (s *Scorer) consistency(tpl *types.WorkflowTemplate, instances []*types.WorkflowInstance) float64 {
	if len(instances) == 0 {
		return 0
	}
	exact := 0
	for _, in := range instances {
		if tpl.MatchesExactly(in) {
			exact++
		}
	}
	return float64(exact) / float64(len(instances))
}

// recency decays linearly from 1 at last_seen to 0 at the staleness window.
func (s *Scorer) recency(tpl *types.WorkflowTemplate, now time.Time) float64 {
	if tpl.LastSeen.IsZero() {
		return 0
	}
	if s.cfg.StalenessWindow <= 0 {
		return 1
	}
	age := now.Sub(tpl.LastSeen)
	if age < 0 {
		age = 0
	}
	return clamp01(1 - float64(age)/float64(s.cfg.StalenessWindow))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
