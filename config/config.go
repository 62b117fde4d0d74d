// Package config provides unified configuration loading for the Dela engine.
// Precedence: defaults → YAML file → environment variables.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("DELA").
//	    Load()
package config

import (
	"fmt"
	"time"
)

// Config is the complete engine configuration.
type Config struct {
	// Server holds the HTTP/metrics listener configuration.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Engine holds the behavior-learning pipeline tunables.
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// Store selects and configures the persistence backend.
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Log holds logger configuration.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry holds OpenTelemetry configuration.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// Ingest rate limiting, per remote address.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// EngineConfig groups the per-component tunables of the learning pipeline.
type EngineConfig struct {
	Matcher      MatcherConfig      `yaml:"matcher" env:"MATCHER"`
	Scorer       ScorerConfig       `yaml:"scorer" env:"SCORER"`
	Policy       PolicyConfig       `yaml:"policy" env:"POLICY"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`
}

// MatcherConfig configures instance segmentation and template matching.
type MatcherConfig struct {
	// IdleTimeout closes an open instance when no step arrives for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// SweepInterval is how often idle instances are swept.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	// MinSteps discards closed instances with fewer steps than this.
	MinSteps int `yaml:"min_steps" env:"MIN_STEPS"`
	// SimilarityFloor is the minimum similarity to match an existing template.
	SimilarityFloor float64 `yaml:"similarity_floor" env:"SIMILARITY_FLOOR"`
	// TerminalActions close the open instance immediately when observed.
	TerminalActions []string `yaml:"terminal_actions" env:"TERMINAL_ACTIONS"`
}

// ScorerConfig configures the confidence score computation.
type ScorerConfig struct {
	// RecurrenceTarget is the occurrence count considered "proven".
	RecurrenceTarget int `yaml:"recurrence_target" env:"RECURRENCE_TARGET"`
	// StalenessWindow is the age past which recency decays to zero.
	StalenessWindow time.Duration `yaml:"staleness_window" env:"STALENESS_WINDOW"`
	// Signal weights; must sum to 1.
	RecurrenceWeight  float64 `yaml:"recurrence_weight" env:"RECURRENCE_WEIGHT"`
	ConsistencyWeight float64 `yaml:"consistency_weight" env:"CONSISTENCY_WEIGHT"`
	RecencyWeight     float64 `yaml:"recency_weight" env:"RECENCY_WEIGHT"`
}

// PolicyConfig configures the automation policy state machine.
type PolicyConfig struct {
	// SuggestThreshold is the confidence at which a suggestion is emitted.
	SuggestThreshold float64 `yaml:"suggest_threshold" env:"SUGGEST_THRESHOLD"`
	// ConfidenceThreshold is the default per-template threshold for
	// autonomous execution.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" env:"CONFIDENCE_THRESHOLD"`
	// DeclineCooldown suppresses re-suggestion after an explicit decline.
	DeclineCooldown time.Duration `yaml:"decline_cooldown" env:"DECLINE_COOLDOWN"`
	// FailureWindow is the number of recent runs inspected for demotion.
	FailureWindow int `yaml:"failure_window" env:"FAILURE_WINDOW"`
	// FailureRateBound demotes autonomous templates whose success rate over
	// the failure window falls below it.
	FailureRateBound float64 `yaml:"failure_rate_bound" env:"FAILURE_RATE_BOUND"`
}

// OrchestratorConfig configures run execution.
type OrchestratorConfig struct {
	// MaxRetries is the per-step retry bound after the first attempt.
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// ApprovalWait bounds how long a paused run waits for a signal before
	// expiring to cancelled. Zero waits indefinitely.
	ApprovalWait time.Duration `yaml:"approval_wait" env:"APPROVAL_WAIT"`
	// StepTimeout bounds one executor invocation. Zero disables the bound.
	StepTimeout time.Duration `yaml:"step_timeout" env:"STEP_TIMEOUT"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Type is one of "memory", "redis".
	Type string `yaml:"type" env:"TYPE"`
	// Redis configuration, used when Type is "redis".
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// Archive configures the relational archive of closed runs.
	Archive ArchiveConfig `yaml:"archive" env:"ARCHIVE"`
}

// RedisConfig configures the Redis-backed stores.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// ArchiveConfig configures the run archive database.
type ArchiveConfig struct {
	// Enabled toggles the relational archive; when false, closed runs are
	// kept in memory only.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Path is the SQLite database path.
	Path string `yaml:"path" env:"PATH"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths are zap sink URLs.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Validate checks cross-field constraints the loader cannot express.
func (c *Config) Validate() error {
	s := c.Engine.Scorer
	sum := s.RecurrenceWeight + s.ConsistencyWeight + s.RecencyWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("scorer weights must sum to 1, got %.3f", sum)
	}
	if c.Engine.Matcher.SimilarityFloor < 0 || c.Engine.Matcher.SimilarityFloor > 1 {
		return fmt.Errorf("similarity floor must be in [0,1], got %.3f", c.Engine.Matcher.SimilarityFloor)
	}
	if c.Engine.Matcher.MinSteps < 1 {
		return fmt.Errorf("matcher min_steps must be >= 1, got %d", c.Engine.Matcher.MinSteps)
	}
	if c.Engine.Policy.FailureWindow < 1 {
		return fmt.Errorf("policy failure_window must be >= 1, got %d", c.Engine.Policy.FailureWindow)
	}
	return nil
}
