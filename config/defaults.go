package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Engine:    DefaultEngineConfig(),
		Store:     DefaultStoreConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultEngineConfig returns the default pipeline tunables.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Matcher:      DefaultMatcherConfig(),
		Scorer:       DefaultScorerConfig(),
		Policy:       DefaultPolicyConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
	}
}

// DefaultMatcherConfig returns the default matcher configuration.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		IdleTimeout:     10 * time.Minute,
		SweepInterval:   time.Minute,
		MinSteps:        2,
		SimilarityFloor: 0.8,
		TerminalActions: []string{"session_end"},
	}
}

// DefaultScorerConfig returns the default scorer configuration.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		RecurrenceTarget:  5,
		StalenessWindow:   30 * 24 * time.Hour,
		RecurrenceWeight:  0.4,
		ConsistencyWeight: 0.4,
		RecencyWeight:     0.2,
	}
}

// DefaultPolicyConfig returns the default policy configuration.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		SuggestThreshold:    0.7,
		ConfidenceThreshold: 0.7,
		DeclineCooldown:     7 * 24 * time.Hour,
		FailureWindow:       10,
		FailureRateBound:    0.7,
	}
}

// DefaultOrchestratorConfig returns the default orchestrator configuration.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxRetries:   1,
		ApprovalWait: 0, // wait indefinitely
		StepTimeout:  time.Minute,
	}
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type: "memory",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "dela:",
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Path:    "./data/dela.db",
		},
	}
}

// DefaultLogConfig returns the default log configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "dela-engine",
		SampleRate:   1.0,
	}
}
