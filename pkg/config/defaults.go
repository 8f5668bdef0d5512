package config

import "time"

// Default values applied by ApplyDefaults when a field is unset.
const (
	DefaultListenAddress   = "127.0.0.1:8787"
	DefaultReadTimeout     = 60 * time.Second
	DefaultWriteTimeout    = 600 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultPriority         = 100
	DefaultWeight           = 1
	DefaultCostMultiplier   = 1.0
	DefaultMaxRetryAttempts = 3

	DefaultFailureThreshold         = 5
	DefaultOpenDuration             = 30 * time.Second
	DefaultHalfOpenSuccessThreshold = 2

	DefaultFirstByteStreaming  = 30 * time.Second
	DefaultStreamingIdle       = 60 * time.Second
	DefaultRequestNonStreaming = 120 * time.Second

	DefaultMaxTotalAgents  = 128
	DefaultAgentTTL        = 10 * time.Minute
	DefaultCleanupInterval = time.Minute

	DefaultFuseOpenDuration = 60 * time.Second

	DefaultAuditBackend    = "sqlite"
	DefaultAuditPath       = "data/charon-audit.db"
	DefaultAuditBufferSize = 1024

	DefaultProbeSchedule = "@every 30s"
	DefaultProbeTimeout  = 5 * time.Second

	DefaultMaxProviderSwitches = 3

	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultMetricsNamespace = "charon"
)

// ApplyDefaults fills in default values for any unset configuration
// fields. It is idempotent and is called by LoadConfig before validation.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)

	for i := range cfg.Providers {
		applyProviderDefaults(&cfg.Providers[i])
	}

	if cfg.Pool.MaxTotalAgents == 0 {
		cfg.Pool.MaxTotalAgents = DefaultMaxTotalAgents
	}
	if cfg.Pool.AgentTTL == 0 {
		cfg.Pool.AgentTTL = DefaultAgentTTL
	}
	if cfg.Pool.CleanupInterval == 0 {
		cfg.Pool.CleanupInterval = DefaultCleanupInterval
	}

	if cfg.Fuse.OpenDuration == 0 {
		cfg.Fuse.OpenDuration = DefaultFuseOpenDuration
	}

	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = DefaultAuditBackend
	}
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = DefaultAuditPath
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = DefaultAuditBufferSize
	}

	if cfg.Probe.Enabled == nil {
		enabled := true
		cfg.Probe.Enabled = &enabled
	}
	if cfg.Probe.Schedule == "" {
		cfg.Probe.Schedule = DefaultProbeSchedule
	}
	if cfg.Probe.Timeout == 0 {
		cfg.Probe.Timeout = DefaultProbeTimeout
	}

	if cfg.Dispatch.MaxProviderSwitches == 0 {
		cfg.Dispatch.MaxProviderSwitches = DefaultMaxProviderSwitches
	}
	if cfg.Dispatch.AllowOpenCircuitFallback == nil {
		enabled := true
		cfg.Dispatch.AllowOpenCircuitFallback = &enabled
	}

	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLogLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLogFormat
	}
	if cfg.Telemetry.Metrics.Enabled == nil {
		enabled := true
		cfg.Telemetry.Metrics.Enabled = &enabled
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(cfg.Telemetry.Metrics.AttemptDurationBuckets) == 0 {
		// Tuned for LLM upstream latencies (100ms .. 120s).
		cfg.Telemetry.Metrics.AttemptDurationBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
	}
}

func applyServerDefaults(s *ServerConfig) {
	if s.ListenAddress == "" {
		s.ListenAddress = DefaultListenAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func applyProviderDefaults(p *ProviderConfig) {
	if p.Enabled == nil {
		enabled := true
		p.Enabled = &enabled
	}
	if p.Priority == 0 {
		p.Priority = DefaultPriority
	}
	if p.Weight == 0 {
		p.Weight = DefaultWeight
	}
	if p.CostMultiplier == 0 {
		p.CostMultiplier = DefaultCostMultiplier
	}
	if p.MaxRetryAttempts == 0 {
		p.MaxRetryAttempts = DefaultMaxRetryAttempts
	}

	if p.CircuitBreaker.FailureThreshold == 0 {
		p.CircuitBreaker.FailureThreshold = DefaultFailureThreshold
	}
	if p.CircuitBreaker.OpenDuration == 0 {
		p.CircuitBreaker.OpenDuration = DefaultOpenDuration
	}
	if p.CircuitBreaker.HalfOpenSuccessThreshold == 0 {
		p.CircuitBreaker.HalfOpenSuccessThreshold = DefaultHalfOpenSuccessThreshold
	}

	if p.Timeouts.FirstByteStreaming == 0 {
		p.Timeouts.FirstByteStreaming = DefaultFirstByteStreaming
	}
	if p.Timeouts.StreamingIdle == 0 {
		p.Timeouts.StreamingIdle = DefaultStreamingIdle
	}
	if p.Timeouts.RequestNonStreaming == 0 {
		p.Timeouts.RequestNonStreaming = DefaultRequestNonStreaming
	}
}
