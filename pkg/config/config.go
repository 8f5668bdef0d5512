package config

import "time"

// Config is the root configuration structure for Charon.
// It contains all configuration sections for the gateway server, upstream
// providers and vendors, the connection pool, circuit breaking, audit
// persistence, health probing, and telemetry.
type Config struct {
	// Server contains HTTP server configuration including listen address
	// and timeouts.
	Server ServerConfig `yaml:"server"`

	// Providers contains configuration for all upstream provider accounts.
	Providers []ProviderConfig `yaml:"providers"`

	// Vendors contains the physical endpoint groupings. A provider may
	// reference a vendor by ID to route through its endpoints.
	Vendors []VendorConfig `yaml:"vendors"`

	// Pool contains configuration for the connection-dispatcher pool.
	Pool PoolConfig `yaml:"pool"`

	// Fuse contains configuration for the vendor-level aggregate fuse.
	Fuse FuseConfig `yaml:"fuse"`

	// Audit contains configuration for provider-chain audit persistence.
	Audit AuditConfig `yaml:"audit"`

	// Probe contains configuration for the periodic endpoint health prober.
	Probe ProbeConfig `yaml:"probe"`

	// Dispatch contains configuration for provider selection and failover.
	Dispatch DispatchConfig `yaml:"dispatch"`

	// Telemetry contains configuration for logging and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the inbound HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port for the gateway to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8787").
	// Default: "127.0.0.1:8787"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire inbound
	// request, including the body.
	// Default: 60s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. Streaming responses require a generous value.
	// Default: 600s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next
	// request when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful
	// shutdown before in-flight requests are aborted.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ProviderConfig contains configuration for a single upstream provider
// account. Providers are the unit of selection, retry budgeting, and
// provider-level circuit breaking.
type ProviderConfig struct {
	// ID uniquely identifies the provider. Required.
	ID string `yaml:"id"`

	// Name is a human-readable label used in logs.
	Name string `yaml:"name"`

	// Type is the protocol family of the provider. One of: "claude",
	// "claude-auth", "codex", "openai-compatible", "gemini", "gemini-cli".
	Type string `yaml:"type"`

	// URL is the provider's own base URL, used when the provider has no
	// vendor or for endpoint-bypassing request classes.
	URL string `yaml:"url"`

	// VendorID optionally groups this provider with a vendor's physical
	// endpoints. Empty means the provider routes to URL directly.
	VendorID string `yaml:"vendor_id"`

	// Enabled controls whether this provider participates in selection.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Priority orders providers for selection; lower values are tried
	// first. Providers sharing the lowest priority form the selection
	// bucket. Default: 100
	Priority int `yaml:"priority"`

	// Weight biases weighted-random selection within a priority bucket.
	// Default: 1
	Weight int `yaml:"weight"`

	// CostMultiplier scales the accounted cost of requests through this
	// provider. Read by downstream billing, not by the dispatch core.
	// Default: 1.0
	CostMultiplier float64 `yaml:"cost_multiplier"`

	// GroupTag restricts this provider to sessions carrying the same
	// group tag. Empty matches every session.
	GroupTag string `yaml:"group_tag"`

	// Models is an allow-list of model names this provider accepts.
	// Empty means all models are accepted.
	Models []string `yaml:"models"`

	// ModelRedirects maps requested model names to the name actually sent
	// upstream. A redirect target also satisfies the allow-list.
	ModelRedirects map[string]string `yaml:"model_redirects"`

	// Schedule restricts the provider to a daily activity window.
	Schedule ScheduleConfig `yaml:"schedule"`

	// MaxRetryAttempts is the flat attempt ceiling for one logical send
	// through this provider. Default: 3
	MaxRetryAttempts int `yaml:"max_retry_attempts"`

	// CircuitBreaker tunes the per-endpoint and per-provider breakers for
	// traffic attributed to this provider.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`

	// Timeouts tunes the per-attempt timeout phases.
	Timeouts TimeoutConfig `yaml:"timeouts"`

	// ProxyURL routes outbound traffic through a forward proxy. Supported
	// schemes: http, https (HTTP CONNECT) and socks5.
	ProxyURL string `yaml:"proxy_url"`

	// ProxyFallbackToDirect retries dispatcher construction without the
	// proxy when the proxied dispatcher cannot be built.
	// Default: false
	ProxyFallbackToDirect bool `yaml:"proxy_fallback_to_direct"`

	// EnableHTTP2 selects the HTTP/2 transport for this provider's
	// outbound connections. Default: false
	EnableHTTP2 bool `yaml:"enable_http2"`

	// Admission tunes concurrency and cost admission for this provider.
	Admission AdmissionConfig `yaml:"admission"`
}

// ScheduleConfig restricts a provider to a daily activity window.
// Both fields use "HH:MM" in the gateway's local time. An empty window
// means always active. Windows may wrap midnight (e.g., 22:00 to 06:00).
type ScheduleConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// CircuitBreakerConfig tunes a circuit breaker scope.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit. Default: 5
	FailureThreshold int `yaml:"failure_threshold"`

	// OpenDuration is how long the circuit stays open before probing
	// traffic is allowed through (half-open). Default: 30s
	OpenDuration time.Duration `yaml:"open_duration"`

	// HalfOpenSuccessThreshold is the number of consecutive successes in
	// half-open state required to close the circuit. Default: 2
	HalfOpenSuccessThreshold int `yaml:"half_open_success_threshold"`
}

// TimeoutConfig tunes the per-attempt timeout phases for a provider.
type TimeoutConfig struct {
	// FirstByteStreaming bounds the wait for the first response byte of a
	// streaming request. Default: 30s
	FirstByteStreaming time.Duration `yaml:"first_byte_streaming"`

	// StreamingIdle bounds the gap between consecutive chunks of a
	// streaming response body. Default: 60s
	StreamingIdle time.Duration `yaml:"streaming_idle"`

	// RequestNonStreaming bounds the total duration of a non-streaming
	// request. Default: 120s
	RequestNonStreaming time.Duration `yaml:"request_non_streaming"`
}

// AdmissionConfig tunes concurrency and cost admission for a provider.
type AdmissionConfig struct {
	// MaxConcurrentPerIdentity limits simultaneous in-flight requests per
	// caller identity. Zero disables the limit.
	MaxConcurrentPerIdentity int `yaml:"max_concurrent_per_identity"`

	// RequestsPerMinute limits the sustained request rate to the
	// provider. Zero disables the limit.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// CostLimit rejects admission once the provider's accumulated cost
	// leases reach this value. Zero disables the limit.
	CostLimit float64 `yaml:"cost_limit"`
}

// VendorConfig describes a logical vendor: a grouping of physical base
// URLs that back one or more providers.
type VendorConfig struct {
	// ID uniquely identifies the vendor. Required.
	ID string `yaml:"id"`

	// Name is a human-readable label used in logs.
	Name string `yaml:"name"`

	// Endpoints lists the vendor's physical base URLs.
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig describes one physical base URL of a vendor.
type EndpointConfig struct {
	// ID uniquely identifies the endpoint. Required.
	ID string `yaml:"id"`

	// BaseURL is the endpoint's base URL. Must be http or https.
	BaseURL string `yaml:"base_url"`

	// ProviderType is the protocol family served by this endpoint.
	ProviderType string `yaml:"provider_type"`

	// Enabled controls whether this endpoint participates in selection.
	// Default: true
	Enabled *bool `yaml:"enabled"`
}

// PoolConfig contains configuration for the connection-dispatcher pool.
type PoolConfig struct {
	// MaxTotalAgents caps the number of cached dispatchers. When
	// exceeded, the least recently used entries are evicted.
	// Default: 128
	MaxTotalAgents int `yaml:"max_total_agents"`

	// AgentTTL evicts dispatchers unused for this duration.
	// Default: 10m
	AgentTTL time.Duration `yaml:"agent_ttl"`

	// CleanupInterval is how often the TTL sweep runs. Zero disables the
	// background sweep (Cleanup can still be called explicitly).
	// Default: 1m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// FuseConfig contains configuration for the vendor-level aggregate fuse.
type FuseConfig struct {
	// OpenDuration is how long a blown fuse suppresses a (vendor, type)
	// pair before it expires on its own. Default: 60s
	OpenDuration time.Duration `yaml:"open_duration"`
}

// AuditConfig contains configuration for provider-chain persistence.
type AuditConfig struct {
	// Backend selects the audit sink: "sqlite" or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// Path is the SQLite database file path.
	// Default: "data/charon-audit.db"
	Path string `yaml:"path"`

	// BufferSize is the async writer queue depth. Chain writes beyond
	// this are dropped rather than blocking the forwarder.
	// Default: 1024
	BufferSize int `yaml:"buffer_size"`
}

// ProbeConfig contains configuration for the endpoint health prober.
type ProbeConfig struct {
	// Enabled controls whether the prober runs. Default: true
	Enabled *bool `yaml:"enabled"`

	// Schedule is a standard cron expression controlling probe cadence.
	// Default: "@every 30s"
	Schedule string `yaml:"schedule"`

	// Timeout bounds a single probe request. Default: 5s
	Timeout time.Duration `yaml:"timeout"`
}

// DispatchConfig contains configuration for provider selection and
// cross-provider failover.
type DispatchConfig struct {
	// MaxProviderSwitches caps how many times a request may fail over to
	// a different provider after exhausting one. A negative value
	// disables switching entirely.
	// Default: 3
	MaxProviderSwitches int `yaml:"max_provider_switches"`

	// AllowOpenCircuitFallback re-admits open-circuit endpoints at the
	// tail of the candidate list when no healthy endpoint remains.
	// Default: true
	AllowOpenCircuitFallback *bool `yaml:"allow_open_circuit_fallback"`
}

// TelemetryConfig contains logging and metrics configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the output format: "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and exposed.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Namespace is the Prometheus metric namespace.
	// Default: "charon"
	Namespace string `yaml:"namespace"`

	// AttemptDurationBuckets are the histogram buckets, in seconds, for
	// per-attempt latency. Defaults are tuned for LLM upstreams.
	AttemptDurationBuckets []float64 `yaml:"attempt_duration_buckets"`
}

// ProviderByID returns the provider configuration with the given ID, or
// nil if no such provider exists.
func (c *Config) ProviderByID(id string) *ProviderConfig {
	for i := range c.Providers {
		if c.Providers[i].ID == id {
			return &c.Providers[i]
		}
	}
	return nil
}

// VendorByID returns the vendor configuration with the given ID, or nil
// if no such vendor exists.
func (c *Config) VendorByID(id string) *VendorConfig {
	for i := range c.Vendors {
		if c.Vendors[i].ID == id {
			return &c.Vendors[i]
		}
	}
	return nil
}

// IsEnabled reports whether the provider participates in selection.
// A nil Enabled field counts as enabled.
func (p *ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// IsEnabled reports whether the endpoint participates in selection.
// A nil Enabled field counts as enabled.
func (e *EndpointConfig) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}
