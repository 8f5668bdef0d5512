package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidProviderTypes lists the protocol families Charon can dispatch to.
var ValidProviderTypes = map[string]bool{
	"claude":            true,
	"claude-auth":       true,
	"codex":             true,
	"openai-compatible": true,
	"gemini":            true,
	"gemini-cli":        true,
}

// Validate checks the configuration for consistency and returns an error
// describing the first problem found. It assumes defaults have already
// been applied.
func Validate(cfg *Config) error {
	if cfg.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address must not be empty")
	}

	if len(cfg.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	vendorIDs := make(map[string]bool, len(cfg.Vendors))
	endpointIDs := make(map[string]bool)
	for i := range cfg.Vendors {
		v := &cfg.Vendors[i]
		if v.ID == "" {
			return fmt.Errorf("vendors[%d]: id must not be empty", i)
		}
		if vendorIDs[v.ID] {
			return fmt.Errorf("duplicate vendor id %q", v.ID)
		}
		vendorIDs[v.ID] = true

		for j := range v.Endpoints {
			ep := &v.Endpoints[j]
			if ep.ID == "" {
				return fmt.Errorf("vendor %q endpoints[%d]: id must not be empty", v.ID, j)
			}
			if endpointIDs[ep.ID] {
				return fmt.Errorf("duplicate endpoint id %q", ep.ID)
			}
			endpointIDs[ep.ID] = true
			if err := validateBaseURL(ep.BaseURL); err != nil {
				return fmt.Errorf("vendor %q endpoint %q: %w", v.ID, ep.ID, err)
			}
			if ep.ProviderType != "" && !ValidProviderTypes[ep.ProviderType] {
				return fmt.Errorf("vendor %q endpoint %q: unknown provider_type %q", v.ID, ep.ID, ep.ProviderType)
			}
		}
	}

	providerIDs := make(map[string]bool, len(cfg.Providers))
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.ID == "" {
			return fmt.Errorf("providers[%d]: id must not be empty", i)
		}
		if providerIDs[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		providerIDs[p.ID] = true

		if !ValidProviderTypes[p.Type] {
			return fmt.Errorf("provider %q: unknown type %q", p.ID, p.Type)
		}
		if p.URL == "" && p.VendorID == "" {
			return fmt.Errorf("provider %q: either url or vendor_id must be set", p.ID)
		}
		if p.URL != "" {
			if err := validateBaseURL(p.URL); err != nil {
				return fmt.Errorf("provider %q: %w", p.ID, err)
			}
		}
		if p.VendorID != "" && !vendorIDs[p.VendorID] {
			return fmt.Errorf("provider %q: unknown vendor_id %q", p.ID, p.VendorID)
		}
		if p.Weight < 0 {
			return fmt.Errorf("provider %q: weight must not be negative", p.ID)
		}
		if p.MaxRetryAttempts < 1 {
			return fmt.Errorf("provider %q: max_retry_attempts must be at least 1", p.ID)
		}
		if p.ProxyURL != "" {
			if err := validateProxyURL(p.ProxyURL); err != nil {
				return fmt.Errorf("provider %q: %w", p.ID, err)
			}
		}
		if err := validateSchedule(p.Schedule); err != nil {
			return fmt.Errorf("provider %q: %w", p.ID, err)
		}
		cb := p.CircuitBreaker
		if cb.FailureThreshold < 1 {
			return fmt.Errorf("provider %q: circuit_breaker.failure_threshold must be at least 1", p.ID)
		}
		if cb.OpenDuration <= 0 {
			return fmt.Errorf("provider %q: circuit_breaker.open_duration must be positive", p.ID)
		}
		if cb.HalfOpenSuccessThreshold < 1 {
			return fmt.Errorf("provider %q: circuit_breaker.half_open_success_threshold must be at least 1", p.ID)
		}
	}

	switch cfg.Audit.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("audit.backend must be \"sqlite\" or \"memory\", got %q", cfg.Audit.Backend)
	}

	switch cfg.Telemetry.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("telemetry.logging.level must be one of debug/info/warn/error, got %q", cfg.Telemetry.Logging.Level)
	}
	switch cfg.Telemetry.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("telemetry.logging.format must be \"json\" or \"text\", got %q", cfg.Telemetry.Logging.Format)
	}

	return nil
}

// validateBaseURL checks that a URL is absolute with an http or https
// scheme and a host.
func validateBaseURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("base URL must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("base URL %q has no host", raw)
	}
	return nil
}

// validateProxyURL checks that a proxy URL uses a supported scheme.
func validateProxyURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid proxy_url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return fmt.Errorf("proxy_url %q must use http, https, or socks5", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("proxy_url %q has no host", raw)
	}
	return nil
}

// validateSchedule checks that a schedule window is either empty or a
// well-formed pair of HH:MM times.
func validateSchedule(s ScheduleConfig) error {
	if s.Start == "" && s.End == "" {
		return nil
	}
	if s.Start == "" || s.End == "" {
		return fmt.Errorf("schedule must set both start and end, or neither")
	}
	for _, v := range []string{s.Start, s.End} {
		if _, err := time.Parse("15:04", strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("invalid schedule time %q (want HH:MM)", v)
		}
	}
	return nil
}
