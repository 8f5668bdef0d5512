package provider

import (
	"time"

	"skyroute-hq/charon/pkg/config"
)

// Provider is the immutable runtime snapshot of one configured upstream
// account. Snapshots are built once per configuration load; selection
// and forwarding operate on the snapshot, never on live configuration,
// so a mid-retry reload cannot re-rank an in-flight send.
type Provider struct {
	ID             string
	Name           string
	Type           string
	URL            string
	VendorID       string
	Enabled        bool
	Priority       int
	Weight         int
	CostMultiplier float64
	GroupTag       string

	// Models is the allow-list; empty accepts every model.
	Models []string

	// ModelRedirects maps requested model names to the name sent
	// upstream.
	ModelRedirects map[string]string

	// Schedule is the daily activity window in minutes since midnight.
	// startMin == endMin means always active.
	scheduleStartMin int
	scheduleEndMin   int

	MaxRetryAttempts int

	CircuitBreaker config.CircuitBreakerConfig
	Timeouts       config.TimeoutConfig
	Admission      config.AdmissionConfig

	ProxyURL              string
	ProxyFallbackToDirect bool
	EnableHTTP2           bool
}

// FromConfig builds a runtime snapshot from a provider configuration.
// Defaults are assumed to have been applied already.
func FromConfig(cfg *config.ProviderConfig) *Provider {
	p := &Provider{
		ID:                    cfg.ID,
		Name:                  cfg.Name,
		Type:                  cfg.Type,
		URL:                   cfg.URL,
		VendorID:              cfg.VendorID,
		Enabled:               cfg.IsEnabled(),
		Priority:              cfg.Priority,
		Weight:                cfg.Weight,
		CostMultiplier:        cfg.CostMultiplier,
		GroupTag:              cfg.GroupTag,
		Models:                append([]string(nil), cfg.Models...),
		MaxRetryAttempts:      cfg.MaxRetryAttempts,
		CircuitBreaker:        cfg.CircuitBreaker,
		Timeouts:              cfg.Timeouts,
		Admission:             cfg.Admission,
		ProxyURL:              cfg.ProxyURL,
		ProxyFallbackToDirect: cfg.ProxyFallbackToDirect,
		EnableHTTP2:           cfg.EnableHTTP2,
	}
	if len(cfg.ModelRedirects) > 0 {
		p.ModelRedirects = make(map[string]string, len(cfg.ModelRedirects))
		for k, v := range cfg.ModelRedirects {
			p.ModelRedirects[k] = v
		}
	}
	p.scheduleStartMin = parseScheduleMinute(cfg.Schedule.Start)
	p.scheduleEndMin = parseScheduleMinute(cfg.Schedule.End)
	return p
}

// parseScheduleMinute converts "HH:MM" to minutes since midnight.
// Invalid or empty values return 0; validation rejects malformed
// windows before a snapshot is ever built.
func parseScheduleMinute(v string) int {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0
	}
	return t.Hour()*60 + t.Minute()
}

// AcceptsModel reports whether the provider serves the requested model,
// either directly through the allow-list or via a redirect.
func (p *Provider) AcceptsModel(model string) bool {
	if len(p.Models) == 0 {
		return true
	}
	target := model
	if redirected, ok := p.ModelRedirects[model]; ok {
		target = redirected
	}
	for _, m := range p.Models {
		if m == model || m == target {
			return true
		}
	}
	return false
}

// ResolveModel returns the model name to send upstream, applying any
// configured redirect.
func (p *Provider) ResolveModel(model string) string {
	if redirected, ok := p.ModelRedirects[model]; ok {
		return redirected
	}
	return model
}

// ScheduleActiveAt reports whether the provider's daily activity window
// covers the given time. Windows may wrap midnight.
func (p *Provider) ScheduleActiveAt(t time.Time) bool {
	if p.scheduleStartMin == p.scheduleEndMin {
		return true
	}
	minute := t.Hour()*60 + t.Minute()
	if p.scheduleStartMin < p.scheduleEndMin {
		return minute >= p.scheduleStartMin && minute < p.scheduleEndMin
	}
	// Wrapping window, e.g. 22:00 to 06:00.
	return minute >= p.scheduleStartMin || minute < p.scheduleEndMin
}

// BreakerSettings returns the provider's circuit-breaker tuning in the
// breaker package's terms.
func (p *Provider) BreakerSettings() (failureThreshold int, openDuration time.Duration, halfOpenSuccesses int) {
	return p.CircuitBreaker.FailureThreshold,
		p.CircuitBreaker.OpenDuration,
		p.CircuitBreaker.HalfOpenSuccessThreshold
}
