package endpoints

import (
	"sync"
	"time"

	"skyroute-hq/charon/pkg/config"
)

// ProbeResult is the most recent health probe outcome for an endpoint.
type ProbeResult struct {
	// At is when the probe ran. Zero means never probed.
	At time.Time `json:"at,omitzero"`

	// OK reports whether the probe succeeded.
	OK bool `json:"ok"`

	// StatusCode is the HTTP status returned by the probe, if any.
	StatusCode int `json:"status_code,omitempty"`

	// Latency is the probe round-trip time. Zero means unknown.
	Latency time.Duration `json:"latency"`

	// ErrorType classifies a failed probe: "connect", "timeout", or
	// "http_error".
	ErrorType string `json:"error_type,omitempty"`
}

// Endpoint is one physical base URL belonging to a vendor + provider
// type pair.
type Endpoint struct {
	ID           string      `json:"id"`
	VendorID     string      `json:"vendor_id"`
	ProviderType string      `json:"provider_type"`
	BaseURL      string      `json:"base_url"`
	Enabled      bool        `json:"enabled"`
	Probe        ProbeResult `json:"probe"`
}

// Repository is the read-only endpoint inventory consumed by selection.
type Repository interface {
	// ListEndpoints returns the endpoints of the given vendors. The
	// returned slice and its elements are copies; callers may not
	// mutate repository state through them.
	ListEndpoints(vendorIDs ...string) []Endpoint
}

// MemoryRepository is the in-process Repository implementation, fed
// from configuration and refreshed by the prober. It is safe for
// concurrent use.
type MemoryRepository struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint // by endpoint ID
	byVendor  map[string][]string  // vendor ID -> endpoint IDs, config order
}

// NewMemoryRepository builds a repository from the vendor configuration.
func NewMemoryRepository(vendors []config.VendorConfig) *MemoryRepository {
	r := &MemoryRepository{}
	r.Update(vendors)
	return r
}

// Update replaces the endpoint inventory from configuration, preserving
// probe results for endpoints whose ID survives the reload.
func (r *MemoryRepository) Update(vendors []config.VendorConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.endpoints
	r.endpoints = make(map[string]*Endpoint)
	r.byVendor = make(map[string][]string, len(vendors))

	for i := range vendors {
		v := &vendors[i]
		ids := make([]string, 0, len(v.Endpoints))
		for j := range v.Endpoints {
			ec := &v.Endpoints[j]
			ep := &Endpoint{
				ID:           ec.ID,
				VendorID:     v.ID,
				ProviderType: ec.ProviderType,
				BaseURL:      ec.BaseURL,
				Enabled:      ec.IsEnabled(),
			}
			if prev, ok := old[ec.ID]; ok {
				ep.Probe = prev.Probe
			}
			r.endpoints[ec.ID] = ep
			ids = append(ids, ec.ID)
		}
		r.byVendor[v.ID] = ids
	}
}

// ListEndpoints returns copies of the endpoints of the given vendors,
// in configuration order per vendor.
func (r *MemoryRepository) ListEndpoints(vendorIDs ...string) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Endpoint
	for _, vid := range vendorIDs {
		for _, id := range r.byVendor[vid] {
			out = append(out, *r.endpoints[id])
		}
	}
	return out
}

// All returns copies of every endpoint across all vendors.
func (r *MemoryRepository) All() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, *ep)
	}
	return out
}

// RecordProbe stores a probe result for an endpoint. Unknown endpoint
// IDs are ignored (the endpoint may have been removed by a reload while
// a probe was in flight).
func (r *MemoryRepository) RecordProbe(endpointID string, result ProbeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ep, ok := r.endpoints[endpointID]; ok {
		ep.Probe = result
	}
}
