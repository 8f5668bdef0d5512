package breaker

import (
	"log/slog"
	"sync"
	"time"
)

// fuseKey identifies one (vendor, provider type) pair.
type fuseKey struct {
	vendorID     string
	providerType string
}

// fuseRecord holds one blown fuse.
type fuseRecord struct {
	openedAt time.Time
	reason   string
}

// VendorTypeFuse is a coarse, time-boxed "all endpoints down" flag per
// (vendor, provider type) pair. It gives the selector a fast O(1)
// short-circuit during a total vendor outage, avoiding per-endpoint
// circuit queries. A blown fuse expires on its own once the open window
// elapses; there is no explicit close transition.
//
// VendorTypeFuse is safe for concurrent use.
type VendorTypeFuse struct {
	mu           sync.RWMutex
	fuses        map[fuseKey]fuseRecord
	openDuration time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// FuseSnapshot is a read-only view of one blown fuse.
type FuseSnapshot struct {
	VendorID     string    `json:"vendor_id"`
	ProviderType string    `json:"provider_type"`
	OpenedAt     time.Time `json:"opened_at"`
	Reason       string    `json:"reason"`
}

// FuseOption configures a VendorTypeFuse.
type FuseOption func(*VendorTypeFuse)

// WithFuseClock overrides the time source. Used by tests.
func WithFuseClock(now func() time.Time) FuseOption {
	return func(f *VendorTypeFuse) { f.now = now }
}

// WithFuseLogger sets the logger.
func WithFuseLogger(logger *slog.Logger) FuseOption {
	return func(f *VendorTypeFuse) { f.logger = logger.With("component", "fuse") }
}

// NewVendorTypeFuse creates a fuse table whose blown fuses expire after
// openDuration.
func NewVendorTypeFuse(openDuration time.Duration, opts ...FuseOption) *VendorTypeFuse {
	f := &VendorTypeFuse{
		fuses:        make(map[fuseKey]fuseRecord),
		openDuration: openDuration,
		logger:       slog.Default().With("component", "fuse"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OpenFuse blows the fuse for the (vendor, provider type) pair,
// timestamped now. Blowing an already-open fuse restarts its window.
func (f *VendorTypeFuse) OpenFuse(vendorID, providerType, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	f.fuses[fuseKey{vendorID, providerType}] = fuseRecord{openedAt: now, reason: reason}
	f.logger.Warn("vendor fuse opened",
		"vendor_id", vendorID,
		"provider_type", providerType,
		"reason", reason,
		"open_duration", f.openDuration,
	)

	// Opportunistic pruning keeps the table from accumulating expired
	// records between outages.
	for k, r := range f.fuses {
		if now.Sub(r.openedAt) >= f.openDuration {
			delete(f.fuses, k)
		}
	}
}

// IsOpen reports whether the fuse for the (vendor, provider type) pair
// is within its open window.
func (f *VendorTypeFuse) IsOpen(vendorID, providerType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	r, ok := f.fuses[fuseKey{vendorID, providerType}]
	if !ok {
		return false
	}
	return f.now().Sub(r.openedAt) < f.openDuration
}

// Snapshots returns the fuses still within their open window.
func (f *VendorTypeFuse) Snapshots() []FuseSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	now := f.now()
	out := make([]FuseSnapshot, 0, len(f.fuses))
	for k, r := range f.fuses {
		if now.Sub(r.openedAt) >= f.openDuration {
			continue
		}
		out = append(out, FuseSnapshot{
			VendorID:     k.vendorID,
			ProviderType: k.providerType,
			OpenedAt:     r.openedAt,
			Reason:       r.reason,
		})
	}
	return out
}
