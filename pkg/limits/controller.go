package limits

import (
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"skyroute-hq/charon/pkg/config"
)

// Admission is the result of an admission check.
type Admission struct {
	// Allowed reports whether the request may proceed on this provider.
	Allowed bool

	// Tracked reports whether state was reserved during the check.
	// When Tracked is true and the caller does not proceed (Allowed
	// false, or a later filter rejects the provider), the caller must
	// call Untrack to roll the reservation back.
	Tracked bool

	// Reason explains a refusal for observability.
	Reason string

	// Code is the stable machine label for the refusal, suitable as a
	// metric label value. Empty when Allowed is true.
	Code string
}

// Refusal codes carried in Admission.Code.
const (
	CodeConcurrency = "concurrency"
	CodeRate        = "rate"
	CodeCost        = "cost"
)

// Controller is the admission contract consumed by provider selection.
type Controller interface {
	// CheckAndTrack checks concurrency and rate admission for the
	// (provider, identity) pair, reserving a concurrency slot when one
	// is configured. See Admission for the rollback contract.
	CheckAndTrack(providerID, identity string) Admission

	// Untrack rolls back the reservation made by CheckAndTrack.
	Untrack(providerID, identity string)

	// CheckCostLimits reports whether the provider's accumulated cost
	// leases are still under its configured limit.
	CheckCostLimits(providerID string) bool
}

// providerLimits is the resolved admission tuning for one provider.
type providerLimits struct {
	maxConcurrent int
	rate          *rate.Limiter // nil when unlimited
	costLimit     float64
}

// MemoryController is the in-process Controller implementation.
// It is safe for concurrent use.
type MemoryController struct {
	mu        sync.Mutex
	providers map[string]*providerLimits
	slots     map[string]*ConcurrentLimiter // key: providerID + "\x00" + identity
	leases    map[string]float64            // accumulated cost leases per provider
	logger    *slog.Logger
}

// NewMemoryController builds a controller from per-provider admission
// configuration.
func NewMemoryController(admissions map[string]config.AdmissionConfig, logger *slog.Logger) *MemoryController {
	if logger == nil {
		logger = slog.Default()
	}
	c := &MemoryController{
		providers: make(map[string]*providerLimits, len(admissions)),
		slots:     make(map[string]*ConcurrentLimiter),
		leases:    make(map[string]float64),
		logger:    logger.With("component", "limits"),
	}
	for id, a := range admissions {
		c.providers[id] = resolveLimits(a)
	}
	return c
}

// Configure replaces the admission tuning for a provider. Existing
// slot holders keep their reservations.
func (c *MemoryController) Configure(providerID string, a config.AdmissionConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[providerID] = resolveLimits(a)
}

func resolveLimits(a config.AdmissionConfig) *providerLimits {
	pl := &providerLimits{
		maxConcurrent: a.MaxConcurrentPerIdentity,
		costLimit:     a.CostLimit,
	}
	if a.RequestsPerMinute > 0 {
		// Allow a small burst on top of the sustained rate.
		pl.rate = rate.NewLimiter(rate.Limit(float64(a.RequestsPerMinute)/60.0), a.RequestsPerMinute/6+1)
	}
	return pl
}

// CheckAndTrack implements Controller. The concurrency slot is
// reserved before the rate check runs, so a rate refusal returns
// Tracked=true and the caller rolls the slot back via Untrack.
func (c *MemoryController) CheckAndTrack(providerID, identity string) Admission {
	c.mu.Lock()
	pl := c.providers[providerID]
	var slot *ConcurrentLimiter
	if pl != nil && pl.maxConcurrent > 0 {
		key := slotKey(providerID, identity)
		slot = c.slots[key]
		if slot == nil {
			slot = NewConcurrentLimiter(pl.maxConcurrent)
			c.slots[key] = slot
		}
	}
	c.mu.Unlock()

	if pl == nil {
		return Admission{Allowed: true}
	}

	tracked := false
	if slot != nil {
		if !slot.Acquire() {
			c.logger.Debug("admission refused: concurrency",
				"provider_id", providerID,
				"identity", identity,
			)
			return Admission{Reason: "concurrency limit reached", Code: CodeConcurrency}
		}
		tracked = true
	}

	if pl.rate != nil && !pl.rate.Allow() {
		c.logger.Debug("admission refused: rate",
			"provider_id", providerID,
			"identity", identity,
		)
		return Admission{Tracked: tracked, Reason: "request rate limit reached", Code: CodeRate}
	}

	return Admission{Allowed: true, Tracked: tracked}
}

// Untrack implements Controller.
func (c *MemoryController) Untrack(providerID, identity string) {
	c.mu.Lock()
	slot := c.slots[slotKey(providerID, identity)]
	c.mu.Unlock()

	if slot != nil {
		slot.Release()
	}
}

// CheckCostLimits implements Controller.
func (c *MemoryController) CheckCostLimits(providerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	pl := c.providers[providerID]
	if pl == nil || pl.costLimit <= 0 {
		return true
	}
	return c.leases[providerID] < pl.costLimit
}

// LeaseCost records accumulated cost against a provider. Called by the
// downstream accounting consumer after a send completes.
func (c *MemoryController) LeaseCost(providerID string, amount float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leases[providerID] += amount
}

// ReleaseCost returns previously leased cost (billing window rollover).
func (c *MemoryController) ReleaseCost(providerID string, amount float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leases[providerID] -= amount
	if c.leases[providerID] < 0 {
		c.leases[providerID] = 0
	}
}

func slotKey(providerID, identity string) string {
	return providerID + "\x00" + identity
}
