package selector

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"skyroute-hq/charon/pkg/breaker"
	"skyroute-hq/charon/pkg/endpoints"
	"skyroute-hq/charon/pkg/limits"
	"skyroute-hq/charon/pkg/provider"
	"skyroute-hq/charon/pkg/telemetry/metrics"
)

// ErrNoProviderAvailable is returned when every provider in the pool
// was filtered out for the session.
type ErrNoProviderAvailable struct {
	// Format is the session's inbound format.
	Format provider.Format

	// Filtered counts the excluded providers by reason.
	Filtered map[string]int
}

// Error implements the error interface.
func (e *ErrNoProviderAvailable) Error() string {
	if len(e.Filtered) == 0 {
		return fmt.Sprintf("no provider available for format %q", e.Format)
	}
	parts := make([]string, 0, len(e.Filtered))
	for reason, n := range e.Filtered {
		parts = append(parts, fmt.Sprintf("%s=%d", reason, n))
	}
	sort.Strings(parts)
	return fmt.Sprintf("no provider available for format %q (filtered: %s)", e.Format, strings.Join(parts, ", "))
}

// Selection is a successful provider pick.
type Selection struct {
	Provider *provider.Provider

	// AdmissionTracked reports whether an admission reservation is
	// held for this pick; the caller must release it via the admission
	// controller once the send completes.
	AdmissionTracked bool
}

// Config tunes a Selector.
type Config struct {
	// AllowOpenCircuitFallback re-admits circuit-open endpoints at the
	// tail of the endpoint order when no healthy endpoint remains,
	// favoring availability over breaker feedback.
	// Default: true (see NewSelector).
	AllowOpenCircuitFallback bool
}

// Selector implements provider- and endpoint-level selection.
// It is safe for concurrent use.
type Selector struct {
	repo            endpoints.Repository
	endpointBreaker *breaker.CircuitBreaker
	providerBreaker *breaker.CircuitBreaker
	fuse            *breaker.VendorTypeFuse
	admission       limits.Controller
	config          Config
	logger          *slog.Logger
	metrics         *metrics.Metrics
	now             func() time.Time

	mu        sync.RWMutex
	providers []*provider.Provider

	randMu sync.Mutex
	rand   *rand.Rand
}

// Option configures a Selector.
type Option func(*Selector)

// WithClock overrides the time source used for schedule checks.
func WithClock(now func() time.Time) Option {
	return func(s *Selector) { s.now = now }
}

// WithRandSource seeds the weighted-random pick deterministically.
func WithRandSource(src rand.Source) Option {
	return func(s *Selector) { s.rand = rand.New(src) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Selector) { s.logger = logger.With("component", "selector") }
}

// WithMetrics attaches a metrics collector for admission refusal
// counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Selector) { s.metrics = m }
}

// NewSelector creates a selector over the given collaborators and
// provider snapshots.
func NewSelector(
	providers []*provider.Provider,
	repo endpoints.Repository,
	endpointBreaker, providerBreaker *breaker.CircuitBreaker,
	fuse *breaker.VendorTypeFuse,
	admission limits.Controller,
	cfg Config,
	opts ...Option,
) *Selector {
	s := &Selector{
		repo:            repo,
		endpointBreaker: endpointBreaker,
		providerBreaker: providerBreaker,
		fuse:            fuse,
		admission:       admission,
		config:          cfg,
		logger:          slog.Default().With("component", "selector"),
		now:             time.Now,
		providers:       providers,
		rand:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpdateProviders replaces the provider snapshot pool. In-flight sends
// keep operating on the snapshot they selected from.
func (s *Selector) UpdateProviders(providers []*provider.Provider) {
	s.mu.Lock()
	s.providers = providers
	s.mu.Unlock()
}

// snapshot returns the current provider pool.
func (s *Selector) snapshot() []*provider.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.providers
}

// PickProvider selects one provider for the session, excluding the
// given provider IDs. It filters the pool, buckets the survivors by
// priority, picks one from the top bucket by weighted random, and runs
// admission. An admission refusal rolls back any partial tracking,
// excludes the provider, and re-enters selection with the next-best
// candidate. Exclusions are recorded on the session.
func (s *Selector) PickProvider(sess *provider.Session, exclude map[string]bool) (*Selection, error) {
	if exclude == nil {
		exclude = make(map[string]bool)
	}
	pool := s.snapshot()
	filtered := make(map[string]int)

	for {
		candidates := s.filter(sess, pool, exclude, filtered)
		if len(candidates) == 0 {
			return nil, &ErrNoProviderAvailable{Format: sess.OriginalFormat, Filtered: filtered}
		}

		p := s.pickWeighted(topPriorityBucket(candidates))

		if !s.admission.CheckCostLimits(p.ID) {
			sess.RecordFilter(p.ID, provider.ReasonAdmissionRejected, "cost limit reached")
			filtered[provider.ReasonAdmissionRejected]++
			if s.metrics != nil {
				s.metrics.RecordAdmissionRejected(p.ID, limits.CodeCost)
			}
			exclude[p.ID] = true
			continue
		}

		adm := s.admission.CheckAndTrack(p.ID, sess.Identity)
		if !adm.Allowed {
			// Roll back any partial tracking before moving on.
			if adm.Tracked {
				s.admission.Untrack(p.ID, sess.Identity)
			}
			sess.RecordFilter(p.ID, provider.ReasonAdmissionRejected, adm.Reason)
			filtered[provider.ReasonAdmissionRejected]++
			if s.metrics != nil {
				s.metrics.RecordAdmissionRejected(p.ID, adm.Code)
			}
			exclude[p.ID] = true
			continue
		}

		s.logger.Debug("provider selected",
			"session_id", sess.ID,
			"provider_id", p.ID,
			"priority", p.Priority,
			"weight", p.Weight,
		)
		return &Selection{Provider: p, AdmissionTracked: adm.Tracked}, nil
	}
}

// filter applies the provider filter chain, recording exclusions on
// the session with machine reasons and human detail.
func (s *Selector) filter(sess *provider.Session, pool []*provider.Provider, exclude map[string]bool, filtered map[string]int) []*provider.Provider {
	now := s.now()
	out := make([]*provider.Provider, 0, len(pool))

	record := func(p *provider.Provider, reason, detail string) {
		sess.RecordFilter(p.ID, reason, detail)
		filtered[reason]++
	}

	for _, p := range pool {
		switch {
		case exclude[p.ID]:
			// Already rejected or attempted in this send; do not
			// re-record, the original reason stands.
		case !p.Enabled:
			record(p, provider.ReasonDisabled, "provider disabled")
		case !p.ScheduleActiveAt(now):
			record(p, provider.ReasonScheduleInactive, "outside schedule window")
		case p.GroupTag != "" && p.GroupTag != sess.GroupTag:
			record(p, provider.ReasonGroupMismatch,
				fmt.Sprintf("provider group %q does not match session group %q", p.GroupTag, sess.GroupTag))
		case !provider.IsCompatible(sess.OriginalFormat, p.Type):
			record(p, provider.ReasonFormatTypeMismatch,
				fmt.Sprintf("format %q requires one of %v, provider is %q",
					sess.OriginalFormat, provider.CompatibleTypes(sess.OriginalFormat), p.Type))
		case !p.AcceptsModel(sess.Model):
			record(p, provider.ReasonModelUnsupported,
				fmt.Sprintf("model %q not in allow-list", sess.Model))
		case s.providerBreaker.IsOpen(p.ID):
			record(p, provider.ReasonCircuitOpen, "provider circuit open")
		case p.VendorID != "" && s.fuse.IsOpen(p.VendorID, p.Type):
			record(p, provider.ReasonFuseOpen,
				fmt.Sprintf("vendor %q fuse open for type %q", p.VendorID, p.Type))
		default:
			out = append(out, p)
		}
	}
	return out
}

// topPriorityBucket returns the candidates sharing the lowest priority
// value (highest precedence).
func topPriorityBucket(candidates []*provider.Provider) []*provider.Provider {
	best := candidates[0].Priority
	for _, p := range candidates[1:] {
		if p.Priority < best {
			best = p.Priority
		}
	}
	bucket := candidates[:0:0]
	for _, p := range candidates {
		if p.Priority == best {
			bucket = append(bucket, p)
		}
	}
	return bucket
}

// pickWeighted chooses one provider from a bucket by weighted random.
func (s *Selector) pickWeighted(bucket []*provider.Provider) *provider.Provider {
	if len(bucket) == 1 {
		return bucket[0]
	}
	total := 0
	for _, p := range bucket {
		total += p.Weight
	}
	if total <= 0 {
		return bucket[0]
	}

	s.randMu.Lock()
	n := s.rand.Intn(total)
	s.randMu.Unlock()

	for _, p := range bucket {
		n -= p.Weight
		if n < 0 {
			return p
		}
	}
	return bucket[len(bucket)-1]
}

// PickEndpoints returns the provider's vendor endpoints in attempt
// order: enabled, well-formed, matching the provider's type, sorted
// ascending by last probe latency with unknown latency last.
// Circuit-open endpoints are excluded from the primary order; when the
// fallback policy is enabled and nothing healthy remains, they are
// re-admitted at the tail. A provider without a vendor returns nil.
func (s *Selector) PickEndpoints(p *provider.Provider) []endpoints.Endpoint {
	if p.VendorID == "" {
		return nil
	}

	all := s.repo.ListEndpoints(p.VendorID)
	eligible := make([]endpoints.Endpoint, 0, len(all))
	var open []endpoints.Endpoint

	for _, ep := range all {
		if !ep.Enabled {
			continue
		}
		if ep.ProviderType != "" && ep.ProviderType != p.Type {
			continue
		}
		if !validBaseURL(ep.BaseURL) {
			s.logger.Warn("endpoint skipped: malformed base URL",
				"endpoint_id", ep.ID,
				"base_url", ep.BaseURL,
			)
			continue
		}
		if s.endpointBreaker.IsOpen(ep.ID) {
			open = append(open, ep)
			continue
		}
		eligible = append(eligible, ep)
	}

	sortByProbeLatency(eligible)

	if len(eligible) == 0 && s.config.AllowOpenCircuitFallback && len(open) > 0 {
		// Last resort: nothing healthy, try the open-circuit
		// endpoints anyway rather than failing outright.
		sortByProbeLatency(open)
		s.logger.Warn("no healthy endpoint, falling back to open-circuit endpoints",
			"vendor_id", p.VendorID,
			"count", len(open),
		)
		return open
	}
	return eligible
}

// sortByProbeLatency orders endpoints ascending by last probe latency.
// Endpoints never probed (or whose probe recorded no latency) sort
// last, keeping their relative order.
func sortByProbeLatency(eps []endpoints.Endpoint) {
	sort.SliceStable(eps, func(i, j int) bool {
		li, lj := eps[i].Probe.Latency, eps[j].Probe.Latency
		switch {
		case li > 0 && lj > 0:
			return li < lj
		case li > 0:
			return true
		default:
			return false
		}
	})
}

func validBaseURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
