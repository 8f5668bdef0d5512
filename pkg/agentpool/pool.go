package agentpool

import (
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Agent is one cached dispatcher entry.
type Agent struct {
	// Dispatcher is the pooled transport. Identical Get inputs return
	// the same Dispatcher object while the entry stays cached.
	Dispatcher http.RoundTripper

	// CacheKey is the entry's pool key (origin|proxyOrDirect|h1|h2).
	CacheKey string

	// IsNew reports whether this Get call created the entry.
	IsNew bool

	createdAt  time.Time
	lastUsedAt time.Time
	requests   int64
	healthy    bool
}

// GetOptions are the dispatch axes for a Get call.
type GetOptions struct {
	// OriginURL is the target URL; only scheme, host, and port
	// contribute to the cache key.
	OriginURL string

	// ProxyURL routes the dispatcher through a forward proxy. Empty
	// means direct. Supported schemes: http, https, socks5.
	ProxyURL string

	// EnableHTTP2 selects the HTTP/2 transport. It is an independent
	// cache axis: h1 and h2 dispatchers for the same origin coexist.
	EnableHTTP2 bool
}

// Stats is a point-in-time view of pool counters.
type Stats struct {
	CacheSize       int     `json:"cache_size"`
	TotalRequests   int64   `json:"total_requests"`
	CacheHits       int64   `json:"cache_hits"`
	CacheMisses     int64   `json:"cache_misses"`
	HitRate         float64 `json:"hit_rate"`
	EvictedAgents   int64   `json:"evicted_agents"`
	UnhealthyAgents int64   `json:"unhealthy_agents"`
}

// Config tunes a Pool.
type Config struct {
	// MaxTotalAgents caps live entries; exceeding it evicts in LRU
	// order. Zero or negative means unlimited.
	MaxTotalAgents int

	// AgentTTL evicts entries unused for this duration during Cleanup.
	AgentTTL time.Duration

	// CleanupInterval is the cadence of the background TTL sweep. Zero
	// disables the sweep; Cleanup can still be called explicitly.
	CleanupInterval time.Duration
}

// Pool caches dispatchers keyed by (origin, proxy, protocol). It is
// safe for concurrent use, and no operation ever waits on dispatcher
// disposal.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*Agent
	config  Config
	logger  *slog.Logger
	now     func() time.Time

	totalRequests   int64
	cacheHits       int64
	cacheMisses     int64
	evictedAgents   int64
	unhealthyAgents int64

	stopCh   chan struct{}
	stopOnce sync.Once
	shutdown bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolClock overrides the time source. Used by tests.
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// WithPoolLogger sets the logger.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = logger.With("component", "agentpool") }
}

// New creates a dispatcher pool. When the configuration enables a
// cleanup interval, a background TTL sweep runs until Shutdown.
func New(config Config, opts ...PoolOption) *Pool {
	p := &Pool{
		entries: make(map[string]*Agent),
		config:  config,
		logger:  slog.Default().With("component", "agentpool"),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if config.CleanupInterval > 0 {
		go p.cleanupLoop()
	}

	return p
}

// Get returns the cached dispatcher for the given axes, creating one on
// first use. A cache hit returns the same dispatcher object as earlier
// calls with identical inputs. Construction failures propagate to the
// caller; nothing is cached on failure.
func (p *Pool) Get(opts GetOptions) (*Agent, error) {
	key, err := CacheKey(opts.OriginURL, opts.ProxyURL, opts.EnableHTTP2)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalRequests++

	if agent, ok := p.entries[key]; ok && agent.healthy {
		p.cacheHits++
		agent.lastUsedAt = p.now()
		agent.requests++
		agent.IsNew = false
		return agent, nil
	}

	p.cacheMisses++

	dispatcher, err := buildDispatcher(opts.ProxyURL, opts.EnableHTTP2)
	if err != nil {
		return nil, err
	}

	now := p.now()
	agent := &Agent{
		Dispatcher: dispatcher,
		CacheKey:   key,
		IsNew:      true,
		createdAt:  now,
		lastUsedAt: now,
		requests:   1,
		healthy:    true,
	}
	p.entries[key] = agent
	p.logger.Debug("dispatcher created",
		"cache_key", key,
		"pool_size", len(p.entries),
	)

	p.enforceCapacityLocked()

	return agent, nil
}

// MarkUnhealthy removes the entry for cacheKey immediately, so the next
// Get with the same key builds a fresh dispatcher, and disposes the old
// dispatcher without blocking the caller.
func (p *Pool) MarkUnhealthy(cacheKey, reason string) {
	p.mu.Lock()
	agent, ok := p.entries[cacheKey]
	if ok {
		agent.healthy = false
		delete(p.entries, cacheKey)
		p.unhealthyAgents++
	}
	p.mu.Unlock()

	if !ok {
		return
	}

	p.logger.Warn("dispatcher marked unhealthy",
		"cache_key", cacheKey,
		"reason", reason,
	)
	disposeDetached(agent.Dispatcher)
}

// Cleanup evicts entries unused for longer than the configured TTL and
// returns the number evicted. Entries used within the TTL window are
// never evicted regardless of age.
func (p *Pool) Cleanup() int {
	if p.config.AgentTTL <= 0 {
		return 0
	}

	p.mu.Lock()
	now := p.now()
	var expired []*Agent
	for key, agent := range p.entries {
		if now.Sub(agent.lastUsedAt) > p.config.AgentTTL {
			delete(p.entries, key)
			expired = append(expired, agent)
		}
	}
	p.evictedAgents += int64(len(expired))
	p.mu.Unlock()

	for _, agent := range expired {
		disposeDetached(agent.Dispatcher)
	}

	if len(expired) > 0 {
		p.logger.Debug("expired dispatchers evicted", "count", len(expired))
	}
	return len(expired)
}

// EvictEndpoint removes every entry whose origin segment matches the
// given origin URL, across all proxy and protocol axes, and returns the
// number removed. Used when an endpoint's configuration changes.
func (p *Pool) EvictEndpoint(originURL string) int {
	origin, err := normalizeOrigin(originURL)
	if err != nil {
		return 0
	}

	p.mu.Lock()
	var evicted []*Agent
	for key, agent := range p.entries {
		if originOfKey(key) == origin {
			delete(p.entries, key)
			evicted = append(evicted, agent)
		}
	}
	p.evictedAgents += int64(len(evicted))
	p.mu.Unlock()

	for _, agent := range evicted {
		disposeDetached(agent.Dispatcher)
	}

	if len(evicted) > 0 {
		p.logger.Info("endpoint dispatchers evicted",
			"origin", origin,
			"count", len(evicted),
		)
	}
	return len(evicted)
}

// Stats returns a point-in-time view of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var hitRate float64
	if lookups := p.cacheHits + p.cacheMisses; lookups > 0 {
		hitRate = float64(p.cacheHits) / float64(lookups)
	}
	return Stats{
		CacheSize:       len(p.entries),
		TotalRequests:   p.totalRequests,
		CacheHits:       p.cacheHits,
		CacheMisses:     p.cacheMisses,
		HitRate:         hitRate,
		EvictedAgents:   p.evictedAgents,
		UnhealthyAgents: p.unhealthyAgents,
	}
}

// Shutdown disposes every entry and empties the cache. It never blocks
// on disposal and is idempotent.
func (p *Pool) Shutdown() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	disposed := make([]*Agent, 0, len(p.entries))
	for key, agent := range p.entries {
		delete(p.entries, key)
		disposed = append(disposed, agent)
	}
	p.mu.Unlock()

	for _, agent := range disposed {
		disposeDetached(agent.Dispatcher)
	}

	p.logger.Info("agent pool shut down", "disposed", len(disposed))
}

// enforceCapacityLocked evicts least-recently-used entries until the
// pool is back under its capacity cap. Callers must hold mu.
func (p *Pool) enforceCapacityLocked() {
	if p.config.MaxTotalAgents <= 0 {
		return
	}
	for len(p.entries) > p.config.MaxTotalAgents {
		var lruKey string
		var lruAgent *Agent
		for key, agent := range p.entries {
			if lruAgent == nil || agent.lastUsedAt.Before(lruAgent.lastUsedAt) {
				lruKey = key
				lruAgent = agent
			}
		}
		delete(p.entries, lruKey)
		p.evictedAgents++
		disposeDetached(lruAgent.Dispatcher)
		p.logger.Debug("dispatcher evicted under capacity pressure", "cache_key", lruKey)
	}
}

// cleanupLoop runs the periodic TTL sweep until Shutdown.
func (p *Pool) cleanupLoop() {
	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Cleanup()
		}
	}
}

// disposeDetached starts dispatcher disposal in a goroutine that no
// pool operation waits for. A graceful close that hangs on an in-flight
// streaming body therefore cannot delay the caller.
func disposeDetached(rt http.RoundTripper) {
	d, ok := rt.(disposer)
	if !ok {
		return
	}
	go d.CloseIdleConnections()
}
