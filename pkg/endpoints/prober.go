package endpoints

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Prober runs periodic health probes against every enabled endpoint on
// a cron schedule and records the results in the repository. Probes
// are ranking hints for selection; the prober never gates traffic.
type Prober struct {
	repo     *MemoryRepository
	schedule string
	client   *http.Client
	logger   *slog.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewProber creates a prober over the given repository. The schedule
// accepts standard cron syntax plus the "@every" shorthand. The timeout
// bounds each individual probe request.
func NewProber(repo *MemoryRepository, schedule string, timeout time.Duration, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		repo:     repo,
		schedule: schedule,
		client: &http.Client{
			Timeout: timeout,
			// Probes measure reachability of the base URL; redirects
			// would skew latency and hide the origin's own status.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger.With("component", "endpoints.prober"),
		cron:   cron.New(),
	}
}

// Start begins the scheduled probing. An immediate first sweep runs
// before the schedule takes over so that fresh processes do not wait a
// full interval for their first ranking hints.
func (p *Prober) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("prober already running")
	}

	if _, err := cron.ParseStandard(p.schedule); err != nil {
		return fmt.Errorf("invalid probe schedule %q: %w", p.schedule, err)
	}

	if _, err := p.cron.AddFunc(p.schedule, func() { p.Sweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule probes: %w", err)
	}

	go p.Sweep(ctx)
	p.cron.Start()
	p.running = true

	p.logger.Info("endpoint prober started", "schedule", p.schedule)
	return nil
}

// Stop halts scheduled probing. In-flight probes finish on their own.
func (p *Prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.cron.Stop()
	p.running = false
	p.logger.Info("endpoint prober stopped")
}

// Sweep probes every enabled endpoint once, concurrently, and records
// the results.
func (p *Prober) Sweep(ctx context.Context) {
	endpoints := p.repo.All()

	var wg sync.WaitGroup
	for _, ep := range endpoints {
		if !ep.Enabled {
			continue
		}
		wg.Add(1)
		go func(ep Endpoint) {
			defer wg.Done()
			result := p.probe(ctx, ep)
			p.repo.RecordProbe(ep.ID, result)
		}(ep)
	}
	wg.Wait()
}

// probe performs one health probe against an endpoint's base URL.
func (p *Prober) probe(ctx context.Context, ep Endpoint) ProbeResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.BaseURL, nil)
	if err != nil {
		return ProbeResult{At: time.Now(), ErrorType: "connect"}
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	latency := time.Since(start)

	result := ProbeResult{At: time.Now(), Latency: latency}
	if err != nil {
		result.ErrorType = classifyProbeError(err)
		p.logger.Debug("endpoint probe failed",
			"endpoint_id", ep.ID,
			"base_url", ep.BaseURL,
			"error_type", result.ErrorType,
			"error", err,
		)
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	// Anything the origin answers, including auth challenges, proves
	// reachability; only 5xx counts as a failed probe.
	result.OK = resp.StatusCode < 500
	if !result.OK {
		result.ErrorType = "http_error"
	}

	p.logger.Debug("endpoint probed",
		"endpoint_id", ep.ID,
		"status", resp.StatusCode,
		"latency", latency,
		"ok", result.OK,
	)
	return result
}

// classifyProbeError maps a transport error to a probe error type.
func classifyProbeError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "connect"
}
