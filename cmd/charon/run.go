package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"skyroute-hq/charon/pkg/agentpool"
	"skyroute-hq/charon/pkg/audit"
	"skyroute-hq/charon/pkg/breaker"
	"skyroute-hq/charon/pkg/cli"
	"skyroute-hq/charon/pkg/config"
	"skyroute-hq/charon/pkg/endpoints"
	"skyroute-hq/charon/pkg/forwarder"
	"skyroute-hq/charon/pkg/gateway"
	"skyroute-hq/charon/pkg/limits"
	"skyroute-hq/charon/pkg/provider"
	"skyroute-hq/charon/pkg/selector"
	"skyroute-hq/charon/pkg/server"
	"skyroute-hq/charon/pkg/telemetry/logging"
	"skyroute-hq/charon/pkg/telemetry/metrics"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	noWatch       bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Charon gateway",
	Long: `Start the Charon gateway with the specified configuration.

The gateway listens on the configured address and dispatches LLM API
requests across the configured provider accounts and vendor endpoints.

Examples:
  # Start with default config
  charon run

  # Start with custom config
  charon run --config /etc/charon/config.yaml

  # Override listen address
  charon run --listen 0.0.0.0:8787

  # Validate config without starting the gateway
  charon run --dry-run`,
	RunE: runGateway,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the gateway")
	runCmd.Flags().BoolVar(&runFlags.noWatch, "no-watch", false, "disable config file hot reload")
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Telemetry.Logging, os.Stdout)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	if runFlags.dryRun {
		fmt.Printf("Configuration valid: %d providers, %d vendors\n",
			len(cfg.Providers), len(cfg.Vendors))
		return nil
	}

	fmt.Printf("Charon v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)

	ctx := cli.SetupSignalHandler()

	collector := metrics.New(&cfg.Telemetry.Metrics, nil)

	pool := agentpool.New(agentpool.Config{
		MaxTotalAgents:  cfg.Pool.MaxTotalAgents,
		AgentTTL:        cfg.Pool.AgentTTL,
		CleanupInterval: cfg.Pool.CleanupInterval,
	}, agentpool.WithPoolLogger(logger))
	defer pool.Shutdown()

	endpointBreaker := breaker.New(breaker.Settings{
		FailureThreshold:         config.DefaultFailureThreshold,
		OpenDuration:             config.DefaultOpenDuration,
		HalfOpenSuccessThreshold: config.DefaultHalfOpenSuccessThreshold,
	}, breaker.WithLogger(logger))
	providerBreaker := breaker.New(breaker.Settings{
		FailureThreshold:         config.DefaultFailureThreshold,
		OpenDuration:             config.DefaultOpenDuration,
		HalfOpenSuccessThreshold: config.DefaultHalfOpenSuccessThreshold,
	}, breaker.WithLogger(logger))
	fuse := breaker.NewVendorTypeFuse(cfg.Fuse.OpenDuration, breaker.WithFuseLogger(logger))

	repo := endpoints.NewMemoryRepository(cfg.Vendors)
	slog.Info("endpoint repository initialized", "vendors", len(cfg.Vendors))

	prober := endpoints.NewProber(repo, cfg.Probe.Schedule, cfg.Probe.Timeout, logger)
	if cfg.Probe.Enabled == nil || *cfg.Probe.Enabled {
		if err := prober.Start(ctx); err != nil {
			return cli.NewCommandError("run", fmt.Errorf("failed to start endpoint prober: %w", err))
		}
		defer prober.Stop()
	}

	admission := limits.NewMemoryController(admissionsByProvider(cfg.Providers), logger)

	recorder, closeAudit, err := buildAuditRecorder(cfg.Audit, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	if closeAudit != nil {
		defer closeAudit()
	}

	sel := selector.NewSelector(
		providersFromConfig(cfg.Providers),
		repo,
		endpointBreaker, providerBreaker,
		fuse,
		admission,
		selector.Config{
			AllowOpenCircuitFallback: cfg.Dispatch.AllowOpenCircuitFallback == nil ||
				*cfg.Dispatch.AllowOpenCircuitFallback,
		},
		selector.WithLogger(logger),
		selector.WithMetrics(collector),
	)

	fwdOpts := []forwarder.Option{forwarder.WithMetrics(collector), forwarder.WithLogger(logger)}
	if recorder != nil {
		fwdOpts = append(fwdOpts, forwarder.WithRecorder(recorder))
	}
	fwd := forwarder.New(
		pool,
		sel,
		endpointBreaker, providerBreaker,
		fuse,
		admission,
		forwarder.Config{MaxProviderSwitches: maxProviderSwitches(cfg.Dispatch)},
		fwdOpts...,
	)

	gw := gateway.NewHandler(fwd, gateway.WithLogger(logger), gateway.WithMetrics(collector))

	srv := server.New(cfg.Server, server.Deps{
		Gateway:         gw,
		Metrics:         collector,
		EndpointBreaker: endpointBreaker,
		ProviderBreaker: providerBreaker,
		Fuse:            fuse,
		Pool:            pool,
		Logger:          logger,
	})

	if !runFlags.noWatch {
		watcher, err := config.NewWatcher(cfgFile, 0, logger)
		if err != nil {
			slog.Warn("config hot reload unavailable", "error", err)
		} else {
			defer watcher.Stop()
			go func() {
				err := watcher.Watch(ctx, func(newCfg *config.Config) {
					repo.Update(newCfg.Vendors)
					sel.UpdateProviders(providersFromConfig(newCfg.Providers))
					for id, a := range admissionsByProvider(newCfg.Providers) {
						admission.Configure(id, a)
					}
				})
				if err != nil {
					slog.Warn("config watcher exited", "error", err)
				}
			}()
		}
	}

	go syncTelemetry(ctx, pool, endpointBreaker, providerBreaker, collector)

	fmt.Printf("Listening on %s\n", cfg.Server.ListenAddress)
	fmt.Printf("Health endpoint:  http://%s/healthz\n", cfg.Server.ListenAddress)
	fmt.Printf("Metrics endpoint: http://%s/metrics\n", cfg.Server.ListenAddress)

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Println("Gateway stopped")
	return nil
}

// providersFromConfig builds immutable provider snapshots from
// configuration.
func providersFromConfig(configs []config.ProviderConfig) []*provider.Provider {
	providers := make([]*provider.Provider, 0, len(configs))
	for i := range configs {
		providers = append(providers, provider.FromConfig(&configs[i]))
	}
	return providers
}

// admissionsByProvider collects per-provider admission tuning.
func admissionsByProvider(configs []config.ProviderConfig) map[string]config.AdmissionConfig {
	admissions := make(map[string]config.AdmissionConfig, len(configs))
	for _, pc := range configs {
		admissions[pc.ID] = pc.Admission
	}
	return admissions
}

// maxProviderSwitches resolves the config semantics (negative means
// disabled) into the forwarder's (zero means disabled).
func maxProviderSwitches(d config.DispatchConfig) int {
	if d.MaxProviderSwitches < 0 {
		return 0
	}
	return d.MaxProviderSwitches
}

// buildAuditRecorder constructs the chain recorder over the configured
// sink. The returned closer flushes the recorder before closing the
// sink.
func buildAuditRecorder(cfg config.AuditConfig, logger *slog.Logger) (*audit.Recorder, func(), error) {
	var sink audit.Sink
	switch cfg.Backend {
	case "sqlite":
		s, err := audit.NewSQLiteSink(audit.SQLiteConfig{Path: cfg.Path})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		sink = s
	case "memory":
		sink = audit.NewMemorySink()
	case "none", "disabled":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported audit backend: %s", cfg.Backend)
	}

	recorder := audit.NewRecorder(sink, cfg.BufferSize, logger)
	closeAll := func() {
		// Close drains the queue and closes the sink.
		if err := recorder.Close(); err != nil {
			slog.Warn("audit recorder close failed", "error", err)
		}
	}
	return recorder, closeAll, nil
}

// syncTelemetry periodically mirrors pool statistics and circuit
// breaker states into the metrics collector.
func syncTelemetry(ctx context.Context, pool *agentpool.Pool, endpointBreaker, providerBreaker *breaker.CircuitBreaker, collector *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := pool.Stats()
			collector.SetPoolStats(stats.CacheSize, stats.CacheHits, stats.CacheMisses, stats.EvictedAgents)
			syncCircuitStates(endpointBreaker, providerBreaker, collector)
		}
	}
}

// syncCircuitStates pushes every known circuit's state into the
// per-scope gauge.
func syncCircuitStates(endpointBreaker, providerBreaker *breaker.CircuitBreaker, collector *metrics.Metrics) {
	for _, snap := range endpointBreaker.Snapshots() {
		collector.SetCircuitState("endpoint", snap.Key, circuitStateValue(snap.State))
	}
	for _, snap := range providerBreaker.Snapshots() {
		collector.SetCircuitState("provider", snap.Key, circuitStateValue(snap.State))
	}
}

// circuitStateValue maps a snapshot's state name onto the gauge
// encoding.
func circuitStateValue(state string) int {
	switch state {
	case breaker.StateOpen.String():
		return metrics.CircuitOpen
	case breaker.StateHalfOpen.String():
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}
