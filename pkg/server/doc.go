// Package server hosts the gateway HTTP listener and the operational
// surface around it.
//
// The server mounts the gateway handler at the root path and adds:
//
//   - GET /healthz - liveness probe
//   - GET /metrics - Prometheus exposition (when metrics are enabled)
//   - GET /admin/circuits - circuit breaker and vendor fuse snapshots
//   - GET /admin/pool - agent pool cache statistics
//
// # Lifecycle
//
// Start blocks until the context is cancelled or the listener fails,
// then drains in-flight requests:
//
//	srv := server.New(cfg.Server, server.Deps{
//	    Gateway: gw,
//	    Metrics: collector,
//	    Pool:    pool,
//	})
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Shutdown stops accepting new connections, waits for active requests
// up to the configured shutdown timeout, then forces closure.
//
// # Thread Safety
//
// All server operations are safe for concurrent use.
package server
