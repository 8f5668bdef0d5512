// Charon is a self-hosted dispatch gateway for LLM API traffic.
//
// It sits between coding agents and upstream model providers, providing:
//   - Weighted, priority-ordered provider selection
//   - Latency-ranked endpoint failover within a vendor
//   - Circuit breakers per endpoint and per provider account
//   - Vendor-level fuses that suppress a failing (vendor, type) pair
//   - Streaming-aware timeouts and fake-success detection
//   - Provider-chain audit persistence
//
// Usage:
//
//	# Start the gateway with the default configuration
//	charon run
//
//	# Start with a custom configuration file
//	charon run --config /etc/charon/config.yaml
//
//	# Validate configuration without starting
//	charon validate
//
//	# Probe configured vendor endpoints once and print the results
//	charon probe
//
//	# Show version information
//	charon version
package main

func main() {
	Execute()
}
