// Package endpoints maintains the physical endpoint inventory: the
// read-only repository consumed by selection and the periodic health
// prober that refreshes per-endpoint probe results.
//
// Probe results are ranking hints only. Ground truth for endpoint
// health is the live circuit breaker; selection never blocks waiting
// for a fresh probe.
package endpoints
