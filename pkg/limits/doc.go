// Package limits implements the admission collaborator consulted during
// provider selection: per-identity concurrency slots, per-provider
// request-rate limits, and cost leases. Selection consumes the narrow
// Controller interface; the in-memory implementation here is the
// reference backend.
package limits
