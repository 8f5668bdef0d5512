// Package forwarder orchestrates the outbound retry loop: it selects a
// provider and its attempt targets, performs each HTTP exchange through
// the dispatcher pool under per-phase timeouts, classifies outcomes,
// feeds the circuit breakers and vendor fuse, and populates the
// session's provider chain for auditing.
//
// One send runs on one goroutine. Intermediate per-attempt errors are
// absorbed into the chain; only ExhaustedError and CancelledError
// surface to callers.
package forwarder
