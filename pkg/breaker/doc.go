// Package breaker provides the circuit breaking primitives used by the
// dispatch core: a generic, scope-keyed circuit breaker with lazy
// time-based half-open transitions, and a coarse vendor-level fuse that
// suppresses an entire (vendor, provider type) pair for a fixed window.
//
// Neither primitive runs background timers. The open to half-open
// transition and fuse expiry are pure functions of the current time,
// evaluated on read, so an idle circuit costs nothing.
package breaker
