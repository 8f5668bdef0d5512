// Package agentpool caches reusable outbound connection dispatchers
// keyed by (origin, proxy, protocol). A dispatcher is the transport
// object (direct, HTTP CONNECT proxy, or SOCKS) reused across requests
// to the same origin.
//
// The pool never blocks on a slow-closing dispatcher: unhealthy or
// evicted entries are removed from the cache immediately and their
// disposal runs in a detached goroutine that no pool operation waits
// for.
package agentpool
