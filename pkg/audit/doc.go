// Package audit persists the per-request provider chain: the ordered
// list of forwarding attempts a send made, consumed by billing and
// log analysis after the fact.
//
// Writes are fire-and-forget. The Recorder buffers chains and flushes
// them on a background goroutine, so the forwarder never blocks on
// audit I/O; when the buffer is full, chains are dropped and counted
// rather than applying backpressure.
package audit
