package audit

import (
	"context"
	"sync"

	"skyroute-hq/charon/pkg/provider"
)

// Chain is one persisted provider chain.
type Chain struct {
	SessionID string
	Entries   []provider.ChainEntry
}

// Sink is the storage contract for provider chains.
type Sink interface {
	// AppendChain persists one session's chain. Append-only.
	AppendChain(ctx context.Context, sessionID string, entries []provider.ChainEntry) error

	// Close releases the sink's resources.
	Close() error
}

// MemorySink stores chains in process memory. Used in tests and as the
// "memory" audit backend.
type MemorySink struct {
	mu     sync.Mutex
	chains []Chain
	closed bool
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// AppendChain implements Sink.
func (s *MemorySink) AppendChain(_ context.Context, sessionID string, entries []provider.ChainEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.chains = append(s.chains, Chain{
		SessionID: sessionID,
		Entries:   append([]provider.ChainEntry(nil), entries...),
	})
	return nil
}

// Chains returns a copy of everything stored.
func (s *MemorySink) Chains() []Chain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Chain(nil), s.chains...)
}

// Close implements Sink.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
