package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"skyroute-hq/charon/pkg/provider"
)

func sampleChain() []provider.ChainEntry {
	return []provider.ChainEntry{
		{ProviderID: "p1", EndpointID: "ep-1", Attempt: 1, StatusCode: 503, ErrorMessage: "bad gateway", Timestamp: time.Now()},
		{ProviderID: "p1", EndpointID: "ep-2", Attempt: 2, StatusCode: 200, Timestamp: time.Now()},
	}
}

func TestMemorySink_AppendChain(t *testing.T) {
	sink := NewMemorySink()

	if err := sink.AppendChain(context.Background(), "sess-1", sampleChain()); err != nil {
		t.Fatalf("AppendChain() error = %v", err)
	}

	chains := sink.Chains()
	if len(chains) != 1 || chains[0].SessionID != "sess-1" || len(chains[0].Entries) != 2 {
		t.Errorf("chains = %+v", chains)
	}
}

func TestSQLiteSink_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	sink, err := NewSQLiteSink(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("NewSQLiteSink() error = %v", err)
	}
	defer sink.Close()

	ctx := context.Background()
	if err := sink.AppendChain(ctx, "sess-1", sampleChain()); err != nil {
		t.Fatalf("AppendChain() error = %v", err)
	}
	// Endpoint-bypassing attempt with no endpoint ID.
	if err := sink.AppendChain(ctx, "sess-2", []provider.ChainEntry{
		{ProviderID: "p2", Attempt: 1, ErrorMessage: "connect refused", Timestamp: time.Now()},
	}); err != nil {
		t.Fatalf("AppendChain() error = %v", err)
	}

	chain, err := sink.ChainForSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ChainForSession() error = %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("chain length = %d, want 2", len(chain))
	}
	if chain[0].Attempt != 1 || chain[0].EndpointID != "ep-1" || chain[0].StatusCode != 503 {
		t.Errorf("entry[0] = %+v", chain[0])
	}
	if chain[1].StatusCode != 200 {
		t.Errorf("entry[1] = %+v", chain[1])
	}

	bypass, err := sink.ChainForSession(ctx, "sess-2")
	if err != nil {
		t.Fatalf("ChainForSession() error = %v", err)
	}
	if len(bypass) != 1 || bypass[0].EndpointID != "" || bypass[0].StatusCode != 0 {
		t.Errorf("bypass entry = %+v", bypass[0])
	}
}

func TestRecorder_WritesAsync(t *testing.T) {
	sink := NewMemorySink()
	rec := NewRecorder(sink, 16, nil)

	rec.Record("sess-1", sampleChain())
	rec.Record("sess-2", nil) // ignored

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.Chains()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(sink.Chains()); got != 1 {
		t.Errorf("persisted chains = %d, want 1", got)
	}

	if err := rec.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestRecorder_CloseDrainsQueue(t *testing.T) {
	sink := NewMemorySink()
	rec := NewRecorder(sink, 64, nil)

	for i := 0; i < 20; i++ {
		rec.Record("sess", sampleChain())
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := len(sink.Chains()); got != 20 {
		t.Errorf("persisted chains = %d, want 20 (Close drains the queue)", got)
	}
}
