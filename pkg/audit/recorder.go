package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"skyroute-hq/charon/pkg/provider"
)

// Recorder buffers provider chains and writes them to a Sink on a
// background goroutine. Record never blocks: when the buffer is full
// the chain is dropped and counted.
type Recorder struct {
	sink   Sink
	queue  chan Chain
	logger *slog.Logger

	dropped atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewRecorder creates a recorder with the given queue depth and starts
// its writer goroutine.
func NewRecorder(sink Sink, bufferSize int, logger *slog.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		sink:   sink,
		queue:  make(chan Chain, bufferSize),
		logger: logger.With("component", "audit.recorder"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues one session's chain for persistence. Empty chains
// are ignored. Never blocks.
func (r *Recorder) Record(sessionID string, entries []provider.ChainEntry) {
	if len(entries) == 0 {
		return
	}
	chain := Chain{
		SessionID: sessionID,
		Entries:   append([]provider.ChainEntry(nil), entries...),
	}
	select {
	case r.queue <- chain:
	default:
		n := r.dropped.Add(1)
		if n%100 == 1 {
			r.logger.Warn("audit queue full, dropping chains", "dropped_total", n)
		}
	}
}

// Dropped returns the number of chains dropped due to a full queue.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close drains the queue, stops the writer, and closes the sink.
func (r *Recorder) Close() error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
	return r.sink.Close()
}

func (r *Recorder) run() {
	defer close(r.doneCh)

	for {
		select {
		case chain := <-r.queue:
			r.write(chain)
		case <-r.stopCh:
			// Drain whatever is already queued, then stop.
			for {
				select {
				case chain := <-r.queue:
					r.write(chain)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(chain Chain) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.sink.AppendChain(ctx, chain.SessionID, chain.Entries); err != nil {
		r.logger.Error("failed to persist provider chain",
			"session_id", chain.SessionID,
			"entries", len(chain.Entries),
			"error", err,
		)
	}
}
