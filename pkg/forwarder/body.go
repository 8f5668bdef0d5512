package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"skyroute-hq/charon/pkg/provider"
)

// sniffLimit bounds the fake-success body inspection.
const sniffLimit = 8 * 1024

// errorBodyLimit bounds how much of an error response body is read for
// classification.
const errorBodyLimit = 64 * 1024

// phaseGuard enforces the per-attempt timeout of whichever phase is
// currently active. Firing cancels the attempt context; the flag lets
// classification distinguish a guard timeout from a client abort.
type phaseGuard struct {
	cancel context.CancelFunc

	mu    sync.Mutex
	timer *time.Timer
	phase TimeoutPhase
	d     time.Duration
	fired bool
}

func newPhaseGuard(cancel context.CancelFunc) *phaseGuard {
	return &phaseGuard{cancel: cancel}
}

// arm starts (or re-targets) the guard for a phase. A non-positive
// duration disables the guard for that phase.
func (g *phaseGuard) arm(phase TimeoutPhase, d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.phase = phase
	g.d = d
	if d <= 0 {
		return
	}
	g.timer = time.AfterFunc(d, g.fire)
}

func (g *phaseGuard) fire() {
	g.mu.Lock()
	g.fired = true
	g.mu.Unlock()
	g.cancel()
}

// touch resets the active phase's timer. Called on streaming body read
// progress.
func (g *phaseGuard) touch() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil && !g.fired {
		g.timer.Reset(g.d)
	}
}

// release stops the guard and cancels the attempt context. Safe to call
// more than once.
func (g *phaseGuard) release() {
	g.mu.Lock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.mu.Unlock()
	g.cancel()
}

// timedOut reports whether the guard fired, and for which phase.
func (g *phaseGuard) timedOut() (TimeoutPhase, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase, g.fired
}

// classifyExchangeError maps a transport-level failure to the error
// taxonomy. sessCtx is the caller's context; its cancellation means the
// client went away, which is never a health signal.
func classifyExchangeError(sessCtx context.Context, guard *phaseGuard, err error) error {
	if phase, fired := guard.timedOut(); fired {
		return &TimeoutError{Phase: phase, Err: unwrapURLError(err)}
	}
	if sessCtx.Err() != nil {
		return &CancelledError{Err: sessCtx.Err()}
	}
	cause := unwrapURLError(err)
	if errors.Is(err, context.DeadlineExceeded) {
		phase, _ := guard.timedOut()
		return &TimeoutError{Phase: phase, Err: cause}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		phase, _ := guard.timedOut()
		return &TimeoutError{Phase: phase, Err: cause}
	}
	return &ConnectError{Err: cause}
}

// unwrapURLError strips the url.Error wrapper so surfaced messages do
// not carry the target URL.
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err
	}
	return err
}

// watchedBody wraps a streaming response body with the idle watchdog.
// Read progress re-arms the guard; a guard timeout aborts the
// connection and is reported to onTimeout exactly once.
type watchedBody struct {
	rc        io.ReadCloser
	guard     *phaseGuard
	onTimeout func(TimeoutPhase)

	timeoutOnce sync.Once
	closeOnce   sync.Once
}

func newWatchedBody(rc io.ReadCloser, guard *phaseGuard, onTimeout func(TimeoutPhase)) *watchedBody {
	return &watchedBody{rc: rc, guard: guard, onTimeout: onTimeout}
}

func (b *watchedBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.guard.touch()
	}
	if err != nil && err != io.EOF {
		if phase, fired := b.guard.timedOut(); fired {
			b.timeoutOnce.Do(func() {
				if b.onTimeout != nil {
					b.onTimeout(phase)
				}
			})
			err = &TimeoutError{Phase: phase, Err: err}
		}
	}
	return n, err
}

func (b *watchedBody) Close() error {
	b.closeOnce.Do(b.guard.release)
	return b.rc.Close()
}

// sniffHead performs a single bounded read of the response body. For
// streaming responses this is the first chunk; classification must not
// wait for more.
func sniffHead(body io.Reader) ([]byte, error) {
	buf := make([]byte, sniffLimit)
	n, err := body.Read(buf)
	return buf[:n], err
}

// prefixedBody replays the sniffed head before the remaining body.
type prefixedBody struct {
	io.Reader
	closer io.Closer
}

func (b *prefixedBody) Close() error { return b.closer.Close() }

func newPrefixedBody(head []byte, rest io.ReadCloser) io.ReadCloser {
	return &prefixedBody{Reader: io.MultiReader(bytes.NewReader(head), rest), closer: rest}
}

// detectFakeSuccess inspects the head of a 200 response for payloads
// that are really errors. Non-JSON bodies (SSE streams, binary) pass.
func detectFakeSuccess(head []byte) *FakeSuccessError {
	trimmed := bytes.TrimSpace(head)
	if len(trimmed) == 0 {
		return &FakeSuccessError{Reason: "empty body"}
	}
	if trimmed[0] != '{' {
		return nil
	}

	var payload map[string]any
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		// Truncated at the sniff bound. A body that opens with an error
		// object is still an error.
		if bytes.HasPrefix(trimmed, []byte(`{"error"`)) {
			return &FakeSuccessError{Reason: "error payload in 200 response"}
		}
		return nil
	}
	if v, ok := payload["error"]; ok && v != nil {
		return &FakeSuccessError{Reason: "error payload in 200 response", Body: payload}
	}
	if t, _ := payload["type"].(string); t == "error" {
		return &FakeSuccessError{Reason: "error payload in 200 response", Body: payload}
	}
	return nil
}

// outboundBody returns the request body to send to the given provider,
// rewriting the model field when the provider redirects the requested
// model to a different upstream name. The session body stays untouched
// so a later provider switch starts from the requested model again.
func outboundBody(sess *provider.Session, p *provider.Provider) []byte {
	resolved := p.ResolveModel(sess.Model)
	if resolved == sess.Model || len(sess.Body) == 0 {
		return sess.Body
	}
	var payload map[string]any
	if err := json.Unmarshal(sess.Body, &payload); err != nil {
		return sess.Body
	}
	if _, ok := payload["model"]; !ok {
		return sess.Body
	}
	payload["model"] = resolved
	rewritten, err := json.Marshal(payload)
	if err != nil {
		return sess.Body
	}
	return rewritten
}

// outboundPath applies the provider's model redirect to path-addressed
// models (the Gemini surface carries the model in the URL).
func outboundPath(sess *provider.Session, p *provider.Provider) string {
	resolved := p.ResolveModel(sess.Model)
	if resolved == sess.Model || sess.Model == "" {
		return sess.Path
	}
	return strings.Replace(sess.Path, "/models/"+sess.Model, "/models/"+resolved, 1)
}

// parseErrorBody extracts the upstream error payload and message from
// an error response body. Unparseable bodies yield nil.
func parseErrorBody(data []byte) (map[string]any, string) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, ""
	}
	if errObj, ok := payload["error"].(map[string]any); ok {
		if msg, ok := errObj["message"].(string); ok {
			return payload, msg
		}
	}
	if msg, ok := payload["message"].(string); ok {
		return payload, msg
	}
	if msg, ok := payload["error"].(string); ok {
		return payload, msg
	}
	return payload, ""
}
