package forwarder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"skyroute-hq/charon/pkg/agentpool"
	"skyroute-hq/charon/pkg/audit"
	"skyroute-hq/charon/pkg/breaker"
	"skyroute-hq/charon/pkg/endpoints"
	"skyroute-hq/charon/pkg/limits"
	"skyroute-hq/charon/pkg/provider"
	"skyroute-hq/charon/pkg/selector"
	"skyroute-hq/charon/pkg/telemetry/metrics"
)

// Response is the outcome of a successful send. The body is live for
// streaming sessions; the caller owns closing it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Config tunes a Forwarder.
type Config struct {
	// MaxProviderSwitches caps how many times a send may fail over to
	// another provider after exhausting one. Zero disables failover.
	MaxProviderSwitches int
}

// Forwarder drives the retry loop for one session at a time per call.
// It is safe for concurrent Send calls.
type Forwarder struct {
	pool            *agentpool.Pool
	selector        *selector.Selector
	endpointBreaker *breaker.CircuitBreaker
	providerBreaker *breaker.CircuitBreaker
	fuse            *breaker.VendorTypeFuse
	admission       limits.Controller
	recorder        *audit.Recorder
	metrics         *metrics.Metrics
	config          Config
	logger          *slog.Logger
	now             func() time.Time
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithRecorder attaches the provider-chain audit recorder.
func WithRecorder(r *audit.Recorder) Option {
	return func(f *Forwarder) { f.recorder = r }
}

// WithMetrics attaches the telemetry collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Forwarder) { f.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) { f.logger = logger.With("component", "forwarder") }
}

// New creates a Forwarder over its collaborators.
func New(
	pool *agentpool.Pool,
	sel *selector.Selector,
	endpointBreaker, providerBreaker *breaker.CircuitBreaker,
	fuse *breaker.VendorTypeFuse,
	admission limits.Controller,
	cfg Config,
	opts ...Option,
) *Forwarder {
	f := &Forwarder{
		pool:            pool,
		selector:        sel,
		endpointBreaker: endpointBreaker,
		providerBreaker: providerBreaker,
		fuse:            fuse,
		admission:       admission,
		config:          cfg,
		logger:          slog.Default().With("component", "forwarder"),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Send forwards the session to an upstream provider, retrying across
// endpoints and, when permitted, failing over across providers. On
// return the session's provider chain is populated and handed to the
// audit recorder regardless of outcome. Only ExhaustedError and
// CancelledError reach the caller.
func (f *Forwarder) Send(ctx context.Context, sess *provider.Session) (*Response, error) {
	defer f.flushAudit(sess)

	exclude := make(map[string]bool)
	var lastErr error
	attempts := 0

	for switches := 0; ; switches++ {
		sel, err := f.selector.PickProvider(sess, exclude)
		if err != nil {
			if lastErr != nil {
				return nil, &ExhaustedError{Attempts: attempts, Err: lastErr}
			}
			return nil, err
		}
		p := sel.Provider

		resp, sendErr := f.sendToProvider(ctx, sess, p, &attempts)
		if sel.AdmissionTracked {
			f.admission.Untrack(p.ID, sess.Identity)
		}
		if sendErr == nil {
			return resp, nil
		}

		var cancelled *CancelledError
		if errors.As(sendErr, &cancelled) {
			return nil, sendErr
		}
		var exhausted *ExhaustedError
		if errors.As(sendErr, &exhausted) {
			// Terminal inside sendToProvider (failed rectified retry).
			return nil, sendErr
		}

		lastErr = sendErr
		exclude[p.ID] = true
		if switches >= f.config.MaxProviderSwitches {
			return nil, &ExhaustedError{Attempts: attempts, Err: lastErr}
		}
		f.logger.Info("provider exhausted, switching",
			"session_id", sess.ID,
			"provider_id", p.ID,
			"attempts", attempts,
		)
	}
}

// sendToProvider runs the attempt plan against one provider. A nil
// error means success; an ExhaustedError means terminal failure that
// must not trigger provider failover; any other error leaves failover
// to the caller.
func (f *Forwarder) sendToProvider(ctx context.Context, sess *provider.Session, p *provider.Provider, attempts *int) (*Response, error) {
	failureThreshold, openDuration, halfOpenSuccesses := p.BreakerSettings()
	settings := breaker.Settings{
		FailureThreshold:         failureThreshold,
		OpenDuration:             openDuration,
		HalfOpenSuccessThreshold: halfOpenSuccesses,
	}
	f.providerBreaker.Configure(p.ID, settings)

	var eps []endpoints.Endpoint
	if !sess.ToolPassthrough {
		eps = f.selector.PickEndpoints(p)
		for _, ep := range eps {
			f.endpointBreaker.Configure(ep.ID, settings)
		}
	}
	plan := selector.BuildAttemptPlan(p, eps, p.MaxRetryAttempts)

	rectified := false
	failedEndpoints := make(map[string]bool)
	var lastErr error

	for _, target := range plan {
		*attempts++
		resp, err := f.attempt(ctx, sess, p, target)
		if err == nil {
			f.recordSuccess(sess, p, target, *attempts, resp.StatusCode)
			return resp, nil
		}

		var cancelled *CancelledError
		if errors.As(err, &cancelled) {
			sess.AppendChain(provider.ChainEntry{
				ProviderID:   p.ID,
				EndpointID:   target.EndpointID,
				Attempt:      *attempts,
				ErrorMessage: err.Error(),
				Reason:       "cancelled",
			})
			return nil, err
		}

		f.recordFailure(sess, p, target, *attempts, err, "")
		if target.EndpointID != "" {
			failedEndpoints[target.EndpointID] = true
		}
		lastErr = err

		if !rectified {
			if r, ok := recognizeRectification(err); ok {
				rectified = true
				if resp, rerr := f.rectifiedRetry(ctx, sess, p, target, attempts, r); rerr == nil {
					return resp, nil
				} else if rerr != errRectifySkipped {
					return nil, rerr
				}
			}
		}
	}

	// Every endpoint of the vendor failed within this one send.
	if p.VendorID != "" && len(eps) > 0 && len(failedEndpoints) == len(eps) {
		f.fuse.OpenFuse(p.VendorID, p.Type, "all endpoints failed")
		if f.metrics != nil {
			f.metrics.RecordFuseOpen(p.VendorID, p.Type)
		}
	}
	return nil, lastErr
}

// errRectifySkipped signals that the rectification did not apply to
// this request body and the normal endpoint loop should continue.
var errRectifySkipped = errors.New("rectification not applicable")

// rectifiedRetry mutates the request body and retries the same target
// once. Success returns the response; an inapplicable mutation returns
// errRectifySkipped; any other failure is terminal for the whole send.
func (f *Forwarder) rectifiedRetry(ctx context.Context, sess *provider.Session, p *provider.Provider, target selector.Target, attempts *int, r *rectification) (*Response, error) {
	newBody, changed := r.apply(sess.Body)
	if !changed {
		return nil, errRectifySkipped
	}
	sess.Body = newBody
	sess.RecordSpecialSetting(r.setting, r.detail)
	f.logger.Info("rectifying request",
		"session_id", sess.ID,
		"provider_id", p.ID,
		"action", r.setting,
	)

	*attempts++
	resp, err := f.attempt(ctx, sess, p, target)
	if err == nil {
		f.recordSuccess(sess, p, target, *attempts, resp.StatusCode)
		return resp, nil
	}

	var cancelled *CancelledError
	if errors.As(err, &cancelled) {
		sess.AppendChain(provider.ChainEntry{
			ProviderID:   p.ID,
			EndpointID:   target.EndpointID,
			Attempt:      *attempts,
			ErrorMessage: err.Error(),
			Reason:       "cancelled",
		})
		return nil, err
	}

	f.recordFailure(sess, p, target, *attempts, err, "rectified_retry")
	// A failed rectified retry raises immediately.
	return nil, &ExhaustedError{Attempts: *attempts, Err: err}
}

// attempt performs one HTTP exchange against a target, with proxy
// fallback to direct when the provider allows it.
func (f *Forwarder) attempt(ctx context.Context, sess *provider.Session, p *provider.Provider, target selector.Target) (*Response, error) {
	started := f.now()
	resp, err := f.attemptOnce(ctx, sess, p, target, p.ProxyURL)

	var connErr *ConnectError
	if err != nil && errors.As(err, &connErr) && p.ProxyURL != "" && p.ProxyFallbackToDirect {
		f.logger.Warn("proxy connect failed, retrying direct",
			"session_id", sess.ID,
			"provider_id", p.ID,
			"endpoint_id", target.EndpointID,
		)
		resp, err = f.attemptOnce(ctx, sess, p, target, "")
	}

	if f.metrics != nil {
		f.metrics.ObserveAttempt(p.ID, outcomeLabel(err), f.now().Sub(started).Seconds())
	}
	return resp, err
}

// attemptOnce performs one HTTP exchange through one dispatcher.
func (f *Forwarder) attemptOnce(ctx context.Context, sess *provider.Session, p *provider.Provider, target selector.Target, proxyURL string) (*Response, error) {
	agent, err := f.pool.Get(agentpool.GetOptions{
		OriginURL:   target.BaseURL,
		ProxyURL:    proxyURL,
		EnableHTTP2: p.EnableHTTP2,
	})
	if err != nil {
		return nil, &ConnectError{Err: err}
	}

	resp, err := f.exchange(ctx, agent.Dispatcher, sess, p, target)
	if err != nil {
		var connErr *ConnectError
		if errors.As(err, &connErr) {
			f.pool.MarkUnhealthy(agent.CacheKey, "connect failure")
		}
		return nil, err
	}
	return resp, nil
}

// exchange performs the HTTP call under the mode-appropriate timeout
// phases and classifies the outcome.
func (f *Forwarder) exchange(ctx context.Context, dispatcher http.RoundTripper, sess *provider.Session, p *provider.Provider, target selector.Target) (*Response, error) {
	callCtx, cancel := context.WithCancel(ctx)
	guard := newPhaseGuard(cancel)
	if sess.Streaming {
		guard.arm(PhaseFirstByte, p.Timeouts.FirstByteStreaming)
	} else {
		guard.arm(PhaseFixed, p.Timeouts.RequestNonStreaming)
	}

	req, err := http.NewRequestWithContext(callCtx, sess.Method, joinURL(target.BaseURL, outboundPath(sess, p)), bytes.NewReader(outboundBody(sess, p)))
	if err != nil {
		guard.release()
		return nil, &ConnectError{Err: err}
	}
	if sess.Header != nil {
		req.Header = sess.Header.Clone()
	}

	client := &http.Client{Transport: dispatcher}
	resp, err := client.Do(req)
	if err != nil {
		classified := classifyExchangeError(ctx, guard, err)
		guard.release()
		return nil, classified
	}

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		resp.Body.Close()
		guard.release()
		body, msg := parseErrorBody(data)
		return nil, &UpstreamHTTPError{StatusCode: resp.StatusCode, Body: body, Message: msg}
	}

	if !sess.Streaming {
		data, rerr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if rerr != nil {
			classified := classifyExchangeError(ctx, guard, rerr)
			guard.release()
			return nil, classified
		}
		guard.release()
		if resp.StatusCode == http.StatusOK {
			if fake := detectFakeSuccess(data); fake != nil {
				return nil, fake
			}
		}
		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       io.NopCloser(bytes.NewReader(data)),
		}, nil
	}

	// Streaming: the first chunk bounds the fake-success sniff; the
	// idle watchdog takes over from there.
	head, sniffErr := sniffHead(resp.Body)
	if sniffErr != nil && sniffErr != io.EOF {
		classified := classifyExchangeError(ctx, guard, sniffErr)
		resp.Body.Close()
		guard.release()
		return nil, classified
	}
	if resp.StatusCode == http.StatusOK {
		if fake := detectFakeSuccess(head); fake != nil {
			resp.Body.Close()
			guard.release()
			return nil, fake
		}
	}

	guard.arm(PhaseIdle, p.Timeouts.StreamingIdle)
	onTimeout := func(phase TimeoutPhase) {
		err := &TimeoutError{Phase: phase, Err: context.DeadlineExceeded}
		if target.EndpointID != "" {
			f.endpointBreaker.RecordFailure(target.EndpointID, err)
		}
		f.providerBreaker.RecordFailure(p.ID, err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       newWatchedBody(newPrefixedBody(head, resp.Body), guard, onTimeout),
	}, nil
}

// recordSuccess feeds the breakers and appends the chain entry for a
// successful attempt.
func (f *Forwarder) recordSuccess(sess *provider.Session, p *provider.Provider, target selector.Target, attemptNum, statusCode int) {
	if target.EndpointID != "" {
		f.endpointBreaker.RecordSuccess(target.EndpointID)
	}
	f.providerBreaker.RecordSuccess(p.ID)
	sess.AppendChain(provider.ChainEntry{
		ProviderID: p.ID,
		EndpointID: target.EndpointID,
		Attempt:    attemptNum,
		StatusCode: statusCode,
	})
}

// recordFailure feeds the breakers and appends the chain entry for a
// failed attempt.
func (f *Forwarder) recordFailure(sess *provider.Session, p *provider.Provider, target selector.Target, attemptNum int, err error, reason string) {
	if target.EndpointID != "" {
		f.endpointBreaker.RecordFailure(target.EndpointID, err)
	}
	f.providerBreaker.RecordFailure(p.ID, err)

	entry := provider.ChainEntry{
		ProviderID:   p.ID,
		EndpointID:   target.EndpointID,
		Attempt:      attemptNum,
		ErrorMessage: err.Error(),
		Reason:       reason,
	}
	var up *UpstreamHTTPError
	if errors.As(err, &up) {
		entry.StatusCode = up.StatusCode
	}
	sess.AppendChain(entry)

	f.logger.Debug("attempt failed",
		"session_id", sess.ID,
		"provider_id", p.ID,
		"endpoint_id", target.EndpointID,
		"attempt", attemptNum,
		"error", err,
	)
}

// flushAudit hands the populated provider chain to the recorder.
func (f *Forwarder) flushAudit(sess *provider.Session) {
	if f.recorder != nil {
		f.recorder.Record(sess.ID, sess.ProviderChain)
	}
}

// outcomeLabel maps an attempt error to its metric label.
func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	var (
		connErr *ConnectError
		toErr   *TimeoutError
		upErr   *UpstreamHTTPError
		fakeErr *FakeSuccessError
		cancErr *CancelledError
	)
	switch {
	case errors.As(err, &toErr):
		return "timeout_" + string(toErr.Phase)
	case errors.As(err, &connErr):
		return "connect_error"
	case errors.As(err, &upErr):
		return "http_error"
	case errors.As(err, &fakeErr):
		return "fake_success"
	case errors.As(err, &cancErr):
		return "cancelled"
	}
	return "error"
}

// joinURL appends a request path to a base URL.
func joinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
