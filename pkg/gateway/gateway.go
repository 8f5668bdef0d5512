// Package gateway is the inbound HTTP surface: it turns client
// requests into dispatch sessions, hands them to the forwarder, and
// writes the response or a stable, non-leaking error back.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"skyroute-hq/charon/pkg/forwarder"
	"skyroute-hq/charon/pkg/provider"
	"skyroute-hq/charon/pkg/selector"
	"skyroute-hq/charon/pkg/telemetry/metrics"
)

// maxRequestBody bounds inbound request bodies.
const maxRequestBody = 32 << 20 // 32 MiB

// GroupHeader carries the session group tag on inbound requests.
const GroupHeader = "X-Charon-Group"

// Sender is the dispatch contract the gateway drives.
type Sender interface {
	Send(ctx context.Context, sess *provider.Session) (*forwarder.Response, error)
}

// Handler serves the inbound API paths.
type Handler struct {
	sender  Sender
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger.With("component", "gateway") }
}

// WithMetrics attaches the telemetry collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates the inbound handler over a sender.
func NewHandler(sender Sender, opts ...Option) *Handler {
	h := &Handler{
		sender: sender,
		logger: slog.Default().With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	format, ok := detectFormat(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found_error", "unknown API path")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "unreadable request body")
		return
	}
	if len(body) > maxRequestBody {
		writeError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body too large")
		return
	}

	sess := h.buildSession(r, format, body)
	h.logger.Info("request accepted",
		"session_id", sess.ID,
		"format", string(sess.OriginalFormat),
		"model", sess.Model,
		"streaming", sess.Streaming,
	)

	resp, err := h.sender.Send(r.Context(), sess)
	if err != nil {
		h.recordOutcome(sess, sendOutcome(err))
		h.writeSendError(w, sess, err)
		return
	}
	defer resp.Body.Close()
	h.recordOutcome(sess, "success")

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if sess.Streaming {
		streamCopy(w, resp.Body)
		return
	}
	io.Copy(w, resp.Body)
}

// buildSession constructs the dispatch session from the inbound
// request.
func (h *Handler) buildSession(r *http.Request, format provider.Format, body []byte) *provider.Session {
	model, stream := extractModelAndStream(body)
	if format == provider.FormatGemini || format == provider.FormatGeminiCLI {
		if m := geminiModelFromPath(r.URL.Path); m != "" {
			model = m
		}
		stream = stream || r.URL.Query().Get("alt") == "sse" ||
			strings.Contains(r.URL.Path, ":streamGenerateContent")
	}

	sess := provider.NewSession(format, model)
	sess.Method = r.Method
	sess.Path = r.URL.RequestURI()
	sess.Body = body
	sess.Streaming = stream
	sess.GroupTag = r.Header.Get(GroupHeader)
	sess.Identity = callerIdentity(r)

	for k, vs := range r.Header {
		if isHopByHop(k) || k == GroupHeader {
			continue
		}
		for _, v := range vs {
			sess.Header.Add(k, v)
		}
	}
	return sess
}

// writeSendError maps dispatch failures to stable client-facing errors.
// Messages never include endpoint URLs or upstream credentials.
func (h *Handler) writeSendError(w http.ResponseWriter, sess *provider.Session, err error) {
	var (
		cancelled  *forwarder.CancelledError
		exhausted  *forwarder.ExhaustedError
		noProvider *selector.ErrNoProviderAvailable
	)
	switch {
	case errors.As(err, &cancelled):
		// The client is gone; status is best effort.
		w.WriteHeader(statusClientClosedRequest)
	case errors.As(err, &noProvider):
		writeError(w, http.StatusServiceUnavailable, "overloaded_error",
			"no upstream provider available for this request")
	case errors.As(err, &exhausted):
		status, message := exhaustedStatus(exhausted)
		writeError(w, status, "api_error", message)
	default:
		writeError(w, http.StatusBadGateway, "api_error", "upstream dispatch failed")
	}

	h.logger.Warn("request failed",
		"session_id", sess.ID,
		"attempts", len(sess.ProviderChain),
		"error", err,
	)
}

// statusClientClosedRequest mirrors nginx's non-standard 499.
const statusClientClosedRequest = 499

// recordOutcome bumps the per-send counter, labelled by the provider
// that served (or last failed) the request.
func (h *Handler) recordOutcome(sess *provider.Session, outcome string) {
	if h.metrics == nil {
		return
	}
	providerID := "none"
	if n := len(sess.ProviderChain); n > 0 {
		providerID = sess.ProviderChain[n-1].ProviderID
	}
	h.metrics.RecordSendOutcome(providerID, outcome)
}

// sendOutcome labels a failed send for metrics.
func sendOutcome(err error) string {
	var (
		cancelled  *forwarder.CancelledError
		noProvider *selector.ErrNoProviderAvailable
	)
	switch {
	case errors.As(err, &cancelled):
		return "cancelled"
	case errors.As(err, &noProvider):
		return "no_provider"
	default:
		return "exhausted"
	}
}

// exhaustedStatus maps the last underlying cause of an exhausted send
// to a stable outbound status and message.
func exhaustedStatus(err *forwarder.ExhaustedError) (int, string) {
	var up *forwarder.UpstreamHTTPError
	if errors.As(err, &up) {
		// Client-class upstream rejections pass their status through;
		// everything else is a gateway-side failure.
		if up.StatusCode >= 400 && up.StatusCode < 500 {
			msg := up.Message
			if msg == "" {
				msg = "upstream rejected the request"
			}
			return up.StatusCode, msg
		}
		return http.StatusBadGateway, "all upstream attempts failed"
	}
	var timeout *forwarder.TimeoutError
	if errors.As(err, &timeout) {
		return http.StatusGatewayTimeout, "upstream timed out"
	}
	return http.StatusBadGateway, "all upstream attempts failed"
}

// writeError writes an OpenAI-style error envelope.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"type":    errType,
			"message": message,
		},
	})
}

// detectFormat maps an inbound API path to its wire format.
func detectFormat(path string) (provider.Format, bool) {
	switch {
	case strings.HasPrefix(path, "/v1/messages"):
		return provider.FormatClaude, true
	case strings.HasPrefix(path, "/v1/chat/completions"):
		return provider.FormatOpenAI, true
	case strings.HasPrefix(path, "/v1/responses"):
		return provider.FormatResponse, true
	case strings.HasPrefix(path, "/v1internal"):
		return provider.FormatGeminiCLI, true
	case strings.HasPrefix(path, "/v1beta/models/"), strings.HasPrefix(path, "/v1/models/"):
		return provider.FormatGemini, true
	}
	return "", false
}

// extractModelAndStream pulls the model name and stream flag out of a
// JSON request body.
func extractModelAndStream(body []byte) (string, bool) {
	var payload struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", false
	}
	return payload.Model, payload.Stream
}

// geminiModelFromPath extracts the model from Gemini-style paths:
// /v1beta/models/<model>:<method>.
func geminiModelFromPath(path string) string {
	idx := strings.Index(path, "/models/")
	if idx < 0 {
		return ""
	}
	rest := path[idx+len("/models/"):]
	if colon := strings.IndexByte(rest, ':'); colon >= 0 {
		rest = rest[:colon]
	}
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

// callerIdentity derives the admission identity from the caller's
// credential without retaining the credential itself.
func callerIdentity(r *http.Request) string {
	cred := r.Header.Get("Authorization")
	if cred == "" {
		cred = r.Header.Get("X-Api-Key")
	}
	if cred == "" {
		return "anonymous"
	}
	sum := sha256.Sum256([]byte(cred))
	return hex.EncodeToString(sum[:8])
}

// hopByHopHeaders are stripped when relaying inbound headers upstream.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Host":                true,
	"Content-Length":      true,
	"Accept-Encoding":     true,
}

func isHopByHop(header string) bool {
	return hopByHopHeaders[http.CanonicalHeaderKey(header)]
}

// copyResponseHeaders relays upstream response headers, dropping
// hop-by-hop fields.
func copyResponseHeaders(dst, src http.Header) {
	for k, vs := range src {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// streamCopy relays a streaming body chunk by chunk, flushing after
// every write so SSE events reach the client promptly.
func streamCopy(w http.ResponseWriter, body io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}
