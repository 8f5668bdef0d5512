package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"skyroute-hq/charon/pkg/forwarder"
	"skyroute-hq/charon/pkg/provider"
	"skyroute-hq/charon/pkg/selector"
)

type fakeSender struct {
	lastSession *provider.Session
	resp        *forwarder.Response
	err         error
}

func (f *fakeSender) Send(_ context.Context, sess *provider.Session) (*forwarder.Response, error) {
	f.lastSession = sess
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func okResponse(body string) *forwarder.Response {
	return &forwarder.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func doRequest(t *testing.T, h *Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSessionBuiltFromClaudeRequest(t *testing.T) {
	sender := &fakeSender{resp: okResponse(`{"id":"msg_1"}`)}
	h := NewHandler(sender)

	header := http.Header{}
	header.Set("X-Charon-Group", "team-a")
	header.Set("Authorization", "Bearer sk-test")
	rec := doRequest(t, h, http.MethodPost, "/v1/messages",
		`{"model":"claude-sonnet-4","stream":true,"messages":[]}`, header)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	sess := sender.lastSession
	if sess == nil {
		t.Fatal("sender was not invoked")
	}
	if sess.OriginalFormat != provider.FormatClaude {
		t.Errorf("format = %q, want claude", sess.OriginalFormat)
	}
	if sess.Model != "claude-sonnet-4" {
		t.Errorf("model = %q", sess.Model)
	}
	if !sess.Streaming {
		t.Error("streaming not detected from body")
	}
	if sess.GroupTag != "team-a" {
		t.Errorf("group tag = %q", sess.GroupTag)
	}
	if sess.Identity == "anonymous" || sess.Identity == "" {
		t.Errorf("identity = %q, want credential hash", sess.Identity)
	}
	if sess.Header.Get("X-Charon-Group") != "" {
		t.Error("group header leaked into upstream headers")
	}
	if got := rec.Body.String(); got != `{"id":"msg_1"}` {
		t.Errorf("body = %q", got)
	}
}

func TestFormatDetection(t *testing.T) {
	tests := []struct {
		path   string
		format provider.Format
		ok     bool
	}{
		{"/v1/messages", provider.FormatClaude, true},
		{"/v1/chat/completions", provider.FormatOpenAI, true},
		{"/v1/responses", provider.FormatResponse, true},
		{"/v1beta/models/gemini-pro:generateContent", provider.FormatGemini, true},
		{"/v1internal:generateContent", provider.FormatGeminiCLI, true},
		{"/v2/unknown", "", false},
	}
	for _, tt := range tests {
		format, ok := detectFormat(tt.path)
		if ok != tt.ok || format != tt.format {
			t.Errorf("detectFormat(%q) = %q, %v; want %q, %v", tt.path, format, ok, tt.format, tt.ok)
		}
	}
}

func TestGeminiModelAndStreamingFromPath(t *testing.T) {
	sender := &fakeSender{resp: okResponse(`{}`)}
	h := NewHandler(sender)

	rec := doRequest(t, h, http.MethodPost,
		"/v1beta/models/gemini-2.5-pro:streamGenerateContent?alt=sse",
		`{"contents":[]}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	sess := sender.lastSession
	if sess.Model != "gemini-2.5-pro" {
		t.Errorf("model = %q", sess.Model)
	}
	if !sess.Streaming {
		t.Error("streaming not detected from path")
	}
}

func TestUnknownPathRejected(t *testing.T) {
	h := NewHandler(&fakeSender{resp: okResponse(`{}`)})
	rec := doRequest(t, h, http.MethodPost, "/v2/unknown", `{}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewHandler(&fakeSender{resp: okResponse(`{}`)})
	rec := doRequest(t, h, http.MethodGet, "/v1/messages", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestAnonymousIdentityWithoutCredential(t *testing.T) {
	sender := &fakeSender{resp: okResponse(`{}`)}
	h := NewHandler(sender)
	doRequest(t, h, http.MethodPost, "/v1/messages", `{"model":"m"}`, nil)
	if sender.lastSession.Identity != "anonymous" {
		t.Errorf("identity = %q, want anonymous", sender.lastSession.Identity)
	}
}

func TestNoProviderMapsTo503(t *testing.T) {
	sender := &fakeSender{err: &selector.ErrNoProviderAvailable{Format: provider.FormatClaude}}
	h := NewHandler(sender)
	rec := doRequest(t, h, http.MethodPost, "/v1/messages", `{"model":"m"}`, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("invalid error body: %v", err)
	}
	if envelope.Error.Type != "overloaded_error" {
		t.Errorf("error type = %q", envelope.Error.Type)
	}
}

func TestExhaustedGenericMapsTo502(t *testing.T) {
	sender := &fakeSender{err: &forwarder.ExhaustedError{
		Attempts: 3,
		Err:      &forwarder.ConnectError{Err: errors.New("dial tcp 10.0.0.8:443: connection refused")},
	}}
	h := NewHandler(sender)
	rec := doRequest(t, h, http.MethodPost, "/v1/messages", `{"model":"m"}`, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if body := rec.Body.String(); strings.Contains(body, "10.0.0.8") {
		t.Errorf("upstream address leaked: %s", body)
	}
}

func TestExhaustedUpstream4xxPassesThrough(t *testing.T) {
	sender := &fakeSender{err: &forwarder.ExhaustedError{
		Attempts: 1,
		Err: &forwarder.UpstreamHTTPError{
			StatusCode: http.StatusTooManyRequests,
			Message:    "rate limit exceeded",
		},
	}}
	h := NewHandler(sender)
	rec := doRequest(t, h, http.MethodPost, "/v1/messages", `{"model":"m"}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rate limit exceeded") {
		t.Errorf("upstream message lost: %s", rec.Body.String())
	}
}

func TestExhaustedTimeoutMapsTo504(t *testing.T) {
	sender := &fakeSender{err: &forwarder.ExhaustedError{
		Attempts: 2,
		Err:      &forwarder.TimeoutError{Phase: forwarder.PhaseFirstByte},
	}}
	h := NewHandler(sender)
	rec := doRequest(t, h, http.MethodPost, "/v1/messages", `{"model":"m"}`, nil)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
}

func TestCancelledMapsToClientClosed(t *testing.T) {
	sender := &fakeSender{err: &forwarder.CancelledError{Err: context.Canceled}}
	h := NewHandler(sender)
	rec := doRequest(t, h, http.MethodPost, "/v1/messages", `{"model":"m"}`, nil)
	if rec.Code != statusClientClosedRequest {
		t.Fatalf("status = %d, want %d", rec.Code, statusClientClosedRequest)
	}
}

func TestHopByHopHeadersStripped(t *testing.T) {
	sender := &fakeSender{resp: okResponse(`{}`)}
	h := NewHandler(sender)

	header := http.Header{}
	header.Set("Connection", "keep-alive")
	header.Set("Transfer-Encoding", "chunked")
	header.Set("X-Custom", "kept")
	doRequest(t, h, http.MethodPost, "/v1/messages", `{"model":"m"}`, header)

	sess := sender.lastSession
	if sess.Header.Get("Connection") != "" || sess.Header.Get("Transfer-Encoding") != "" {
		t.Error("hop-by-hop headers not stripped")
	}
	if sess.Header.Get("X-Custom") != "kept" {
		t.Error("custom header dropped")
	}
}

func TestStreamingResponseRelayed(t *testing.T) {
	body := "event: message_start\ndata: {}\n\nevent: message_stop\ndata: {}\n\n"
	sender := &fakeSender{resp: &forwarder.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}}
	h := NewHandler(sender)

	rec := doRequest(t, h, http.MethodPost, "/v1/messages",
		`{"model":"m","stream":true}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != body {
		t.Errorf("stream body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
}
