package provider

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Filter reasons recorded when a provider is excluded from selection.
const (
	ReasonDisabled           = "disabled"
	ReasonScheduleInactive   = "schedule_inactive"
	ReasonGroupMismatch      = "group_mismatch"
	ReasonFormatTypeMismatch = "format_type_mismatch"
	ReasonModelUnsupported   = "model_unsupported"
	ReasonCircuitOpen        = "circuit_open"
	ReasonFuseOpen           = "fuse_open"
	ReasonAdmissionRejected  = "admission_rejected"
	ReasonExcluded           = "excluded"
)

// ChainEntry is one provider-chain audit record: a single forwarding
// attempt. The chain is consumed by logging and billing after the send
// completes; the dispatch core never reads it back.
type ChainEntry struct {
	ProviderID string `json:"provider_id"`

	// EndpointID is empty for attempts that bypass vendor endpoints
	// (no vendor configured, or a tool-passthrough request class).
	EndpointID string `json:"endpoint_id,omitempty"`

	// Attempt is the 1-indexed attempt number within the send.
	Attempt int `json:"attempt"`

	StatusCode   int       `json:"status_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// FilterDecision records why a provider was excluded during selection,
// with a machine reason and human-readable detail for observability.
type FilterDecision struct {
	ProviderID string `json:"provider_id"`
	Reason     string `json:"reason"`
	Detail     string `json:"detail,omitempty"`
}

// Session is the per-request state threaded through selection and
// forwarding. One goroutine owns a session for its whole lifetime, so
// its fields need no locking.
type Session struct {
	// ID uniquely identifies the logical request.
	ID string

	// OriginalFormat is the inbound wire format, driving provider-type
	// compatibility.
	OriginalFormat Format

	// Model is the requested model name.
	Model string

	// GroupTag scopes selection to providers sharing the tag. Empty
	// matches untagged providers only.
	GroupTag string

	// Identity is the caller identity used for admission tracking
	// (user-agent hash, API key ID, or similar).
	Identity string

	// Streaming selects the streaming timeout phases.
	Streaming bool

	// ToolPassthrough marks tool/MCP passthrough calls, which always
	// bypass vendor endpoints and go to the provider URL directly.
	ToolPassthrough bool

	// Method, Path, Header, and Body describe the outbound exchange.
	// Path is appended to the attempt target's base URL.
	Method string
	Path   string
	Header http.Header
	Body   []byte

	// ProviderChain is the ordered audit trail, one entry per attempt.
	ProviderChain []ChainEntry

	// FilteredProviders records selection exclusions for observability.
	FilteredProviders []FilterDecision

	// SpecialSettings carries the rectification audit: corrective
	// actions applied to the request, recorded once per logical
	// request.
	SpecialSettings map[string]string

	CreatedAt time.Time
}

// NewSession creates a session with a fresh request ID.
func NewSession(format Format, model string) *Session {
	return &Session{
		ID:             uuid.NewString(),
		OriginalFormat: format,
		Model:          model,
		Header:         make(http.Header),
		CreatedAt:      time.Now(),
	}
}

// AppendChain appends one attempt record to the provider chain.
func (s *Session) AppendChain(entry ChainEntry) {
	entry.Timestamp = time.Now()
	s.ProviderChain = append(s.ProviderChain, entry)
}

// RecordFilter records a selection exclusion.
func (s *Session) RecordFilter(providerID, reason, detail string) {
	s.FilteredProviders = append(s.FilteredProviders, FilterDecision{
		ProviderID: providerID,
		Reason:     reason,
		Detail:     detail,
	})
}

// RecordSpecialSetting records a rectification action. The first value
// for a key wins; rectification is applied at most once per logical
// request.
func (s *Session) RecordSpecialSetting(key, value string) {
	if s.SpecialSettings == nil {
		s.SpecialSettings = make(map[string]string)
	}
	if _, exists := s.SpecialSettings[key]; !exists {
		s.SpecialSettings[key] = value
	}
}
