package forwarder

import (
	"encoding/json"
	"errors"
	"strings"
)

// minThinkingBudget is the smallest thinking token budget some
// upstreams accept; lower values are rejected with a 400.
const minThinkingBudget = 1024

// Rectification audit keys recorded in session.SpecialSettings.
const (
	SettingDropThinkingSignatures = "drop_thinking_signatures"
	SettingRaiseThinkingBudget    = "raise_thinking_budget"
)

// rectification is one recognized corrective action: a request mutation
// that earns a single same-target retry.
type rectification struct {
	setting string
	detail  string
	apply   func(body []byte) ([]byte, bool)
}

// recognizeRectification matches an attempt failure against the fixed
// set of rectifiable upstream validation signatures. Only status 400
// responses with a recognizable message qualify.
func recognizeRectification(err error) (*rectification, bool) {
	var up *UpstreamHTTPError
	if !errors.As(err, &up) || up.StatusCode != 400 {
		return nil, false
	}
	msg := strings.ToLower(up.Message)
	switch {
	case strings.Contains(msg, "signature"):
		return &rectification{
			setting: SettingDropThinkingSignatures,
			detail:  "removed cached thinking blocks after signature rejection",
			apply:   dropThinkingBlocks,
		}, true
	case strings.Contains(msg, "budget") && strings.Contains(msg, "thinking"),
		strings.Contains(msg, "budget_tokens"):
		return &rectification{
			setting: SettingRaiseThinkingBudget,
			detail:  "raised thinking budget to the accepted minimum",
			apply:   raiseThinkingBudget,
		}, true
	}
	return nil, false
}

// dropThinkingBlocks removes thinking and redacted_thinking content
// blocks from every message, discarding the stale signatures the
// upstream rejected. Returns false when the body has no such blocks.
func dropThinkingBlocks(body []byte) ([]byte, bool) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return body, false
	}
	messages, ok := payload["messages"].([]any)
	if !ok {
		return body, false
	}

	changed := false
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		content, ok := msg["content"].([]any)
		if !ok {
			continue
		}
		kept := content[:0:0]
		for _, block := range content {
			if b, ok := block.(map[string]any); ok {
				t, _ := b["type"].(string)
				if t == "thinking" || t == "redacted_thinking" {
					changed = true
					continue
				}
			}
			kept = append(kept, block)
		}
		if changed {
			msg["content"] = kept
		}
	}
	if !changed {
		return body, false
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return body, false
	}
	return out, true
}

// raiseThinkingBudget lifts thinking.budget_tokens to the accepted
// minimum. Returns false when the body has no thinking budget to fix.
func raiseThinkingBudget(body []byte) ([]byte, bool) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return body, false
	}
	thinking, ok := payload["thinking"].(map[string]any)
	if !ok {
		return body, false
	}
	budget, ok := thinking["budget_tokens"].(float64)
	if !ok || budget >= minThinkingBudget {
		return body, false
	}
	thinking["budget_tokens"] = minThinkingBudget

	out, err := json.Marshal(payload)
	if err != nil {
		return body, false
	}
	return out, true
}
