package selector

import (
	"skyroute-hq/charon/pkg/endpoints"
	"skyroute-hq/charon/pkg/provider"
)

// Target is one attempt destination within a send.
type Target struct {
	// EndpointID is empty when the attempt goes to the provider URL
	// directly, bypassing vendor endpoints.
	EndpointID string

	// BaseURL is the destination base URL for the attempt.
	BaseURL string
}

// BuildAttemptPlan expands an endpoint order into per-attempt targets
// under the provider's retry budget N:
//
//   - more endpoints than budget: the N lowest-latency endpoints, one
//     attempt each
//   - fewer endpoints than budget: round-robin over the endpoint order
//     until N attempts are planned
//   - no endpoints: N attempts against the provider URL with an empty
//     endpoint ID
//
// eps is assumed already ordered by PickEndpoints.
func BuildAttemptPlan(p *provider.Provider, eps []endpoints.Endpoint, maxAttempts int) []Target {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	plan := make([]Target, 0, maxAttempts)
	if len(eps) == 0 {
		for i := 0; i < maxAttempts; i++ {
			plan = append(plan, Target{BaseURL: p.URL})
		}
		return plan
	}

	// With eps ordered best-first, taking index i mod len covers both
	// cases: a surplus of endpoints uses the first maxAttempts once
	// each, a deficit cycles through the order.
	for i := 0; i < maxAttempts; i++ {
		ep := eps[i%len(eps)]
		plan = append(plan, Target{EndpointID: ep.ID, BaseURL: ep.BaseURL})
	}
	return plan
}
