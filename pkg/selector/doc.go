// Package selector ranks and filters attempt targets for a session:
// provider-level selection (compatibility, schedule, group, model,
// circuit and fuse state, admission) and endpoint-level selection
// (latency-ranked vendor endpoints), plus the attempt-plan budget
// policy that maps endpoints to a bounded sequence of attempt targets.
//
// Selection is computed over immutable provider snapshots taken at
// configuration load, so a reload never re-ranks an in-flight send.
package selector
