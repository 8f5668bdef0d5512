// Package provider defines the runtime domain types shared across the
// dispatch core: the immutable provider snapshot built from
// configuration, the per-request session, the provider-chain audit
// entries, and the format/type compatibility rules.
package provider
