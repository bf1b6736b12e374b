// Package quota provides the distributed rate-quota adapter consulted
// for every request not exempted by a bypass rule.
//
// The backing store is shared across all process instances so the
// limit is enforced cluster-wide. The guard core is agnostic to the
// implementation behind the Adapter interface.
package quota
