// Package dss implements the Durable Stock Store: the transactional
// system of record for per-SKU total stock. The engine only consults this
// total during commit, as a conditional decrement by the hold's qty; DSS
// never hears about holds, TTLs, or reservations.
package dss

import "context"

// DurableStock is the engine's only view of the DSS.
type DurableStock interface {
	// ConditionalDecrement atomically applies: total -= qty, but only if
	// total >= qty. On success it returns the post-decrement total. If
	// the condition fails it returns a *rerr.ConflictError carrying the
	// total observed at decision time, and the caller (engine) must
	// compensate with an ACS Release rather than leave the hold
	// double-counted.
	ConditionalDecrement(ctx context.Context, sku string, qty int64) (newTotal int64, err error)

	// Total returns the current authoritative total for sku. Returns 0,
	// nil for a SKU that has never been seeded.
	Total(ctx context.Context, sku string) (int64, error)

	// Seed sets total directly. It is the administrative entry point the
	// `seed` CLI subcommand uses in development; request-serving code
	// paths never call it, and it does not write to the ACS.
	Seed(ctx context.Context, sku string, total int64) error
}
