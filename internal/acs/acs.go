// Package acs implements the Atomic Counter Store: a key/value store with
// server-side scripted transactions that holds per-SKU reserved/total
// counters, per-cart-per-SKU holds, and the expiry index. Two
// implementations share the Store interface: RedisStore (production, Lua
// EVAL) and MemStore (single-writer goroutine emulation, for tests and
// scripting-less deployments).
package acs

import "context"

// Hold mirrors the per-(cart_id, sku) lease record.
type Hold struct {
	CartID      string
	SKU         string
	Qty         int64
	ExpiresAtMS int64
	CreatedAtMS int64
}

// ReserveResult is the RESERVE script's success payload.
type ReserveResult struct {
	HoldID         string
	Idempotent     bool
	ExpiresAtMS    int64
	AvailableAfter int64
}

// ExtendResult is the EXTEND script's success payload.
type ExtendResult struct {
	NewExpiresAtMS int64
}

// CommitResult is the COMMIT_LOCAL script's success payload.
type CommitResult struct {
	ConsumedQty int64
}

// ReleaseResult is the RELEASE script's success payload.
type ReleaseResult struct {
	Absent      bool
	ReleasedQty int64
}

// Snapshot is the read-only projection exposed by snapshot(sku).
type Snapshot struct {
	Total     int64
	Reserved  int64
	Available int64
}

// Event is one record from the append-only event log.
type Event struct {
	ID     string
	TSms   int64
	Kind   string // hold_created | hold_extended | hold_committed | hold_released
	SKU    string
	CartID string
	Qty    int64
	Reason string // only set for hold_released: manual | expired
}

// ExpiredHold is one entry popped from the expiry index by the reaper.
type ExpiredHold struct {
	CartID      string
	SKU         string
	ExpiresAtMS int64
}

// Store is the engine's and reaper's only view of the ACS. Every mutating
// method except SeedTotal executes as a single atomic script against the
// keys it touches; no caller may observe a partial mutation.
type Store interface {
	// Reserve implements RESERVE(sku, cart_id, qty, ttl_ms, now_ms).
	Reserve(ctx context.Context, sku, cartID string, qty, ttlMS, nowMS int64) (ReserveResult, error)

	// Extend implements EXTEND(sku, cart_id, add_ms, now_ms).
	Extend(ctx context.Context, sku, cartID string, addMS, nowMS int64) (ExtendResult, error)

	// CommitLocal implements COMMIT_LOCAL(sku, cart_id). It never touches
	// total; the caller (engine) performs the durable-store decrement
	// separately as the first half of the commit protocol.
	CommitLocal(ctx context.Context, sku, cartID string) (CommitResult, error)

	// Release implements RELEASE(sku, cart_id). reason is "manual",
	// "expired", or "dss_conflict" (the engine's compensating release after
	// a failed commit) and is recorded on the event log only.
	Release(ctx context.Context, sku, cartID, reason string) (ReleaseResult, error)

	// Snapshot reads {total, reserved, available} without scripting; may
	// be momentarily stale relative to in-flight scripts.
	Snapshot(ctx context.Context, sku string) (Snapshot, error)

	// Events returns up to limit most-recent event records. If ascending
	// is true, the oldest of the returned window comes first; the
	// default (ascending=false) is newest-first.
	Events(ctx context.Context, limit int, ascending bool) ([]Event, error)

	// ExpiredBefore returns up to batch holds whose expires_at <= nowMS,
	// ascending by expires_at. Holds with the same expires_at are not
	// returned in insertion order: RedisStore orders them by member
	// ("cart_id:sku"), MemStore in no fixed order. Read-only; the reaper
	// calls Release for each entry separately.
	ExpiredBefore(ctx context.Context, nowMS int64, batch int) ([]ExpiredHold, error)

	// SeedTotal is a narrow escape hatch for local development and tests
	// that writes total directly into the ACS without going through the
	// real external replicator. It must never be called from
	// request-serving code paths.
	SeedTotal(ctx context.Context, sku string, total int64) error
}

func holdID(cartID, sku string) string {
	return cartID + ":" + sku
}
