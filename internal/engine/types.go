package engine

import "time"

// ReserveRequest places or replays a hold against a sku. A replay with the same Qty against a live hold is idempotent;
// a replay with a different Qty is a conflict.
type ReserveRequest struct {
	SKU    string
	CartID string
	Qty    int64
	TTL    time.Duration // zero uses the engine's configured default
	Now    time.Time     // zero uses the wall clock; tests inject fixed times
}

type ReserveResult struct {
	HoldID         string
	Idempotent     bool
	ExpiresAt      time.Time
	AvailableAfter int64
}

// ExtendRequest pushes a live hold's expiry forward by ExtendBy from
// max(current_expiry, now).
type ExtendRequest struct {
	SKU      string
	CartID   string
	ExtendBy time.Duration
	Now      time.Time
}

type ExtendResult struct {
	NewExpiresAt time.Time
}

// CommitRequest finalizes a hold against the durable total. Qty must match
// what was reserved; the engine does not re-derive it from the ACS so that
// the durable-store step can run before any ACS mutation.
type CommitRequest struct {
	SKU    string
	CartID string
	Qty    int64
	Now    time.Time
}

type CommitResult struct {
	ConsumedQty int64
	NewTotal    int64
}

// ReleaseRequest abandons a hold without consuming stock. Reason is
// "manual" for client-initiated releases and "expired" for reaper sweeps;
// it is recorded on the event log only and never changes behavior.
type ReleaseRequest struct {
	SKU    string
	CartID string
	Reason string
	Now    time.Time
}

type ReleaseResult struct {
	Absent      bool
	ReleasedQty int64
}

// Snapshot is the read-only {total, reserved, available} projection served
// from the ACS; it is not durable-store-authoritative but is what every
// reserve decision is actually evaluated against.
type Snapshot struct {
	Total     int64
	Reserved  int64
	Available int64
}

// Event is one append-only record from the ACS event log.
type Event struct {
	ID     string
	At     time.Time
	Kind   string
	SKU    string
	CartID string
	Qty    int64
	Reason string
}
