package acs

import (
	"context"
	"sort"
	"sync"

	"github.com/invreserve/engine/internal/clock"
	"github.com/invreserve/engine/internal/rerr"
)

// MemStore emulates the ACS in-process for scripting-less deployments and
// for tests: a counter store without server-side scripting is emulated
// with a single-writer goroutine, never with client-side compare-and-set
// loops. A single goroutine drains a command channel, so every operation
// observes and mutates state exactly as if it were the body of a Lua
// script: no other goroutine can interleave.
type MemStore struct {
	clk    clock.Clock
	cmds   chan func()
	done   chan struct{}
	mu     sync.Mutex // guards closing of cmds only
	closed bool

	inv    map[string]*invRow
	holds  map[string]*holdRow
	events []Event
	seq    int64
}

type invRow struct {
	total    int64
	reserved int64
}

type holdRow struct {
	cartID, sku string
	qty         int64
	expiresAtMS int64
	createdAtMS int64
}

func NewMemStore(clk clock.Clock) *MemStore {
	if clk == nil {
		clk = clock.Real{}
	}
	m := &MemStore{
		clk:   clk,
		cmds:  make(chan func(), 256),
		done:  make(chan struct{}),
		inv:   make(map[string]*invRow),
		holds: make(map[string]*holdRow),
	}
	go m.run()
	return m
}

func (m *MemStore) run() {
	defer close(m.done)
	for fn := range m.cmds {
		fn()
	}
}

// Close stops the writer goroutine. Safe to call once.
func (m *MemStore) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.cmds)
	m.mu.Unlock()
	<-m.done
}

// submit runs fn on the single writer goroutine and blocks for its result,
// mirroring the atomicity a Lua EVAL gives RedisStore.
func (m *MemStore) submit(ctx context.Context, fn func()) error {
	result := make(chan struct{})
	select {
	case m.cmds <- func() { fn(); close(result) }:
	case <-ctx.Done():
		return rerr.Unavailable(ctx.Err())
	}
	select {
	case <-result:
		return nil
	case <-ctx.Done():
		return rerr.Unavailable(ctx.Err())
	}
}

func (m *MemStore) row(sku string) *invRow {
	r, ok := m.inv[sku]
	if !ok {
		r = &invRow{}
		m.inv[sku] = r
	}
	return r
}

func (m *MemStore) nextEventID() string {
	m.seq++
	return formatSeq(m.seq)
}

func formatSeq(n int64) string {
	const digits = "0123456789"
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = digits[n%10]
		n /= 10
	}
	return string(buf[i:])
}

func (m *MemStore) emit(kind, sku, cartID string, qty, nowMS int64, reason string) {
	m.events = append(m.events, Event{
		ID: m.nextEventID(), TSms: nowMS, Kind: kind, SKU: sku,
		CartID: cartID, Qty: qty, Reason: reason,
	})
}

func (m *MemStore) Reserve(ctx context.Context, sku, cartID string, qty, ttlMS, nowMS int64) (ReserveResult, error) {
	var res ReserveResult
	var opErr error
	err := m.submit(ctx, func() {
		key := holdID(cartID, sku)
		if h, ok := m.holds[key]; ok {
			if h.qty != qty {
				opErr = &rerr.ConflictError{Reason: "qty_mismatch", ExistingQty: h.qty}
				return
			}
			h.expiresAtMS = nowMS + ttlMS
			m.emit("hold_created", sku, cartID, qty, nowMS, "idempotent")
			inv := m.row(sku)
			res = ReserveResult{HoldID: key, Idempotent: true, ExpiresAtMS: h.expiresAtMS,
				AvailableAfter: inv.total - inv.reserved}
			return
		}
		inv := m.row(sku)
		available := inv.total - inv.reserved
		if available < qty {
			opErr = &rerr.InsufficientError{Available: available}
			return
		}
		inv.reserved += qty
		expiry := nowMS + ttlMS
		m.holds[key] = &holdRow{cartID: cartID, sku: sku, qty: qty, expiresAtMS: expiry, createdAtMS: nowMS}
		m.emit("hold_created", sku, cartID, qty, nowMS, "")
		res = ReserveResult{HoldID: key, Idempotent: false, ExpiresAtMS: expiry,
			AvailableAfter: inv.total - inv.reserved}
	})
	if err != nil {
		return ReserveResult{}, err
	}
	if opErr != nil {
		return ReserveResult{}, opErr
	}
	return res, nil
}

func (m *MemStore) Extend(ctx context.Context, sku, cartID string, addMS, nowMS int64) (ExtendResult, error) {
	var res ExtendResult
	var opErr error
	err := m.submit(ctx, func() {
		key := holdID(cartID, sku)
		h, ok := m.holds[key]
		if !ok {
			opErr = &rerr.NotFoundError{CartID: cartID, SKU: sku}
			return
		}
		base := h.expiresAtMS
		if nowMS > base {
			base = nowMS
		}
		h.expiresAtMS = base + addMS
		m.emit("hold_extended", sku, cartID, 0, nowMS, "")
		res = ExtendResult{NewExpiresAtMS: h.expiresAtMS}
	})
	if err != nil {
		return ExtendResult{}, err
	}
	if opErr != nil {
		return ExtendResult{}, opErr
	}
	return res, nil
}

func (m *MemStore) CommitLocal(ctx context.Context, sku, cartID string) (CommitResult, error) {
	var res CommitResult
	var opErr error
	err := m.submit(ctx, func() {
		key := holdID(cartID, sku)
		h, ok := m.holds[key]
		if !ok {
			opErr = &rerr.NotFoundError{CartID: cartID, SKU: sku}
			return
		}
		inv := m.row(sku)
		inv.reserved -= h.qty
		if inv.reserved < 0 {
			inv.reserved = 0
		}
		delete(m.holds, key)
		m.emit("hold_committed", sku, cartID, h.qty, m.clk.Now().UnixMilli(), "")
		res = CommitResult{ConsumedQty: h.qty}
	})
	if err != nil {
		return CommitResult{}, err
	}
	if opErr != nil {
		return CommitResult{}, opErr
	}
	return res, nil
}

func (m *MemStore) Release(ctx context.Context, sku, cartID, reason string) (ReleaseResult, error) {
	var res ReleaseResult
	err := m.submit(ctx, func() {
		key := holdID(cartID, sku)
		h, ok := m.holds[key]
		if !ok {
			res = ReleaseResult{Absent: true}
			return
		}
		inv := m.row(sku)
		inv.reserved -= h.qty
		if inv.reserved < 0 {
			inv.reserved = 0
		}
		delete(m.holds, key)
		m.emit("hold_released", sku, cartID, h.qty, m.clk.Now().UnixMilli(), reason)
		res = ReleaseResult{ReleasedQty: h.qty}
	})
	if err != nil {
		return ReleaseResult{}, err
	}
	return res, nil
}

func (m *MemStore) Snapshot(ctx context.Context, sku string) (Snapshot, error) {
	var snap Snapshot
	err := m.submit(ctx, func() {
		inv := m.row(sku)
		snap = Snapshot{Total: inv.total, Reserved: inv.reserved, Available: inv.total - inv.reserved}
	})
	return snap, err
}

func (m *MemStore) Events(ctx context.Context, limit int, ascending bool) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []Event
	err := m.submit(ctx, func() {
		n := len(m.events)
		start := n - limit
		if start < 0 {
			start = 0
		}
		window := m.events[start:n]
		out = make([]Event, len(window))
		copy(out, window)
		if !ascending {
			for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
				out[i], out[j] = out[j], out[i]
			}
		}
	})
	return out, err
}

func (m *MemStore) ExpiredBefore(ctx context.Context, nowMS int64, batch int) ([]ExpiredHold, error) {
	if batch <= 0 {
		batch = 128
	}
	var out []ExpiredHold
	err := m.submit(ctx, func() {
		for _, h := range m.holds {
			if h.expiresAtMS <= nowMS {
				out = append(out, ExpiredHold{CartID: h.cartID, SKU: h.sku, ExpiresAtMS: h.expiresAtMS})
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAtMS < out[j].ExpiresAtMS })
		if len(out) > batch {
			out = out[:batch]
		}
	})
	return out, err
}

func (m *MemStore) SeedTotal(ctx context.Context, sku string, total int64) error {
	return m.submit(ctx, func() {
		m.row(sku).total = total
	})
}
