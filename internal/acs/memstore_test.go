package acs_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/invreserve/engine/internal/acs"
	"github.com/invreserve/engine/internal/clock"
	"github.com/invreserve/engine/internal/rerr"
)

func newStore(t *testing.T) *acs.MemStore {
	t.Helper()
	s := acs.NewMemStore(clock.Real{})
	t.Cleanup(s.Close)
	return s
}

func TestReserveThenInsufficient(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	if err := s.SeedTotal(ctx, "sku-1", 10); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := s.Reserve(ctx, "sku-1", "cart-a", 7, 60_000, 1_000)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.AvailableAfter != 3 {
		t.Fatalf("expected available_after=3 got %d", res.AvailableAfter)
	}

	if _, err := s.Reserve(ctx, "sku-1", "cart-b", 4, 60_000, 1_000); err == nil {
		t.Fatalf("expected insufficient error")
	} else if _, ok := err.(*rerr.InsufficientError); !ok {
		t.Fatalf("expected InsufficientError got %T: %v", err, err)
	}
}

func TestReserveIdempotentReplaySameQty(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_ = s.SeedTotal(ctx, "sku-1", 10)

	first, err := s.Reserve(ctx, "sku-1", "cart-a", 5, 60_000, 1_000)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if first.Idempotent {
		t.Fatalf("first reserve should not be idempotent")
	}

	second, err := s.Reserve(ctx, "sku-1", "cart-a", 5, 60_000, 2_000)
	if err != nil {
		t.Fatalf("replay reserve: %v", err)
	}
	if !second.Idempotent {
		t.Fatalf("replay with same qty must be idempotent")
	}
	if second.ExpiresAtMS <= first.ExpiresAtMS {
		t.Fatalf("replay should refresh expiry: first=%d second=%d", first.ExpiresAtMS, second.ExpiresAtMS)
	}

	snap, err := s.Snapshot(ctx, "sku-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Reserved != 5 {
		t.Fatalf("replay must not double-reserve: reserved=%d", snap.Reserved)
	}
}

func TestReserveReplayDifferentQtyIsConflict(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_ = s.SeedTotal(ctx, "sku-1", 10)

	if _, err := s.Reserve(ctx, "sku-1", "cart-a", 5, 60_000, 1_000); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	_, err := s.Reserve(ctx, "sku-1", "cart-a", 6, 60_000, 1_500)
	if err == nil {
		t.Fatalf("expected conflict on mismatched replay qty")
	}
	ce, ok := err.(*rerr.ConflictError)
	if !ok {
		t.Fatalf("expected ConflictError got %T: %v", err, err)
	}
	if ce.ExistingQty != 5 {
		t.Fatalf("expected existing_qty=5 got %d", ce.ExistingQty)
	}
}

func TestExtendUnknownHoldIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Extend(ctx, "sku-1", "cart-missing", 30_000, 1_000)
	if _, ok := err.(*rerr.NotFoundError); !ok {
		t.Fatalf("expected NotFoundError got %T: %v", err, err)
	}
}

func TestCommitLocalFreesReservedNotTotal(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_ = s.SeedTotal(ctx, "sku-1", 10)

	if _, err := s.Reserve(ctx, "sku-1", "cart-a", 4, 60_000, 1_000); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	cr, err := s.CommitLocal(ctx, "sku-1", "cart-a")
	if err != nil {
		t.Fatalf("commit_local: %v", err)
	}
	if cr.ConsumedQty != 4 {
		t.Fatalf("expected consumed_qty=4 got %d", cr.ConsumedQty)
	}

	snap, err := s.Snapshot(ctx, "sku-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Reserved != 0 {
		t.Fatalf("expected reserved=0 after commit_local got %d", snap.Reserved)
	}
	if snap.Total != 10 {
		t.Fatalf("commit_local must not touch total; got %d", snap.Total)
	}

	// A second commit_local on the same hold is not_found (already freed).
	if _, err := s.CommitLocal(ctx, "sku-1", "cart-a"); err == nil {
		t.Fatalf("expected not_found on repeat commit_local")
	}
}

func TestReleaseOnAbsentHoldIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	rr, err := s.Release(ctx, "sku-1", "cart-a", "manual")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if !rr.Absent {
		t.Fatalf("expected absent=true for release of unknown hold")
	}
}

func TestReleaseRestoresAvailability(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_ = s.SeedTotal(ctx, "sku-1", 10)

	if _, err := s.Reserve(ctx, "sku-1", "cart-a", 6, 60_000, 1_000); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	rr, err := s.Release(ctx, "sku-1", "cart-a", "manual")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if rr.Absent || rr.ReleasedQty != 6 {
		t.Fatalf("unexpected release result: %+v", rr)
	}

	snap, err := s.Snapshot(ctx, "sku-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Available != 10 {
		t.Fatalf("expected full availability restored got %d", snap.Available)
	}
}

func TestExpiredBeforeOrdersByExpiryAscending(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_ = s.SeedTotal(ctx, "sku-1", 100)

	if _, err := s.Reserve(ctx, "sku-1", "cart-late", 1, 5_000, 1_000); err != nil {
		t.Fatalf("reserve late: %v", err)
	}
	if _, err := s.Reserve(ctx, "sku-1", "cart-early", 1, 1_000, 1_000); err != nil {
		t.Fatalf("reserve early: %v", err)
	}

	expired, err := s.ExpiredBefore(ctx, 10_000, 10)
	if err != nil {
		t.Fatalf("expired_before: %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("expected 2 expired holds got %d", len(expired))
	}
	if expired[0].CartID != "cart-early" {
		t.Fatalf("expected cart-early first, got %q", expired[0].CartID)
	}
}

func TestEventsOrdering(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_ = s.SeedTotal(ctx, "sku-1", 10)

	if _, err := s.Reserve(ctx, "sku-1", "cart-a", 2, 60_000, 1_000); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := s.CommitLocal(ctx, "sku-1", "cart-a"); err != nil {
		t.Fatalf("commit_local: %v", err)
	}

	desc, err := s.Events(ctx, 10, false)
	if err != nil {
		t.Fatalf("events desc: %v", err)
	}
	if len(desc) != 2 || desc[0].Kind != "hold_committed" {
		t.Fatalf("expected newest-first [hold_committed, hold_created] got %+v", desc)
	}

	asc, err := s.Events(ctx, 10, true)
	if err != nil {
		t.Fatalf("events asc: %v", err)
	}
	if len(asc) != 2 || asc[0].Kind != "hold_created" {
		t.Fatalf("expected oldest-first [hold_created, hold_committed] got %+v", asc)
	}
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_ = s.SeedTotal(ctx, "sku-1", 50)

	const carts = 200
	results := make(chan error, carts)
	for i := 0; i < carts; i++ {
		i := i
		go func() {
			_, err := s.Reserve(ctx, "sku-1", cartName(i), 1, 30_000, 1_000)
			results <- err
		}()
	}

	var ok, insufficient int
	for i := 0; i < carts; i++ {
		err := <-results
		switch err.(type) {
		case nil:
			ok++
		case *rerr.InsufficientError:
			insufficient++
		default:
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
	}
	if ok != 50 {
		t.Fatalf("expected exactly 50 successful reserves, got %d (insufficient=%d)", ok, insufficient)
	}

	snap, err := s.Snapshot(ctx, "sku-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Reserved != 50 {
		t.Fatalf("oversell detected: reserved=%d want 50", snap.Reserved)
	}
}

func cartName(i int) string {
	return "cart-" + strconv.Itoa(i)
}
