package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/invreserve/engine/internal/acs"
	"github.com/invreserve/engine/internal/clock"
	"github.com/invreserve/engine/internal/dss"
	"github.com/invreserve/engine/internal/engine"
	"github.com/invreserve/engine/internal/rerr"
)

func newEngine(t *testing.T) (*engine.Engine, *acs.MemStore, *dss.MemStore, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Unix(0, 0))
	a := acs.NewMemStore(clk)
	t.Cleanup(a.Close)
	d := dss.NewMemStore()
	e := engine.New(a, d, clk, engine.Config{DefaultHoldTTL: time.Minute}, nil, nil)
	return e, a, d, clk
}

func TestReserveExtendCommitHappyPath(t *testing.T) {
	ctx := context.Background()
	e, a, d, _ := newEngine(t)

	if err := a.SeedTotal(ctx, "sku-1", 10); err != nil {
		t.Fatalf("seed acs: %v", err)
	}
	if err := d.Seed(ctx, "sku-1", 10); err != nil {
		t.Fatalf("seed dss: %v", err)
	}

	rr, err := e.Reserve(ctx, engine.ReserveRequest{SKU: "sku-1", CartID: "cart-a", Qty: 3})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if rr.AvailableAfter != 7 {
		t.Fatalf("expected available_after=7 got %d", rr.AvailableAfter)
	}

	if _, err := e.Extend(ctx, engine.ExtendRequest{SKU: "sku-1", CartID: "cart-a", ExtendBy: 30 * time.Second}); err != nil {
		t.Fatalf("extend: %v", err)
	}

	cr, err := e.Commit(ctx, engine.CommitRequest{SKU: "sku-1", CartID: "cart-a", Qty: 3})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if cr.ConsumedQty != 3 {
		t.Fatalf("expected consumed_qty=3 got %d", cr.ConsumedQty)
	}
	if cr.NewTotal != 7 {
		t.Fatalf("expected new_total=7 got %d", cr.NewTotal)
	}

	total, err := d.Total(ctx, "sku-1")
	if err != nil {
		t.Fatalf("dss total: %v", err)
	}
	if total != 7 {
		t.Fatalf("expected durable total=7 after commit got %d", total)
	}

	snap, err := e.Snapshot(ctx, "sku-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Reserved != 0 {
		t.Fatalf("expected reserved=0 after commit got %d", snap.Reserved)
	}
}

func TestCommitConflictCompensatesWithRelease(t *testing.T) {
	ctx := context.Background()
	e, a, d, _ := newEngine(t)

	_ = a.SeedTotal(ctx, "sku-1", 10)
	_ = d.Seed(ctx, "sku-1", 2) // durable store is behind the ACS mirror

	if _, err := e.Reserve(ctx, engine.ReserveRequest{SKU: "sku-1", CartID: "cart-a", Qty: 5}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	_, err := e.Commit(ctx, engine.CommitRequest{SKU: "sku-1", CartID: "cart-a", Qty: 5})
	if err == nil {
		t.Fatalf("expected conflict committing against insufficient durable total")
	}
	if _, ok := err.(*rerr.ConflictError); !ok {
		t.Fatalf("expected ConflictError got %T: %v", err, err)
	}

	// The hold must have been compensated away: availability is restored
	// and a second commit attempt sees no hold.
	snap, err := e.Snapshot(ctx, "sku-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Reserved != 0 {
		t.Fatalf("expected reserved=0 after compensating release got %d", snap.Reserved)
	}

	// Retrying commit against the still-insufficient durable total fails
	// the same way; the compensating release of an already-absent hold is
	// itself idempotent (acs.Release treats it as absent, not an error).
	if _, err := e.Commit(ctx, engine.CommitRequest{SKU: "sku-1", CartID: "cart-a", Qty: 5}); err == nil {
		t.Fatalf("expected conflict retrying commit against insufficient durable total")
	} else if _, ok := err.(*rerr.ConflictError); !ok {
		t.Fatalf("expected ConflictError got %T: %v", err, err)
	}
}

func TestReleaseIsIdempotentOnAbsentHold(t *testing.T) {
	ctx := context.Background()
	e, _, _, _ := newEngine(t)

	rr, err := e.Release(ctx, engine.ReleaseRequest{SKU: "sku-1", CartID: "cart-ghost"})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if !rr.Absent {
		t.Fatalf("expected absent=true releasing a hold that never existed")
	}
}

func TestReserveInsufficientDoesNotMutateState(t *testing.T) {
	ctx := context.Background()
	e, a, _, _ := newEngine(t)
	_ = a.SeedTotal(ctx, "sku-1", 2)

	if _, err := e.Reserve(ctx, engine.ReserveRequest{SKU: "sku-1", CartID: "cart-a", Qty: 5}); err == nil {
		t.Fatalf("expected insufficient error")
	} else if _, ok := err.(*rerr.InsufficientError); !ok {
		t.Fatalf("expected InsufficientError got %T: %v", err, err)
	}

	snap, err := e.Snapshot(ctx, "sku-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Reserved != 0 {
		t.Fatalf("failed reserve must not create a hold: reserved=%d", snap.Reserved)
	}
}

func TestReserveRejectsBadRequest(t *testing.T) {
	ctx := context.Background()
	e, _, _, _ := newEngine(t)

	if _, err := e.Reserve(ctx, engine.ReserveRequest{SKU: "", CartID: "cart-a", Qty: 1}); err == nil {
		t.Fatalf("expected bad_request for missing sku")
	}
	if _, err := e.Reserve(ctx, engine.ReserveRequest{SKU: "sku-1", CartID: "cart-a", Qty: 0}); err == nil {
		t.Fatalf("expected bad_request for non-positive qty")
	}
}

func TestStrictIDValidationRejectsColon(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Unix(0, 0))
	a := acs.NewMemStore(clk)
	t.Cleanup(a.Close)
	d := dss.NewMemStore()
	_ = a.SeedTotal(ctx, "sku:evil", 10)
	_ = d.Seed(ctx, "sku:evil", 10)
	e := engine.New(a, d, clk, engine.Config{DefaultHoldTTL: time.Minute, StrictIDValidation: true}, nil, nil)

	if _, err := e.Reserve(ctx, engine.ReserveRequest{SKU: "sku:evil", CartID: "cart-a", Qty: 1}); err == nil {
		t.Fatalf("expected bad_request for sku containing ':'")
	} else if _, ok := err.(*rerr.BadRequestError); !ok {
		t.Fatalf("expected BadRequestError got %T: %v", err, err)
	}
	if _, err := e.Reserve(ctx, engine.ReserveRequest{SKU: "sku-1", CartID: "cart:a", Qty: 1}); err == nil {
		t.Fatalf("expected bad_request for cart_id containing ':'")
	}

	e.SetStrictIDValidation(false)
	if _, err := e.Reserve(ctx, engine.ReserveRequest{SKU: "sku:evil", CartID: "cart-a", Qty: 1}); err != nil {
		t.Fatalf("expected validation disabled after SetStrictIDValidation(false), got %v", err)
	}
}
