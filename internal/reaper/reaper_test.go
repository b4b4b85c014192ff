package reaper_test

import (
	"context"
	"testing"
	"time"

	"github.com/invreserve/engine/internal/acs"
	"github.com/invreserve/engine/internal/clock"
	"github.com/invreserve/engine/internal/reaper"
)

func TestSweepOnceReleasesOnlyExpiredHolds(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Unix(0, 0))
	store := acs.NewMemStore(clk)
	t.Cleanup(store.Close)

	if err := store.SeedTotal(ctx, "sku-1", 10); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := store.Reserve(ctx, "sku-1", "cart-short", 2, 1_000, clk.Now().UnixMilli()); err != nil {
		t.Fatalf("reserve short: %v", err)
	}
	if _, err := store.Reserve(ctx, "sku-1", "cart-long", 3, 10_000, clk.Now().UnixMilli()); err != nil {
		t.Fatalf("reserve long: %v", err)
	}

	r := reaper.New(store, clk, reaper.Config{BatchSize: 10}, nil, nil)

	clk.Advance(2 * time.Second)
	r.SweepOnce(ctx)

	snap, err := store.Snapshot(ctx, "sku-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Reserved != 3 {
		t.Fatalf("expected only the short hold reaped, reserved should be 3 got %d", snap.Reserved)
	}

	clk.Advance(10 * time.Second)
	r.SweepOnce(ctx)

	snap, err = store.Snapshot(ctx, "sku-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Reserved != 0 {
		t.Fatalf("expected both holds reaped, reserved should be 0 got %d", snap.Reserved)
	}
}

func TestSweepOnceRespectsBatchSize(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Unix(0, 0))
	store := acs.NewMemStore(clk)
	t.Cleanup(store.Close)

	_ = store.SeedTotal(ctx, "sku-1", 100)
	for i := 0; i < 10; i++ {
		cart := "cart-" + string(rune('a'+i))
		if _, err := store.Reserve(ctx, "sku-1", cart, 1, 1_000, clk.Now().UnixMilli()); err != nil {
			t.Fatalf("reserve %s: %v", cart, err)
		}
	}

	r := reaper.New(store, clk, reaper.Config{BatchSize: 4}, nil, nil)
	clk.Advance(2 * time.Second)
	r.SweepOnce(ctx)

	snap, err := store.Snapshot(ctx, "sku-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Reserved != 6 {
		t.Fatalf("expected 4 holds reaped per batch, reserved should be 6 got %d", snap.Reserved)
	}
}
