package dss_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/invreserve/engine/internal/dss"
	"github.com/invreserve/engine/internal/rerr"
)

func TestSQLiteConditionalDecrement(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := context.Background()

	store, err := dss.OpenSQLite(ctx, dss.SQLiteConfig{Path: filepath.Join(tmpDir, "dss_test.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Seed(ctx, "sku-1", 10); err != nil {
		t.Fatalf("seed: %v", err)
	}

	newTotal, err := store.ConditionalDecrement(ctx, "sku-1", 4)
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if newTotal != 6 {
		t.Fatalf("expected total=6 got %d", newTotal)
	}

	if _, err := store.ConditionalDecrement(ctx, "sku-1", 100); err == nil {
		t.Fatalf("expected conflict decrementing past total")
	} else if ce, ok := err.(*rerr.ConflictError); !ok {
		t.Fatalf("expected ConflictError got %T: %v", err, err)
	} else if ce.ExistingQty != 6 {
		t.Fatalf("expected observed total=6 got %d", ce.ExistingQty)
	}

	total, err := store.Total(ctx, "sku-1")
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total != 6 {
		t.Fatalf("failed decrement must not change total: got %d", total)
	}
}

func TestSQLiteTotalUnseededSKUIsZero(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := context.Background()

	store, err := dss.OpenSQLite(ctx, dss.SQLiteConfig{Path: filepath.Join(tmpDir, "dss_test2.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	total, err := store.Total(ctx, "sku-never-seeded")
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected 0 for unseeded sku got %d", total)
	}
}

func TestMemStoreConditionalDecrement(t *testing.T) {
	ctx := context.Background()
	store := dss.NewMemStore()

	if err := store.Seed(ctx, "sku-1", 5); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.ConditionalDecrement(ctx, "sku-1", 5); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if _, err := store.ConditionalDecrement(ctx, "sku-1", 1); err == nil {
		t.Fatalf("expected conflict: total already at 0")
	}
}
