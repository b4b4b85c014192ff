package reserveclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/invreserve/engine/internal/acs"
	"github.com/invreserve/engine/internal/api"
	"github.com/invreserve/engine/internal/clock"
	"github.com/invreserve/engine/internal/dss"
	"github.com/invreserve/engine/internal/engine"
)

func newTestServer(t *testing.T, sku string, total int64) (*httptest.Server, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Unix(1700000000, 0))
	a := acs.NewMemStore(clk)
	d := dss.NewMemStore()
	if err := a.SeedTotal(context.Background(), sku, total); err != nil {
		t.Fatalf("seed acs: %v", err)
	}
	if err := d.Seed(context.Background(), sku, total); err != nil {
		t.Fatalf("seed dss: %v", err)
	}
	eng := engine.New(a, d, clk, engine.Config{}, nil, nil)
	srv := httptest.NewServer(api.NewServer(eng).Handler())
	t.Cleanup(srv.Close)
	return srv, clk
}

func TestReserveExtendCommitRelease_RoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, "sku-1", 10)
	c := New(srv.URL, &http.Client{Timeout: 2 * time.Second})
	ctx := context.Background()

	hold, err := c.ReserveOnce(ctx, "sku-1", "cart-1", 3, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if hold.AvailableLeft != 7 {
		t.Fatalf("expected 7 available, got %d", hold.AvailableLeft)
	}

	newExpiry, err := c.ExtendOnce(ctx, "sku-1", "cart-1", time.Second)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if newExpiry <= hold.ExpiresAtMS {
		t.Fatalf("expected extended expiry past %d, got %d", hold.ExpiresAtMS, newExpiry)
	}

	consumed, newTotal, err := c.CommitOnce(ctx, "sku-1", "cart-1", 3)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if consumed != 3 {
		t.Fatalf("expected consumed=3, got %d", consumed)
	}
	if newTotal != 7 {
		t.Fatalf("expected new_total=7, got %d", newTotal)
	}

	total, reserved, available, err := c.SnapshotOnce(ctx, "sku-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if total != 7 || reserved != 0 || available != 7 {
		t.Fatalf("unexpected snapshot after commit: total=%d reserved=%d available=%d", total, reserved, available)
	}

	// Releasing an already-committed hold is an idempotent no-op.
	absent, releasedQty, err := c.ReleaseOnce(ctx, "sku-1", "cart-1", "manual")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if !absent || releasedQty != 0 {
		t.Fatalf("expected absent release, got absent=%v qty=%d", absent, releasedQty)
	}
}

func TestReserveWithRetry_SucceedsAfterInsufficientStock(t *testing.T) {
	srv, _ := newTestServer(t, "sku-2", 5)
	c := New(srv.URL, &http.Client{Timeout: 2 * time.Second})
	ctx := context.Background()

	// Hold back all the stock under a different cart so the first few
	// retry attempts see insufficient stock, then free it up.
	if _, err := c.ReserveOnce(ctx, "sku-2", "blocker", 5, 200*time.Millisecond); err != nil {
		t.Fatalf("blocker reserve: %v", err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		if _, _, err := c.ReleaseOnce(context.Background(), "sku-2", "blocker", "manual"); err != nil {
			t.Errorf("blocker release: %v", err)
		}
	}()

	hold, err := c.ReserveWithRetry(ctx, "sku-2", "cart-2", 5, ReserveOptions{
		TTL:          time.Second,
		MaxRetries:   20,
		MaxTotalWait: 2 * time.Second,
		MinRetry:     5 * time.Millisecond,
		MaxRetry:     20 * time.Millisecond,
		JitterFrac:   0,
	})
	if err != nil {
		t.Fatalf("expected eventual success, got err=%v", err)
	}
	if hold.CartID != "cart-2" || hold.Qty != 5 {
		t.Fatalf("unexpected hold: %+v", hold)
	}
}

func TestReserveOnce_ReplayWithDifferentQtyIsConflict(t *testing.T) {
	srv, _ := newTestServer(t, "sku-3", 10)
	c := New(srv.URL, &http.Client{Timeout: 2 * time.Second})
	ctx := context.Background()

	if _, err := c.ReserveOnce(ctx, "sku-3", "cart-3", 2, time.Second); err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	_, err := c.ReserveOnce(ctx, "sku-3", "cart-3", 4, time.Second)
	if err == nil {
		t.Fatal("expected conflict on qty mismatch replay")
	}
	if _, ok := err.(*ConflictError); !ok {
		t.Fatalf("expected *ConflictError, got %T: %v", err, err)
	}
}

func TestAutoExtend_StopsOnContextCancel(t *testing.T) {
	srv, _ := newTestServer(t, "sku-4", 10)
	c := New(srv.URL, &http.Client{Timeout: 2 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := c.ReserveOnce(ctx, "sku-4", "cart-4", 1, 2*time.Second); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	errCh := c.AutoExtend(ctx, "sku-4", "cart-4", AutoExtendOptions{
		Interval: 10 * time.Millisecond,
		ExtendBy: 2 * time.Second,
	})

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			t.Fatalf("unexpected error before close: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected AutoExtend's error channel to close after cancel")
	}
}
