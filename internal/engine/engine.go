// Package engine orchestrates the two-store commit protocol on top of
// the Atomic Counter Store (internal/acs) and Durable Stock Store
// (internal/dss). It owns no state of its own.
package engine

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/invreserve/engine/internal/acs"
	"github.com/invreserve/engine/internal/clock"
	"github.com/invreserve/engine/internal/dss"
	"github.com/invreserve/engine/internal/obs"
	"github.com/invreserve/engine/internal/rerr"
)

type Engine struct {
	acs      acs.Store
	dss      dss.DurableStock
	clk      clock.Clock
	cfg      Config
	strictID atomic.Bool
	logger   *obs.Logger
	metrics  *obs.Metrics
}

func New(acsStore acs.Store, dssStore dss.DurableStock, clk clock.Clock, cfg Config, logger *obs.Logger, metrics *obs.Metrics) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	e := &Engine{
		acs:     acsStore,
		dss:     dssStore,
		clk:     clk,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: metrics,
	}
	e.strictID.Store(cfg.StrictIDValidation)
	return e
}

// SetStrictIDValidation updates strict id validation in place, so a
// config hot-reload can flip it without restarting the process.
func (e *Engine) SetStrictIDValidation(on bool) {
	e.strictID.Store(on)
}

func (e *Engine) now(reqNow time.Time) time.Time {
	if !reqNow.IsZero() {
		return reqNow
	}
	return e.clk.Now()
}

func (e *Engine) observeLatency(op string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.OpLatencyMS.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
}

// validateID rejects a sku or cart_id containing ':' when strict
// validation is on. The ACS hold key is "{cart_id}:{sku}"; an id carrying
// its own colon would make that encoding ambiguous to decode.
func (e *Engine) validateID(field, v string) error {
	if e.strictID.Load() && strings.Contains(v, ":") {
		return rerr.BadRequest("%s must not contain ':'", field)
	}
	return nil
}

func (e *Engine) validateIDs(sku, cartID string) error {
	if err := e.validateID("sku", sku); err != nil {
		return err
	}
	return e.validateID("cart_id", cartID)
}

func resultLabel(err error) string {
	switch err.(type) {
	case nil:
		return "success"
	case *rerr.ConflictError:
		return "conflict"
	case *rerr.InsufficientError:
		return "insufficient"
	case *rerr.NotFoundError:
		return "not_found"
	case *rerr.UnavailableError:
		return "unavailable"
	default:
		return "internal"
	}
}

func (e *Engine) Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error) {
	if req.SKU == "" || req.CartID == "" {
		return ReserveResult{}, rerr.BadRequest("sku and cart_id are required")
	}
	if err := e.validateIDs(req.SKU, req.CartID); err != nil {
		return ReserveResult{}, err
	}
	if req.Qty <= 0 {
		return ReserveResult{}, rerr.BadRequest("qty must be > 0")
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = e.cfg.DefaultHoldTTL
	}

	start := time.Now()
	now := e.now(req.Now)

	res, err := e.acs.Reserve(ctx, req.SKU, req.CartID, req.Qty, ttl.Milliseconds(), now.UnixMilli())

	if e.metrics != nil {
		label := resultLabel(err)
		if err == nil && res.Idempotent {
			label = "idempotent"
		}
		e.metrics.ReserveTotal.WithLabelValues(label).Inc()
	}
	e.observeLatency("reserve", start)
	e.logOp("reserve", map[string]interface{}{
		"sku": req.SKU, "cart_id": req.CartID, "qty": req.Qty,
	}, err, start)

	if err != nil {
		return ReserveResult{}, err
	}
	return ReserveResult{
		HoldID:         res.HoldID,
		Idempotent:     res.Idempotent,
		ExpiresAt:      time.UnixMilli(res.ExpiresAtMS).UTC(),
		AvailableAfter: res.AvailableAfter,
	}, nil
}

func (e *Engine) Extend(ctx context.Context, req ExtendRequest) (ExtendResult, error) {
	if req.SKU == "" || req.CartID == "" {
		return ExtendResult{}, rerr.BadRequest("sku and cart_id are required")
	}
	if err := e.validateIDs(req.SKU, req.CartID); err != nil {
		return ExtendResult{}, err
	}
	if req.ExtendBy <= 0 {
		return ExtendResult{}, rerr.BadRequest("extend_by must be > 0")
	}

	start := time.Now()
	now := e.now(req.Now)

	res, err := e.acs.Extend(ctx, req.SKU, req.CartID, req.ExtendBy.Milliseconds(), now.UnixMilli())

	if e.metrics != nil {
		e.metrics.ExtendTotal.WithLabelValues(resultLabel(err)).Inc()
	}
	e.observeLatency("extend", start)
	e.logOp("extend", map[string]interface{}{"sku": req.SKU, "cart_id": req.CartID}, err, start)

	if err != nil {
		return ExtendResult{}, err
	}
	return ExtendResult{NewExpiresAt: time.UnixMilli(res.NewExpiresAtMS).UTC()}, nil
}

// Commit implements the DSS-first, ACS-second protocol:
//  1. Decrement the durable total. A conflict here means the sku doesn't
//     have enough authoritative stock; the hold is compensated away with an
//     ACS release so it doesn't linger as phantom reserved capacity.
//  2. Finalize the hold in the ACS, retrying with bounded backoff on
//     transient ACS failures. A not_found here means the reaper already
//     expired/released the hold between steps 1 and 2; since the DSS
//     decrement already happened, that is the correct end state, not an
//     error, so it is folded into success.
func (e *Engine) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	if req.SKU == "" || req.CartID == "" {
		return CommitResult{}, rerr.BadRequest("sku and cart_id are required")
	}
	if err := e.validateIDs(req.SKU, req.CartID); err != nil {
		return CommitResult{}, err
	}
	if req.Qty <= 0 {
		return CommitResult{}, rerr.BadRequest("qty must be > 0")
	}

	start := time.Now()
	var finalErr error
	defer func() {
		if e.metrics != nil {
			e.metrics.CommitTotal.WithLabelValues(resultLabel(finalErr)).Inc()
		}
		e.observeLatency("commit", start)
		e.logOp("commit", map[string]interface{}{"sku": req.SKU, "cart_id": req.CartID, "qty": req.Qty}, finalErr, start)
	}()

	newTotal, err := e.dss.ConditionalDecrement(ctx, req.SKU, req.Qty)
	if err != nil {
		if _, ok := err.(*rerr.ConflictError); ok {
			if _, relErr := e.acs.Release(ctx, req.SKU, req.CartID, "dss_conflict"); relErr != nil && e.logger != nil {
				e.logger.Warn(map[string]interface{}{
					"op": "commit", "sku": req.SKU, "cart_id": req.CartID,
					"msg": "compensating release failed", "error": relErr.Error(),
				})
			}
		}
		finalErr = err
		return CommitResult{}, err
	}

	var consumed int64
	cfg := e.cfg.CommitRetry
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		cr, err := e.acs.CommitLocal(ctx, req.SKU, req.CartID)
		if err == nil {
			consumed = cr.ConsumedQty
			break
		}
		if _, ok := err.(*rerr.NotFoundError); ok {
			consumed = req.Qty
			break
		}
		if _, ok := err.(*rerr.UnavailableError); !ok {
			finalErr = err
			return CommitResult{}, err
		}
		if attempt == cfg.MaxAttempts-1 {
			if e.metrics != nil {
				e.metrics.DivergenceTotal.Inc()
			}
			finalErr = err
			return CommitResult{}, rerr.Internal("commit: acs step diverged from dss after %d attempts: %v", cfg.MaxAttempts, err)
		}
		select {
		case <-time.After(cfg.delay(attempt)):
		case <-ctx.Done():
			finalErr = rerr.Unavailable(ctx.Err())
			return CommitResult{}, finalErr
		}
	}

	return CommitResult{ConsumedQty: consumed, NewTotal: newTotal}, nil
}

func (e *Engine) Release(ctx context.Context, req ReleaseRequest) (ReleaseResult, error) {
	if req.SKU == "" || req.CartID == "" {
		return ReleaseResult{}, rerr.BadRequest("sku and cart_id are required")
	}
	if err := e.validateIDs(req.SKU, req.CartID); err != nil {
		return ReleaseResult{}, err
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual"
	}

	start := time.Now()
	res, err := e.acs.Release(ctx, req.SKU, req.CartID, reason)

	if e.metrics != nil {
		label := resultLabel(err)
		if err == nil && res.Absent {
			label = "absent"
		}
		e.metrics.ReleaseTotal.WithLabelValues(label).Inc()
	}
	e.observeLatency("release", start)
	e.logOp("release", map[string]interface{}{"sku": req.SKU, "cart_id": req.CartID, "reason": reason}, err, start)

	if err != nil {
		return ReleaseResult{}, err
	}
	return ReleaseResult{Absent: res.Absent, ReleasedQty: res.ReleasedQty}, nil
}

func (e *Engine) Snapshot(ctx context.Context, sku string) (Snapshot, error) {
	if sku == "" {
		return Snapshot{}, rerr.BadRequest("sku is required")
	}
	start := time.Now()
	snap, err := e.acs.Snapshot(ctx, sku)
	e.observeLatency("snapshot", start)
	e.logOp("snapshot", map[string]interface{}{"sku": sku}, err, start)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Total: snap.Total, Reserved: snap.Reserved, Available: snap.Available}, nil
}

func (e *Engine) Events(ctx context.Context, limit int, ascending bool) ([]Event, error) {
	evs, err := e.acs.Events(ctx, limit, ascending)
	if err != nil {
		return nil, err
	}
	out := make([]Event, len(evs))
	for i, ev := range evs {
		out[i] = Event{
			ID: ev.ID, At: time.UnixMilli(ev.TSms).UTC(), Kind: ev.Kind,
			SKU: ev.SKU, CartID: ev.CartID, Qty: ev.Qty, Reason: ev.Reason,
		}
	}
	return out, nil
}

func (e *Engine) logOp(op string, fields map[string]interface{}, err error, start time.Time) {
	if e.logger == nil {
		return
	}
	fields["op"] = op
	fields["latency_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		e.logger.Error(fields)
		return
	}
	e.logger.Info(fields)
}
