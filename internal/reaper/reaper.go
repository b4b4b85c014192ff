// Package reaper periodically sweeps the ACS expiry index and releases
// holds whose TTL has lapsed. It never touches the DSS: an expired hold
// was never committed, so there is nothing to give back to the durable
// total.
package reaper

import (
	"context"
	"time"

	"github.com/invreserve/engine/internal/acs"
	"github.com/invreserve/engine/internal/clock"
	"github.com/invreserve/engine/internal/obs"
)

type Config struct {
	Interval  time.Duration
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 1000 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 128
	}
	return c
}

// Reaper drives the periodic sweep loop.
type Reaper struct {
	store   acs.Store
	clk     clock.Clock
	cfg     Config
	logger  *obs.Logger
	metrics *obs.Metrics
}

func New(store acs.Store, clk clock.Clock, cfg Config, logger *obs.Logger, metrics *obs.Metrics) *Reaper {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Reaper{store: store, clk: clk, cfg: cfg.withDefaults(), logger: logger, metrics: metrics}
}

// Run sweeps once immediately, then on every tick, until ctx is canceled.
// Cancellation is observed between sweeps: a sweep already in progress
// finishes its batch before Run returns.
func (r *Reaper) Run(ctx context.Context) {
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()

	sweepCtx := context.WithoutCancel(ctx)
	r.SweepOnce(sweepCtx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.SweepOnce(sweepCtx)
		}
	}
}

// SweepOnce releases every hold expired as of now, in ascending-expiry
// order, bounded to cfg.BatchSize per call: a SKU under heavy churn must
// not starve out every other SKU's reaper pass.
func (r *Reaper) SweepOnce(ctx context.Context) {
	start := time.Now()
	nowMS := r.clk.Now().UnixMilli()

	expired, err := r.store.ExpiredBefore(ctx, nowMS, r.cfg.BatchSize)
	if err != nil {
		if r.logger != nil {
			r.logger.Error(map[string]interface{}{
				"op": "reaper_sweep", "error": err.Error(),
				"latency_ms": time.Since(start).Milliseconds(),
			})
		}
		if r.metrics != nil {
			r.metrics.ACSErrorsTotal.WithLabelValues("expired_before").Inc()
		}
		return
	}

	var released int64
	for _, h := range expired {
		_, relErr := r.store.Release(ctx, h.SKU, h.CartID, "expired")
		if relErr != nil {
			if r.logger != nil {
				r.logger.Error(map[string]interface{}{
					"op": "reaper_sweep", "sku": h.SKU, "cart_id": h.CartID,
					"error": relErr.Error(),
				})
			}
			if r.metrics != nil {
				r.metrics.ACSErrorsTotal.WithLabelValues("release").Inc()
			}
			continue
		}
		released++
	}

	if r.metrics != nil {
		r.metrics.ExpiredTotal.Add(float64(released))
		r.metrics.ReaperBatchSize.Observe(float64(released))
	}
	if r.logger != nil && (released > 0 || err != nil) {
		r.logger.Info(map[string]interface{}{
			"op": "reaper_sweep", "expired": len(expired), "released": released,
			"latency_ms": time.Since(start).Milliseconds(),
		})
	}
}
