// Command reserveload drives concurrent carts against a running
// reservation-engine instance to exercise contention on a small pool of
// skus: reserve, hold, then commit or release, repeated until the run
// duration elapses. Each sku must already be seeded (reservation-engine
// seed + mirror-once) before the run starts.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/invreserve/engine/pkg/reserveclient"
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:8080", "reservation-engine base URL")
		skuCount   = flag.Int("skus", 5, "number of distinct skus in the contention pool")
		skuTotal   = flag.Int64("sku-total", 100, "total stock per sku, seeded before the run")
		clients    = flag.Int("clients", 50, "number of concurrent simulated carts")
		duration   = flag.Duration("duration", 20*time.Second, "test duration")
		ttl        = flag.Duration("ttl", 2*time.Second, "hold ttl")
		holdDur    = flag.Duration("hold", 30*time.Millisecond, "time spent holding before commit/release")
		commitRate = flag.Float64("commit-rate", 0.7, "probability a hold is committed rather than released")
		qty        = flag.Int64("qty", 1, "quantity reserved per attempt")
	)
	flag.Parse()

	c := reserveclient.New(*baseURL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	skus := make([]string, *skuCount)
	for i := range skus {
		skus[i] = fmt.Sprintf("sku-%d", i)
	}

	var (
		reserveOK      int64
		reserveTimeout int64
		commitOK       int64
		commitConflict int64
		releaseOK      int64
		errCount       int64
	)

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *clients; i++ {
		cartID := fmt.Sprintf("cart-%d", i)
		wg.Add(1)
		go func(cartID string) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(len(cartID))))

			for ctx.Err() == nil {
				sku := skus[r.Intn(len(skus))]

				hold, err := c.ReserveWithRetry(ctx, sku, cartID, *qty, reserveclient.ReserveOptions{
					TTL:          *ttl,
					MaxRetries:   10,
					MaxTotalWait: 2 * time.Second,
				})
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					atomic.AddInt64(&reserveTimeout, 1)
					continue
				}
				atomic.AddInt64(&reserveOK, 1)

				time.Sleep(*holdDur)

				if r.Float64() < *commitRate {
					if _, _, err := c.CommitOnce(ctx, sku, cartID, hold.Qty); err != nil {
						if _, ok := err.(*reserveclient.ConflictError); ok {
							atomic.AddInt64(&commitConflict, 1)
						} else if ctx.Err() == nil {
							atomic.AddInt64(&errCount, 1)
						}
						continue
					}
					atomic.AddInt64(&commitOK, 1)
					continue
				}

				if _, _, err := c.ReleaseOnce(ctx, sku, cartID, "manual"); err != nil {
					if ctx.Err() == nil {
						atomic.AddInt64(&errCount, 1)
					}
					continue
				}
				atomic.AddInt64(&releaseOK, 1)
			}
		}(cartID)
	}

	wg.Wait()
	elapsed := time.Since(start)

	total := reserveOK + reserveTimeout
	rate := float64(total) / elapsed.Seconds()

	fmt.Println("=== reservation-engine contention test ===")
	fmt.Printf("duration: %s, clients: %d, skus: %d (pre-seed each to total=%d)\n",
		elapsed.Round(time.Millisecond), *clients, *skuCount, *skuTotal)
	fmt.Printf("reserve_attempts: %s (%.1f/s)\n", humanize.Comma(total), rate)
	fmt.Printf("reserve_success:  %s\n", humanize.Comma(reserveOK))
	fmt.Printf("reserve_timeout:  %s\n", humanize.Comma(reserveTimeout))
	fmt.Printf("commit_success:   %s\n", humanize.Comma(commitOK))
	fmt.Printf("commit_conflict:  %s\n", humanize.Comma(commitConflict))
	fmt.Printf("release_success:  %s\n", humanize.Comma(releaseOK))
	fmt.Printf("errors:           %s\n", humanize.Comma(errCount))
}
