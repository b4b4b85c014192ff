package reserveclient

import (
	"context"
	"net/http"
	"time"
)

// AutoExtend runs ExtendOnce periodically until ctx is canceled, the same
// shape as the lock client's heartbeat loop: a buffered error channel that
// closes on exit, transient errors surfaced but not fatal.
func (c *Client) AutoExtend(ctx context.Context, sku, cartID string, opt AutoExtendOptions) <-chan error {
	errCh := make(chan error, 1)

	if opt.Interval <= 0 {
		opt.Interval = 200 * time.Millisecond
	}
	if opt.ExtendBy <= 0 {
		opt.ExtendBy = 500 * time.Millisecond
	}

	go func() {
		defer close(errCh)

		t := time.NewTicker(opt.Interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, err := c.ExtendOnce(ctx, sku, cartID, opt.ExtendBy)
				if err == nil {
					continue
				}
				if se, ok := err.(*UnexpectedStatusError); ok && se.Code == http.StatusNotFound {
					select {
					case errCh <- err:
					default:
					}
					return
				}
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return errCh
}
