// Package reserveclient is a thin SDK over the reservation engine's HTTP
// API: one method per operation, plus a bounded-retry wrapper for Reserve
// and a background AutoExtend loop, in the shape of the lock service's
// own client SDK.
package reserveclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	baseURL string
	http    *http.Client
	rng     *rand.Rand
}

func New(baseURL string, hc *http.Client) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: baseURL,
		http:    hc,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ---- wire format (matches internal/api/http.go) ----

type reserveReq struct {
	SKU    string `json:"sku"`
	CartID string `json:"cart_id"`
	Qty    int64  `json:"qty"`
	TTLMS  int64  `json:"ttl_ms"`
}
type reserveResp struct {
	HoldID         string `json:"hold_id"`
	Idempotent     bool   `json:"idempotent"`
	ExpiresAtMS    int64  `json:"expires_at_ms"`
	AvailableAfter int64  `json:"available_after"`
}

type extendReq struct {
	SKU        string `json:"sku"`
	CartID     string `json:"cart_id"`
	ExtendByMS int64  `json:"extend_by_ms"`
}
type extendResp struct {
	NewExpiresAtMS int64 `json:"new_expires_at_ms"`
}

type commitReq struct {
	SKU    string `json:"sku"`
	CartID string `json:"cart_id"`
	Qty    int64  `json:"qty"`
}
type commitResp struct {
	ConsumedQty int64 `json:"consumed_qty"`
	NewTotal    int64 `json:"new_total"`
}

type releaseReq struct {
	SKU    string `json:"sku"`
	CartID string `json:"cart_id"`
	Reason string `json:"reason,omitempty"`
}
type releaseResp struct {
	Absent      bool  `json:"absent"`
	ReleasedQty int64 `json:"released_qty"`
}

type errResp struct {
	Error string `json:"error"`
}

// ---- low-level operations ----

func (c *Client) ReserveOnce(ctx context.Context, sku, cartID string, qty int64, ttl time.Duration) (Hold, error) {
	if sku == "" || cartID == "" {
		return Hold{}, fmt.Errorf("sku and cartID required")
	}
	if qty <= 0 || ttl <= 0 {
		return Hold{}, fmt.Errorf("qty and ttl must be > 0")
	}

	path := c.baseURL + "/v1/reservations/reserve"
	body := reserveReq{SKU: sku, CartID: cartID, Qty: qty, TTLMS: ttl.Milliseconds()}

	var out reserveResp
	code, raw, err := c.doJSON(ctx, http.MethodPost, path, body, &out)
	if err != nil {
		return Hold{}, err
	}
	switch code {
	case http.StatusOK:
		return Hold{
			SKU: sku, CartID: cartID, Qty: qty,
			HoldID: out.HoldID, Idempotent: out.Idempotent,
			ExpiresAtMS: out.ExpiresAtMS, AvailableLeft: out.AvailableAfter,
		}, nil
	case http.StatusConflict:
		var e errResp
		_ = json.Unmarshal([]byte(raw), &e)
		return Hold{}, classifyConflict(sku, cartID, e.Error)
	default:
		return Hold{}, &UnexpectedStatusError{Method: http.MethodPost, Path: path, Code: code, Body: raw}
	}
}

func (c *Client) ExtendOnce(ctx context.Context, sku, cartID string, extendBy time.Duration) (int64, error) {
	if sku == "" || cartID == "" || extendBy <= 0 {
		return 0, fmt.Errorf("sku, cartID, and extendBy required")
	}
	path := c.baseURL + "/v1/reservations/extend"
	body := extendReq{SKU: sku, CartID: cartID, ExtendByMS: extendBy.Milliseconds()}

	var out extendResp
	code, raw, err := c.doJSON(ctx, http.MethodPost, path, body, &out)
	if err != nil {
		return 0, err
	}
	if code != http.StatusOK {
		return 0, &UnexpectedStatusError{Method: http.MethodPost, Path: path, Code: code, Body: raw}
	}
	return out.NewExpiresAtMS, nil
}

func (c *Client) CommitOnce(ctx context.Context, sku, cartID string, qty int64) (consumedQty, newTotal int64, err error) {
	if sku == "" || cartID == "" || qty <= 0 {
		return 0, 0, fmt.Errorf("sku, cartID, and qty required")
	}
	path := c.baseURL + "/v1/reservations/commit"
	body := commitReq{SKU: sku, CartID: cartID, Qty: qty}

	var out commitResp
	code, raw, err := c.doJSON(ctx, http.MethodPost, path, body, &out)
	if err != nil {
		return 0, 0, err
	}
	switch code {
	case http.StatusOK:
		return out.ConsumedQty, out.NewTotal, nil
	case http.StatusConflict:
		var e errResp
		_ = json.Unmarshal([]byte(raw), &e)
		return 0, 0, classifyConflict(sku, cartID, e.Error)
	default:
		return 0, 0, &UnexpectedStatusError{Method: http.MethodPost, Path: path, Code: code, Body: raw}
	}
}

func (c *Client) ReleaseOnce(ctx context.Context, sku, cartID, reason string) (absent bool, releasedQty int64, err error) {
	if sku == "" || cartID == "" {
		return false, 0, fmt.Errorf("sku and cartID required")
	}
	path := c.baseURL + "/v1/reservations/release"
	body := releaseReq{SKU: sku, CartID: cartID, Reason: reason}

	var out releaseResp
	code, raw, doErr := c.doJSON(ctx, http.MethodPost, path, body, &out)
	if doErr != nil {
		return false, 0, doErr
	}
	if code != http.StatusOK {
		return false, 0, &UnexpectedStatusError{Method: http.MethodPost, Path: path, Code: code, Body: raw}
	}
	return out.Absent, out.ReleasedQty, nil
}

func (c *Client) SnapshotOnce(ctx context.Context, sku string) (total, reserved, available int64, err error) {
	if sku == "" {
		return 0, 0, 0, fmt.Errorf("sku required")
	}
	path := c.baseURL + "/v1/skus/" + sku
	var out struct {
		Total     int64 `json:"total"`
		Reserved  int64 `json:"reserved"`
		Available int64 `json:"available"`
	}
	code, raw, doErr := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	if doErr != nil {
		return 0, 0, 0, doErr
	}
	if code != http.StatusOK {
		return 0, 0, 0, &UnexpectedStatusError{Method: http.MethodGet, Path: path, Code: code, Body: raw}
	}
	return out.Total, out.Reserved, out.Available, nil
}

func classifyConflict(sku, cartID, msg string) error {
	if strings.Contains(msg, "insufficient") {
		e := &InsufficientError{SKU: sku}
		if i := strings.Index(msg, "available="); i >= 0 {
			e.Available, _ = strconv.ParseInt(msg[i+len("available="):], 10, 64)
		}
		return e
	}
	return &ConflictError{SKU: sku, CartID: cartID, Message: msg}
}

// doJSON sends JSON (or nothing, for GET) and optionally decodes a JSON
// response. Returns status code and raw body (trimmed) for debugging.
func (c *Client) doJSON(ctx context.Context, method, url string, req, resp any) (int, string, error) {
	var bodyReader io.Reader
	if req != nil {
		b, err := json.Marshal(req)
		if err != nil {
			return 0, "", err
		}
		bodyReader = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return 0, "", err
	}
	if req != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	rsp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, "", err
	}
	defer rsp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(rsp.Body, 1<<20))
	raw := strings.TrimSpace(string(body))

	if resp != nil && len(body) > 0 {
		_ = json.Unmarshal(body, resp)
	}
	return rsp.StatusCode, raw, nil
}

// ---- retry wrapper ----

// ReserveWithRetry retries ReserveOnce on InsufficientError with
// exponential backoff and jitter, up to opt.MaxRetries or opt.MaxTotalWait.
func (c *Client) ReserveWithRetry(ctx context.Context, sku, cartID string, qty int64, opt ReserveOptions) (Hold, error) {
	if opt.TTL <= 0 {
		return Hold{}, fmt.Errorf("ReserveOptions.TTL required")
	}
	if opt.MaxRetries <= 0 {
		opt.MaxRetries = 20
	}
	if opt.MinRetry <= 0 {
		opt.MinRetry = 25 * time.Millisecond
	}
	if opt.MaxRetry <= 0 {
		opt.MaxRetry = 1 * time.Second
	}
	if opt.JitterFrac <= 0 {
		opt.JitterFrac = 0.2
	}

	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= opt.MaxRetries; attempt++ {
		if opt.MaxTotalWait > 0 && time.Since(start) > opt.MaxTotalWait {
			if lastErr != nil {
				return Hold{}, lastErr
			}
			return Hold{}, context.DeadlineExceeded
		}

		hold, err := c.ReserveOnce(ctx, sku, cartID, qty, opt.TTL)
		if err == nil {
			return hold, nil
		}
		if _, ok := err.(*InsufficientError); !ok {
			return Hold{}, err
		}
		lastErr = err

		sleep := time.Duration(float64(opt.MinRetry) * math.Pow(1.5, float64(attempt)))
		if sleep > opt.MaxRetry {
			sleep = opt.MaxRetry
		}
		sleep = addJitter(c.rng, sleep, opt.JitterFrac)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Hold{}, ctx.Err()
		case <-timer.C:
		}
	}
	return Hold{}, lastErr
}

func addJitter(r *rand.Rand, d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	j := (r.Float64()*2 - 1) * frac
	out := time.Duration(float64(d) * (1 + j))
	if out < 0 {
		return 0
	}
	return out
}
