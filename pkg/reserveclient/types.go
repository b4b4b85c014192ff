package reserveclient

import (
	"time"

	"github.com/google/uuid"
)

// NewCartID generates a fresh cart identifier for callers that don't
// already have one of their own (e.g. anonymous checkout sessions).
func NewCartID() string {
	return uuid.NewString()
}

// Hold is what the SDK returns from a successful Reserve.
type Hold struct {
	SKU           string
	CartID        string
	Qty           int64
	HoldID        string
	Idempotent    bool
	ExpiresAtMS   int64
	AvailableLeft int64
}

// ReserveOptions controls the retry wrapper around a single reserve call.
type ReserveOptions struct {
	TTL          time.Duration // required
	MaxRetries   int           // bounded retry on insufficient stock; 0 => default
	MaxTotalWait time.Duration // optional global cap; 0 => no cap
	MinRetry     time.Duration // default 25ms
	MaxRetry     time.Duration // default 1s
	JitterFrac   float64       // default 0.2 (20%)
}

// AutoExtendOptions controls the background extend loop.
type AutoExtendOptions struct {
	Interval time.Duration // default 200ms; typically TTL/3
	ExtendBy time.Duration // default 500ms; typically TTL
}
