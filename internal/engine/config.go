package engine

import "time"

// RetryConfig bounds the backoff the engine applies to the ACS-side
// commit step: it retries the ACS decrement with bounded backoff, and it
// must eventually succeed or the divergence is surfaced for an operator.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (r RetryConfig) withDefaults() RetryConfig {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 5
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = 20 * time.Millisecond
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = 500 * time.Millisecond
	}
	return r
}

func (r RetryConfig) delay(attempt int) time.Duration {
	d := r.BaseDelay << attempt
	if d > r.MaxDelay || d <= 0 {
		d = r.MaxDelay
	}
	return d
}

// Config configures an Engine. DefaultHoldTTL applies when a
// ReserveRequest doesn't specify one. StrictIDValidation, when set,
// rejects any sku or cart_id containing ':' before it reaches the ACS,
// since the ACS encodes hold keys as "{cart_id}:{sku}" and relies on the
// first colon being unambiguous.
type Config struct {
	DefaultHoldTTL     time.Duration
	CommitRetry        RetryConfig
	StrictIDValidation bool
}

func (c Config) withDefaults() Config {
	if c.DefaultHoldTTL <= 0 {
		c.DefaultHoldTTL = 10 * time.Minute
	}
	c.CommitRetry = c.CommitRetry.withDefaults()
	return c
}
