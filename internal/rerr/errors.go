// Package rerr defines the error taxonomy shared by the ACS, DSS, and
// engine layers: bad_request, insufficient, conflict, not_found,
// unavailable, internal. Each is a distinct type so callers can recover
// structured fields with errors.As instead of matching on a Reason string.
package rerr

import "fmt"

// BadRequestError signals a caller input constraint violation. Never retried.
type BadRequestError struct {
	Msg string
}

func (e *BadRequestError) Error() string { return "bad_request: " + e.Msg }

func BadRequest(format string, args ...interface{}) error {
	return &BadRequestError{Msg: fmt.Sprintf(format, args...)}
}

// InsufficientError signals a reserve denied for lack of stock.
type InsufficientError struct {
	Available int64
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient: available=%d", e.Available)
}

// ConflictError signals an idempotency collision (reserve qty mismatch) or
// a commit race against the durable store.
type ConflictError struct {
	Reason      string
	ExistingQty int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s existing_qty=%d", e.Reason, e.ExistingQty)
}

// NotFoundError signals a missing hold for extend/commit.
type NotFoundError struct {
	CartID string
	SKU    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not_found: cart=%s sku=%s", e.CartID, e.SKU)
}

// UnavailableError signals a transient ACS/DSS I/O failure. The caller may
// retry; the engine does not retry automatically outside the commit step-3
// bounded backoff.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string { return "unavailable: " + e.Err.Error() }
func (e *UnavailableError) Unwrap() error { return e.Err }

func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return &UnavailableError{Err: err}
}

// InternalError signals an invariant violation. The caller should not
// retry; an operator alert is warranted.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string { return "internal: " + e.Msg }

func Internal(format string, args ...interface{}) error {
	return &InternalError{Msg: fmt.Sprintf(format, args...)}
}
