package reserveclient

import "fmt"

// InsufficientError mirrors the server's insufficient-stock response so
// retry wrappers can distinguish it from a hard failure.
type InsufficientError struct {
	SKU       string
	Available int64
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient stock: sku=%s available=%d", e.SKU, e.Available)
}

// ConflictError mirrors a qty-mismatch replay or a commit-time DSS conflict.
type ConflictError struct {
	SKU     string
	CartID  string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: sku=%s cart_id=%s %s", e.SKU, e.CartID, e.Message)
}

type UnexpectedStatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s %s -> %d body=%q", e.Method, e.Path, e.Code, e.Body)
}
