package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyReconciled = errors.New("already reconciled")
	ErrTransientStore    = errors.New("transient store failure")
	ErrVendorUnavailable = errors.New("vendor unavailable")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidTaskID     = errors.New("task id is required")
)

// Retryable reports whether err is a transient failure worth retrying at
// the boundary. InsufficientFunds, NotFound and InvalidTransition surface
// directly to the caller and are never retried.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransientStore) || errors.Is(err, ErrVendorUnavailable)
}
