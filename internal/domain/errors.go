package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrOrderNotFound       = errors.New("order_not_found")
	ErrOrderNotCancellable = errors.New("order_not_cancellable")
	ErrDuplicateOrder      = errors.New("duplicate_order")
	ErrInstrumentNotFound  = errors.New("instrument_not_found")
	ErrEngineStopped       = errors.New("engine_stopped")
	ErrSnapshotNotFound    = errors.New("snapshot_not_found")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// PersistenceError wraps a failed durable write or read made on behalf of
// an order.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence: " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// InternalError signals a broken invariant inside the engine.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string {
	return "internal: " + e.Message
}

// IsClientFault reports whether err was caused by the caller (bad input,
// unknown or non-cancellable order) rather than by the server.
func IsClientFault(err error) bool {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return true
	}
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrOrderNotCancellable) ||
		errors.Is(err, ErrDuplicateOrder) ||
		errors.Is(err, ErrInstrumentNotFound) ||
		errors.Is(err, ErrSnapshotNotFound)
}
