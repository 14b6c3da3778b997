package persist

import "errors"

// Sentinel errors for persistent store operations.
var (
	// ErrNotFound is returned when a key does not exist in the store.
	ErrNotFound = errors.New("persist: record not found")

	// ErrClosed is returned when an operation is attempted on a closed store.
	ErrClosed = errors.New("persist: closed")

	// ErrTooLarge is returned when a single record is bigger than the
	// store's size budget.
	ErrTooLarge = errors.New("persist: record exceeds max size")

	// ErrInvalidConfig is returned when a backend is constructed with
	// missing or inconsistent settings.
	ErrInvalidConfig = errors.New("persist: invalid configuration")

	// ErrEncode is returned when a record cannot be serialized.
	ErrEncode = errors.New("persist: failed to encode record")

	// ErrDecode is returned when a stored record cannot be deserialized.
	ErrDecode = errors.New("persist: failed to decode record")

	// ErrHealthcheckFailed is returned when a backend does not answer a ping.
	ErrHealthcheckFailed = errors.New("persist: healthcheck failed")
)
