package models

import "errors"

var (
	// ErrNotFound covers absent and soft-deleted contracts, events, batches and files.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when an operation is attempted out of the
	// PENDING -> SIGNED -> EXECUTING -> COMPLETED|FAILED order.
	ErrInvalidState = errors.New("invalid state")

	ErrNoBatches = errors.New("event has no batches")

	// ErrConcurrencyConflict means a conditional write lost a race. Callers inside this
	// module retry it; it only escapes once the retry budget is spent.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidInput rejects malformed batches, signatures, hashes and status values.
	ErrInvalidInput = errors.New("invalid input")
)
