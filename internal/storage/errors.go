package storage

import "errors"

var (
	// ErrNotFound reports that nothing exists under the requested key,
	// e.g. no batch was staged for a run.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey rejects a snapshot batch containing a (fetch_time, id)
	// that is already stored or repeated within the batch.
	ErrDuplicateKey = errors.New("duplicate snapshot key: stores are append-only")

	// ErrInvalidInput rejects malformed rows, batches and query arguments.
	ErrInvalidInput = errors.New("invalid input")
)
