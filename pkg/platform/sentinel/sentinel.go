package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and services translate them into coded domain errors:
//   - ErrNotFound: the record does not exist
//   - ErrAlreadyExists: a record with the same key is already stored
//   - ErrConflict: the write collides with another record (e.g. a wallet bound elsewhere)
//   - ErrContention: optimistic concurrency gave up after repeated collisions
//   - ErrInvalidState: the record is in the wrong state for the mutation
//   - ErrUnavailable: the backend could not be reached
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
	ErrContention    = errors.New("contention")
	ErrInvalidState  = errors.New("invalid state")
	ErrUnavailable   = errors.New("unavailable")
)
