package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into coded domain errors:
//   - ErrNotFound: no row for the tenant-scoped key
//   - ErrConflict: optimistic version check failed, nothing was written
//   - ErrAlreadyUsed: unique key (idempotency key, event id) already taken
//   - ErrUnavailable: backing store or log temporarily unreachable
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrAlreadyUsed = errors.New("already used")
	ErrUnavailable = errors.New("unavailable")
)
