// Package repository defines error types that are reused across multiple
// repositories. These sentinel values let the service and handler layers
// tell failure scenarios apart with errors.Is, whatever SQL engine sits
// underneath.
package repository

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no row matches. Handlers translate it into
// an HTTP 404 (identities) or 401 (refresh credentials).
var ErrNotFound = errors.New("not found")

// ErrStoreUnavailable wraps every driver failure other than "no rows": the
// authoritative store could not answer. It is fatal to a login.
var ErrStoreUnavailable = errors.New("identity store unavailable")

// ErrConflict signals that an insert lost a uniqueness race. IdentityRepo
// recovers from it internally; it only escapes when retries are exhausted.
var ErrConflict = errors.New("conflict")

// ErrActiveIdentities is returned by ResetSequence while live rows remain.
var ErrActiveIdentities = errors.New("active identities remain")

// ErrInvalidProvider rejects provider names outside model.Providers.
var ErrInvalidProvider = errors.New("invalid provider")

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
