package store

import "errors"

// ErrNotFound is wrapped into lookup errors so callers can
// errors.Is(err, store.ErrNotFound) regardless of the entity.
var ErrNotFound = errors.New("not found")
