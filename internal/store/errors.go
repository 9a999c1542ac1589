package store

import "errors"

// ErrNotFound is returned when no row exists for a path.
var ErrNotFound = errors.New("asset not found")
