package index

import "errors"

var (
	// ErrNotIndexed is returned by Load when no index has been published.
	ErrNotIndexed = errors.New("no index has been built")

	// ErrAlignment indicates the vector file does not hold exactly one
	// dim-sized row per manifest path.
	ErrAlignment = errors.New("vector table and path list are misaligned")

	// ErrIndexBusy is returned by Lock when another process holds the index lock.
	ErrIndexBusy = errors.New("index is being built by another process")
)
