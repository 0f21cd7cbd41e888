// Package store persists the engine's collections: accounts, triggers,
// price samples and average sets live in a badger key-value database;
// the append-only trade log and per-account metrics counters live in
// sqlite.
package store

import "errors"

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrVersionConflict is returned by a conditional put whose
	// expected version no longer matches the stored record. Callers
	// must treat it as retryable, never overwrite.
	ErrVersionConflict = errors.New("store: version conflict")
)
