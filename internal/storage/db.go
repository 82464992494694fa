// Package storage provides database abstractions.
package storage

import "errors"

// ErrNotFound is returned by Get when the key does not exist. Callers
// (the UTXO store above all) depend on distinguishing "not found" from
// other storage errors, so every DB implementation must return exactly
// this sentinel rather than an implementation-specific wrapped error.
var ErrNotFound = errors.New("storage: key not found")

// DB is the interface for key-value storage. Implementations that also
// support atomic multi-key writes implement Batcher.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batcher is implemented by DBs that support grouping multiple writes
// into a single atomic commit. Block application and reorg rollback
// both need all-or-nothing semantics across many keys.
type Batcher interface {
	NewBatch() Batch
}

// Batch groups Put/Delete operations for a single atomic Commit. A
// Batch is not safe for concurrent use.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}
