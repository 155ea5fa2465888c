// Package store defines the persistence contract shared by
// every component that reads or writes durable Transfer, AnchorTx, and
// WatchedAddress state. Concrete implementations live in subpackages
// (postgres).
package store

import "fmt"

// StorageError wraps any failure from the persistence layer that isn't
// a DuplicateKeyError. Callers other than startup schema verification
// treat it as transient: leave the transfer PENDING and retry later.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// DuplicateKeyError signals a unique-constraint violation on insert.
// It is not an error from the caller's perspective: batch inserts
// report it as a count, never abort the batch because of it.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("storage: duplicate key %s", e.Key)
}

// IndexVerificationError is fatal at startup: the required unique
// indexes on coreHash/internalHash could not be created or confirmed.
type IndexVerificationError struct {
	Index string
	Err   error
}

func (e *IndexVerificationError) Error() string {
	return fmt.Sprintf("storage: index verification failed for %s: %v", e.Index, e.Err)
}

func (e *IndexVerificationError) Unwrap() error { return e.Err }

// BatchResult reports the outcome of an idempotent batch insert.
type BatchResult struct {
	Inserted   int
	Duplicates int
}
