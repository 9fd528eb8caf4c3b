package kv

import "errors"

// ErrKeyNotFound is returned by Get when no value exists for the key.
var ErrKeyNotFound = errors.New("kv: key not found")

// Store is the ordered key-value engine the database is built on.
// Implementations: badgerkv (production, durable), memkv (testing).
//
// A store exposes named partitions: independent, lexicographically
// sorted key namespaces. Keys from one partition never appear in
// another partition's iterators.
type Store interface {
	// Get returns the value stored under key in the given partition,
	// or ErrKeyNotFound.
	Get(part string, key []byte) ([]byte, error)

	// Put stores a single key/value pair.
	Put(part string, key, value []byte) error

	// NewBatch starts a write batch. All puts added to the batch become
	// visible atomically on Commit, even across partitions.
	NewBatch() Batch

	// Snapshot returns a point-in-time read view. Writes committed after
	// the snapshot was taken are not visible through it.
	Snapshot() (Snapshot, error)

	// Flush persists all buffered writes to stable storage.
	Flush() error

	// Close releases the store. No calls are valid afterwards.
	Close() error
}

// Batch is a set of writes applied atomically across partitions.
type Batch interface {
	Put(part string, key, value []byte)

	// Commit applies every buffered write. Either all writes become
	// visible or none do.
	Commit() error

	// Discard drops the batch without applying it. Safe to call after
	// Commit; useful in defer.
	Discard()
}

// Snapshot is a consistent read view over all partitions.
type Snapshot interface {
	Get(part string, key []byte) ([]byte, error)

	// Prefix iterates all keys beginning with prefix, in ascending
	// key order.
	Prefix(part string, prefix []byte) (Iterator, error)

	// Range iterates all keys in [lo, hi] inclusive, in ascending
	// key order.
	Range(part string, lo, hi []byte) (Iterator, error)

	// Close releases the snapshot and any iterators derived from it.
	Close()
}

// Iterator walks keys in ascending order.
//
//	it, err := snap.Prefix(part, prefix)
//	if err != nil { ... }
//	defer it.Close()
//	for it.Next() {
//	    use(it.Key(), it.Value())
//	}
//	if err := it.Err(); err != nil { ... }
//
// Key and Value return slices that remain valid until Close.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close()
}
