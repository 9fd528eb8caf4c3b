// Package badgerkv implements the kv.Store contract on BadgerDB.
package badgerkv

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/talnadb/talna/pkg/kv"
)

// Partitions share one Badger keyspace. A physical key is the partition
// name, a 0x00 separator, then the logical key. Partition names never
// contain 0x00, so no partition's keys can prefix another's.
const sep = byte(0x00)

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files.
	Path string

	// InMemory mode (for testing).
	InMemory bool

	// CacheMiB is Badger's memory budget in MiB (0 = 64 MiB). Each of
	// up to three memtables and the block cache are sized at a third of
	// it and the index cache at a sixth, so together they can reach 1.5x
	// the budget.
	CacheMiB int64
}

// Store implements kv.Store using BadgerDB.
type Store struct {
	db *badger.DB
}

// Open opens (creating if necessary) a Badger-backed store.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	cacheMiB := cfg.CacheMiB
	if cacheMiB <= 0 {
		cacheMiB = 64
	}
	budget := cacheMiB << 20

	// Badger has several independently growing memory consumers; without
	// explicit caps it can use an order of magnitude more than the
	// memtable size suggests.
	memTableSize := budget / 3

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize).
		WithIndexCacheSize(memTableSize / 2).
		WithValueThreshold(1024).
		WithValueLogFileSize(64 << 20).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying Badger handle for maintenance tasks
// (value log GC, size accounting).
func (s *Store) DB() *badger.DB { return s.db }

func physKey(part string, key []byte) []byte {
	k := make([]byte, 0, len(part)+1+len(key))
	k = append(k, part...)
	k = append(k, sep)
	return append(k, key...)
}

func physPrefix(part string, prefix []byte) []byte {
	return physKey(part, prefix)
}

// Get returns the value under key, or kv.ErrKeyNotFound.
func (s *Store) Get(part string, key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(physKey(part, key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, kv.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Put stores a single key/value pair.
func (s *Store) Put(part string, key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(physKey(part, key), value)
	})
}

// NewBatch starts an atomic write batch.
func (s *Store) NewBatch() kv.Batch {
	return &batch{db: s.db}
}

// Snapshot returns a point-in-time read view backed by a read-only
// Badger transaction.
func (s *Store) Snapshot() (kv.Snapshot, error) {
	return &snapshot{txn: s.db.NewTransaction(false)}, nil
}

// Flush fsyncs all pending writes.
func (s *Store) Flush() error {
	return s.db.Sync()
}

// Close shuts down Badger cleanly.
func (s *Store) Close() error {
	return s.db.Close()
}

type entry struct {
	key, value []byte
}

// batch buffers writes and applies them in one Badger transaction, so
// the commit is atomic across partitions.
type batch struct {
	db      *badger.DB
	entries []entry
	done    bool
}

func (b *batch) Put(part string, key, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	b.entries = append(b.entries, entry{key: physKey(part, key), value: v})
}

func (b *batch) Commit() error {
	if b.done {
		return nil
	}
	b.done = true
	return b.db.Update(func(txn *badger.Txn) error {
		for _, e := range b.entries {
			if err := txn.Set(e.key, e.value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *batch) Discard() {
	b.done = true
	b.entries = nil
}

type snapshot struct {
	txn   *badger.Txn
	iters []*iterator
}

func (s *snapshot) Get(part string, key []byte) ([]byte, error) {
	item, err := s.txn.Get(physKey(part, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, kv.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (s *snapshot) Prefix(part string, prefix []byte) (kv.Iterator, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = physPrefix(part, prefix)
	opts.PrefetchValues = true
	opts.PrefetchSize = 100

	it := &iterator{
		it:   s.txn.NewIterator(opts),
		seek: opts.Prefix,
		skip: len(part) + 1,
	}
	s.iters = append(s.iters, it)
	return it, nil
}

func (s *snapshot) Range(part string, lo, hi []byte) (kv.Iterator, error) {
	opts := badger.DefaultIteratorOptions
	// Constrain to the partition; the inclusive [lo, hi] bound is
	// enforced by the iterator itself.
	opts.Prefix = physPrefix(part, nil)
	opts.PrefetchValues = true
	opts.PrefetchSize = 100

	it := &iterator{
		it:   s.txn.NewIterator(opts),
		seek: physKey(part, lo),
		hi:   physKey(part, hi),
		skip: len(part) + 1,
	}
	s.iters = append(s.iters, it)
	return it, nil
}

func (s *snapshot) Close() {
	for _, it := range s.iters {
		it.Close()
	}
	s.txn.Discard()
}

type iterator struct {
	it      *badger.Iterator
	seek    []byte
	hi      []byte // inclusive upper bound on the physical key, nil in prefix mode
	skip    int    // partition prefix length to strip
	started bool
	closed  bool
	key     []byte
	val     []byte
	err     error
}

func (i *iterator) Next() bool {
	if i.closed || i.err != nil {
		return false
	}
	if !i.started {
		i.started = true
		i.it.Seek(i.seek)
	} else {
		i.it.Next()
	}
	if !i.it.Valid() {
		return false
	}
	item := i.it.Item()
	if i.hi != nil && bytes.Compare(item.Key(), i.hi) > 0 {
		return false
	}
	i.key = item.KeyCopy(nil)[i.skip:]
	val, err := item.ValueCopy(nil)
	if err != nil {
		i.err = err
		return false
	}
	i.val = val
	return true
}

func (i *iterator) Key() []byte   { return i.key }
func (i *iterator) Value() []byte { return i.val }
func (i *iterator) Err() error    { return i.err }

func (i *iterator) Close() {
	if i.closed {
		return
	}
	i.closed = true
	i.it.Close()
}
