// Package memkv implements the kv.Store contract with in-memory
// B-trees. Data is lost on Close; useful for tests and development.
package memkv

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/talnadb/talna/pkg/kv"
)

type item struct {
	key, value []byte
}

func less(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Store implements kv.Store in memory. Snapshots are cheap: they clone
// each partition's B-tree, which is copy-on-write.
type Store struct {
	mu    sync.RWMutex
	parts map[string]*btree.BTreeG[item]
}

// Open creates an empty in-memory store.
func Open() *Store {
	return &Store{parts: make(map[string]*btree.BTreeG[item])}
}

// part returns the tree for a partition, creating it on demand.
// Callers must hold mu.
func (s *Store) part(name string) *btree.BTreeG[item] {
	t, ok := s.parts[name]
	if !ok {
		t = btree.NewG[item](16, less)
		s.parts[name] = t
	}
	return t
}

// Get returns the value under key, or kv.ErrKeyNotFound.
func (s *Store) Get(part string, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.parts[part]
	if !ok {
		return nil, kv.ErrKeyNotFound
	}
	it, ok := t.Get(item{key: key})
	if !ok {
		return nil, kv.ErrKeyNotFound
	}
	return append([]byte(nil), it.value...), nil
}

// Put stores a single key/value pair.
func (s *Store) Put(part string, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.part(part).ReplaceOrInsert(item{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
	return nil
}

// NewBatch starts a write batch applied under one lock acquisition.
func (s *Store) NewBatch() kv.Batch {
	return &batch{store: s}
}

// Snapshot clones every partition tree. Later writes go to fresh copies
// and are invisible through the snapshot.
func (s *Store) Snapshot() (kv.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &snapshot{parts: make(map[string]*btree.BTreeG[item], len(s.parts))}
	for name, t := range s.parts {
		snap.parts[name] = t.Clone()
	}
	return snap, nil
}

// Flush is a no-op; there is nothing durable to sync.
func (s *Store) Flush() error { return nil }

// Close drops all data.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts = make(map[string]*btree.BTreeG[item])
	return nil
}

type batchEntry struct {
	part       string
	key, value []byte
}

type batch struct {
	store   *Store
	entries []batchEntry
	done    bool
}

func (b *batch) Put(part string, key, value []byte) {
	b.entries = append(b.entries, batchEntry{
		part:  part,
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
}

func (b *batch) Commit() error {
	if b.done {
		return nil
	}
	b.done = true

	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	for _, e := range b.entries {
		b.store.part(e.part).ReplaceOrInsert(item{key: e.key, value: e.value})
	}
	return nil
}

func (b *batch) Discard() {
	b.done = true
	b.entries = nil
}

type snapshot struct {
	parts map[string]*btree.BTreeG[item]
}

func (s *snapshot) Get(part string, key []byte) ([]byte, error) {
	t, ok := s.parts[part]
	if !ok {
		return nil, kv.ErrKeyNotFound
	}
	it, ok := t.Get(item{key: key})
	if !ok {
		return nil, kv.ErrKeyNotFound
	}
	return it.value, nil
}

func (s *snapshot) Prefix(part string, prefix []byte) (kv.Iterator, error) {
	t, ok := s.parts[part]
	if !ok {
		return &iterator{}, nil
	}

	var items []item
	t.AscendGreaterOrEqual(item{key: prefix}, func(it item) bool {
		if !bytes.HasPrefix(it.key, prefix) {
			return false
		}
		items = append(items, it)
		return true
	})
	return &iterator{items: items, pos: -1}, nil
}

func (s *snapshot) Range(part string, lo, hi []byte) (kv.Iterator, error) {
	t, ok := s.parts[part]
	if !ok {
		return &iterator{}, nil
	}

	var items []item
	t.AscendGreaterOrEqual(item{key: lo}, func(it item) bool {
		if bytes.Compare(it.key, hi) > 0 {
			return false
		}
		items = append(items, it)
		return true
	})
	return &iterator{items: items, pos: -1}, nil
}

func (s *snapshot) Close() {}

type iterator struct {
	items []item
	pos   int
}

func (i *iterator) Next() bool {
	if i.pos+1 >= len(i.items) {
		return false
	}
	i.pos++
	return true
}

func (i *iterator) Key() []byte   { return i.items[i.pos].key }
func (i *iterator) Value() []byte { return i.items[i.pos].value }
func (i *iterator) Err() error    { return nil }
func (i *iterator) Close()        {}
