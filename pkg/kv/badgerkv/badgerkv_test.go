package badgerkv

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talnadb/talna/pkg/kv"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetPut(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(kv.PartMeta, []byte("missing"))
	require.ErrorIs(t, err, kv.ErrKeyNotFound)

	require.NoError(t, store.Put(kv.PartMeta, []byte("k"), []byte("v1")))
	got, err := store.Get(kv.PartMeta, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got)

	require.NoError(t, store.Put(kv.PartMeta, []byte("k"), []byte("v2")))
	got, err = store.Get(kv.PartMeta, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got)
}

func TestPartitionsAreIndependent(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(kv.PartSeries, []byte("k"), []byte("a")))

	_, err := store.Get(kv.PartSeriesMap, []byte("k"))
	require.ErrorIs(t, err, kv.ErrKeyNotFound)

	// A partition iterator never sees another partition's keys, even
	// though one partition name prefixes the other.
	require.NoError(t, store.Put(kv.PartSeriesMap, []byte("x"), []byte("b")))

	snap, err := store.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	it, err := snap.Prefix(kv.PartSeries, nil)
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"k"}, keys)
}

func TestBatchAcrossPartitions(t *testing.T) {
	store := newTestStore(t)

	batch := store.NewBatch()
	batch.Put(kv.PartSeries, []byte("a"), []byte("1"))
	batch.Put(kv.PartTagIndex, []byte("b"), []byte("2"))

	_, err := store.Get(kv.PartSeries, []byte("a"))
	require.ErrorIs(t, err, kv.ErrKeyNotFound)

	require.NoError(t, batch.Commit())

	got, err := store.Get(kv.PartSeries, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
	got, err = store.Get(kv.PartTagIndex, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)
}

func TestPrefixIteration(t *testing.T) {
	store := newTestStore(t)

	for _, k := range []string{"cpu#a", "cpu#b", "cpux#c", "mem#d"} {
		require.NoError(t, store.Put(kv.PartTagIndex, []byte(k), nil))
	}

	snap, err := store.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	it, err := snap.Prefix(kv.PartTagIndex, []byte("cpu#"))
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"cpu#a", "cpu#b"}, keys)
}

func TestRangeIteration(t *testing.T) {
	store := newTestStore(t)

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, store.Put(kv.PartSeries, []byte(k), []byte(k)))
	}

	snap, err := store.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	it, err := snap.Range(kv.PartSeries, []byte("b"), []byte("d"))
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"b", "c", "d"}, keys)
}

func TestSnapshotIsolation(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(kv.PartSeries, []byte("k"), []byte("old")))

	snap, err := store.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	require.NoError(t, store.Put(kv.PartSeries, []byte("k"), []byte("new")))

	got, err := snap.Get(kv.PartSeries, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("old"), got)
}

func TestDurability(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, store.Put(kv.PartSeries, []byte("k"), []byte("v")))
	require.NoError(t, store.Flush())
	require.NoError(t, store.Close())

	store, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get(kv.PartSeries, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
}
