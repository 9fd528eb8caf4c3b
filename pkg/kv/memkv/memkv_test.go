package memkv

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talnadb/talna/pkg/kv"
)

func TestGetPut(t *testing.T) {
	store := Open()
	defer store.Close()

	_, err := store.Get(kv.PartMeta, []byte("missing"))
	require.ErrorIs(t, err, kv.ErrKeyNotFound)

	require.NoError(t, store.Put(kv.PartMeta, []byte("k"), []byte("v1")))
	got, err := store.Get(kv.PartMeta, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got)

	// Last write wins.
	require.NoError(t, store.Put(kv.PartMeta, []byte("k"), []byte("v2")))
	got, err = store.Get(kv.PartMeta, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got)
}

func TestPartitionsAreIndependent(t *testing.T) {
	store := Open()
	defer store.Close()

	require.NoError(t, store.Put(kv.PartSeries, []byte("k"), []byte("a")))
	require.NoError(t, store.Put(kv.PartTagIndex, []byte("k"), []byte("b")))

	got, err := store.Get(kv.PartSeries, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("a"), got)

	_, err = store.Get(kv.PartSeriesMap, []byte("k"))
	require.ErrorIs(t, err, kv.ErrKeyNotFound)
}

func TestBatchAcrossPartitions(t *testing.T) {
	store := Open()
	defer store.Close()

	batch := store.NewBatch()
	batch.Put(kv.PartSeries, []byte("a"), []byte("1"))
	batch.Put(kv.PartTagIndex, []byte("b"), []byte("2"))

	// Nothing visible before commit.
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

func TestBatchDiscard(t *testing.T) {
	store := Open()
	defer store.Close()

	batch := store.NewBatch()
	batch.Put(kv.PartSeries, []byte("a"), []byte("1"))
	batch.Discard()
	require.NoError(t, batch.Commit()) // no-op after discard

	_, err := store.Get(kv.PartSeries, []byte("a"))
	require.ErrorIs(t, err, kv.ErrKeyNotFound)
}

func TestPrefixIteration(t *testing.T) {
	store := Open()
	defer store.Close()

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
	store := Open()
	defer store.Close()

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
	store := Open()
	defer store.Close()

	require.NoError(t, store.Put(kv.PartSeries, []byte("k"), []byte("old")))

	snap, err := store.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	require.NoError(t, store.Put(kv.PartSeries, []byte("k"), []byte("new")))
	require.NoError(t, store.Put(kv.PartSeries, []byte("k2"), []byte("x")))

	got, err := snap.Get(kv.PartSeries, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("old"), got)

	_, err = snap.Get(kv.PartSeries, []byte("k2"))
	require.ErrorIs(t, err, kv.ErrKeyNotFound)
}
