package series

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/talnadb/talna/pkg/encoding"
	"github.com/talnadb/talna/pkg/kv"
)

// cacheShards must be a power of two.
const cacheShards = 64

// tagsetCacheSize bounds the id -> tagset cache used by group-by
// queries. Entries are immutable, so there is nothing to invalidate.
const tagsetCacheSize = 4096

// metaNextIDKey holds the next unassigned series id in the meta
// partition, big-endian uint64.
var metaNextIDKey = []byte("next_series_id")

// Registry assigns and resolves stable series ids.
//
// Ids are dense, allocated sequentially from 0, and never recycled.
// The canonical series key -> id mapping is a bijection; concurrent
// writers racing on the same new series converge to one id because
// creation re-checks the series_map partition under the mutex.
type Registry struct {
	store kv.Store
	log   *zap.Logger

	// mu serializes new-series creation only. Sample writes and lookups
	// for known series never take it.
	mu     sync.Mutex
	nextID uint64

	shards  [cacheShards]cacheShard
	tagsets *lru.Cache[uint64, TagSet]
}

// cacheShard is one stripe of the canonical-key -> id read cache.
// Entries are immutable once inserted.
type cacheShard struct {
	mu  sync.RWMutex
	ids map[string]uint64
}

// NewRegistry loads the id counter from the meta partition and returns
// a ready registry.
func NewRegistry(store kv.Store, log *zap.Logger) (*Registry, error) {
	if log == nil {
		log = zap.NewNop()
	}

	r := &Registry{store: store, log: log}
	for i := range r.shards {
		r.shards[i].ids = make(map[string]uint64)
	}

	tagsets, err := lru.New[uint64, TagSet](tagsetCacheSize)
	if err != nil {
		return nil, err
	}
	r.tagsets = tagsets

	raw, err := store.Get(kv.PartMeta, metaNextIDKey)
	switch {
	case errors.Is(err, kv.ErrKeyNotFound):
		r.nextID = 0
	case err != nil:
		return nil, fmt.Errorf("load series id counter: %w", err)
	default:
		r.nextID = encoding.SeriesID(raw)
	}
	return r, nil
}

func (r *Registry) shard(seriesKey string) *cacheShard {
	return &r.shards[xxhash.Sum64String(seriesKey)&(cacheShards-1)]
}

// ResolveOrCreate returns the series id for (metric, tags), assigning
// and persisting a new one on first sight. Inputs must already be
// validated; duplicate tag keys fail with ErrInvalidTagSet.
func (r *Registry) ResolveOrCreate(metric string, tags TagSet) (uint64, error) {
	key, err := Key(metric, tags)
	if err != nil {
		return 0, err
	}
	seriesKey := string(key)

	sh := r.shard(seriesKey)
	sh.mu.RLock()
	id, ok := sh.ids[seriesKey]
	sh.mu.RUnlock()
	if ok {
		return id, nil
	}

	// Miss. Check the store outside the creation lock: another process
	// lifetime may have registered the series already.
	raw, err := r.store.Get(kv.PartSeriesMap, key)
	if err == nil {
		id = encoding.SeriesID(raw)
		r.cache(sh, seriesKey, id)
		return id, nil
	}
	if !errors.Is(err, kv.ErrKeyNotFound) {
		return 0, fmt.Errorf("series lookup: %w", err)
	}

	return r.create(sh, metric, tags, key, seriesKey)
}

// create registers a new series. The critical section is O(1) store
// operations; contention scales with the rate of new series, not with
// sample volume.
func (r *Registry) create(sh *cacheShard, metric string, tags TagSet, key []byte, seriesKey string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the lock: a racing writer may have won.
	raw, err := r.store.Get(kv.PartSeriesMap, key)
	if err == nil {
		id := encoding.SeriesID(raw)
		r.cache(sh, seriesKey, id)
		return id, nil
	}
	if !errors.Is(err, kv.ErrKeyNotFound) {
		return 0, fmt.Errorf("series lookup: %w", err)
	}

	id := r.nextID

	sorted := make(TagSet, len(tags))
	copy(sorted, tags)
	sorted.Sort()

	var idBuf [encoding.SeriesIDLen]byte
	encoding.PutSeriesID(idBuf[:], id)
	var nextBuf [encoding.SeriesIDLen]byte
	encoding.PutSeriesID(nextBuf[:], id+1)

	batch := r.store.NewBatch()
	defer batch.Discard()

	batch.Put(kv.PartSeriesMap, key, idBuf[:])
	batch.Put(kv.PartTagSets, idBuf[:], EncodeTagSet(sorted))
	for _, t := range sorted {
		batch.Put(kv.PartTagIndex, encoding.IndexKey(metric, t.Key, t.Value, id), nil)
	}
	if len(sorted) == 0 {
		// A tagless series has no tag posting; index it under the empty
		// atom "=" so AllSeries still finds it. Tag keys are never empty.
		batch.Put(kv.PartTagIndex, encoding.IndexKey(metric, "", "", id), nil)
	}
	batch.Put(kv.PartTagIndex, encoding.MetricPrefix(metric), nil)
	batch.Put(kv.PartMeta, metaNextIDKey, nextBuf[:])

	if err := batch.Commit(); err != nil {
		return 0, fmt.Errorf("register series: %w", err)
	}

	r.nextID = id + 1
	r.cache(sh, seriesKey, id)
	r.log.Debug("registered series",
		zap.String("metric", metric),
		zap.Uint64("series_id", id),
		zap.Int("tags", len(sorted)))
	return id, nil
}

func (r *Registry) cache(sh *cacheShard, seriesKey string, id uint64) {
	sh.mu.Lock()
	sh.ids[seriesKey] = id
	sh.mu.Unlock()
}

// Postings returns the ids of every series of metric carrying the tag
// (key, value), via a prefix scan of the inverted index.
func (r *Registry) Postings(snap kv.Snapshot, metric, key, value string) (*roaring64.Bitmap, error) {
	return scanPostings(snap, encoding.IndexPrefix(metric, key, value))
}

// AllSeries returns the ids of every series of metric. The same id
// appears once per tag in the index; the bitmap dedupes for free.
func (r *Registry) AllSeries(snap kv.Snapshot, metric string) (*roaring64.Bitmap, error) {
	return scanPostings(snap, encoding.MetricPrefix(metric))
}

func scanPostings(snap kv.Snapshot, prefix []byte) (*roaring64.Bitmap, error) {
	it, err := snap.Prefix(kv.PartTagIndex, prefix)
	if err != nil {
		return nil, fmt.Errorf("index scan: %w", err)
	}
	defer it.Close()

	bm := roaring64.New()
	for it.Next() {
		if id, ok := encoding.PostingSeriesID(it.Key(), len(prefix)); ok {
			bm.Add(id)
		}
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("index scan: %w", err)
	}
	return bm, nil
}

// TagSetOf loads the tagset of a series id, via a bounded cache.
func (r *Registry) TagSetOf(snap kv.Snapshot, id uint64) (TagSet, error) {
	if ts, ok := r.tagsets.Get(id); ok {
		return ts, nil
	}

	var idBuf [encoding.SeriesIDLen]byte
	encoding.PutSeriesID(idBuf[:], id)

	blob, err := snap.Get(kv.PartTagSets, idBuf[:])
	if err != nil {
		return nil, fmt.Errorf("load tagset for series %d: %w", id, err)
	}
	ts, err := DecodeTagSet(blob)
	if err != nil {
		return nil, err
	}
	r.tagsets.Add(id, ts)
	return ts, nil
}

// Metrics returns the sorted names of every metric with at least one
// series, derived from the index presence rows.
func (r *Registry) Metrics(snap kv.Snapshot) ([]string, error) {
	it, err := snap.Prefix(kv.PartTagIndex, nil)
	if err != nil {
		return nil, fmt.Errorf("index scan: %w", err)
	}
	defer it.Close()

	var out []string
	for it.Next() {
		key := it.Key()
		// Presence rows are exactly metric "#": a single '#', at the end.
		// Posting keys always carry at least two.
		if i := bytes.IndexByte(key, '#'); i >= 0 && i == len(key)-1 {
			name := string(key[:i])
			if len(out) == 0 || out[len(out)-1] != name {
				out = append(out, name)
			}
		}
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("index scan: %w", err)
	}
	return out, nil
}
