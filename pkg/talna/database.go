// Package talna is the public surface of the database: an embeddable
// time-series store for tagged numeric samples over an ordered KV
// engine.
package talna

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/talnadb/talna/pkg/config"
	"github.com/talnadb/talna/pkg/encoding"
	"github.com/talnadb/talna/pkg/kv"
	"github.com/talnadb/talna/pkg/kv/badgerkv"
	"github.com/talnadb/talna/pkg/names"
	"github.com/talnadb/talna/pkg/query"
	"github.com/talnadb/talna/pkg/series"
)

// ErrEncodingMismatch is returned when a database is reopened with a
// HighPrecision setting that disagrees with the value width recorded
// at creation.
var ErrEncodingMismatch = errors.New("value encoding width mismatch")

// metaValueWidthKey records the sample value width (4 or 8) in the
// meta partition. The width is fixed for the database's lifetime.
var metaValueWidthKey = []byte("value_width")

// Options configures Open.
type Options struct {
	// Path of the on-disk database directory. Ignored when Store is set.
	Path string

	// Store plugs in a custom KV engine. When nil, a Badger engine is
	// opened at Path.
	Store kv.Store

	// CacheMiB is the KV engine's memory budget in MiB
	// (0 = config.DefaultCacheMiB). Only used when Store is nil.
	CacheMiB int64

	// HighPrecision stores values as float64 instead of float32.
	// Fixed at creation; reopening with a different setting fails
	// with ErrEncodingMismatch.
	HighPrecision bool

	// Logger receives debug and slow-query output. nil means silent.
	Logger *zap.Logger
}

// Database is an open time-series database. It is safe for concurrent
// use; sample writes proceed in parallel, and only first-sight series
// creation is serialized.
type Database struct {
	store  kv.Store
	reg    *series.Registry
	engine *query.Engine
	width  encoding.ValueWidth
	log    *zap.Logger
}

// Open opens (creating if necessary) a database. The returned Database
// owns the store and releases it on Close.
func Open(opts Options) (*Database, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	store := opts.Store
	if store == nil {
		if opts.Path == "" {
			return nil, errors.New("talna: either Path or Store is required")
		}
		cache := opts.CacheMiB
		if cache <= 0 {
			cache = config.DefaultCacheMiB
		}
		s, err := badgerkv.Open(badgerkv.Config{Path: opts.Path, CacheMiB: cache})
		if err != nil {
			return nil, err
		}
		store = s
	}

	width := encoding.Width32
	if opts.HighPrecision {
		width = encoding.Width64
	}
	if err := checkValueWidth(store, width); err != nil {
		if opts.Store == nil {
			_ = store.Close()
		}
		return nil, err
	}

	reg, err := series.NewRegistry(store, log)
	if err != nil {
		if opts.Store == nil {
			_ = store.Close()
		}
		return nil, err
	}

	return &Database{
		store:  store,
		reg:    reg,
		engine: query.NewEngine(store, reg, width, log),
		width:  width,
		log:    log,
	}, nil
}

// checkValueWidth records the width on first open and rejects
// mismatches afterwards.
func checkValueWidth(store kv.Store, width encoding.ValueWidth) error {
	raw, err := store.Get(kv.PartMeta, metaValueWidthKey)
	switch {
	case errors.Is(err, kv.ErrKeyNotFound):
		return store.Put(kv.PartMeta, metaValueWidthKey, []byte{byte(width)})
	case err != nil:
		return fmt.Errorf("read value width: %w", err)
	}
	if len(raw) != 1 || encoding.ValueWidth(raw[0]) != width {
		stored := encoding.ValueWidth(0)
		if len(raw) == 1 {
			stored = encoding.ValueWidth(raw[0])
		}
		return fmt.Errorf("%w: database uses %d-byte values, options request %d-byte",
			ErrEncodingMismatch, stored, width)
	}
	return nil
}

// Write records a sample with the current time.
func (db *Database) Write(metric string, value float64, tags map[string]string) error {
	return db.WriteAt(metric, value, tags, uint64(time.Now().UnixNano()))
}

// WriteAt records a sample at an explicit timestamp in nanoseconds
// since the Unix epoch. Validation happens before any store I/O; a
// successful return means the sample and any first-sight index rows
// are committed atomically in their batches.
func (db *Database) WriteAt(metric string, value float64, tags map[string]string, ts uint64) error {
	if err := names.Validate(metric); err != nil {
		return fmt.Errorf("metric: %w", err)
	}
	tagset := series.FromMap(tags)
	if err := tagset.Validate(); err != nil {
		return err
	}

	id, err := db.reg.ResolveOrCreate(metric, tagset)
	if err != nil {
		return err
	}

	batch := db.store.NewBatch()
	defer batch.Discard()
	batch.Put(kv.PartSeries, encoding.RowKey(id, ts), encoding.EncodeValue(value, db.width))
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}
	return nil
}

// Flush persists buffered writes to stable storage.
func (db *Database) Flush() error {
	return db.store.Flush()
}

// Close flushes and releases the database and its store.
func (db *Database) Close() error {
	return db.store.Close()
}

// Metrics returns the sorted names of all metrics with at least one
// series.
func (db *Database) Metrics() ([]string, error) {
	snap, err := db.store.Snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Close()
	return db.reg.Metrics(snap)
}

// Series returns the tagset of every series of a metric.
func (db *Database) Series(metric string) ([]series.TagSet, error) {
	if err := names.Validate(metric); err != nil {
		return nil, fmt.Errorf("metric: %w", err)
	}

	snap, err := db.store.Snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	ids, err := db.reg.AllSeries(snap, metric)
	if err != nil {
		return nil, err
	}

	out := make([]series.TagSet, 0, ids.GetCardinality())
	iter := ids.Iterator()
	for iter.HasNext() {
		tags, err := db.reg.TagSetOf(snap, iter.Next())
		if err != nil {
			return nil, err
		}
		out = append(out, tags)
	}
	return out, nil
}

// Each visits every sample in the database, series by series, newest
// sample first within a series. Used by the export path.
func (db *Database) Each(ctx context.Context, fn func(metric string, tags series.TagSet, ts uint64, value float64) error) error {
	snap, err := db.store.Snapshot()
	if err != nil {
		return err
	}
	defer snap.Close()

	it, err := snap.Prefix(kv.PartSeriesMap, nil)
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		metric, blob, ok := strings.Cut(string(it.Key()), "#")
		if !ok {
			return fmt.Errorf("malformed series key %q", it.Key())
		}
		tags, err := series.DecodeTagSet([]byte(blob))
		if err != nil {
			return err
		}
		id := encoding.SeriesID(it.Value())

		if err := db.eachSample(ctx, snap, id, metric, tags, fn); err != nil {
			return err
		}
	}
	return it.Err()
}

func (db *Database) eachSample(ctx context.Context, snap kv.Snapshot, id uint64, metric string, tags series.TagSet, fn func(string, series.TagSet, uint64, float64) error) error {
	lo, hi := encoding.RowKeyRange(id, 0, ^uint64(0))
	it, err := snap.Range(kv.PartSeries, lo, hi)
	if err != nil {
		return err
	}
	defer it.Close()

	n := 0
	for it.Next() {
		if n&0xff == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		n++

		ts := encoding.RowKeyTimestamp(it.Key())
		if err := fn(metric, tags, ts, encoding.DecodeValue(it.Value(), db.width)); err != nil {
			return err
		}
	}
	return it.Err()
}
