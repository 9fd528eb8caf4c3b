// Package query executes aggregate queries: candidate series via the
// inverted index, per-series time-range scans, grouping by a tag, and
// time-bucketed aggregation.
package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"go.uber.org/zap"

	"github.com/talnadb/talna/pkg/config"
	"github.com/talnadb/talna/pkg/encoding"
	"github.com/talnadb/talna/pkg/filter"
	"github.com/talnadb/talna/pkg/kv"
	"github.com/talnadb/talna/pkg/names"
	"github.com/talnadb/talna/pkg/series"
)

var (
	// ErrZeroGranularity is returned when a request carries no bucket
	// width. There is no implicit default.
	ErrZeroGranularity = errors.New("granularity must be positive")

	// ErrInvalidRange is returned when end precedes start.
	ErrInvalidRange = errors.New("time range end precedes start")
)

// Request describes one aggregate query.
type Request struct {
	// Metric to query.
	Metric string

	// Expr selects series. nil selects every series of the metric.
	Expr filter.Expr

	// Aggregate applied within each bucket.
	Aggregate Aggregator

	// GroupBy is the tag key to group results by. Empty groups
	// everything under DefaultGroup. Series without the tag are skipped.
	GroupBy string

	// Start and End bound the scanned time range, inclusive,
	// nanoseconds since the Unix epoch.
	Start uint64
	End   uint64

	// Granularity is the bucket width in nanoseconds. Required.
	Granularity uint64
}

// Engine runs requests against a store and registry.
type Engine struct {
	store kv.Store
	reg   *series.Registry
	width encoding.ValueWidth
	log   *zap.Logger
}

// NewEngine creates a query engine. All sharing with the writer side is
// read-only: the engine holds the registry, which holds the store.
func NewEngine(store kv.Store, reg *series.Registry, width encoding.ValueWidth, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, reg: reg, width: width, log: log}
}

// snapshotIndex binds the registry's posting lookups to one snapshot,
// satisfying filter.Index.
type snapshotIndex struct {
	snap kv.Snapshot
	reg  *series.Registry
}

func (ix *snapshotIndex) Postings(metric, key, value string) (*roaring64.Bitmap, error) {
	return ix.reg.Postings(ix.snap, metric, key, value)
}

func (ix *snapshotIndex) AllSeries(metric string) (*roaring64.Bitmap, error) {
	return ix.reg.AllSeries(ix.snap, metric)
}

// Run executes the request. An unknown metric yields empty Groups, not
// an error. Cancellation is checked between series and every 256 samples
// within a series; on cancel, partial state is discarded and the context
// error returned.
func (e *Engine) Run(ctx context.Context, req Request) (Groups, error) {
	if err := names.Validate(req.Metric); err != nil {
		return nil, fmt.Errorf("metric: %w", err)
	}
	if req.GroupBy != "" {
		if err := names.Validate(req.GroupBy); err != nil {
			return nil, fmt.Errorf("group-by tag: %w", err)
		}
	}
	if req.Granularity == 0 {
		return nil, ErrZeroGranularity
	}
	if req.End < req.Start {
		return nil, ErrInvalidRange
	}

	started := time.Now()

	snap, err := e.store.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer snap.Close()

	expr := req.Expr
	if expr == nil {
		expr = &filter.All{}
	}
	ids, err := filter.Eval(expr, req.Metric, &snapshotIndex{snap: snap, reg: e.reg})
	if err != nil {
		return nil, err
	}

	// group -> bucket index -> accumulator
	accs := make(map[string]map[uint64]*accumulator)

	iter := ids.Iterator()
	for iter.HasNext() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := iter.Next()

		groupKey := DefaultGroup
		if req.GroupBy != "" {
			tags, err := e.reg.TagSetOf(snap, id)
			if err != nil {
				return nil, err
			}
			v, ok := tags.Get(req.GroupBy)
			if !ok {
				continue
			}
			groupKey = v
		}

		if err := e.scanSeries(ctx, snap, id, req, accs, groupKey); err != nil {
			return nil, err
		}
	}

	out := finalize(accs, req)

	if elapsed := time.Since(started); elapsed > config.SlowQueryThreshold {
		e.log.Warn("slow query",
			zap.String("metric", req.Metric),
			zap.Uint64("series", ids.GetCardinality()),
			zap.Duration("elapsed", elapsed))
	}
	return out, nil
}

// scanSeries walks one series over [Start, End] and feeds the group's
// accumulators. The negated-timestamp encoding makes this a forward
// scan yielding samples newest-first.
func (e *Engine) scanSeries(ctx context.Context, snap kv.Snapshot, id uint64, req Request, accs map[string]map[uint64]*accumulator, groupKey string) error {
	lo, hi := encoding.RowKeyRange(id, req.Start, req.End)
	it, err := snap.Range(kv.PartSeries, lo, hi)
	if err != nil {
		return fmt.Errorf("series scan: %w", err)
	}
	defer it.Close()

	buckets := accs[groupKey]
	if buckets == nil {
		buckets = make(map[uint64]*accumulator)
		accs[groupKey] = buckets
	}

	n := 0
	for it.Next() {
		if n&0xff == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		n++

		ts := encoding.RowKeyTimestamp(it.Key())
		b := (ts - req.Start) / req.Granularity
		acc := buckets[b]
		if acc == nil {
			acc = &accumulator{}
			buckets[b] = acc
		}
		acc.add(encoding.DecodeValue(it.Value(), e.width))
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("series scan: %w", err)
	}
	return nil
}

// accumulator folds one bucket's samples for every aggregator at once;
// the request's aggregator picks the output in finalize.
type accumulator struct {
	sum   float64
	count uint64
	min   float64
	max   float64
	// extremaSeen tracks whether any non-NaN value reached min/max.
	extremaSeen bool
}

func (a *accumulator) add(v float64) {
	a.count++
	a.sum += v
	if math.IsNaN(v) {
		return
	}
	if !a.extremaSeen || v < a.min {
		a.min = v
	}
	if !a.extremaSeen || v > a.max {
		a.max = v
	}
	a.extremaSeen = true
}

// value returns the aggregate and whether the bucket should be emitted.
// Buckets whose samples were all NaN are dropped for min/max.
func (a *accumulator) value(agg Aggregator) (float64, bool) {
	switch agg {
	case Count:
		return float64(a.count), true
	case Sum:
		return a.sum, true
	case Avg:
		return a.sum / float64(a.count), true
	case Min:
		return a.min, a.extremaSeen
	case Max:
		return a.max, a.extremaSeen
	}
	return 0, false
}

func finalize(accs map[string]map[uint64]*accumulator, req Request) Groups {
	out := make(Groups, len(accs))
	for groupKey, buckets := range accs {
		idxs := make([]uint64, 0, len(buckets))
		for b := range buckets {
			idxs = append(idxs, b)
		}
		sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })

		result := make([]Bucket, 0, len(idxs))
		for _, b := range idxs {
			v, ok := buckets[b].value(req.Aggregate)
			if !ok {
				continue
			}
			result = append(result, Bucket{Start: req.Start + b*req.Granularity, Value: v})
		}
		out[groupKey] = result
	}
	return out
}
