package talna

import (
	"context"
	"time"

	"github.com/talnadb/talna/pkg/filter"
	"github.com/talnadb/talna/pkg/query"
)

// Re-exported so callers only import this package for common queries.
const (
	Avg   = query.Avg
	Sum   = query.Sum
	Min   = query.Min
	Max   = query.Max
	Count = query.Count
)

// Bucket is one aggregated time window of a query result.
type Bucket = query.Bucket

// Groups maps group-by tag values to their ordered buckets.
type Groups = query.Groups

// QueryBuilder assembles an aggregate query. Zero values mean: match
// all series, aggregate avg, no grouping, range [0, now]. Granularity
// has no default and must be set.
type QueryBuilder struct {
	db        *Database
	metric    string
	filterStr string
	expr      filter.Expr
	groupBy   string
	agg       query.Aggregator
	start     uint64
	end       uint64
	endSet    bool
	gran      uint64
}

// Query starts building a query against a metric.
func (db *Database) Query(metric string) *QueryBuilder {
	return &QueryBuilder{db: db, metric: metric}
}

// Filter sets the series filter expression string, e.g.
// `env:prod AND NOT host:h3`.
func (qb *QueryBuilder) Filter(expr string) *QueryBuilder {
	qb.filterStr = expr
	return qb
}

// FilterExpr sets an already-parsed filter expression. Takes
// precedence over Filter.
func (qb *QueryBuilder) FilterExpr(expr filter.Expr) *QueryBuilder {
	qb.expr = expr
	return qb
}

// GroupBy groups results by the values of a tag key. Series without
// the tag are skipped.
func (qb *QueryBuilder) GroupBy(tagKey string) *QueryBuilder {
	qb.groupBy = tagKey
	return qb
}

// Aggregate sets the per-bucket aggregation (default Avg).
func (qb *QueryBuilder) Aggregate(agg query.Aggregator) *QueryBuilder {
	qb.agg = agg
	return qb
}

// Start sets the inclusive range start in nanoseconds (default 0).
func (qb *QueryBuilder) Start(ts uint64) *QueryBuilder {
	qb.start = ts
	return qb
}

// End sets the inclusive range end in nanoseconds (default: now).
func (qb *QueryBuilder) End(ts uint64) *QueryBuilder {
	qb.end = ts
	qb.endSet = true
	return qb
}

// Granularity sets the bucket width in nanoseconds. Required.
func (qb *QueryBuilder) Granularity(g uint64) *QueryBuilder {
	qb.gran = g
	return qb
}

// Run executes the query. An unknown metric yields empty Groups.
func (qb *QueryBuilder) Run(ctx context.Context) (Groups, error) {
	expr := qb.expr
	if expr == nil && qb.filterStr != "" {
		parsed, err := filter.Parse(qb.filterStr)
		if err != nil {
			return nil, err
		}
		expr = parsed
	}

	end := qb.end
	if !qb.endSet {
		end = uint64(time.Now().UnixNano())
	}

	return qb.db.engine.Run(ctx, query.Request{
		Metric:      qb.metric,
		Expr:        expr,
		Aggregate:   qb.agg,
		GroupBy:     qb.groupBy,
		Start:       qb.start,
		End:         end,
		Granularity: qb.gran,
	})
}
