package filter

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Index supplies posting lists for evaluation. The series registry
// implements it, bound to a snapshot, on the query path.
type Index interface {
	// Postings returns the ids of metric's series carrying (key, value).
	Postings(metric, key, value string) (*roaring64.Bitmap, error)

	// AllSeries returns the ids of every series of metric.
	AllSeries(metric string) (*roaring64.Bitmap, error)
}

// Eval evaluates an expression against one metric's inverted index and
// returns the matching series ids.
//
// AND and OR are bitmap intersection and union. NOT and `*` are defined
// over the metric's series universe, which is materialized at most once
// per evaluation and only when needed.
func Eval(e Expr, metric string, idx Index) (*roaring64.Bitmap, error) {
	ev := &evaluator{metric: metric, idx: idx}
	return ev.eval(e)
}

type evaluator struct {
	metric   string
	idx      Index
	universe *roaring64.Bitmap
}

func (ev *evaluator) eval(e Expr) (*roaring64.Bitmap, error) {
	switch x := e.(type) {
	case *Atom:
		return ev.idx.Postings(ev.metric, x.Key, x.Value)
	case *All:
		u, err := ev.allSeries()
		if err != nil {
			return nil, err
		}
		return u.Clone(), nil
	case *And:
		left, err := ev.eval(x.Left)
		if err != nil {
			return nil, err
		}
		if left.IsEmpty() {
			// Intersection cannot grow; skip the right side.
			return left, nil
		}
		right, err := ev.eval(x.Right)
		if err != nil {
			return nil, err
		}
		left.And(right)
		return left, nil
	case *Or:
		left, err := ev.eval(x.Left)
		if err != nil {
			return nil, err
		}
		right, err := ev.eval(x.Right)
		if err != nil {
			return nil, err
		}
		left.Or(right)
		return left, nil
	case *Not:
		inner, err := ev.eval(x.Expr)
		if err != nil {
			return nil, err
		}
		u, err := ev.allSeries()
		if err != nil {
			return nil, err
		}
		out := u.Clone()
		out.AndNot(inner)
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported expression type: %T", e)
	}
}

func (ev *evaluator) allSeries() (*roaring64.Bitmap, error) {
	if ev.universe == nil {
		u, err := ev.idx.AllSeries(ev.metric)
		if err != nil {
			return nil, err
		}
		ev.universe = u
	}
	return ev.universe, nil
}
