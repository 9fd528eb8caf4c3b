package query

import "fmt"

// Aggregator selects the aggregation applied inside each time bucket.
type Aggregator int

const (
	Avg Aggregator = iota
	Sum
	Min
	Max
	Count
)

func (a Aggregator) String() string {
	switch a {
	case Avg:
		return "avg"
	case Sum:
		return "sum"
	case Min:
		return "min"
	case Max:
		return "max"
	case Count:
		return "count"
	}
	return fmt.Sprintf("Aggregator(%d)", int(a))
}

// ParseAggregator resolves an aggregator by name.
func ParseAggregator(s string) (Aggregator, error) {
	switch s {
	case "avg":
		return Avg, nil
	case "sum":
		return Sum, nil
	case "min":
		return Min, nil
	case "max":
		return Max, nil
	case "count":
		return Count, nil
	}
	return 0, fmt.Errorf("unknown aggregator %q", s)
}

// Bucket is one aggregated time window. Start is the inclusive window
// start in nanoseconds; the window extends one granularity.
type Bucket struct {
	Start uint64  `json:"start"`
	Value float64 `json:"value"`
}

// Groups maps each group-by tag value (or "all" when not grouping) to
// its buckets, ordered by bucket start ascending. Buckets with no
// samples are omitted.
type Groups map[string][]Bucket

// DefaultGroup is the group key used when no group-by tag is set.
const DefaultGroup = "all"
