package kv

// Partition names used by the database. The "_talna#" prefix keeps them
// out of the way when the store is shared with other keyspaces.
const (
	// PartSeries holds data points: series_id_be8 || negated_ts_be8 -> value bytes.
	PartSeries = "_talna#series"

	// PartSeriesMap maps canonical series key bytes -> series_id_be8.
	PartSeriesMap = "_talna#series_map"

	// PartTagSets maps series_id_be8 -> canonical tagset blob.
	PartTagSets = "_talna#tagsets"

	// PartTagIndex is the inverted index:
	// metric "#" tag_key "=" tag_value "#" series_id_be8 -> empty,
	// metric "#=#" series_id_be8 -> empty for a series without tags,
	// plus one presence row metric "#" per metric.
	PartTagIndex = "_talna#tag_index"

	// PartMeta holds database metadata: the next series id and the
	// value encoding width.
	PartMeta = "_talna#meta"
)

// Partitions lists every partition an engine must serve.
var Partitions = []string{PartSeries, PartSeriesMap, PartTagSets, PartTagIndex, PartMeta}
