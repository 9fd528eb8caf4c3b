// Package encoding provides the fixed-width big-endian codecs and key
// layouts behind every partition.
package encoding

import (
	"encoding/binary"
	"math"
)

// Key component sizes.
const (
	SeriesIDLen  = 8                         // uint64, big-endian
	TimestampLen = 8                         // uint64 nanoseconds, negated big-endian
	RowKeyLen    = SeriesIDLen + TimestampLen // data point key in the series partition
)

// ValueWidth is the encoded width of a sample value. It is fixed per
// database and recorded in the meta partition.
type ValueWidth int

const (
	// Width32 stores values as IEEE-754 float32 (4 bytes).
	Width32 ValueWidth = 4
	// Width64 stores values as IEEE-754 float64 (8 bytes).
	Width64 ValueWidth = 8
)

// PutSeriesID writes id as 8 big-endian bytes.
func PutSeriesID(buf []byte, id uint64) {
	binary.BigEndian.PutUint64(buf, id)
}

// SeriesID reads an 8-byte big-endian series id.
func SeriesID(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf)
}

// PutTimestamp writes the negated timestamp (^ts) as 8 big-endian
// bytes. Negation makes newer timestamps sort first, so a forward scan
// over a series yields samples newest-first.
func PutTimestamp(buf []byte, ts uint64) {
	binary.BigEndian.PutUint64(buf, ^ts)
}

// Timestamp reads a negated 8-byte timestamp back into nanoseconds.
func Timestamp(buf []byte) uint64 {
	return ^binary.BigEndian.Uint64(buf)
}

// RowKey builds a data point key: series_id_be8 || negated_ts_be8.
func RowKey(id, ts uint64) []byte {
	key := make([]byte, RowKeyLen)
	PutSeriesID(key[:SeriesIDLen], id)
	PutTimestamp(key[SeriesIDLen:], ts)
	return key
}

// RowKeyTimestamp extracts the timestamp from a data point key.
func RowKeyTimestamp(key []byte) uint64 {
	return Timestamp(key[SeriesIDLen:])
}

// RowKeyRange returns the key range covering samples of id with
// timestamps in [start, end]. Because timestamps are stored negated,
// lo encodes end and hi encodes start, and a forward scan of [lo, hi]
// visits samples newest-first.
func RowKeyRange(id, start, end uint64) (lo, hi []byte) {
	return RowKey(id, end), RowKey(id, start)
}

// EncodeValue writes v at the given width. At Width32 the value is
// rounded to float32 precision.
func EncodeValue(v float64, w ValueWidth) []byte {
	if w == Width32 {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, math.Float32bits(float32(v)))
		return buf
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	return buf
}

// DecodeValue reads a value encoded at the given width.
func DecodeValue(buf []byte, w ValueWidth) float64 {
	if w == Width32 {
		return float64(math.Float32frombits(binary.BigEndian.Uint32(buf)))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(buf))
}

// IndexKey builds an inverted index posting:
// metric "#" tag_key "=" tag_value "#" series_id_be8.
func IndexKey(metric, key, value string, id uint64) []byte {
	k := IndexPrefix(metric, key, value)
	k = k[:len(k)+SeriesIDLen]
	PutSeriesID(k[len(k)-SeriesIDLen:], id)
	return k
}

// IndexPrefix builds the prefix metric "#" tag_key "=" tag_value "#",
// which covers every posting for one tag atom. The returned slice has
// SeriesIDLen spare capacity so IndexKey can extend it in place.
func IndexPrefix(metric, key, value string) []byte {
	k := make([]byte, 0, len(metric)+len(key)+len(value)+3+SeriesIDLen)
	k = append(k, metric...)
	k = append(k, '#')
	k = append(k, key...)
	k = append(k, '=')
	k = append(k, value...)
	return append(k, '#')
}

// MetricPrefix builds the prefix metric "#", which covers every posting
// of a metric as well as its presence row.
func MetricPrefix(metric string) []byte {
	k := make([]byte, 0, len(metric)+1)
	k = append(k, metric...)
	return append(k, '#')
}

// PostingSeriesID extracts the trailing series id from an index
// posting key, or returns false for keys without one (the metric
// presence row, or a malformed key).
func PostingSeriesID(key []byte, prefixLen int) (uint64, bool) {
	if len(key) < prefixLen+SeriesIDLen {
		return 0, false
	}
	return SeriesID(key[len(key)-SeriesIDLen:]), true
}
