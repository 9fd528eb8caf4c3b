// Package series defines series identity: canonical tag sets, series
// keys, and the registry that assigns stable series ids.
package series

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/talnadb/talna/pkg/names"
)

// ErrInvalidTagSet is returned for tag sets with duplicate keys.
var ErrInvalidTagSet = errors.New("invalid tag set")

// Tag is a single key/value pair.
type Tag struct {
	Key   string
	Value string
}

// TagSet is an ordered list of tags. Canonical form is sorted ascending
// by key with unique keys; that form defines series identity.
type TagSet []Tag

// FromMap builds a TagSet from a map. The result is sorted by key.
func FromMap(m map[string]string) TagSet {
	ts := make(TagSet, 0, len(m))
	for k, v := range m {
		ts = append(ts, Tag{Key: k, Value: v})
	}
	ts.Sort()
	return ts
}

// Sort orders tags ascending by key.
func (ts TagSet) Sort() {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Key < ts[j].Key })
}

// Map converts the tag set back to a map.
func (ts TagSet) Map() map[string]string {
	if len(ts) == 0 {
		return nil
	}
	m := make(map[string]string, len(ts))
	for _, t := range ts {
		m[t.Key] = t.Value
	}
	return m
}

// Get returns the value for key and whether it is present.
func (ts TagSet) Get(key string) (string, bool) {
	for _, t := range ts {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

// Validate checks every tag key and value against the name rules.
func (ts TagSet) Validate() error {
	for _, t := range ts {
		if err := names.Validate(t.Key); err != nil {
			return fmt.Errorf("tag key: %w", err)
		}
		if err := names.Validate(t.Value); err != nil {
			return fmt.Errorf("tag value %s: %w", t.Key, err)
		}
	}
	return nil
}

// canonical returns a sorted copy of ts, failing on duplicate keys.
func (ts TagSet) canonical() (TagSet, error) {
	c := make(TagSet, len(ts))
	copy(c, ts)
	c.Sort()
	for i := 1; i < len(c); i++ {
		if c[i].Key == c[i-1].Key {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidTagSet, c[i].Key)
		}
	}
	return c, nil
}

// appendCanonical writes the canonical tagset form
// key "=" value (";" key "=" value)* onto b. ts must be sorted.
func appendCanonical(b []byte, ts TagSet) []byte {
	for i, t := range ts {
		if i > 0 {
			b = append(b, ';')
		}
		b = append(b, t.Key...)
		b = append(b, '=')
		b = append(b, t.Value...)
	}
	return b
}

// EncodeTagSet serializes a canonical (sorted, unique-key) tag set to
// its blob form, as stored in the tagsets partition.
func EncodeTagSet(ts TagSet) []byte {
	n := 0
	for _, t := range ts {
		n += len(t.Key) + len(t.Value) + 2
	}
	return appendCanonical(make([]byte, 0, n), ts)
}

// DecodeTagSet parses a canonical tagset blob.
func DecodeTagSet(blob []byte) (TagSet, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	pairs := strings.Split(string(blob), ";")
	ts := make(TagSet, 0, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("%w: malformed pair %q", ErrInvalidTagSet, p)
		}
		ts = append(ts, Tag{Key: k, Value: v})
	}
	return ts, nil
}

// Key derives the canonical series key: metric "#" canonical_tagset.
// The '#' delimiter is forbidden in names, so keys cannot collide.
// Inputs must already be validated; duplicate tag keys fail with
// ErrInvalidTagSet.
func Key(metric string, tags TagSet) ([]byte, error) {
	c, err := tags.canonical()
	if err != nil {
		return nil, err
	}
	n := len(metric) + 1
	for _, t := range c {
		n += len(t.Key) + len(t.Value) + 2
	}
	b := make([]byte, 0, n)
	b = append(b, metric...)
	b = append(b, '#')
	return appendCanonical(b, c), nil
}
