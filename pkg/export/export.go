// Package export streams database snapshots as gzip-compressed NDJSON,
// one sample per line, and imports them back.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/talnadb/talna/pkg/series"
	"github.com/talnadb/talna/pkg/talna"
)

// Sample is one exported data point.
type Sample struct {
	Metric string            `json:"metric"`
	Tags   map[string]string `json:"tags,omitempty"`
	TS     uint64            `json:"ts"`
	Value  float64           `json:"value"`
}

// Result reports what an export or import moved.
type Result struct {
	Samples int `json:"samples"`
}

// Export writes every sample of the database to w as gzip-compressed
// NDJSON. The export is a consistent snapshot: writes racing the
// export are not included.
func Export(ctx context.Context, db *talna.Database, w io.Writer) (*Result, error) {
	gz := gzip.NewWriter(w)
	enc := json.NewEncoder(gz)

	res := &Result{}
	err := db.Each(ctx, func(metric string, tags series.TagSet, ts uint64, value float64) error {
		res.Samples++
		return enc.Encode(Sample{Metric: metric, Tags: tags.Map(), TS: ts, Value: value})
	})
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return res, nil
}

// Import reads a stream produced by Export and writes every sample
// into db. Samples pass the usual write-path validation; a bad line
// aborts the import with its error.
func Import(ctx context.Context, db *talna.Database, r io.Reader) (*Result, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}
	defer gz.Close()

	dec := json.NewDecoder(gz)
	res := &Result{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var s Sample
		if err := dec.Decode(&s); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("import: sample %d: %w", res.Samples+1, err)
		}

		if err := db.WriteAt(s.Metric, s.Value, s.Tags, s.TS); err != nil {
			return nil, fmt.Errorf("import: sample %d: %w", res.Samples+1, err)
		}
		res.Samples++
	}
	return res, nil
}
