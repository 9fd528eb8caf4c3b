package export

import (
	"bytes"
	"context"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/talnadb/talna/pkg/kv/memkv"
	"github.com/talnadb/talna/pkg/talna"
)

func openMem(t *testing.T) *talna.Database {
	t.Helper()
	db, err := talna.Open(talna.Options{Store: memkv.Open(), HighPrecision: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openMem(t)

	require.NoError(t, src.WriteAt("cpu.total", 1.5, map[string]string{"env": "prod", "host": "h1"}, 100))
	require.NoError(t, src.WriteAt("cpu.total", 2.5, map[string]string{"env": "prod", "host": "h1"}, 200))
	require.NoError(t, src.WriteAt("mem.used", 512, nil, 300))

	var buf bytes.Buffer
	res, err := Export(ctx, src, &buf)
	require.NoError(t, err)
	require.Equal(t, 3, res.Samples)

	dst := openMem(t)
	ires, err := Import(ctx, dst, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 3, ires.Samples)

	// The imported database answers queries identically.
	for _, db := range []*talna.Database{src, dst} {
		groups, err := db.Query("cpu.total").
			GroupBy("host").
			Aggregate(talna.Sum).
			Start(0).End(1000).
			Granularity(1000).
			Run(ctx)
		require.NoError(t, err)
		require.Equal(t, talna.Groups{"h1": {{Start: 0, Value: 4.0}}}, groups)
	}

	metrics, err := dst.Metrics()
	require.NoError(t, err)
	require.Equal(t, []string{"cpu.total", "mem.used"}, metrics)
}

func TestExportIsCompressedNDJSON(t *testing.T) {
	ctx := context.Background()
	db := openMem(t)
	require.NoError(t, db.WriteAt("m", 1, map[string]string{"k": "v"}, 1))

	var buf bytes.Buffer
	_, err := Export(ctx, db, &buf)
	require.NoError(t, err)

	gz, err := gzip.NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	var out bytes.Buffer
	_, err = out.ReadFrom(gz)
	require.NoError(t, err)
	require.JSONEq(t, `{"metric":"m","tags":{"k":"v"},"ts":1,"value":1}`, out.String())
}

func TestImportRejectsBadNames(t *testing.T) {
	ctx := context.Background()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(`{"metric":"bad#name","ts":1,"value":1}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	db := openMem(t)
	_, err = Import(ctx, db, bytes.NewReader(buf.Bytes()))
	require.Error(t, err)
}

func TestExportEmptyDatabase(t *testing.T) {
	ctx := context.Background()
	db := openMem(t)

	var buf bytes.Buffer
	res, err := Export(ctx, db, &buf)
	require.NoError(t, err)
	require.Equal(t, 0, res.Samples)

	dst := openMem(t)
	ires, err := Import(ctx, dst, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 0, ires.Samples)
}
