package vectorio

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/geopipe/srs"
)

// writeGeoParquet writes two rows, the second without a height, with geo
// metadata when geo is not empty.
func writeGeoParquet(t *testing.T, geo string) []byte {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "name", Type: arrow.BinaryTypes.String},
		{Name: "height", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "geometry", Type: arrow.BinaryTypes.Binary, Nullable: true},
	}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()

	point, err := wkb.EncodeBytes(geom.Point{500000, 5761038})
	require.NoError(t, err)
	line, err := wkb.EncodeBytes(geom.LineString{{500000, 5761038}, {500100, 5761138}})
	require.NoError(t, err)
	b.Field(0).(*array.StringBuilder).AppendValues([]string{"tower", "cable"}, nil)
	b.Field(1).(*array.Float64Builder).AppendValues([]float64{31.5, 0}, []bool{true, false})
	b.Field(2).(*array.BinaryBuilder).AppendValues([][]byte{point, line}, nil)
	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	fw, err := pqarrow.NewFileWriter(schema, &buf, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	require.NoError(t, err)
	require.NoError(t, fw.Write(rec))
	if geo != "" {
		require.NoError(t, fw.AppendKeyValueMetadata(geoMetadataKey, geo))
	}
	require.NoError(t, fw.Close())
	return buf.Bytes()
}

func TestDecodeGeoParquet(t *testing.T) {
	tests := []struct {
		geo string
		crs srs.CRS
	}{
		0: {geo: `{"version":"1.0.0","primary_column":"geometry","columns":{"geometry":{"encoding":"WKB","crs":{"id":{"authority":"EPSG","code":32631}}}}}`, crs: 32631},
		1: {geo: `{"version":"1.0.0","primary_column":"geometry","columns":{"geometry":{"encoding":"WKB"}}}`, crs: srs.WGS84},
		2: {geo: `{"version":"1.0.0","primary_column":"geometry","columns":{"geometry":{"encoding":"WKB","crs":null}}}`, crs: srs.Undefined},
	}
	for i, tt := range tests {
		c, err := DecodeGeoParquet(context.Background(), writeGeoParquet(t, tt.geo))
		require.NoError(t, err, "test %d", i)
		assert.Equal(t, tt.crs, c.CRS, "test %d", i)
		require.Equal(t, 2, c.Len(), "test %d", i)
		assert.Equal(t, geom.Point{500000, 5761038}, c.Features[0].Geometry, "test %d", i)
		assert.Equal(t, geom.LineString{{500000, 5761038}, {500100, 5761138}}, c.Features[1].Geometry, "test %d", i)
		assert.Equal(t, map[string]any{"name": "tower", "height": 31.5}, c.Features[0].Properties, "test %d", i)
		assert.Equal(t, map[string]any{"name": "cable"}, c.Features[1].Properties, "test %d", i)
	}
}

func TestDecodeGeoParquetErrors(t *testing.T) {
	tests := []string{
		0: "",
		1: `{"version":"1.0.0","primary_column":"geometry","columns":{"geometry":{"encoding":"geoarrow.point"}}}`,
		2: `{"version":"1.0.0","primary_column":"geom","columns":{"geom":{"encoding":"WKB"}}}`,
		3: `{"version":`,
	}
	for i, geo := range tests {
		_, err := DecodeGeoParquet(context.Background(), writeGeoParquet(t, geo))
		assert.Error(t, err, "test %d", i)
	}
	_, err := DecodeGeoParquet(context.Background(), []byte("PAR1 but not really"))
	assert.Error(t, err)
}

func TestReaderGeoParquet(t *testing.T) {
	file := filepath.Join(t.TempDir(), "assets.parquet")
	geo := `{"version":"1.0.0","primary_column":"geometry","columns":{"geometry":{"encoding":"WKB","crs":{"id":{"authority":"EPSG","code":32631}}}}}`
	require.NoError(t, os.WriteFile(file, writeGeoParquet(t, geo), 0o600))

	d, err := resolve(file, "")
	require.NoError(t, err)
	assert.Equal(t, "geoparquet", d.Name())

	c, err := Open(context.Background(), file, Options{TargetCRS: srs.WGS84})
	require.NoError(t, err)
	assert.Equal(t, "assets", c.Name)
	assert.Equal(t, srs.WGS84, c.CRS)
	require.Equal(t, 2, c.Len())
	pt, ok := c.Features[0].Geometry.(geom.Point)
	require.True(t, ok)
	assert.InDelta(t, 3, pt[0], 1e-5)
	assert.InDelta(t, 52, pt[1], 1e-5)
}
