package gpkg

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/gpkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/geopipe/srs"
)

func TestTableSQL(t *testing.T) {
	table := NewTable("chips", gpkg.Polygon, 28992, Column{Name: "source", Type: "TEXT"})
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "chips"("fid" INTEGER PRIMARY KEY, "source" TEXT, "geom" POLYGON);`, table.createSQL())
	assert.Equal(t, `SELECT "fid","source","geom" FROM "chips";`, table.selectSQL())
	assert.Equal(t, `INSERT INTO "chips"("fid","source","geom") VALUES(?,?,?)`, table.insertSQL())
	assert.Equal(t, []string{"fid", "source"}, table.AttributeNames())
	assert.Equal(t, srs.CRS(28992), table.CRS())
}

func TestGeometryTypeFromString(t *testing.T) {
	var tests = []struct {
		name string
		want gpkg.GeometryType
	}{
		0: {name: "point", want: gpkg.Point},
		1: {name: "MULTIPOLYGON", want: gpkg.MultiPolygon},
		2: {name: "curve", want: gpkg.Geometry},
	}
	for k, test := range tests {
		got := geometryTypeFromString(test.name)
		if got != test.want {
			t.Errorf("test: %d, expected: %v \ngot: %v", k, test.want, got)
		}
		if k < 2 {
			assert.Equal(t, test.want, geometryTypeFromString(geometryTypeName(got)))
		}
	}
}

func TestWriteAndReadBack(t *testing.T) {
	ctx := context.Background()
	file := filepath.Join(t.TempDir(), "roundtrip.gpkg")

	target, err := OpenTarget(file, 2)
	require.NoError(t, err)
	table := NewTable("parcels", gpkg.Polygon, 28992, Column{Name: "name", Type: "TEXT"})
	target.Table = table
	require.NoError(t, target.CreateTables([]Table{table}))

	features := make(chan Feature)
	go func() {
		defer close(features)
		for i, name := range []string{"a", "b", "c"} {
			x := float64(i * 10)
			features <- NewRecord(nil, []interface{}{nil, name}, geom.Polygon{{{x, 0}, {x + 5, 0}, {x + 5, 5}, {x, 5}}})
		}
	}()
	require.NoError(t, target.WriteItems(ctx, features))
	require.NoError(t, target.Close())

	source, err := OpenSource(file)
	require.NoError(t, err)
	defer source.Close()
	tables, err := source.GetTableInfo()
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "parcels", tables[0].Name)
	assert.Equal(t, srs.CRS(28992), tables[0].CRS())

	source.Table = tables[0]
	read := make(chan Feature)
	errc := make(chan error, 1)
	go func() { errc <- source.ReadFeatures(ctx, read) }()
	var got []*Record
	for f := range read {
		got = append(got, f.(*Record))
	}
	require.NoError(t, <-errc)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"fid", "name"}, got[1].Names())
	assert.Equal(t, []interface{}{int64(2), "b"}, got[1].Columns())
	assert.NotNil(t, got[1].Geometry())
}
