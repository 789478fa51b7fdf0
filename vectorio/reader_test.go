package vectorio

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-spatial/geom"
	gogpkg "github.com/go-spatial/geom/encoding/gpkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/geopipe/capability"
	"github.com/pdok/geopipe/pkg/gpkg"
	"github.com/pdok/geopipe/processing"
	"github.com/pdok/geopipe/srs"
)

const parcels = `{
  "type": "FeatureCollection",
  "name": "parcels",
  "features": [
    {"type": "Feature", "id": "a", "properties": {"area": 12.5}, "geometry": {"type": "Point", "coordinates": [5, 52]}},
    {"type": "Feature", "id": 2, "properties": null, "geometry": {"type": "LineString", "coordinates": [[4, 51], [6, 53]]}},
    {"type": "Feature", "properties": {"empty": true}, "geometry": null}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestDecodeGeoJSON(t *testing.T) {
	c, err := DecodeGeoJSON([]byte(parcels))
	require.NoError(t, err)
	assert.Equal(t, "parcels", c.Name)
	assert.Equal(t, srs.WGS84, c.CRS)
	require.Equal(t, 3, c.Len())
	assert.Equal(t, "a", c.Features[0].ID)
	assert.Equal(t, 12.5, c.Features[0].Properties["area"])
	assert.NotNil(t, c.Features[1].Properties)
	assert.Nil(t, c.Features[2].Geometry)

	ext, ok := c.Extent()
	require.True(t, ok)
	assert.Equal(t, geom.Extent{4, 51, 6, 53}, ext)
}

func TestDecodeGeoJSONVariants(t *testing.T) {
	tests := map[int]struct {
		doc     string
		crs     srs.CRS
		n       int
		wantErr bool
	}{
		0: {doc: `{"type": "Feature", "properties": {}, "geometry": {"type": "Point", "coordinates": [1, 2]}}`, crs: srs.WGS84, n: 1},
		1: {doc: `{"type": "Polygon", "coordinates": [[[0, 0], [1, 0], [1, 1], [0, 0]]]}`, crs: srs.WGS84, n: 1},
		2: {doc: `{"type": "FeatureCollection", "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::28992"}}, "features": []}`, crs: 28992},
		3: {doc: `{"features": []}`, wantErr: true},
		4: {doc: `not json`, wantErr: true},
	}
	for i, tt := range tests {
		c, err := DecodeGeoJSON([]byte(tt.doc))
		if tt.wantErr {
			assert.Error(t, err, "test %d", i)
			continue
		}
		require.NoError(t, err, "test %d", i)
		assert.Equal(t, tt.crs, c.CRS, "test %d", i)
		assert.Equal(t, tt.n, c.Len(), "test %d", i)
	}
}

func TestReaderLocalAndReprojected(t *testing.T) {
	p := writeFile(t, "parcels.geojson", parcels)
	reader, err := NewReader(processing.FromSlice(p, p), Options{})
	require.NoError(t, err)
	collections, err := processing.Collect(context.Background(), reader)
	require.NoError(t, err)
	require.Len(t, collections, 2)
	assert.Equal(t, srs.WGS84, collections[1].CRS)

	c, err := Open(context.Background(), p, Options{TargetCRS: srs.WebMercator})
	require.NoError(t, err)
	assert.Equal(t, srs.WebMercator, c.CRS)
	assert.InDelta(t, 556597.45, c.Features[0].Geometry.(geom.Point)[0], 0.01)
}

func TestReaderRemote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/parcels/items" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write([]byte(parcels))
	}))
	defer server.Close()

	c, err := Open(context.Background(), server.URL+"/collections/parcels/items?f=json", Options{HTTPClient: server.Client()})
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())

	_, err = Open(context.Background(), server.URL+"/missing.geojson", Options{HTTPClient: server.Client()})
	assert.Error(t, err)
}

func TestReaderZip(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "bundle.zip")
	f, err := os.Create(archive)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("README.txt")
	require.NoError(t, err)
	_, _ = w.Write([]byte("not vector data"))
	w, err = zw.Create("data/parcels.geojson")
	require.NoError(t, err)
	_, _ = w.Write([]byte(parcels))
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	for _, address := range []string{
		"/vsizip/" + archive + "/data/parcels.geojson",
		"zip://" + archive + "!data/parcels.geojson",
		"zip://" + archive,
	} {
		c, err := Open(context.Background(), address, Options{Driver: "geojson"})
		require.NoError(t, err, address)
		assert.Equal(t, 3, c.Len(), address)
	}

	_, err = Open(context.Background(), "zip://"+archive+"!data/other.geojson", Options{Driver: "geojson"})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReaderGeoPackage(t *testing.T) {
	file := filepath.Join(t.TempDir(), "roads.gpkg")
	target, err := gpkg.OpenTarget(file, 10)
	require.NoError(t, err)
	table := gpkg.NewTable("roads", gogpkg.Linestring, 28992, gpkg.Column{Name: "name", Type: "TEXT"})
	target.Table = table
	require.NoError(t, target.CreateTables([]gpkg.Table{table}))
	features := make(chan gpkg.Feature, 1)
	features <- gpkg.NewRecord(nil, []interface{}{nil, "A1"}, geom.LineString{{0, 0}, {100, 100}})
	close(features)
	require.NoError(t, target.WriteItems(context.Background(), features))
	require.NoError(t, target.Close())

	c, err := Open(context.Background(), file, Options{})
	require.NoError(t, err)
	assert.Equal(t, "roads", c.Name)
	assert.Equal(t, srs.CRS(28992), c.CRS)
	require.Equal(t, 1, c.Len())
	assert.Equal(t, int64(1), c.Features[0].ID)
	assert.Equal(t, "A1", c.Features[0].Properties["name"])

	_, err = Open(context.Background(), file, Options{Layer: "rivers"})
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	d, err := resolve("/data/parcels.GeoJSON", "")
	require.NoError(t, err)
	assert.Equal(t, "geojson", d.Name())

	d, err = resolve("/data/roads.gpkg", "")
	require.NoError(t, err)
	assert.Equal(t, "gpkg", d.Name())

	_, err = resolve("", "shapefile")
	assert.ErrorIs(t, err, capability.ErrUnavailable)

	assert.True(t, capability.Available(capability.Vector))
}
