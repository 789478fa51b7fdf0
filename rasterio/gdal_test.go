//go:build gdal

package rasterio

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/geopipe/grid"
	"github.com/pdok/geopipe/srs"
)

// writeGeoTIFF writes a 4x3 two band raster in EPSG:3857 with 10 m pixels
// and one overview level.
func writeGeoTIFF(t *testing.T) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "two-bands.tif")
	ds, err := godal.Create(godal.GTiff, file, 2, godal.Float32, 4, 3)
	require.NoError(t, err)
	require.NoError(t, ds.SetGeoTransform([6]float64{1000, 10, 0, 2000, 0, -10}))
	sr, err := godal.NewSpatialRefFromEPSG(3857)
	require.NoError(t, err)
	defer sr.Close()
	require.NoError(t, ds.SetSpatialRef(sr))
	for b, band := range ds.Bands() {
		data := make([]float32, 12)
		for i := range data {
			data[i] = float32(100*(b+1) + i)
		}
		require.NoError(t, band.SetNoData(-1))
		require.NoError(t, band.Write(0, 0, data, 4, 3))
	}
	require.NoError(t, ds.BuildOverviews(godal.Levels(2)))
	require.NoError(t, ds.Close())
	return file
}

func TestGDALOpen(t *testing.T) {
	file := writeGeoTIFF(t)
	tests := []struct {
		opts  Options
		shape []int
		first []float64
	}{
		0: {opts: Options{Driver: "gdal"}, shape: []int{2, 3, 4}, first: []float64{100, 200}},
		1: {opts: Options{Driver: "gdal", Bands: []int{2}}, shape: []int{1, 3, 4}, first: []float64{200}},
		2: {opts: Options{Driver: "gdal", Chunks: map[string]int{"y": 1}}, shape: []int{2, 3, 4}, first: []float64{100, 200}},
		3: {opts: Options{Driver: "gdal", OverviewLevel: 1, Bands: []int{1}}, shape: []int{1, 2, 2}},
	}
	for i, tt := range tests {
		a, err := Open(context.Background(), file, tt.opts)
		require.NoError(t, err, "test %d", i)
		assert.Equal(t, []string{"band", "y", "x"}, a.Dims, "test %d", i)
		assert.Equal(t, tt.shape, a.Shape, "test %d", i)
		assert.Equal(t, srs.WebMercator, a.CRS, "test %d", i)
		assert.True(t, a.HasNodata, "test %d", i)
		assert.Equal(t, -1.0, a.Nodata, "test %d", i)
		for b, v := range tt.first {
			assert.Equal(t, v, a.At(b, 0, 0), "test %d", i)
		}
		bounds, err := a.Bounds()
		require.NoError(t, err, "test %d", i)
		assert.InDeltaSlice(t, []float64{1000, 1970, 1040, 2000}, bounds[:], 1e-9, "test %d", i)
	}
}

func TestGDALOpenFullResolutionValues(t *testing.T) {
	a, err := Open(context.Background(), writeGeoTIFF(t), Options{Driver: "gdal", Bands: []int{1}})
	require.NoError(t, err)
	assert.Equal(t, grid.GeoTransform{1000, 10, 0, 2000, 0, -10}, a.Transform)
	assert.Equal(t, []float64{1005, 1015, 1025, 1035}, a.Coords["x"].Values)
	assert.Equal(t, []float64{1995, 1985, 1975}, a.Coords["y"].Values)
	assert.Equal(t, 111.0, a.At(0, 2, 3))
}

func TestGDALOpenErrors(t *testing.T) {
	file := writeGeoTIFF(t)
	tests := []Options{
		0: {Driver: "gdal", Bands: []int{3}},
		1: {Driver: "gdal", OverviewLevel: 2},
	}
	for i, opts := range tests {
		_, err := Open(context.Background(), file, opts)
		assert.Error(t, err, "test %d", i)
	}
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "missing.tif"), Options{Driver: "gdal"})
	assert.Error(t, err)
}

func TestGDALTransformProvider(t *testing.T) {
	fn, ok := gdalProvider(srs.WGS84, srs.WebMercator)
	require.True(t, ok)
	xy := []float64{0, 0, 5, 52}
	require.NoError(t, fn(xy))
	assert.InDelta(t, 0, xy[0], 1e-6)
	assert.InDelta(t, 556597.45, xy[2], 0.01)
	assert.InDelta(t, 6800125.45, xy[3], 0.01)
}

func TestGDALWarp(t *testing.T) {
	a, err := Open(context.Background(), writeGeoTIFF(t), Options{Driver: "gdal"})
	require.NoError(t, err)
	a.Set(-1, 1, 0, 0)
	same, err := grid.SpecOf(a)
	require.NoError(t, err)
	tests := []struct {
		spec   grid.Spec
		method grid.Resampling
		want   []float64
	}{
		0: {spec: same, method: grid.Nearest, want: a.Data},
		1: {spec: same, method: grid.Bilinear, want: a.Data},
		// shifted one pixel east
		2: {
			spec:   grid.Spec{CRS: srs.WebMercator, Bounds: geom.Extent{1010, 1970, 1050, 2000}, ResX: 10, ResY: 10},
			method: grid.Nearest,
			want: []float64{
				101, 102, 103, -9999, 105, 106, 107, -9999, 109, 110, 111, -9999,
				201, 202, 203, -9999, 205, 206, 207, -9999, 209, 210, 211, -9999,
			},
		},
	}
	for i, tt := range tests {
		fill := -9999.
		out, err := grid.Warp(a, tt.spec, tt.method, fill)
		require.NoError(t, err, "test %d", i)
		assert.Equal(t, []int{2, 3, 4}, out.Shape, "test %d", i)
		if i < 2 {
			// the nodata pixel of band 2 is not copied
			want := append([]float64(nil), tt.want...)
			want[12] = fill
			assert.InDeltaSlice(t, want, out.Data, 1e-6, "test %d", i)
			continue
		}
		assert.InDeltaSlice(t, tt.want, out.Data, 1e-9, "test %d", i)
	}

	a.CRS = srs.Undefined
	dst := a.CloneMeta()
	dst.Data = make([]float64, len(a.Data))
	ok, err := gdalWarp(a, dst, grid.Nearest)
	require.NoError(t, err)
	assert.False(t, ok)
}
