package grid

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/geopipe/srs"
)

// ramp returns a (band, y, x) array with value band*100 + row*10 + col on a
// 10 m grid with its origin at (1000, 2000).
func ramp(t *testing.T, bands, h, w int) *Array {
	t.Helper()
	a, err := New([]string{"band", "y", "x"}, []int{bands, h, w})
	require.NoError(t, err)
	for b := 0; b < bands; b++ {
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				a.Set(float64(b*100+r*10+c), b, r, c)
			}
		}
	}
	a.CRS = 28992
	a.Transform = GeoTransform{1000, 10, 0, 2000, 0, -10}
	require.NoError(t, a.SetSpatialCoords())
	a.Coords["band"] = Coord{Values: make([]float64, bands)}
	return a
}

func TestGeoTransformInvert(t *testing.T) {
	g := GeoTransform{1000, 10, 0, 2000, 0, -10}
	inv, ok := g.Invert()
	require.True(t, ok)
	x, y := g.Apply(3.5, 2.5)
	col, row := inv.Apply(x, y)
	assert.InDelta(t, 3.5, col, 1e-9)
	assert.InDelta(t, 2.5, row, 1e-9)

	_, ok = GeoTransform{}.Invert()
	assert.False(t, ok)
}

func TestNew(t *testing.T) {
	a, err := New([]string{"y", "x"}, []int{2, 3})
	require.NoError(t, err)
	assert.Len(t, a.Data, 6)
	require.NoError(t, a.Validate())

	_, err = New([]string{"y"}, []int{2, 3})
	assert.Error(t, err)
}

func TestAtSet(t *testing.T) {
	a := ramp(t, 2, 3, 4)
	assert.Equal(t, 123.0, a.At(1, 2, 3))
	a.Set(-1, 0, 1, 1)
	assert.Equal(t, -1.0, a.Data[5])
	assert.Panics(t, func() { a.At(0, 3, 0) })
}

func TestIsel(t *testing.T) {
	a := ramp(t, 2, 4, 4)
	sub, err := a.Isel(map[string]Range{"y": {2, 4}, "x": {1, 3}})
	require.NoError(t, err)
	require.NoError(t, sub.Validate())
	assert.Equal(t, []int{2, 2, 2}, sub.Shape)
	assert.Equal(t, []float64{21, 22, 31, 32, 121, 122, 131, 132}, sub.Data)
	assert.Equal(t, []float64{1015, 1025}, sub.Coords["x"].Values)
	assert.Equal(t, []float64{1975, 1965}, sub.Coords["y"].Values)
	assert.Equal(t, GeoTransform{1010, 10, 0, 1980, 0, -10}, sub.Transform)

	// the source is untouched
	assert.Equal(t, []int{2, 4, 4}, a.Shape)

	_, err = a.Isel(map[string]Range{"x": {3, 5}})
	assert.Error(t, err)
	_, err = a.Isel(map[string]Range{"time": {0, 1}})
	assert.Error(t, err)
}

func TestBoundsAndResolution(t *testing.T) {
	a := ramp(t, 1, 4, 6)
	bounds, err := a.Bounds()
	require.NoError(t, err)
	assert.Equal(t, geom.Extent{1000, 1960, 1060, 2000}, bounds)

	rx, ry, err := a.Resolution()
	require.NoError(t, err)
	assert.Equal(t, 10.0, rx)
	assert.Equal(t, -10.0, ry)

	// without a transform the coordinates are used, expanded by half a pixel
	a.Transform = GeoTransform{}
	fromCoords, err := a.Bounds()
	require.NoError(t, err)
	for i := range bounds {
		assert.InDelta(t, bounds[i], fromCoords[i], 1e-9)
	}
	require.NoError(t, a.SetTransformFromCoords())
	assert.Equal(t, GeoTransform{1000, 10, 0, 2000, 0, -10}, a.Transform)
}

func TestOnePixelChipBounds(t *testing.T) {
	a := ramp(t, 1, 4, 4)
	a.Transform = GeoTransform{}
	tests := []struct {
		sel  map[string]Range
		want geom.Extent
	}{
		0: {sel: map[string]Range{"y": {0, 1}, "x": {0, 1}}, want: geom.Extent{1000, 1990, 1010, 2000}},
		1: {sel: map[string]Range{"y": {3, 4}, "x": {1, 3}}, want: geom.Extent{1010, 1960, 1030, 1970}},
		2: {sel: map[string]Range{"y": {1, 3}, "x": {2, 4}}, want: geom.Extent{1020, 1970, 1040, 1990}},
	}
	for i, tt := range tests {
		chip, err := a.Isel(tt.sel)
		require.NoError(t, err, "test %d", i)
		bounds, err := chip.Bounds()
		require.NoError(t, err, "test %d", i)
		assert.InDeltaSlice(t, tt.want[:], bounds[:], 1e-9, "test %d", i)
	}
}

func TestSpatialDims(t *testing.T) {
	a, err := New([]string{"time", "lat", "lon"}, []int{1, 1, 1})
	require.NoError(t, err)
	x, y, err := a.SpatialDims()
	require.NoError(t, err)
	assert.Equal(t, "lon", x)
	assert.Equal(t, "lat", y)

	b, err := New([]string{"band"}, []int{1})
	require.NoError(t, err)
	_, _, err = b.SpatialDims()
	assert.Error(t, err)
}

func TestSpec(t *testing.T) {
	s := Spec{CRS: 28992, Bounds: geom.Extent{0, 0, 100, 50}, ResX: 10, ResY: 10}
	w, h := s.Size()
	assert.Equal(t, 10, w)
	assert.Equal(t, 5, h)
	assert.Equal(t, []float64{45, 35, 25, 15, 5}, s.YCoords())

	a, err := s.NewArray([]string{"band"}, []int{2})
	require.NoError(t, err)
	require.NoError(t, a.Validate())
	assert.Equal(t, []string{"band", "y", "x"}, a.Dims)

	back, err := SpecOf(a)
	require.NoError(t, err)
	assert.Equal(t, s, back)

	assert.Error(t, Spec{Bounds: geom.Extent{0, 0, 1, 1}}.Validate())
}

func TestWarpSameGrid(t *testing.T) {
	a := ramp(t, 2, 3, 3)
	s, err := SpecOf(a)
	require.NoError(t, err)
	for _, method := range []Resampling{Nearest, Bilinear} {
		out, err := Warp(a, s, method, math.NaN())
		require.NoError(t, err)
		assert.InDeltaSlice(t, a.Data, out.Data, 1e-9, string(method))
	}
}

func TestWarpCropAndFill(t *testing.T) {
	a := ramp(t, 1, 3, 3)
	a.HasNodata = true
	a.Nodata = 11
	// one pixel to the east of the source, the rest overlapping
	s := Spec{CRS: a.CRS, Bounds: geom.Extent{1010, 1970, 1040, 2000}, ResX: 10, ResY: 10}
	out, err := Warp(a, s, Nearest, -9999)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, -9999, -9999, 12, -9999, 21, 22, -9999}, out.Data)
	assert.True(t, out.HasNodata)
	assert.Equal(t, -9999.0, out.Nodata)
}

func TestWarpReprojects(t *testing.T) {
	a, err := Spec{CRS: srs.WGS84, Bounds: geom.Extent{0, 0, 2, 2}, ResX: 1, ResY: 1}.NewArray(nil, nil)
	require.NoError(t, err)
	copy(a.Data, []float64{1, 2, 3, 4})

	dst, err := srs.TransformExtent(srs.WGS84, srs.WebMercator, geom.Extent{0, 0, 2, 2}, 5)
	require.NoError(t, err)
	out, err := Warp(a, Spec{CRS: srs.WebMercator, Bounds: dst, ResX: dst[2] / 2, ResY: dst[3] / 2}, Nearest, 0)
	require.NoError(t, err)
	assert.Equal(t, srs.WebMercator, out.CRS)
	assert.Equal(t, []float64{1, 2, 3, 4}, out.Data)

	a.CRS = srs.Undefined
	_, err = Warp(a, Spec{CRS: srs.WebMercator, Bounds: dst, ResX: 1000, ResY: 1000}, Nearest, 0)
	assert.ErrorIs(t, err, srs.ErrUndefinedCRS)
}

func TestRegisteredWarper(t *testing.T) {
	t.Cleanup(func() { RegisterWarper(nil) })
	a := ramp(t, 1, 3, 3)
	s := Spec{CRS: a.CRS, Bounds: geom.Extent{1010, 1970, 1040, 2000}, ResX: 10, ResY: 10}

	var seen Resampling
	RegisterWarper(func(src, dst *Array, method Resampling) (bool, error) {
		seen = method
		assert.Equal(t, a.Transform, src.Transform)
		assert.Equal(t, s.GeoTransform(), dst.Transform)
		assert.Equal(t, -9999.0, dst.Data[0])
		for i := range dst.Data {
			dst.Data[i] = 7
		}
		return true, nil
	})
	out, err := Warp(a, s, Bilinear, -9999)
	require.NoError(t, err)
	assert.Equal(t, Bilinear, seen)
	assert.Equal(t, []float64{7, 7, 7, 7, 7, 7, 7, 7, 7}, out.Data)
	assert.Equal(t, []float64{1015, 1025, 1035}, out.Coords["x"].Values)

	// declined pairs fall back to sampling
	RegisterWarper(func(src, dst *Array, method Resampling) (bool, error) {
		return false, nil
	})
	out, err = Warp(a, s, Nearest, -9999)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, -9999, 11, 12, -9999, 21, 22, -9999}, out.Data)

	RegisterWarper(func(src, dst *Array, method Resampling) (bool, error) {
		return false, errors.New("no memory")
	})
	_, err = Warp(a, s, Nearest, -9999)
	assert.ErrorContains(t, err, "no memory")
}

func TestParseResampling(t *testing.T) {
	r, err := ParseResampling("BILINEAR")
	require.NoError(t, err)
	assert.Equal(t, Bilinear, r)
	r, err = ParseResampling("")
	require.NoError(t, err)
	assert.Equal(t, Nearest, r)
	_, err = ParseResampling("cubic")
	assert.Error(t, err)
}

func TestConcat(t *testing.T) {
	a := ramp(t, 2, 2, 2)
	a.Coords["band"] = Coord{Labels: []string{"red", "green"}}
	b := ramp(t, 1, 2, 2)
	b.Coords["band"] = Coord{Labels: []string{"nir"}}

	out, err := Concat("band", a, b)
	require.NoError(t, err)
	require.NoError(t, out.Validate())
	assert.Equal(t, []int{3, 2, 2}, out.Shape)
	assert.Equal(t, []string{"red", "green", "nir"}, out.Coords["band"].Labels)
	assert.Equal(t, []float64{0, 1, 10, 11, 100, 101, 110, 111, 0, 1, 10, 11}, out.Data)

	// joining along x interleaves rows
	x, err := Concat("x", ramp(t, 1, 2, 1), ramp(t, 1, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 10, 10}, x.Data)

	_, err = Concat("band", a, ramp(t, 1, 3, 2))
	assert.Error(t, err)
}

func TestStack(t *testing.T) {
	a := ramp(t, 1, 2, 2)
	b := ramp(t, 1, 2, 2)
	b.Fill(7)
	out, err := Stack("time", Coord{Labels: []string{"t0", "t1"}}, a, b)
	require.NoError(t, err)
	require.NoError(t, out.Validate())
	assert.Equal(t, []string{"time", "band", "y", "x"}, out.Dims)
	assert.Equal(t, []float64{0, 1, 10, 11, 7, 7, 7, 7}, out.Data)

	_, err = Stack("band", Coord{}, a)
	assert.Error(t, err)
	_, err = Stack("time", Coord{Labels: []string{"only"}}, a, b)
	assert.Error(t, err)
}
