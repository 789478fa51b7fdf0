package rasterio

import (
	"context"
	"io/fs"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/geopipe/capability"
	"github.com/pdok/geopipe/grid"
	"github.com/pdok/geopipe/processing"
	"github.com/pdok/geopipe/srs"
)

// memDriver serves 2x2 single band rasters for addresses starting with mem://
type memDriver struct{}

func (memDriver) Name() string { return "mem" }

func (memDriver) Accepts(address string) bool { return strings.HasPrefix(address, "mem://") }

func (memDriver) Open(_ context.Context, address string, opts Options) (*grid.Array, error) {
	if strings.HasSuffix(address, "missing") {
		return nil, fs.ErrNotExist
	}
	a, err := grid.Spec{CRS: 28992, Bounds: [4]float64{0, 0, 20, 20}, ResX: 10, ResY: 10}.NewArray([]string{"band"}, []int{1})
	if err != nil {
		return nil, err
	}
	copy(a.Data, []float64{1, -1, 3, 4})
	a.Nodata, a.HasNodata = -1, true
	return a, nil
}

func init() {
	Register(memDriver{}, capability.Raster)
}

func TestReaderOneArrayPerAddress(t *testing.T) {
	reader, err := NewReader(processing.FromSlice("mem://a", "mem://b", "mem://c"), Options{})
	require.NoError(t, err)
	arrays, err := processing.Collect(context.Background(), reader)
	require.NoError(t, err)
	require.Len(t, arrays, 3)
	for i, a := range arrays {
		assert.True(t, a.CRS.Defined(), "array %d", i)
		assert.Equal(t, []string{"band", "y", "x"}, a.Dims)
	}
	assert.Equal(t, "mem://b", arrays[1].Source)
}

func TestReaderErrorsKeepTheirCause(t *testing.T) {
	reader, err := NewReader(processing.FromSlice("mem://missing"), Options{})
	require.NoError(t, err)
	_, err = reader.Next(context.Background())
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Contains(t, err.Error(), "mem://missing")
}

func TestReaderMasked(t *testing.T) {
	a, err := Open(context.Background(), "mem://a", Options{Masked: true})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(a.Data[1]))
	assert.True(t, math.IsNaN(a.Nodata))
}

func TestReaderOptions(t *testing.T) {
	_, err := NewReader(processing.FromSlice("mem://a"), Options{Bands: []int{0}})
	assert.Error(t, err)

	_, err = NewReader(processing.FromSlice("mem://a"), Options{Resampling: "cubic"})
	assert.Error(t, err)

	_, err = NewReader(processing.FromSlice("mem://a"), Options{Driver: "nonexistent"})
	assert.True(t, errors.Is(err, capability.ErrUnavailable))

	_, err = NewReader(processing.FromSlice("mem://a"), Options{Driver: "mem"})
	assert.NoError(t, err)
}

func TestDriversOrder(t *testing.T) {
	names := Drivers()
	assert.Contains(t, names, "mem")
	assert.Contains(t, names, "netcdf")
	assert.Contains(t, capability.Providers(capability.HierarchicalStore), "netcdf")
}

type attrs map[string]interface{}

func (a attrs) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	return keys
}

func (a attrs) Get(key string) (interface{}, bool) {
	v, ok := a[key]
	return v, ok
}

func (a attrs) GetType(string) (string, bool) { return "", false }

func (a attrs) GetGoType(string) (string, bool) { return "", false }

func TestArrayFromVariable(t *testing.T) {
	v := &api.Variable{
		Values:     [][][]float32{{{1, 2, 3}, {4, 5, 6}}, {{7, 8, 9}, {10, 11, -999}}},
		Dimensions: []string{"time", "lat", "lon"},
		Attributes: attrs{"_FillValue": []float32{-999}, "units": "K"},
	}
	coords := map[string]*api.Variable{
		"time": {Values: []int32{0, 1}, Dimensions: []string{"time"}, Attributes: attrs{"units": "days since 2020-01-01"}},
		"lat":  {Values: []float64{52.5, 51.5}, Dimensions: []string{"lat"}},
		"lon":  {Values: []float64{4.5, 5.5, 6.5}, Dimensions: []string{"lon"}},
	}
	a, err := arrayFromVariable("temperature", v, coords)
	require.NoError(t, err)
	require.NoError(t, a.Validate())

	assert.Equal(t, []int{2, 2, 3}, a.Shape)
	assert.Equal(t, 11.0, a.At(1, 1, 1))
	assert.True(t, a.HasNodata)
	assert.Equal(t, -999.0, a.Nodata)
	assert.Equal(t, srs.WGS84, a.CRS)
	assert.Equal(t, "float32", a.DType)
	assert.Equal(t, time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), a.Coords["time"].Times[1])
	assert.Equal(t, grid.GeoTransform{4, 1, 0, 53, 0, -1}, a.Transform)

	bounds, err := a.Bounds()
	require.NoError(t, err)
	assert.Equal(t, [4]float64{4, 51, 7, 53}, [4]float64(bounds))
}

func TestArrayFromVariableRejectsRagged(t *testing.T) {
	v := &api.Variable{Values: [][]float64{{1, 2}, {3}}, Dimensions: []string{"y", "x"}}
	_, err := arrayFromVariable("ragged", v, nil)
	assert.Error(t, err)
}

func TestNetCDFAccepts(t *testing.T) {
	assert.True(t, NetCDF{}.Accepts("data/ERA5.NC"))
	assert.True(t, NetCDF{}.Accepts("s2.nc4"))
	assert.False(t, NetCDF{}.Accepts("s2.tif"))
}

func TestCRSFromAttributes(t *testing.T) {
	assert.Equal(t, srs.CRS(32631), crsFromAttributes(attrs{"crs": "EPSG:32631"}))
	assert.Equal(t, srs.CRS(3035), crsFromAttributes(attrs{"epsg_code": int32(3035)}))
	assert.Equal(t, srs.Undefined, crsFromAttributes(attrs{}))
}
