package rasterio

import (
	"context"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/cockroachdb/errors"

	"github.com/pdok/geopipe/capability"
	"github.com/pdok/geopipe/grid"
	"github.com/pdok/geopipe/srs"
)

func init() {
	Register(NetCDF{}, capability.HierarchicalStore)
}

// NetCDF reads one variable of a NetCDF (CDF or HDF5 based) file.
type NetCDF struct{}

func (NetCDF) Name() string {
	return "netcdf"
}

func (NetCDF) Accepts(address string) bool {
	lower := strings.ToLower(strings.SplitN(address, "?", 2)[0])
	for _, ext := range []string{".nc", ".nc4", ".cdf", ".h5", ".hdf5"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func (NetCDF) Open(ctx context.Context, address string, opts Options) (*grid.Array, error) {
	local, cleanup, err := localCopy(ctx, address)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	root, err := netcdf.Open(local)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	group, name, err := walkGroups(root, opts.Variable)
	if err != nil {
		return nil, err
	}
	if name == "" {
		if name, err = firstGridded(group); err != nil {
			return nil, err
		}
	}
	v, err := group.GetVariable(name)
	if err != nil {
		return nil, errors.Wrapf(err, "variable %q", name)
	}
	coords := make(map[string]*api.Variable, len(v.Dimensions))
	for _, dim := range v.Dimensions {
		if c, err := group.GetVariable(dim); err == nil {
			coords[dim] = c
		}
	}
	a, err := arrayFromVariable(name, v, coords)
	if err != nil {
		return nil, err
	}
	if !a.CRS.Defined() {
		a.CRS = crsFromAttributes(root.Attributes())
	}
	if len(opts.Bands) > 0 && a.Axis("band") >= 0 {
		return selectBands(a, opts.Bands)
	}
	return a, nil
}

// walkGroups resolves "group/sub/variable" paths.
func walkGroups(root api.Group, path string) (api.Group, string, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	group := root
	for _, part := range parts[:len(parts)-1] {
		g, err := group.GetGroup(part)
		if err != nil {
			return nil, "", errors.Wrapf(err, "group %q", part)
		}
		group = g
	}
	return group, parts[len(parts)-1], nil
}

func firstGridded(group api.Group) (string, error) {
	for _, name := range group.ListVariables() {
		getter, err := group.GetVarGetter(name)
		if err != nil {
			continue
		}
		dims := getter.Dimensions()
		if len(dims) >= 2 && isSpatial(dims[len(dims)-2], dims[len(dims)-1]) {
			return name, nil
		}
	}
	return "", errors.New("no gridded variable found")
}

func isSpatial(y, x string) bool {
	a := grid.Array{Dims: []string{y, x}}
	_, _, err := a.SpatialDims()
	return err == nil
}

// arrayFromVariable converts a decoded variable and the coordinate variables
// named after its dimensions into an array.
func arrayFromVariable(name string, v *api.Variable, coords map[string]*api.Variable) (*grid.Array, error) {
	data, shape, err := flatten(v.Values)
	if err != nil {
		return nil, errors.Wrapf(err, "variable %q", name)
	}
	if len(shape) != len(v.Dimensions) {
		return nil, errors.Newf("variable %q has %d dimensions but %d-dimensional values", name, len(v.Dimensions), len(shape))
	}
	a, err := grid.New(v.Dimensions, shape)
	if err != nil {
		return nil, err
	}
	a.Name = name
	a.Data = data
	a.DType = goTypeName(v.Values)
	for _, dim := range v.Dimensions {
		c, ok := coords[dim]
		if !ok {
			continue
		}
		values, _, err := flatten(c.Values)
		if err != nil || len(values) != a.Len(dim) {
			continue
		}
		if times, ok := cfTimes(c.Attributes, values); ok {
			a.Coords[dim] = grid.Coord{Times: times}
			continue
		}
		a.Coords[dim] = grid.Coord{Values: values}
	}
	if v.Attributes != nil {
		for _, key := range v.Attributes.Keys() {
			val, _ := v.Attributes.Get(key)
			a.Attrs[key] = val
		}
		for _, key := range []string{"_FillValue", "missing_value"} {
			if f, ok := number(a.Attrs[key]); ok {
				a.Nodata, a.HasNodata = f, true
				break
			}
		}
		a.CRS = crsFromAttributes(v.Attributes)
	}
	if !a.CRS.Defined() {
		if x, _, err := a.SpatialDims(); err == nil && (x == "lon" || x == "longitude") {
			a.CRS = srs.WGS84
		}
	}
	if _, _, err := a.SpatialDims(); err == nil {
		// irregular or missing coordinates leave the transform unset
		_ = a.SetTransformFromCoords()
	}
	return a, nil
}

func crsFromAttributes(attrs api.AttributeMap) srs.CRS {
	if attrs == nil {
		return srs.Undefined
	}
	for _, key := range []string{"crs", "epsg_code", "spatial_ref", "proj:epsg"} {
		val, ok := attrs.Get(key)
		if !ok {
			continue
		}
		if f, ok := number(val); ok {
			return srs.CRS(int(f))
		}
		if s, ok := val.(string); ok {
			if c, err := srs.Parse(s); err == nil {
				return c
			}
		}
	}
	return srs.Undefined
}

var cfUnits = map[string]time.Duration{
	"seconds": time.Second,
	"minutes": time.Minute,
	"hours":   time.Hour,
	"days":    24 * time.Hour,
}

// cfTimes decodes CF convention times like "days since 2000-01-01".
func cfTimes(attrs api.AttributeMap, values []float64) ([]time.Time, bool) {
	if attrs == nil {
		return nil, false
	}
	raw, ok := attrs.Get("units")
	if !ok {
		return nil, false
	}
	units, ok := raw.(string)
	if !ok {
		return nil, false
	}
	unit, since, found := strings.Cut(units, " since ")
	if !found {
		return nil, false
	}
	step, ok := cfUnits[strings.TrimSpace(unit)]
	if !ok {
		return nil, false
	}
	var epoch time.Time
	var err error
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if epoch, err = time.Parse(layout, strings.TrimSpace(since)); err == nil {
			break
		}
	}
	if err != nil {
		return nil, false
	}
	times := make([]time.Time, len(values))
	for i, v := range values {
		times[i] = epoch.Add(time.Duration(v * float64(step))).UTC()
	}
	return times, true
}

// flatten walks nested slices of numbers into row-major data and a shape.
func flatten(values interface{}) ([]float64, []int, error) {
	var shape []int
	rv := reflect.ValueOf(values)
	for t := rv; t.Kind() == reflect.Slice; {
		shape = append(shape, t.Len())
		if t.Len() == 0 {
			break
		}
		t = t.Index(0)
	}
	if len(shape) == 0 {
		f, ok := number(values)
		if !ok {
			return nil, nil, errors.Newf("unsupported value type %T", values)
		}
		return []float64{f}, nil, nil
	}
	size := 1
	for _, n := range shape {
		size *= n
	}
	data := make([]float64, 0, size)
	var walk func(v reflect.Value, depth int) error
	walk = func(v reflect.Value, depth int) error {
		if depth == len(shape) {
			f, ok := number(v.Interface())
			if !ok {
				return errors.Newf("unsupported element type %s", v.Type())
			}
			data = append(data, f)
			return nil
		}
		if v.Kind() != reflect.Slice || v.Len() != shape[depth] {
			return errors.Newf("ragged values at depth %d", depth)
		}
		for i := 0; i < v.Len(); i++ {
			if err := walk(v.Index(i), depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(rv, 0); err != nil {
		return nil, nil, err
	}
	return data, shape, nil
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case []float64:
		if len(n) == 1 {
			return n[0], true
		}
	case []float32:
		if len(n) == 1 {
			return float64(n[0]), true
		}
	case []int16:
		if len(n) == 1 {
			return float64(n[0]), true
		}
	case []int32:
		if len(n) == 1 {
			return float64(n[0]), true
		}
	}
	return math.NaN(), false
}

func goTypeName(values interface{}) string {
	t := reflect.TypeOf(values)
	for t != nil && t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Kind().String()
}

func selectBands(a *grid.Array, bands []int) (*grid.Array, error) {
	axis := a.Axis("band")
	parts := make([]*grid.Array, 0, len(bands))
	for _, b := range bands {
		if b > a.Shape[axis] {
			return nil, errors.Newf("band %d out of range, raster has %d bands", b, a.Shape[axis])
		}
		part, err := a.Isel(map[string]grid.Range{"band": {Start: b - 1, Stop: b}})
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return grid.Concat("band", parts...)
}
