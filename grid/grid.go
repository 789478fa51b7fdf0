// Package grid holds the labeled array passed between raster stages.
package grid

import (
	"fmt"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-spatial/geom"

	"github.com/pdok/geopipe/srs"
)

// GeoTransform maps pixel (col, row) to map coordinates, in GDAL order:
// x0, pixel width, row rotation, y0, column rotation, pixel height.
type GeoTransform [6]float64

func (g GeoTransform) IsZero() bool {
	return g == GeoTransform{}
}

// Apply returns the map coordinate of the (fractional) pixel position.
func (g GeoTransform) Apply(col, row float64) (x, y float64) {
	return g[0] + col*g[1] + row*g[2], g[3] + col*g[4] + row*g[5]
}

// Invert returns the transform from map coordinates to pixel positions.
func (g GeoTransform) Invert() (GeoTransform, bool) {
	det := g[1]*g[5] - g[2]*g[4]
	if det == 0 {
		return GeoTransform{}, false
	}
	inv := GeoTransform{}
	inv[1] = g[5] / det
	inv[2] = -g[2] / det
	inv[4] = -g[4] / det
	inv[5] = g[1] / det
	inv[0] = -g[0]*inv[1] - g[3]*inv[2]
	inv[3] = -g[0]*inv[4] - g[3]*inv[5]
	return inv, true
}

// Shift moves the origin by a number of whole pixels.
func (g GeoTransform) Shift(col, row int) GeoTransform {
	g[0], g[3] = g.Apply(float64(col), float64(row))
	return g
}

// Coord labels the positions along one dimension. Exactly one of its
// slices is used.
type Coord struct {
	Values []float64
	Labels []string
	Times  []time.Time
}

func (c Coord) Len() int {
	switch {
	case c.Times != nil:
		return len(c.Times)
	case c.Labels != nil:
		return len(c.Labels)
	default:
		return len(c.Values)
	}
}

func (c Coord) slice(start, stop int) Coord {
	var out Coord
	if c.Values != nil {
		out.Values = append([]float64(nil), c.Values[start:stop]...)
	}
	if c.Labels != nil {
		out.Labels = append([]string(nil), c.Labels[start:stop]...)
	}
	if c.Times != nil {
		out.Times = append([]time.Time(nil), c.Times[start:stop]...)
	}
	return out
}

// Range selects positions [Start, Stop) along a dimension.
type Range struct {
	Start, Stop int
}

// Array is an n-dimensional array with named dimensions, coordinates and a
// spatial reference. Data is stored row-major, the last dimension varying
// fastest.
type Array struct {
	Name      string
	Dims      []string
	Shape     []int
	Data      []float64
	Coords    map[string]Coord
	CRS       srs.CRS
	Transform GeoTransform
	Nodata    float64
	HasNodata bool
	DType     string
	Attrs     map[string]any
	Source    string
}

// New allocates a zero filled array.
func New(dims []string, shape []int) (*Array, error) {
	if len(dims) != len(shape) {
		return nil, errors.Newf("%d dims for %d axes", len(dims), len(shape))
	}
	size := 1
	for i, n := range shape {
		if n < 0 {
			return nil, errors.Newf("negative length %d for dim %q", n, dims[i])
		}
		size *= n
	}
	return &Array{
		Dims:   append([]string(nil), dims...),
		Shape:  append([]int(nil), shape...),
		Data:   make([]float64, size),
		Coords: make(map[string]Coord),
		DType:  "float64",
		Attrs:  make(map[string]any),
	}, nil
}

// Fill sets every element to v.
func (a *Array) Fill(v float64) {
	for i := range a.Data {
		a.Data[i] = v
	}
}

func (a *Array) Size() int {
	size := 1
	for _, n := range a.Shape {
		size *= n
	}
	return size
}

// Axis returns the position of dim, or -1.
func (a *Array) Axis(dim string) int {
	for i, d := range a.Dims {
		if d == dim {
			return i
		}
	}
	return -1
}

// Len returns the length of dim, 0 when absent.
func (a *Array) Len(dim string) int {
	if i := a.Axis(dim); i >= 0 {
		return a.Shape[i]
	}
	return 0
}

func (a *Array) strides() []int {
	strides := make([]int, len(a.Shape))
	stride := 1
	for i := len(a.Shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= a.Shape[i]
	}
	return strides
}

func (a *Array) offset(idx []int) int {
	if len(idx) != len(a.Shape) {
		panic(fmt.Sprintf("grid: %d indices for %d dims", len(idx), len(a.Shape)))
	}
	off := 0
	stride := 1
	for i := len(a.Shape) - 1; i >= 0; i-- {
		if idx[i] < 0 || idx[i] >= a.Shape[i] {
			panic(fmt.Sprintf("grid: index %d out of range for dim %q of length %d", idx[i], a.Dims[i], a.Shape[i]))
		}
		off += idx[i] * stride
		stride *= a.Shape[i]
	}
	return off
}

func (a *Array) At(idx ...int) float64 {
	return a.Data[a.offset(idx)]
}

func (a *Array) Set(v float64, idx ...int) {
	a.Data[a.offset(idx)] = v
}

// IsNodata reports whether v marks a missing value. NaN always does.
func (a *Array) IsNodata(v float64) bool {
	return math.IsNaN(v) || (a.HasNodata && v == a.Nodata)
}

// Validate checks that shape, data and coordinates agree.
func (a *Array) Validate() error {
	if len(a.Dims) != len(a.Shape) {
		return errors.Newf("array %q has %d dims and %d axes", a.Name, len(a.Dims), len(a.Shape))
	}
	if a.Size() != len(a.Data) {
		return errors.Newf("array %q has shape %v but %d values", a.Name, a.Shape, len(a.Data))
	}
	for dim, c := range a.Coords {
		i := a.Axis(dim)
		if i < 0 {
			return errors.Newf("array %q has coordinates for unknown dim %q", a.Name, dim)
		}
		if c.Len() != a.Shape[i] {
			return errors.Newf("array %q has %d coordinates for dim %q of length %d", a.Name, c.Len(), dim, a.Shape[i])
		}
	}
	return nil
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	c := a.CloneMeta()
	c.Data = append([]float64(nil), a.Data...)
	return c
}

// CloneMeta returns a deep copy of everything but the data.
func (a *Array) CloneMeta() *Array {
	c := *a
	c.Data = nil
	c.Dims = append([]string(nil), a.Dims...)
	c.Shape = append([]int(nil), a.Shape...)
	c.Coords = make(map[string]Coord, len(a.Coords))
	for dim, coord := range a.Coords {
		c.Coords[dim] = coord.slice(0, coord.Len())
	}
	c.Attrs = make(map[string]any, len(a.Attrs))
	for k, v := range a.Attrs {
		c.Attrs[k] = v
	}
	return &c
}

// Isel returns a copy of the positions selected per dimension. Dimensions
// not named keep their full range.
func (a *Array) Isel(sel map[string]Range) (*Array, error) {
	ranges := make([]Range, len(a.Dims))
	outShape := make([]int, len(a.Dims))
	for i, dim := range a.Dims {
		r, ok := sel[dim]
		if !ok {
			r = Range{Start: 0, Stop: a.Shape[i]}
		}
		if r.Start < 0 || r.Stop > a.Shape[i] || r.Start > r.Stop {
			return nil, errors.Newf("selection [%d, %d) out of range for dim %q of length %d", r.Start, r.Stop, dim, a.Shape[i])
		}
		ranges[i] = r
		outShape[i] = r.Stop - r.Start
	}
	for dim := range sel {
		if a.Axis(dim) < 0 {
			return nil, errors.Newf("array %q has no dim %q", a.Name, dim)
		}
	}

	out := a.CloneMeta()
	out.Shape = outShape
	out.Data = make([]float64, out.Size())
	for dim, coord := range a.Coords {
		r := ranges[a.Axis(dim)]
		out.Coords[dim] = coord.slice(r.Start, r.Stop)
	}

	if out.Size() > 0 {
		srcStrides := a.strides()
		idx := make([]int, len(outShape))
		for o := range out.Data {
			off := 0
			for i := range idx {
				off += (idx[i] + ranges[i].Start) * srcStrides[i]
			}
			out.Data[o] = a.Data[off]
			for i := len(idx) - 1; i >= 0; i-- {
				idx[i]++
				if idx[i] < outShape[i] {
					break
				}
				idx[i] = 0
			}
		}
	}

	if x, y, err := a.SpatialDims(); err == nil {
		t := a.Transform
		// a window one pixel wide keeps its resolution through the transform
		if t.IsZero() && (out.Len(x) < 2 || out.Len(y) < 2) {
			t, _ = a.coordTransform()
		}
		if !t.IsZero() {
			out.Transform = t.Shift(ranges[a.Axis(x)].Start, ranges[a.Axis(y)].Start)
		}
	}
	return out, nil
}

var (
	xNames = []string{"x", "lon", "longitude"}
	yNames = []string{"y", "lat", "latitude"}
)

// SpatialDims returns the names of the horizontal and vertical dimensions.
func (a *Array) SpatialDims() (x, y string, err error) {
	for _, name := range xNames {
		if a.Axis(name) >= 0 {
			x = name
			break
		}
	}
	for _, name := range yNames {
		if a.Axis(name) >= 0 {
			y = name
			break
		}
	}
	if x == "" || y == "" {
		return "", "", errors.Newf("array %q has no spatial dims in %v", a.Name, a.Dims)
	}
	return x, y, nil
}

// Resolution returns the signed pixel size along x and y.
func (a *Array) Resolution() (rx, ry float64, err error) {
	if !a.Transform.IsZero() {
		return a.Transform[1], a.Transform[5], nil
	}
	t, err := a.coordTransform()
	if err != nil {
		return 0, 0, err
	}
	return t[1], t[5], nil
}

// Bounds returns the extent covered by the pixels, edges included.
func (a *Array) Bounds() (geom.Extent, error) {
	x, y, err := a.SpatialDims()
	if err != nil {
		return geom.Extent{}, err
	}
	w, h := a.Len(x), a.Len(y)
	if !a.Transform.IsZero() {
		corners := [][2]float64{{0, 0}, {float64(w), 0}, {0, float64(h)}, {float64(w), float64(h)}}
		e := geom.Extent{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
		for _, c := range corners {
			cx, cy := a.Transform.Apply(c[0], c[1])
			e[0], e[1] = math.Min(e[0], cx), math.Min(e[1], cy)
			e[2], e[3] = math.Max(e[2], cx), math.Max(e[3], cy)
		}
		return e, nil
	}
	rx, ry, err := a.Resolution()
	if err != nil {
		return geom.Extent{}, err
	}
	xs, ys := a.Coords[x].Values, a.Coords[y].Values
	x0, x1 := xs[0]-rx/2, xs[len(xs)-1]+rx/2
	y0, y1 := ys[0]-ry/2, ys[len(ys)-1]+ry/2
	return geom.Extent{math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1)}, nil
}

// SetSpatialCoords fills the x and y coordinates with the pixel centres of
// the transform.
func (a *Array) SetSpatialCoords() error {
	x, y, err := a.SpatialDims()
	if err != nil {
		return err
	}
	if a.Transform.IsZero() {
		return errors.Newf("array %q has no transform", a.Name)
	}
	a.Coords[x] = Coord{Values: centres(a.Transform[0], a.Transform[1], a.Len(x))}
	a.Coords[y] = Coord{Values: centres(a.Transform[3], a.Transform[5], a.Len(y))}
	return nil
}

// SetTransformFromCoords derives the transform from evenly spaced x and y
// coordinates.
func (a *Array) SetTransformFromCoords() error {
	t, err := a.coordTransform()
	if err != nil {
		return err
	}
	a.Transform = t
	return nil
}

func (a *Array) coordTransform() (GeoTransform, error) {
	x, y, err := a.SpatialDims()
	if err != nil {
		return GeoTransform{}, err
	}
	xs, ys := a.Coords[x].Values, a.Coords[y].Values
	if len(xs) < 2 || len(ys) < 2 {
		return GeoTransform{}, errors.Newf("array %q needs a transform or two coordinates per spatial dim", a.Name)
	}
	rx, ry := xs[1]-xs[0], ys[1]-ys[0]
	return GeoTransform{xs[0] - rx/2, rx, 0, ys[0] - ry/2, 0, ry}, nil
}

func centres(origin, res float64, n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = origin + (float64(i)+0.5)*res
	}
	return values
}
