// Package stack combines arrays: items into a time series and overlapping
// tiles into a mosaic.
package stack

import (
	"context"
	"io"
	"math"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"

	"github.com/pdok/geopipe/grid"
	"github.com/pdok/geopipe/logging"
	"github.com/pdok/geopipe/processing"
	"github.com/pdok/geopipe/rasterio"
	"github.com/pdok/geopipe/srs"
	"github.com/pdok/geopipe/stac"
)

var (
	ErrIncompatibleItems = errors.New("items do not share a grid")

	validate = validator.New(validator.WithRequiredStructEnabled())
)

// Opener reads the raster an asset href points at.
type Opener func(ctx context.Context, href string, opts rasterio.Options) (*grid.Array, error)

type StackOptions struct {
	// EPSG of the output grid, derived from proj:epsg when zero.
	EPSG int `validate:"gte=0"`
	// Resolution as one value or (x, y), derived from proj:transform when empty.
	Resolution []float64 `validate:"omitempty,min=1,max=2,dive,gt=0"`
	// Bounds (minx, miny, maxx, maxy) in the output reference system. The
	// union of the item bounds when empty.
	Bounds []float64 `validate:"omitempty,len=4"`
	// Assets to read as bands, the data assets of the first item when empty.
	Assets     []string
	DType      string          `default:"float64" validate:"oneof=float64 float32 int32 int16 uint16 uint8"`
	Resampling grid.Resampling `default:"nearest" validate:"oneof=nearest bilinear"`
	// FillValue for pixels without data, NaN when nil.
	FillValue *float64
	Raster    rasterio.Options
	Opener    Opener `validate:"-"`
}

// NewStacker returns a pipe that drains all items and yields a single
// (time, band, y, x) array with the items in input order.
func NewStacker(items processing.Pipe[*stac.Item], opts StackOptions) (processing.Pipe[*grid.Array], error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, err
	}
	if err := validate.Struct(opts); err != nil {
		return nil, errors.Wrap(err, "invalid stacker options")
	}
	if opts.FillValue == nil {
		nan := math.NaN()
		opts.FillValue = &nan
	}
	if isInteger(opts.DType) && math.IsNaN(*opts.FillValue) {
		return nil, errors.Newf("dtype %s needs a fill value", opts.DType)
	}
	if opts.Opener == nil {
		opts.Opener = rasterio.Open
	}
	return &barrier{build: func(ctx context.Context) (*grid.Array, error) {
		all, err := processing.Collect(ctx, items)
		if err != nil {
			return nil, err
		}
		return Stack(ctx, all, opts)
	}}, nil
}

// barrier yields the result of build once.
type barrier struct {
	build func(context.Context) (*grid.Array, error)
	done  bool
}

func (b *barrier) Next(ctx context.Context) (*grid.Array, error) {
	if b.done {
		return nil, io.EOF
	}
	b.done = true
	return b.build(ctx)
}

func (b *barrier) Len() int {
	return 1
}

// Stack reads the assets of every item onto a common grid.
func Stack(ctx context.Context, items []*stac.Item, opts StackOptions) (*grid.Array, error) {
	if len(items) == 0 {
		return nil, errors.New("no items to stack")
	}
	keys := opts.Assets
	if len(keys) == 0 {
		keys = stac.DataAssets(items[0])
	}
	if len(keys) == 0 {
		return nil, errors.Newf("item %q has no assets", items[0].ID)
	}
	for _, item := range items {
		for _, k := range keys {
			if _, ok := item.Assets[k]; !ok {
				return nil, errors.Wrapf(ErrIncompatibleItems, "item %q has no asset %q", item.ID, k)
			}
		}
	}
	spec, err := commonSpec(items, keys, opts)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithStage(ctx, "stack")
	logging.FromContext(ctx).Debug().Int("items", len(items)).Strs("assets", keys).Stringer("crs", spec.CRS).
		Floats64("bounds", spec.Bounds[:]).Msg("stacking")

	cubes := make([]*grid.Array, len(items))
	times := grid.Coord{}
	for i, item := range items {
		if cubes[i], err = readItem(ctx, item, keys, spec, opts); err != nil {
			return nil, err
		}
		if t, err := item.Datetime(); err == nil && len(times.Times) == i {
			times.Times = append(times.Times, t)
		}
	}
	if len(times.Times) != len(items) {
		times = grid.Coord{Labels: make([]string, len(items))}
		for i, item := range items {
			times.Labels[i] = item.ID
		}
	}
	out, err := grid.Stack("time", times, cubes...)
	if err != nil {
		return nil, errors.Wrap(errors.Mark(err, ErrIncompatibleItems), "stacking items")
	}
	out.Name = "stack"
	out.Source = ""
	out.DType = opts.DType
	cast(out, opts.DType)
	return out, nil
}

func readItem(ctx context.Context, item *stac.Item, keys []string, spec grid.Spec, opts StackOptions) (*grid.Array, error) {
	bands := make([]*grid.Array, 0, len(keys))
	for _, k := range keys {
		src, err := opts.Opener(ctx, item.Assets[k].Href, opts.Raster)
		if err != nil {
			return nil, errors.Wrapf(err, "item %q asset %q", item.ID, k)
		}
		if err = item.Projection(k).Apply(src); err != nil {
			return nil, errors.Wrapf(err, "item %q asset %q", item.ID, k)
		}
		if !src.CRS.Defined() {
			return nil, errors.Wrapf(srs.ErrUndefinedCRS, "item %q asset %q", item.ID, k)
		}
		if src.Axis("band") < 0 {
			return nil, errors.Newf("item %q asset %q has no band dim", item.ID, k)
		}
		warped, err := grid.Warp(src, spec, opts.Resampling, *opts.FillValue)
		if err != nil {
			return nil, errors.Wrapf(err, "item %q asset %q", item.ID, k)
		}
		labels := make([]string, warped.Len("band"))
		for b := range labels {
			labels[b] = k
			if len(labels) > 1 {
				labels[b] = k + "_" + strconv.Itoa(b+1)
			}
		}
		warped.Coords["band"] = grid.Coord{Labels: labels}
		bands = append(bands, warped)
	}
	cube, err := grid.Concat("band", bands...)
	if err != nil {
		return nil, errors.Wrapf(err, "item %q", item.ID)
	}
	return cube, nil
}

// commonSpec completes the grid from the options and the projection
// properties of the items.
func commonSpec(items []*stac.Item, keys []string, opts StackOptions) (grid.Spec, error) {
	spec := grid.Spec{CRS: srs.CRS(opts.EPSG)}
	var projections []stac.Projection
	for _, item := range items {
		for _, k := range keys {
			projections = append(projections, item.Projection(k))
		}
	}

	if !spec.CRS.Defined() {
		for _, p := range projections {
			if !p.CRS.Defined() || (spec.CRS.Defined() && p.CRS != spec.CRS) {
				return grid.Spec{}, errors.Wrap(ErrIncompatibleItems, "no common epsg, set one explicitly")
			}
			spec.CRS = p.CRS
		}
	}

	switch len(opts.Resolution) {
	case 1:
		spec.ResX, spec.ResY = opts.Resolution[0], opts.Resolution[0]
	case 2:
		spec.ResX, spec.ResY = opts.Resolution[0], opts.Resolution[1]
	default:
		for _, p := range projections {
			if p.Transform.IsZero() || p.CRS != spec.CRS {
				return grid.Spec{}, errors.Wrap(ErrIncompatibleItems, "no common resolution, set one explicitly")
			}
			rx, ry := math.Abs(p.Transform[1]), math.Abs(p.Transform[5])
			if spec.ResX != 0 && (rx != spec.ResX || ry != spec.ResY) {
				return grid.Spec{}, errors.Wrap(ErrIncompatibleItems, "no common resolution, set one explicitly")
			}
			spec.ResX, spec.ResY = rx, ry
		}
	}

	if len(opts.Bounds) == 4 {
		spec.Bounds = geom.Extent{opts.Bounds[0], opts.Bounds[1], opts.Bounds[2], opts.Bounds[3]}
		return spec, spec.Validate()
	}
	var union *geom.Extent
	for i, p := range projections {
		b, err := itemBounds(items[i/len(keys)], p, spec.CRS)
		if err != nil {
			return grid.Spec{}, err
		}
		if union == nil {
			union = &b
			continue
		}
		union.Add(&b)
	}
	spec.Bounds = *union
	return spec, spec.Validate()
}

func itemBounds(item *stac.Item, p stac.Projection, crs srs.CRS) (geom.Extent, error) {
	if b, ok := p.Bounds(); ok && p.CRS.Defined() {
		return srs.TransformExtent(p.CRS, crs, b, 10)
	}
	if len(item.BBox) >= 4 {
		ll := geom.Extent{item.BBox[0], item.BBox[1], item.BBox[len(item.BBox)/2], item.BBox[len(item.BBox)/2+1]}
		return srs.TransformExtent(srs.WGS84, crs, ll, 10)
	}
	return geom.Extent{}, errors.Wrapf(ErrIncompatibleItems, "item %q has no bounds, set them explicitly", item.ID)
}

func isInteger(dtype string) bool {
	switch dtype {
	case "int32", "int16", "uint16", "uint8":
		return true
	}
	return false
}

// cast rounds and clamps values to what dtype can hold.
func cast(a *grid.Array, dtype string) {
	var lo, hi float64
	switch dtype {
	case "float64":
		return
	case "float32":
		for i, v := range a.Data {
			a.Data[i] = float64(float32(v))
		}
		return
	case "int32":
		lo, hi = math.MinInt32, math.MaxInt32
	case "int16":
		lo, hi = math.MinInt16, math.MaxInt16
	case "uint16":
		lo, hi = 0, math.MaxUint16
	case "uint8":
		lo, hi = 0, math.MaxUint8
	}
	for i, v := range a.Data {
		a.Data[i] = math.Max(lo, math.Min(hi, math.Round(v)))
	}
}
