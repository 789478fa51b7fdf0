// Package transform holds per-array stages that change pixel values or the
// grid an array is on.
package transform

import (
	"context"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/pdok/geopipe/grid"
	"github.com/pdok/geopipe/logging"
	"github.com/pdok/geopipe/processing"
	"github.com/pdok/geopipe/srs"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type ScaleOptions struct {
	Scale  float64 `default:"1"`
	Offset float64
}

// NewScaler maps every valid value v to v*Scale+Offset. Missing values stay
// missing.
func NewScaler(arrays processing.Pipe[*grid.Array], opts ScaleOptions) (processing.Pipe[*grid.Array], error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, err
	}
	return processing.Map(arrays, func(_ context.Context, a *grid.Array) (*grid.Array, error) {
		return Scale(a, opts.Scale, opts.Offset), nil
	}), nil
}

func Scale(a *grid.Array, scale, offset float64) *grid.Array {
	out := a.Clone()
	floats.Scale(scale, out.Data)
	floats.AddConst(offset, out.Data)
	for i, v := range a.Data {
		if a.IsNodata(v) {
			out.Data[i] = v
		}
	}
	out.DType = "float64"
	return out
}

type NormalizeOptions struct {
	// Dim is normalized band by band. Arrays without it are normalized as a
	// whole.
	Dim string `default:"band"`
}

// NewNormalizer rescales every band to zero mean and unit standard
// deviation over its valid values. Missing values become NaN.
func NewNormalizer(arrays processing.Pipe[*grid.Array], opts NormalizeOptions) (processing.Pipe[*grid.Array], error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, err
	}
	return processing.Map(arrays, func(ctx context.Context, a *grid.Array) (*grid.Array, error) {
		out := Normalize(a, opts.Dim)
		logging.FromContext(logging.WithStage(ctx, "normalize")).Debug().Str("array", a.Name).Msg("normalized")
		return out, nil
	}), nil
}

func Normalize(a *grid.Array, dim string) *grid.Array {
	outer, bands, inner := 1, 1, a.Size()
	if axis := a.Axis(dim); axis >= 0 {
		inner = 1
		for _, n := range a.Shape[:axis] {
			outer *= n
		}
		for _, n := range a.Shape[axis+1:] {
			inner *= n
		}
		bands = a.Shape[axis]
	}
	out := a.Clone()
	out.DType = "float64"
	out.HasNodata, out.Nodata = true, math.NaN()

	valid := make([]float64, 0, outer*inner)
	for b := 0; b < bands; b++ {
		valid = valid[:0]
		each(outer, bands, inner, b, func(i int) {
			if v := a.Data[i]; !a.IsNodata(v) {
				valid = append(valid, v)
			}
		})
		mean, std := 0.0, 1.0
		if len(valid) > 0 {
			mean, std = stat.MeanStdDev(valid, nil)
			if len(valid) == 1 || std == 0 || math.IsNaN(std) {
				std = 1
			}
		}
		each(outer, bands, inner, b, func(i int) {
			if a.IsNodata(a.Data[i]) {
				out.Data[i] = math.NaN()
				return
			}
			out.Data[i] = (a.Data[i] - mean) / std
		})
	}
	return out
}

func each(outer, bands, inner, band int, f func(i int)) {
	for o := 0; o < outer; o++ {
		base := (o*bands + band) * inner
		for i := base; i < base+inner; i++ {
			f(i)
		}
	}
}

type ReprojectOptions struct {
	EPSG int `validate:"required,gt=0"`
	// Resolution in target units, one value for square pixels.
	Resolution []float64 `validate:"required,min=1,max=2,dive,gt=0"`
	// Bounds in target units. Empty means the array bounds transformed to
	// the target system.
	Bounds     []float64 `validate:"omitempty,len=4"`
	Resampling string    `default:"nearest" validate:"oneof=nearest bilinear"`
	// FillValue marks target pixels without a source value. Nil means NaN.
	FillValue *float64
}

// NewReprojector warps every array onto a north-up grid in another reference
// system.
func NewReprojector(arrays processing.Pipe[*grid.Array], opts ReprojectOptions) (processing.Pipe[*grid.Array], error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, err
	}
	if err := validate.Struct(opts); err != nil {
		return nil, errors.Wrap(err, "invalid reprojector options")
	}
	method, err := grid.ParseResampling(opts.Resampling)
	if err != nil {
		return nil, err
	}
	fill := math.NaN()
	if opts.FillValue != nil {
		fill = *opts.FillValue
	}
	return processing.Map(arrays, func(ctx context.Context, a *grid.Array) (*grid.Array, error) {
		spec, err := opts.spec(a)
		if err != nil {
			return nil, err
		}
		out, err := grid.Warp(a, spec, method, fill)
		if err != nil {
			return nil, errors.Wrapf(err, "reprojecting %q", a.Name)
		}
		w, h := spec.Size()
		logging.FromContext(logging.WithStage(ctx, "reproject")).Debug().Str("array", a.Name).
			Stringer("from", a.CRS).Stringer("to", spec.CRS).Int("width", w).Int("height", h).Msg("reprojected")
		return out, nil
	}), nil
}

func (o ReprojectOptions) spec(a *grid.Array) (grid.Spec, error) {
	if !a.CRS.Defined() {
		return grid.Spec{}, errors.Wrapf(srs.ErrUndefinedCRS, "array %q", a.Name)
	}
	to := srs.CRS(o.EPSG)
	spec := grid.Spec{CRS: to, ResX: o.Resolution[0], ResY: o.Resolution[len(o.Resolution)-1]}
	if len(o.Bounds) == 4 {
		spec.Bounds = geom.Extent{o.Bounds[0], o.Bounds[1], o.Bounds[2], o.Bounds[3]}
		return spec, nil
	}
	bounds, err := a.Bounds()
	if err != nil {
		return grid.Spec{}, err
	}
	if a.CRS != to {
		if bounds, err = srs.TransformExtent(a.CRS, to, bounds, 21); err != nil {
			return grid.Spec{}, err
		}
	}
	spec.Bounds = bounds
	return spec, nil
}
