package stack

import (
	"context"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"

	"github.com/pdok/geopipe/grid"
	"github.com/pdok/geopipe/logging"
	"github.com/pdok/geopipe/processing"
)

type MosaicOptions struct {
	// Dim holds the overlapping tiles.
	Dim string `default:"time" validate:"required"`
	// Nodata marks pixels without data, the nodata value of the array when
	// nil. NaN always counts as nodata.
	Nodata *float64
	// Reverse puts the last tile on top.
	Reverse bool
}

// NewMosaicker composites every array along opts.Dim. Each pixel takes the
// first valid value along the dim, so earlier tiles cover later ones.
func NewMosaicker(arrays processing.Pipe[*grid.Array], opts MosaicOptions) (processing.Pipe[*grid.Array], error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, err
	}
	if err := validate.Struct(opts); err != nil {
		return nil, errors.Wrap(err, "invalid mosaic options")
	}
	return processing.Map(arrays, func(ctx context.Context, a *grid.Array) (*grid.Array, error) {
		out, err := Mosaic(a, opts)
		if err != nil {
			return nil, err
		}
		logging.FromContext(logging.WithStage(ctx, "mosaic")).Debug().Str("dim", opts.Dim).
			Int("tiles", a.Len(opts.Dim)).Msg("mosaicked")
		return out, nil
	}), nil
}

// Mosaic removes dim from a by compositing along it.
func Mosaic(a *grid.Array, opts MosaicOptions) (*grid.Array, error) {
	axis := a.Axis(opts.Dim)
	if axis < 0 {
		return nil, errors.Newf("array %q has no dim %q", a.Name, opts.Dim)
	}
	nodata := math.NaN()
	switch {
	case opts.Nodata != nil:
		nodata = *opts.Nodata
	case a.HasNodata:
		nodata = a.Nodata
	}
	valid := func(v float64) bool {
		return !math.IsNaN(v) && v != nodata
	}

	n := a.Shape[axis]
	outer, inner := 1, 1
	for _, s := range a.Shape[:axis] {
		outer *= s
	}
	for _, s := range a.Shape[axis+1:] {
		inner *= s
	}

	out := a.CloneMeta()
	out.Dims = append(append([]string(nil), a.Dims[:axis]...), a.Dims[axis+1:]...)
	out.Shape = append(append([]int(nil), a.Shape[:axis]...), a.Shape[axis+1:]...)
	delete(out.Coords, opts.Dim)
	out.Nodata, out.HasNodata = nodata, true
	out.Data = make([]float64, outer*inner)
	for i := range out.Data {
		out.Data[i] = nodata
	}

	// paint back to front so the top tile is written last
	for step := 0; step < n; step++ {
		t := n - 1 - step
		if opts.Reverse {
			t = step
		}
		for o := 0; o < outer; o++ {
			src := a.Data[(o*n+t)*inner : (o*n+t+1)*inner]
			dst := out.Data[o*inner : (o+1)*inner]
			for i, v := range src {
				if valid(v) {
					dst[i] = v
				}
			}
		}
	}
	return out, nil
}
