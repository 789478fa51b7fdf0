// Package rasterize paints vector collections onto raster grids.
package rasterize

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/pdok/geopipe/grid"
	"github.com/pdok/geopipe/processing"
	"github.com/pdok/geopipe/srs"
)

// Canvas describes a raster to paint on. It holds no data.
type Canvas struct {
	Width, Height int
	// XRange and YRange are the outer pixel edges, min before max.
	XRange, YRange [2]float64
	CRS            srs.CRS
	// XDim and YDim name the dims of the painted array.
	XDim, YDim string
	// SouthUp is set when the first row is the southernmost one.
	SouthUp bool
}

// CanvasOf describes the spatial grid of a.
func CanvasOf(a *grid.Array) (*Canvas, error) {
	x, y, err := a.SpatialDims()
	if err != nil {
		return nil, err
	}
	bounds, err := a.Bounds()
	if err != nil {
		return nil, err
	}
	_, ry, err := a.Resolution()
	if err != nil {
		return nil, err
	}
	return &Canvas{
		Width:   a.Len(x),
		Height:  a.Len(y),
		XRange:  [2]float64{bounds[0], bounds[2]},
		YRange:  [2]float64{bounds[1], bounds[3]},
		CRS:     a.CRS,
		XDim:    x,
		YDim:    y,
		SouthUp: ry > 0,
	}, nil
}

// NewCanvasBuilder yields the canvas of every array.
func NewCanvasBuilder(arrays processing.Pipe[*grid.Array]) processing.Pipe[*Canvas] {
	return processing.Map(arrays, func(_ context.Context, a *grid.Array) (*Canvas, error) {
		return CanvasOf(a)
	})
}

func (c *Canvas) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Newf("canvas of %d x %d pixels", c.Width, c.Height)
	}
	if c.XRange[1] <= c.XRange[0] || c.YRange[1] <= c.YRange[0] {
		return errors.Newf("canvas has empty ranges %v %v", c.XRange, c.YRange)
	}
	return nil
}

func (c *Canvas) Transform() grid.GeoTransform {
	rx := (c.XRange[1] - c.XRange[0]) / float64(c.Width)
	ry := (c.YRange[1] - c.YRange[0]) / float64(c.Height)
	if c.SouthUp {
		return grid.GeoTransform{c.XRange[0], rx, 0, c.YRange[0], 0, ry}
	}
	return grid.GeoTransform{c.XRange[0], rx, 0, c.YRange[1], 0, -ry}
}

// NewArray allocates a (y, x) array on the canvas, filled with fill.
func (c *Canvas) NewArray(fill float64) (*grid.Array, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	x, y := c.XDim, c.YDim
	if x == "" || y == "" {
		x, y = "x", "y"
	}
	a, err := grid.New([]string{y, x}, []int{c.Height, c.Width})
	if err != nil {
		return nil, err
	}
	a.Fill(fill)
	a.CRS = c.CRS
	a.Transform = c.Transform()
	a.Coords[x] = grid.Coord{Values: centres(a.Transform[0], a.Transform[1], c.Width)}
	a.Coords[y] = grid.Coord{Values: centres(a.Transform[3], a.Transform[5], c.Height)}
	return a, nil
}

func centres(origin, res float64, n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = origin + (float64(i)+0.5)*res
	}
	return values
}
