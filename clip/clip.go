// Package clip cuts vector collections to the extent of raster windows.
package clip

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/go-spatial/geom"

	"github.com/pdok/geopipe/geomhelp"
	"github.com/pdok/geopipe/grid"
	"github.com/pdok/geopipe/logging"
	"github.com/pdok/geopipe/processing"
	"github.com/pdok/geopipe/srs"
	"github.com/pdok/geopipe/vector"
)

type Options struct {
	// SubsetOnly keeps intersecting features whole instead of cutting
	// their geometries at the window border.
	SubsetOnly bool
	// MinArea drops clipped polygons and holes of at most this area, in
	// squared units of the window reference system.
	MinArea float64
}

// Clipped is the part of a collection inside a window, in the reference
// system of the window.
type Clipped struct {
	Vector *vector.Collection
	Window *grid.Array
}

// NewClipper yields one Clipped per window. A single collection is used for
// every window; otherwise collections and windows are matched by position.
func NewClipper(vectors processing.Pipe[*vector.Collection], windows processing.Pipe[*grid.Array], opts Options) (processing.Pipe[Clipped], error) {
	if opts.MinArea < 0 {
		return nil, errors.Newf("min area must not be negative, got %v", opts.MinArea)
	}
	pairs, err := processing.Broadcast(windows, vectors)
	if err != nil {
		return nil, err
	}
	c := &clipper{opts: opts}
	return processing.Map(pairs, c.clip), nil
}

type clipper struct {
	opts        Options
	projections vector.Projections
}

func (c *clipper) clip(ctx context.Context, pair processing.Pair[*grid.Array, *vector.Collection]) (Clipped, error) {
	window, collection := pair.First, pair.Second
	if !window.CRS.Defined() {
		return Clipped{}, errors.Wrapf(srs.ErrUndefinedCRS, "window %q", window.Name)
	}
	bounds, err := window.Bounds()
	if err != nil {
		return Clipped{}, err
	}
	local, err := c.projections.Get(collection, window.CRS)
	if err != nil {
		return Clipped{}, err
	}
	out, err := Collection(ctx, local, bounds, c.opts)
	if err != nil {
		return Clipped{}, errors.Wrapf(err, "clipping %q to window %q", collection.Name, window.Name)
	}
	logging.FromContext(logging.WithStage(ctx, "clip")).Debug().Floats64("bounds", bounds[:]).
		Int("features", out.Len()).Int("of", collection.Len()).Msg("clipped")
	return Clipped{Vector: out, Window: window}, nil
}

// Collection returns the features of c intersecting bounds, cut at bounds
// unless opts.SubsetOnly. A polygon whose holes cover the whole window does
// not intersect it.
func Collection(ctx context.Context, c *vector.Collection, bounds geom.Extent, opts Options) (*vector.Collection, error) {
	out := &vector.Collection{Name: c.Name, CRS: c.CRS, Features: make([]vector.Feature, 0)}
	for _, f := range c.Features {
		if f.Geometry == nil {
			continue
		}
		ext, err := geom.NewExtentFromGeometry(geomhelp.Normalize(f.Geometry))
		if err != nil || ext == nil || !overlaps(*ext, bounds) {
			continue
		}
		clipped, err := geomhelp.ClipToExtent(ctx, f.Geometry, bounds)
		if err != nil {
			return nil, errors.Wrapf(err, "feature %v", f.ID)
		}
		if clipped != nil && opts.MinArea > 0 {
			clipped = geomhelp.Sieve(clipped, opts.MinArea)
		}
		if clipped == nil {
			continue
		}
		if !opts.SubsetOnly {
			f.Geometry = clipped
		}
		out.Features = append(out.Features, f)
	}
	return out, nil
}

func overlaps(a, b geom.Extent) bool {
	return a[0] <= b[2] && a[2] >= b[0] && a[1] <= b[3] && a[3] >= b[1]
}
