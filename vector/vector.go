// Package vector holds the feature collection passed between vector stages.
package vector

import (
	"github.com/cockroachdb/errors"
	"github.com/go-spatial/geom"

	"github.com/pdok/geopipe/geomhelp"
	"github.com/pdok/geopipe/srs"
)

// Feature is one geometry with its attributes.
type Feature struct {
	ID         any
	Properties map[string]any
	Geometry   geom.Geometry
}

// Collection is a table of features in one reference system. Collections
// handed to several windows are shared and must not be mutated; use Clone,
// Filter or Reproject to derive new ones.
type Collection struct {
	Name     string
	CRS      srs.CRS
	Features []Feature
}

func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Features)
}

// Extent returns the bounds of all geometries, false when there are none.
func (c *Collection) Extent() (geom.Extent, bool) {
	var ext *geom.Extent
	for _, f := range c.Features {
		if f.Geometry == nil {
			continue
		}
		e, err := geom.NewExtentFromGeometry(geomhelp.Normalize(f.Geometry))
		if err != nil || e == nil {
			continue
		}
		if ext == nil {
			ext = e
		} else {
			ext.Add(e)
		}
	}
	if ext == nil {
		return geom.Extent{}, false
	}
	return *ext, true
}

// Clone copies the feature slice. Geometries and properties are shared.
func (c *Collection) Clone() *Collection {
	out := *c
	out.Features = append([]Feature(nil), c.Features...)
	return &out
}

// Filter returns a collection with the features keep returns true for.
func (c *Collection) Filter(keep func(Feature) bool) *Collection {
	out := &Collection{Name: c.Name, CRS: c.CRS, Features: make([]Feature, 0)}
	for _, f := range c.Features {
		if keep(f) {
			out.Features = append(out.Features, f)
		}
	}
	return out
}

// Reproject returns a copy of c with every geometry moved to another
// reference system. It returns c itself when nothing needs to change.
func (c *Collection) Reproject(to srs.CRS) (*Collection, error) {
	if c.CRS == to && to.Defined() {
		return c, nil
	}
	if !c.CRS.Defined() {
		return nil, errors.Wrapf(srs.ErrUndefinedCRS, "collection %q", c.Name)
	}
	if !to.Defined() {
		return nil, errors.Wrap(srs.ErrUndefinedCRS, "reproject target")
	}
	transform, err := srs.Transformer(c.CRS, to)
	if err != nil {
		return nil, err
	}
	out := &Collection{Name: c.Name, CRS: to, Features: make([]Feature, len(c.Features))}
	for i, f := range c.Features {
		xy, err := geomhelp.Flatten(f.Geometry, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "feature %v", f.ID)
		}
		if err = transform(xy); err != nil {
			return nil, errors.Wrapf(err, "feature %v", f.ID)
		}
		g, _, err := geomhelp.Rebuild(f.Geometry, xy)
		if err != nil {
			return nil, errors.Wrapf(err, "feature %v", f.ID)
		}
		f.Geometry = g
		out.Features[i] = f
	}
	return out, nil
}
