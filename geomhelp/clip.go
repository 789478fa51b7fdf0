package geomhelp

import (
	"context"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/planar/clip"
	"github.com/go-spatial/geom/planar/makevalid"
)

// ClipToExtent returns the part of g inside e, boundary included, or nil when
// nothing is left. Polygons are rebuilt by makevalid against e, so holes are
// kept and a window inside a hole leaves nothing.
//
//nolint:cyclop
func ClipToExtent(ctx context.Context, g geom.Geometry, e geom.Extent) (geom.Geometry, error) {
	box := &e
	switch t := Normalize(g).(type) {
	case geom.Point:
		if box.ContainsPoint(t) {
			return t, nil
		}
	case geom.MultiPoint:
		pts, err := clip.MultiPointer(ctx, t, box)
		if err != nil || len(pts) == 0 {
			return nil, err
		}
		return pts, nil
	case geom.LineString:
		if len(t) < 2 {
			return nil, nil
		}
		parts, err := clip.LineStringer(ctx, t, box)
		if err != nil {
			return nil, err
		}
		return lines(parts), nil
	case geom.MultiLineString:
		var kept geom.MultiLineString
		for _, l := range t {
			if len(l) >= 2 {
				kept = append(kept, l)
			}
		}
		parts, err := clip.MultiLineStringer(ctx, kept, box)
		if err != nil {
			return nil, err
		}
		return lines(parts), nil
	case geom.Polygon:
		return polygons(ctx, geom.MultiPolygon{t}, box)
	case geom.MultiPolygon:
		return polygons(ctx, t, box)
	case geom.Collection:
		var parts geom.Collection
		for _, member := range t {
			c, err := ClipToExtent(ctx, member, e)
			if err != nil {
				return nil, err
			}
			if c != nil {
				parts = append(parts, c)
			}
		}
		if len(parts) > 0 {
			return parts, nil
		}
	}
	return nil, nil
}

func lines(parts geom.MultiLineString) geom.Geometry {
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return geom.LineString(parts[0])
	}
	return parts
}

// polygons gives a Polygon when one part is left and a MultiPolygon when
// more are.
func polygons(ctx context.Context, mp geom.MultiPolygon, box *geom.Extent) (geom.Geometry, error) {
	var rings geom.MultiPolygon
	for _, p := range mp {
		var open geom.Polygon
		for i, r := range p {
			if n := len(r); n > 1 && r[0] == r[n-1] {
				r = r[:n-1]
			}
			if len(r) < 3 {
				if i == 0 {
					break
				}
				continue
			}
			open = append(open, r)
		}
		if len(open) > 0 {
			rings = append(rings, open)
		}
	}
	if len(rings) == 0 {
		return nil, nil
	}
	ext, err := geom.NewExtentFromGeometry(rings)
	if err != nil {
		return nil, err
	}
	if ext.MinX() > box.MaxX() || ext.MaxX() < box.MinX() || ext.MinY() > box.MaxY() || ext.MaxY() < box.MinY() {
		return nil, nil
	}
	mv := &makevalid.Makevalid{Clipper: clip.Default}
	out, _, err := mv.Makevalid(ctx, rings, box)
	if err != nil {
		return nil, err
	}
	valid, ok := out.(*geom.MultiPolygon)
	if !ok || valid == nil || len(*valid) == 0 {
		return nil, nil
	}
	if len(*valid) == 1 {
		return geom.Polygon((*valid)[0]), nil
	}
	return *valid, nil
}
