package geomhelp

import (
	"fmt"

	"github.com/go-spatial/geom"
)

// Normalize dereferences pointer geometries so callers only have to switch
// on value types.
func Normalize(g geom.Geometry) geom.Geometry {
	switch t := g.(type) {
	case *geom.Point:
		return *t
	case *geom.MultiPoint:
		return *t
	case *geom.LineString:
		return *t
	case *geom.MultiLineString:
		return *t
	case *geom.Polygon:
		return *t
	case *geom.MultiPolygon:
		return *t
	case *geom.Collection:
		return *t
	}
	return g
}

// Flatten appends every coordinate of g to xy as interleaved x,y values.
func Flatten(g geom.Geometry, xy []float64) ([]float64, error) {
	switch t := Normalize(g).(type) {
	case nil:
		return xy, nil
	case geom.Point:
		return append(xy, t[0], t[1]), nil
	case geom.MultiPoint:
		return appendPoints(xy, t), nil
	case geom.LineString:
		return appendPoints(xy, t), nil
	case geom.MultiLineString:
		for _, l := range t {
			xy = appendPoints(xy, l)
		}
		return xy, nil
	case geom.Polygon:
		for _, r := range t {
			xy = appendPoints(xy, r)
		}
		return xy, nil
	case geom.MultiPolygon:
		for _, p := range t {
			for _, r := range p {
				xy = appendPoints(xy, r)
			}
		}
		return xy, nil
	case geom.Collection:
		var err error
		for _, member := range t {
			if xy, err = Flatten(member, xy); err != nil {
				return xy, err
			}
		}
		return xy, nil
	default:
		return xy, fmt.Errorf("unsupported geometry type %T", g)
	}
}

// Rebuild returns a copy of g with its coordinates taken from xy, in the
// order Flatten produced them. It returns the unused rest of xy.
func Rebuild(g geom.Geometry, xy []float64) (geom.Geometry, []float64, error) {
	switch t := Normalize(g).(type) {
	case nil:
		return nil, xy, nil
	case geom.Point:
		return geom.Point{xy[0], xy[1]}, xy[2:], nil
	case geom.MultiPoint:
		pts, rest := takePoints(xy, len(t))
		return geom.MultiPoint(pts), rest, nil
	case geom.LineString:
		pts, rest := takePoints(xy, len(t))
		return geom.LineString(pts), rest, nil
	case geom.MultiLineString:
		out := make(geom.MultiLineString, len(t))
		for i, l := range t {
			out[i], xy = takePoints(xy, len(l))
		}
		return out, xy, nil
	case geom.Polygon:
		out := make(geom.Polygon, len(t))
		for i, r := range t {
			out[i], xy = takePoints(xy, len(r))
		}
		return out, xy, nil
	case geom.MultiPolygon:
		out := make(geom.MultiPolygon, len(t))
		for i, p := range t {
			out[i] = make([][][2]float64, len(p))
			for j, r := range p {
				out[i][j], xy = takePoints(xy, len(r))
			}
		}
		return out, xy, nil
	case geom.Collection:
		out := make(geom.Collection, len(t))
		for i, member := range t {
			var err error
			if out[i], xy, err = Rebuild(member, xy); err != nil {
				return nil, xy, err
			}
		}
		return out, xy, nil
	default:
		return nil, xy, fmt.Errorf("unsupported geometry type %T", g)
	}
}

func appendPoints(xy []float64, pts [][2]float64) []float64 {
	for _, p := range pts {
		xy = append(xy, p[0], p[1])
	}
	return xy
}

func takePoints(xy []float64, n int) ([][2]float64, []float64) {
	pts := make([][2]float64, n)
	for i := range pts {
		pts[i] = [2]float64{xy[2*i], xy[2*i+1]}
	}
	return pts, xy[2*n:]
}
