package geomhelp

import (
	"github.com/go-spatial/geom"
)

// Area of a polygon, holes subtracted.
func Area(p [][][2]float64) float64 {
	if len(p) == 0 {
		return 0.
	}
	interior := .0
	for _, i := range p[1:] {
		interior += Shoelace(i)
	}
	return Shoelace(p[0]) - interior
}

// Sieve drops polygons and holes with an area of at most minArea. Other
// geometries are returned as they are. The result is nil when nothing is
// left.
func Sieve(g geom.Geometry, minArea float64) geom.Geometry {
	switch t := Normalize(g).(type) {
	case geom.Polygon:
		if s := polygonSieve(t, minArea); s != nil {
			return s
		}
		return nil
	case geom.MultiPolygon:
		var kept geom.MultiPolygon
		for _, p := range t {
			if s := polygonSieve(p, minArea); s != nil {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			return nil
		}
		return kept
	}
	return g
}

func polygonSieve(p geom.Polygon, minArea float64) geom.Polygon {
	if Area(p) <= minArea {
		return nil
	}
	if len(p) == 1 {
		return p
	}
	sieved := geom.Polygon{p[0]}
	for _, interior := range p[1:] {
		if Shoelace(interior) > minArea {
			sieved = append(sieved, interior)
		}
	}
	return sieved
}
