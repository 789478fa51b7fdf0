// Package geomhelp holds small geometry routines shared by the clipper,
// the rasterizer and the GeoPackage writer.
package geomhelp

import (
	"fmt"
	"math"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/muesli/reflow/truncate"
)

// Shoelace returns the unsigned area of a ring, closed or not.
// https://en.wikipedia.org/wiki/Shoelace_formula
func Shoelace(ring [][2]float64) float64 {
	n := len(ring)
	if n < 3 {
		return 0.
	}
	sum := 0.
	for i := 0; i < n; i++ {
		a, b := ring[(i+n-1)%n], ring[i]
		sum += a[1]*b[0] - a[0]*b[1]
	}
	return math.Abs(sum / 2)
}

// Contains reports whether pt lies inside the polygon rings using the
// even-odd rule. Points on a ring edge count as inside.
func Contains(rings [][][2]float64, pt [2]float64) bool {
	inside := false
	for _, ring := range rings {
		n := len(ring)
		for i := 0; i < n; i++ {
			a, b := ring[(i+n-1)%n], ring[i]
			if onSegment(pt, a, b) {
				return true
			}
			if (a[1] > pt[1]) != (b[1] > pt[1]) &&
				pt[0] < (b[0]-a[0])*(pt[1]-a[1])/(b[1]-a[1])+a[0] {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(pt, a, b [2]float64) bool {
	cross := (b[0]-a[0])*(pt[1]-a[1]) - (b[1]-a[1])*(pt[0]-a[0])
	if math.Abs(cross) > 1e-12 {
		return false
	}
	return pt[0] >= math.Min(a[0], b[0]) && pt[0] <= math.Max(a[0], b[0]) &&
		pt[1] >= math.Min(a[1], b[1]) && pt[1] <= math.Max(a[1], b[1])
}

// ShortWKT renders g for log and error messages, cut to maxLen runes when
// maxLen is not 0. Geometries WKT cannot encode fall back to their Go form.
func ShortWKT(g geom.Geometry, maxLen uint) string {
	s, err := wkt.EncodeString(g)
	if err != nil {
		s = fmt.Sprintf("%T%v", g, g)
	}
	if maxLen == 0 {
		return s
	}
	return truncate.StringWithTail(s, maxLen, "...")
}
