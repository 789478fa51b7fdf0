package srs

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/proj"
	"github.com/go-spatial/proj/core"
	"github.com/go-spatial/proj/support"
)

// TransformFunc moves interleaved x,y coordinates in place.
type TransformFunc func(xy []float64) error

// Provider returns a TransformFunc between two reference systems, or false
// when it does not know how to.
type Provider func(from, to CRS) (TransformFunc, bool)

type namedProvider struct {
	name     string
	priority int
	provider Provider
}

var (
	providersMu sync.RWMutex
	providers   = []namedProvider{{name: "proj", priority: 0, provider: projProvider}}
)

// RegisterProvider adds a source of transformations. Providers with a higher
// priority are asked first.
func RegisterProvider(name string, priority int, p Provider) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers = append(providers, namedProvider{name: name, priority: priority, provider: p})
	sort.SliceStable(providers, func(i, j int) bool {
		return providers[i].priority > providers[j].priority
	})
}

// Transform moves interleaved x,y coordinates from one reference system to
// another, in place.
func Transform(from, to CRS, xy []float64) error {
	if !from.Defined() || !to.Defined() {
		return errors.Wrapf(ErrUndefinedCRS, "transform from %s to %s", from, to)
	}
	if len(xy)%2 != 0 {
		return errors.Newf("odd number of coordinates: %d", len(xy))
	}
	if from == to || len(xy) == 0 {
		return nil
	}
	f, err := lookup(from, to)
	if err != nil {
		return err
	}
	return f(xy)
}

// Transformer returns the function Transform would use between from and to.
func Transformer(from, to CRS) (TransformFunc, error) {
	if !from.Defined() || !to.Defined() {
		return nil, errors.Wrapf(ErrUndefinedCRS, "transform from %s to %s", from, to)
	}
	if from == to {
		return func([]float64) error { return nil }, nil
	}
	return lookup(from, to)
}

func lookup(from, to CRS) (TransformFunc, error) {
	providersMu.RLock()
	defer providersMu.RUnlock()
	for _, p := range providers {
		if f, ok := p.provider(from, to); ok {
			return f, nil
		}
	}
	return nil, errors.Wrapf(ErrReproject, "no transformation from %s to %s", from, to)
}

// TransformExtent reprojects an extent by densifying its edges with n points
// per edge and taking the bounds of the result.
func TransformExtent(from, to CRS, e geom.Extent, n int) (geom.Extent, error) {
	if from == to && from.Defined() {
		return e, nil
	}
	if n < 2 {
		n = 2
	}
	xy := make([]float64, 0, 8*n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(n-1)
		x := e[0] + t*(e[2]-e[0])
		y := e[1] + t*(e[3]-e[1])
		xy = append(xy, x, e[1], x, e[3], e[0], y, e[2], y)
	}
	if err := Transform(from, to, xy); err != nil {
		return geom.Extent{}, err
	}
	out := geom.Extent{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for i := 0; i < len(xy); i += 2 {
		if math.IsNaN(xy[i]) || math.IsNaN(xy[i+1]) || math.IsInf(xy[i], 0) || math.IsInf(xy[i+1], 0) {
			continue
		}
		out[0] = math.Min(out[0], xy[i])
		out[1] = math.Min(out[1], xy[i+1])
		out[2] = math.Max(out[2], xy[i])
		out[3] = math.Max(out[3], xy[i+1])
	}
	if math.IsInf(out[0], 1) {
		return geom.Extent{}, errors.Wrapf(ErrReproject, "extent %v has no valid corners in %s", e, to)
	}
	return out, nil
}

var projCodes = map[CRS]proj.EPSGCode{
	WebMercator:   proj.EPSG3857,
	WorldMercator: proj.EPSG3395,
	PlateCarree:   proj.EPSG4087,
}

// projection moves coordinates between geographic WGS84 degrees and a
// projected system.
type projection struct {
	forward func(lonlat []float64) ([]float64, error)
	inverse func(xy []float64) ([]float64, error)
}

var (
	projectionsMu sync.Mutex
	projections   = map[CRS]*projection{}
)

// projectionOf returns nil for geographic WGS84 and false when c is not
// known to go-spatial/proj.
func projectionOf(c CRS) (*projection, bool, error) {
	if c == WGS84 {
		return nil, true, nil
	}
	if code, ok := projCodes[c]; ok {
		return &projection{
			forward: func(lonlat []float64) ([]float64, error) { return proj.Convert(code, lonlat) },
			inverse: func(xy []float64) ([]float64, error) { return proj.Inverse(code, xy) },
		}, true, nil
	}
	def, ok := utmDefinition(c)
	if !ok {
		return nil, false, nil
	}
	projectionsMu.Lock()
	defer projectionsMu.Unlock()
	if p, ok := projections[c]; ok {
		return p, true, nil
	}
	ps, err := support.NewProjString(def)
	if err != nil {
		return nil, true, errors.Wrapf(err, "proj string for %s", c)
	}
	_, op, err := core.NewSystem(ps)
	if err != nil {
		return nil, true, errors.Wrapf(err, "proj system for %s", c)
	}
	conv, ok := op.(core.IConvertLPToXY)
	if !ok {
		return nil, true, errors.Newf("%s is not a projection", c)
	}
	p := &projection{
		forward: func(lonlat []float64) ([]float64, error) {
			out := make([]float64, len(lonlat))
			for i := 0; i < len(lonlat); i += 2 {
				xy, err := conv.Forward(&core.CoordLP{Lam: support.DDToR(lonlat[i]), Phi: support.DDToR(lonlat[i+1])})
				if err != nil {
					return nil, err
				}
				out[i], out[i+1] = xy.X, xy.Y
			}
			return out, nil
		},
		inverse: func(xy []float64) ([]float64, error) {
			out := make([]float64, len(xy))
			for i := 0; i < len(xy); i += 2 {
				lp, err := conv.Inverse(&core.CoordXY{X: xy[i], Y: xy[i+1]})
				if err != nil {
					return nil, err
				}
				out[i], out[i+1] = support.RToDD(lp.Lam), support.RToDD(lp.Phi)
			}
			return out, nil
		},
	}
	projections[c] = p
	return p, true, nil
}

// utmDefinition covers WGS 84 / UTM (EPSG:326zz north, 327zz south) and
// ETRS89 / UTM (EPSG:258zz, zones 28 to 38).
func utmDefinition(c CRS) (string, bool) {
	code := c.EPSG()
	switch {
	case code >= 32601 && code <= 32660:
		return fmt.Sprintf("+proj=utm +zone=%d +ellps=WGS84", code-32600), true
	case code >= 32701 && code <= 32760:
		return fmt.Sprintf("+proj=utm +zone=%d +south +ellps=WGS84", code-32700), true
	case code >= 25828 && code <= 25838:
		return fmt.Sprintf("+proj=utm +zone=%d +ellps=GRS80", code-25800), true
	}
	return "", false
}

// projProvider goes through geographic WGS84 using the projections
// go-spatial/proj knows.
func projProvider(from, to CRS) (TransformFunc, bool) {
	src, okFrom, errFrom := projectionOf(from)
	dst, okTo, errTo := projectionOf(to)
	if !okFrom || !okTo {
		return nil, false
	}
	if err := errors.CombineErrors(errFrom, errTo); err != nil {
		return func([]float64) error { return errors.Mark(err, ErrReproject) }, true
	}
	return func(xy []float64) error {
		lonlat := xy
		if src != nil {
			out, err := src.inverse(xy)
			if err != nil {
				return errors.Mark(errors.Wrapf(err, "inverse %s", from), ErrReproject)
			}
			lonlat = out
		}
		if dst != nil {
			out, err := dst.forward(lonlat)
			if err != nil {
				return errors.Mark(errors.Wrapf(err, "convert to %s", to), ErrReproject)
			}
			lonlat = out
		}
		copy(xy, lonlat)
		return nil
	}, true
}
